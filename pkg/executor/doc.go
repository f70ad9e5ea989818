// Package executor provides the dedicated I/O execution pool used during
// bootstrap. The boot barrier hands its sends to this pool instead of the
// runtime's cooperative scheduler because the scheduler is not running yet at
// the point the barrier is first used.
package executor
