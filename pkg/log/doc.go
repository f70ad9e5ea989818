// Package log provides structured logging for Meridian using zerolog.
//
// The global logger is initialized once via Init at process start, before the
// bootstrap sequence runs, so every phase of cluster formation logs through
// the same sink. Child loggers carry a component or locality field:
//
//	logger := log.WithComponent("barrier")
//	logger.Info().Msg("waiting for cluster to form")
//
// Output is JSON by default and human-readable console format when
// JSONOutput is disabled.
package log
