/*
Package barrier implements the boot barrier, the per-process synchronization
gate between "bootstrapping" and "ready".

During cluster formation the runtime's cooperative task scheduler is not
running yet, so the barrier cannot suspend a task the way every other wait in
the runtime does. Wait parks a physical OS thread on a condition variable;
Apply hands its send to a dedicated I/O pool and returns. These are the only
concessions to the bootstrap chicken-and-egg problem, and they are
deliberately confined to this package.

State machine, per locality:

	WAITING ──(notify / expected-th arrival)──▶ CONNECTED

The connected flag is monotonic: exactly one false→true transition per
process lifetime, guarded by one mutex together with the root's arrival
counter. Notify after CONNECTED is a no-op. A wait that outlives the
configured bootstrap timeout fails with ErrBootstrapTimeout, which is fatal
to the locality's startup; cluster formation is all-or-nothing within one
attempt.
*/
package barrier
