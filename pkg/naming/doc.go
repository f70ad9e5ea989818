/*
Package naming defines the Global Address, the cluster-wide identifier used by
the Active Global Address Space (AGAS) to name addressable entities.

A GlobalAddress is a small immutable value: pass it by value, transmit it
freely. Equality is structural on (locality, handle); the component type rides
along as dispatch metadata. The 16-byte big-endian encoding is stable, is its
own sort key, and round-trips exactly through Decode.

Addresses become meaningless, but are not invalidated, if the owning locality
leaves the cluster; nothing in this package tracks liveness.
*/
package naming
