/*
Package router implements the AGAS router, the mapping between global
addresses and (locality, local handle) pairs.

On the bootstrap root the router is authoritative: registrations land here in
receipt order, duplicates are rejected, and the arrival counter it drives on
the boot barrier decides when the cluster has formed. On hosted subordinates
the router is a cache; misses fall back to a resolve request parcel sent to
the root, blocking the calling context until the reply or the resolve
timeout.

Resolution failures are recoverable by the caller. Registration failures are
not: a duplicate registration is fatal to the offending locality's bootstrap.
*/
package router
