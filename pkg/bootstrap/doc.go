/*
Package bootstrap runs the cluster formation protocol for one locality.

The exchange is deliberately minimal, because it runs before anything else in
the runtime exists:

 1. The root locality starts, registers its own runtime component and counts
    itself as the first arrival.
 2. Each subordinate probes the root's parcelport, then sends an
    agas.register parcel carrying its locality ID, handle and endpoint, and
    parks in its boot barrier.
 3. The root inserts each registration into the authoritative table. When
    the expected count is reached, it broadcasts agas.register.ack to every
    subordinate and releases its own barrier.
 4. Each acknowledged subordinate's barrier connects, and the locality is
    ready.

A duplicate locality ID is answered with agas.register.nack, which is fatal
to the offending subordinate's startup. A locality whose barrier outlives the
bootstrap timeout fails startup; formation is all-or-nothing within one
attempt.

After formation the same parcelport carries resolve traffic: subordinates
answer address lookups from their local cache and fall back to
agas.resolve.request parcels against the root.
*/
package bootstrap
