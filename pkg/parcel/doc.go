/*
Package parcel implements the message transport between localities: the
parcel envelope, its wire codec, the TCP parcelport and the connection cache.

The bootstrap subsystem consumes this package at three points:

	Barrier.Apply ──▶ Parcelport.Send ──▶ Cache.Acquire / Release
	inbound frame ──▶ registered Handler ──▶ Router.Register / Barrier.Notify

Frames are a 4-byte big-endian length followed by a msgpack-encoded Parcel.
The envelope is flat on purpose; the bootstrap protocol needs five message
types and nothing here defines an encoding for arbitrary remote-callable
payloads.

Connections are pooled per endpoint and borrowed for exactly one send. A
connection that fails mid-send is discarded, never pooled again.
*/
package parcel
