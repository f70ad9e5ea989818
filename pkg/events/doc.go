// Package events provides an in-memory broker for bootstrap lifecycle
// events. The bootstrap sequence publishes registration, connection and
// failure events; the metrics collector and the CLI subscribe. Publishing
// never blocks: a subscriber that falls behind misses events rather than
// stalling the handshake.
package events
