// Package websocket is a server-only implementation of the WebSocket
// protocol (RFC 6455, version 13).
//
// It accepts TCP (optionally TLS) connections, performs the HTTP-compatible
// opening handshake, exchanges framed text/binary messages and control
// frames, and terminates connections cleanly via the closing handshake.
//
// Unlike a typical Go networking package, this one is built around a single
// design constraint: every I/O call is non-blocking, and the whole engine
// is driven cooperatively by repeated calls to [Listener.Accept] and
// [Connection.Cycle] from one goroutine. There are no internal goroutines,
// channels, or locks — see the concurrency note at the top of conn.go.
//
// How does this package optimize for many connections on one goroutine?
//  1. [ByteStream] never blocks: reads/writes use an immediately-expired
//     deadline, so they return whatever the kernel already has buffered.
//  2. [Frame] parsing is incremental: Frame.feed can be called with
//     however many bytes happen to be available and picks up where it
//     left off.
//  3. [Listener] enforces RFC 6455 §4.1's "one handshake per host at a
//     time" rule with an owned per-source-IP map, not global state.
//
// [extensions] and [subprotocols] beyond simple name negotiation are not
// supported.
//
// [extensions]: https://www.iana.org/assignments/websocket/websocket.xhtml#extension-name
// [subprotocols]: https://www.iana.org/assignments/websocket/websocket.xhtml#subprotocol-name
package websocket
