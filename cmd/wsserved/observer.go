package main

import (
	"github.com/rs/zerolog"

	"github.com/wingbeat/wsserver/pkg/websocket"
)

// loggingObserver is the only application logic wsserved adds on top of
// the websocket package: it logs every lifecycle event and keeps the set
// of live connections the driver loop cycles each tick. A real subprotocol
// server (out of scope per spec section 1) would attach its own
// ConnectionObserver instead of, or in addition to, this one.
type loggingObserver struct {
	logger zerolog.Logger
	conns  map[string]*websocket.Connection
}

func (o *loggingObserver) track(c *websocket.Connection) {
	if o.conns == nil {
		o.conns = map[string]*websocket.Connection{}
	}
	o.conns[c.ID()] = c
	c.Subscribe(o)
}

func (o *loggingObserver) untrack(c *websocket.Connection) {
	delete(o.conns, c.ID())
}

// snapshot returns the tracked connections as a slice, safe to range over
// while track/untrack runs from inside a callback (same rationale as the
// package's own observer bus).
func (o *loggingObserver) snapshot() []*websocket.Connection {
	out := make([]*websocket.Connection, 0, len(o.conns))
	for _, c := range o.conns {
		out = append(out, c)
	}
	return out
}

func (o *loggingObserver) OnServerOpened(l *websocket.Listener) {
	o.logger.Info().Msg("server opened")
}

func (o *loggingObserver) OnServerClosed(l *websocket.Listener) {
	o.logger.Info().Msg("server closed")
}

func (o *loggingObserver) OnNewConnection(c *websocket.Connection) {
	o.logger.Info().Str("conn", c.ID()).Stringer("remote", c.RemoteAddr()).Msg("new connection")
}

func (o *loggingObserver) OnHandshakeReceived(c *websocket.Connection) {
	o.logger.Debug().Str("conn", c.ID()).Msg("handshake received")
}

func (o *loggingObserver) OnOpen(c *websocket.Connection) {
	o.logger.Info().Str("conn", c.ID()).Str("subprotocol", c.Subprotocol()).Msg("connection open")
}

func (o *loggingObserver) OnMessage(c *websocket.Connection, opcode websocket.Opcode, payload []byte) {
	o.logger.Debug().Str("conn", c.ID()).Stringer("opcode", opcode).Int("bytes", len(payload)).Msg("message received")
}

func (o *loggingObserver) OnPing(c *websocket.Connection) {
	o.logger.Trace().Str("conn", c.ID()).Msg("ping received")
}

func (o *loggingObserver) OnPong(c *websocket.Connection) {
	o.logger.Trace().Str("conn", c.ID()).Msg("pong received")
}

func (o *loggingObserver) OnClose(c *websocket.Connection, code websocket.StatusCode, reason string) {
	o.logger.Info().Str("conn", c.ID()).Stringer("code", code).Str("reason", reason).Msg("connection closed")
	o.untrack(c)
}
