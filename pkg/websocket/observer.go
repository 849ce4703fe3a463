package websocket

// ServerObserver reacts to Listener-level lifecycle events, per spec
// section 3's observer registration model.
type ServerObserver interface {
	OnServerOpened(l *Listener)
	OnServerClosed(l *Listener)
	OnNewConnection(c *Connection)
}

// ConnectionObserver reacts to Connection-level lifecycle events.
type ConnectionObserver interface {
	OnHandshakeReceived(c *Connection)
	OnOpen(c *Connection)
	OnMessage(c *Connection, opcode Opcode, payload []byte)
	OnPing(c *Connection)
	OnPong(c *Connection)
	OnClose(c *Connection, code StatusCode, reason string)
}

// bus is a small synchronous pub/sub list. Registration is idempotent by
// identity and dispatch iterates a snapshot, so a handler that (un)subscribes
// re-entrantly during dispatch can't corrupt iteration, per spec section 4.5
// and the re-entrancy note in spec section 9.
type bus[T comparable] struct {
	subscribers []T
}

// subscribe registers o, unless it's already registered.
func (b *bus[T]) subscribe(o T) {
	for _, existing := range b.subscribers {
		if existing == o {
			return
		}
	}
	b.subscribers = append(b.subscribers, o)
}

// unsubscribe removes o, if registered.
func (b *bus[T]) unsubscribe(o T) {
	for i, existing := range b.subscribers {
		if existing == o {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// snapshot returns a copy of the current subscriber list, safe to range over
// while a handler mutates b.
func (b *bus[T]) snapshot() []T {
	out := make([]T, len(b.subscribers))
	copy(out, b.subscribers)
	return out
}
