package websocket

// CONCURRENCY: this package has no goroutines, channels, or locks. A
// Connection is driven entirely by repeated calls to Cycle from one
// goroutine (spec section 5); every method here is meant to be called from
// that same goroutine, including from inside a ConnectionObserver callback.

import (
	"bytes"
	"net"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
)

// ReadyState is the observable phase of a Connection, per spec section 3.
type ReadyState int

const (
	StateNew ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// closeGrace is the maximum time to wait, after we send our own close
// frame, before forcing the TCP socket shut, per spec section 4.3.
const closeGrace = 5 * time.Second

// Connection is one peer's WebSocket session, per spec section 3.
type Connection struct {
	id     string
	stream *ByteStream
	logger zerolog.Logger

	state ReadyState

	maxIn, maxOut       uint64
	allowedSubprotocols []string
	serverName          string

	// Opening handshake state.
	handshakeStarted bool
	requestLine      requestLine
	headers          header
	cookies          map[string]string
	pendingCookies   []*Cookie
	subprotocol      string
	resource         string

	// Frame parsing state.
	curFrame *Frame

	// Message reassembly.
	msgOpcode Opcode
	msgBuffer bytes.Buffer

	receivedClose  bool
	sentClose      bool
	closeStartedAt time.Time
	closeCode      StatusCode
	closeReason    string
	closeDelivered bool

	lastActivity time.Time // Last time any bytes were read from the peer.

	observers bus[ConnectionObserver]

	// onLeaveNew is invoked exactly once, the moment this Connection leaves
	// StateNew (to either OPEN or CLOSED), so the Listener can free the
	// CONNECTING slot for this peer's source IP (spec section 4.4).
	onLeaveNew func()
	leftNew    bool
}

// newConnection creates a Connection in StateNew, ready to have handshake
// bytes fed into it via Cycle.
func newConnection(stream *ByteStream, maxIn, maxOut uint64, allowed []string, serverName string, logger zerolog.Logger) *Connection {
	return &Connection{
		id:                  shortuuid.New(),
		stream:              stream,
		logger:              logger,
		state:               StateNew,
		maxIn:               maxIn,
		maxOut:              maxOut,
		allowedSubprotocols: allowed,
		serverName:          serverName,
		msgOpcode:           opcodeContinuation,
		curFrame:            &Frame{},
		lastActivity:        time.Now(),
	}
}

// ID returns an opaque, stable handle for this Connection, suitable for use
// as a map key by application code holding a weak reference (spec section 9).
func (c *Connection) ID() string { return c.id }

func (c *Connection) GetReadyState() ReadyState { return c.state }

func (c *Connection) GetHeader(name string) string { return c.headers.get(name) }

func (c *Connection) GetCookie(name string) (string, bool) {
	v, ok := c.cookies[name]
	return v, ok
}

// SetCookie queues a Set-Cookie header for the handshake response. It's a
// no-op once the handshake has completed (spec section 4.3).
func (c *Connection) SetCookie(cookie *Cookie) {
	if c.state != StateNew {
		return
	}
	c.pendingCookies = append(c.pendingCookies, cookie)
}

func (c *Connection) RemoteAddr() net.Addr { return c.stream.RemoteAddr() }

func (c *Connection) Subprotocol() string { return c.subprotocol }

func (c *Connection) Subscribe(o ConnectionObserver)   { c.observers.subscribe(o) }
func (c *Connection) Unsubscribe(o ConnectionObserver) { c.observers.unsubscribe(o) }

func (c *Connection) markLeftNew() {
	if c.leftNew {
		return
	}
	c.leftNew = true
	if c.onLeaveNew != nil {
		c.onLeaveNew()
	}
}

// Cycle advances the Connection by exactly one non-blocking step, per spec
// section 4.3's "cycle contract". It never blocks and is safe to call
// repeatedly even after CLOSED (it's then a no-op).
func (c *Connection) Cycle() {
	if c.state == StateClosed {
		return
	}

	switch c.state {
	case StateNew:
		c.cycleHandshake()
	case StateOpen, StateClosing:
		c.cycleOpen()
	}

	if c.state == StateClosing && !c.closeStartedAt.IsZero() {
		if time.Since(c.closeStartedAt) >= closeGrace {
			c.shutdown(c.closeCode, c.closeReason)
		}
	}
}

func (c *Connection) cycleHandshake() {
	for {
		line, err := c.stream.ReadLine()
		if err != nil {
			c.failTransport()
			return
		}
		if line == nil {
			if c.stream.IsEOF() {
				c.failTransport()
			}
			return
		}

		if !c.handshakeStarted {
			rl, err := parseRequestLine(string(line))
			if err != nil {
				c.rejectHandshake(400, "Bad Request")
				return
			}
			c.requestLine = rl
			c.headers = newHeader()
			c.handshakeStarted = true
			continue
		}

		if len(line) == 0 {
			c.finishHandshakeRequest()
			return
		}

		name, value, err := parseHeaderLine(string(line))
		if err != nil {
			c.rejectHandshake(400, "Bad Request")
			return
		}
		c.headers.set(name, value)
	}
}

func (c *Connection) finishHandshakeRequest() {
	status, reason := validateHandshakeRequest(c.requestLine, c.headers)
	if status != 200 {
		c.rejectHandshake(status, reason)
		return
	}

	c.resource = c.requestLine.resource
	c.cookies = parseCookieHeader(c.headers.get("Cookie"))
	c.subprotocol = selectSubprotocol(c.headers.get("Sec-WebSocket-Protocol"), c.allowedSubprotocols)

	c.dispatchHandshakeReceived()

	accept := computeAccept(c.headers.get("Sec-WebSocket-Key"))
	resp := buildSwitchingProtocolsResponse(accept, c.subprotocol, c.serverName, c.pendingCookies)
	c.writeAll(resp)

	c.state = StateOpen
	c.markLeftNew()
	c.logger.Debug().Str("resource", c.resource).Str("subprotocol", c.subprotocol).Msg("handshake complete")
	c.dispatchOpen()
}

func (c *Connection) rejectHandshake(status int, reason string) {
	c.logger.Error().Int("status", status).Str("reason", reason).Msg("rejecting handshake")
	c.writeAll(buildErrorResponse(status, reason))
	_ = c.stream.Close()
	c.state = StateClosed
	c.closeCode = StatusProtocolError
	c.markLeftNew()
	c.deliverClose(StatusProtocolError, "")
}

// writeAll performs best-effort non-blocking writes of the full buffer.
// It's only used for the handshake response and close frames, which are
// small enough to usually complete in one non-blocking write; any
// unwritten remainder is simply best-effort (spec section 4.1: "callers
// must handle short writes" — for control-sized writes, a stalled peer is
// about to be torn down anyway).
func (c *Connection) writeAll(p []byte) {
	for len(p) > 0 {
		n, err := c.stream.Write(p)
		if err != nil || n == 0 {
			return
		}
		p = p[n:]
	}
}

func (c *Connection) cycleOpen() {
	if c.stream.IsEOF() {
		c.failTransport()
		return
	}

	chunk, err := c.stream.Read(2048)
	if err != nil {
		c.failTransport()
		return
	}
	if len(chunk) == 0 {
		return
	}

	c.lastActivity = time.Now()
	c.feed(chunk)
}

// Idle reports whether no bytes have been read from the peer for at least
// d. The driver's keepalive pass (spec section 5) uses this to decide
// whether to ping or to time the connection out.
func (c *Connection) Idle(d time.Duration) bool {
	return time.Since(c.lastActivity) >= d
}

// shutdown closes the TCP socket, transitions to CLOSED, and delivers the
// close event exactly once (spec section 8 property 5).
func (c *Connection) shutdown(code StatusCode, reason string) {
	_ = c.stream.Close()
	c.state = StateClosed
	c.markLeftNew()
	c.deliverClose(code, reason)
}

func (c *Connection) deliverClose(code StatusCode, reason string) {
	if c.closeDelivered {
		return
	}
	c.closeDelivered = true
	c.logger.Debug().Stringer("code", code).Str("reason", reason).Msg("connection closed")
	c.dispatchClose(code, reason)
}

// Send fragments payload into frames of at most maxOut bytes each, per
// spec section 4.3's "Operations exposed to application".
func (c *Connection) Send(opcode Opcode, payload []byte) {
	if c.state != StateOpen {
		return
	}

	if len(payload) == 0 {
		f := &Frame{Final: true, Opcode: opcode}
		c.writeAll(f.serialize())
		return
	}

	maxOut := c.maxOut
	if maxOut == 0 {
		maxOut = uint64(len(payload))
	}

	for offset := uint64(0); offset < uint64(len(payload)); {
		end := offset + maxOut
		if end > uint64(len(payload)) {
			end = uint64(len(payload))
		}
		chunk := payload[offset:end]

		op := opcode
		if offset > 0 {
			op = opcodeContinuation
		}
		final := end == uint64(len(payload))

		f := &Frame{Final: final, Opcode: op}
		f.SetPayload(chunk)
		c.writeAll(f.serialize())

		offset = end
	}
}

func (c *Connection) Ping() {
	if c.state == StateOpen {
		c.sendControlFrame(opcodePing, nil)
	}
}

func (c *Connection) Pong() {
	if c.state == StateOpen {
		c.sendControlFrame(opcodePong, nil)
	}
}

// Disconnect initiates or continues the closing handshake, per spec
// section 4.3.
func (c *Connection) Disconnect(code StatusCode, reason string) {
	switch {
	case c.state == StateClosed:
		return
	case !c.sentClose && !c.receivedClose:
		c.closeCode, c.closeReason = code, reason
		c.sendCloseFrame(code, reason)
		c.state = StateClosing
		c.closeStartedAt = time.Now()
	case c.receivedClose && !c.sentClose:
		c.sendCloseFrame(code, reason)
		c.shutdown(code, reason)
	case c.sentClose && c.receivedClose:
		c.shutdown(c.closeCode, c.closeReason)
	}
}

// Close is an alias for Disconnect, per spec section 6's external
// interface list.
func (c *Connection) Close(code StatusCode, reason string) {
	c.Disconnect(code, reason)
}

func (c *Connection) dispatchHandshakeReceived() {
	for _, o := range c.observers.snapshot() {
		o.OnHandshakeReceived(c)
	}
}

func (c *Connection) dispatchOpen() {
	for _, o := range c.observers.snapshot() {
		o.OnOpen(c)
	}
}

func (c *Connection) dispatchMessage(opcode Opcode, payload []byte) {
	for _, o := range c.observers.snapshot() {
		o.OnMessage(c, opcode, payload)
	}
}

func (c *Connection) dispatchPing() {
	for _, o := range c.observers.snapshot() {
		o.OnPing(c)
	}
}

func (c *Connection) dispatchPong() {
	for _, o := range c.observers.snapshot() {
		o.OnPong(c)
	}
}

func (c *Connection) dispatchClose(code StatusCode, reason string) {
	for _, o := range c.observers.snapshot() {
		o.OnClose(c, code, reason)
	}
}
