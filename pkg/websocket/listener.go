package websocket

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// deferredSocket is a raw, already-accepted connection whose source IP was
// already occupying the one allowed CONNECTING slot when it arrived.
type deferredSocket struct {
	ip   string
	conn net.Conn
}

// Listener binds one TCP endpoint and hands out Connections one at a time
// per Accept call, enforcing the at-most-one-CONNECTING-per-source-IP rule
// described in spec section 4.4.
//
// The connecting map and deferred queue are fields of Listener, not
// package-level state, so multiple Listeners can run independently in the
// same process.
type Listener struct {
	host   string
	port   int
	bindIP string
	secure bool
	tlsCfg *tls.Config

	allowedSubprotocols []string
	serverName          string
	maxIn, maxOut       uint64

	logger zerolog.Logger

	ln         *net.TCPListener
	connecting map[string]bool
	deferred   []deferredSocket

	observers bus[ServerObserver]
}

// NewListener configures a Listener for host:port. tlsCfg may be nil for a
// plaintext listener. serverName, if non-empty, is sent as the handshake
// response's Server header (spec section 4.3).
func NewListener(host string, port int, tlsCfg *tls.Config, allowedSubprotocols []string, serverName string, maxIn, maxOut uint64, logger zerolog.Logger) *Listener {
	return &Listener{
		host:                host,
		port:                port,
		secure:              tlsCfg != nil,
		tlsCfg:              tlsCfg,
		allowedSubprotocols: allowedSubprotocols,
		serverName:          serverName,
		maxIn:               maxIn,
		maxOut:              maxOut,
		logger:              logger,
		connecting:          make(map[string]bool),
	}
}

func (l *Listener) Subscribe(o ServerObserver)   { l.observers.subscribe(o) }
func (l *Listener) Unsubscribe(o ServerObserver) { l.observers.unsubscribe(o) }

// Open binds the listening socket and notifies ServerObservers.
func (l *Listener) Open() error {
	addr := fmt.Sprintf("%s:%d", l.host, l.port)
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return fmt.Errorf("resolve listen address %q: %w", addr, err)
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("listen on %q: %w", addr, err)
	}
	l.ln = ln

	l.logger.Info().Str("addr", addr).Bool("tls", l.secure).Msg("listener opened")
	for _, o := range l.observers.snapshot() {
		o.OnServerOpened(l)
	}
	return nil
}

// Close shuts down the listening socket and notifies ServerObservers.
func (l *Listener) Close() error {
	if l.ln == nil {
		return nil
	}
	err := l.ln.Close()
	for _, o := range l.observers.snapshot() {
		o.OnServerClosed(l)
	}
	return err
}

// Accept performs one tick of spec section 4.4's admission algorithm: try a
// new raw accept first; if none is available, promote at most one eligible
// entry from the deferred queue. It returns nil if neither produced a
// Connection this tick.
func (l *Listener) Accept() (*Connection, error) {
	raw, ip, err := l.acceptRaw()
	if err != nil {
		return nil, err
	}

	if raw != nil {
		if l.connecting[ip] {
			l.deferred = append(l.deferred, deferredSocket{ip: ip, conn: raw})
			return nil, nil
		}
		l.connecting[ip] = true
		return l.newConnectionFrom(raw, ip)
	}

	for i, d := range l.deferred {
		if l.connecting[d.ip] {
			continue
		}
		l.deferred = append(l.deferred[:i], l.deferred[i+1:]...)
		l.connecting[d.ip] = true
		return l.newConnectionFrom(d.conn, d.ip)
	}

	return nil, nil
}

// acceptRaw does one non-blocking accept attempt on the listening socket.
func (l *Listener) acceptRaw() (net.Conn, string, error) {
	if err := l.ln.SetDeadline(time.Now()); err != nil {
		return nil, "", err
	}

	conn, err := l.ln.AcceptTCP()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, "", nil
		}
		return nil, "", err
	}

	ip := ""
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		ip = addr.IP.String()
	}
	return conn, ip, nil
}

// newConnectionFrom completes (optionally) the TLS handshake and wraps raw
// in a new Connection in StateNew.
func (l *Listener) newConnectionFrom(raw net.Conn, ip string) (*Connection, error) {
	var stream *ByteStream
	if l.secure {
		s, err := acceptTLS(raw, l.tlsCfg)
		if err != nil {
			l.logger.Error().Err(err).Str("remote", ip).Msg("TLS handshake failed")
			delete(l.connecting, ip)
			return nil, nil
		}
		stream = s
	} else {
		stream = newByteStream(raw)
	}

	c := newConnection(stream, l.maxIn, l.maxOut, l.allowedSubprotocols, l.serverName, l.logger)
	c.onLeaveNew = func() {
		delete(l.connecting, ip)
	}

	for _, o := range l.observers.snapshot() {
		o.OnNewConnection(c)
	}
	return c, nil
}
