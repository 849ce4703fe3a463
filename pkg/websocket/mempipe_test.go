package websocket

import (
	"bytes"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// memPipe is a non-blocking, unbounded-buffer in-memory duplex connection,
// used by the scenario and message-assembly tests to drive a Connection
// without a real socket. net.Pipe's synchronous rendezvous (a Write blocks
// until a matching Read) doesn't fit this package's cooperative,
// non-blocking I/O model (spec section 4.1); this buffers writes instead,
// so a test can write a full scripted request and then call Cycle
// repeatedly, exactly as the real non-blocking ByteStream would see bytes
// arrive from the kernel.
type memPipe struct {
	mu               sync.Mutex
	toServer, toTest bytes.Buffer
	serverClosed     bool
	testClosed       bool
}

func newMemPipe() (server, test *memConn) {
	p := &memPipe{}
	return &memConn{p: p, isServer: true}, &memConn{p: p, isServer: false}
}

// memConn is one end of a memPipe; it implements net.Conn.
type memConn struct {
	p        *memPipe
	isServer bool
}

func (c *memConn) Read(b []byte) (int, error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()

	in, peerClosed := &c.p.toServer, c.p.testClosed
	if !c.isServer {
		in, peerClosed = &c.p.toTest, c.p.serverClosed
	}

	if in.Len() > 0 {
		return in.Read(b)
	}
	if peerClosed {
		return 0, io.EOF
	}
	return 0, os.ErrDeadlineExceeded
}

func (c *memConn) Write(b []byte) (int, error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()

	out := &c.p.toTest
	if !c.isServer {
		out = &c.p.toServer
	}
	return out.Write(b)
}

func (c *memConn) Close() error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if c.isServer {
		c.p.serverClosed = true
	} else {
		c.p.testClosed = true
	}
	return nil
}

func (c *memConn) LocalAddr() net.Addr                { return memAddr("local") }
func (c *memConn) RemoteAddr() net.Addr               { return memAddr("127.0.0.1:0") }
func (c *memConn) SetDeadline(time.Time) error         { return nil }
func (c *memConn) SetReadDeadline(time.Time) error     { return nil }
func (c *memConn) SetWriteDeadline(time.Time) error    { return nil }

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }
