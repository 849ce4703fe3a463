package websocket

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// ByteStream is a non-blocking byte-stream abstraction over a TCP (optionally
// TLS) socket, per spec section 4.1. Reads and writes never block: a read
// returns whatever is already available (possibly nothing), and a write may
// be partial, leaving the caller to retry the remainder on a later cycle.
//
// Non-blocking semantics are implemented with an immediately-expired
// deadline rather than raw nonblocking syscalls — see DESIGN.md for why
// nothing in the example corpus offered a ready-made alternative.
type ByteStream struct {
	conn net.Conn
	buf  bytes.Buffer // Bytes read from conn but not yet consumed by ReadLine/Read.
	eof  bool

	bytesIn  uint64
	bytesOut uint64
}

// newByteStream wraps an already-accepted net.Conn.
func newByteStream(conn net.Conn) *ByteStream {
	return &ByteStream{conn: conn}
}

// acceptTLS completes a TLS server handshake over conn. On failure the raw
// socket is closed and no ByteStream is returned, per spec section 4.1.
func acceptTLS(conn net.Conn, cfg *tls.Config) (*ByteStream, error) {
	tc := tls.Server(conn, cfg)
	if err := tc.Handshake(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return newByteStream(tc), nil
}

// fill does one non-blocking read from the underlying socket into bs's
// internal buffer, returning how many bytes were newly buffered.
func (bs *ByteStream) fill() (int, error) {
	if bs.eof {
		return 0, nil
	}

	if err := bs.conn.SetReadDeadline(time.Now()); err != nil {
		return 0, err
	}

	var tmp [4096]byte
	n, err := bs.conn.Read(tmp[:])
	if n > 0 {
		bs.buf.Write(tmp[:n])
		bs.bytesIn += uint64(n)
	}

	if err == nil {
		return n, nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	if errors.Is(err, io.EOF) {
		bs.eof = true
		return n, nil
	}
	return n, err
}

// Read returns up to n bytes currently available, without blocking for more
// to arrive. It returns (nil, nil) if nothing is available yet.
func (bs *ByteStream) Read(n int) ([]byte, error) {
	if _, err := bs.fill(); err != nil {
		return nil, err
	}

	if bs.buf.Len() == 0 {
		return nil, nil
	}

	out := make([]byte, n)
	read, _ := bs.buf.Read(out)
	return out[:read], nil
}

// ReadLine returns one line (without the trailing CRLF) if a full line is
// already buffered, or (nil, nil) if not. Used only during the opening
// handshake.
func (bs *ByteStream) ReadLine() ([]byte, error) {
	if _, err := bs.fill(); err != nil {
		return nil, err
	}

	b := bs.buf.Bytes()
	idx := bytes.Index(b, []byte("\r\n"))
	if idx < 0 {
		return nil, nil
	}

	line := make([]byte, idx)
	copy(line, b[:idx])
	bs.buf.Next(idx + 2)
	return line, nil
}

// Write attempts to write p to the socket without blocking. It may return
// fewer bytes than len(p); callers must retry the remainder later.
func (bs *ByteStream) Write(p []byte) (int, error) {
	if err := bs.conn.SetWriteDeadline(time.Now()); err != nil {
		return 0, err
	}

	n, err := bs.conn.Write(p)
	bs.bytesOut += uint64(n)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

// Close shuts down the underlying socket.
func (bs *ByteStream) Close() error {
	return bs.conn.Close()
}

// IsEOF reports whether the peer has closed its write side.
func (bs *ByteStream) IsEOF() bool {
	return bs.eof && bs.buf.Len() == 0
}

// BytesIn returns the total number of bytes read from the socket.
func (bs *ByteStream) BytesIn() uint64 { return bs.bytesIn }

// BytesOut returns the total number of bytes written to the socket.
func (bs *ByteStream) BytesOut() uint64 { return bs.bytesOut }

// RemoteAddr returns the peer's network address.
func (bs *ByteStream) RemoteAddr() net.Addr {
	return bs.conn.RemoteAddr()
}
