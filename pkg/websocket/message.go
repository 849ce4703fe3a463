package websocket

import "unicode/utf8"

// feed advances the frame parser with newly-read bytes, dispatching as many
// complete frames as buf contains. Called once per Cycle with whatever the
// ByteStream had available, per spec section 4.2.
//
// It is based on:
//   - Base framing protocol: https://datatracker.ietf.org/doc/html/rfc6455#section-5.2
//   - Fragmentation: https://datatracker.ietf.org/doc/html/rfc6455#section-5.4
//   - Control frames: https://datatracker.ietf.org/doc/html/rfc6455#section-5.5
//   - Data frames: https://datatracker.ietf.org/doc/html/rfc6455#section-5.6
func (c *Connection) feed(buf []byte) {
	for len(buf) > 0 {
		consumed, complete, err := c.curFrame.feed(buf, c.maxIn)
		buf = buf[consumed:]

		if err != nil {
			c.failConnection(StatusMessageTooBig, "frame too large")
			return
		}
		if !complete {
			return
		}

		f := c.curFrame
		c.curFrame = &Frame{}
		c.logger.Trace().Bool("fin", f.Final).Stringer("opcode", f.Opcode).Int("length", len(f.Payload)).Msg("received frame")
		if !c.dispatchFrame(f) {
			return
		}
	}
}

// dispatchFrame handles one complete frame per spec section 4.2's edge
// cases and section 4.3's message assembly / closing handshake rules. It
// returns false if the connection was torn down as a result, so feed
// should stop processing any further buffered bytes.
func (c *Connection) dispatchFrame(f *Frame) bool {
	if code, reason := checkFrameHeader(f, c.msgOpcode, true); reason != "" {
		c.logger.Error().Stringer("code", code).Str("reason", reason).Msg("protocol violation")
		c.failConnection(code, reason)
		return false
	}

	switch {
	case f.Opcode == opcodeClose:
		return c.handlePeerClose(f.Payload)

	// "An endpoint MUST be capable of handling control frames in the
	// middle of a fragmented message."
	case f.Opcode == opcodePing:
		c.sendControlFrame(opcodePong, f.Payload)
		c.dispatchPing()
		return true

	case f.Opcode == opcodePong:
		c.dispatchPong()
		return true

	default:
		return c.assembleDataFrame(f)
	}
}

// assembleDataFrame accumulates one continuation/text/binary frame into the
// in-progress message, delivering it to observers once the FIN bit closes
// it out, per spec section 4.3.
func (c *Connection) assembleDataFrame(f *Frame) bool {
	if f.Opcode != opcodeContinuation {
		c.msgOpcode = f.Opcode
	}
	if len(f.Payload) > 0 {
		c.msgBuffer.Write(f.Payload)
	}

	if !f.Final {
		return true
	}

	opcode := c.msgOpcode
	payload := append([]byte(nil), c.msgBuffer.Bytes()...)
	c.msgBuffer.Reset()
	c.msgOpcode = opcodeContinuation

	// "When an endpoint is to interpret a byte stream as UTF-8 but finds
	// that the byte stream is not, in fact, a valid UTF-8 stream, that
	// endpoint MUST _Fail the WebSocket Connection_."
	if opcode == OpcodeText && !utf8.Valid(payload) {
		c.failConnection(StatusInvalidData, "invalid UTF-8 text")
		return false
	}

	c.dispatchMessage(opcode, payload)
	return true
}

// handlePeerClose implements the closing-handshake branches of spec
// section 4.3's state table for a close frame arriving from the peer.
func (c *Connection) handlePeerClose(payload []byte) bool {
	code, reason := parseClosePayload(payload)

	// An empty close payload carries no status code at all (spec section
	// 6: "empty payload ≡ code 1005"), which is a normal, codeless
	// closure, not a protocol violation. checkClosePayload's on-wire
	// validation only applies to a code that was actually transmitted, so
	// it must not run on this path: 1005 is a reserved, synthetic value
	// that must never be sent back out on the wire either.
	wireCode := StatusCode(0)
	if len(payload) != 0 {
		code, reason = checkClosePayload(code, reason)
		wireCode = code
	}
	c.receivedClose = true

	if !c.sentClose {
		// "If an endpoint receives a Close frame and did not previously
		// send a Close frame, the endpoint MUST send a Close frame in
		// response."
		c.closeCode, c.closeReason = code, reason
		c.sendCloseFrame(wireCode, reason)
		c.shutdown(code, reason)
		return false
	}

	// Both sides have now sent a Close frame: the closing handshake is
	// complete. Emit the earlier-recorded (code, reason) from when we
	// initiated it, per spec section 4.3, not the peer's echoed reply.
	c.shutdown(c.closeCode, c.closeReason)
	return false
}

// failConnection implements spec section 7's protocol-violation /
// resource-exceeded handling: send a close frame with the given code and
// reason, then tear the TCP socket down immediately. There is no grace
// wait here, unlike Disconnect's CLOSING window, because the peer has
// already shown it won't complete a well-behaved closing handshake.
func (c *Connection) failConnection(code StatusCode, reason string) {
	c.closeCode, c.closeReason = code, reason
	if !c.sentClose {
		c.sendCloseFrame(code, reason)
	}
	c.shutdown(code, reason)
}

// failTransport implements spec section 7's transport-failure handling.
func (c *Connection) failTransport() {
	c.shutdown(StatusClosedAbnormally, "")
}

func (c *Connection) sendCloseFrame(code StatusCode, reason string) {
	payload := buildClosePayload(code, reason)
	f := &Frame{Final: true, Opcode: opcodeClose}
	f.SetPayload(payload)
	c.writeAll(f.serialize())
	c.sentClose = true
}

func (c *Connection) sendControlFrame(opcode Opcode, payload []byte) {
	f := &Frame{Final: true, Opcode: opcode}
	f.SetPayload(payload)
	c.writeAll(f.serialize())
}
