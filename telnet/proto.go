// Copyright 2026 The Nyanstream Authors
// SPDX-License-Identifier: Apache-2.0

package telnet

import "github.com/nyanstream/nyanstream/frame"

// Telnet protocol bytes (RFC 854/855) and the option codes the server
// negotiates.
const (
	iac  byte = 255 // interpret as command
	dont byte = 254
	do   byte = 253
	wont byte = 252
	will byte = 251
	sb   byte = 250 // subnegotiation begin
	se   byte = 240 // subnegotiation end

	optEcho  byte = 1  // RFC 857
	optSGA   byte = 3  // suppress go-ahead, RFC 858
	optTType byte = 24 // terminal type, RFC 1091
	optNAWS  byte = 31 // window size, RFC 1073
)

// handshake is sent once on accept: take over echo and go-ahead
// suppression so the client stops local echo, and ask for terminal
// type and window size reports.
var handshake = []byte{
	iac, will, optSGA,
	iac, will, optEcho,
	iac, do, optTType,
	iac, do, optNAWS,
}

// decoder is an incremental parser for the client-to-server telnet
// stream. It consumes bytes one at a time and emits a viewport for
// every complete NAWS subnegotiation. All other commands and
// subnegotiations (terminal type replies, option acknowledgements) are
// recognized and skipped; plain data bytes are discarded — the
// animation stream has no use for client keystrokes.
//
// The parser is a plain state machine so a subnegotiation split across
// reads, or several packed into one read, decode identically.
type decoder struct {
	state   decoderState
	option  byte
	payload []byte
}

type decoderState int

const (
	stateData      decoderState = iota
	stateIAC                    // seen IAC, expecting a command byte
	stateOption                 // seen DO/DONT/WILL/WONT, expecting an option byte
	stateSubOption              // seen IAC SB, expecting the subnegotiated option
	stateSub                    // inside a subnegotiation payload
	stateSubIAC                 // seen IAC inside a subnegotiation
)

// feed consumes one byte. When it completes a NAWS subnegotiation with
// a full four-byte dimension payload, it returns the announced
// viewport and true.
func (d *decoder) feed(b byte) (frame.Viewport, bool) {
	switch d.state {
	case stateData:
		if b == iac {
			d.state = stateIAC
		}

	case stateIAC:
		switch b {
		case do, dont, will, wont:
			d.state = stateOption
		case sb:
			d.state = stateSubOption
			d.payload = d.payload[:0]
		default:
			// IAC IAC (escaped 255 in data) or a bare command
			// such as NOP: nothing to track.
			d.state = stateData
		}

	case stateOption:
		// Option acknowledgements need no reply bookkeeping: the
		// stream is one-way and negotiation failure is not fatal.
		d.state = stateData

	case stateSubOption:
		d.option = b
		d.state = stateSub

	case stateSub:
		if b == iac {
			d.state = stateSubIAC
			return frame.Viewport{}, false
		}
		d.payload = append(d.payload, b)

	case stateSubIAC:
		switch b {
		case se:
			d.state = stateData
			return d.finishSub()
		case iac:
			// Escaped 255 inside the payload.
			d.payload = append(d.payload, iac)
			d.state = stateSub
		default:
			// Malformed subnegotiation; resync on data.
			d.state = stateData
		}
	}
	return frame.Viewport{}, false
}

// finishSub interprets a completed subnegotiation. NAWS carries
// width and height as two big-endian uint16s; zero dimensions (a
// client that does not know its size yet) are left for the caller's
// clamp.
func (d *decoder) finishSub() (frame.Viewport, bool) {
	if d.option != optNAWS || len(d.payload) < 4 {
		return frame.Viewport{}, false
	}
	return frame.Viewport{
		Width:  int(d.payload[0])<<8 | int(d.payload[1]),
		Height: int(d.payload[2])<<8 | int(d.payload[3]),
	}, true
}
