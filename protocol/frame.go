// File: protocol/frame.go
// License: Apache-2.0
//
// Frame model, factories and classifiers.

package protocol

import (
	"encoding/binary"
	"unicode/utf8"
)

// Frame is one RFC 6455 frame with its payload already unmasked.
type Frame struct {
	Fin        bool
	Rsv        byte // RSV1-3 in the low three bits, always zero without extensions
	Opcode     Opcode
	Masked     bool
	PayloadLen uint64
	MaskKey    [4]byte
	Payload    []byte
}

func newFrame(op Opcode, payload []byte) *Frame {
	return &Frame{Fin: true, Opcode: op, PayloadLen: uint64(len(payload)), Payload: payload}
}

// Text builds a final text frame.
func Text(s string) *Frame { return newFrame(OpcodeText, []byte(s)) }

// Binary builds a final binary frame.
func Binary(p []byte) *Frame { return newFrame(OpcodeBinary, p) }

// Ping builds a ping. Payloads longer than a control frame allows are cut.
func Ping(p []byte) *Frame { return newFrame(OpcodePing, clampControl(p)) }

// Pong builds a pong. Payloads longer than a control frame allows are cut.
func Pong(p []byte) *Frame { return newFrame(OpcodePong, clampControl(p)) }

// Close builds a close frame carrying code and reason. The reason is cut on
// a rune boundary to keep the payload within 125 bytes.
func Close(code uint16, reason string) *Frame {
	limit := MaxControlPayloadLen - 2
	if len(reason) > limit {
		for limit > 0 && !utf8.RuneStart(reason[limit]) {
			limit--
		}
		reason = reason[:limit]
	}
	p := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(p, code)
	copy(p[2:], reason)
	return newFrame(OpcodeClose, p)
}

func clampControl(p []byte) []byte {
	if len(p) > MaxControlPayloadLen {
		return p[:MaxControlPayloadLen]
	}
	return p
}

// IsControl reports close, ping and pong frames.
func (f *Frame) IsControl() bool { return f.Opcode&0x8 != 0 }

// IsData reports text, binary and continuation frames.
func (f *Frame) IsData() bool { return !f.IsControl() }

// IsFragment reports a frame that is not the last of its message.
func (f *Frame) IsFragment() bool { return !f.Fin }

// CloseDetails extracts the status code and reason of a close frame. ok is
// false for other frames and for close frames without a status code.
func (f *Frame) CloseDetails() (code uint16, reason string, ok bool) {
	if f.Opcode != OpcodeClose || len(f.Payload) < 2 {
		return 0, "", false
	}
	return binary.BigEndian.Uint16(f.Payload), string(f.Payload[2:]), true
}
