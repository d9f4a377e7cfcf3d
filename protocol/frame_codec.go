// File: protocol/frame_codec.go
// License: Apache-2.0
//
// Frame encoding and decoding with the 7/16/64-bit length tiers, masking and
// payload size enforcement.

package protocol

import (
	"encoding/binary"
	"errors"

	"github.com/wordrush/wsreactor/api"
)

// closeCodeKey is the api.Error context key carrying the close code a
// decoding failure should be answered with.
const closeCodeKey = "close_code"

// Violation builds a protocol-violation error answered with close code.
func Violation(code uint16, format string, args ...any) error {
	return api.Errorf(api.ErrCodeProtocolViolation, format, args...).WithContext(closeCodeKey, code)
}

// CloseCodeFor maps a decode error to the close code sent to the peer.
func CloseCodeFor(err error) uint16 {
	var e *api.Error
	if errors.As(err, &e) {
		if c, ok := e.Context[closeCodeKey].(uint16); ok {
			return c
		}
	}
	return CloseProtocolError
}

type header struct {
	fin     bool
	rsv     byte
	opcode  Opcode
	masked  bool
	length  uint64
	maskKey [4]byte
	size    int // header bytes including mask key
}

// parseHeader validates the frame header at the start of raw.
func parseHeader(raw []byte) (header, error) {
	var h header
	if len(raw) < 2 {
		return h, api.ErrTruncatedFrame
	}
	h.fin = raw[0]&FinBit != 0
	h.rsv = (raw[0] & RsvBits) >> 4
	h.opcode = Opcode(raw[0] & OpcodeBit)
	h.masked = raw[1]&MaskBit != 0
	h.length = uint64(raw[1] & LenBits)
	h.size = 2

	if h.rsv != 0 {
		return h, Violation(CloseProtocolError, "reserved bits set without a negotiated extension")
	}
	switch h.opcode {
	case OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
	default:
		return h, Violation(CloseProtocolError, "reserved opcode 0x%x", byte(h.opcode))
	}

	switch h.length {
	case len16Marker:
		if len(raw) < h.size+2 {
			return h, api.ErrTruncatedFrame
		}
		h.length = uint64(binary.BigEndian.Uint16(raw[h.size:]))
		h.size += 2
	case len64Marker:
		if len(raw) < h.size+8 {
			return h, api.ErrTruncatedFrame
		}
		h.length = binary.BigEndian.Uint64(raw[h.size:])
		h.size += 8
		if h.length>>63 != 0 {
			return h, Violation(CloseProtocolError, "64-bit length has the most significant bit set")
		}
	}

	if h.opcode&0x8 != 0 {
		if !h.fin {
			return h, Violation(CloseProtocolError, "fragmented control frame")
		}
		if h.length > MaxControlPayloadLen {
			return h, Violation(CloseProtocolError, "control frame payload of %d bytes", h.length)
		}
	}
	if h.length > MaxFramePayload {
		return h, Violation(CloseMessageTooBig, "frame payload of %d bytes exceeds %d", h.length, MaxFramePayload)
	}

	if h.masked {
		if len(raw) < h.size+4 {
			return h, api.ErrTruncatedFrame
		}
		copy(h.maskKey[:], raw[h.size:h.size+4])
		h.size += 4
	}
	return h, nil
}

// FrameLength returns the total encoded size of the frame at the start of
// raw, or api.ErrTruncatedFrame if the header itself is incomplete.
func FrameLength(raw []byte) (int, error) {
	h, err := parseHeader(raw)
	if err != nil {
		return 0, err
	}
	return h.size + int(h.length), nil
}

// DecodeFrame parses one frame from raw and returns it with the number of
// bytes consumed. The payload is copied and unmasked.
func DecodeFrame(raw []byte) (*Frame, int, error) {
	h, err := parseHeader(raw)
	if err != nil {
		return nil, 0, err
	}
	total := h.size + int(h.length)
	if len(raw) < total {
		return nil, 0, api.ErrTruncatedFrame
	}
	payload := make([]byte, h.length)
	copy(payload, raw[h.size:total])
	if h.masked {
		Mask(payload, h.maskKey)
	}
	return &Frame{
		Fin:        h.fin,
		Rsv:        h.rsv,
		Opcode:     h.opcode,
		Masked:     h.masked,
		PayloadLen: h.length,
		MaskKey:    h.maskKey,
		Payload:    payload,
	}, total, nil
}

// Mask XORs p with key in place. Applying it twice restores p.
func Mask(p []byte, key [4]byte) {
	for i := range p {
		p[i] ^= key[i&3]
	}
}

// EncodedLen returns the wire size of f.
func EncodedLen(f *Frame) int {
	n := 2 + len(f.Payload)
	switch l := len(f.Payload); {
	case l > 0xFFFF:
		n += 8
	case l > MaxControlPayloadLen:
		n += 2
	}
	if f.Masked {
		n += 4
	}
	return n
}

// AppendFrame appends the wire form of f to dst. The payload length is
// taken from f.Payload. A masked frame is written with f.MaskKey applied to
// a copy of the payload.
func AppendFrame(dst []byte, f *Frame) []byte {
	b0 := byte(f.Opcode) & OpcodeBit
	b0 |= (f.Rsv << 4) & RsvBits
	if f.Fin {
		b0 |= FinBit
	}
	var b1 byte
	if f.Masked {
		b1 = MaskBit
	}

	plen := len(f.Payload)
	switch {
	case plen <= MaxControlPayloadLen:
		dst = append(dst, b0, b1|byte(plen))
	case plen <= 0xFFFF:
		dst = append(dst, b0, b1|len16Marker)
		dst = binary.BigEndian.AppendUint16(dst, uint16(plen))
	default:
		dst = append(dst, b0, b1|len64Marker)
		dst = binary.BigEndian.AppendUint64(dst, uint64(plen))
	}

	if !f.Masked {
		return append(dst, f.Payload...)
	}
	dst = append(dst, f.MaskKey[:]...)
	start := len(dst)
	dst = append(dst, f.Payload...)
	Mask(dst[start:], f.MaskKey)
	return dst
}

// Encode returns the wire form of f.
func (f *Frame) Encode() []byte {
	return AppendFrame(make([]byte, 0, EncodedLen(f)), f)
}
