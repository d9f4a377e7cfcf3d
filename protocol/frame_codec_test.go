package protocol_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gobwas/ws"
	"github.com/wordrush/wsreactor/api"
	"github.com/wordrush/wsreactor/protocol"
)

func TestEncodeDecodeFrame(t *testing.T) {
	frames := []*protocol.Frame{
		protocol.Text("hello"),
		protocol.Binary([]byte{0, 1, 2, 0xff}),
		protocol.Ping([]byte("p")),
		protocol.Pong(nil),
		protocol.Close(protocol.CloseGoingAway, "bye"),
	}
	for _, f := range frames {
		data := f.Encode()
		got, n, err := protocol.DecodeFrame(data)
		if err != nil {
			t.Fatalf("%s: %v", f.Opcode, err)
		}
		if n != len(data) {
			t.Errorf("%s: consumed %d of %d", f.Opcode, n, len(data))
		}
		if got.Opcode != f.Opcode || got.Fin != f.Fin || !bytes.Equal(got.Payload, f.Payload) {
			t.Errorf("%s: round trip mismatch: %+v", f.Opcode, got)
		}
		if got.Masked {
			t.Errorf("%s: server frames must not be masked", f.Opcode)
		}
	}
}

func TestLengthTiers(t *testing.T) {
	cases := []struct {
		size   int
		header int
	}{
		{0, 2},
		{125, 2},
		{126, 4},
		{65535, 4},
		{65536, 10},
	}
	for _, c := range cases {
		payload := bytes.Repeat([]byte{'a'}, c.size)
		data := protocol.Binary(payload).Encode()
		if len(data) != c.header+c.size {
			t.Errorf("size %d: encoded %d bytes, want %d", c.size, len(data), c.header+c.size)
		}
		if protocol.EncodedLen(protocol.Binary(payload)) != len(data) {
			t.Errorf("size %d: EncodedLen disagrees with Encode", c.size)
		}
		got, n, err := protocol.DecodeFrame(data)
		if err != nil {
			t.Fatalf("size %d: %v", c.size, err)
		}
		if n != len(data) || got.PayloadLen != uint64(c.size) || !bytes.Equal(got.Payload, payload) {
			t.Errorf("size %d: decoded len %d consumed %d", c.size, got.PayloadLen, n)
		}
		if l, err := protocol.FrameLength(data); err != nil || l != len(data) {
			t.Errorf("size %d: FrameLength = %d, %v", c.size, l, err)
		}
	}
}

func TestMaskIsSelfInverse(t *testing.T) {
	key := [4]byte{0x37, 0xfa, 0x21, 0x3d}
	orig := []byte("Hello, masked world")
	p := append([]byte(nil), orig...)
	protocol.Mask(p, key)
	if bytes.Equal(p, orig) {
		t.Fatal("mask had no effect")
	}
	protocol.Mask(p, key)
	if !bytes.Equal(p, orig) {
		t.Fatal("mask twice did not restore payload")
	}
}

func TestDecodeMaskedClientFrame(t *testing.T) {
	// RFC 6455 section 5.7: masked "Hello".
	raw := []byte{0x81, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58}
	f, n, err := protocol.DecodeFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(raw) || !f.Masked || string(f.Payload) != "Hello" {
		t.Fatalf("decoded %+v consumed %d", f, n)
	}

	f.MaskKey = [4]byte{0x37, 0xfa, 0x21, 0x3d}
	if !bytes.Equal(f.Encode(), raw) {
		t.Fatal("re-encoding the masked frame did not reproduce the RFC bytes")
	}
}

func TestTruncationAtEveryTier(t *testing.T) {
	for _, size := range []int{5, 300, 70000} {
		masked := protocol.Binary(bytes.Repeat([]byte{'z'}, size))
		masked.Masked = true
		masked.MaskKey = [4]byte{1, 2, 3, 4}
		for _, f := range []*protocol.Frame{protocol.Binary(masked.Payload), masked} {
			data := f.Encode()
			for _, cut := range []int{0, 1, 2, 3, 5, 9, 11, 13, len(data) - 1} {
				if cut >= len(data) {
					continue
				}
				_, n, err := protocol.DecodeFrame(data[:cut])
				if !errors.Is(err, api.ErrTruncatedFrame) {
					t.Fatalf("size %d masked %v cut %d: err = %v", size, f.Masked, cut, err)
				}
				if n != 0 {
					t.Fatalf("truncated decode consumed %d bytes", n)
				}
			}
		}
	}
}

func TestDecodeTwoFramesBackToBack(t *testing.T) {
	data := append(protocol.Text("one").Encode(), protocol.Text("two").Encode()...)
	f1, n1, err := protocol.DecodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	f2, _, err := protocol.DecodeFrame(data[n1:])
	if err != nil {
		t.Fatal(err)
	}
	if string(f1.Payload) != "one" || string(f2.Payload) != "two" {
		t.Fatalf("got %q, %q", f1.Payload, f2.Payload)
	}
}

func TestDecodeViolations(t *testing.T) {
	cases := map[string]struct {
		raw  []byte
		code uint16
	}{
		"rsv bits":           {[]byte{0x81 | 0x40, 0x00}, protocol.CloseProtocolError},
		"reserved opcode":    {[]byte{0x83, 0x00}, protocol.CloseProtocolError},
		"fragmented control": {[]byte{0x09, 0x00}, protocol.CloseProtocolError},
		"long control":       {[]byte{0x89, 126, 0x00, 0x7e}, protocol.CloseProtocolError},
		"too big":            {[]byte{0x82, 127, 0, 0, 0, 0, 0x10, 0, 0, 1}, protocol.CloseMessageTooBig},
		"msb length":         {[]byte{0x82, 127, 0x80, 0, 0, 0, 0, 0, 0, 0}, protocol.CloseProtocolError},
	}
	for name, c := range cases {
		_, _, err := protocol.DecodeFrame(c.raw)
		if !errors.Is(err, api.ErrProtocolViolation) {
			t.Errorf("%s: err = %v", name, err)
			continue
		}
		if got := protocol.CloseCodeFor(err); got != c.code {
			t.Errorf("%s: close code %d, want %d", name, got, c.code)
		}
	}
}

func TestFactoriesAndClassifiers(t *testing.T) {
	c := protocol.Close(protocol.CloseNormalClosure, "done")
	if !c.IsControl() || c.IsData() || c.IsFragment() {
		t.Fatal("close frame misclassified")
	}
	code, reason, ok := c.CloseDetails()
	if !ok || code != protocol.CloseNormalClosure || reason != "done" {
		t.Fatalf("CloseDetails = %d %q %v", code, reason, ok)
	}
	if _, _, ok := protocol.Text("x").CloseDetails(); ok {
		t.Fatal("text frame reported close details")
	}
	cont := &protocol.Frame{Opcode: protocol.OpcodeText}
	if !cont.IsFragment() || !cont.IsData() {
		t.Fatal("non-final text frame misclassified")
	}

	long := protocol.Close(protocol.CloseGoingAway, strings.Repeat("é", 100))
	if len(long.Payload) > protocol.MaxControlPayloadLen {
		t.Fatalf("close payload %d bytes", len(long.Payload))
	}
	if _, r, _ := long.CloseDetails(); strings.ContainsRune(r, '�') || len(r)%2 != 0 {
		t.Fatalf("reason cut inside a rune: %q", r)
	}
	if p := protocol.Ping(bytes.Repeat([]byte{1}, 300)); len(p.Payload) != protocol.MaxControlPayloadLen {
		t.Fatalf("ping payload %d bytes", len(p.Payload))
	}
}

func TestGobwasReadsOurFrames(t *testing.T) {
	for _, size := range []int{3, 200, 70000} {
		payload := bytes.Repeat([]byte{'q'}, size)
		frame, err := ws.ReadFrame(bytes.NewReader(protocol.Binary(payload).Encode()))
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if frame.Header.OpCode != ws.OpBinary || !frame.Header.Fin || frame.Header.Masked {
			t.Fatalf("size %d: header %+v", size, frame.Header)
		}
		if !bytes.Equal(frame.Payload, payload) {
			t.Fatalf("size %d: payload mismatch", size)
		}
	}
}

func TestWeReadGobwasMaskedFrames(t *testing.T) {
	var buf bytes.Buffer
	f := ws.MaskFrameInPlace(ws.NewTextFrame([]byte("from a client")))
	if err := ws.WriteFrame(&buf, f); err != nil {
		t.Fatal(err)
	}
	got, _, err := protocol.DecodeFrame(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !got.Masked || string(got.Payload) != "from a client" {
		t.Fatalf("decoded %+v", got)
	}
}
