package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
)

func _assert(t *testing.T, ok bool, format string, args ...interface{}) {
	t.Helper()
	if !ok {
		t.Fatalf(format, args...)
	}
}

func TestFramer_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("hello"),
		{0x00, 0x00, 0x00, 0x04, 0xff, 0x0a},
		bytes.Repeat([]byte{0xab}, 70000),
	}
	for _, p := range payloads {
		frame, err := Encode(p)
		_assert(t, err == nil, "encode: %v", err)
		_assert(t, len(frame) == HeaderSize+len(p), "frame length %d", len(frame))
		got, err := Decode(bytes.NewReader(frame))
		_assert(t, err == nil, "decode: %v", err)
		_assert(t, bytes.Equal(got, p), "round trip mismatch for %d bytes", len(p))
	}
}

func TestFramer_StreamBoundaries(t *testing.T) {
	var buf bytes.Buffer
	f := Framer{}
	for _, s := range []string{"a", "", "ccc"} {
		_assert(t, f.WriteFrame(&buf, []byte(s)) == nil, "write frame")
	}
	for _, want := range []string{"a", "", "ccc"} {
		got, err := f.Decode(&buf)
		_assert(t, err == nil, "decode: %v", err)
		_assert(t, string(got) == want, "got %q want %q", got, want)
	}
	_, err := f.Decode(&buf)
	_assert(t, err == io.EOF, "expected io.EOF at boundary, got %v", err)
}

func TestFramer_Errors(t *testing.T) {
	f := Framer{MaxFrameSize: 8}
	t.Run("oversize encode", func(t *testing.T) {
		_, err := f.Encode(make([]byte, 9))
		_assert(t, errors.Is(err, ErrFraming), "expected ErrFraming, got %v", err)
	})
	t.Run("oversize declared length", func(t *testing.T) {
		var header [HeaderSize]byte
		binary.BigEndian.PutUint32(header[:], 1<<30)
		_, err := f.Decode(bytes.NewReader(header[:]))
		_assert(t, errors.Is(err, ErrFraming), "expected ErrFraming, got %v", err)
	})
	t.Run("truncated header", func(t *testing.T) {
		_, err := f.Decode(bytes.NewReader([]byte{0, 0}))
		_assert(t, errors.Is(err, ErrFraming), "expected ErrFraming, got %v", err)
	})
	t.Run("truncated body", func(t *testing.T) {
		_, err := f.Decode(bytes.NewReader([]byte{0, 0, 0, 5, 'a', 'b'}))
		_assert(t, errors.Is(err, ErrFraming), "expected ErrFraming, got %v", err)
	})
}

func TestFrameCodec(t *testing.T) {
	c1, c2 := net.Pipe()
	a := NewFrameCodec(c1, 0)
	b := NewFrameCodec(c2, 0)
	defer a.Close()
	defer b.Close()

	go func() {
		_ = a.Write([]byte("ping"))
	}()
	got, err := b.Read()
	_assert(t, err == nil, "read: %v", err)
	_assert(t, string(got) == "ping", "got %q", got)

	_ = a.Close()
	_, err = b.Read()
	_assert(t, err == io.EOF, "expected io.EOF after close, got %v", err)
}

func TestHandshake(t *testing.T) {
	h := &Hello{Version: Version, Flags: 7, Service: "ECHO"}
	b, err := h.Marshal()
	_assert(t, err == nil, "marshal hello: %v", err)
	_assert(t, len(b) == helloFixedLen+4, "hello length %d", len(b))
	got, err := UnmarshalHello(b)
	_assert(t, err == nil, "unmarshal hello: %v", err)
	_assert(t, *got == *h, "hello mismatch: %+v", got)

	ack := &Ack{Version: Version, Status: AckNotOffered, Reason: "nope"}
	gotAck, err := UnmarshalAck(ack.Marshal())
	_assert(t, err == nil, "unmarshal ack: %v", err)
	_assert(t, *gotAck == *ack, "ack mismatch: %+v", gotAck)

	t.Run("empty service", func(t *testing.T) {
		_, err := (&Hello{Version: Version}).Marshal()
		_assert(t, errors.Is(err, ErrMalformedHandshake), "expected malformed, got %v", err)
	})
	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte{}, b...)
		bad[0] = 0xff
		_, err := UnmarshalHello(bad)
		_assert(t, errors.Is(err, ErrMalformedHandshake), "expected malformed, got %v", err)
	})
	t.Run("short", func(t *testing.T) {
		_, err := UnmarshalHello(b[:5])
		_assert(t, errors.Is(err, ErrMalformedHandshake), "expected malformed, got %v", err)
		_, err = UnmarshalAck([]byte{1})
		_assert(t, errors.Is(err, ErrMalformedHandshake), "expected malformed, got %v", err)
	})
}
