package codec

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	MagicNumber uint32 = 0x065279
	Version     uint8  = 1

	MaxServiceNameLen = 255
)

var ErrMalformedHandshake = errors.New("malformed handshake")

// Hello 是客户端建立连接后发送的第一帧
// 格式: magic(4) | version(1) | flags(4) | service(n)
type Hello struct {
	Version uint8
	Flags   uint32
	Service string
}

const helloFixedLen = 4 + 1 + 4

// AckStatus 是服务端对 Hello 的答复
type AckStatus uint8

const (
	AckAccepted AckStatus = iota
	AckNotOffered
	AckMalformed
	AckBadVersion
)

func (s AckStatus) String() string {
	switch s {
	case AckAccepted:
		return "accepted"
	case AckNotOffered:
		return "service not offered"
	case AckMalformed:
		return "malformed hello"
	case AckBadVersion:
		return "unsupported version"
	default:
		return "unknown status"
	}
}

// Ack 格式: magic(4) | version(1) | status(1) | reason(n)
type Ack struct {
	Version uint8
	Status  AckStatus
	Reason  string
}

const ackFixedLen = 4 + 1 + 1

// ValidServiceName 判断服务名是否合法：非空、不超过 255 字节、UTF-8
func ValidServiceName(name string) error {
	if name == "" {
		return errors.New("empty service name")
	}
	if len(name) > MaxServiceNameLen {
		return errors.Errorf("service name longer than %d bytes", MaxServiceNameLen)
	}
	if !utf8.ValidString(name) {
		return errors.New("service name is not valid utf-8")
	}
	return nil
}

func (h *Hello) Marshal() ([]byte, error) {
	if err := ValidServiceName(h.Service); err != nil {
		return nil, errors.Wrap(ErrMalformedHandshake, err.Error())
	}
	b := make([]byte, helloFixedLen+len(h.Service))
	binary.BigEndian.PutUint32(b[0:4], MagicNumber)
	b[4] = h.Version
	binary.BigEndian.PutUint32(b[5:9], h.Flags)
	copy(b[helloFixedLen:], h.Service)
	return b, nil
}

func UnmarshalHello(b []byte) (*Hello, error) {
	if len(b) < helloFixedLen {
		return nil, errors.Wrapf(ErrMalformedHandshake, "hello too short: %d bytes", len(b))
	}
	if magic := binary.BigEndian.Uint32(b[0:4]); magic != MagicNumber {
		return nil, errors.Wrapf(ErrMalformedHandshake, "magic number error: %#x", magic)
	}
	h := &Hello{
		Version: b[4],
		Flags:   binary.BigEndian.Uint32(b[5:9]),
		Service: string(b[helloFixedLen:]),
	}
	if err := ValidServiceName(h.Service); err != nil {
		return nil, errors.Wrap(ErrMalformedHandshake, err.Error())
	}
	return h, nil
}

func (a *Ack) Marshal() []byte {
	b := make([]byte, ackFixedLen+len(a.Reason))
	binary.BigEndian.PutUint32(b[0:4], MagicNumber)
	b[4] = a.Version
	b[5] = byte(a.Status)
	copy(b[ackFixedLen:], a.Reason)
	return b
}

func UnmarshalAck(b []byte) (*Ack, error) {
	if len(b) < ackFixedLen {
		return nil, errors.Wrapf(ErrMalformedHandshake, "ack too short: %d bytes", len(b))
	}
	if magic := binary.BigEndian.Uint32(b[0:4]); magic != MagicNumber {
		return nil, errors.Wrapf(ErrMalformedHandshake, "magic number error: %#x", magic)
	}
	return &Ack{
		Version: b[4],
		Status:  AckStatus(b[5]),
		Reason:  string(b[ackFixedLen:]),
	}, nil
}
