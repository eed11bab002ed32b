package codec

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// 帧头长度，4 字节大端序的负载长度
const HeaderSize = 4

// 默认的最大帧长度，16 MiB
const DefaultMaxFrameSize = 1 << 24

var ErrFraming = errors.New("framing error")

// 编码器接口，用来在字节流上收发完整的帧
// 不同的传输方式需要有不同的编码器实现
type Codec interface {
	// 关闭流
	io.Closer
	// 接收一帧，返回其负载
	Read() ([]byte, error)
	// 发送一帧
	Write(payload []byte) error
}

// 编码器的构造函数类型
type NewCodecFunc func(conn io.ReadWriteCloser, maxFrameSize uint32) Codec

// Framer 负责长度前缀分帧
// MaxFrameSize 为 0 时使用 DefaultMaxFrameSize
type Framer struct {
	MaxFrameSize uint32
}

func (f Framer) max() uint32 {
	if f.MaxFrameSize == 0 {
		return DefaultMaxFrameSize
	}
	return f.MaxFrameSize
}

// Encode 返回 payload 对应的完整帧
func (f Framer) Encode(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > uint64(f.max()) {
		return nil, errors.Wrapf(ErrFraming, "payload of %d bytes exceeds max frame size %d", len(payload), f.max())
	}
	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// WriteFrame 将一帧写入 w，不做缓冲
func (f Framer) WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > uint64(f.max()) {
		return errors.Wrapf(ErrFraming, "payload of %d bytes exceeds max frame size %d", len(payload), f.max())
	}
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Decode 从 r 中读取恰好一帧，流停留在下一帧的边界上
// 在帧头之前遇到 EOF 时返回 io.EOF，帧中途结束时返回 ErrFraming
func (f Framer) Decode(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if n, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF && n == 0 {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, errors.Wrap(ErrFraming, "stream closed inside frame header")
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > f.max() {
		return nil, errors.Wrapf(ErrFraming, "declared length %d exceeds max frame size %d", size, f.max())
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(ErrFraming, "stream closed inside frame body (want %d bytes)", size)
		}
		return nil, err
	}
	return payload, nil
}

// Encode 使用默认的最大帧长度编码
func Encode(payload []byte) ([]byte, error) {
	return Framer{}.Encode(payload)
}

// Decode 使用默认的最大帧长度解码
func Decode(r io.Reader) ([]byte, error) {
	return Framer{}.Decode(r)
}
