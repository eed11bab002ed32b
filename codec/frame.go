package codec

import (
	"bufio"
	"io"

	"github.com/sirupsen/logrus"
)

type FrameCodec struct {
	conn   io.ReadWriteCloser
	buf    *bufio.Writer
	r      *bufio.Reader
	framer Framer
}

var _ Codec = (*FrameCodec)(nil)

func NewFrameCodec(conn io.ReadWriteCloser, maxFrameSize uint32) Codec {
	return &FrameCodec{
		conn:   conn,
		buf:    bufio.NewWriter(conn),
		r:      bufio.NewReader(conn),
		framer: Framer{MaxFrameSize: maxFrameSize},
	}
}

func (c *FrameCodec) Read() ([]byte, error) {
	payload, err := c.framer.Decode(c.r)
	if err != nil {
		if err != io.EOF {
			logrus.Debugf("decode error: %v", err)
		}
		return nil, err
	}
	return payload, nil
}

func (c *FrameCodec) Write(payload []byte) error {
	if err := c.framer.WriteFrame(c.buf, payload); err != nil {
		logrus.Debugf("encode error: %v", err)
		return err
	}
	return c.buf.Flush()
}

func (c *FrameCodec) Close() error {
	return c.conn.Close()
}
