package transport

import (
	"net"
	"sync"
	"time"

	"srpc/codec"
)

// streamConn 在 net.Conn 上按长度前缀收发帧，用于 tcp 和 unix
type streamConn struct {
	c       net.Conn
	cc      codec.Codec
	sending sync.Mutex
	once    sync.Once
	closed  chan struct{}
}

// NewStreamConn 包装一个已经建立的 net.Conn
func NewStreamConn(c net.Conn, maxFrameSize uint32) Conn {
	return &streamConn{
		c:      c,
		cc:     codec.NewFrameCodec(c, maxFrameSize),
		closed: make(chan struct{}),
	}
}

func (s *streamConn) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *streamConn) Send(payload []byte) error {
	s.sending.Lock()
	defer s.sending.Unlock()
	if s.isClosed() {
		return ErrClosed
	}
	return wrapErr(s.cc.Write(payload))
}

func (s *streamConn) Receive() ([]byte, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	payload, err := s.cc.Read()
	if err != nil && s.isClosed() {
		return nil, ErrClosed
	}
	return payload, wrapErr(err)
}

func (s *streamConn) SetReadDeadline(t time.Time) error { return s.c.SetReadDeadline(t) }
func (s *streamConn) LocalAddr() net.Addr { return s.c.LocalAddr() }
func (s *streamConn) RemoteAddr() net.Addr { return s.c.RemoteAddr() }

func (s *streamConn) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.cc.Close()
	})
	return err
}

type streamListener struct {
	l            net.Listener
	maxFrameSize uint32
}

func (l *streamListener) Accept() (Conn, error) {
	c, err := l.l.Accept()
	if err != nil {
		return nil, wrapErr(err)
	}
	return NewStreamConn(c, l.maxFrameSize), nil
}

func (l *streamListener) Addr() net.Addr { return l.l.Addr() }
func (l *streamListener) Close() error { return l.l.Close() }
