package srpc

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"srpc/transport"

	"github.com/pkg/errors"
)

func newMux(t *testing.T) *ServeMux {
	t.Helper()
	mux := NewServeMux()
	_assert(t, mux.Handle("ECHO", EchoHandler) == nil, "handle ECHO")
	_assert(t, mux.HandleFunc("UPPER", upper) == nil, "handle UPPER")
	return mux
}

func TestServer_Multiplex(t *testing.T) {
	for _, proto := range []string{"tcp", "ws"} {
		t.Run(proto, func(t *testing.T) {
			server, addr := startServer(t, proto+"://127.0.0.1:0", newMux(t), "ECHO", "UPPER")
			defer server.Close()

			var wg sync.WaitGroup
			errs := make(chan error, 20)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					service, want := "ECHO", fmt.Sprintf("msg %d", i)
					if i%2 == 1 {
						service, want = "UPPER", fmt.Sprintf("MSG %d", i)
					}
					s, err := Dial(context.Background(), proto+"://"+addr, service, 0)
					if err != nil {
						errs <- err
						return
					}
					defer s.Close()
					for j := 0; j < 5; j++ {
						resp, err := s.Call(context.Background(), []byte(fmt.Sprintf("msg %d", i)))
						if err != nil {
							errs <- err
							return
						}
						if string(resp) != want {
							errs <- errors.Errorf("%s: got %q, want %q", service, resp, want)
							return
						}
					}
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatal(err)
			}
		})
	}
}

func TestServer_Reject(t *testing.T) {
	server, addr := startServer(t, "tcp://127.0.0.1:0", newMux(t), "ECHO")
	defer server.Close()

	// UPPER 有处理函数但没有被 Offer
	_, err := Dial(context.Background(), addr, "UPPER", 0)
	_assert(t, errors.Is(err, ErrHandshake), "expect handshake error, got %v", err)
	_, err = Dial(context.Background(), addr, "", 0)
	_assert(t, errors.Is(err, ErrHandshake), "empty service name: %v", err)

	s, err := Dial(context.Background(), addr, "ECHO", 0)
	_assert(t, err == nil, "dial: %v", err)
	defer s.Close()

	server.Withdraw("ECHO")
	resp, err := s.Call(context.Background(), []byte("after withdraw"))
	_assert(t, err == nil && string(resp) == "after withdraw", "active session broken by withdraw: %q %v", resp, err)
	_, err = Dial(context.Background(), addr, "ECHO", 0)
	_assert(t, errors.Is(err, ErrHandshake), "withdrawn service accepted: %v", err)
}

func TestServer_HandlerError(t *testing.T) {
	h := HandlerFunc(func(_ *Session, req []byte) ([]byte, error) {
		if string(req) == "fail" {
			return nil, errors.New("handler failed")
		}
		return req, nil
	})
	server, addr := startServer(t, "tcp://127.0.0.1:0", h, "FAIL")
	defer server.Close()
	s, err := Dial(context.Background(), addr, "FAIL", 0)
	_assert(t, err == nil, "dial: %v", err)
	defer s.Close()
	_, err = s.Call(context.Background(), []byte("ok"))
	_assert(t, err == nil, "call: %v", err)
	_, err = s.Call(context.Background(), []byte("fail"))
	_assert(t, errors.Is(err, ErrConnection), "handler error should close the session: %v", err)
}

func TestServer_Close(t *testing.T) {
	server, addr := startServer(t, "tcp://127.0.0.1:0", EchoHandler, "ECHO")
	s, err := Dial(context.Background(), addr, "ECHO", 0)
	_assert(t, err == nil, "dial: %v", err)
	defer s.Close()
	_, _ = s.Call(context.Background(), []byte("hi"))
	_assert(t, len(server.Sessions()) == 1, "expect 1 session, got %d", len(server.Sessions()))

	done := make(chan struct{})
	go func() {
		_ = server.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("close did not return")
	}
	_assert(t, len(server.Sessions()) == 0, "sessions left after close")
	_, err = s.Call(context.Background(), []byte("hi"))
	_assert(t, errors.Is(err, ErrConnection), "call after server close: %v", err)
	_, err = Dial(context.Background(), addr, "ECHO", 0, &Option{ConnectTimeout: time.Second})
	_assert(t, err != nil, "dial after server close should fail")
	_assert(t, server.Close() == nil, "close is idempotent")
}

// 关闭之后仍然会交出连接的 listener
type lateListener struct {
	conns chan transport.Conn
}

func (l *lateListener) Accept() (transport.Conn, error) {
	c, ok := <-l.conns
	if !ok {
		return nil, transport.ErrClosed
	}
	return c, nil
}

func (l *lateListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (l *lateListener) Close() error { return nil }

func TestServer_AcceptAfterClose(t *testing.T) {
	server, err := NewServer(EchoHandler)
	_assert(t, err == nil, "new server: %v", err)
	l := &lateListener{conns: make(chan transport.Conn)}
	accepting := make(chan struct{})
	go func() {
		server.Accept(l)
		close(accepting)
	}()

	c1, p1 := net.Pipe()
	defer p1.Close()
	l.conns <- transport.NewStreamConn(c1, 0)
	_assert(t, server.Close() == nil, "close")

	c2, p2 := net.Pipe()
	defer p2.Close()
	sent := false
	select {
	case l.conns <- transport.NewStreamConn(c2, 0):
		sent = true
	case <-accepting:
	}
	select {
	case <-accepting:
	case <-time.After(time.Second):
		t.Fatal("accept kept running after close")
	}
	if sent {
		_ = p2.SetReadDeadline(time.Now().Add(time.Second))
		_, err = p2.Read(make([]byte, 1))
		_assert(t, err == io.EOF, "connection accepted after close was not closed: %v", err)
	}
}

func TestNewServer_Option(t *testing.T) {
	_, err := NewServer(EchoHandler, &Option{ReceiveTimeout: -1})
	_assert(t, err != nil, "negative timeout accepted")
	_, err = NewServer(EchoHandler, &Option{}, &Option{})
	_assert(t, err != nil, "two options accepted")
	server, err := NewServer(EchoHandler, &Option{})
	_assert(t, err == nil && server.opt.MaxFrameSize == DefaultOption.MaxFrameSize, "default frame size not applied")
}
