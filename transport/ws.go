package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"srpc/codec"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const DefaultWSPath = "/_srpc_/conn"

// wsConn 每个 websocket 二进制消息承载一个完整的长度前缀帧
type wsConn struct {
	ws      *websocket.Conn
	framer  codec.Framer
	sending sync.Mutex
	once    sync.Once
	closed  chan struct{}
}

func newWSConn(ws *websocket.Conn, maxFrameSize uint32) *wsConn {
	limit := int64(maxFrameSize)
	if limit == 0 {
		limit = codec.DefaultMaxFrameSize
	}
	ws.SetReadLimit(limit + codec.HeaderSize)
	return &wsConn{
		ws:     ws,
		framer: codec.Framer{MaxFrameSize: maxFrameSize},
		closed: make(chan struct{}),
	}
}

func (c *wsConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *wsConn) Send(payload []byte) error {
	c.sending.Lock()
	defer c.sending.Unlock()
	if c.isClosed() {
		return ErrClosed
	}
	frame, err := c.framer.Encode(payload)
	if err != nil {
		return err
	}
	return wrapErr(c.ws.WriteMessage(websocket.BinaryMessage, frame))
}

func (c *wsConn) Receive() ([]byte, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	for {
		typ, r, err := c.ws.NextReader()
		if err != nil {
			if c.isClosed() {
				return nil, ErrClosed
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, errors.Wrap(ErrConnection, "peer closed connection")
			}
			return nil, wrapErr(err)
		}
		if typ != websocket.BinaryMessage {
			logrus.Debugf("srpc.transport.ws: skip message type %d", typ)
			continue
		}
		payload, err := c.framer.Decode(r)
		if err != nil {
			return nil, wrapErr(err)
		}
		// 一条消息只能装一帧
		extra, err := io.Copy(io.Discard, r)
		if err != nil {
			return nil, wrapErr(err)
		}
		if extra > 0 {
			return nil, errors.Wrapf(codec.ErrFraming, "%d trailing bytes after frame in websocket message", extra)
		}
		return payload, nil
	}
}

func (c *wsConn) SetReadDeadline(t time.Time) error { return c.ws.SetReadDeadline(t) }
func (c *wsConn) LocalAddr() net.Addr { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func dialWS(ctx context.Context, address string, opt *Options) (Conn, error) {
	url := "ws://" + address
	if !strings.Contains(address, "/") {
		url += DefaultWSPath
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, wrapErr(err)
	}
	return newWSConn(ws, opt.MaxFrameSize), nil
}

// wsListener 在 http server 上升级连接，并通过 channel 交给 Accept
type wsListener struct {
	l            net.Listener
	srv          *http.Server
	upgrader     websocket.Upgrader
	maxFrameSize uint32
	conns        chan *wsConn
	once         sync.Once
	done         chan struct{}
}

func listenWS(address string, opt *Options) (Listener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	wl := &wsListener{
		l:            l,
		maxFrameSize: opt.MaxFrameSize,
		conns:        make(chan *wsConn),
		done:         make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.Handle(DefaultWSPath, wl)
	wl.srv = &http.Server{Handler: mux}
	go func() {
		if err := wl.srv.Serve(l); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("srpc.transport.ws: serve: %v", err)
		}
	}()
	return wl, nil
}

func (wl *wsListener) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := wl.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logrus.Warnf("srpc.transport.ws: upgrade: %v", err)
		return
	}
	c := newWSConn(ws, wl.maxFrameSize)
	select {
	case wl.conns <- c:
	case <-wl.done:
		_ = c.Close()
	}
}

func (wl *wsListener) Accept() (Conn, error) {
	select {
	case c := <-wl.conns:
		return c, nil
	case <-wl.done:
		return nil, errors.Wrap(ErrClosed, "websocket listener closed")
	}
}

func (wl *wsListener) Addr() net.Addr { return wl.l.Addr() }

func (wl *wsListener) Close() error {
	var err error
	wl.once.Do(func() {
		close(wl.done)
		err = wl.srv.Close()
	})
	return err
}
