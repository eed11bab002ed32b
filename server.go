package srpc

import (
	"context"
	"sort"
	"sync"
	"time"

	"srpc/codec"
	"srpc/registry"
	"srpc/transport"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Option struct {
	// 单帧负载的最大长度
	MaxFrameSize uint32
	// 客户端连接和握手的超时时间，0 表示不限制
	ConnectTimeout time.Duration
	// 服务端等待 Hello 的超时时间，0 表示不限制
	HandshakeTimeout time.Duration
	// 每次阻塞接收的超时时间，0 表示一直等待
	ReceiveTimeout time.Duration
}

var DefaultOption = &Option{
	MaxFrameSize:     codec.DefaultMaxFrameSize,
	ConnectTimeout:   time.Second * 10,
	HandshakeTimeout: time.Second * 10,
}

func parseOption(opts ...*Option) (*Option, error) {
	if len(opts) == 0 || opts[0] == nil {
		return DefaultOption, nil
	}
	if len(opts) != 1 {
		return nil, errors.New("only one option is supported")
	}
	opt := *opts[0]
	if opt.MaxFrameSize == 0 {
		opt.MaxFrameSize = DefaultOption.MaxFrameSize
	}
	if opt.ConnectTimeout < 0 || opt.HandshakeTimeout < 0 || opt.ReceiveTimeout < 0 {
		return nil, errors.New("negative timeout")
	}
	return &opt, nil
}

// Server 为每个连接启动一个协程，完成握手后循环处理请求
// 多个服务名共用一个 Server，由 Handler 根据 Session.Service() 分发
type Server struct {
	opt      *Option
	reg      *registry.Registry
	handler  Handler
	sessions sync.Map

	mu        sync.Mutex
	listeners map[transport.Listener]struct{}
	conns     map[transport.Conn]struct{}
	closed    bool
	wg        sync.WaitGroup
}

func NewServer(handler Handler, opts ...*Option) (*Server, error) {
	opt, err := parseOption(opts...)
	if err != nil {
		return nil, err
	}
	return &Server{
		opt:       opt,
		reg:       registry.New(),
		handler:   handler,
		listeners: make(map[transport.Listener]struct{}),
		conns:     make(map[transport.Conn]struct{}),
	}, nil
}

func (server *Server) Registry() *registry.Registry {
	return server.reg
}

func (server *Server) Offer(name string) error {
	return server.reg.Offer(name)
}

// Withdraw 之后新的握手会被拒绝，已经 ACTIVE 的会话不受影响
func (server *Server) Withdraw(name string) {
	server.reg.Withdraw(name)
}

// 当前所有 ACTIVE 的会话，按建立时间排序
func (server *Server) Sessions() []*Session {
	var sessions []*Session
	server.sessions.Range(func(_, si interface{}) bool {
		sessions = append(sessions, si.(*Session))
		return true
	})
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].started.Before(sessions[j].started)
	})
	return sessions
}

// ctx 取消时握手也会中止，HandshakeTimeout 只会缩短它的期限
func (server *Server) handshake(ctx context.Context, conn transport.Conn) (*Session, error) {
	if server.opt.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, server.opt.HandshakeTimeout)
		defer cancel()
	}
	s, err := serverHandshake(ctx, conn, server.reg, server.opt)
	if err != nil {
		return nil, err
	}
	s.onClose = func(s *Session) {
		server.sessions.Delete(s.ID())
	}
	server.sessions.Store(s.ID(), s)
	logrus.Infof("srpc.Server: %s accepted for service %s from %s", s, s.Service(), s.RemoteAddr())
	return s, nil
}

func (server *Server) trackListener(l transport.Listener) bool {
	server.mu.Lock()
	defer server.mu.Unlock()
	if server.closed {
		return false
	}
	server.listeners[l] = struct{}{}
	return true
}

func (server *Server) trackConn(conn transport.Conn, add bool) bool {
	server.mu.Lock()
	defer server.mu.Unlock()
	if !add {
		delete(server.conns, conn)
		return true
	}
	if server.closed {
		return false
	}
	server.conns[conn] = struct{}{}
	return true
}

// 服务端关闭后不再启动新的处理协程
func (server *Server) addWorker() bool {
	server.mu.Lock()
	defer server.mu.Unlock()
	if server.closed {
		return false
	}
	server.wg.Add(1)
	return true
}

func (server *Server) isClosed() bool {
	server.mu.Lock()
	defer server.mu.Unlock()
	return server.closed
}

// Accept 循环接受连接，直到 listener 被关闭
func (server *Server) Accept(l transport.Listener) {
	if !server.trackListener(l) {
		_ = l.Close()
		return
	}
	for {
		conn, err := l.Accept()
		if err != nil {
			if !server.isClosed() {
				logrus.Errorf("srpc.Server.Accept: %v", err)
			}
			return
		}
		if !server.addWorker() {
			_ = conn.Close()
			return
		}
		go func() {
			defer server.wg.Done()
			server.ServeConn(conn)
		}()
	}
}

// ListenAndServe 在 rpcAddr 上监听并阻塞处理连接
func (server *Server) ListenAndServe(rpcAddr string) error {
	l, err := transport.Listen(rpcAddr, &transport.Options{MaxFrameSize: server.opt.MaxFrameSize})
	if err != nil {
		return err
	}
	logrus.Infof("srpc.Server: listen on %s", l.Addr())
	server.Accept(l)
	return nil
}

// ServeConn 处理单个连接，并阻塞直到连接关闭
func (server *Server) ServeConn(conn transport.Conn) {
	defer conn.Close()
	if !server.trackConn(conn, true) {
		return
	}
	defer server.trackConn(conn, false)
	s, err := server.handshake(context.Background(), conn)
	if err != nil {
		logrus.Warnf("srpc.Server.ServeConn: %v", err)
		return
	}
	defer s.Close()
	if server.handler == nil {
		logrus.Errorf("srpc.Server.ServeConn: no handler for %s", s)
		return
	}
	for {
		req, err := s.Receive(context.Background())
		if err != nil {
			if errors.Is(err, ErrConnection) {
				logrus.Debugf("srpc.Server.ServeConn: %s ended: %v", s, err)
			} else {
				logrus.Warnf("srpc.Server.ServeConn: %s: read request error: %v", s, err)
			}
			return
		}
		resp, err := server.handler.ServeSRPC(s, req)
		if err != nil {
			// 帧里没有错误信息的位置，只能关闭会话
			logrus.Errorf("srpc.Server.ServeConn: %s: handler error: %v", s, err)
			return
		}
		if err := s.Respond(resp); err != nil {
			logrus.Warnf("srpc.Server.ServeConn: %s: write response error: %v", s, err)
			return
		}
	}
}

// Close 停止所有 listener，关闭所有会话并等待处理协程退出
func (server *Server) Close() error {
	server.mu.Lock()
	if server.closed {
		server.mu.Unlock()
		return nil
	}
	server.closed = true
	listeners, conns := server.listeners, server.conns
	server.listeners, server.conns = nil, nil
	server.mu.Unlock()

	for l := range listeners {
		_ = l.Close()
	}
	for _, s := range server.Sessions() {
		_ = s.Close()
	}
	for conn := range conns {
		_ = conn.Close()
	}
	server.wg.Wait()
	return nil
}
