package srpc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"srpc/transport"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Endpoint 是同步的 RPC 端点，同一时刻最多持有一个会话
//
// 客户端: Init(0) -> Connect -> Call ... -> Disconnect
// 服务端: Init(port) -> Offer -> Listen/Respond ... -> WithdrawAll
//
// Listen、Respond、Call 会阻塞调用者，Disconnect、WithdrawAll 和 Close
// 可以在其他协程中调用来打断它们。
type Endpoint struct {
	opt      *Option
	resolver *Resolver

	mu    sync.Mutex
	role  Role
	state State
	// 当前的会话，没有时为 nil
	session *Session

	// 以下只在服务端使用
	server   *Server
	listener transport.Listener
	conns    chan transport.Conn
	// Listen 需要连接时写入，acceptLoop 只在有人等待时才接受连接
	want chan struct{}
	done chan struct{}
}

func NewEndpoint(opts ...*Option) (*Endpoint, error) {
	opt, err := parseOption(opts...)
	if err != nil {
		return nil, err
	}
	return &Endpoint{
		opt:      opt,
		resolver: NewResolver(DefaultResolverCacheSize),
	}, nil
}

func (e *Endpoint) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Session 返回当前的会话，没有时返回 nil
func (e *Endpoint) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Server 返回服务端的 Server，用于查看 registry 和会话，客户端返回 nil
func (e *Endpoint) Server() *Server {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.server
}

// 已经关闭或未初始化时不再修改状态
func (e *Endpoint) setState(state State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed || e.state == StateUninitialized {
		return
	}
	e.state = state
}

// Init 初始化端点，port 为 0 时作为客户端，否则作为服务端监听 port
func (e *Endpoint) Init(port int) error {
	if port < 0 || port > 65535 {
		return errors.Wrapf(ErrInitialization, "invalid port %d", port)
	}
	if port == 0 {
		return e.initClient()
	}
	return e.InitAddr(fmt.Sprintf("tcp://:%d", port))
}

func (e *Endpoint) checkUninitialized() error {
	if e.state != StateUninitialized && e.state != StateClosed {
		return errors.Wrapf(ErrInitialization, "endpoint already initialized as %s", e.role)
	}
	return nil
}

func (e *Endpoint) initClient() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkUninitialized(); err != nil {
		return err
	}
	e.role = RoleClient
	e.state = StateInitialized
	logrus.Debug("srpc.Endpoint.Init: client initialized")
	return nil
}

// InitAddr 作为服务端在 rpcAddr 上监听，rpcAddr 的格式与 Dial 相同
func (e *Endpoint) InitAddr(rpcAddr string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkUninitialized(); err != nil {
		return err
	}
	server, err := NewServer(nil, e.opt)
	if err != nil {
		return errors.Wrap(ErrInitialization, err.Error())
	}
	l, err := transport.Listen(rpcAddr, &transport.Options{MaxFrameSize: e.opt.MaxFrameSize})
	if err != nil {
		logrus.Errorf("srpc.Endpoint.Init: failed to initialize for %s: %v", rpcAddr, err)
		return errors.Wrapf(ErrInitialization, "bind %s: %v", rpcAddr, err)
	}
	e.role = RoleServer
	e.state = StateInitialized
	e.server = server
	e.listener = l
	e.conns = make(chan transport.Conn)
	e.want = make(chan struct{}, 1)
	e.done = make(chan struct{})
	go acceptLoop(l, e.want, e.conns, e.done)
	logrus.Infof("srpc.Endpoint.Init: server listen on %s", l.Addr())
	return nil
}

// 把 listener 接受的连接交给 Listen，listener 关闭后关闭 conns
// 会话进行中不接受新连接，它们留在内核的等待队列里
func acceptLoop(l transport.Listener, want <-chan struct{}, conns chan<- transport.Conn, done <-chan struct{}) {
	defer close(conns)
	for {
		select {
		case <-want:
		case <-done:
			return
		}
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-done:
			default:
				logrus.Errorf("srpc.Endpoint.accept: %v", err)
			}
			return
		}
		select {
		case conns <- conn:
		case <-done:
			_ = conn.Close()
			return
		}
	}
}

func (e *Endpoint) serverRole() (*Server, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.role != RoleServer || e.state == StateClosed {
		return nil, errors.Wrapf(ErrInitialization, "endpoint is not an initialized server (%s, %s)", e.role, e.state)
	}
	return e.server, nil
}

// Offer 提供一个服务，重复提供同一个服务不会报错
func (e *Endpoint) Offer(name string) error {
	server, err := e.serverRole()
	if err != nil {
		logrus.Errorf("srpc.Endpoint.Offer: failed to offer service %s: %v", name, err)
		return err
	}
	return server.Offer(name)
}

// Withdraw 撤销一个服务，已经 ACTIVE 的会话不受影响
func (e *Endpoint) Withdraw(name string) error {
	server, err := e.serverRole()
	if err != nil {
		return err
	}
	server.Withdraw(name)
	return nil
}

// WithdrawAll 撤销所有服务并关闭当前会话，可以重复调用
func (e *Endpoint) WithdrawAll() error {
	server, err := e.serverRole()
	if err != nil {
		return err
	}
	names := server.Registry().WithdrawAll()
	e.mu.Lock()
	s := e.session
	e.session = nil
	if e.state != StateClosed {
		e.state = StateInitialized
	}
	e.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
	if len(names) > 0 {
		logrus.Infof("srpc.Endpoint.WithdrawAll: withdraw %v", names)
	}
	return nil
}

// 会话已经关闭时将其移除，端点回到 INITIALIZED
func (e *Endpoint) dropSession(s *Session) {
	if s.State() != StateClosed {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != s {
		return
	}
	e.session = nil
	if e.state == StateActive {
		e.state = StateInitialized
	}
}

// Listen 阻塞直到收到下一个请求
// 没有会话时先接受连接并握手，被拒绝的连接不会让 Listen 返回，
// 在发出第一个请求之前就断开的客户端也不会
func (e *Endpoint) Listen(ctx context.Context) ([]byte, error) {
	server, err := e.serverRole()
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	s, want, conns, done := e.session, e.want, e.conns, e.done
	e.mu.Unlock()

	if s != nil {
		req, err := s.Receive(ctx)
		if err != nil {
			e.dropSession(s)
			return nil, err
		}
		return req, nil
	}
	for {
		if s, err = e.accept(ctx, server, want, conns, done); err != nil {
			return nil, err
		}
		req, err := s.Receive(ctx)
		if err == nil {
			return req, nil
		}
		e.dropSession(s)
		if !peerGone(err) {
			return nil, err
		}
		logrus.Warnf("srpc.Endpoint.Listen: %s closed before its first request: %v", s, err)
	}
}

// 对端关闭了连接，本地主动关闭的不算
func peerGone(err error) bool {
	return errors.Is(err, ErrConnection) && !errors.Is(err, transport.ErrClosed)
}

func (e *Endpoint) accept(ctx context.Context, server *Server, want chan struct{}, conns <-chan transport.Conn, done <-chan struct{}) (*Session, error) {
	var timeout <-chan time.Time
	if e.opt.ReceiveTimeout > 0 {
		timer := time.NewTimer(e.opt.ReceiveTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	// 放弃等待时收回还没被 acceptLoop 取走的请求
	abort := func(err error) (*Session, error) {
		select {
		case <-want:
		default:
		}
		e.setState(StateInitialized)
		return nil, err
	}
	for {
		e.setState(StateListening)
		select {
		case want <- struct{}{}:
		default:
		}
		var conn transport.Conn
		select {
		case c, ok := <-conns:
			if !ok {
				return nil, errors.Wrap(ErrConnection, "listener closed")
			}
			conn = c
		case <-done:
			return nil, errors.Wrap(ErrConnection, "endpoint closed")
		case <-ctx.Done():
			return abort(errors.Wrap(ctx.Err(), "srpc: listen aborted"))
		case <-timeout:
			return abort(errors.Wrapf(ErrTimeout, "no connection within %v", e.opt.ReceiveTimeout))
		}

		e.setState(StateHandshaking)
		s, err := server.handshake(ctx, conn)
		if err != nil {
			_ = conn.Close()
			if ctx.Err() != nil {
				return abort(errors.Wrap(ctx.Err(), "srpc: listen aborted"))
			}
			logrus.Warnf("srpc.Endpoint.Listen: %v", err)
			continue
		}

		e.mu.Lock()
		if e.state == StateClosed {
			e.mu.Unlock()
			_ = s.Close()
			return nil, errors.Wrap(ErrConnection, "endpoint closed")
		}
		e.session = s
		e.state = StateActive
		e.mu.Unlock()
		return s, nil
	}
}

// Respond 发送对最近一个请求的响应
func (e *Endpoint) Respond(msg []byte) error {
	if _, err := e.serverRole(); err != nil {
		return err
	}
	s := e.Session()
	if s == nil {
		return errors.Wrap(ErrProtocolViolation, "respond without a pending request")
	}
	if err := s.Respond(msg); err != nil {
		e.dropSession(s)
		return err
	}
	return nil
}

func (e *Endpoint) clientRole() error {
	if e.role != RoleClient || e.state == StateClosed {
		return errors.Wrapf(ErrInitialization, "endpoint is not an initialized client (%s, %s)", e.role, e.state)
	}
	return nil
}

// Connect 连接 host:port 上的 service，flags 保留给以后的握手选项
func (e *Endpoint) Connect(ctx context.Context, host string, port int, service string, flags uint32) error {
	return e.ConnectAddr(ctx, net.JoinHostPort(host, strconv.Itoa(port)), service, flags)
}

// ConnectAddr 连接 rpcAddr 上的 service
// 失败后端点仍然是 INITIALIZED，可以重新连接同一个或者其他地址
func (e *Endpoint) ConnectAddr(ctx context.Context, rpcAddr, service string, flags uint32) error {
	e.mu.Lock()
	if err := e.clientRole(); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.session != nil {
		e.mu.Unlock()
		return errors.Wrapf(ErrProtocolViolation, "already connected to %s", e.session.RemoteAddr())
	}
	if e.state != StateInitialized {
		e.mu.Unlock()
		return errors.Wrapf(ErrProtocolViolation, "connect while %s", e.state)
	}
	e.state = StateConnecting
	e.mu.Unlock()

	handshake := func(ctx context.Context, conn transport.Conn, service string, flags uint32, opt *Option) (*Session, error) {
		// 连接超时后 ConnectAddr 可能已经把状态改回 INITIALIZED
		e.mu.Lock()
		if e.state == StateConnecting {
			e.state = StateHandshaking
		}
		e.mu.Unlock()
		return clientHandshake(ctx, conn, service, flags, opt)
	}
	s, err := dialTimeout(ctx, handshake, rpcAddr, service, flags, e.opt)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		if e.state != StateClosed {
			e.state = StateInitialized
		}
		logrus.Warnf("srpc.Endpoint.Connect: %s %s: %v", rpcAddr, service, err)
		return err
	}
	if e.state == StateClosed {
		_ = s.Close()
		return errors.Wrap(ErrConnection, "endpoint closed")
	}
	e.session = s
	e.state = StateActive
	logrus.Infof("srpc.Endpoint.Connect: %s connected to %s at %s", s, service, s.RemoteAddr())
	return nil
}

// Call 发送一个请求并阻塞等待响应
func (e *Endpoint) Call(ctx context.Context, msg []byte) ([]byte, error) {
	e.mu.Lock()
	if err := e.clientRole(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return nil, errors.Wrap(ErrConnection, "not connected")
	}
	resp, err := s.Call(ctx, msg)
	if err != nil {
		e.dropSession(s)
		return nil, err
	}
	return resp, nil
}

// Disconnect 关闭客户端的会话，可以重复调用
func (e *Endpoint) Disconnect() error {
	e.mu.Lock()
	if err := e.clientRole(); err != nil {
		e.mu.Unlock()
		return err
	}
	s := e.session
	e.session = nil
	if e.state == StateActive {
		e.state = StateInitialized
	}
	e.mu.Unlock()
	if s == nil {
		return nil
	}
	logrus.Debugf("srpc.Endpoint.Disconnect: %s", s)
	return s.Close()
}

// Close 释放端点的所有资源，之后可以重新 Init
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.state == StateUninitialized || e.state == StateClosed {
		e.mu.Unlock()
		return nil
	}
	e.state = StateClosed
	s, l, server, done := e.session, e.listener, e.server, e.done
	e.session, e.listener, e.server, e.conns, e.want, e.done = nil, nil, nil, nil, nil, nil
	e.role = RoleNone
	e.mu.Unlock()

	if done != nil {
		close(done)
	}
	if s != nil {
		_ = s.Close()
	}
	var err error
	if l != nil {
		err = l.Close()
	}
	if server != nil {
		server.Registry().WithdrawAll()
		_ = server.Close()
	}
	return err
}
