package srpc

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"srpc/transport"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

// Session 表示一个客户端和服务端之间的连接
// 握手成功之后进入 ACTIVE，之后请求和响应严格交替
type Session struct {
	id      uuid.UUID
	conn    transport.Conn
	role    Role
	opt     *Option
	started time.Time

	// 握手时协商的服务名和标志位
	service string
	flags   uint32

	// 客户端的 Call 串行执行，后来的调用会阻塞
	calling sync.Mutex
	// 保护 state 和 turn
	lock  sync.Mutex
	state State
	turn  Turn

	// 已完成的请求/响应次数
	numCalls uint64

	onClose func(*Session)
}

func newSession(conn transport.Conn, role Role, opt *Option) *Session {
	return &Session{
		id:      uuid.NewV4(),
		conn:    conn,
		role:    role,
		opt:     opt,
		started: time.Now(),
		state:   StateHandshaking,
		turn:    TurnClient,
	}
}

func (s *Session) ID() string { return s.id.String() }
func (s *Session) Role() Role { return s.role }
func (s *Session) Service() string { return s.service }
func (s *Session) Flags() uint32 { return s.flags }
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
func (s *Session) LocalAddr() net.Addr { return s.conn.LocalAddr() }
func (s *Session) Since() time.Duration { return time.Since(s.started) }
func (s *Session) NumCalls() uint64 { return atomic.LoadUint64(&s.numCalls) }
func (s *Session) String() string { return s.role.String() + " session " + s.ID() }

func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

func (s *Session) Turn() Turn {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.turn
}

func (s *Session) setState(state State) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.state = state
}

// 检查是否可以开始一次发送，可以则切换 turn
func (s *Session) begin(want, next Turn) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state != StateActive {
		return errors.Wrapf(ErrConnection, "%s is %s", s, s.state)
	}
	if s.turn != want {
		return errors.Wrapf(ErrProtocolViolation, "%s: %s's turn to send", s, s.turn)
	}
	s.turn = next
	return nil
}

func (s *Session) setTurn(t Turn) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.turn = t
}

// Call 发送一个请求并阻塞等待对应的响应，只能由客户端调用
func (s *Session) Call(ctx context.Context, req []byte) ([]byte, error) {
	if s.role != RoleClient {
		return nil, errors.Wrapf(ErrProtocolViolation, "%s: call on a server session", s)
	}
	s.calling.Lock()
	defer s.calling.Unlock()
	if err := s.begin(TurnClient, TurnServer); err != nil {
		return nil, err
	}
	if err := s.conn.Send(req); err != nil {
		return nil, s.fail(err)
	}
	resp, err := s.receive(ctx)
	if err != nil {
		return nil, s.fail(err)
	}
	s.setTurn(TurnClient)
	atomic.AddUint64(&s.numCalls, 1)
	return resp, nil
}

// Receive 阻塞等待下一个请求，只能由服务端调用
// 上一个请求还没有响应时返回 ErrProtocolViolation
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	if s.role != RoleServer {
		return nil, errors.Wrapf(ErrProtocolViolation, "%s: receive on a client session", s)
	}
	s.lock.Lock()
	if s.state != StateActive {
		s.lock.Unlock()
		return nil, errors.Wrapf(transport.ErrClosed, "%s is %s", s, s.state)
	}
	if s.turn != TurnClient {
		s.lock.Unlock()
		return nil, errors.Wrapf(ErrProtocolViolation, "%s: previous request has not been responded", s)
	}
	s.lock.Unlock()

	req, err := s.receive(ctx)
	if err != nil {
		return nil, s.fail(err)
	}
	s.setTurn(TurnServer)
	return req, nil
}

// Respond 发送对最近一个请求的响应，只能由服务端调用
func (s *Session) Respond(resp []byte) error {
	if s.role != RoleServer {
		return errors.Wrapf(ErrProtocolViolation, "%s: respond on a client session", s)
	}
	if err := s.begin(TurnServer, TurnClient); err != nil {
		if errors.Is(err, ErrProtocolViolation) {
			return errors.Wrapf(ErrProtocolViolation, "%s: respond without a pending request", s)
		}
		return err
	}
	if err := s.conn.Send(resp); err != nil {
		return s.fail(err)
	}
	atomic.AddUint64(&s.numCalls, 1)
	return nil
}

// receive 读取一帧，超时时间取 ReceiveTimeout 和 ctx 中较早的一个
// ctx 被取消时通过把读截止时间设为现在来打断阻塞的读
func (s *Session) receive(ctx context.Context) ([]byte, error) {
	var deadline time.Time
	if s.opt.ReceiveTimeout > 0 {
		deadline = time.Now().Add(s.opt.ReceiveTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, errors.Wrap(ErrConnection, err.Error())
	}
	if ctx.Done() != nil {
		stop, exited := make(chan struct{}), make(chan struct{})
		defer func() {
			close(stop)
			<-exited
		}()
		go func() {
			defer close(exited)
			select {
			case <-ctx.Done():
				_ = s.conn.SetReadDeadline(time.Now())
			case <-stop:
			}
		}()
	}
	payload, err := s.conn.Receive()
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, errors.Wrap(ctx.Err(), "srpc: receive aborted")
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(ErrTimeout, ctx.Err().Error())
		}
		return nil, err
	}
	return payload, nil
}

// 会话中的 I/O 错误都会关闭会话
func (s *Session) fail(err error) error {
	if s.State() == StateActive {
		logrus.Debugf("srpc.Session: %s closed after error: %v", s, err)
	}
	_ = s.Close()
	return err
}

// Close 关闭会话，可以重复调用
func (s *Session) Close() error {
	s.lock.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.lock.Unlock()
		return nil
	}
	s.state = StateClosing
	s.lock.Unlock()

	err := s.conn.Close()

	s.setState(StateClosed)
	if s.onClose != nil {
		s.onClose(s)
	}
	return err
}
