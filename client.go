package srpc

import (
	"context"

	"srpc/transport"

	"github.com/pkg/errors"
)

type newSessionFunc func(ctx context.Context, conn transport.Conn, service string, flags uint32, opt *Option) (*Session, error)

type sessionResult struct {
	session *Session
	err     error
}

// Dial 连接 rpcAddr 上的 service 并完成握手，返回 ACTIVE 的客户端会话
// rpcAddr 形如 tcp://127.0.0.1:5000、unix:///tmp/srpc.sock、ws://127.0.0.1:8080
func Dial(ctx context.Context, rpcAddr, service string, flags uint32, opts ...*Option) (*Session, error) {
	opt, err := parseOption(opts...)
	if err != nil {
		return nil, err
	}
	return dialTimeout(ctx, clientHandshake, rpcAddr, service, flags, opt)
}

func dialTimeout(ctx context.Context, f newSessionFunc, rpcAddr, service string, flags uint32, opt *Option) (s *Session, err error) {
	// 连接和握手都要在 ConnectTimeout 内完成
	if opt.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opt.ConnectTimeout)
		defer cancel()
	}
	conn, err := transport.Dial(ctx, rpcAddr, &transport.Options{MaxFrameSize: opt.MaxFrameSize})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = conn.Close()
		}
	}()

	// 在新协程中握手，主协程等待结果或超时
	ch := make(chan sessionResult, 1)
	go func() {
		s, err := f(ctx, conn, service, flags, opt)
		ch <- sessionResult{s, err}
	}()
	select {
	case result := <-ch:
		return result.session, result.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrapf(ErrTimeout, "srpc client: connect timeout expect within %v", opt.ConnectTimeout)
		}
		return nil, errors.Wrap(ctx.Err(), "srpc client: connect aborted")
	}
}
