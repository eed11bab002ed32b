// Package transport provides the byte-stream sessions srpc runs over.
//
// A Conn carries whole frames: Send writes one length-prefixed frame and
// Receive blocks until exactly one frame has arrived. Stream transports
// (tcp, unix) frame with codec.FrameCodec, the websocket transport sends one
// binary message per frame.
package transport

import (
	"context"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"srpc/codec"

	"github.com/pkg/errors"
)

var (
	ErrConnection = errors.New("connection error")
	ErrTimeout    = errors.New("timeout")
	// ErrClosed 表示本端已经关闭连接，同时也是一种 ErrConnection
	ErrClosed = errors.Wrap(ErrConnection, "use of closed connection")
)

// Conn 是一个双向、有序、可靠的帧流
type Conn interface {
	// Send 发送一帧
	Send(payload []byte) error
	// Receive 阻塞直到收到完整的一帧或连接关闭
	Receive() ([]byte, error)
	// SetReadDeadline 设置 Receive 的截止时间，零值表示不超时
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	// Close 可以重复调用
	Close() error
}

// Listener 接受新的连接
type Listener interface {
	Accept() (Conn, error)
	Addr() net.Addr
	Close() error
}

type Options struct {
	MaxFrameSize uint32
	DialTimeout  time.Duration
}

// ParseAddr 解析形如 "tcp://127.0.0.1:5000" 的地址
// 没有协议前缀时默认为 tcp
func ParseAddr(rpcAddr string) (network, address string, err error) {
	parts := strings.SplitN(rpcAddr, "://", 2)
	if len(parts) == 1 {
		return "tcp", rpcAddr, nil
	}
	network, address = parts[0], parts[1]
	if address == "" {
		return "", "", errors.Errorf("transport: empty address in %q", rpcAddr)
	}
	switch network {
	case "tcp", "tcp4", "tcp6", "unix", "ws":
		return network, address, nil
	default:
		return "", "", errors.Errorf("transport: unsupported protocol %q", network)
	}
}

// Dial 建立到 rpcAddr 的连接
func Dial(ctx context.Context, rpcAddr string, opt *Options) (Conn, error) {
	if opt == nil {
		opt = &Options{}
	}
	network, address, err := ParseAddr(rpcAddr)
	if err != nil {
		return nil, err
	}
	if opt.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opt.DialTimeout)
		defer cancel()
	}
	if network == "ws" {
		return dialWS(ctx, address, opt)
	}
	d := &net.Dialer{}
	c, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, wrapErr(err)
	}
	return NewStreamConn(c, opt.MaxFrameSize), nil
}

// Listen 在 rpcAddr 上监听
func Listen(rpcAddr string, opt *Options) (Listener, error) {
	if opt == nil {
		opt = &Options{}
	}
	network, address, err := ParseAddr(rpcAddr)
	if err != nil {
		return nil, err
	}
	if network == "ws" {
		return listenWS(address, opt)
	}
	l, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	return &streamListener{l: l, maxFrameSize: opt.MaxFrameSize}, nil
}

// wrapErr 将底层错误归类为 ErrTimeout、ErrClosed、ErrFraming 或 ErrConnection
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, codec.ErrFraming) || errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrTimeout) || errors.Is(err, ErrClosed) {
		return err
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	if errors.Is(err, net.ErrClosed) {
		return errors.Wrap(ErrClosed, err.Error())
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Wrap(ErrConnection, "peer closed connection")
	}
	return errors.Wrap(ErrConnection, err.Error())
}
