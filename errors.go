package srpc

import (
	"srpc/codec"
	"srpc/transport"

	"github.com/pkg/errors"
)

// 所有返回的错误都包装了下面的某一个，可以用 errors.Is 判断
var (
	// 端口无法绑定、重复初始化、未初始化就使用
	ErrInitialization = errors.New("srpc: initialization error")
	// 服务未提供、握手帧格式错误
	ErrHandshake = errors.New("srpc: handshake error")
	// 对端断开或者底层流出错
	ErrConnection = transport.ErrConnection
	// 长度前缀错误或者帧过大
	ErrFraming = codec.ErrFraming
	// 请求和响应没有严格交替
	ErrProtocolViolation = errors.New("srpc: protocol violation")
	// 接收超时
	ErrTimeout = transport.ErrTimeout
)
