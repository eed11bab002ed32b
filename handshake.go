package srpc

import (
	"context"

	"srpc/codec"
	"srpc/registry"
	"srpc/transport"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// 客户端握手：发送 Hello，阻塞等待 Ack
// 失败时由调用者关闭 conn
func clientHandshake(ctx context.Context, conn transport.Conn, service string, flags uint32, opt *Option) (*Session, error) {
	hello := &codec.Hello{
		Version: codec.Version,
		Flags:   flags,
		Service: service,
	}
	b, err := hello.Marshal()
	if err != nil {
		return nil, errors.Wrap(ErrHandshake, err.Error())
	}
	s := newSession(conn, RoleClient, opt)
	s.service, s.flags = service, flags
	if err := conn.Send(b); err != nil {
		return nil, err
	}
	payload, err := s.receive(ctx)
	if err != nil {
		return nil, err
	}
	ack, err := codec.UnmarshalAck(payload)
	if err != nil {
		return nil, errors.Wrap(ErrHandshake, err.Error())
	}
	if ack.Status != codec.AckAccepted {
		if ack.Reason != "" {
			return nil, errors.Wrapf(ErrHandshake, "service %q rejected by %s: %s (%s)", service, conn.RemoteAddr(), ack.Status, ack.Reason)
		}
		return nil, errors.Wrapf(ErrHandshake, "service %q rejected by %s: %s", service, conn.RemoteAddr(), ack.Status)
	}
	s.setState(StateActive)
	return s, nil
}

// 服务端握手：读取 Hello，查询 registry，回复 Ack
// 失败时由调用者关闭 conn
func serverHandshake(ctx context.Context, conn transport.Conn, reg *registry.Registry, opt *Option) (*Session, error) {
	s := newSession(conn, RoleServer, opt)
	payload, err := s.receive(ctx)
	if err != nil {
		return nil, err
	}
	hello, err := codec.UnmarshalHello(payload)
	if err != nil {
		reject(conn, codec.AckMalformed, err.Error())
		return nil, errors.Wrap(ErrHandshake, err.Error())
	}
	if hello.Version != codec.Version {
		reject(conn, codec.AckBadVersion, "")
		return nil, errors.Wrapf(ErrHandshake, "unsupported protocol version %d from %s", hello.Version, conn.RemoteAddr())
	}
	if !reg.IsOffered(hello.Service) {
		reject(conn, codec.AckNotOffered, hello.Service)
		return nil, errors.Wrapf(ErrHandshake, "service %q not offered, requested by %s", hello.Service, conn.RemoteAddr())
	}
	s.service, s.flags = hello.Service, hello.Flags
	ack := &codec.Ack{Version: codec.Version, Status: codec.AckAccepted}
	if err := conn.Send(ack.Marshal()); err != nil {
		return nil, err
	}
	s.setState(StateActive)
	return s, nil
}

func reject(conn transport.Conn, status codec.AckStatus, reason string) {
	ack := &codec.Ack{Version: codec.Version, Status: status, Reason: reason}
	if err := conn.Send(ack.Marshal()); err != nil {
		logrus.Debugf("srpc: send reject to %s: %v", conn.RemoteAddr(), err)
	}
}
