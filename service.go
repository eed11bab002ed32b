package srpc

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Handler 处理一个请求并返回响应
// 返回 error 时会话会被关闭，因为响应帧中没有携带错误的位置
type Handler interface {
	ServeSRPC(s *Session, req []byte) ([]byte, error)
}

type HandlerFunc func(s *Session, req []byte) ([]byte, error)

func (f HandlerFunc) ServeSRPC(s *Session, req []byte) ([]byte, error) {
	return f(s, req)
}

// EchoHandler 原样返回请求
var EchoHandler = HandlerFunc(func(_ *Session, req []byte) ([]byte, error) {
	return req, nil
})

// 一个被注册的服务
type service struct {
	name    string
	handler Handler
	// 服务被调用的次数
	numCalls uint64
}

// 返回服务被调用的次数
func (svc *service) NumCalls() uint64 {
	return atomic.LoadUint64(&svc.numCalls)
}

// ServeMux 根据握手时协商的服务名分发请求
type ServeMux struct {
	mu       sync.RWMutex
	services map[string]*service
}

func NewServeMux() *ServeMux {
	return &ServeMux{services: make(map[string]*service)}
}

func (mux *ServeMux) Handle(name string, h Handler) error {
	if h == nil {
		return errors.New("srpc: nil handler for service " + name)
	}
	mux.mu.Lock()
	defer mux.mu.Unlock()
	if _, dup := mux.services[name]; dup {
		return errors.New("srpc: service already defined: " + name)
	}
	mux.services[name] = &service{name: name, handler: h}
	logrus.Infof("srpc server: register service %s", name)
	return nil
}

func (mux *ServeMux) HandleFunc(name string, f func(s *Session, req []byte) ([]byte, error)) error {
	return mux.Handle(name, HandlerFunc(f))
}

func (mux *ServeMux) ServeSRPC(s *Session, req []byte) ([]byte, error) {
	mux.mu.RLock()
	svc, ok := mux.services[s.Service()]
	mux.mu.RUnlock()
	if !ok {
		return nil, errors.New("srpc: can't find service " + s.Service())
	}
	atomic.AddUint64(&svc.numCalls, 1)
	return svc.handler.ServeSRPC(s, req)
}

type ServiceStat struct {
	Name     string
	NumCalls uint64
}

func (mux *ServeMux) Stats() []ServiceStat {
	mux.mu.RLock()
	defer mux.mu.RUnlock()
	stats := make([]ServiceStat, 0, len(mux.services))
	for name, svc := range mux.services {
		stats = append(stats, ServiceStat{Name: name, NumCalls: svc.NumCalls()})
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Name < stats[j].Name
	})
	return stats
}
