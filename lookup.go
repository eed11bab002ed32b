package srpc

import (
	"context"
	"net"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"
)

const DefaultResolverCacheSize = 128

// Resolver 将 IP 反查为完整的主机名，结果缓存在 LRU 中
type Resolver struct {
	mu    sync.Mutex
	cache *lru.Cache
	// 实际的反查函数，测试时可以替换
	lookupAddr func(ctx context.Context, addr string) ([]string, error)
}

func NewResolver(size int) *Resolver {
	return &Resolver{
		cache:      lru.New(size),
		lookupAddr: net.DefaultResolver.LookupAddr,
	}
}

func (r *Resolver) ReverseLookup(ctx context.Context, ip string) (string, error) {
	if net.ParseIP(ip) == nil {
		return "", errors.Errorf("srpc: reverse lookup: invalid ip address %q", ip)
	}
	r.mu.Lock()
	if v, ok := r.cache.Get(ip); ok {
		r.mu.Unlock()
		return v.(string), nil
	}
	r.mu.Unlock()

	names, err := r.lookupAddr(ctx, ip)
	if err != nil {
		return "", errors.Wrapf(err, "srpc: reverse lookup %s", ip)
	}
	if len(names) == 0 {
		return "", errors.Errorf("srpc: reverse lookup %s: no names", ip)
	}
	r.mu.Lock()
	r.cache.Add(ip, names[0])
	r.mu.Unlock()
	return names[0], nil
}

// Details 返回本端的 IP 地址和端口
// 服务端返回监听地址，已连接的客户端返回会话的本地地址，未连接的客户端端口为 0
func (e *Endpoint) Details() (string, int, error) {
	e.mu.Lock()
	role := e.role
	var addr net.Addr
	switch {
	case e.listener != nil:
		addr = e.listener.Addr()
	case e.session != nil:
		addr = e.session.LocalAddr()
	}
	e.mu.Unlock()

	if role == RoleNone {
		return "", 0, errors.Wrap(ErrInitialization, "details of an uninitialized endpoint")
	}
	if addr == nil {
		return localIP(), 0, nil
	}
	host, port := splitAddr(addr)
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = localIP()
	}
	return host, port, nil
}

// ReverseLookup 反查 ip 的主机名，ip 为空时反查本端的地址
func (e *Endpoint) ReverseLookup(ctx context.Context, ip string) (string, error) {
	if ip == "" {
		var err error
		if ip, _, err = e.Details(); err != nil {
			return "", err
		}
	}
	return e.resolver.ReverseLookup(ctx, ip)
}

func splitAddr(addr net.Addr) (string, int) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String(), a.Port
	case *net.UDPAddr:
		return a.IP.String(), a.Port
	default:
		return "", 0
	}
}

// 第一个非回环的 IPv4 地址，没有时返回 127.0.0.1
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return "127.0.0.1"
}
