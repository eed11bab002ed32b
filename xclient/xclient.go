package xclient

import (
	"context"
	"sync"

	"srpc"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// XClient 在多个提供同一服务的服务器之间选择，并复用已经建立的会话
type XClient struct {
	d       Discovery
	mode    SelectMode
	service string
	flags   uint32
	opt     *srpc.Option
	// 已经与对应服务器握手成功的会话，可以复用
	sessions map[string]*srpc.Session
	mu       sync.Mutex
}

func NewXClient(d Discovery, mode SelectMode, service string, opt *srpc.Option) *XClient {
	return &XClient{
		d:        d,
		mode:     mode,
		service:  service,
		opt:      opt,
		sessions: make(map[string]*srpc.Session),
	}
}

// WithFlags 设置握手时发送的标志位
func (c *XClient) WithFlags(flags uint32) *XClient {
	c.flags = flags
	return c
}

// 关闭所有的会话
func (c *XClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		_ = s.Close()
	}
	c.sessions = make(map[string]*srpc.Session)
	return nil
}

// 获取对应地址的会话
func (c *XClient) dial(ctx context.Context, rpcAddr string) (*srpc.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[rpcAddr]
	// 如果会话已不再可用，则关闭并删除
	if ok && s.State() != srpc.StateActive {
		_ = s.Close()
		logrus.Warnf("srpc.XClient.dial: %s is %s, close it", s, s.State())
		delete(c.sessions, rpcAddr)
		s = nil
	}
	if s == nil {
		var err error
		s, err = srpc.Dial(ctx, rpcAddr, c.service, c.flags, c.opt)
		if err != nil {
			return nil, err
		}
		c.sessions[rpcAddr] = s
	}
	return s, nil
}

// 发起对应地址的调用
func (c *XClient) call(ctx context.Context, rpcAddr string, req []byte) ([]byte, error) {
	s, err := c.dial(ctx, rpcAddr)
	if err != nil {
		return nil, err
	}
	return s.Call(ctx, req)
}

// Call 选择一个服务器发起调用，key 只在一致性哈希模式下使用
// 选中的服务器无法连接或者拒绝握手时，依次尝试其他服务器
func (c *XClient) Call(ctx context.Context, key string, req []byte) ([]byte, error) {
	rpcAddr, err := c.d.Get(c.mode, key)
	if err != nil {
		return nil, err
	}
	s, err := c.dial(ctx, rpcAddr)
	if err != nil {
		if !retryable(err) {
			return nil, err
		}
		logrus.Warnf("srpc.XClient.Call: %s: %v", rpcAddr, err)
		if s, err = c.dialOthers(ctx, rpcAddr, err); err != nil {
			return nil, err
		}
	}
	return s.Call(ctx, req)
}

func retryable(err error) bool {
	return errors.Is(err, srpc.ErrHandshake) || errors.Is(err, srpc.ErrConnection) || errors.Is(err, srpc.ErrTimeout)
}

// 跳过 tried，依次尝试其他服务器，全部失败时返回最后一个错误
func (c *XClient) dialOthers(ctx context.Context, tried string, lastErr error) (*srpc.Session, error) {
	servers, err := c.d.GetAll()
	if err != nil {
		return nil, err
	}
	for _, rpcAddr := range servers {
		if rpcAddr == tried {
			continue
		}
		s, err := c.dial(ctx, rpcAddr)
		if err == nil {
			return s, nil
		}
		if !retryable(err) {
			return nil, err
		}
		logrus.Warnf("srpc.XClient.Call: %s: %v", rpcAddr, err)
		lastErr = err
	}
	return nil, lastErr
}

// Broadcast 将请求广播到所有的服务器，返回其中一个响应
// 如果有一个服务器返回错误，则取消其他调用并返回错误
func (c *XClient) Broadcast(ctx context.Context, req []byte) ([]byte, error) {
	servers, err := c.d.GetAll()
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, ErrNoServer
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	var reply []byte
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, rpcAddr := range servers {
		wg.Add(1)
		go func(rpcAddr string) {
			defer wg.Done()
			resp, e := c.call(ctx, rpcAddr, req)
			mu.Lock()
			defer mu.Unlock()
			// 只保留第一个错误
			if err == nil && e != nil {
				err = errors.Wrapf(e, "broadcast to %s", rpcAddr)
				cancel()
			}
			if e == nil && reply == nil {
				reply = resp
				if reply == nil {
					reply = []byte{}
				}
			}
		}(rpcAddr)
	}
	wg.Wait()
	if err != nil {
		return nil, err
	}
	return reply, nil
}
