package xclient

import (
	"math/rand"
	"sync"
	"time"

	"srpc/xclient/consistenthash"

	"github.com/pkg/errors"
)

type SelectMode uint8

const (
	SelectMode_Random SelectMode = iota
	SelectMode_RoundRobin
	// 相同的 key 总是落在同一个服务器上
	SelectMode_ConsistentHash
)

func (m SelectMode) String() string {
	switch m {
	case SelectMode_Random:
		return "random"
	case SelectMode_RoundRobin:
		return "roundrobin"
	case SelectMode_ConsistentHash:
		return "consistenthash"
	default:
		return "unknown"
	}
}

// ParseSelectMode 解析配置中的选择模式
func ParseSelectMode(s string) (SelectMode, error) {
	for _, m := range []SelectMode{SelectMode_Random, SelectMode_RoundRobin, SelectMode_ConsistentHash} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, errors.Errorf("unknown select mode %q", s)
}

var ErrNoServer = errors.New("no available server")

const defaultReplicas = 50

type Discovery interface {
	// 刷新服务列表
	Refresh() error
	// 手动更新服务列表
	Update(servers []string) error
	// 根据选择的模式选择一个服务器，key 只在一致性哈希模式下使用
	Get(mode SelectMode, key string) (string, error)
	// 获取所有的服务器
	GetAll() ([]string, error)
}

// MultiDiscovery 是一个不需要注册中心的多服务器选择器，服务器地址由用户提供
type MultiDiscovery struct {
	// 服务器列表，形如 tcp://127.0.0.1:9000
	serverList []string
	// 随机数生成器
	r *rand.Rand
	// 保护所有字段
	mu sync.RWMutex
	// 记录轮询算法当前选择的服务器
	index int
	ring  *consistenthash.ConsistentHash
}

func NewMultiDiscovery(serverList []string) *MultiDiscovery {
	d := &MultiDiscovery{
		r: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	d.setServers(serverList)
	d.index = d.r.Intn(1 << 30)
	return d
}

// 调用者持有 d.mu
func (d *MultiDiscovery) setServers(serverList []string) {
	d.serverList = append([]string(nil), serverList...)
	d.ring = consistenthash.New(defaultReplicas, nil)
	d.ring.Add(d.serverList...)
}

// 目前不支持自动刷新，需要调用 Update 手动刷新
func (d *MultiDiscovery) Refresh() error {
	return nil
}

func (d *MultiDiscovery) Update(serverList []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setServers(serverList)
	return nil
}

func (d *MultiDiscovery) Get(mode SelectMode, key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.serverList)
	if n == 0 {
		return "", ErrNoServer
	}
	switch mode {
	case SelectMode_Random:
		return d.serverList[d.r.Intn(n)], nil
	case SelectMode_RoundRobin:
		// 服务器列表可能已经更新，取模保证不越界
		s := d.serverList[d.index%n]
		d.index = (d.index + 1) % n
		return s, nil
	case SelectMode_ConsistentHash:
		return d.ring.Get(key), nil
	default:
		return "", errors.Errorf("unknown select mode %d", mode)
	}
}

func (d *MultiDiscovery) GetAll() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	servers := make([]string, len(d.serverList))
	copy(servers, d.serverList)
	return servers, nil
}
