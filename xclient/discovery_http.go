package xclient

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"srpc/registry"

	"github.com/sirupsen/logrus"
)

// HTTPDiscovery 通过服务器的调试接口查询哪些服务器提供了 service
// 复用 MultiDiscovery 的选择算法，服务器列表过期后在 Get 时刷新
type HTTPDiscovery struct {
	*MultiDiscovery
	service string
	// rpc 地址到服务列表 URL 的映射
	// 如 tcp://127.0.0.1:9000 -> http://127.0.0.1:9001/debug/srpc/services
	candidates map[string]string
	// 服务列表的过期时间
	timeout time.Duration
	client  *http.Client

	updateMu sync.Mutex
	// 最后更新服务的时间
	lastUpdate time.Time
}

const (
	defaultUpdateTimeout = time.Second * 10
)

func NewHTTPDiscovery(service string, candidates map[string]string, timeout time.Duration) *HTTPDiscovery {
	if timeout == 0 {
		timeout = defaultUpdateTimeout
	}
	c := make(map[string]string, len(candidates))
	for k, v := range candidates {
		c[k] = v
	}
	return &HTTPDiscovery{
		MultiDiscovery: NewMultiDiscovery(nil),
		service:        service,
		candidates:     c,
		timeout:        timeout,
		client:         &http.Client{Timeout: time.Second * 5},
	}
}

func (d *HTTPDiscovery) Update(servers []string) error {
	d.updateMu.Lock()
	defer d.updateMu.Unlock()
	d.lastUpdate = time.Now()
	return d.MultiDiscovery.Update(servers)
}

func (d *HTTPDiscovery) Refresh() error {
	d.updateMu.Lock()
	defer d.updateMu.Unlock()
	if time.Since(d.lastUpdate) < d.timeout {
		return nil
	}
	servers := make([]string, 0, len(d.candidates))
	for rpcAddr, url := range d.candidates {
		offered, err := d.offers(url)
		if err != nil {
			logrus.Warnf("srpc.HTTPDiscovery.Refresh: %s: %v", url, err)
			continue
		}
		if offered {
			servers = append(servers, rpcAddr)
		}
	}
	sort.Strings(servers)
	logrus.Infof("srpc.HTTPDiscovery.Refresh: servers for %s: %v", d.service, servers)
	d.lastUpdate = time.Now()
	return d.MultiDiscovery.Update(servers)
}

// 查询 url 对应的服务器是否提供了 d.service
func (d *HTTPDiscovery) offers(url string) (bool, error) {
	resp, err := d.client.Head(url)
	if err != nil {
		return false, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	for _, name := range strings.Split(resp.Header.Get(registry.DefaultHTTPField), ",") {
		if strings.TrimSpace(name) == d.service {
			return true, nil
		}
	}
	return false, nil
}

func (d *HTTPDiscovery) Get(mode SelectMode, key string) (string, error) {
	if err := d.Refresh(); err != nil {
		return "", err
	}
	return d.MultiDiscovery.Get(mode, key)
}

func (d *HTTPDiscovery) GetAll() ([]string, error) {
	if err := d.Refresh(); err != nil {
		return nil, err
	}
	return d.MultiDiscovery.GetAll()
}
