package registry

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"srpc/codec"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Registry 保存一个服务端提供的服务名
// 握手时通过 IsOffered 查询，所有读写都由同一把锁保护
type Registry struct {
	services map[string]*ServiceItem
	mu       sync.Mutex
}

// 一个 service item 表示一个被提供的服务
type ServiceItem struct {
	// 服务名
	Name string
	// 服务开始提供的时间
	start time.Time
}

func (s *ServiceItem) Since() time.Duration {
	return time.Since(s.start)
}

const DefaultHTTPField = "X-Srpc-Services"

func New() *Registry {
	return &Registry{
		services: make(map[string]*ServiceItem),
	}
}

// 提供一个服务，重复提供同一个服务不会报错
func (r *Registry) Offer(name string) error {
	if err := codec.ValidServiceName(name); err != nil {
		return errors.Wrapf(err, "registry: offer %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name]; ok {
		return nil
	}
	r.services[name] = &ServiceItem{
		Name:  name,
		start: time.Now(),
	}
	logrus.Infof("srpc registry: offer service %s", name)
	return nil
}

// 撤销一个服务，服务不存在时什么都不做
func (r *Registry) Withdraw(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name]; ok {
		delete(r.services, name)
		logrus.Infof("srpc registry: withdraw service %s", name)
	}
}

// 撤销所有服务，返回被撤销的服务名
func (r *Registry) WithdrawAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.services = make(map[string]*ServiceItem)
	sort.Strings(names)
	return names
}

func (r *Registry) IsOffered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.services[name]
	return ok
}

// 获取所有服务，按名字排序
func (r *Registry) Services() []ServiceItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]ServiceItem, 0, len(r.services))
	for _, item := range r.services {
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
	return items
}

func (r *Registry) Names() []string {
	items := r.Services()
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	return names
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.services)
}

// Get: 通过自定义字段 X-Srpc-Services 返回所有服务
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case "GET", "HEAD":
		w.Header().Set(DefaultHTTPField, strings.Join(r.Names(), ","))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
