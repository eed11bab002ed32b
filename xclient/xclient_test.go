package xclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"srpc"
	"srpc/transport"

	"github.com/pkg/errors"
)

func _assert(t *testing.T, ok bool, format string, args ...interface{}) {
	t.Helper()
	if !ok {
		t.Fatalf(format, args...)
	}
}

// 启动一个在响应前加上 tag 的服务器
func startServer(t *testing.T, tag string, services ...string) (*srpc.Server, string) {
	t.Helper()
	h := srpc.HandlerFunc(func(_ *srpc.Session, req []byte) ([]byte, error) {
		return append([]byte(tag+":"), req...), nil
	})
	server, err := srpc.NewServer(h)
	_assert(t, err == nil, "new server: %v", err)
	for _, name := range services {
		_assert(t, server.Offer(name) == nil, "offer %s", name)
	}
	l, err := transport.Listen("tcp://127.0.0.1:0", nil)
	_assert(t, err == nil, "listen: %v", err)
	go server.Accept(l)
	return server, "tcp://" + l.Addr().String()
}

func TestMultiDiscovery_Get(t *testing.T) {
	servers := []string{"tcp://a:1", "tcp://b:1", "tcp://c:1"}
	d := NewMultiDiscovery(servers)

	seen := make(map[string]int)
	for i := 0; i < 6; i++ {
		s, err := d.Get(SelectMode_RoundRobin, "")
		_assert(t, err == nil, "round robin: %v", err)
		seen[s]++
	}
	for _, s := range servers {
		_assert(t, seen[s] == 2, "round robin visited %s %d times", s, seen[s])
	}

	for i := 0; i < 10; i++ {
		s, err := d.Get(SelectMode_Random, "")
		_assert(t, err == nil && strings.HasPrefix(s, "tcp://"), "random: %s %v", s, err)
	}

	first, _ := d.Get(SelectMode_ConsistentHash, "user-42")
	for i := 0; i < 5; i++ {
		s, _ := d.Get(SelectMode_ConsistentHash, "user-42")
		_assert(t, s == first, "consistent hash moved from %s to %s", first, s)
	}

	_, err := d.Get(SelectMode(99), "")
	_assert(t, err != nil, "unknown mode should fail")

	_ = d.Update(nil)
	_, err = d.Get(SelectMode_RoundRobin, "")
	_assert(t, errors.Is(err, ErrNoServer), "empty list: %v", err)
	all, _ := d.GetAll()
	_assert(t, len(all) == 0, "GetAll after clear: %v", all)
}

func TestParseSelectMode(t *testing.T) {
	for _, m := range []SelectMode{SelectMode_Random, SelectMode_RoundRobin, SelectMode_ConsistentHash} {
		got, err := ParseSelectMode(m.String())
		_assert(t, err == nil && got == m, "parse %s: %v %v", m, got, err)
	}
	_, err := ParseSelectMode("fastest")
	_assert(t, err != nil, "unknown mode parsed")
}

func TestXClient_Call(t *testing.T) {
	s1, addr1 := startServer(t, "s1", "ECHO")
	defer s1.Close()
	s2, addr2 := startServer(t, "s2", "TIME")
	defer s2.Close()

	// addr2 没有提供 ECHO，连接被拒绝后换到 addr1
	d := NewMultiDiscovery([]string{addr2, addr1})
	xc := NewXClient(d, SelectMode_RoundRobin, "ECHO", nil)
	defer xc.Close()
	for i := 0; i < 4; i++ {
		resp, err := xc.Call(context.Background(), "", []byte("hi"))
		_assert(t, err == nil, "call %d: %v", i, err)
		_assert(t, string(resp) == "s1:hi", "call %d: %q", i, resp)
	}

	_ = d.Update([]string{addr2})
	_, err := xc.Call(context.Background(), "", []byte("hi"))
	_assert(t, errors.Is(err, srpc.ErrHandshake), "expect handshake error, got %v", err)
}

func TestXClient_Broadcast(t *testing.T) {
	s1, addr1 := startServer(t, "s1", "ECHO")
	defer s1.Close()
	s2, addr2 := startServer(t, "s2", "ECHO")
	defer s2.Close()

	xc := NewXClient(NewMultiDiscovery([]string{addr1, addr2}), SelectMode_Random, "ECHO", &srpc.Option{
		ConnectTimeout: time.Second,
	})
	defer xc.Close()
	resp, err := xc.Broadcast(context.Background(), []byte("all"))
	_assert(t, err == nil, "broadcast: %v", err)
	_assert(t, string(resp) == "s1:all" || string(resp) == "s2:all", "broadcast reply %q", resp)
	_assert(t, len(s1.Sessions()) == 1 && len(s2.Sessions()) == 1, "broadcast did not reach every server")

	s2.Withdraw("ECHO")
	_ = s2.Close()
	_, err = xc.Broadcast(context.Background(), []byte("all"))
	_assert(t, err != nil, "broadcast with a dead server should fail")

	_, err = NewXClient(NewMultiDiscovery(nil), SelectMode_Random, "ECHO", nil).Broadcast(context.Background(), nil)
	_assert(t, errors.Is(err, ErrNoServer), "broadcast without servers: %v", err)
}

func TestHTTPDiscovery(t *testing.T) {
	s1, addr1 := startServer(t, "s1", "ECHO")
	defer s1.Close()
	s2, addr2 := startServer(t, "s2", "TIME")
	defer s2.Close()
	h1 := httptest.NewServer(srpc.NewDebugHandler(s1))
	defer h1.Close()
	h2 := httptest.NewServer(srpc.NewDebugHandler(s2))
	defer h2.Close()

	d := NewHTTPDiscovery("ECHO", map[string]string{
		addr1:             h1.URL + srpc.DefaultServicesPath,
		addr2:             h2.URL + srpc.DefaultServicesPath,
		"tcp://gone:9000": "http://127.0.0.1:1" + srpc.DefaultServicesPath,
	}, time.Minute)
	all, err := d.GetAll()
	_assert(t, err == nil, "GetAll: %v", err)
	_assert(t, len(all) == 1 && all[0] == addr1, "servers for ECHO: %v", all)

	xc := NewXClient(d, SelectMode_ConsistentHash, "ECHO", nil)
	defer xc.Close()
	resp, err := xc.Call(context.Background(), "user-1", []byte("hi"))
	_assert(t, err == nil && string(resp) == "s1:hi", "call: %q %v", resp, err)

	// 手动更新后在 timeout 之内不会再查询
	_ = d.Update([]string{addr2})
	all, _ = d.GetAll()
	_assert(t, len(all) == 1 && all[0] == addr2, "manual update ignored: %v", all)
}
