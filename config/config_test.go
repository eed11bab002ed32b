package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func _assert(t *testing.T, ok bool, format string, args ...interface{}) {
	t.Helper()
	if !ok {
		t.Fatalf(format, args...)
	}
}

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "srpc.yaml")
	_assert(t, os.WriteFile(path, []byte(text), 0o644) == nil, "write config")
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	_assert(t, err == nil, "load: %v", err)
	_assert(t, cfg.Log.Level == "info" && cfg.Log.Format == "color", "log defaults: %+v", cfg.Log)
	_assert(t, cfg.Server.Addr == "tcp://:9000", "server addr %q", cfg.Server.Addr)
	_assert(t, len(cfg.Server.Services) == 1 && cfg.Server.Services[0] == "ECHO", "services %v", cfg.Server.Services)
	opt := cfg.Option()
	_assert(t, opt.ConnectTimeout == 10*time.Second && opt.ReceiveTimeout == 0, "option %+v", opt)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
  file: /tmp/srpc-test.log
rpc:
  max_frame_size: 1024
  receive_timeout: 5s
server:
  addr: ws://127.0.0.1:0
  services: [ECHO, TIME]
  debug_addr: 127.0.0.1:0
client:
  servers: [tcp://10.0.0.1:9000, tcp://10.0.0.2:9000]
  select_mode: consistenthash
`)
	t.Setenv("SRPC_CLIENT_SERVICE", "TIME")
	cfg, err := Load(path)
	_assert(t, err == nil, "load: %v", err)
	_assert(t, cfg.Log.Level == "debug" && cfg.Log.Format == "json", "log %+v", cfg.Log)
	_assert(t, cfg.Log.Rotation.MaxBackups == 3, "rotation defaults lost: %+v", cfg.Log.Rotation)
	_assert(t, cfg.RPC.MaxFrameSize == 1024 && cfg.RPC.ReceiveTimeout == 5*time.Second, "rpc %+v", cfg.RPC)
	_assert(t, cfg.RPC.ConnectTimeout == 10*time.Second, "connect timeout default lost: %v", cfg.RPC.ConnectTimeout)
	_assert(t, len(cfg.Server.Services) == 2 && cfg.Server.Services[1] == "TIME", "services %v", cfg.Server.Services)
	_assert(t, cfg.Server.DebugAddr == "127.0.0.1:0", "debug addr %q", cfg.Server.DebugAddr)
	_assert(t, len(cfg.Client.Servers) == 2 && cfg.Client.SelectMode == "consistenthash", "client %+v", cfg.Client)
	_assert(t, cfg.Client.Service == "TIME", "env override ignored: %q", cfg.Client.Service)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "log:\n  level: loud\n"))
	_assert(t, err != nil, "invalid level accepted")
	_, err = Load(writeConfig(t, "rpc:\n  receive_timeout: -1s\n"))
	_assert(t, err != nil, "negative timeout accepted")
	_, err = Load(writeConfig(t, "server:\n  services: [\"\"]\n"))
	_assert(t, err != nil, "empty service name accepted")
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	_assert(t, err != nil, "missing explicit config file accepted")
}
