// Package config 从 YAML 文件和环境变量加载 srpc 命令行的配置
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"srpc"
	"srpc/codec"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	RPC    RPCConfig    `mapstructure:"rpc"`
	Server ServerConfig `mapstructure:"server"`
	Client ClientConfig `mapstructure:"client"`
}

type LogConfig struct {
	// debug, info, warn, error
	Level string `mapstructure:"level"`
	// color 或者 json
	Format string `mapstructure:"format"`
	// 是否输出调用位置
	ReportCaller bool `mapstructure:"report_caller"`
	// 为空时输出到 stderr，否则写入文件并按 Rotation 切割
	File     string         `mapstructure:"file"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

type RPCConfig struct {
	MaxFrameSize     uint32        `mapstructure:"max_frame_size"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReceiveTimeout   time.Duration `mapstructure:"receive_timeout"`
}

type ServerConfig struct {
	// 监听地址，如 tcp://:9000、unix:///tmp/srpc.sock、ws://:9000
	Addr     string   `mapstructure:"addr"`
	Services []string `mapstructure:"services"`
	// 调试页面的 HTTP 地址，为空时不启动
	DebugAddr string `mapstructure:"debug_addr"`
}

type ClientConfig struct {
	Addr    string `mapstructure:"addr"`
	Service string `mapstructure:"service"`
	Flags   uint32 `mapstructure:"flags"`
	// 多个服务器时由 xclient 选择，random、roundrobin 或 consistenthash
	Servers    []string `mapstructure:"servers"`
	SelectMode string   `mapstructure:"select_mode"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "color",
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		RPC: RPCConfig{
			MaxFrameSize:     codec.DefaultMaxFrameSize,
			ConnectTimeout:   srpc.DefaultOption.ConnectTimeout,
			HandshakeTimeout: srpc.DefaultOption.HandshakeTimeout,
		},
		Server: ServerConfig{
			Addr:     "tcp://:9000",
			Services: []string{"ECHO"},
		},
		Client: ClientConfig{
			Addr:       "tcp://127.0.0.1:9000",
			Service:    "ECHO",
			SelectMode: "random",
		},
	}
}

// Load 读取 path 指定的配置文件，path 为空时依次查找 SRPC_CONFIG、./srpc.yaml、~/.srpc/srpc.yaml
// 环境变量以 SRPC 为前缀覆盖配置，如 SRPC_LOG_LEVEL=debug、SRPC_RPC_RECEIVE_TIMEOUT=5s
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SRPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// 设置默认值之后只有环境变量的配置也能生效
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.report_caller", cfg.Log.ReportCaller)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("rpc.max_frame_size", cfg.RPC.MaxFrameSize)
	v.SetDefault("rpc.connect_timeout", cfg.RPC.ConnectTimeout)
	v.SetDefault("rpc.handshake_timeout", cfg.RPC.HandshakeTimeout)
	v.SetDefault("rpc.receive_timeout", cfg.RPC.ReceiveTimeout)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.services", cfg.Server.Services)
	v.SetDefault("server.debug_addr", cfg.Server.DebugAddr)
	v.SetDefault("client.addr", cfg.Client.Addr)
	v.SetDefault("client.service", cfg.Client.Service)
	v.SetDefault("client.flags", cfg.Client.Flags)
	v.SetDefault("client.servers", cfg.Client.Servers)
	v.SetDefault("client.select_mode", cfg.Client.SelectMode)

	if path == "" {
		path = os.Getenv("SRPC_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("srpc")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".srpc"))
		}
	}

	// 没有找到配置文件时使用默认值和环境变量
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	} else {
		logrus.Debugf("srpc config: using %s", v.ConfigFileUsed())
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := logrus.ParseLevel(strings.TrimSpace(c.Log.Level)); err != nil {
		return errors.Errorf("invalid log.level: %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "color", "text":
		c.Log.Format = "color"
	case "json":
		c.Log.Format = "json"
	default:
		return errors.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if c.RPC.ConnectTimeout < 0 || c.RPC.HandshakeTimeout < 0 || c.RPC.ReceiveTimeout < 0 {
		return errors.New("rpc timeouts must not be negative")
	}
	if c.RPC.MaxFrameSize == 0 {
		c.RPC.MaxFrameSize = codec.DefaultMaxFrameSize
	}
	for _, name := range c.Server.Services {
		if err := codec.ValidServiceName(name); err != nil {
			return errors.Wrap(err, "server.services")
		}
	}
	return nil
}

// Option 返回对应的 srpc.Option
func (c *Config) Option() *srpc.Option {
	return &srpc.Option{
		MaxFrameSize:     c.RPC.MaxFrameSize,
		ConnectTimeout:   c.RPC.ConnectTimeout,
		HandshakeTimeout: c.RPC.HandshakeTimeout,
		ReceiveTimeout:   c.RPC.ReceiveTimeout,
	}
}
