package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"srpc"
	"srpc/config"
	"srpc/main/logfmt"
	"srpc/xclient"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var (
	cfg       *config.Config
	logCloser io.Closer
)

// 收到 "q" 之后结束会话
const quit = "q"

func setup(c *cli.Context) error {
	var err error
	if cfg, err = config.Load(c.GlobalString("config")); err != nil {
		return err
	}
	if level := c.GlobalString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	logCloser, err = logfmt.Setup(cfg.Log)
	return err
}

// 内置的服务，没有列出的服务名按 ECHO 处理
func builtinHandler(name string) srpc.Handler {
	switch name {
	case "UPPER":
		return srpc.HandlerFunc(func(_ *srpc.Session, req []byte) ([]byte, error) {
			return bytes.ToUpper(req), nil
		})
	case "TIME":
		return srpc.HandlerFunc(func(_ *srpc.Session, _ []byte) ([]byte, error) {
			return []byte(time.Now().Format(time.RFC3339)), nil
		})
	default:
		return srpc.EchoHandler
	}
}

func serverFlags(c *cli.Context) (string, []string) {
	addr, services := cfg.Server.Addr, cfg.Server.Services
	if c.String("addr") != "" {
		addr = c.String("addr")
	}
	if s := c.StringSlice("service"); len(s) > 0 {
		services = s
	}
	return addr, services
}

func serveDebug(server *srpc.Server) {
	if cfg.Server.DebugAddr == "" {
		return
	}
	go func() {
		logrus.Infof("srpc debug page on http://%s%s", cfg.Server.DebugAddr, srpc.DefaultDebugPath)
		if err := http.ListenAndServe(cfg.Server.DebugAddr, srpc.NewDebugHandler(server)); err != nil {
			logrus.Errorf("srpc debug server: %v", err)
		}
	}()
}

// 单会话服务端：依次服务每个客户端，原样返回请求，直到收到 "q"
func serverCommand(c *cli.Context) error {
	if c.Bool("concurrent") {
		return muxServerCommand(c)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr, services := serverFlags(c)
	e, err := srpc.NewEndpoint(cfg.Option())
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.InitAddr(addr); err != nil {
		return err
	}
	for _, name := range services {
		if err := e.Offer(name); err != nil {
			return err
		}
	}
	serveDebug(e.Server())

	for {
		msg, err := e.Listen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logrus.Warnf("srpc server: %v", err)
			continue
		}
		logrus.Infof("srpc server: request %q on %s", msg, e.Session().Service())
		if err := e.Respond(msg); err != nil {
			logrus.Warnf("srpc server: %v", err)
			continue
		}
		if string(msg) == quit {
			break
		}
	}
	return e.WithdrawAll()
}

// 并发服务端：每个连接一个协程，按服务名分发到内置的服务
func muxServerCommand(c *cli.Context) error {
	addr, services := serverFlags(c)
	mux := srpc.NewServeMux()
	server, err := srpc.NewServer(mux, cfg.Option())
	if err != nil {
		return err
	}
	for _, name := range services {
		if err := mux.Handle(name, builtinHandler(name)); err != nil {
			return err
		}
		if err := server.Offer(name); err != nil {
			return err
		}
	}
	serveDebug(server)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logrus.Info("srpc server: shutting down")
		_ = server.Close()
	}()
	return server.ListenAndServe(addr)
}

// 从 in 逐行读取请求并打印响应，发送 "q" 之后退出
func repl(in io.Reader, out io.Writer, call func(line string) ([]byte, error)) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		resp, err := call(line)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\n", resp)
		if line == quit {
			return nil
		}
	}
	return scanner.Err()
}

func clientCommand(c *cli.Context) error {
	ctx := context.Background()
	service := cfg.Client.Service
	if c.String("service") != "" {
		service = c.String("service")
	}
	servers := cfg.Client.Servers
	if c.String("addr") != "" {
		servers = nil
	}

	if len(servers) > 1 {
		mode, err := xclient.ParseSelectMode(cfg.Client.SelectMode)
		if err != nil {
			return err
		}
		xc := xclient.NewXClient(xclient.NewMultiDiscovery(servers), mode, service, cfg.Option()).WithFlags(cfg.Client.Flags)
		defer xc.Close()
		return repl(os.Stdin, os.Stdout, func(line string) ([]byte, error) {
			return xc.Call(ctx, line, []byte(line))
		})
	}

	addr := cfg.Client.Addr
	if len(servers) == 1 {
		addr = servers[0]
	}
	if c.String("addr") != "" {
		addr = c.String("addr")
	}
	e, err := srpc.NewEndpoint(cfg.Option())
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.Init(0); err != nil {
		return err
	}
	if err := e.ConnectAddr(ctx, addr, service, cfg.Client.Flags); err != nil {
		return err
	}
	defer e.Disconnect()
	return repl(os.Stdin, os.Stdout, func(line string) ([]byte, error) {
		return e.Call(ctx, []byte(line))
	})
}

func detailsCommand(c *cli.Context) error {
	e, err := srpc.NewEndpoint(cfg.Option())
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.Init(c.Int("port")); err != nil {
		return err
	}
	host, port, err := e.Details()
	if err != nil {
		return err
	}
	fmt.Printf("%s %d\n", host, port)
	return nil
}

func lookupCommand(c *cli.Context) error {
	e, err := srpc.NewEndpoint(cfg.Option())
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.Init(0); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ips := c.Args()
	if len(ips) == 0 {
		ips = cli.Args{""}
	}
	for _, ip := range ips {
		name, err := e.ReverseLookup(ctx, ip)
		if err != nil {
			return errors.Wrapf(err, "lookup %q", ip)
		}
		fmt.Println(strings.TrimSuffix(name, "."))
	}
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "srpc"
	app.Usage = "synchronous request/response RPC over named services"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path of the YAML config file",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "override log.level",
		},
	}
	app.Before = setup
	app.After = func(c *cli.Context) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:  "server",
			Usage: "Offer services and echo requests back until a client sends \"q\"",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "addr, a",
					Usage: "listen address, e.g. tcp://:9000, unix:///tmp/srpc.sock, ws://:9000",
				},
				cli.StringSliceFlag{
					Name:  "service, s",
					Usage: "service to offer, may be repeated",
				},
				cli.BoolFlag{
					Name:  "concurrent",
					Usage: "serve every connection in its own goroutine with the builtin ECHO, UPPER and TIME services",
				},
			},
			Action: serverCommand,
		},
		cli.Command{
			Name:  "client",
			Usage: "Connect to a service and send each line of stdin as a request",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "addr, a",
					Usage: "server address",
				},
				cli.StringFlag{
					Name:  "service, s",
					Usage: "service name",
				},
			},
			Action: clientCommand,
		},
		cli.Command{
			Name:  "details",
			Usage: "Print the local address of an endpoint",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "port, p",
					Usage: "bind a server endpoint on this port, 0 for a client",
				},
			},
			Action: detailsCommand,
		},
		cli.Command{
			Name:      "lookup",
			Usage:     "Reverse lookup the host name of each IP, or of this host",
			ArgsUsage: "[ip...]",
			Action:    lookupCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
