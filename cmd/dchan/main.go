package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/progrium/dchan-go/cmd/dchan/cli"
	"github.com/progrium/dchan-go/codec"
	"github.com/progrium/dchan-go/mux"
	"github.com/progrium/dchan-go/peer"
	"go.uber.org/zap"
)

var configPath string

func main() {
	root := &cli.Command{
		Usage: "dchan",
		Long:  `dchan is a utility for working with named data channels`,
	}

	for _, cmd := range []*cli.Command{listenCmd, dialCmd, proxyCmd, checkCmd, webrtcCmd} {
		cmd.Flags().StringVar(&configPath, "config", "", "config file (default dchan.yaml)")
		root.AddCommand(cmd)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cli.Execute(ctx, root, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

// app carries what every command needs once configuration is loaded.
type app struct {
	cfg *Config
	log *zap.Logger
	lf  loggerFactory
}

func setup() *app {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return &app{cfg: cfg, log: log, lf: loggerFactory{log}}
}

func (a *app) fatal(err error) {
	if err != nil {
		a.log.Fatal("fatal", zap.Error(err))
	}
}

// options builds peer options from the config and inline key=value
// overrides.
func (a *app) options(overrides []string) peer.Options {
	ccfg, err := a.cfg.ChannelConfig(overrides)
	a.fatal(err)
	ccfg.LoggerFactory = a.lf
	c, _ := codec.ByName(a.cfg.Codec)
	return peer.Options{
		Mux:     mux.Config{Codec: c, LoggerFactory: a.lf},
		Channel: ccfg,
	}
}

// parseURL splits a transport URL like tcp://host:port, unix:///path,
// stdio: or mdns://instance into a scheme and an address.
func parseURL(s string) (scheme, addr string, err error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", "", err
	}
	if u.Scheme == "" {
		return "", "", fmt.Errorf("missing scheme in %q, expected one of %s", s, strings.Join(peer.Schemes(), ", "))
	}
	switch u.Scheme {
	case "unix":
		addr = u.Path
	case "stdio":
	default:
		addr = u.Host
		if addr == "" {
			addr = u.Opaque
		}
	}
	return u.Scheme, addr, nil
}

// splitOptions separates key=value arguments from the rest.
func splitOptions(args []string) (rest, opts []string) {
	for _, arg := range args {
		if strings.Contains(arg, "=") {
			opts = append(opts, arg)
		} else {
			rest = append(rest, arg)
		}
	}
	return rest, opts
}
