package main

import (
	"context"

	"github.com/progrium/dchan-go/cmd/dchan/cli"
	"github.com/progrium/dchan-go/datachannel"
	"github.com/progrium/dchan-go/peer"
	"go.uber.org/zap"
)

var proxyCmd = &cli.Command{
	Usage: "proxy <listen-url> <dial-url> [key=value...]",
	Short: "relay channels between transports",
	Long:  `proxy accepts connections on one transport and relays every channel to a connection dialed on another`,
	Args:  cli.MinArgs(2),
	Run: func(ctx context.Context, args []string) {
		a := setup()
		defer a.log.Sync()

		args, opts := splitOptions(args)
		lscheme, laddr, err := parseURL(args[0])
		a.fatal(err)
		dscheme, daddr, err := parseURL(args[1])
		a.fatal(err)
		options := a.options(opts)

		l, err := peer.ListenOn(lscheme, laddr, options)
		a.fatal(err)
		defer l.Close()
		a.log.Info("proxying", zap.Stringer("from", l.Addr()), zap.String("to", args[1]))

		go func() {
			<-ctx.Done()
			l.Close()
		}()
		for {
			src, err := l.Accept()
			if err != nil {
				if ctx.Err() == nil {
					a.log.Error("accept", zap.Error(err))
				}
				return
			}
			go func() {
				defer src.Close()
				dst, err := peer.Dial(ctx, dscheme, daddr, options)
				if err != nil {
					a.log.Error("dial", zap.Error(err))
					return
				}
				defer dst.Close()
				go func() {
					select {
					case <-dst.Closed():
						src.Close()
					case <-src.Closed():
					}
				}()
				if err := datachannel.Proxy(ctx, dst, src); err != nil {
					a.log.Warn("proxy", zap.Error(err))
				}
			}()
		}
	},
}
