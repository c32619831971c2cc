package main

import (
	"context"
	"net"
	"strconv"

	"github.com/progrium/dchan-go/cmd/dchan/cli"
	"github.com/progrium/dchan-go/datachannel"
	"github.com/progrium/dchan-go/peer"
	"go.uber.org/zap"
)

var listenCmd = &cli.Command{
	Usage: "listen <url> [key=value...]",
	Short: "run an echo server",
	Long:  `listen accepts connections and echoes every message on every channel`,
	Args:  cli.MinArgs(1),
	Run: func(ctx context.Context, args []string) {
		a := setup()
		defer a.log.Sync()

		args, opts := splitOptions(args)
		scheme, addr, err := parseURL(args[0])
		a.fatal(err)

		l, err := peer.ListenOn(scheme, addr, a.options(opts))
		a.fatal(err)
		defer l.Close()
		a.log.Info("listening", zap.String("scheme", scheme), zap.Stringer("addr", l.Addr()))

		if a.cfg.Advertise != "" {
			_, port, err := net.SplitHostPort(l.Addr().String())
			a.fatal(err)
			p, err := strconv.Atoi(port)
			a.fatal(err)
			srv, err := peer.Advertise(a.cfg.Advertise, scheme, p)
			a.fatal(err)
			defer srv.Shutdown()
			a.log.Info("advertising", zap.String("instance", a.cfg.Advertise))
		}

		go func() {
			<-ctx.Done()
			l.Close()
		}()
		for {
			conn, err := l.Accept()
			if err != nil {
				if ctx.Err() == nil {
					a.log.Error("accept", zap.Error(err))
				}
				return
			}
			go serveEcho(ctx, a.log, conn)
		}
	},
}

func serveEcho(ctx context.Context, log *zap.Logger, conn *datachannel.Conn) {
	defer conn.Close()
	log.Info("connection")
	go echo(log, conn.Default())
	for {
		ch, err := conn.Accept(ctx)
		if err != nil {
			log.Info("connection closed", zap.NamedError("reason", conn.Wait()))
			return
		}
		go echo(log, ch)
	}
}

func echo(log *zap.Logger, ch *datachannel.Channel) {
	name := ch.Name()
	log.Debug("channel", zap.String("label", ch.Label()))
	defer log.Debug("channel closed", zap.String("name", name))
	for {
		msg, err := ch.ReadMessage()
		if err != nil {
			return
		}
		if err := ch.WriteMessage(msg); err != nil {
			return
		}
	}
}
