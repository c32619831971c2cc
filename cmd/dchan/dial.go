package main

import (
	"context"
	"io"
	"os"

	"github.com/progrium/dchan-go/cmd/dchan/cli"
	"github.com/progrium/dchan-go/datachannel"
	"github.com/progrium/dchan-go/peer"
	"go.uber.org/zap"
)

var dialCmd = &cli.Command{
	Usage: "dial <url> [name] [key=value...]",
	Short: "pipe stdio through a channel",
	Long:  `dial connects and pipes stdin and stdout through the named channel, or the default channel`,
	Args:  cli.MinArgs(1),
	Run: func(ctx context.Context, args []string) {
		a := setup()
		defer a.log.Sync()

		args, opts := splitOptions(args)
		scheme, addr, err := parseURL(args[0])
		a.fatal(err)

		conn, err := peer.Dial(ctx, scheme, addr, a.options(opts))
		a.fatal(err)
		defer conn.Close()

		ch := conn.Default()
		if len(args) > 1 {
			ch, err = conn.Create(args[1])
			a.fatal(err)
		}
		a.fatal(ch.WaitOpen(ctx))
		a.log.Debug("open", zap.String("label", ch.Label()))

		pipe(ctx, ch, os.Stdin, os.Stdout)
		if err := ch.Err(); err != nil {
			a.log.Error("channel", zap.Error(err))
		}
	},
}

// pipe copies r into ch and ch into w. Exhausting r closes the channel;
// pipe returns once every message received before the close is written.
func pipe(ctx context.Context, ch *datachannel.Channel, r io.Reader, w io.Writer) {
	go func() {
		io.Copy(ch, r)
		ch.Close()
	}()
	done := make(chan struct{})
	go func() {
		io.Copy(w, ch)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		ch.Close()
		<-done
	}
}
