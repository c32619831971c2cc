package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/progrium/dchan-go/cmd/dchan/cli"
	"github.com/progrium/dchan-go/datachannel"
	pipetransport "github.com/progrium/dchan-go/transport/pipe"
)

var checkCmd = &cli.Command{
	Usage: "check [key=value...]",
	Short: "run an in-memory lifecycle check",
	Run: func(ctx context.Context, args []string) {
		a := setup()
		defer a.log.Sync()

		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		a.fatal(runCheck(ctx, a.options(args).Channel, func(step, detail string) {
			fmt.Printf("%s: %s\n", step, detail)
		}))
	},
}

// runCheck exercises the channel lifecycle over an in-memory transport,
// reporting each completed step.
func runCheck(ctx context.Context, cfg datachannel.Config, report func(step, detail string)) error {
	ta, tb := pipetransport.New()
	cfg.Initiator = true
	local, err := datachannel.New(ta, cfg)
	if err != nil {
		return err
	}
	defer local.Close()
	cfg.Initiator = false
	remote, err := datachannel.New(tb, cfg)
	if err != nil {
		return err
	}
	defer remote.Close()

	if err := local.WaitOpen(ctx); err != nil {
		return err
	}
	if err := remote.WaitOpen(ctx); err != nil {
		return err
	}
	report("Default", local.Label())

	ch, err := local.Create("check")
	if err != nil {
		return err
	}
	if err := ch.WaitOpen(ctx); err != nil {
		return err
	}
	peerCh, err := remote.Accept(ctx)
	if err != nil {
		return err
	}
	if peerCh.Label() != ch.Label() {
		return fmt.Errorf("label mismatch: %s != %s", peerCh.Label(), ch.Label())
	}
	report("Open", ch.Label())

	if _, err := ch.WriteString("hello"); err != nil {
		return err
	}
	if _, err := ch.Write([]byte{0, 1, 2}); err != nil {
		return err
	}
	for _, want := range []string{"hello", "\x00\x01\x02"} {
		msg, err := peerCh.ReadMessage()
		if err != nil {
			return err
		}
		if string(msg.Data) != want {
			return fmt.Errorf("unexpected message: %q", msg.Data)
		}
	}
	report("Messages", "2")

	// Reusing the name queues behind the live instance.
	next, err := local.Create("check")
	if err != nil {
		return err
	}
	if next.State() != datachannel.StatePending {
		return fmt.Errorf("reused name not pending: %s", next.State())
	}
	if err := ch.Close(); err != nil {
		return err
	}
	select {
	case <-peerCh.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := next.WaitOpen(ctx); err != nil {
		return err
	}
	if next.Label() == ch.Label() {
		return errors.New("reused name kept its label")
	}
	report("Reuse", next.Label())

	_, err = ch.WriteString("late")
	if !errors.Is(err, datachannel.ErrDataChannel) {
		return fmt.Errorf("write after close: %v", err)
	}
	report("Destroyed", err.Error())

	local.Close()
	select {
	case <-remote.Closed():
	case <-ctx.Done():
		return ctx.Err()
	}
	report("Close", "ok")
	return nil
}
