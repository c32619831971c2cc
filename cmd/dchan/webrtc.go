package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pion/webrtc/v3"
	"github.com/progrium/dchan-go/cmd/dchan/cli"
	"github.com/progrium/dchan-go/datachannel"
	dcwebrtc "github.com/progrium/dchan-go/x/webrtc"
	"go.uber.org/zap"
)

var answerMode bool

var webrtcCmd = &cli.Command{
	Usage: "webrtc [-answer] [key=value...]",
	Short: "pipe stdio over a WebRTC peer connection",
	Long: `webrtc prints an offer, reads the answer from stdin, then pipes stdin and
stdout through the default channel. Run the other end with -answer and paste
the offer into it.`,
	Run: func(ctx context.Context, args []string) {
		a := setup()
		defer a.log.Sync()

		opts := a.options(args)
		api := dcwebrtc.NewAPI(a.lf)
		cfg := webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		}
		in := bufio.NewReader(os.Stdin)

		var (
			pc  *webrtc.PeerConnection
			err error
		)
		if answerMode {
			fmt.Fprintln(os.Stderr, "Paste offer:")
			offer, err := readSDP(in)
			a.fatal(err)
			pc, err = dcwebrtc.Answer(api, cfg, offer)
			a.fatal(err)
			fmt.Fprintln(os.Stderr, "Answer:")
			a.fatal(printSDP(pc.LocalDescription()))
		} else {
			pc, err = dcwebrtc.Offer(api, cfg)
			a.fatal(err)
			fmt.Fprintln(os.Stderr, "Offer:")
			a.fatal(printSDP(pc.LocalDescription()))
			fmt.Fprintln(os.Stderr, "Paste answer:")
			answer, err := readSDP(in)
			a.fatal(err)
			a.fatal(pc.SetRemoteDescription(answer))
		}

		opts.Channel.Initiator = !answerMode
		conn, err := datachannel.New(dcwebrtc.New(pc), opts.Channel)
		a.fatal(err)
		defer conn.Close()

		a.fatal(conn.WaitOpen(ctx))
		a.log.Info("connected", zap.String("label", conn.Label()))
		pipe(ctx, conn.Default(), in, os.Stdout)
	},
}

func init() {
	webrtcCmd.Flags().BoolVar(&answerMode, "answer", false, "answer an offer instead of making one")
}

func printSDP(desc *webrtc.SessionDescription) error {
	s, err := dcwebrtc.EncodeSDP(desc)
	if err != nil {
		return err
	}
	_, err = fmt.Println(s)
	return err
}

func readSDP(r *bufio.Reader) (webrtc.SessionDescription, error) {
	for {
		line, err := r.ReadString('\n')
		if len(line) > 1 || err != nil {
			if err != nil && err != io.EOF {
				return webrtc.SessionDescription{}, err
			}
			return dcwebrtc.DecodeSDP(line)
		}
	}
}
