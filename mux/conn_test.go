package mux

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/progrium/dchan-go/transport"
)

func fatal(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// events collects the callbacks of one handle.
type events struct {
	open  chan struct{}
	msgs  chan transport.Message
	close chan struct{}
	errs  chan error
	once  sync.Once
}

func bind(h transport.Handle) *events {
	ev := &events{
		open:  make(chan struct{}),
		msgs:  make(chan transport.Message, 16),
		close: make(chan struct{}),
		errs:  make(chan error, 1),
	}
	h.Bind(&transport.Callbacks{
		OnOpen:    func() { close(ev.open) },
		OnMessage: func(m transport.Message) { ev.msgs <- m },
		OnClose:   func() { ev.once.Do(func() { close(ev.close) }) },
		OnError:   func(err error) { ev.errs <- err },
	})
	return ev
}

func wait(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func acceptHandle(t *testing.T, c transport.Conn) transport.Handle {
	t.Helper()
	handles := make(chan transport.Handle, 1)
	c.OnChannel(func(h transport.Handle) { handles <- h })
	select {
	case h := <-handles:
		return h
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel")
		return nil
	}
}

func testConnPair(t *testing.T, dial, listen transport.Conn) {
	ctx := context.Background()
	remote := make(chan transport.Handle, 4)
	listen.OnChannel(func(h transport.Handle) { remote <- h })

	h, err := dial.CreateChannel(ctx, "chat@1", transport.ChannelOptions{})
	fatal(err, t)
	local := bind(h)
	if h.ReadyState() != transport.Connecting && h.ReadyState() != transport.Open {
		t.Fatalf("state = %s", h.ReadyState())
	}
	wait(t, local.open, "open")

	var rh transport.Handle
	select {
	case rh = <-remote:
	case <-time.After(2 * time.Second):
		t.Fatal("remote never saw the channel")
	}
	if rh.Label() != "chat@1" {
		t.Fatalf("remote label = %q", rh.Label())
	}
	rev := bind(rh)
	wait(t, rev.open, "remote open")

	fatal(h.Send(transport.Message{Data: []byte("hello")}), t)
	fatal(h.Send(transport.Message{Data: []byte("text"), IsString: true}), t)
	for _, want := range []transport.Message{{Data: []byte("hello")}, {Data: []byte("text"), IsString: true}} {
		select {
		case got := <-rev.msgs:
			if string(got.Data) != string(want.Data) || got.IsString != want.IsString {
				t.Fatalf("got %#v, want %#v", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("message never arrived")
		}
	}

	fatal(rh.Send(transport.Message{Data: []byte("back")}), t)
	select {
	case got := <-local.msgs:
		if string(got.Data) != "back" {
			t.Fatalf("got %q", got.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reply never arrived")
	}

	fatal(h.Close(), t)
	wait(t, local.close, "close")
	wait(t, rev.close, "remote close")
	if err := h.Send(transport.Message{Data: []byte("late")}); !errors.Is(err, transport.ErrNotOpen) {
		t.Fatalf("send after close: %v", err)
	}
}

func TestConn(t *testing.T) {
	a, b := net.Pipe()
	dial := New(a, Config{Dialer: true})
	defer dial.Close()
	listen := New(b, Config{})
	defer listen.Close()

	testConnPair(t, dial, listen)
}

func TestConnBothSidesOpen(t *testing.T) {
	a, b := net.Pipe()
	dial := New(a, Config{Dialer: true})
	defer dial.Close()
	listen := New(b, Config{})
	defer listen.Close()

	ctx := context.Background()
	fromDial := make(chan transport.Handle, 1)
	fromListen := make(chan transport.Handle, 1)
	listen.OnChannel(func(h transport.Handle) { fromDial <- h })
	dial.OnChannel(func(h transport.Handle) { fromListen <- h })

	ha, err := dial.CreateChannel(ctx, "x@1", transport.ChannelOptions{})
	fatal(err, t)
	hb, err := listen.CreateChannel(ctx, "x@2", transport.ChannelOptions{})
	fatal(err, t)
	wait(t, bind(ha).open, "dialer open")
	wait(t, bind(hb).open, "listener open")

	if h := <-fromDial; h.Label() != "x@1" {
		t.Fatalf("listener saw %q", h.Label())
	}
	if h := <-fromListen; h.Label() != "x@2" {
		t.Fatalf("dialer saw %q", h.Label())
	}
}

func TestConnLost(t *testing.T) {
	a, b := net.Pipe()
	dial := New(a, Config{Dialer: true})
	listen := New(b, Config{})
	defer listen.Close()

	h, err := dial.CreateChannel(context.Background(), "doomed@1", transport.ChannelOptions{})
	fatal(err, t)
	ev := bind(h)
	wait(t, ev.open, "open")

	b.Close()
	wait(t, ev.close, "close after connection loss")
	wait(t, dial.Done(), "dial conn done")
	if _, err := dial.CreateChannel(context.Background(), "late@1", transport.ChannelOptions{}); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("create after close: %v", err)
	}
}

func TestBufferedAmountLow(t *testing.T) {
	a, b := net.Pipe()
	dial := New(a, Config{Dialer: true})
	defer dial.Close()
	listen := New(b, Config{})
	defer listen.Close()

	h, err := dial.CreateChannel(context.Background(), "bp@1", transport.ChannelOptions{})
	fatal(err, t)
	ev := bind(h)
	wait(t, ev.open, "open")
	rh := acceptHandle(t, listen)
	rev := bind(rh)

	n := h.(transport.BufferedAmountNotifier)
	n.SetBufferedAmountLowThreshold(4)
	low := make(chan struct{}, 1)
	n.OnBufferedAmountLow(func() {
		select {
		case low <- struct{}{}:
		default:
		}
	})

	fatal(h.Send(transport.Message{Data: make([]byte, 64)}), t)
	wait(t, low, "buffered amount low")
	if h.BufferedAmount() != 0 {
		t.Fatalf("buffered amount = %d", h.BufferedAmount())
	}
	select {
	case msg := <-rev.msgs:
		if len(msg.Data) != 64 {
			t.Fatalf("got %d bytes", len(msg.Data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}
}

// pipeStreamer connects two Streamers with net.Pipe streams.
type pipeStreamer struct {
	peer    *pipeStreamer
	streams chan io.ReadWriteCloser
	done    chan struct{}
	once    sync.Once
}

func newPipeStreamers() (*pipeStreamer, *pipeStreamer) {
	a := &pipeStreamer{streams: make(chan io.ReadWriteCloser, 8), done: make(chan struct{})}
	b := &pipeStreamer{streams: make(chan io.ReadWriteCloser, 8), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (s *pipeStreamer) OpenStream(ctx context.Context) (io.ReadWriteCloser, error) {
	local, remote := net.Pipe()
	select {
	case s.peer.streams <- remote:
		return local, nil
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *pipeStreamer) AcceptStream(ctx context.Context) (io.ReadWriteCloser, error) {
	select {
	case stream := <-s.streams:
		return stream, nil
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *pipeStreamer) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func TestStreamConn(t *testing.T) {
	sa, sb := newPipeStreamers()
	dial := NewStreamConn(sa, Config{Dialer: true})
	defer dial.Close()
	listen := NewStreamConn(sb, Config{})
	defer listen.Close()

	testConnPair(t, dial, listen)
}

func TestStreamConnCloseBeforeOpen(t *testing.T) {
	sa, sb := newPipeStreamers()
	dial := NewStreamConn(sa, Config{Dialer: true})
	defer dial.Close()
	listen := NewStreamConn(sb, Config{})
	defer listen.Close()

	h, err := dial.CreateChannel(context.Background(), "quick@1", transport.ChannelOptions{})
	fatal(err, t)
	ev := bind(h)
	fatal(h.Close(), t)
	wait(t, ev.close, "close")
}
