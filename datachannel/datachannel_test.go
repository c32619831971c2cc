package datachannel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/progrium/dchan-go/transport"
	"github.com/progrium/dchan-go/transport/pipe"
)

func fatal(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

type testPair struct {
	a, b   *Conn
	ta, tb *pipe.Conn
	clock  *fakeClock
}

func newPair(t *testing.T, cfg Config, opts ...pipe.Option) *testPair {
	t.Helper()
	ta, tb := pipe.New(opts...)
	clk := newFakeClock()

	cfg.clock = clk
	cfg.Initiator = true
	a, err := New(ta, cfg)
	fatal(err, t)

	cfg.Initiator = false
	b, err := New(tb, cfg)
	fatal(err, t)

	p := &testPair{a: a, b: b, ta: ta, tb: tb, clock: clk}
	p.settle()
	return p
}

func (p *testPair) Close() {
	p.a.Close()
	p.b.Close()
}

// settle waits until work queued on either connection, including work
// queued by that work, has run.
func (p *testPair) settle() {
	settle(p.a, p.b)
}

func settle(conns ...*Conn) {
	for i := 0; i < 6; i++ {
		for _, c := range conns {
			c.loop.call(func() {})
			c.events.call(func() {})
		}
	}
}

func (p *testPair) advance(d time.Duration) {
	p.clock.Advance(d)
	p.settle()
}

func handleFor(t *testing.T, tr *pipe.Conn, label string) *pipe.Handle {
	t.Helper()
	for _, h := range tr.Handles() {
		if h.Label() == label {
			return h
		}
	}
	t.Fatalf("no handle labeled %q", label)
	return nil
}

func accept(t *testing.T, c *Conn) *Channel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch, err := c.Accept(ctx)
	fatal(err, t)
	return ch
}

type recorder struct {
	mu     sync.Mutex
	events []string
	errs   []error
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) OnOpen()  { r.add("open") }
func (r *recorder) OnClose() { r.add("close") }
func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.add("error")
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(ev string) int {
	n := 0
	for _, e := range r.Events() {
		if e == ev {
			n++
		}
	}
	return n
}

func TestDefaultChannel(t *testing.T) {
	defer leaktest.Check(t)()
	p := newPair(t, Config{})
	defer p.Close()

	ctx := context.Background()
	fatal(p.a.WaitOpen(ctx), t)
	fatal(p.b.WaitOpen(ctx), t)

	if got := p.a.Name(); got != DefaultChannelName {
		t.Fatalf("initiator default name = %q", got)
	}
	if got := p.b.Name(); got != DefaultChannelName {
		t.Fatalf("default name = %q", got)
	}
	if p.a.Label() != p.b.Label() {
		t.Fatalf("labels differ: %q %q", p.a.Label(), p.b.Label())
	}
	if p.a.Default().Remote() || !p.b.Default().Remote() {
		t.Fatal("only the non-initiator sees the default channel as remote")
	}

	_, err := p.a.Write([]byte("ping"))
	fatal(err, t)
	msg, err := p.b.ReadMessage()
	fatal(err, t)
	if string(msg.Data) != "ping" {
		t.Fatalf("unexpected message: %q", msg.Data)
	}
}

func TestRemoteDiscovery(t *testing.T) {
	p := newPair(t, Config{})
	defer p.Close()

	_, err := p.a.Create("1")
	fatal(err, t)
	_, err = p.b.Create("2")
	fatal(err, t)
	p.settle()

	if got := accept(t, p.b).Name(); got != "1" {
		t.Fatalf("b discovered %q, want 1", got)
	}
	if got := accept(t, p.a).Name(); got != "2" {
		t.Fatalf("a discovered %q, want 2", got)
	}

	// the default channel is never announced
	for _, c := range []*Conn{p.a, p.b} {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := c.Accept(ctx)
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected no more channels, got %v", err)
		}
	}
	if len(p.a.Channels()) != 3 || len(p.b.Channels()) != 3 {
		t.Fatalf("unexpected channel count: %d %d", len(p.a.Channels()), len(p.b.Channels()))
	}
}

func TestMessageBoundaries(t *testing.T) {
	p := newPair(t, Config{})
	defer p.Close()

	ctx := context.Background()
	ch, err := p.a.Create("data")
	fatal(err, t)
	fatal(ch.WaitOpen(ctx), t)
	p.settle()
	remote := accept(t, p.b)
	fatal(remote.WaitOpen(ctx), t)

	_, err = ch.Write([]byte("abcdef"))
	fatal(err, t)
	_, err = ch.WriteString("text")
	fatal(err, t)
	_, err = ch.Write([]byte("xyz"))
	fatal(err, t)

	buf := make([]byte, 4)
	n, err := remote.Read(buf)
	fatal(err, t)
	if string(buf[:n]) != "abcd" {
		t.Fatalf("first read: %q", buf[:n])
	}
	n, err = remote.Read(buf)
	fatal(err, t)
	if string(buf[:n]) != "ef" {
		t.Fatalf("read crossed a message boundary: %q", buf[:n])
	}
	msg, err := remote.ReadMessage()
	fatal(err, t)
	if string(msg.Data) != "text" || !msg.IsString {
		t.Fatalf("unexpected text message: %#v", msg)
	}
	msg, err = remote.ReadMessage()
	fatal(err, t)
	if string(msg.Data) != "xyz" || msg.IsString {
		t.Fatalf("unexpected binary message: %#v", msg)
	}

	ch.Close()
	p.advance(DefaultCloseDelay)
	if _, err := remote.ReadMessage(); err != io.EOF {
		t.Fatalf("expected EOF after close, got %v", err)
	}
}

func TestPartialReadKeepsKind(t *testing.T) {
	p := newPair(t, Config{})
	defer p.Close()

	ctx := context.Background()
	ch, err := p.a.Create("text")
	fatal(err, t)
	fatal(ch.WaitOpen(ctx), t)
	p.settle()
	remote := accept(t, p.b)

	_, err = ch.WriteString("hello world")
	fatal(err, t)
	buf := make([]byte, 6)
	n, err := remote.Read(buf)
	fatal(err, t)
	if string(buf[:n]) != "hello " {
		t.Fatalf("read %q", buf[:n])
	}
	msg, err := remote.ReadMessage()
	fatal(err, t)
	if string(msg.Data) != "world" || !msg.IsString {
		t.Fatalf("rest of message: %#v", msg)
	}
}

func TestWriteBeforeOpen(t *testing.T) {
	p := newPair(t, Config{}, pipe.ManualOpen())
	defer p.Close()

	ch, err := p.a.Create("early")
	fatal(err, t)
	if ch.State() != StateConnecting {
		t.Fatalf("state = %s", ch.State())
	}
	_, err = ch.Write([]byte("too soon"))
	if !errors.Is(err, ErrDataChannel) || !errors.Is(err, ErrNotOpen) {
		t.Fatalf("unexpected error: %v", err)
	}
	var ce *ChannelError
	if !errors.As(err, &ce) || ce.Code() != "ERR_DATA_CHANNEL" || ce.Channel != "early" {
		t.Fatalf("unexpected error value: %#v", err)
	}
	<-ch.Done()
	if ch.State() != StateDestroyed {
		t.Fatalf("state = %s", ch.State())
	}
	if !errors.Is(ch.Err(), ErrNotOpen) {
		t.Fatalf("channel error = %v", ch.Err())
	}
}

func TestWriteAfterDestroy(t *testing.T) {
	p := newPair(t, Config{})
	defer p.Close()

	ch, err := p.a.Create("gone")
	fatal(err, t)
	fatal(ch.WaitOpen(context.Background()), t)
	ch.Close()

	_, err = ch.Write([]byte("late"))
	if !errors.Is(err, ErrDataChannel) || !errors.Is(err, ErrDestroyed) {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Name() != "" {
		t.Fatalf("name not cleared: %q", ch.Name())
	}
}

func TestDestroyIdempotent(t *testing.T) {
	p := newPair(t, Config{})
	defer p.Close()

	ch, err := p.a.Create("once")
	fatal(err, t)
	fatal(ch.WaitOpen(context.Background()), t)

	rec := &recorder{}
	cancel := ch.Observe(rec)
	defer cancel()

	boom := errors.New("boom")
	ch.Destroy(boom)
	ch.Destroy(boom)
	ch.Destroy(nil)
	fatal(ch.Close(), t)
	p.settle()

	events := rec.Events()
	if len(events) != 2 || events[0] != "error" || events[1] != "close" {
		t.Fatalf("unexpected events: %v", events)
	}
	if ch.Err() != boom {
		t.Fatalf("err = %v", ch.Err())
	}
	if _, err := ch.ReadMessage(); err != boom {
		t.Fatalf("read after destroy: %v", err)
	}
}

func TestNameReuseOrdering(t *testing.T) {
	p := newPair(t, Config{})
	defer p.Close()

	ctx := context.Background()
	first, err := p.a.Create("x")
	fatal(err, t)
	fatal(first.WaitOpen(ctx), t)

	second, err := p.a.Create("x")
	fatal(err, t)
	if second.State() != StatePending {
		t.Fatalf("second instance bound while first is live: %s", second.State())
	}
	third, err := p.a.Create("x")
	fatal(err, t)

	stateAtClose := make(chan State, 1)
	first.Observe(ObserverFuncs{Close: func() {
		stateAtClose <- second.State()
	}})
	label := first.Label()
	first.Close()

	if s := <-stateAtClose; s != StatePending {
		t.Fatalf("second instance was %s when the first closed", s)
	}
	fatal(second.WaitOpen(ctx), t)
	if !newerLabel(second.Label(), label) {
		t.Fatalf("label %q does not follow %q", second.Label(), label)
	}
	if third.State() != StatePending {
		t.Fatalf("third instance state = %s", third.State())
	}

	second.Close()
	fatal(third.WaitOpen(ctx), t)
	p.settle()

	// b saw every instance, and only the latest is live there
	var live int
	for _, ch := range p.b.Channels() {
		if ch.key == "x" {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("%d live instances of x on the remote side", live)
	}
}

func TestQueuedRequestDestroyed(t *testing.T) {
	p := newPair(t, Config{})
	defer p.Close()

	ctx := context.Background()
	first, err := p.a.Create("q")
	fatal(err, t)
	fatal(first.WaitOpen(ctx), t)
	queued, err := p.a.Create("q")
	fatal(err, t)
	last, err := p.a.Create("q")
	fatal(err, t)

	queued.Close()
	if queued.Label() != "" {
		t.Fatal("destroyed request was bound")
	}
	first.Close()
	fatal(last.WaitOpen(ctx), t)
}

func TestNameValidation(t *testing.T) {
	p := newPair(t, Config{})
	defer p.Close()

	for _, name := range []string{"", "a@b"} {
		if _, err := p.a.Create(name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("Create(%q): %v", name, err)
		}
	}
	if _, err := p.a.Create(DefaultChannelName); !errors.Is(err, ErrReservedName) {
		t.Fatalf("Create(default): %v", err)
	}
}

func TestFreshnessDeferredClose(t *testing.T) {
	p := newPair(t, Config{})
	defer p.Close()

	ctx := context.Background()
	ch, err := p.a.Create("fresh")
	fatal(err, t)
	fatal(ch.WaitOpen(ctx), t)
	p.settle()
	remote := accept(t, p.b)
	h := handleFor(t, p.ta, ch.Label())

	// closed within the freshness window: the handle close waits
	ch.Close()
	if h.CloseCalls() != 0 {
		t.Fatal("handle closed during freshness window")
	}
	if remote.State() != StateOpen {
		t.Fatalf("remote state = %s", remote.State())
	}
	p.advance(DefaultCloseDelay - time.Millisecond)
	if h.CloseCalls() != 0 {
		t.Fatal("handle closed before close delay")
	}
	p.advance(time.Millisecond)
	if h.CloseCalls() != 1 {
		t.Fatalf("handle closed %d times", h.CloseCalls())
	}
	<-remote.Done()

	// closed after the window: the handle closes right away
	ch, err = p.a.Create("fresh")
	fatal(err, t)
	fatal(ch.WaitOpen(ctx), t)
	h = handleFor(t, p.ta, ch.Label())
	p.advance(DefaultFreshnessWindow)
	ch.Close()
	if h.CloseCalls() != 1 {
		t.Fatalf("handle closed %d times", h.CloseCalls())
	}
}

func TestStuckClosing(t *testing.T) {
	p := newPair(t, Config{})
	defer p.Close()

	ch, err := p.a.Create("stuck")
	fatal(err, t)
	fatal(ch.WaitOpen(context.Background()), t)
	rec := &recorder{}
	ch.Observe(rec)

	handleFor(t, p.ta, ch.Label()).Stall()

	p.advance(DefaultClosingPollInterval)
	if ch.State() != StateOpen {
		t.Fatalf("closed after one poll: %s", ch.State())
	}
	p.advance(DefaultClosingPollInterval)
	if ch.State() != StateDestroyed {
		t.Fatalf("not closed after two polls: %s", ch.State())
	}
	p.advance(2 * DefaultClosingPollInterval)
	if n := rec.count("close"); n != 1 {
		t.Fatalf("%d close events", n)
	}
	if ch.Err() != nil {
		t.Fatalf("err = %v", ch.Err())
	}
}

func TestClosingPollRecovers(t *testing.T) {
	p := newPair(t, Config{ClosingPollThreshold: 2})
	defer p.Close()

	ch, err := p.a.Create("flaky")
	fatal(err, t)
	fatal(ch.WaitOpen(context.Background()), t)

	var polls int
	p.a.loop.call(func() {
		ch.ad.handle = &flakyHandle{Handle: ch.ad.handle, states: func() transport.ReadyState {
			polls++
			if polls%2 == 1 {
				return transport.Closing
			}
			return transport.Open
		}}
	})
	for i := 0; i < 4; i++ {
		p.advance(DefaultClosingPollInterval)
	}
	if ch.State() != StateOpen {
		t.Fatalf("closed though closing was never seen twice in a row: %s", ch.State())
	}
}

type flakyHandle struct {
	transport.Handle
	states func() transport.ReadyState
}

func (h *flakyHandle) ReadyState() transport.ReadyState {
	return h.states()
}

func TestTransportError(t *testing.T) {
	p := newPair(t, Config{})
	defer p.Close()

	ch, err := p.a.Create("err")
	fatal(err, t)
	fatal(ch.WaitOpen(context.Background()), t)
	rec := &recorder{}
	ch.Observe(rec)

	handleFor(t, p.ta, ch.Label()).Fail(errors.New("sctp failure"))
	<-ch.Done()
	p.settle()

	if !errors.Is(ch.Err(), ErrDataChannel) {
		t.Fatalf("err = %v", ch.Err())
	}
	if got := errors.Unwrap(ch.Err()).Error(); got != "sctp failure" {
		t.Fatalf("cause = %q", got)
	}
	events := rec.Events()
	if len(events) != 2 || events[0] != "error" || events[1] != "close" {
		t.Fatalf("unexpected events: %v", events)
	}
}

func TestCloseErrorSwallowed(t *testing.T) {
	p := newPair(t, Config{FreshnessWindow: -1})
	defer p.Close()

	ch, err := p.a.Create("stubborn")
	fatal(err, t)
	fatal(ch.WaitOpen(context.Background()), t)
	h := handleFor(t, p.ta, ch.Label())
	h.FailClose(errors.New("close failed"))

	ch.Close()
	if ch.State() != StateDestroyed || ch.Err() != nil {
		t.Fatalf("state = %s err = %v", ch.State(), ch.Err())
	}
	if h.CloseCalls() != 1 {
		t.Fatalf("handle closed %d times", h.CloseCalls())
	}
}

func TestBackpressure(t *testing.T) {
	p := newPair(t, Config{BufferedAmountLowThreshold: 4})
	defer p.Close()

	ch, err := p.a.Create("bp")
	fatal(err, t)
	fatal(ch.WaitOpen(context.Background()), t)
	p.settle()
	remote := accept(t, p.b)

	h := handleFor(t, p.ta, ch.Label())
	if h.LowThreshold() != 4 {
		t.Fatalf("threshold = %d", h.LowThreshold())
	}
	h.Hold()

	written := make(chan error, 1)
	go func() {
		_, err := ch.Write([]byte("12345678"))
		written <- err
	}()
	select {
	case err := <-written:
		t.Fatalf("write returned with a full buffer: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if n := ch.BufferedAmount(); n != 8 {
		t.Fatalf("buffered amount = %d", n)
	}

	h.Flush()
	fatal(<-written, t)
	msg, err := remote.ReadMessage()
	fatal(err, t)
	if string(msg.Data) != "12345678" {
		t.Fatalf("unexpected message: %q", msg.Data)
	}
}

func TestBackpressureDestroy(t *testing.T) {
	p := newPair(t, Config{BufferedAmountLowThreshold: 1})
	defer p.Close()

	ch, err := p.a.Create("bp")
	fatal(err, t)
	fatal(ch.WaitOpen(context.Background()), t)
	handleFor(t, p.ta, ch.Label()).Hold()

	written := make(chan error, 1)
	go func() {
		_, err := ch.Write([]byte("blocked"))
		written <- err
	}()
	for ch.BufferedAmount() == 0 {
		time.Sleep(time.Millisecond)
	}
	ch.Close()
	fatal(<-written, t)
}

func TestConnTeardown(t *testing.T) {
	defer leaktest.Check(t)()
	p := newPair(t, Config{})

	ctx := context.Background()
	x, err := p.a.Create("x")
	fatal(err, t)
	fatal(x.WaitOpen(ctx), t)
	y, err := p.a.Create("y")
	fatal(err, t)
	queued, err := p.a.Create("x")
	fatal(err, t)

	var recs []*recorder
	for _, ch := range []*Channel{p.a.Default(), x, y, queued} {
		rec := &recorder{}
		ch.Observe(rec)
		recs = append(recs, rec)
	}

	lost := errors.New("connection lost")
	p.tb.CloseWithError(lost)
	if err := p.a.Wait(); err != lost {
		t.Fatalf("wait = %v", err)
	}
	p.b.Close()

	// handles may report their own close before the connection does, so
	// the error is only seen by channels still live at teardown
	for i, ch := range []*Channel{p.a.Default(), x, y, queued} {
		<-ch.Done()
		if err := ch.Err(); err != nil && err != lost && !errors.Is(err, ErrDataChannel) {
			t.Fatalf("channel %d err = %v", i, err)
		}
	}
	if queued.Label() != "" {
		t.Fatal("queued request was bound after its connection closed")
	}
	<-p.a.events.done
	for i, rec := range recs {
		if rec.count("close") != 1 || rec.count("error") > 1 {
			t.Fatalf("channel %d events: %v", i, rec.Events())
		}
	}
	if _, err := p.a.Create("z"); err != ErrConnClosed {
		t.Fatalf("create after close: %v", err)
	}
	if _, err := p.a.Accept(ctx); err != ErrConnClosed {
		t.Fatalf("accept after close: %v", err)
	}
}

func TestTeardownFlushesDeferredCloses(t *testing.T) {
	p := newPair(t, Config{})

	ch, err := p.a.Create("fresh")
	fatal(err, t)
	fatal(ch.WaitOpen(context.Background()), t)
	h := handleFor(t, p.ta, ch.Label())

	ch.Close()
	if h.CloseCalls() != 0 {
		t.Fatal("handle closed during freshness window")
	}
	p.a.Close()
	if h.CloseCalls() != 1 {
		t.Fatalf("handle closed %d times", h.CloseCalls())
	}
	p.b.Close()
}

func TestDefaultDestroyKeepsConn(t *testing.T) {
	p := newPair(t, Config{})
	defer p.Close()

	fatal(p.a.WaitOpen(context.Background()), t)
	p.a.Default().Close()
	p.advance(DefaultCloseDelay)

	<-p.b.Done()
	ch, err := p.a.Create("still-here")
	fatal(err, t)
	fatal(ch.WaitOpen(context.Background()), t)
}

func TestCollisionNewerWins(t *testing.T) {
	p := newPair(t, Config{}, pipe.ManualOpen())
	defer p.Close()

	// b's loop is held so that b makes its own request for the name
	// before it handles a's.
	gate := make(chan struct{})
	var (
		b    *Channel
		berr error
	)
	p.b.loop.post(func() {
		<-gate
		b, berr = p.b.reg.create("both", transport.ChannelOptions{})
	})
	a, err := p.a.Create("both")
	fatal(err, t)
	close(gate)
	p.settle()
	fatal(berr, t)

	older, newer := a, b
	if !newerLabel(b.Label(), a.Label()) {
		t.Fatalf("%s is not newer than %s", b.Label(), a.Label())
	}
	handleFor(t, p.ta, newer.Label()).Open()
	p.settle()

	<-older.Done()
	if err := older.Err(); !errors.Is(err, ErrSuperseded) || !errors.Is(err, ErrDataChannel) {
		t.Fatalf("superseded channel err = %v", err)
	}
	fatal(newer.WaitOpen(context.Background()), t)
	if got := accept(t, p.a); got.Label() != newer.Label() {
		t.Fatalf("accepted %s, want %s", got.Label(), newer.Label())
	}
	for _, c := range []*Conn{p.a, p.b} {
		var live []string
		for _, ch := range c.Channels() {
			if ch.key == "both" {
				live = append(live, ch.Label())
			}
		}
		if len(live) != 1 || live[0] != newer.Label() {
			t.Fatalf("live instances: %v", live)
		}
	}
}

func TestCloseDuringCreate(t *testing.T) {
	for i := 0; i < 10; i++ {
		p := newPair(t, Config{FreshnessWindow: -1})

		var (
			mu    sync.Mutex
			chans []*Channel
			wg    sync.WaitGroup
		)
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for j := 0; ; j++ {
					ch, err := p.a.Create(fmt.Sprintf("n%d-%d", g, j))
					if err != nil {
						if err != ErrConnClosed && !errors.Is(err, ErrDataChannel) {
							t.Errorf("create: %v", err)
						}
						return
					}
					mu.Lock()
					chans = append(chans, ch)
					mu.Unlock()
				}
			}(g)
		}
		time.Sleep(time.Millisecond)
		p.a.Close()
		wg.Wait()

		for _, ch := range chans {
			select {
			case <-ch.Done():
			default:
				t.Fatalf("%s outlived its connection", ch.Label())
			}
		}
		p.b.Close()
	}
}

func TestDestroyDuringRemoteWrite(t *testing.T) {
	p := newPair(t, Config{FreshnessWindow: -1})
	defer p.Close()

	ctx := context.Background()
	ch, err := p.a.Create("busy")
	fatal(err, t)
	fatal(ch.WaitOpen(ctx), t)
	p.settle()
	remote := accept(t, p.b)
	fatal(remote.WaitOpen(ctx), t)

	written := make(chan int)
	go func() {
		n := 0
		for {
			_, err := remote.Write([]byte(fmt.Sprint(n)))
			if err != nil {
				if !errors.Is(err, ErrDataChannel) {
					t.Errorf("write: %v", err)
				}
				written <- n
				return
			}
			n++
		}
	}()
	time.Sleep(time.Millisecond)
	ch.Close()

	n := <-written
	read := 0
	for {
		msg, err := ch.ReadMessage()
		if err == io.EOF {
			break
		}
		fatal(err, t)
		if string(msg.Data) != fmt.Sprint(read) {
			t.Fatalf("read %q, want %d", msg.Data, read)
		}
		read++
	}
	if read != n {
		t.Fatalf("remote wrote %d messages, %d were read", n, read)
	}
}

func TestChannelOptions(t *testing.T) {
	p := newPair(t, Config{})
	defer p.Close()

	ch, err := p.a.Create("lossy", Unordered(), MaxRetransmits(3), Protocol("chat"))
	fatal(err, t)
	fatal(ch.WaitOpen(context.Background()), t)
	p.settle()

	opts := handleFor(t, p.ta, ch.Label()).Options()
	if !opts.Unordered || opts.MaxRetransmits == nil || *opts.MaxRetransmits != 3 || opts.Protocol != "chat" {
		t.Fatalf("handle options: %+v", opts)
	}
	remote := accept(t, p.b)
	if got := remote.Options(); !got.Unordered || got.Protocol != "chat" {
		t.Fatalf("remote options: %+v", got)
	}

	// queued requests keep their options until they bind
	next, err := p.a.Create("lossy", MaxPacketLifeTime(time.Second))
	fatal(err, t)
	ch.Close()
	p.advance(DefaultCloseDelay)
	fatal(next.WaitOpen(context.Background()), t)
	opts = handleFor(t, p.ta, next.Label()).Options()
	if opts.Unordered || opts.MaxPacketLifeTime == nil || *opts.MaxPacketLifeTime != time.Second {
		t.Fatalf("queued handle options: %+v", opts)
	}

	_, err = p.a.Create("bad", MaxRetransmits(1), MaxPacketLifeTime(time.Second))
	if !errors.Is(err, transport.ErrBadOptions) {
		t.Fatalf("conflicting options: %v", err)
	}
}

func TestConcurrentCreateDestroy(t *testing.T) {
	p := newPair(t, Config{})
	defer p.Close()

	var (
		mu    sync.Mutex
		chans []*Channel
	)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				ch, err := p.a.Create("x")
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				chans = append(chans, ch)
				mu.Unlock()
				if j%3 == 0 {
					ch.WaitOpen(context.Background())
				}
				ch.Close()
			}
		}()
	}

	stop := make(chan struct{})
	sampled := make(chan int)
	go func() {
		worst := 0
		for {
			select {
			case <-stop:
				sampled <- worst
				return
			default:
			}
			mu.Lock()
			snapshot := append([]*Channel(nil), chans...)
			mu.Unlock()
			p.a.loop.call(func() {
				live := 0
				for _, ch := range snapshot {
					if ch.state == StateConnecting || ch.state == StateOpen {
						live++
					}
				}
				if live > worst {
					worst = live
				}
			})
		}
	}()

	wg.Wait()
	close(stop)
	if worst := <-sampled; worst > 1 {
		t.Fatalf("%d live instances of one name", worst)
	}
	p.settle()
	for _, ch := range chans {
		if ch.State() != StateDestroyed {
			t.Fatalf("channel left in state %s", ch.State())
		}
	}
}
