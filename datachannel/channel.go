package datachannel

import (
	"context"

	"github.com/progrium/dchan-go/transport"
)

// Channel is one named, message oriented stream multiplexed over a
// transport connection. Read and Write are safe to call from any
// goroutine.
type Channel struct {
	conn *Conn

	// key is the name the channel is registered under. Unlike Name it
	// survives destroy.
	key    string
	remote bool
	opts   transport.ChannelOptions

	// Fields below are owned by the connection's loop.
	ad         adapter
	state      State
	observers  map[int]Observer
	nextObs    int
	lowWaiters []chan struct{}
	err        error

	in     *inbox
	opened chan struct{}
	done   chan struct{}
}

func newChannel(conn *Conn, name string) *Channel {
	ch := &Channel{
		conn:      conn,
		key:       name,
		observers: make(map[int]Observer),
		in:        newInbox(),
		opened:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	ch.ad = adapter{
		ch:    ch,
		cfg:   &conn.cfg,
		name:  name,
		fresh: conn.cfg.FreshnessWindow >= 0,
	}
	return ch
}

func (ch *Channel) setState(to State) bool {
	if !ch.state.canMove(to) {
		ch.conn.log.Warnf("channel %s: invalid transition %s -> %s", ch.key, ch.state, to)
		return false
	}
	ch.conn.log.Tracef("channel %s: %s -> %s", ch.key, ch.state, to)
	ch.state = to
	return true
}

func (ch *Channel) bind(h transport.Handle) {
	if !ch.setState(StateConnecting) {
		return
	}
	ch.ad.bind(h)
}

// Name returns the channel name, or "" once the channel is destroyed.
func (ch *Channel) Name() string {
	var name string
	ch.conn.loop.call(func() { name = ch.ad.name })
	return name
}

// Label returns the label of the bound handle, name@suffix.
func (ch *Channel) Label() string {
	var label string
	ch.conn.loop.call(func() { label = ch.ad.label })
	return label
}

// Options returns the delivery options the channel was created with.
// For a remote channel they are known only if the transport reports them.
func (ch *Channel) Options() transport.ChannelOptions {
	return ch.opts
}

func (ch *Channel) State() State {
	state := StateDestroyed
	ch.conn.loop.call(func() { state = ch.state })
	return state
}

// BufferedAmount returns the number of bytes queued on the handle but not
// yet sent.
func (ch *Channel) BufferedAmount() uint64 {
	var n uint64
	ch.conn.loop.call(func() { n = ch.ad.bufferedAmount() })
	return n
}

// Remote reports whether the remote peer created the channel.
func (ch *Channel) Remote() bool {
	return ch.remote
}

// Opened is closed when the channel opens.
func (ch *Channel) Opened() <-chan struct{} {
	return ch.opened
}

// Done is closed when the channel is destroyed.
func (ch *Channel) Done() <-chan struct{} {
	return ch.done
}

// Err returns the error the channel was destroyed with, if any.
func (ch *Channel) Err() error {
	select {
	case <-ch.done:
		return ch.err
	default:
		return nil
	}
}

// WaitOpen blocks until the channel opens, is destroyed or ctx is done.
func (ch *Channel) WaitOpen(ctx context.Context) error {
	select {
	case <-ch.opened:
		return nil
	default:
	}
	select {
	case <-ch.opened:
		return nil
	case <-ch.done:
		if err := ch.Err(); err != nil {
			return err
		}
		return channelError(ch.key, ErrDestroyed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Observe subscribes o to future events. Events that already happened
// are not replayed. The returned function cancels the subscription.
func (ch *Channel) Observe(o Observer) (cancel func()) {
	id := -1
	ch.conn.loop.call(func() {
		if ch.state == StateDestroyed {
			return
		}
		id = ch.nextObs
		ch.nextObs++
		ch.observers[id] = o
	})
	return func() {
		if id < 0 {
			return
		}
		ch.conn.loop.call(func() { delete(ch.observers, id) })
	}
}

func (ch *Channel) emit(fn func(Observer)) {
	if len(ch.observers) == 0 {
		return
	}
	obs := make([]Observer, 0, len(ch.observers))
	for id := 0; id < ch.nextObs; id++ {
		if o, ok := ch.observers[id]; ok {
			obs = append(obs, o)
		}
	}
	ch.conn.events.post(func() {
		for _, o := range obs {
			fn(o)
		}
	})
}

// Write sends p as one binary message.
func (ch *Channel) Write(p []byte) (int, error) {
	if err := ch.WriteMessage(transport.Message{Data: p}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteString sends s as one text message.
func (ch *Channel) WriteString(s string) (int, error) {
	if err := ch.WriteMessage(transport.Message{Data: []byte(s), IsString: true}); err != nil {
		return 0, err
	}
	return len(s), nil
}

// WriteMessage sends msg. Writing to a channel that is not open destroys
// it and returns an ERR_DATA_CHANNEL error. When the handle reports more
// than BufferedAmountLowThreshold bytes queued, WriteMessage returns only
// once the queue drains or the channel is destroyed.
func (ch *Channel) WriteMessage(msg transport.Message) error {
	var (
		wait chan struct{}
		err  error
	)
	if !ch.conn.loop.call(func() { wait, err = ch.send(msg) }) {
		return channelError(ch.key, ErrDestroyed)
	}
	if err != nil {
		return err
	}
	if wait != nil {
		select {
		case <-wait:
		case <-ch.done:
		}
	}
	return nil
}

func (ch *Channel) send(msg transport.Message) (chan struct{}, error) {
	switch ch.state {
	case StateOpen:
	case StateDestroyed:
		return nil, channelError(ch.key, ErrDestroyed)
	default:
		err := channelError(ch.key, ErrNotOpen)
		ch.destroy(err)
		return nil, err
	}
	if err := ch.ad.send(msg); err != nil {
		err = channelError(ch.key, err)
		ch.destroy(err)
		return nil, err
	}
	if !ch.ad.overThreshold() {
		return nil, nil
	}
	wait := make(chan struct{})
	ch.lowWaiters = append(ch.lowWaiters, wait)
	return wait, nil
}

// ReadMessage returns the next message exactly as it was sent. Once the
// channel is destroyed and queued messages are drained it returns io.EOF,
// or the error the channel was destroyed with.
func (ch *Channel) ReadMessage() (transport.Message, error) {
	return ch.in.next()
}

// Read reads from the next message. A single Read never returns bytes of
// two different messages.
func (ch *Channel) Read(p []byte) (int, error) {
	return ch.in.Read(p)
}

// Close destroys the channel without an error.
func (ch *Channel) Close() error {
	ch.Destroy(nil)
	return nil
}

// Destroy tears the channel down, reporting err to observers if it is
// not nil. Only the first call has any effect. Destroy returns once the
// channel is destroyed.
func (ch *Channel) Destroy(err error) {
	ch.conn.loop.call(func() { ch.destroy(err) })
}

func (ch *Channel) destroy(err error) {
	if ch.state == StateDestroyed {
		return
	}
	ch.setState(StateClosing)

	ch.ad.release()
	ch.setState(StateDestroyed)
	ch.ad.stopTimers()
	ch.ad.name = ""

	ch.err = err
	ch.in.close(err)
	for _, w := range ch.lowWaiters {
		close(w)
	}
	ch.lowWaiters = nil

	if err != nil {
		ch.emit(func(o Observer) { o.OnError(err) })
	}
	ch.emit(func(o Observer) { o.OnClose() })
	ch.observers = nil
	close(ch.done)

	ch.conn.reg.release(ch)
}

func (ch *Channel) onOpen() {
	if ch.state != StateConnecting {
		return
	}
	ch.setState(StateOpen)
	close(ch.opened)
	ch.emit(func(o Observer) { o.OnOpen() })
	ch.ad.opened()
}

// onMessage runs on the transport's goroutine. The inbox drops messages
// once the channel is destroyed.
func (ch *Channel) onMessage(msg transport.Message) {
	ch.in.push(msg)
}

func (ch *Channel) onClose() {
	ch.destroy(nil)
}

func (ch *Channel) onError(err error) {
	ch.destroy(channelError(ch.key, err))
}

func (ch *Channel) onBufferedAmountLow() {
	for _, w := range ch.lowWaiters {
		close(w)
	}
	ch.lowWaiters = nil
}
