package datachannel

import (
	"github.com/progrium/dchan-go/transport"
)

// adapter binds a Channel to one raw transport handle. All of its
// methods run on the connection's loop.
type adapter struct {
	ch  *Channel
	cfg *Config

	handle transport.Handle
	name   string
	label  string

	// fresh is set from creation until FreshnessWindow after open.
	fresh      bool
	freshTimer timer

	pollTimer    timer
	closingPolls int
}

func (a *adapter) bind(h transport.Handle) {
	a.handle = h
	a.label = h.Label()
	a.name, _ = parseLabel(a.label)

	loop := a.ch.conn.loop
	if n, ok := h.(transport.BufferedAmountNotifier); ok {
		n.SetBufferedAmountLowThreshold(a.cfg.BufferedAmountLowThreshold)
		n.OnBufferedAmountLow(func() {
			loop.post(func() {
				if a.handle == h {
					a.ch.onBufferedAmountLow()
				}
			})
		})
	}

	// Events from a handle that has since been detached are dropped here,
	// so a late event can never reach a destroyed channel.
	on := func(fn func()) {
		loop.post(func() {
			if a.handle == h {
				fn()
			}
		})
	}
	h.Bind(&transport.Callbacks{
		OnOpen: func() {
			on(a.ch.onOpen)
		},
		// Messages skip the loop: one delivered before the handle finishes
		// closing must stay readable even while destroy is running.
		OnMessage: a.ch.onMessage,
		OnClose: func() {
			on(a.ch.onClose)
		},
		OnError: func(err error) {
			on(func() { a.ch.onError(err) })
		},
	})
	if h.ReadyState() == transport.Open {
		on(a.ch.onOpen)
	}
	a.schedulePoll()
}

func (a *adapter) send(msg transport.Message) error {
	if a.handle == nil {
		return ErrDestroyed
	}
	return a.handle.Send(msg)
}

func (a *adapter) bufferedAmount() uint64 {
	if a.handle == nil {
		return 0
	}
	return a.handle.BufferedAmount()
}

// overThreshold reports whether a Write should wait for the buffered
// amount to drain.
func (a *adapter) overThreshold() bool {
	if a.handle == nil {
		return false
	}
	if _, ok := a.handle.(transport.BufferedAmountNotifier); !ok {
		return false
	}
	return a.handle.BufferedAmount() > a.cfg.BufferedAmountLowThreshold
}

func (a *adapter) opened() {
	if a.cfg.FreshnessWindow < 0 {
		a.fresh = false
		return
	}
	loop := a.ch.conn.loop
	a.freshTimer = a.ch.conn.clock.AfterFunc(a.cfg.FreshnessWindow, func() {
		loop.post(func() {
			a.fresh = false
			a.freshTimer = nil
		})
	})
}

func (a *adapter) schedulePoll() {
	if a.cfg.ClosingPollInterval < 0 {
		return
	}
	loop := a.ch.conn.loop
	a.pollTimer = a.ch.conn.clock.AfterFunc(a.cfg.ClosingPollInterval, func() {
		loop.post(a.poll)
	})
}

// poll catches handles that report closing but never deliver a close
// event. ClosingPollThreshold consecutive closing observations count as
// a close.
func (a *adapter) poll() {
	a.pollTimer = nil
	if a.handle == nil {
		return
	}
	if a.handle.ReadyState() == transport.Closing {
		a.closingPolls++
		if a.closingPolls >= a.cfg.ClosingPollThreshold {
			a.ch.conn.log.Warnf("channel %s stuck closing, treating as closed", a.label)
			a.ch.onClose()
			return
		}
	} else {
		a.closingPolls = 0
	}
	a.schedulePoll()
}

// release closes the handle, deferred if the channel is still fresh,
// and detaches from it.
func (a *adapter) release() {
	h := a.handle
	if h == nil {
		return
	}
	if a.fresh && a.cfg.CloseDelay > 0 {
		a.ch.conn.deferClose(h, a.cfg.CloseDelay)
	} else {
		a.ch.conn.closeHandle(h)
	}
	h.Bind(nil)
	a.handle = nil
}

func (a *adapter) stopTimers() {
	if a.pollTimer != nil {
		a.pollTimer.Stop()
		a.pollTimer = nil
	}
	if a.freshTimer != nil {
		a.freshTimer.Stop()
		a.freshTimer = nil
	}
}
