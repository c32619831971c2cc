package datachannel

import (
	"github.com/progrium/dchan-go/transport"
)

// entry tracks one name. An entry is either active, active with queued
// requests waiting behind it, or draining: its last instance was just
// destroyed and the next request binds once observers have seen that.
type entry struct {
	active   *Channel
	waiting  []*Channel
	draining bool
}

func (e *entry) empty() bool {
	return e.active == nil && len(e.waiting) == 0 && !e.draining
}

// registry maps names to channels. It runs on the connection's loop and
// is the only thing that mutates the map.
type registry struct {
	conn    *Conn
	def     *Channel
	entries map[string]*entry

	// closing is set by teardown. Nothing is bound after it.
	closing bool
}

func newRegistry(conn *Conn, def *Channel) *registry {
	return &registry{
		conn:    conn,
		def:     def,
		entries: make(map[string]*entry),
	}
}

func (r *registry) create(name string, opts transport.ChannelOptions) (*Channel, error) {
	if r.closing {
		return nil, ErrConnClosed
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if name == r.conn.cfg.DefaultChannel {
		return nil, ErrReservedName
	}
	ch := newChannel(r.conn, name)
	ch.opts = opts
	e := r.entries[name]
	if e == nil {
		e = &entry{}
		r.entries[name] = e
	}
	if e.active != nil || e.draining || len(e.waiting) > 0 {
		r.conn.log.Debugf("channel %s: queued behind live instance", name)
		e.waiting = append(e.waiting, ch)
		return ch, nil
	}
	e.active = ch
	r.open(ch)
	if ch.state == StateDestroyed {
		return nil, ch.err
	}
	return ch, nil
}

// open asks the transport for a new handle and binds ch to it.
func (r *registry) open(ch *Channel) {
	h, err := r.conn.tr.CreateChannel(r.conn.ctx, newLabel(ch.key), ch.opts)
	if err != nil {
		ch.destroy(channelError(ch.key, err))
		return
	}
	ch.bind(h)
}

// discover binds a handle the remote peer created.
func (r *registry) discover(h transport.Handle) {
	if r.closing {
		r.reject(h)
		return
	}
	name, _ := parseLabel(h.Label())
	if name == r.conn.cfg.DefaultChannel {
		if r.def.state != StatePending {
			r.conn.log.Warnf("rejecting extra default channel %s", h.Label())
			r.reject(h)
			return
		}
		r.def.remote = true
		r.def.bind(h)
		return
	}
	if validName(name) != nil {
		r.conn.log.Warnf("rejecting channel with invalid label %q", h.Label())
		r.reject(h)
		return
	}

	e := r.entries[name]
	if e == nil {
		e = &entry{}
		r.entries[name] = e
	}
	if old := e.active; old != nil {
		// Both peers opened the name at once. Both keep the later label.
		if !newerLabel(h.Label(), old.ad.label) {
			r.conn.log.Warnf("rejecting stale channel %s, %s is live", h.Label(), old.ad.label)
			r.reject(h)
			return
		}
		r.conn.log.Debugf("channel %s replaced by %s", old.ad.label, h.Label())
		e.active = nil
		old.destroy(channelError(name, ErrSuperseded))
		r.entries[name] = e
	}

	ch := newChannel(r.conn, name)
	ch.remote = true
	if rep, ok := h.(optionsReporter); ok {
		ch.opts = rep.Options()
	}
	e.active = ch
	ch.bind(h)
	r.conn.announce(ch)
}

func (r *registry) reject(h transport.Handle) {
	h.Bind(nil)
	r.conn.closeHandle(h)
}

// release is called once ch is destroyed.
func (r *registry) release(ch *Channel) {
	if ch == r.def {
		return
	}
	e := r.entries[ch.key]
	if e == nil {
		return
	}
	if e.active != ch {
		for i, w := range e.waiting {
			if w == ch {
				e.waiting = append(e.waiting[:i], e.waiting[i+1:]...)
				break
			}
		}
		if e.empty() {
			delete(r.entries, ch.key)
		}
		return
	}

	e.active = nil
	if len(e.waiting) == 0 {
		delete(r.entries, ch.key)
		return
	}
	// Bind the next request only after observers have seen the close of
	// this one, by bouncing through the event goroutine.
	e.draining = true
	conn := r.conn
	conn.events.post(func() {
		conn.loop.post(func() {
			e.draining = false
			r.advance(ch.key, e)
		})
	})
}

// advance activates queued requests in order until one binds.
func (r *registry) advance(name string, e *entry) {
	if r.closing || r.entries[name] != e {
		return
	}
	for e.active == nil && !e.draining && len(e.waiting) > 0 {
		next := e.waiting[0]
		e.waiting = e.waiting[1:]
		e.active = next
		r.open(next)
	}
	if e.empty() {
		delete(r.entries, name)
	}
}

func (r *registry) channels() []*Channel {
	chans := []*Channel{}
	if r.def.state != StateDestroyed {
		chans = append(chans, r.def)
	}
	for _, e := range r.entries {
		if e.active != nil {
			chans = append(chans, e.active)
		}
		chans = append(chans, e.waiting...)
	}
	return chans
}

// teardown destroys every channel, queued requests first so none of them
// gets bound as the active ones go away.
func (r *registry) teardown(err error) {
	r.closing = true
	for _, e := range r.entries {
		waiting := e.waiting
		e.waiting = nil
		for _, ch := range waiting {
			ch.destroy(err)
		}
	}
	for name, e := range r.entries {
		if e.active != nil {
			e.active.destroy(err)
		}
		delete(r.entries, name)
	}
	r.def.destroy(err)
}
