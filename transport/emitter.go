package transport

import "sync"

// Emitter delivers handle events to bound Callbacks. Transports embed
// one per handle to get the hold-until-bound behavior Bind promises.
// Events are delivered while holding the emitter lock, which gives them
// a total order.
type Emitter struct {
	mu       sync.Mutex
	cb       *Callbacks
	bound    bool
	detached bool
	held     []func(*Callbacks)
}

// Bind implements Handle.Bind.
func (e *Emitter) Bind(cb *Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb == nil {
		e.cb = nil
		e.detached = true
		e.held = nil
		return
	}
	if e.detached {
		return
	}
	e.cb = cb
	e.bound = true
	held := e.held
	e.held = nil
	for _, fn := range held {
		fn(cb)
	}
}

func (e *Emitter) emit(fn func(*Callbacks)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.detached:
	case !e.bound:
		e.held = append(e.held, fn)
	default:
		fn(e.cb)
	}
}

// EmitOpen delivers an open event.
func (e *Emitter) EmitOpen() {
	e.emit(func(cb *Callbacks) {
		if cb.OnOpen != nil {
			cb.OnOpen()
		}
	})
}

// EmitMessage delivers a message event.
func (e *Emitter) EmitMessage(msg Message) {
	e.emit(func(cb *Callbacks) {
		if cb.OnMessage != nil {
			cb.OnMessage(msg)
		}
	})
}

// EmitClose delivers a close event.
func (e *Emitter) EmitClose() {
	e.emit(func(cb *Callbacks) {
		if cb.OnClose != nil {
			cb.OnClose()
		}
	})
}

// EmitError delivers an error event.
func (e *Emitter) EmitError(err error) {
	e.emit(func(cb *Callbacks) {
		if cb.OnError != nil {
			cb.OnError(err)
		}
	})
}

// Announcer implements Conn.OnChannel for transports: handles announced
// before a function is set are held and flushed by Set.
type Announcer struct {
	mu   sync.Mutex
	fn   func(Handle)
	held []Handle
}

// Set installs fn and delivers any held handles to it.
func (a *Announcer) Set(fn func(Handle)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.fn = fn
	if fn == nil {
		return
	}
	held := a.held
	a.held = nil
	for _, h := range held {
		fn(h)
	}
}

// Announce delivers h to the installed function, or holds it.
func (a *Announcer) Announce(h Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fn == nil {
		a.held = append(a.held, h)
		return
	}
	a.fn(h)
}
