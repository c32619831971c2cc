package mux

import (
	"sync"

	"github.com/progrium/dchan-go/mux/frame"
)

type outbound struct {
	f frame.Frame
	h *handle
	// after runs once f has been written.
	after func()
}

// writer encodes queued frames on its own goroutine so Send never blocks
// on the network and handles can report a real buffered amount.
type writer struct {
	enc   *frame.Encoder
	onErr func(error)

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []outbound
	closed bool
}

func newWriter(enc *frame.Encoder, onErr func(error)) *writer {
	w := &writer{enc: enc, onErr: onErr}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

func (w *writer) push(o outbound) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.queue = append(w.queue, o)
	w.cond.Signal()
	return true
}

// close drops anything still queued and stops the writer.
func (w *writer) close() {
	w.mu.Lock()
	w.closed = true
	w.queue = nil
	w.cond.Signal()
	w.mu.Unlock()
}

func (w *writer) run() {
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if w.closed {
			w.mu.Unlock()
			return
		}
		queue := w.queue
		w.queue = nil
		w.mu.Unlock()

		for _, o := range queue {
			if err := w.enc.Encode(o.f); err != nil {
				w.close()
				if w.onErr != nil {
					w.onErr(err)
				}
				return
			}
			if o.h != nil && o.f.Type == frame.Data {
				o.h.sent(uint64(len(o.f.Data)))
			}
			if o.after != nil {
				o.after()
			}
		}
	}
}
