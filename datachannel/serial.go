package datachannel

import "sync"

// serial runs functions one at a time, in submission order, on its own
// goroutine. A connection uses one serial as its event loop and another
// to deliver observer events.
type serial struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func newSerial() *serial {
	s := &serial{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// post queues fn. It reports false if the serial has been stopped.
func (s *serial) post(fn func()) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// call runs fn and waits for it to return. It must not be used from the
// serial's own goroutine.
func (s *serial) call(fn func()) bool {
	ran := make(chan struct{})
	if !s.post(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	<-ran
	return true
}

// stop refuses new work. Work already queued still runs.
func (s *serial) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *serial) run() {
	for {
		s.mu.Lock()
		queue := s.queue
		s.queue = nil
		stopped := s.stopped
		s.mu.Unlock()

		for _, fn := range queue {
			fn()
		}
		if len(queue) > 0 {
			continue
		}
		if stopped {
			close(s.done)
			return
		}
		<-s.wake
	}
}
