package datachannel

import (
	"io"
	"sync"

	"github.com/progrium/dchan-go/transport"
)

// inbox queues received messages until they are read. It never merges
// or splits messages: a Read returns bytes from at most one message.
type inbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	msgs    []transport.Message
	partial transport.Message
	closed  bool
	err     error
}

func newInbox() *inbox {
	b := &inbox{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *inbox) push(msg transport.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.msgs = append(b.msgs, msg)
	b.cond.Signal()
}

// close makes readers return err, or io.EOF if err is nil, once the
// queue has drained.
func (b *inbox) close(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if err == nil {
		err = io.EOF
	}
	b.closed = true
	b.err = err
	b.cond.Broadcast()
}

// wait blocks until a message is queued or the inbox is closed.
// Caller must hold the lock.
func (b *inbox) wait() error {
	for len(b.msgs) == 0 {
		if b.closed {
			return b.err
		}
		b.cond.Wait()
	}
	return nil
}

func (b *inbox) next() (transport.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.partial.Data) > 0 {
		msg := b.partial
		b.partial = transport.Message{}
		return msg, nil
	}
	if err := b.wait(); err != nil {
		return transport.Message{}, err
	}
	msg := b.msgs[0]
	b.msgs[0] = transport.Message{}
	b.msgs = b.msgs[1:]
	return msg, nil
}

func (b *inbox) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.partial.Data) == 0 {
		if err := b.wait(); err != nil {
			return 0, err
		}
		b.partial = b.msgs[0]
		b.msgs[0] = transport.Message{}
		b.msgs = b.msgs[1:]
	}
	n := copy(p, b.partial.Data)
	b.partial.Data = b.partial.Data[n:]
	return n, nil
}
