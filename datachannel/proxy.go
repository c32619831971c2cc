package datachannel

import (
	"context"
	"errors"
	"sync"
)

// Proxy relays the default channel of src to the default channel of dst,
// then accepts channels on src, creates a channel with the same name on
// dst and relays messages in both directions. Proxy returns nil once src
// is closed, ctx.Err() if ctx is done, and any error from dst.Create after
// closing the accepted channel from src.
func Proxy(ctx context.Context, dst, src *Conn) error {
	go proxy(src.Default(), dst.Default())
	for {
		a, err := src.Accept(ctx)
		if err != nil {
			if errors.Is(err, ErrConnClosed) {
				return nil
			}
			return err
		}
		b, err := dst.Create(a.key, WithOptions(a.opts))
		if err != nil {
			a.Close()
			return err
		}
		go proxy(a, b)
	}
}

func proxy(a, b *Channel) {
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	if a.WaitOpen(ctx) != nil || b.WaitOpen(ctx) != nil {
		return
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		relay(a, b)
		a.Close()
		wg.Done()
	}()
	go func() {
		relay(b, a)
		b.Close()
		wg.Done()
	}()
	wg.Wait()
}

// relay copies messages from src to dst until either fails.
func relay(dst, src *Channel) {
	for {
		msg, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(msg); err != nil {
			return
		}
	}
}
