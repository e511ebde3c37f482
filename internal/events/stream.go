package events

import (
	"context"
	"sync"
)

// Stream subscribes to t and forwards matching events onto a channel with the
// given buffer. The channel is closed and the subscription removed when ctx is
// done. A full channel blocks the publisher until space frees up or ctx ends.
func (b *Bus) Stream(ctx context.Context, t Type, buf int) <-chan Event {
	ch := make(chan Event, buf)

	var (
		mu     sync.Mutex
		closed bool
	)

	sub := b.Subscribe(t, ListenerFunc(func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return nil
		}
		select {
		case ch <- e:
		case <-ctx.Done():
		}
		return nil
	}))

	go func() {
		<-ctx.Done()
		sub.Cancel()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()

	return ch
}
