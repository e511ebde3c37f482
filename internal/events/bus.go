package events

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Listener receives events from a Bus.
type Listener interface {
	OnEvent(ctx context.Context, e Event) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, e Event) error

func (f ListenerFunc) OnEvent(ctx context.Context, e Event) error {
	return f(ctx, e)
}

type subscription struct {
	id       uint64
	typ      Type
	listener Listener
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	bus  *Bus
	id   uint64
	once sync.Once
}

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() { s.bus.remove(func(sub *subscription) bool { return sub.id == s.id }) })
}

// Bus is a synchronous, in-process event bus.
//
// Subscriptions are kept in a copy-on-write slice: Publish dispatches on a
// snapshot without holding any lock, so listeners may publish or (un)subscribe
// re-entrantly. Delivery order is subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	nextID uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers l for events of type t and its descendants.
func (b *Bus) Subscribe(t Type, l Listener) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	next := make([]*subscription, len(b.subs), len(b.subs)+1)
	copy(next, b.subs)
	b.subs = append(next, &subscription{id: b.nextID, typ: t, listener: l})

	return &Subscription{bus: b, id: b.nextID}
}

// Unsubscribe removes the first subscription of l on exactly type t.
// Unknown pairs are ignored.
func (b *Bus) Unsubscribe(t Type, l Listener) {
	removed := false
	b.remove(func(sub *subscription) bool {
		if removed || sub.typ != t || !sameListener(sub.listener, l) {
			return false
		}
		removed = true
		return true
	})
}

func (b *Bus) remove(match func(*subscription) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if !match(sub) {
			next = append(next, sub)
		}
	}
	b.subs = next
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers e to every matching listener in the caller's goroutine.
//
// A failing or panicking listener does not stop delivery to the rest. When any
// listener fails, the returned error is a *DispatchError holding every failure.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	snapshot := b.subs
	b.mu.RUnlock()

	var failures []error
	for _, sub := range snapshot {
		if !sub.typ.Covers(e.Type()) {
			continue
		}
		if err := deliver(ctx, sub.listener, e); err != nil {
			failures = append(failures, err)
		}
	}

	if len(failures) > 0 {
		return &DispatchError{Type: e.Type(), Failures: failures}
	}
	return nil
}

func deliver(ctx context.Context, l Listener, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l.OnEvent(ctx, e)
}

// sameListener compares listeners without panicking on func-typed values,
// which are not comparable with ==.
func sameListener(a, b Listener) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	if va.Kind() == reflect.Func {
		return va.Pointer() == vb.Pointer()
	}
	if !va.Type().Comparable() {
		return false
	}
	return a == b
}

// DispatchError aggregates listener failures from a single Publish.
type DispatchError struct {
	Type     Type
	Failures []error
}

func (e *DispatchError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d listener(s) failed for %q: %s", len(e.Failures), e.Type, strings.Join(msgs, "; "))
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *DispatchError) Unwrap() []error {
	return e.Failures
}

// Join returns the failures as a single joined error.
func (e *DispatchError) Join() error {
	return errors.Join(e.Failures...)
}
