// Package caststream projects the session adapter onto replay-latest
// streams, for consumers that would rather range over channels than
// register callbacks.
package caststream

import "sync"

const subscriberBuffer = 16

// Value is a broadcast cell. Every Set fans the new value out to all
// subscribers, and a new subscriber immediately receives the latest
// value, if one exists. Close completes every subscriber channel;
// subscribing after Close yields an already-closed channel.
type Value[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	last   T
	has    bool
	closed bool
}

func NewValue[T any]() *Value[T] {
	return &Value[T]{subs: make(map[int]chan T)}
}

// Set stores v as the latest value and pushes it to every subscriber.
// A subscriber that has fallen subscriberBuffer values behind loses
// its oldest pending value rather than blocking the publisher.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}

	v.last = val
	v.has = true

	for _, ch := range v.subs {
		select {
		case ch <- val:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- val
		}
	}
}

// Get returns the latest value. ok is false when nothing has been set.
func (v *Value[T]) Get() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last, v.has
}

// Subscribe returns a channel of values starting with the latest one,
// plus a cancel function that detaches the subscriber and closes its
// channel. Cancel is idempotent.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan T, subscriberBuffer)

	if v.closed {
		close(ch)
		return ch, func() {}
	}

	if v.has {
		ch <- v.last
	}

	id := v.nextID
	v.nextID++
	v.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if _, ok := v.subs[id]; ok {
				delete(v.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close completes every subscriber channel. Set and Subscribe after
// Close are inert.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.closed = true

	for id, ch := range v.subs {
		delete(v.subs, id)
		close(ch)
	}
}
