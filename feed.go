package portal

import "sync"

const feedBuffer = 16

// ChangeFeed fans identity changes out to subscribers. Identity providers
// embed it to implement IdentityProvider.Subscribe.
//
// Subscribers get the current state first. A subscriber that falls behind
// loses its oldest pending change, never the newest.
type ChangeFeed struct {
	mu      sync.Mutex
	subs    map[uint64]chan IdentityChange
	next    uint64
	current IdentityChange
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (f *ChangeFeed) Subscribe() (<-chan IdentityChange, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subs == nil {
		f.subs = map[uint64]chan IdentityChange{}
	}

	id := f.next
	f.next++

	ch := make(chan IdentityChange, feedBuffer)
	ch <- f.current
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
		})
	}
}

// Publish records change as the current state and delivers it.
func (f *ChangeFeed) Publish(change IdentityChange) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.current = change
	for _, ch := range f.subs {
		deliver(ch, change)
	}
}

// Current returns the last published change.
func (f *ChangeFeed) Current() IdentityChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Subscribers returns the number of live subscriptions.
func (f *ChangeFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func deliver[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
