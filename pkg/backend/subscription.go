package backend

import (
	"sync"

	"github.com/surrealdb/canvassync/pkg/constants"
)

// Subscription is a cancellable stream of snapshots. C is closed after Close.
type Subscription struct {
	C <-chan Snapshot

	feed    *Feed
	cleanup func()
	once    sync.Once
}

// NewSubscription wraps a feed. cleanup runs once, on the first Close.
func NewSubscription(feed *Feed, cleanup func()) *Subscription {
	return &Subscription{C: feed.C(), feed: feed, cleanup: cleanup}
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cleanup != nil {
			s.cleanup()
		}
		s.feed.Close()
	})
}

// Feed delivers pushed snapshots to a bounded channel. When the consumer
// lags, pending snapshots are replaced by newer ones, so the latest value
// is always delivered and memory stays bounded.
type Feed struct {
	mu      sync.Mutex
	pending *Snapshot
	wake    chan struct{}
	out     chan Snapshot
	done    chan struct{}
	once    sync.Once
}

func NewFeed() *Feed {
	f := &Feed{
		wake: make(chan struct{}, 1),
		out:  make(chan Snapshot, constants.SubscriptionBuffer),
		done: make(chan struct{}),
	}
	go f.pump()
	return f
}

func (f *Feed) C() <-chan Snapshot {
	return f.out
}

// Push never blocks.
func (f *Feed) Push(s Snapshot) {
	f.mu.Lock()
	f.pending = &s
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Done is closed when the feed is closed.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

func (f *Feed) Close() {
	f.once.Do(func() {
		close(f.done)
	})
}

func (f *Feed) pump() {
	defer close(f.out)
	for {
		select {
		case <-f.done:
			return
		case <-f.wake:
		}

		f.mu.Lock()
		s := f.pending
		f.pending = nil
		f.mu.Unlock()
		if s == nil {
			continue
		}

		select {
		case f.out <- *s:
		case <-f.done:
			return
		}
	}
}
