package engine

import (
	"context"
	"sync"
)

const subscriberBufferSize = 16

// notifier fans a stream of ChangeEvents out to subscribers. It is the
// engine's single-producer multi-consumer change feed: a buffered channel
// per subscriber, a non-blocking publish that drops on a full buffer
// rather than blocking the committing transaction, and context-scoped
// unsubscribe.
//
// One store serves one process, so there is a single subscriber set with
// no partitioning key.
type notifier struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
}

type subscriber struct {
	id     int64
	stream chan ChangeEvent
}

func newNotifier() *notifier {
	return &notifier{subscribers: make(map[int64]*subscriber)}
}

// subscribe registers a new cold subscriber and returns its event channel
// together with an unsubscribe function. The subscription is also removed
// automatically when ctx is cancelled; the channel itself is never closed.
func (n *notifier) subscribe(ctx context.Context) (<-chan ChangeEvent, func()) {
	n.mu.Lock()
	n.nextID++
	sub := &subscriber{id: n.nextID, stream: make(chan ChangeEvent, subscriberBufferSize)}
	n.subscribers[sub.id] = sub
	n.mu.Unlock()

	cleanup := func() {
		n.mu.Lock()
		delete(n.subscribers, sub.id)
		n.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// publish delivers event to every subscriber. A subscriber whose buffer is
// full drops the event: the data is already durably committed and
// queryable, so a slow consumer loses liveness, not correctness.
func (n *notifier) publish(event ChangeEvent) {
	n.mu.RLock()
	subs := make([]*subscriber, 0, len(n.subscribers))
	for _, sub := range n.subscribers {
		subs = append(subs, sub)
	}
	n.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.stream <- event:
		default:
		}
	}
}
