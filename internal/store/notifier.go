package store

import (
	"context"
	"sync"
)

// notifier delivers commits to listeners in commit order on a dedicated
// goroutine. The queue is unbounded: commits may never be dropped, or a
// subscriber could miss a distinct value in the sequence of committed
// trees.
type notifier struct {
	mu       sync.Mutex
	queue    []Commit
	wake     chan struct{}
	done     chan struct{}
	draining bool

	listenerMu sync.RWMutex
	listeners  []Listener

	wg sync.WaitGroup
}

func newNotifier() *notifier {
	return &notifier{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (n *notifier) addListener(l Listener) {
	n.listenerMu.Lock()
	defer n.listenerMu.Unlock()
	n.listeners = append(n.listeners, l)
}

// enqueue appends a commit and wakes the delivery goroutine.
func (n *notifier) enqueue(c Commit) {
	n.mu.Lock()
	n.queue = append(n.queue, c)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) start() {
	n.wg.Add(1)
	go n.loop()
}

func (n *notifier) loop() {
	defer n.wg.Done()

	for {
		n.deliverPending()

		select {
		case <-n.wake:
		case <-n.done:
			// Flush anything enqueued before close.
			n.deliverPending()
			return
		}
	}
}

// deliverPending drains the queue, preserving commit order.
func (n *notifier) deliverPending() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		batch := n.queue
		n.queue = nil
		n.mu.Unlock()

		n.listenerMu.RLock()
		listeners := make([]Listener, len(n.listeners))
		copy(listeners, n.listeners)
		n.listenerMu.RUnlock()

		for _, c := range batch {
			for _, l := range listeners {
				l.AfterCommit(c)
			}
		}
	}
}

// stop flushes pending commits and waits for the delivery goroutine to
// exit or ctx to expire.
func (n *notifier) stop(ctx context.Context) error {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
	} else {
		n.draining = true
		n.mu.Unlock()
		close(n.done)
	}

	finished := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
