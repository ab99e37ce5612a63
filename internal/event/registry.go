package event

import (
	"sort"
	"sync"

	"github.com/dshills/reflow/internal/event/kind"
)

// registry manages subscriptions organized by kind pattern.
// It is safe for concurrent use.
type registry struct {
	mu   sync.RWMutex
	subs map[kind.Kind][]*subscription
	byID map[string]*subscription
	trie *kind.Trie
}

func newRegistry() *registry {
	return &registry{
		subs: make(map[kind.Kind][]*subscription),
		byID: make(map[string]*subscription),
		trie: kind.NewTrie(),
	}
}

func (r *registry) add(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs[sub.pattern] = append(r.subs[sub.pattern], sub)
	r.byID[sub.id] = sub
	r.trie.Insert(sub.pattern)
}

func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return false
	}

	subs := r.subs[sub.pattern]
	for i, s := range subs {
		if s.id == id {
			r.subs[sub.pattern] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(r.subs[sub.pattern]) == 0 {
		delete(r.subs, sub.pattern)
		r.trie.Delete(sub.pattern)
	}
	delete(r.byID, id)
	return true
}

// matchActive returns the active subscriptions whose pattern matches the
// event kind, in registration order. The result is a copy: subscriptions
// added after the call do not appear in it.
func (r *registry) matchActive(k kind.Kind) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	patterns := r.trie.Match(k)
	if len(patterns) == 0 {
		return nil
	}

	var matched []*subscription
	for _, p := range patterns {
		for _, sub := range r.subs[p] {
			if sub.IsActive() {
				matched = append(matched, sub)
			}
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].seq < matched[j].seq
	})
	return matched
}

func (r *registry) countActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, sub := range r.byID {
		if sub.IsActive() {
			n++
		}
	}
	return n
}
