package kind

import "sync"

// Trie is a thread-safe trie of subscription patterns. It finds all
// registered patterns matching a concrete event kind in roughly O(k) for k
// kind segments when few wildcards are present.
type Trie struct {
	mu   sync.RWMutex
	root *trieNode
}

type trieNode struct {
	children map[string]*trieNode
	patterns []Kind // patterns terminating at this node
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[string]*trieNode)}
}

func (n *trieNode) isEmpty() bool {
	return len(n.children) == 0 && len(n.patterns) == 0
}

// NewTrie creates an empty pattern trie.
func NewTrie() *Trie {
	return &Trie{root: newTrieNode()}
}

// Insert adds a pattern to the trie.
// Returns false if the pattern was already present.
func (t *Trie) Insert(pattern Kind) bool {
	if pattern == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	for _, seg := range pattern.Segments() {
		child := node.children[seg]
		if child == nil {
			child = newTrieNode()
			node.children[seg] = child
		}
		node = child
	}

	for _, p := range node.patterns {
		if p == pattern {
			return false
		}
	}
	node.patterns = append(node.patterns, pattern)
	return true
}

// Delete removes a pattern and prunes empty nodes.
// Returns false if the pattern was not present.
func (t *Trie) Delete(pattern Kind) bool {
	if pattern == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	type pathEntry struct {
		node *trieNode
		seg  string
	}

	segments := pattern.Segments()
	path := make([]pathEntry, 0, len(segments)+1)
	path = append(path, pathEntry{node: t.root})

	node := t.root
	for _, seg := range segments {
		child := node.children[seg]
		if child == nil {
			return false
		}
		path = append(path, pathEntry{node: child, seg: seg})
		node = child
	}

	found := false
	for i, p := range node.patterns {
		if p == pattern {
			node.patterns = append(node.patterns[:i], node.patterns[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return false
	}

	// Prune empty nodes from leaf back to root.
	for i := len(path) - 1; i > 0; i-- {
		if !path[i].node.isEmpty() {
			break
		}
		delete(path[i-1].node.children, path[i].seg)
	}

	return true
}

// Match returns all patterns matching the given concrete kind, without
// duplicates.
func (t *Trie) Match(eventKind Kind) []Kind {
	if eventKind == "" {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	st := &matchState{
		seen:    make(map[Kind]struct{}),
		visited: make(map[visitKey]struct{}),
	}
	t.matchNode(t.root, eventKind.Segments(), 0, st)
	return st.matches
}

type visitKey struct {
	node  *trieNode
	depth int
}

type matchState struct {
	seen    map[Kind]struct{}
	visited map[visitKey]struct{} // (node, depth) memoization for **
	matches []Kind
}

func (t *Trie) matchNode(node *trieNode, segments []string, depth int, st *matchState) {
	if node == nil {
		return
	}

	key := visitKey{node: node, depth: depth}
	if _, seen := st.visited[key]; seen {
		return
	}
	st.visited[key] = struct{}{}

	if depth == len(segments) {
		st.collect(node.patterns)
		// A trailing ** also matches zero additional segments.
		if child := node.children[WildcardMulti]; child != nil {
			t.matchNode(child, segments, depth, st)
		}
		return
	}

	if child := node.children[segments[depth]]; child != nil {
		t.matchNode(child, segments, depth+1, st)
	}
	if child := node.children[WildcardSingle]; child != nil {
		t.matchNode(child, segments, depth+1, st)
	}
	if child := node.children[WildcardMulti]; child != nil {
		for i := depth; i <= len(segments); i++ {
			t.matchNode(child, segments, i, st)
		}
	}
}

func (st *matchState) collect(patterns []Kind) {
	for _, p := range patterns {
		if _, dup := st.seen[p]; !dup {
			st.seen[p] = struct{}{}
			st.matches = append(st.matches, p)
		}
	}
}

// Size returns the number of patterns in the trie.
func (t *Trie) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	var walk func(*trieNode)
	walk = func(n *trieNode) {
		count += len(n.patterns)
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(t.root)
	return count
}

// Clear removes all patterns from the trie.
func (t *Trie) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = newTrieNode()
}
