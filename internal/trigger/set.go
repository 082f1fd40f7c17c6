package trigger

import (
	"sort"
)

// Set holds one Tree per replica token. A token has an entry only while it
// has pending changes. Set is not safe for concurrent use; the session
// guards it together with the registry and the wait set.
type Set struct {
	trees map[string]*Tree
}

// NewSet creates an empty trigger set
func NewSet() *Set {
	return &Set{trees: make(map[string]*Tree)}
}

// Record adds a change for token
func (s *Set) Record(token string, segments []string) {
	tree, ok := s.trees[token]
	if !ok {
		tree = &Tree{}
		s.trees[token] = tree
	}
	tree.Record(segments)
}

// Pending reports whether token has recorded changes
func (s *Set) Pending(token string) bool {
	tree, ok := s.trees[token]
	return ok && !tree.Empty()
}

// Len returns the number of changed subtrees recorded for token
func (s *Set) Len(token string) int {
	tree, ok := s.trees[token]
	if !ok {
		return 0
	}
	return tree.Len()
}

// Drain returns the changed subtrees of token and forgets them
func (s *Set) Drain(token string) []string {
	tree, ok := s.trees[token]
	if !ok {
		return nil
	}
	delete(s.trees, token)
	return tree.Drain()
}

// Forget discards any pending change for token
func (s *Set) Forget(token string) {
	delete(s.trees, token)
}

// Snapshot returns the pending paths of every token without draining them.
// It backs the trace output and is not meant for the protocol path.
func (s *Set) Snapshot() map[string][]string {
	snapshot := make(map[string][]string, len(s.trees))
	for token, tree := range s.trees {
		clone := Tree{root: tree.root}
		// Drain on a shallow copy only detaches the copy's root
		snapshot[token] = clone.Drain()
	}
	return snapshot
}

// Tokens returns the tokens with pending changes in sorted order
func (s *Set) Tokens() []string {
	tokens := make([]string, 0, len(s.trees))
	for token := range s.trees {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}
