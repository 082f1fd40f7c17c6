// Package trigger records which subtrees of a replica changed since the
// client last asked, collapsing everything below a changed directory into a
// single marker.
package trigger

import (
	"path/filepath"
	"sort"
	"strings"
)

// node is either a dirty marker or a branch of named children
type node struct {
	dirty    bool
	children map[string]*node
}

func newBranch() *node {
	return &node{children: make(map[string]*node)}
}

func newMarker() *node {
	return &node{dirty: true}
}

// Tree is the collapsing prefix tree of one replica. The zero value is an
// empty tree. Tree is not safe for concurrent use.
type Tree struct {
	root *node
}

// Empty reports whether no change is recorded
func (t *Tree) Empty() bool {
	return t.root == nil
}

// Dirty reports whether the whole replica is marked as changed
func (t *Tree) Dirty() bool {
	return t.root != nil && t.root.dirty
}

// Record marks the subtree addressed by segments as changed. An empty
// segment list marks the whole replica.
func (t *Tree) Record(segments []string) {
	if t.Dirty() {
		return
	}
	if len(segments) == 0 {
		t.root = newMarker()
		return
	}
	if t.root == nil {
		t.root = newBranch()
	}

	cur := t.root
	last := len(segments) - 1
	for _, seg := range segments[:last] {
		child, ok := cur.children[seg]
		if !ok {
			child = newBranch()
			cur.children[seg] = child
		}
		if child.dirty {
			return
		}
		cur = child
	}
	// Replaces any branch rooted at the leaf
	cur.children[segments[last]] = newMarker()
}

// Drain returns one relative path per maximal changed subtree and empties
// the tree. The whole replica is reported as "".
func (t *Tree) Drain() []string {
	if t.root == nil {
		return nil
	}
	root := t.root
	t.root = nil

	if root.dirty {
		return []string{""}
	}

	var paths []string
	var walk func(n *node, prefix []string)
	walk = func(n *node, prefix []string) {
		if n.dirty {
			paths = append(paths, strings.Join(prefix, "/"))
			return
		}
		for seg, child := range n.children {
			walk(child, append(prefix[:len(prefix):len(prefix)], seg))
		}
	}
	walk(root, nil)

	sort.Strings(paths)
	return paths
}

// Len returns the number of dirty markers currently recorded
func (t *Tree) Len() int {
	if t.root == nil {
		return 0
	}
	var count func(n *node) int
	count = func(n *node) int {
		if n.dirty {
			return 1
		}
		total := 0
		for _, child := range n.children {
			total += count(child)
		}
		return total
	}
	return count(t.root)
}

// Tokenize splits a replica relative path into segments, dropping empty and
// "." components.
func Tokenize(rel string) []string {
	rel = filepath.ToSlash(rel)
	var segments []string
	for _, seg := range strings.Split(rel, "/") {
		if seg == "" || seg == "." {
			continue
		}
		segments = append(segments, seg)
	}
	return segments
}
