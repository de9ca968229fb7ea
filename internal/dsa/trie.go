// Package dsa provides the data structures shared by the runtime.
// Uses go-radix for a compressed prefix tree.
package dsa

import (
	"github.com/armon/go-radix"
)

// Trie is a typed radix tree keyed by path-like strings. Shared path
// prefixes are stored once, so a few hundred focus paths stay cheap.
//
// Time Complexity: O(k) per operation where k is key length.
type Trie[V any] struct {
	tree *radix.Tree
}

// NewTrie creates a new empty tree.
func NewTrie[V any]() *Trie[V] {
	return &Trie[V]{tree: radix.New()}
}

// Insert adds or replaces key.
func (t *Trie[V]) Insert(key string, value V) {
	t.tree.Insert(key, value)
}

// Search looks up an exact key.
func (t *Trie[V]) Search(key string) (V, bool) {
	val, found := t.tree.Get(key)
	return typed[V](val, found)
}

// PrefixesOf calls fn for every stored key that is a prefix of query,
// shortest first.
func (t *Trie[V]) PrefixesOf(query string, fn func(key string, value V)) {
	t.tree.WalkPath(query, func(k string, v interface{}) bool {
		if val, ok := v.(V); ok {
			fn(k, val)
		}
		return false
	})
}

// StartsWith returns every key beginning with prefix, in lexical order.
func (t *Trie[V]) StartsWith(prefix string) []string {
	var keys []string
	t.tree.WalkPrefix(prefix, func(k string, _ interface{}) bool {
		keys = append(keys, k)
		return false
	})
	return keys
}

// Len returns the number of keys.
func (t *Trie[V]) Len() int {
	return t.tree.Len()
}

// Clear removes all keys.
func (t *Trie[V]) Clear() {
	t.tree = radix.New()
}

func typed[V any](val interface{}, found bool) (V, bool) {
	var zero V
	if !found {
		return zero, false
	}
	v, ok := val.(V)
	if !ok {
		return zero, false
	}
	return v, true
}
