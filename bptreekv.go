// Package bptreekv is a disk-backed, single-writer/multi-reader ordered
// key/value store built on a B+Tree with B-link right-sibling chaining,
// a write-ahead log for crash recovery, and a bounded buffer pool.
package bptreekv

import (
	"github.com/tuannm99/bptreekv/internal/config"
	"github.com/tuannm99/bptreekv/internal/coordinator"
)

// Options configures a store at Open time. See internal/config for the
// With* functional options and file-based Load.
type Options = config.Options

// Option mutates an Options value.
type Option = config.Option

// KV is one key/value pair yielded by Range.
type KV = struct {
	Key   uint64
	Value []byte
}

// Tree is an open key/value store.
type Tree struct {
	c *coordinator.Coordinator
}

// Open opens or creates the store at opts.FilePath, replaying its WAL if
// present, and applies any additional functional options.
func Open(filePath string, opts ...Option) (*Tree, error) {
	merged := config.Apply(config.Default(filePath), opts...)
	c, err := coordinator.Open(merged)
	if err != nil {
		return nil, err
	}
	return &Tree{c: c}, nil
}

// OpenWithOptions opens the store using a fully assembled Options value,
// e.g. one produced by config.Load.
func OpenWithOptions(opts Options) (*Tree, error) {
	c, err := coordinator.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Tree{c: c}, nil
}

// Close flushes all dirty pages, checkpoints the WAL, and closes the
// underlying files.
func (t *Tree) Close() error {
	return t.c.Close()
}

// Get returns (value, true) if key is present, or (nil, false) if not.
func (t *Tree) Get(key uint64) ([]byte, bool, error) {
	return t.c.Get(key)
}

// Set inserts or overwrites key with value.
func (t *Tree) Set(key uint64, value []byte) error {
	return t.c.Set(key, value)
}

// Delete removes key, returning whether it was present.
func (t *Tree) Delete(key uint64) (bool, error) {
	return t.c.Delete(key)
}

// Range returns every (key, value) pair with start <= key <= end, in
// ascending key order. Empty if end < start.
func (t *Tree) Range(start, end uint64) ([]KV, error) {
	pairs, err := t.c.Range(start, end)
	if err != nil {
		return nil, err
	}
	out := make([]KV, len(pairs))
	for i, p := range pairs {
		out[i] = KV{Key: p.Key, Value: p.Value}
	}
	return out, nil
}

// Keys returns just the keys in [start, end].
func (t *Tree) Keys(start, end uint64) ([]uint64, error) {
	return t.c.Keys(start, end)
}

// Values returns just the values in [start, end], in key order.
func (t *Tree) Values(start, end uint64) ([][]byte, error) {
	return t.c.Values(start, end)
}

// ConsistencyCheck walks the tree verifying its structural invariants.
func (t *Tree) ConsistencyCheck() (bool, error) {
	return t.c.ConsistencyCheck()
}

// Defragment rebuilds the tree from scratch, reclaiming every freed page.
func (t *Tree) Defragment() error {
	return t.c.Defragment()
}

// Vacuum reclaims trailing free pages and truncates the data file.
func (t *Tree) Vacuum() error {
	return t.c.Vacuum()
}
