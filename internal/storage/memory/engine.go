package memory

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/yndnr/pksa-go/pkg/cmap"
)

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("kv engine closed")
)

// Engine is an in-memory key-value engine.
type Engine struct {
	items  *cmap.Map[[]byte]
	closed atomic.Bool
}

// New creates an empty engine.
func New() *Engine {
	return &Engine{items: cmap.New[[]byte]()}
}

// Get retrieves a copy of the value stored under key.
func (e *Engine) Get(_ context.Context, key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	v, ok := e.items.Get(string(key))
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

// Set stores a copy of value under key.
func (e *Engine) Set(_ context.Context, key, value []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.items.Set(string(key), bytes.Clone(value))
	return nil
}

// Delete removes key.
func (e *Engine) Delete(_ context.Context, key []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.items.Delete(string(key))
	return nil
}

// Scan calls fn for every key with the given prefix, in key order.
func (e *Engine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	if e.closed.Load() {
		return ErrClosed
	}
	p := string(prefix)
	var keys []string
	e.items.Range(func(k string, _ []byte) bool {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
		return true
	})
	sort.Strings(keys)

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, ok := e.items.Get(k)
		if !ok {
			continue // deleted while scanning
		}
		if !fn([]byte(k), bytes.Clone(v)) {
			break
		}
	}
	return nil
}

// Len returns the number of stored keys.
func (e *Engine) Len() int {
	return e.items.Count()
}

// Size returns the total number of key and value bytes held.
func (e *Engine) Size() uint64 {
	var n uint64
	e.items.Range(func(k string, v []byte) bool {
		n += uint64(len(k) + len(v))
		return true
	})
	return n
}

// Close drops all records. Further calls return ErrClosed.
func (e *Engine) Close() error {
	if e.closed.CompareAndSwap(false, true) {
		e.items.Clear()
	}
	return nil
}
