package archive

import "github.com/cespare/xxhash/v2"

// MaxTableSize caps the number of buckets in an archive index.
const MaxTableSize = 1024

// TableSize returns the bucket count for an index holding n entries: the
// smallest power of two >= n, at least 1 and at most MaxTableSize.
func TableSize(n int) int {
	size := 1
	for size < n && size < MaxTableSize {
		size <<= 1
	}
	return size
}

type indexEntry[V any] struct {
	key   string
	value V
}

// Index is a fixed-size chained hash table. Chains are kept in insertion
// order and searched newest-first, so an entry inserted later shadows an
// earlier entry with the same key. Keys must already be normalized.
type Index[V any] struct {
	buckets [][]indexEntry[V]
	mask    uint64
	count   int
}

// NewIndex returns an index sized for n entries.
func NewIndex[V any](n int) *Index[V] {
	size := TableSize(n)
	return &Index[V]{
		buckets: make([][]indexEntry[V], size),
		mask:    uint64(size - 1),
	}
}

func (ix *Index[V]) bucket(key string) int {
	return int(xxhash.Sum64String(key) & ix.mask)
}

// Insert adds key to the front of its chain.
func (ix *Index[V]) Insert(key string, value V) {
	b := ix.bucket(key)
	ix.buckets[b] = append(ix.buckets[b], indexEntry[V]{key: key, value: value})
	ix.count++
}

// Lookup returns the first match for key in chain order.
func (ix *Index[V]) Lookup(key string) (V, bool) {
	chain := ix.buckets[ix.bucket(key)]
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].key == key {
			return chain[i].value, true
		}
	}
	var zero V
	return zero, false
}

// Size returns the number of buckets.
func (ix *Index[V]) Size() int {
	return len(ix.buckets)
}

// Len returns the number of inserted entries.
func (ix *Index[V]) Len() int {
	return ix.count
}
