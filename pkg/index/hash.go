package index

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const (
	// initialBuckets is the bucket count of an empty hash index
	initialBuckets = 16
	// maxLoadFactor is the keys-per-bucket ratio that triggers a resize
	maxLoadFactor = 0.75
)

// Hash is a separately chained hash table keyed by the xxhash of the
// big-endian key bytes. It has no key ordering.
type Hash struct {
	buckets [][]entry
	keys    int
	size    int
}

// Ensure Hash implements the Index interface
var _ Index = (*Hash)(nil)

// NewHash creates an empty hash index
func NewHash() *Hash {
	return &Hash{buckets: make([][]entry, initialBuckets)}
}

func hashKey(key int32) uint64 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(key))
	return xxhash.Sum64(b[:])
}

// slot returns the bucket for key and the entry's position in it, or -1
func (h *Hash) slot(key int32) (int, int) {
	bi := int(hashKey(key) & uint64(len(h.buckets)-1))
	for i, e := range h.buckets[bi] {
		if e.key == key {
			return bi, i
		}
	}
	return bi, -1
}

// Insert adds (key, blockNum)
func (h *Hash) Insert(key, blockNum int32) {
	bi, i := h.slot(key)
	if i >= 0 {
		var added bool
		h.buckets[bi][i].blocks, added = insertSorted(h.buckets[bi][i].blocks, blockNum)
		if added {
			h.size++
		}
		return
	}

	h.buckets[bi] = append(h.buckets[bi], entry{key: key, blocks: []int32{blockNum}})
	h.keys++
	h.size++

	if float64(h.keys) > maxLoadFactor*float64(len(h.buckets)) {
		h.grow()
	}
}

// Delete removes (key, blockNum)
func (h *Hash) Delete(key, blockNum int32) {
	bi, i := h.slot(key)
	if i < 0 {
		return
	}

	bucket := h.buckets[bi]
	var removed bool
	bucket[i].blocks, removed = removeSorted(bucket[i].blocks, blockNum)
	if !removed {
		return
	}
	h.size--

	if len(bucket[i].blocks) == 0 {
		bucket[i] = bucket[len(bucket)-1]
		h.buckets[bi] = bucket[:len(bucket)-1]
		h.keys--
	}
}

// Lookup returns the block numbers for key
func (h *Hash) Lookup(key int32) []int32 {
	bi, i := h.slot(key)
	if i < 0 {
		return []int32{}
	}
	return cloneBlocks(h.buckets[bi][i].blocks)
}

// Size returns the number of (key, blockNum) pairs
func (h *Hash) Size() int {
	return h.size
}

// Keys returns the number of distinct keys
func (h *Hash) Keys() int {
	return h.keys
}

// Kind returns KindHash
func (h *Hash) Kind() Kind {
	return KindHash
}

// grow doubles the bucket array and rehashes every entry
func (h *Hash) grow() {
	next := make([][]entry, len(h.buckets)*2)
	mask := uint64(len(next) - 1)
	for _, bucket := range h.buckets {
		for _, e := range bucket {
			bi := hashKey(e.key) & mask
			next[bi] = append(next[bi], e)
		}
	}
	h.buckets = next
}
