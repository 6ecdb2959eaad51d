// Package index maps integer search keys to the set of block numbers that
// hold at least one record with that key.
//
// A search key is not necessarily unique, so each key carries a set of
// block numbers. Pairs are never duplicated and a key whose set becomes
// empty is removed. Indexes live only in memory.
package index

import (
	"fmt"
	"strings"
)

// Kind identifies an index implementation
type Kind int

const (
	// KindNone means no index is installed
	KindNone Kind = iota
	// KindOrdered is a key-sorted index supporting range queries
	KindOrdered
	// KindHash is an unordered hash index
	KindHash
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindOrdered:
		return "ordered"
	case KindHash:
		return "hash"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses the output of Kind.String, case-insensitively
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return KindNone, nil
	case "ordered", "ord", "btree":
		return KindOrdered, nil
	case "hash":
		return KindHash, nil
	default:
		return KindNone, fmt.Errorf("unknown index kind %q", s)
	}
}

// Index is the contract shared by every index implementation
type Index interface {
	// Insert adds the pair; inserting an existing pair does nothing
	Insert(key, blockNum int32)

	// Delete removes the pair if present, and the key once its last block is gone
	Delete(key, blockNum int32)

	// Lookup returns the block numbers for key in ascending order, or an
	// empty slice if the key is absent
	Lookup(key int32) []int32

	// Size returns the number of (key, blockNum) pairs
	Size() int

	// Kind identifies the implementation
	Kind() Kind
}

// New creates an empty index of the given kind
func New(kind Kind) (Index, error) {
	switch kind {
	case KindOrdered:
		return NewOrdered(), nil
	case KindHash:
		return NewHash(), nil
	default:
		return nil, fmt.Errorf("cannot create index of kind %s", kind)
	}
}

// insertSorted adds v to the ascending slice s unless already present
func insertSorted(s []int32, v int32) ([]int32, bool) {
	i := searchInt32(s, v)
	if i < len(s) && s[i] == v {
		return s, false
	}
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s, true
}

// removeSorted deletes v from the ascending slice s if present
func removeSorted(s []int32, v int32) ([]int32, bool) {
	i := searchInt32(s, v)
	if i == len(s) || s[i] != v {
		return s, false
	}
	return append(s[:i], s[i+1:]...), true
}

// searchInt32 returns the position of the first element >= v
func searchInt32(s []int32, v int32) int {
	lo, hi := 0, len(s)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if s[mid] < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func cloneBlocks(s []int32) []int32 {
	out := make([]int32, len(s))
	copy(out, s)
	return out
}
