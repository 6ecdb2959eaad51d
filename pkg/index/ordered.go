package index

import "sort"

// entry is one key and its ascending, duplicate-free block numbers
type entry struct {
	key    int32
	blocks []int32
}

// Ordered keeps entries sorted by key and answers every operation with a
// binary search, so each costs O(log distinct keys) plus the block list.
type Ordered struct {
	entries []entry
	size    int
}

// Ensure Ordered implements the Index interface
var _ Index = (*Ordered)(nil)

// NewOrdered creates an empty ordered index
func NewOrdered() *Ordered {
	return &Ordered{}
}

// find returns the position of key, or where it would be inserted
func (o *Ordered) find(key int32) (int, bool) {
	i := sort.Search(len(o.entries), func(i int) bool {
		return o.entries[i].key >= key
	})
	return i, i < len(o.entries) && o.entries[i].key == key
}

// Insert adds (key, blockNum)
func (o *Ordered) Insert(key, blockNum int32) {
	i, found := o.find(key)
	if !found {
		o.entries = append(o.entries, entry{})
		copy(o.entries[i+1:], o.entries[i:])
		o.entries[i] = entry{key: key, blocks: []int32{blockNum}}
		o.size++
		return
	}

	var added bool
	o.entries[i].blocks, added = insertSorted(o.entries[i].blocks, blockNum)
	if added {
		o.size++
	}
}

// Delete removes (key, blockNum)
func (o *Ordered) Delete(key, blockNum int32) {
	i, found := o.find(key)
	if !found {
		return
	}

	var removed bool
	o.entries[i].blocks, removed = removeSorted(o.entries[i].blocks, blockNum)
	if !removed {
		return
	}
	o.size--

	if len(o.entries[i].blocks) == 0 {
		o.entries = append(o.entries[:i], o.entries[i+1:]...)
	}
}

// Lookup returns the block numbers for key
func (o *Ordered) Lookup(key int32) []int32 {
	i, found := o.find(key)
	if !found {
		return []int32{}
	}
	return cloneBlocks(o.entries[i].blocks)
}

// Range returns the ascending union of block numbers for keys in [lo, hi]
func (o *Ordered) Range(lo, hi int32) []int32 {
	out := []int32{}
	if lo > hi {
		return out
	}
	start, _ := o.find(lo)
	for i := start; i < len(o.entries) && o.entries[i].key <= hi; i++ {
		for _, b := range o.entries[i].blocks {
			out, _ = insertSorted(out, b)
		}
	}
	return out
}

// Keys returns the distinct keys in ascending order
func (o *Ordered) Keys() []int32 {
	keys := make([]int32, len(o.entries))
	for i, e := range o.entries {
		keys[i] = e.key
	}
	return keys
}

// Size returns the number of (key, blockNum) pairs
func (o *Ordered) Size() int {
	return o.size
}

// Kind returns KindOrdered
func (o *Ordered) Kind() Kind {
	return KindOrdered
}
