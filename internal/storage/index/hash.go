// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package index provides the lock-free hash index that maps record keys to
// their in-memory version lists.
//
// # Key Features
//
//   - Lock-free bucket chains using atomic operations
//   - Fixed-size bucket array (power of two) for predictable memory usage
//   - CAS-based insertion; a version list, once published for a key, is never replaced
//
// # Usage Examples
//
//	idx := index.NewHashIndex(1024)
//	list, created := idx.GetOrCreate("vertex:1")
//	if created {
//	    list.PushFrontIfAbsent(mvcc.NewEmptyVersionEntry("vertex:1"))
//	}
//
// # Dangers and Warnings
//
//   - **Bucket Size**: The number of buckets must be a power of 2. Invalid sizes will panic.
//   - **No Removal**: Keys stay in the index for its whole lifetime; an emptied record keeps its sentinel-only list.
//
// # Collision Handling
//
// Collisions are chained in lock-free singly linked lists. New keys are
// inserted at the head of the bucket.
package index

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/kianostad/verchain/internal/storage/mvcc"
)

// node represents a node in the lock-free linked list within a bucket.
type node struct {
	key  mvcc.RecordKey
	list *mvcc.VersionList
	next atomic.Pointer[node]
}

// HashIndex is a lock-free hash table with fixed-size buckets.
type HashIndex struct {
	buckets []atomic.Pointer[node]
	size    uint64
	mask    uint64
	count   atomic.Int64
}

// NewHashIndex creates a new hash index with the given size (must be power of 2).
func NewHashIndex(size uint64) *HashIndex {
	if size == 0 || (size&(size-1)) != 0 {
		panic("size must be a power of 2")
	}

	return &HashIndex{
		buckets: make([]atomic.Pointer[node], size),
		size:    size,
		mask:    size - 1,
	}
}

func (h *HashIndex) bucket(key mvcc.RecordKey) *atomic.Pointer[node] {
	return &h.buckets[xxhash.Sum64String(string(key))&h.mask]
}

func find(head *node, key mvcc.RecordKey) *node {
	for n := head; n != nil; n = n.next.Load() {
		if n.key == key {
			return n
		}
	}
	return nil
}

// GetOrCreate returns the version list for key, creating an empty one if the
// key is new. created is true only for the call that inserted the list.
func (h *HashIndex) GetOrCreate(key mvcc.RecordKey) (list *mvcc.VersionList, created bool) {
	bucket := h.bucket(key)
	if n := find(bucket.Load(), key); n != nil {
		return n.list, false
	}

	newNode := &node{key: key, list: mvcc.NewVersionList()}
	for {
		oldHead := bucket.Load()
		newNode.next.Store(oldHead)
		if bucket.CompareAndSwap(oldHead, newNode) {
			h.count.Add(1)
			return newNode.list, true
		}

		// CAS failed, check if someone else inserted our key
		if n := find(bucket.Load(), key); n != nil {
			return n.list, false
		}
	}
}

// Get finds the version list for key without creating one.
func (h *HashIndex) Get(key mvcc.RecordKey) *mvcc.VersionList {
	if n := find(h.bucket(key).Load(), key); n != nil {
		return n.list
	}
	return nil
}

// Range calls fn for every indexed key until fn returns false. Keys inserted
// concurrently may or may not be visited.
func (h *HashIndex) Range(fn func(key mvcc.RecordKey, list *mvcc.VersionList) bool) {
	for i := range h.buckets {
		for n := h.buckets[i].Load(); n != nil; n = n.next.Load() {
			if !fn(n.key, n.list) {
				return
			}
		}
	}
}

// Len returns the number of indexed keys.
func (h *HashIndex) Len() int {
	return int(h.count.Load())
}

// Size returns the number of buckets in the index.
func (h *HashIndex) Size() uint64 {
	return h.size
}

// BucketCount returns the number of entries in a specific bucket (for debugging).
func (h *HashIndex) BucketCount(bucketIdx uint64) int {
	if bucketIdx >= h.size {
		return 0
	}

	count := 0
	for n := h.buckets[bucketIdx].Load(); n != nil; n = n.next.Load() {
		count++
	}
	return count
}
