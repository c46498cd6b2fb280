// Licensed under the MIT License. See LICENSE file in the project root for details.

package index

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kianostad/verchain/internal/storage/mvcc"
)

func TestHashIndexBasicOperations(t *testing.T) {
	t.Parallel()
	index := NewHashIndex(16)

	list1, created := index.GetOrCreate("key1")
	if list1 == nil || !created {
		t.Fatal("Expected list to be created")
	}
	if !list1.IsEmpty() {
		t.Error("Expected a new list to hold only the sentinel")
	}

	if index.Get("key1") != list1 {
		t.Error("Expected same list for same key")
	}

	if index.Get("key2") != nil {
		t.Error("Expected nil for non-existent key")
	}

	list2, created := index.GetOrCreate("key1")
	if list2 != list1 || created {
		t.Error("Expected existing list to be returned without creation")
	}

	if index.Len() != 1 {
		t.Errorf("Expected 1 key, got %d", index.Len())
	}
}

func TestHashIndexConcurrentGetOrCreateSameKey(t *testing.T) {
	t.Parallel()
	index := NewHashIndex(8)

	const numGoroutines = 32
	lists := make([]*mvcc.VersionList, numGoroutines)
	var creations atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			list, created := index.GetOrCreate("hot")
			if created {
				creations.Add(1)
			}
			lists[i] = list
		}(i)
	}
	wg.Wait()

	if creations.Load() != 1 {
		t.Errorf("Expected exactly one creation, got %d", creations.Load())
	}
	for i := 1; i < numGoroutines; i++ {
		if lists[i] != lists[0] {
			t.Fatalf("goroutine %d received a different list", i)
		}
	}
}

func TestHashIndexConcurrentAccess(t *testing.T) {
	t.Parallel()
	index := NewHashIndex(64)

	var wg sync.WaitGroup
	const numGoroutines = 10
	const numKeys = 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < numKeys; j++ {
				key := mvcc.RecordKey(fmt.Sprintf("g%d-k%d", goroutineID, j))
				if list, _ := index.GetOrCreate(key); list == nil {
					t.Errorf("Expected list to be created for key %s", key)
				}
			}
		}(i)
	}
	wg.Wait()

	if index.Len() != numGoroutines*numKeys {
		t.Errorf("Expected %d keys, got %d", numGoroutines*numKeys, index.Len())
	}

	visited := 0
	index.Range(func(key mvcc.RecordKey, list *mvcc.VersionList) bool {
		if index.Get(key) != list {
			t.Errorf("Range returned a stale list for %s", key)
		}
		visited++
		return true
	})
	if visited != numGoroutines*numKeys {
		t.Errorf("Expected Range to visit %d keys, got %d", numGoroutines*numKeys, visited)
	}

	total := 0
	for b := uint64(0); b < index.Size(); b++ {
		total += index.BucketCount(b)
	}
	if total != numGoroutines*numKeys {
		t.Errorf("Expected bucket counts to sum to %d, got %d", numGoroutines*numKeys, total)
	}
}

func TestHashIndexRangeStops(t *testing.T) {
	index := NewHashIndex(4)
	for i := 0; i < 10; i++ {
		index.GetOrCreate(mvcc.RecordKey(fmt.Sprint(i)))
	}
	visited := 0
	index.Range(func(mvcc.RecordKey, *mvcc.VersionList) bool {
		visited++
		return visited < 3
	})
	if visited != 3 {
		t.Errorf("Expected Range to stop after 3 keys, got %d", visited)
	}
}

func TestHashIndexBucketCountEdgeCases(t *testing.T) {
	index := NewHashIndex(4)
	if index.BucketCount(4) != 0 || index.BucketCount(100) != 0 {
		t.Error("Expected out of range buckets to be empty")
	}
}

func TestHashIndexInvalidSize(t *testing.T) {
	for _, size := range []uint64{0, 3, 6, 100} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Expected panic for size %d", size)
				}
			}()
			NewHashIndex(size)
		}()
	}
}
