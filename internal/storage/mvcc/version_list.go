// Licensed under the MIT License. See LICENSE file in the project root for details.

package mvcc

import (
	"iter"
	"sync/atomic"
)

// versionNode holds one entry of a VersionList. The entry pointer is the
// only field ever replaced after the node is published.
type versionNode struct {
	entry atomic.Pointer[VersionEntry]
	next  atomic.Pointer[versionNode] // older version; nil only on the sentinel
}

func newVersionNode(e *VersionEntry) *versionNode {
	n := &versionNode{}
	n.entry.Store(e)
	return n
}

func (n *versionNode) isSentinel() bool {
	return n.next.Load() == nil
}

// VersionList is the lock-free chain of versions of one record, newest first.
// The chain always ends with a sentinel node that carries no record.
type VersionList struct {
	head atomic.Pointer[versionNode]
}

// NewVersionList creates an empty, sentinel-only list.
func NewVersionList() *VersionList {
	l := &VersionList{}
	l.head.Store(newVersionNode(newSentinelEntry()))
	return l
}

// PushFront publishes e as the newest version. Concurrent pushers are
// linearized by the order in which their CAS on head succeeds.
func (l *VersionList) PushFront(e *VersionEntry) {
	node := newVersionNode(e)
	for {
		old := l.head.Load()
		node.next.Store(old)
		if l.head.CompareAndSwap(old, node) {
			return
		}
	}
}

// PushFrontIfAbsent publishes e as the newest version unless a node for
// (e.RecordKey, e.VersionKey) is already linked, and reports whether it did.
// Every failed head CAS rescans the chain, so two callers racing with the
// same version have exactly one winner.
func (l *VersionList) PushFrontIfAbsent(e *VersionEntry) bool {
	node := newVersionNode(e)
	for {
		old := l.head.Load()
		for n := old; !n.isSentinel(); n = n.next.Load() {
			if cur := n.entry.Load(); cur.RecordKey == e.RecordKey && cur.VersionKey == e.VersionKey {
				return false
			}
		}
		node.next.Store(old)
		if l.head.CompareAndSwap(old, node) {
			return true
		}
	}
}

// ChangeNodeValue replaces the entry of the node addressed by (key,
// versionKey) with newEntry, provided its current content equals
// expectedOld. It returns false when the node is missing, when the content
// differs, and when a concurrent writer wins the swap; callers cannot tell
// these apart and must re-read before retrying.
func (l *VersionList) ChangeNodeValue(key RecordKey, versionKey int64, expectedOld, newEntry *VersionEntry) bool {
	for n := l.head.Load(); !n.isSentinel(); n = n.next.Load() {
		cur := n.entry.Load()
		if cur.RecordKey != key || cur.VersionKey != versionKey {
			continue
		}
		if !expectedOld.ContentEqual(cur) {
			return false
		}
		return n.entry.CompareAndSwap(cur, newEntry)
	}
	return false
}

// DeleteNode unlinks the node addressed by (key, versionKey) and reports
// whether it was found.
//
// A node may only be deleted by the transaction that created it and never by
// two goroutines at once. Unlinking the head goes through a CAS so that a
// concurrent PushFront is not lost; if the CAS fails the node is no longer the
// head and the search restarts.
func (l *VersionList) DeleteNode(key RecordKey, versionKey int64) bool {
retry:
	for {
		var prev *versionNode
		for cur := l.head.Load(); !cur.isSentinel(); cur = cur.next.Load() {
			e := cur.entry.Load()
			if e.RecordKey != key || e.VersionKey != versionKey {
				prev = cur
				continue
			}
			next := cur.next.Load()
			if prev == nil {
				if l.head.CompareAndSwap(cur, next) {
					return true
				}
				continue retry
			}
			prev.next.Store(next)
			return true
		}
		return false
	}
}

// Find returns the current entry for (key, versionKey), or nil.
func (l *VersionList) Find(key RecordKey, versionKey int64) *VersionEntry {
	for e := range l.All() {
		if e.RecordKey == key && e.VersionKey == versionKey {
			return e
		}
	}
	return nil
}

// All enumerates the entries from the head to the sentinel. Each call starts
// a fresh walk. A walk sees a consistent value at every node it visits but is
// not isolated from pushes and deletes elsewhere in the chain.
func (l *VersionList) All() iter.Seq[*VersionEntry] {
	return func(yield func(*VersionEntry) bool) {
		for n := l.head.Load(); !n.isSentinel(); n = n.next.Load() {
			if !yield(n.entry.Load()) {
				return
			}
		}
	}
}

// Newest returns up to n entries starting from the head.
func (l *VersionList) Newest(n int) []*VersionEntry {
	out := make([]*VersionEntry, 0, n)
	for e := range l.All() {
		if len(out) == n {
			break
		}
		out = append(out, e)
	}
	return out
}

// Len counts the non-sentinel nodes.
func (l *VersionList) Len() int {
	count := 0
	for range l.All() {
		count++
	}
	return count
}

// IsEmpty reports whether only the sentinel is left.
func (l *VersionList) IsEmpty() bool {
	return l.head.Load().isSentinel()
}
