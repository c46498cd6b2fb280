// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package mvcc provides the in-memory half of the multi-version concurrency
// control layer: version entries and the lock-free version list that chains
// them per record key.
//
// A VersionEntry describes one version of a record. Once an entry is linked
// into a VersionList it is never modified in place; updates publish a new
// entry through a compare-and-swap on the node that holds it, so readers
// always observe a complete old or new value.
//
// # Usage Examples
//
//	list := mvcc.NewVersionList()
//	list.PushFront(mvcc.NewVersionEntry("A", 0, 0, mvcc.InfiniteTimestamp, payload, 7, 0))
//
//	old := list.Find("A", 0)
//	closed := old.WithTimestamps(0, 100, 9)
//	if !list.ChangeNodeValue("A", 0, old, closed) {
//	    // somebody else changed the version first: re-read and retry
//	}
//
//	for e := range list.All() {
//	    fmt.Println(e)
//	}
//
// # Dangers and Warnings
//
//   - **Entry Immutability**: Never mutate an entry obtained from a list. Clone it and swap.
//   - **Ordering**: The list keeps push order. Callers push the newest version last.
//   - **Deletion**: Only the transaction that created a version may delete it, and never concurrently.
//   - **Uniqueness**: At most one node per (record key, version key) is allowed. PushFront does not check; PushFrontIfAbsent does.
//
// # Timestamp Semantics
//
// An EndTimestamp of InfiniteTimestamp marks a version that has not been
// closed by a later writer.
package mvcc

import (
	"bytes"
	"fmt"
	"math"
)

// InfiniteTimestamp marks an open (not yet closed) version.
const InfiniteTimestamp int64 = math.MaxInt64

// Values used by the empty seed entry of a freshly initialized record.
const (
	EmptyVersionKey      int64 = -1
	DefaultBeginTs       int64 = -1
	DefaultEndTs         int64 = -1
	EmptyTxID            int64 = -1
	DefaultMaxCommitTs   int64 = 0
	sentinelVersionKey         = EmptyVersionKey
	sentinelTimestamp          = InfiniteTimestamp
	sentinelTransactionID      = EmptyTxID
)

// RecordKey identifies a logical record. It is persisted as a string column.
type RecordKey string

// VersionPrimaryKey addresses one version of one record.
type VersionPrimaryKey struct {
	RecordKey  RecordKey
	VersionKey int64
}

func (pk VersionPrimaryKey) String() string {
	return fmt.Sprintf("%s@%d", pk.RecordKey, pk.VersionKey)
}

// VersionEntry is one version of a record.
//
// Record is nil only for the sentinel that terminates a VersionList; a
// freshly seeded record carries an empty, non-nil payload.
type VersionEntry struct {
	RecordKey      RecordKey
	VersionKey     int64
	BeginTimestamp int64
	EndTimestamp   int64
	Record         []byte
	TxID           int64
	MaxCommitTs    int64
}

// NewVersionEntry creates an entry. The payload is copied.
func NewVersionEntry(key RecordKey, versionKey, beginTs, endTs int64, record []byte, txID, maxCommitTs int64) *VersionEntry {
	return &VersionEntry{
		RecordKey:      key,
		VersionKey:     versionKey,
		BeginTimestamp: beginTs,
		EndTimestamp:   endTs,
		Record:         cloneBytes(record),
		TxID:           txID,
		MaxCommitTs:    maxCommitTs,
	}
}

// NewEmptyVersionEntry returns the seed entry written the first time a record
// key is initialized.
func NewEmptyVersionEntry(key RecordKey) *VersionEntry {
	return &VersionEntry{
		RecordKey:      key,
		VersionKey:     EmptyVersionKey,
		BeginTimestamp: DefaultBeginTs,
		EndTimestamp:   DefaultEndTs,
		Record:         []byte{},
		TxID:           EmptyTxID,
		MaxCommitTs:    DefaultMaxCommitTs,
	}
}

func newSentinelEntry() *VersionEntry {
	return &VersionEntry{
		VersionKey:     sentinelVersionKey,
		BeginTimestamp: sentinelTimestamp,
		EndTimestamp:   sentinelTimestamp,
		TxID:           sentinelTransactionID,
	}
}

// PrimaryKey returns the (record key, version key) pair of e.
func (e *VersionEntry) PrimaryKey() VersionPrimaryKey {
	return VersionPrimaryKey{RecordKey: e.RecordKey, VersionKey: e.VersionKey}
}

// HasRecord reports whether the entry carries a payload.
func (e *VersionEntry) HasRecord() bool {
	return e.Record != nil
}

// ContentEqual compares every field by value. A nil and an empty payload are
// different.
func (e *VersionEntry) ContentEqual(other *VersionEntry) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.RecordKey == other.RecordKey &&
		e.VersionKey == other.VersionKey &&
		e.BeginTimestamp == other.BeginTimestamp &&
		e.EndTimestamp == other.EndTimestamp &&
		e.TxID == other.TxID &&
		e.MaxCommitTs == other.MaxCommitTs &&
		(e.Record == nil) == (other.Record == nil) &&
		bytes.Equal(e.Record, other.Record)
}

// Clone returns a deep copy of e.
func (e *VersionEntry) Clone() *VersionEntry {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Record = cloneBytes(e.Record)
	return &dup
}

// WithTimestamps returns a copy of e with new begin/end timestamps and owner.
func (e *VersionEntry) WithTimestamps(beginTs, endTs, txID int64) *VersionEntry {
	dup := e.Clone()
	dup.BeginTimestamp = beginTs
	dup.EndTimestamp = endTs
	dup.TxID = txID
	return dup
}

// WithMaxCommitTs returns a copy of e with MaxCommitTs set to ts.
func (e *VersionEntry) WithMaxCommitTs(ts int64) *VersionEntry {
	dup := e.Clone()
	dup.MaxCommitTs = ts
	return dup
}

func (e *VersionEntry) String() string {
	if e == nil {
		return "<nil>"
	}
	end := fmt.Sprint(e.EndTimestamp)
	if e.EndTimestamp == InfiniteTimestamp {
		end = "inf"
	}
	return fmt.Sprintf("%s@%d[%d,%s) tx=%d maxCommit=%d record=%dB",
		e.RecordKey, e.VersionKey, e.BeginTimestamp, end, e.TxID, e.MaxCommitTs, len(e.Record))
}

// cloneBytes returns a copy of b to prevent external mutation from affecting
// internal state. A nil slice returns nil.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	dup := make([]byte, len(b))
	copy(dup, b)
	return dup
}
