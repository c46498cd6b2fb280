// Licensed under the MIT License. See LICENSE file in the project root for details.

package versiontable

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kianostad/verchain/internal/backend"
	"github.com/kianostad/verchain/internal/monitoring/metrics"
	"github.com/kianostad/verchain/internal/storage/index"
	"github.com/kianostad/verchain/internal/storage/mvcc"
)

// DefaultIndexBuckets sizes the key index of a MemoryVersionTable.
const DefaultIndexBuckets = 1 << 12

// MemoryVersionTable keeps every record's versions in a lock-free
// VersionList. Conditional updates compare and swap the version in place, so
// unlike PartitionedVersionTable they can report OutcomeLostRace.
type MemoryVersionTable struct {
	*router
	index   *index.HashIndex
	metrics *metrics.Metrics
}

var _ VersionTable = (*MemoryVersionTable)(nil)

// NewMemoryVersionTable creates an empty in-memory table and starts its
// partition workers.
func NewMemoryVersionTable(ctx context.Context, tableID string, opts Options) (*MemoryVersionTable, error) {
	if tableID == "" {
		return nil, errors.New("empty table id")
	}
	opts = opts.withDefaults()
	t := &MemoryVersionTable{
		index:   index.NewHashIndex(DefaultIndexBuckets),
		metrics: opts.Metrics,
	}
	t.router = newRouter(ctx, tableID, opts, NewVisitor(t))
	return t, nil
}

// Len returns the number of record keys ever seen by the table.
func (t *MemoryVersionTable) Len() int {
	return t.index.Len()
}

func (t *MemoryVersionTable) find(key mvcc.RecordKey, versionKey int64) (*mvcc.VersionList, *mvcc.VersionEntry) {
	list := t.index.Get(key)
	if list == nil {
		return nil, nil
	}
	return list, list.Find(key, versionKey)
}

// newest returns the two versions of list with the largest version keys,
// largest first, matching the ordering of a persisted table.
func newest(list *mvcc.VersionList) []*mvcc.VersionEntry {
	var out []*mvcc.VersionEntry
	for e := range list.All() {
		switch {
		case len(out) < 2:
			out = append(out, e)
			if len(out) == 2 && out[1].VersionKey > out[0].VersionKey {
				out[0], out[1] = out[1], out[0]
			}
		case e.VersionKey > out[0].VersionKey:
			out[0], out[1] = e, out[0]
		case e.VersionKey > out[1].VersionKey:
			out[1] = e
		}
	}
	return out
}

func (t *MemoryVersionTable) GetVersionList(ctx context.Context, key mvcc.RecordKey) (_ []*mvcc.VersionEntry, err error) {
	defer func(start time.Time) { err = observe(t.metrics, metrics.OpGetList, start, err) }(time.Now())
	list := t.index.Get(key)
	if list == nil {
		return nil, nil
	}
	entries := newest(list)
	t.metrics.ObserveChainLength(len(entries))
	return entries, nil
}

// InitializeAndGetVersionList links the seed entry unless the record already
// has one. Versions uploaded before the seed do not count as initialized.
func (t *MemoryVersionTable) InitializeAndGetVersionList(ctx context.Context, key mvcc.RecordKey) (_ []*mvcc.VersionEntry, err error) {
	defer func(start time.Time) { err = observe(t.metrics, metrics.OpInitList, start, err) }(time.Now())
	list, _ := t.index.GetOrCreate(key)
	if !list.PushFrontIfAbsent(mvcc.NewEmptyVersionEntry(key)) {
		return nil, nil
	}
	return newest(list), nil
}

func (t *MemoryVersionTable) GetVersionEntryByKey(ctx context.Context, key mvcc.RecordKey, versionKey int64) (_ *mvcc.VersionEntry, err error) {
	defer func(start time.Time) { err = observe(t.metrics, metrics.OpRead, start, err) }(time.Now())
	_, e := t.find(key, versionKey)
	return e, nil
}

func (t *MemoryVersionTable) GetVersionEntriesByKey(ctx context.Context, batch []mvcc.VersionPrimaryKey) (_ map[mvcc.VersionPrimaryKey]*mvcc.VersionEntry, err error) {
	defer func(start time.Time) { err = observe(t.metrics, metrics.OpReadBatch, start, err) }(time.Now())
	out := make(map[mvcc.VersionPrimaryKey]*mvcc.VersionEntry, len(batch))
	for _, pk := range batch {
		_, out[pk] = t.find(pk.RecordKey, pk.VersionKey)
	}
	return out, nil
}

// ReplaceVersionEntry swaps in a copy of the version with new timestamps and
// owner if the current one is owned by readTxID and ends at expectedEndTs.
// When another writer swaps the version between the check and the swap, the
// freshly read version is returned with OutcomeLostRace.
func (t *MemoryVersionTable) ReplaceVersionEntry(ctx context.Context, key mvcc.RecordKey, versionKey, beginTs, endTs, txID, readTxID, expectedEndTs int64) (_ *mvcc.VersionEntry, outcome Outcome, err error) {
	defer func(start time.Time) { err = observeOutcome(t.metrics, metrics.OpReplace, start, outcome, err) }(time.Now())
	list, cur := t.find(key, versionKey)
	if cur == nil {
		return nil, OutcomeNotFound, nil
	}
	if cur.TxID != readTxID || cur.EndTimestamp != expectedEndTs {
		return cur, OutcomeMismatch, nil
	}
	next := cur.WithTimestamps(beginTs, endTs, txID)
	if !list.ChangeNodeValue(key, versionKey, cur, next) {
		return list.Find(key, versionKey), OutcomeLostRace, nil
	}
	return next, OutcomeApplied, nil
}

func (t *MemoryVersionTable) ReplaceWholeVersionEntry(ctx context.Context, entry *mvcc.VersionEntry) (outcome Outcome, err error) {
	defer func(start time.Time) { err = observeOutcome(t.metrics, metrics.OpReplaceWhole, start, outcome, err) }(time.Now())
	if entry == nil {
		return outcome, errors.AssertionFailedf("nil version entry")
	}
	list, cur := t.find(entry.RecordKey, entry.VersionKey)
	if cur == nil {
		return OutcomeNotFound, nil
	}
	if !list.ChangeNodeValue(entry.RecordKey, entry.VersionKey, cur, entry.Clone()) {
		return OutcomeLostRace, nil
	}
	return OutcomeApplied, nil
}

// UploadNewVersionEntry pushes a copy of entry as the newest version of its
// record. Uploading a version that is already linked fails with an error
// marked backend.ErrAlreadyExists.
func (t *MemoryVersionTable) UploadNewVersionEntry(ctx context.Context, entry *mvcc.VersionEntry) (err error) {
	defer func(start time.Time) { err = observe(t.metrics, metrics.OpUpload, start, err) }(time.Now())
	if entry == nil {
		return errors.AssertionFailedf("nil version entry")
	}
	list, _ := t.index.GetOrCreate(entry.RecordKey)
	if !list.PushFrontIfAbsent(entry.Clone()) {
		return errors.Mark(errors.Newf("version %s already exists", entry.PrimaryKey()), backend.ErrAlreadyExists)
	}
	return nil
}

// UpdateVersionMaxCommitTs raises MaxCommitTs with a compare-and-swap loop.
// Raising is monotonic, so a lost swap is retried against the new value
// instead of being reported.
func (t *MemoryVersionTable) UpdateVersionMaxCommitTs(ctx context.Context, key mvcc.RecordKey, versionKey, commitTs int64) (_ *mvcc.VersionEntry, outcome Outcome, err error) {
	defer func(start time.Time) { err = observeOutcome(t.metrics, metrics.OpMaxCommitTs, start, outcome, err) }(time.Now())
	list, cur := t.find(key, versionKey)
	for {
		if cur == nil {
			return nil, OutcomeNotFound, nil
		}
		if cur.MaxCommitTs >= commitTs {
			return cur, OutcomeMismatch, nil
		}
		next := cur.WithMaxCommitTs(commitTs)
		if list.ChangeNodeValue(key, versionKey, cur, next) {
			return next, OutcomeApplied, nil
		}
		cur = list.Find(key, versionKey)
	}
}

// DeleteVersionEntry unlinks the version and reports whether it existed.
func (t *MemoryVersionTable) DeleteVersionEntry(ctx context.Context, key mvcc.RecordKey, versionKey int64) (_ bool, err error) {
	defer func(start time.Time) { err = observe(t.metrics, metrics.OpDelete, start, err) }(time.Now())
	list := t.index.Get(key)
	if list == nil {
		return false, nil
	}
	return list.DeleteNode(key, versionKey), nil
}
