// Licensed under the MIT License. See LICENSE file in the project root for details.

package versiontable

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"

	"github.com/kianostad/verchain/internal/backend"
	"github.com/kianostad/verchain/internal/codec"
	"github.com/kianostad/verchain/internal/log"
	"github.com/kianostad/verchain/internal/monitoring/metrics"
	"github.com/kianostad/verchain/internal/storage/mvcc"
)

// PartitionedVersionTable persists versions in one backend table. Each
// operation maps onto one statement, except the conditional updates, which
// read the version first and write only if it qualifies.
type PartitionedVersionTable struct {
	*router
	session backend.Session
	codec   codec.Codec
	metrics *metrics.Metrics
}

var _ VersionTable = (*PartitionedVersionTable)(nil)

// NewPartitionedVersionTable binds tableID on session and starts its
// partition workers. The backend table must already exist.
func NewPartitionedVersionTable(ctx context.Context, tableID string, session backend.Session, opts Options) (*PartitionedVersionTable, error) {
	if tableID == "" {
		return nil, errors.New("empty table id")
	}
	if session == nil {
		return nil, errors.New("nil backend session")
	}
	opts = opts.withDefaults()
	t := &PartitionedVersionTable{
		session: session,
		codec:   opts.Codec,
		metrics: opts.Metrics,
	}
	t.router = newRouter(ctx, tableID, opts, NewVisitor(t))
	log.Infof(logtags.AddTag(ctx, "table", tableID), "version table ready with %d partitions, %s codec",
		opts.Partitions, opts.Codec.Name())
	return t, nil
}

func (t *PartitionedVersionTable) exec(ctx context.Context, stmt backend.Statement) ([]backend.Row, error) {
	log.VEventf(ctx, 3, "%s", stmt)
	return t.session.Execute(ctx, stmt)
}

// entryFromRow maps a full backend row onto a version entry.
func (t *PartitionedVersionTable) entryFromRow(row backend.Row) (*mvcc.VersionEntry, error) {
	key, err := row.String(backend.ColRecordKey)
	if err != nil {
		return nil, err
	}
	var ints [5]int64
	for i, col := range [...]string{
		backend.ColVersionKey, backend.ColBeginTimestamp, backend.ColEndTimestamp, backend.ColTxID, backend.ColMaxCommitTs,
	} {
		if ints[i], err = row.Int64(col); err != nil {
			return nil, err
		}
	}
	raw, err := row.Bytes(backend.ColRecord)
	if err != nil {
		return nil, err
	}
	record, err := t.codec.Deserialize(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding record of %s@%d", key, ints[0])
	}
	return &mvcc.VersionEntry{
		RecordKey:      mvcc.RecordKey(key),
		VersionKey:     ints[0],
		BeginTimestamp: ints[1],
		EndTimestamp:   ints[2],
		Record:         record,
		TxID:           ints[3],
		MaxCommitTs:    ints[4],
	}, nil
}

func (t *PartitionedVersionTable) entriesFromRows(rows []backend.Row) ([]*mvcc.VersionEntry, error) {
	out := make([]*mvcc.VersionEntry, 0, len(rows))
	for _, row := range rows {
		e, err := t.entryFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (t *PartitionedVersionTable) getVersionList(ctx context.Context, key mvcc.RecordKey) ([]*mvcc.VersionEntry, error) {
	rows, err := t.exec(ctx, backend.GetVersionTop2(t.tableID, string(key)))
	if err != nil {
		return nil, err
	}
	entries, err := t.entriesFromRows(rows)
	if err != nil {
		return nil, err
	}
	t.metrics.ObserveChainLength(len(entries))
	return entries, nil
}

func (t *PartitionedVersionTable) GetVersionList(ctx context.Context, key mvcc.RecordKey) (_ []*mvcc.VersionEntry, err error) {
	defer func(start time.Time) { err = observe(t.metrics, metrics.OpGetList, start, err) }(time.Now())
	return t.getVersionList(ctx, key)
}

func (t *PartitionedVersionTable) InitializeAndGetVersionList(ctx context.Context, key mvcc.RecordKey) (_ []*mvcc.VersionEntry, err error) {
	defer func(start time.Time) { err = observe(t.metrics, metrics.OpInitList, start, err) }(time.Now())
	if err := t.upload(ctx, mvcc.NewEmptyVersionEntry(key)); err != nil {
		if errors.Is(err, backend.ErrAlreadyExists) {
			log.VEventf(ctx, 2, "record %s already initialized", key)
			return nil, nil
		}
		return nil, err
	}
	return t.getVersionList(ctx, key)
}

func (t *PartitionedVersionTable) getVersionEntry(ctx context.Context, key mvcc.RecordKey, versionKey int64) (*mvcc.VersionEntry, error) {
	rows, err := t.exec(ctx, backend.GetVersionEntry(t.tableID, string(key), versionKey))
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return t.entryFromRow(rows[0])
}

func (t *PartitionedVersionTable) GetVersionEntryByKey(ctx context.Context, key mvcc.RecordKey, versionKey int64) (_ *mvcc.VersionEntry, err error) {
	defer func(start time.Time) { err = observe(t.metrics, metrics.OpRead, start, err) }(time.Now())
	return t.getVersionEntry(ctx, key, versionKey)
}

// GetVersionEntriesByKey issues one point read per key.
func (t *PartitionedVersionTable) GetVersionEntriesByKey(ctx context.Context, batch []mvcc.VersionPrimaryKey) (_ map[mvcc.VersionPrimaryKey]*mvcc.VersionEntry, err error) {
	defer func(start time.Time) { err = observe(t.metrics, metrics.OpReadBatch, start, err) }(time.Now())
	out := make(map[mvcc.VersionPrimaryKey]*mvcc.VersionEntry, len(batch))
	for _, pk := range batch {
		e, err := t.getVersionEntry(ctx, pk.RecordKey, pk.VersionKey)
		if err != nil {
			return nil, err
		}
		out[pk] = e
	}
	return out, nil
}

// ReplaceVersionEntry reads the version and, if it is owned by readTxID and
// ends at expectedEndTs, overwrites its timestamps and owner. The write is
// unconditional on the backend; see the package documentation.
func (t *PartitionedVersionTable) ReplaceVersionEntry(ctx context.Context, key mvcc.RecordKey, versionKey, beginTs, endTs, txID, readTxID, expectedEndTs int64) (_ *mvcc.VersionEntry, outcome Outcome, err error) {
	defer func(start time.Time) { err = observeOutcome(t.metrics, metrics.OpReplace, start, outcome, err) }(time.Now())
	cur, err := t.getVersionEntry(ctx, key, versionKey)
	if err != nil {
		return nil, outcome, err
	}
	if cur == nil {
		return nil, OutcomeNotFound, nil
	}
	if cur.TxID != readTxID || cur.EndTimestamp != expectedEndTs {
		return cur, OutcomeMismatch, nil
	}
	if _, err := t.exec(ctx, backend.ReplaceVersion(t.tableID, string(key), versionKey, beginTs, endTs, txID)); err != nil {
		return nil, outcome, err
	}
	return cur.WithTimestamps(beginTs, endTs, txID), OutcomeApplied, nil
}

// ReplaceWholeVersionEntry overwrites the version addressed by entry. The
// backend does not report missing rows, so the outcome is always applied.
func (t *PartitionedVersionTable) ReplaceWholeVersionEntry(ctx context.Context, entry *mvcc.VersionEntry) (outcome Outcome, err error) {
	defer func(start time.Time) { err = observeOutcome(t.metrics, metrics.OpReplaceWhole, start, outcome, err) }(time.Now())
	if entry == nil {
		return outcome, errors.AssertionFailedf("nil version entry")
	}
	record, err := t.codec.Serialize(entry.Record)
	if err != nil {
		return outcome, err
	}
	_, err = t.exec(ctx, backend.ReplaceWholeVersion(t.tableID, string(entry.RecordKey), entry.VersionKey,
		entry.BeginTimestamp, entry.EndTimestamp, record, entry.TxID, entry.MaxCommitTs))
	return OutcomeApplied, err
}

func (t *PartitionedVersionTable) upload(ctx context.Context, entry *mvcc.VersionEntry) error {
	record, err := t.codec.Serialize(entry.Record)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, backend.UploadVersionEntry(t.tableID, string(entry.RecordKey), entry.VersionKey,
		entry.BeginTimestamp, entry.EndTimestamp, record, entry.TxID, entry.MaxCommitTs))
	return err
}

// UploadNewVersionEntry inserts entry. Inserting an existing version fails
// with an error marked backend.ErrAlreadyExists.
func (t *PartitionedVersionTable) UploadNewVersionEntry(ctx context.Context, entry *mvcc.VersionEntry) (err error) {
	defer func(start time.Time) { err = observe(t.metrics, metrics.OpUpload, start, err) }(time.Now())
	if entry == nil {
		return errors.AssertionFailedf("nil version entry")
	}
	return t.upload(ctx, entry)
}

func (t *PartitionedVersionTable) UpdateVersionMaxCommitTs(ctx context.Context, key mvcc.RecordKey, versionKey, commitTs int64) (_ *mvcc.VersionEntry, outcome Outcome, err error) {
	defer func(start time.Time) { err = observeOutcome(t.metrics, metrics.OpMaxCommitTs, start, outcome, err) }(time.Now())
	cur, err := t.getVersionEntry(ctx, key, versionKey)
	if err != nil {
		return nil, outcome, err
	}
	if cur == nil {
		return nil, OutcomeNotFound, nil
	}
	if cur.MaxCommitTs >= commitTs {
		return cur, OutcomeMismatch, nil
	}
	if _, err := t.exec(ctx, backend.UpdateMaxCommitTs(t.tableID, string(key), versionKey, commitTs)); err != nil {
		return nil, outcome, err
	}
	return cur.WithMaxCommitTs(commitTs), OutcomeApplied, nil
}

// DeleteVersionEntry removes the version. The backend does not report
// missing rows, so it returns true unless the statement fails.
func (t *PartitionedVersionTable) DeleteVersionEntry(ctx context.Context, key mvcc.RecordKey, versionKey int64) (_ bool, err error) {
	defer func(start time.Time) { err = observe(t.metrics, metrics.OpDelete, start, err) }(time.Now())
	if _, err := t.exec(ctx, backend.DeleteVersionEntry(t.tableID, string(key), versionKey)); err != nil {
		return false, err
	}
	return true, nil
}
