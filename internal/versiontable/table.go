// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package versiontable implements version tables: the per-logical-table
// facade through which transactions read and update version chains.
//
// Two implementations share one contract. PartitionedVersionTable persists
// versions through a backend.Session; MemoryVersionTable keeps them in
// lock-free in-memory version lists. Both accept work in two ways:
//
//   - synchronous calls such as ReplaceVersionEntry, and
//   - requests handed to EnqueueVersionEntryRequest, which routes the request
//     to the worker of the record key's partition and returns once it is
//     finished.
//
// # Usage Examples
//
//	db := versiontable.NewVersionDB(session, versiontable.Options{})
//	table, err := db.CreateVersionTable(ctx, "accounts")
//
//	req := versiontable.NewReplaceVersionRequest("accounts", "A", 0, 0, 100, 9, 7, mvcc.InfiniteTimestamp)
//	if err := table.EnqueueVersionEntryRequest(ctx, req); err != nil {
//	    return err
//	}
//	switch req.Outcome {
//	case versiontable.OutcomeApplied:
//	case versiontable.OutcomeMismatch, versiontable.OutcomeLostRace:
//	    // re-read req.Result and retry
//	}
//
// # Dangers and Warnings
//
//   - **Non-atomic Replace**: On a persisted table a conditional update is a read followed by an
//     unconditional write. A second writer can interleave between the two; the table only guarantees
//     that this call did not write on top of values it saw as stale.
//   - **No Retries**: Every operation is attempted once. Faults and mismatches go back to the caller.
//   - **Single Use**: A request is executed exactly once. Enqueueing it twice panics in the worker.
package versiontable

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"

	"github.com/kianostad/verchain/internal/codec"
	"github.com/kianostad/verchain/internal/concurrency/partition"
	"github.com/kianostad/verchain/internal/log"
	"github.com/kianostad/verchain/internal/monitoring/metrics"
	"github.com/kianostad/verchain/internal/storage/mvcc"
)

// VersionTable is the contract shared by all version tables.
type VersionTable interface {
	TableID() string

	// PhysicalTxPartitionByKey maps key to a partition in [0, Partitions()).
	PhysicalTxPartitionByKey(key mvcc.RecordKey) int
	Partitions() int

	// EnqueueVersionEntryRequest runs req on its partition's worker and
	// returns once req is finished, with req's error. An error from a done
	// ctx is only returned when req was never queued, or when the table
	// itself observed ctx.
	EnqueueVersionEntryRequest(ctx context.Context, req Request) error

	// GetVersionList returns the newest two versions of key, newest first.
	GetVersionList(ctx context.Context, key mvcc.RecordKey) ([]*mvcc.VersionEntry, error)
	// InitializeAndGetVersionList seeds key with the empty entry and returns
	// its list. It returns nil and no error if key was already seeded.
	InitializeAndGetVersionList(ctx context.Context, key mvcc.RecordKey) ([]*mvcc.VersionEntry, error)
	// ReplaceVersionEntry sets the timestamps and owner of a version when its
	// current owner is readTxID and its end timestamp is expectedEndTs. The
	// returned entry is the version after the call.
	ReplaceVersionEntry(ctx context.Context, key mvcc.RecordKey, versionKey, beginTs, endTs, txID, readTxID, expectedEndTs int64) (*mvcc.VersionEntry, Outcome, error)
	ReplaceWholeVersionEntry(ctx context.Context, entry *mvcc.VersionEntry) (Outcome, error)
	UploadNewVersionEntry(ctx context.Context, entry *mvcc.VersionEntry) error
	// UpdateVersionMaxCommitTs raises the max commit timestamp of a version
	// to commitTs if it is larger, and returns the version after the call.
	UpdateVersionMaxCommitTs(ctx context.Context, key mvcc.RecordKey, versionKey, commitTs int64) (*mvcc.VersionEntry, Outcome, error)
	DeleteVersionEntry(ctx context.Context, key mvcc.RecordKey, versionKey int64) (bool, error)
	// GetVersionEntryByKey returns nil and no error when the version does
	// not exist.
	GetVersionEntryByKey(ctx context.Context, key mvcc.RecordKey, versionKey int64) (*mvcc.VersionEntry, error)
	// GetVersionEntriesByKey reads every key of batch; missing versions map
	// to nil.
	GetVersionEntriesByKey(ctx context.Context, batch []mvcc.VersionPrimaryKey) (map[mvcc.VersionPrimaryKey]*mvcc.VersionEntry, error)

	// Close stops the partition workers once queued requests are done.
	Close()
}

// Options tune a version table. Zero values select the defaults.
type Options struct {
	Partitions int
	QueueDepth int
	Codec      codec.Codec
	Metrics    *metrics.Metrics
}

// DefaultQueueDepth is the per-partition queue capacity used when none is
// configured.
const DefaultQueueDepth = 256

func (o Options) withDefaults() Options {
	if o.Partitions <= 0 {
		o.Partitions = partition.DefaultPartitions
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = DefaultQueueDepth
	}
	if o.Codec == nil {
		o.Codec = codec.Raw{}
	}
	return o
}

// call is one queued request with the context of its submitter.
type call struct {
	ctx context.Context
	req Request
}

// router owns the partition workers of a table and routes requests to them.
type router struct {
	tableID string
	pool    *partition.Pool[call]
	metrics *metrics.Metrics
}

func newRouter(ctx context.Context, tableID string, opts Options, visitor Visitor) *router {
	r := &router{tableID: tableID, metrics: opts.Metrics}
	ctx = logtags.AddTag(ctx, "table", tableID)
	r.pool = partition.NewPool(ctx, opts.Partitions, opts.QueueDepth,
		func(wctx context.Context, p int, c call) error {
			visitor.Visit(logtags.AddTags(c.ctx, logtags.FromContext(wctx)), c.req)
			r.metrics.SetQueueDepth(r.tableID, p, r.pool.Stats()[p].Queued)
			return c.req.Err()
		})
	return r
}

func (r *router) TableID() string { return r.tableID }

func (r *router) Partitions() int { return r.pool.Partitions() }

func (r *router) PhysicalTxPartitionByKey(key mvcc.RecordKey) int {
	return partition.ByKey(string(key), r.pool.Partitions())
}

func (r *router) EnqueueVersionEntryRequest(ctx context.Context, req Request) error {
	if req == nil {
		return errors.AssertionFailedf("nil request")
	}
	if id := req.Table(); id != "" && id != r.tableID {
		return errors.Newf("request for table %q sent to table %q", id, r.tableID)
	}
	start := time.Now()
	p := r.PhysicalTxPartitionByKey(req.Key())
	if err := r.pool.Submit(ctx, p, call{ctx: ctx, req: req}); err != nil {
		r.metrics.RecordError(metrics.OpEnqueue)
		return err
	}
	r.metrics.SetQueueDepth(r.tableID, p, r.pool.Stats()[p].Queued)
	// Once queued the request runs, so its result is awaited even if ctx
	// ends first. The backend call sees ctx and fails on its own.
	<-req.base().doneCh()
	r.metrics.RecordOp(metrics.OpEnqueue, time.Since(start))
	return req.Err()
}

func (r *router) Close() {
	r.pool.Close()
	log.VEventf(logtags.AddTag(context.Background(), "table", r.tableID), 1, "partition workers stopped")
}

// observe records the latency and error of one operation and passes err
// through.
func observe(m *metrics.Metrics, op string, start time.Time, err error) error {
	m.RecordOp(op, time.Since(start))
	if err != nil {
		m.RecordError(op)
	}
	return err
}

func observeOutcome(m *metrics.Metrics, op string, start time.Time, outcome Outcome, err error) error {
	if err == nil {
		m.RecordOutcome(op, outcome.String())
	}
	return observe(m, op, start, err)
}
