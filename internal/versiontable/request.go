// Licensed under the MIT License. See LICENSE file in the project root for details.

package versiontable

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/kianostad/verchain/internal/monitoring/metrics"
	"github.com/kianostad/verchain/internal/storage/mvcc"
)

// Outcome reports what a conditional update did.
type Outcome int

const (
	// OutcomeApplied means the new values were written.
	OutcomeApplied Outcome = iota
	// OutcomeMismatch means the stored version did not match the expected
	// values; the returned entry is the unchanged current version.
	OutcomeMismatch
	// OutcomeLostRace means the expected values matched but a concurrent
	// writer replaced the version first. The caller must re-read.
	OutcomeLostRace
	// OutcomeNotFound means no such version exists.
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeLostRace:
		return "lost_race"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Request is a deferred version operation. The set of request kinds is
// closed; every kind is executed by Visitor.
type Request interface {
	// Key returns the record key used to pick the partition.
	Key() mvcc.RecordKey
	Table() string
	Finished() bool
	Wait(ctx context.Context) error
	Err() error

	base() *RequestBase
	op() string
}

// RequestBase holds the addressing and completion state shared by every
// request. A request is completed exactly once and never reused.
type RequestBase struct {
	TableID    string
	RecordKey  mvcc.RecordKey
	VersionKey int64

	initOnce   sync.Once
	done       chan struct{}
	completing atomic.Bool
	finished   atomic.Bool
	err        error
}

func (b *RequestBase) base() *RequestBase { return b }

func (b *RequestBase) doneCh() chan struct{} {
	b.initOnce.Do(func() { b.done = make(chan struct{}) })
	return b.done
}

// Key implements Request.
func (b *RequestBase) Key() mvcc.RecordKey { return b.RecordKey }

// Table implements Request.
func (b *RequestBase) Table() string { return b.TableID }

// Finished reports whether the request has been executed.
func (b *RequestBase) Finished() bool { return b.finished.Load() }

// Err returns the backend fault recorded by the executing visitor, if any.
// It is only meaningful once Finished returns true.
func (b *RequestBase) Err() error {
	if !b.finished.Load() {
		return nil
	}
	return b.err
}

// Wait blocks until the request is finished or ctx is done. It returns the
// request's error in the first case and the context's in the second.
func (b *RequestBase) Wait(ctx context.Context) error {
	select {
	case <-b.doneCh():
		return b.err
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for %s@%d", b.RecordKey, b.VersionKey)
	}
}

// complete publishes the request's result. Results must be stored before it
// is called.
func (b *RequestBase) complete(err error) {
	if !b.completing.CompareAndSwap(false, true) {
		panic(errors.AssertionFailedf("request for %s@%d completed twice", b.RecordKey, b.VersionKey))
	}
	b.err = err
	b.finished.Store(true)
	close(b.doneCh())
}

// ReadVersionRequest reads one version. Result is nil when it does not exist.
type ReadVersionRequest struct {
	RequestBase
	Result *mvcc.VersionEntry
}

func NewReadVersionRequest(tableID string, key mvcc.RecordKey, versionKey int64) *ReadVersionRequest {
	return &ReadVersionRequest{RequestBase: RequestBase{TableID: tableID, RecordKey: key, VersionKey: versionKey}}
}

// ReplaceVersionRequest sets the timestamps and owner of a version if its
// current owner is ReadTxID and its end timestamp is ExpectedEndTs.
type ReplaceVersionRequest struct {
	RequestBase
	BeginTs       int64
	EndTs         int64
	TxID          int64
	ReadTxID      int64
	ExpectedEndTs int64

	Result  *mvcc.VersionEntry
	Outcome Outcome
}

func NewReplaceVersionRequest(tableID string, key mvcc.RecordKey, versionKey, beginTs, endTs, txID, readTxID, expectedEndTs int64) *ReplaceVersionRequest {
	return &ReplaceVersionRequest{
		RequestBase:   RequestBase{TableID: tableID, RecordKey: key, VersionKey: versionKey},
		BeginTs:       beginTs,
		EndTs:         endTs,
		TxID:          txID,
		ReadTxID:      readTxID,
		ExpectedEndTs: expectedEndTs,
	}
}

// ReplaceWholeVersionRequest overwrites every mutable field of a version.
type ReplaceWholeVersionRequest struct {
	RequestBase
	Entry   *mvcc.VersionEntry
	Outcome Outcome
}

func NewReplaceWholeVersionRequest(tableID string, entry *mvcc.VersionEntry) *ReplaceWholeVersionRequest {
	return &ReplaceWholeVersionRequest{
		RequestBase: RequestBase{TableID: tableID, RecordKey: entry.RecordKey, VersionKey: entry.VersionKey},
		Entry:       entry,
	}
}

// UploadVersionRequest inserts a new version.
type UploadVersionRequest struct {
	RequestBase
	Entry *mvcc.VersionEntry
}

func NewUploadVersionRequest(tableID string, entry *mvcc.VersionEntry) *UploadVersionRequest {
	return &UploadVersionRequest{
		RequestBase: RequestBase{TableID: tableID, RecordKey: entry.RecordKey, VersionKey: entry.VersionKey},
		Entry:       entry,
	}
}

// DeleteVersionRequest removes a version.
type DeleteVersionRequest struct {
	RequestBase
	Deleted bool
}

func NewDeleteVersionRequest(tableID string, key mvcc.RecordKey, versionKey int64) *DeleteVersionRequest {
	return &DeleteVersionRequest{RequestBase: RequestBase{TableID: tableID, RecordKey: key, VersionKey: versionKey}}
}

// UpdateVersionMaxCommitTsRequest raises the max commit timestamp of a
// version to MaxCommitTs if that is larger than the current value.
type UpdateVersionMaxCommitTsRequest struct {
	RequestBase
	MaxCommitTs int64

	Result  *mvcc.VersionEntry
	Outcome Outcome
}

func NewUpdateVersionMaxCommitTsRequest(tableID string, key mvcc.RecordKey, versionKey, maxCommitTs int64) *UpdateVersionMaxCommitTsRequest {
	return &UpdateVersionMaxCommitTsRequest{
		RequestBase: RequestBase{TableID: tableID, RecordKey: key, VersionKey: versionKey},
		MaxCommitTs: maxCommitTs,
	}
}

// GetVersionListRequest fetches the newest two versions of a record.
type GetVersionListRequest struct {
	RequestBase
	Result []*mvcc.VersionEntry
}

func NewGetVersionListRequest(tableID string, key mvcc.RecordKey) *GetVersionListRequest {
	return &GetVersionListRequest{RequestBase: RequestBase{TableID: tableID, RecordKey: key, VersionKey: mvcc.EmptyVersionKey}}
}

// InitGetVersionListRequest seeds a never-seen record with its empty entry
// and returns the resulting list. Result is nil when the record already
// existed.
type InitGetVersionListRequest struct {
	RequestBase
	Result []*mvcc.VersionEntry
}

func NewInitGetVersionListRequest(tableID string, key mvcc.RecordKey) *InitGetVersionListRequest {
	return &InitGetVersionListRequest{RequestBase: RequestBase{TableID: tableID, RecordKey: key, VersionKey: mvcc.EmptyVersionKey}}
}

func (*ReadVersionRequest) op() string              { return metrics.OpRead }
func (*ReplaceVersionRequest) op() string           { return metrics.OpReplace }
func (*ReplaceWholeVersionRequest) op() string      { return metrics.OpReplaceWhole }
func (*UploadVersionRequest) op() string            { return metrics.OpUpload }
func (*DeleteVersionRequest) op() string            { return metrics.OpDelete }
func (*UpdateVersionMaxCommitTsRequest) op() string { return metrics.OpMaxCommitTs }
func (*GetVersionListRequest) op() string           { return metrics.OpGetList }
func (*InitGetVersionListRequest) op() string       { return metrics.OpInitList }
