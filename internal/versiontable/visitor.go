// Licensed under the MIT License. See LICENSE file in the project root for details.

package versiontable

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Visitor executes requests against the synchronous operations of one
// table. It holds no per-request state, so a single value serves every
// partition worker.
type Visitor struct {
	table VersionTable
}

// NewVisitor returns a visitor bound to table.
func NewVisitor(table VersionTable) Visitor {
	return Visitor{table: table}
}

// Visit executes req and completes it. Expected outcomes (not found, stale
// expectations) are stored in the request's result fields; only faults
// reach its error slot. Visit never panics on a backend fault.
func (v Visitor) Visit(ctx context.Context, req Request) {
	var err error
	switch r := req.(type) {
	case *ReadVersionRequest:
		r.Result, err = v.table.GetVersionEntryByKey(ctx, r.RecordKey, r.VersionKey)
	case *ReplaceVersionRequest:
		r.Result, r.Outcome, err = v.table.ReplaceVersionEntry(ctx, r.RecordKey, r.VersionKey,
			r.BeginTs, r.EndTs, r.TxID, r.ReadTxID, r.ExpectedEndTs)
	case *ReplaceWholeVersionRequest:
		r.Outcome, err = v.table.ReplaceWholeVersionEntry(ctx, r.Entry)
	case *UploadVersionRequest:
		err = v.table.UploadNewVersionEntry(ctx, r.Entry)
	case *DeleteVersionRequest:
		r.Deleted, err = v.table.DeleteVersionEntry(ctx, r.RecordKey, r.VersionKey)
	case *UpdateVersionMaxCommitTsRequest:
		r.Result, r.Outcome, err = v.table.UpdateVersionMaxCommitTs(ctx, r.RecordKey, r.VersionKey, r.MaxCommitTs)
	case *GetVersionListRequest:
		r.Result, err = v.table.GetVersionList(ctx, r.RecordKey)
	case *InitGetVersionListRequest:
		r.Result, err = v.table.InitializeAndGetVersionList(ctx, r.RecordKey)
	default:
		err = errors.AssertionFailedf("unhandled request type %T", req)
	}
	req.base().complete(err)
}
