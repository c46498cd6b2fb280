// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package verchain is the version-management core of an MVCC storage layer
// for a graph database.
//
// It keeps, per logical record, a chain of versions (tentative and
// committed), updates version metadata with optimistic compare-and-swap
// semantics and persists version chains to a partitioned SQL backend.
//
// # Quick Start
//
//	import "github.com/kianostad/verchain"
//
//	cfg := verchain.DefaultConfig()
//	db, err := verchain.Open(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	table, err := db.CreateVersionTable(ctx, "accounts")
//	list, err := table.InitializeAndGetVersionList(ctx, "A")
//
// # Key Features
//
//   - Lock-free in-memory version lists with whole-entry compare-and-swap
//   - Version tables over CockroachDB/Postgres or in-memory version lists
//   - Per-partition request workers behind EnqueueVersionEntryRequest
//   - Prometheus metrics and structured, context-tagged logging
//
// # Dangers and Warnings
//
//   - **Non-atomic Replace**: Conditional updates of persisted tables read and then write. See the versiontable package.
//   - **No Retries**: Faults and mismatches are returned to the caller, which owns the retry policy.
//   - **Caller Discipline**: Push the newest version last and delete a version only from the transaction that created it.
package verchain

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/kianostad/verchain/internal/backend"
	"github.com/kianostad/verchain/internal/backend/memsession"
	"github.com/kianostad/verchain/internal/backend/pgsession"
	"github.com/kianostad/verchain/internal/codec"
	"github.com/kianostad/verchain/internal/config"
	"github.com/kianostad/verchain/internal/monitoring/metrics"
	"github.com/kianostad/verchain/internal/storage/mvcc"
	"github.com/kianostad/verchain/internal/versiontable"
)

// Version chain types.
type (
	RecordKey         = mvcc.RecordKey
	VersionEntry      = mvcc.VersionEntry
	VersionPrimaryKey = mvcc.VersionPrimaryKey
	VersionList       = mvcc.VersionList
)

// Version table types.
type (
	VersionTable = versiontable.VersionTable
	Request      = versiontable.Request
	Outcome      = versiontable.Outcome
	Options      = versiontable.Options
	Config       = config.Config
	Metrics      = metrics.Metrics
)

// Request kinds.
type (
	ReadVersionRequest              = versiontable.ReadVersionRequest
	ReplaceVersionRequest           = versiontable.ReplaceVersionRequest
	ReplaceWholeVersionRequest      = versiontable.ReplaceWholeVersionRequest
	UploadVersionRequest            = versiontable.UploadVersionRequest
	DeleteVersionRequest            = versiontable.DeleteVersionRequest
	UpdateVersionMaxCommitTsRequest = versiontable.UpdateVersionMaxCommitTsRequest
	GetVersionListRequest           = versiontable.GetVersionListRequest
	InitGetVersionListRequest       = versiontable.InitGetVersionListRequest
)

const (
	InfiniteTimestamp = mvcc.InfiniteTimestamp

	OutcomeApplied  = versiontable.OutcomeApplied
	OutcomeMismatch = versiontable.OutcomeMismatch
	OutcomeLostRace = versiontable.OutcomeLostRace
	OutcomeNotFound = versiontable.OutcomeNotFound
)

// ErrAlreadyExists marks uploads of a version that is already stored.
var ErrAlreadyExists = backend.ErrAlreadyExists

// Constructors re-exported from the internal packages.
var (
	NewVersionEntry      = mvcc.NewVersionEntry
	NewEmptyVersionEntry = mvcc.NewEmptyVersionEntry
	NewVersionList       = mvcc.NewVersionList

	NewReadVersionRequest              = versiontable.NewReadVersionRequest
	NewReplaceVersionRequest           = versiontable.NewReplaceVersionRequest
	NewReplaceWholeVersionRequest      = versiontable.NewReplaceWholeVersionRequest
	NewUploadVersionRequest            = versiontable.NewUploadVersionRequest
	NewDeleteVersionRequest            = versiontable.NewDeleteVersionRequest
	NewUpdateVersionMaxCommitTsRequest = versiontable.NewUpdateVersionMaxCommitTsRequest
	NewGetVersionListRequest           = versiontable.NewGetVersionListRequest
	NewInitGetVersionListRequest       = versiontable.NewInitGetVersionListRequest

	DefaultConfig = config.Default
	LoadConfig    = config.Load
)

// DB is a version database opened from a Config.
type DB struct {
	*versiontable.VersionDB
	session backend.Session
	metrics *metrics.Metrics
}

// Open connects the configured backend and returns an empty database.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := codec.ByName(cfg.Table.Codec)
	if err != nil {
		return nil, err
	}
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	var session backend.Session
	switch cfg.Backend.Kind {
	case config.BackendMemory:
	case config.BackendLocal:
		session = memsession.New()
	case config.BackendPostgres:
		s, err := pgsession.Open(ctx, pgsession.Config{DSN: cfg.Backend.DSN, MaxConns: cfg.Backend.MaxConns})
		if err != nil {
			return nil, err
		}
		session = s
	default:
		return nil, errors.AssertionFailedf("unhandled backend kind %q", cfg.Backend.Kind)
	}

	opts := Options{
		Partitions: cfg.Table.PartitionCount,
		QueueDepth: cfg.Table.QueueDepth,
		Codec:      c,
		Metrics:    m,
	}
	return &DB{
		VersionDB: versiontable.NewVersionDB(session, opts),
		session:   session,
		metrics:   m,
	}, nil
}

// Metrics returns the database's collectors, or nil when metrics are
// disabled.
func (db *DB) Metrics() *Metrics {
	return db.metrics
}

// Close stops every table and releases the backend session.
func (db *DB) Close() {
	db.VersionDB.Close()
	if db.session != nil {
		db.session.Close()
	}
}
