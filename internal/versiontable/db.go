// Licensed under the MIT License. See LICENSE file in the project root for details.

package versiontable

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"

	"github.com/kianostad/verchain/internal/backend"
	"github.com/kianostad/verchain/internal/concurrency/partition"
	"github.com/kianostad/verchain/internal/log"
	"github.com/kianostad/verchain/internal/monitoring/metrics"
	"github.com/kianostad/verchain/internal/storage/mvcc"
)

// ErrDBClosed is returned by VersionDB operations after Close.
var ErrDBClosed = errors.New("version db closed")

// VersionDB is the registry of the version tables of one database. With a
// backend session it creates PartitionedVersionTables backed by real tables;
// without one it creates MemoryVersionTables.
type VersionDB struct {
	session backend.Session
	opts    Options

	mu     sync.RWMutex
	tables map[string]VersionTable
	closed bool
}

// NewVersionDB returns an empty registry. session may be nil. The caller
// keeps ownership of session.
func NewVersionDB(session backend.Session, opts Options) *VersionDB {
	return &VersionDB{
		session: session,
		opts:    opts.withDefaults(),
		tables:  make(map[string]VersionTable),
	}
}

// PhysicalTxPartitionByKey maps key onto the partitions shared by every table
// of the database.
func (db *VersionDB) PhysicalTxPartitionByKey(key mvcc.RecordKey) int {
	return partition.ByKey(string(key), db.opts.Partitions)
}

// CreateVersionTable creates the table if needed and returns it. Creating a
// table that is already registered returns the registered one.
func (db *VersionDB) CreateVersionTable(ctx context.Context, tableID string) (_ VersionTable, err error) {
	defer func(start time.Time) { err = observe(db.opts.Metrics, metrics.OpCreateTable, start, err) }(time.Now())
	if tableID == "" {
		return nil, errors.New("empty table id")
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrDBClosed
	}
	if t, ok := db.tables[tableID]; ok {
		return t, nil
	}

	var t VersionTable
	if db.session == nil {
		t, err = NewMemoryVersionTable(ctx, tableID, db.opts)
	} else {
		if _, err := db.session.Execute(ctx, backend.CreateTable(tableID)); err != nil {
			return nil, errors.Wrapf(err, "creating table %s", tableID)
		}
		t, err = NewPartitionedVersionTable(ctx, tableID, db.session, db.opts)
	}
	if err != nil {
		return nil, err
	}
	db.tables[tableID] = t
	log.Infof(logtags.AddTag(ctx, "table", tableID), "created version table")
	return t, nil
}

// GetVersionTable returns the registered table, or nil.
func (db *VersionDB) GetVersionTable(tableID string) VersionTable {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.tables[tableID]
}

// Tables lists the registered table ids in order.
func (db *VersionDB) Tables() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ids := make([]string, 0, len(db.tables))
	for id := range db.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DeleteTable stops the table's workers, drops its backend table and removes
// it from the registry. It reports whether the table was registered.
func (db *VersionDB) DeleteTable(ctx context.Context, tableID string) (_ bool, err error) {
	defer func(start time.Time) { err = observe(db.opts.Metrics, metrics.OpDropTable, start, err) }(time.Now())
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return false, ErrDBClosed
	}
	t, ok := db.tables[tableID]
	if !ok {
		return false, nil
	}
	delete(db.tables, tableID)
	t.Close()
	if db.session != nil {
		if _, err := db.session.Execute(ctx, backend.DropTable(tableID)); err != nil {
			return true, errors.Wrapf(err, "dropping table %s", tableID)
		}
	}
	log.Infof(logtags.AddTag(ctx, "table", tableID), "deleted version table")
	return true, nil
}

// Close stops every table. It does not close the backend session.
func (db *VersionDB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return
	}
	db.closed = true
	for id, t := range db.tables {
		t.Close()
		delete(db.tables, id)
	}
}
