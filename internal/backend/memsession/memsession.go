// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package memsession is an in-process backend.Session that interprets the
// version-table statement set over ordered in-memory trees.
//
// It follows SQL semantics for the statements it understands: inserts of an
// existing primary key fail with backend.ErrAlreadyExists, updates and
// deletes of a missing row are no-ops, and statements against a table that
// was never created fail. Each Execute call is one round trip and is counted
// per statement kind.
package memsession

import (
	"context"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/btree"

	"github.com/kianostad/verchain/internal/backend"
)

type row struct {
	recordKey   string
	versionKey  int64
	beginTs     int64
	endTs       int64
	record      []byte
	txID        int64
	maxCommitTs int64
}

func (r row) toMapRow() backend.MapRow {
	record := cloneBytes(r.record)
	return backend.MapRow{
		backend.ColRecordKey:      r.recordKey,
		backend.ColVersionKey:     r.versionKey,
		backend.ColBeginTimestamp: r.beginTs,
		backend.ColEndTimestamp:   r.endTs,
		backend.ColRecord:         record,
		backend.ColTxID:           r.txID,
		backend.ColMaxCommitTs:    r.maxCommitTs,
	}
}

// byKeyVersionDesc orders rows by record key, then newest version first.
func byKeyVersionDesc(a, b row) bool {
	if a.recordKey != b.recordKey {
		return a.recordKey < b.recordKey
	}
	return a.versionKey > b.versionKey
}

type table struct {
	mu   sync.Mutex
	rows *btree.BTreeG[row]
}

// Session is the in-memory backend.
type Session struct {
	mu       sync.RWMutex
	tables   map[string]*table
	executed map[backend.StatementKind]int
	faults   map[backend.StatementKind]error
	closed   bool
}

var _ backend.Session = (*Session)(nil)

// New returns an empty in-memory backend.
func New() *Session {
	return &Session{
		tables:   make(map[string]*table),
		executed: make(map[backend.StatementKind]int),
		faults:   make(map[backend.StatementKind]error),
	}
}

// Executed returns how many statements of kind ran.
func (s *Session) Executed(kind backend.StatementKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executed[kind]
}

// TotalExecuted returns the number of round trips so far.
func (s *Session) TotalExecuted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, n := range s.executed {
		total += n
	}
	return total
}

// InjectFault makes every following statement of kind fail with err until
// it is cleared with a nil err.
func (s *Session) InjectFault(kind backend.StatementKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, kind)
		return
	}
	s.faults[kind] = err
}

// Close marks the session closed; later statements fail.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Execute implements backend.Session.
func (s *Session) Execute(ctx context.Context, stmt backend.Statement) ([]backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("session closed")
	}
	s.executed[stmt.Kind]++
	if err := s.faults[stmt.Kind]; err != nil {
		s.mu.Unlock()
		return nil, err
	}
	switch stmt.Kind {
	case backend.StmtCreateTable:
		if _, ok := s.tables[stmt.Table]; !ok {
			s.tables[stmt.Table] = &table{
				rows: btree.NewBTreeGOptions(byKeyVersionDesc, btree.Options{NoLocks: true}),
			}
		}
		s.mu.Unlock()
		return nil, nil
	case backend.StmtDropTable:
		delete(s.tables, stmt.Table)
		s.mu.Unlock()
		return nil, nil
	}
	t, ok := s.tables[stmt.Table]
	s.mu.Unlock()
	if !ok {
		return nil, errors.Newf("relation %q does not exist", stmt.Table)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.execute(stmt)
}

func (t *table) execute(stmt backend.Statement) ([]backend.Row, error) {
	a := args(stmt.Args)
	switch stmt.Kind {
	case backend.StmtGetVersionTop2:
		key := a.str(0)
		if a.err != nil {
			return nil, a.wrap(stmt)
		}
		var out []backend.Row
		t.rows.Ascend(row{recordKey: key, versionKey: math.MaxInt64}, func(r row) bool {
			if r.recordKey != key {
				return false
			}
			out = append(out, r.toMapRow())
			return len(out) < 2
		})
		return out, nil

	case backend.StmtGetVersionEntry:
		pivot := row{recordKey: a.str(0), versionKey: a.int(1)}
		if a.err != nil {
			return nil, a.wrap(stmt)
		}
		if r, ok := t.rows.Get(pivot); ok {
			return []backend.Row{r.toMapRow()}, nil
		}
		return nil, nil

	case backend.StmtUploadVersionEntry:
		r := row{
			recordKey:   a.str(0),
			versionKey:  a.int(1),
			beginTs:     a.int(2),
			endTs:       a.int(3),
			record:      a.bytes(4),
			txID:        a.int(5),
			maxCommitTs: a.int(6),
		}
		if a.err != nil {
			return nil, a.wrap(stmt)
		}
		if _, ok := t.rows.Get(r); ok {
			return nil, errors.Mark(
				errors.Newf("duplicate key (%s, %d)", r.recordKey, r.versionKey), backend.ErrAlreadyExists)
		}
		t.rows.Set(r)
		return nil, nil

	case backend.StmtReplaceVersion:
		beginTs, endTs, txID := a.int(0), a.int(1), a.int(2)
		pivot := row{recordKey: a.str(3), versionKey: a.int(4)}
		if a.err != nil {
			return nil, a.wrap(stmt)
		}
		if r, ok := t.rows.Get(pivot); ok {
			r.beginTs, r.endTs, r.txID = beginTs, endTs, txID
			t.rows.Set(r)
		}
		return nil, nil

	case backend.StmtReplaceWholeVersion:
		beginTs, endTs, record, txID, maxCommitTs := a.int(0), a.int(1), a.bytes(2), a.int(3), a.int(4)
		pivot := row{recordKey: a.str(5), versionKey: a.int(6)}
		if a.err != nil {
			return nil, a.wrap(stmt)
		}
		if r, ok := t.rows.Get(pivot); ok {
			r.beginTs, r.endTs, r.record, r.txID, r.maxCommitTs = beginTs, endTs, record, txID, maxCommitTs
			t.rows.Set(r)
		}
		return nil, nil

	case backend.StmtUpdateMaxCommitTs:
		maxCommitTs := a.int(0)
		pivot := row{recordKey: a.str(1), versionKey: a.int(2)}
		if a.err != nil {
			return nil, a.wrap(stmt)
		}
		if r, ok := t.rows.Get(pivot); ok {
			r.maxCommitTs = maxCommitTs
			t.rows.Set(r)
		}
		return nil, nil

	case backend.StmtDeleteVersionEntry:
		pivot := row{recordKey: a.str(0), versionKey: a.int(1)}
		if a.err != nil {
			return nil, a.wrap(stmt)
		}
		t.rows.Delete(pivot)
		return nil, nil

	default:
		return nil, errors.Newf("unsupported statement kind %s", stmt.Kind)
	}
}

// argReader extracts typed positional arguments, remembering the first
// mismatch.
type argReader struct {
	args []any
	err  error
}

func args(a []any) *argReader { return &argReader{args: a} }

func (r *argReader) at(i int) any {
	if i >= len(r.args) {
		if r.err == nil {
			r.err = errors.Newf("missing argument $%d", i+1)
		}
		return nil
	}
	return r.args[i]
}

func (r *argReader) str(i int) string {
	v := r.at(i)
	s, ok := v.(string)
	if !ok && r.err == nil {
		r.err = errors.Newf("argument $%d: expected string, got %T", i+1, v)
	}
	return s
}

func (r *argReader) int(i int) int64 {
	v := r.at(i)
	n, ok := v.(int64)
	if !ok && r.err == nil {
		r.err = errors.Newf("argument $%d: expected int64, got %T", i+1, v)
	}
	return n
}

func (r *argReader) bytes(i int) []byte {
	v := r.at(i)
	if v == nil {
		return nil
	}
	b, ok := v.([]byte)
	if !ok && r.err == nil {
		r.err = errors.Newf("argument $%d: expected bytes, got %T", i+1, v)
		return nil
	}
	return cloneBytes(b)
}

func (r *argReader) wrap(stmt backend.Statement) error {
	return errors.Wrapf(r.err, "executing %s", stmt.Kind)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	dup := make([]byte, len(b))
	copy(dup, b)
	return dup
}
