// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package backend defines what the version tables need from a storage
// backend: a session that executes one parameterized statement per round
// trip and returns rows with typed column accessors.
//
// Implementations live in the pgsession (CockroachDB/Postgres through pgx)
// and memsession (in-process reference store) subpackages.
package backend

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrAlreadyExists marks backend faults caused by inserting a row whose
// primary key is already present.
var ErrAlreadyExists = errors.New("row already exists")

// Session executes statements against a backend.
type Session interface {
	// Execute runs stmt and returns its rows (none for writes). Faults are
	// returned as errors; duplicate inserts are marked with ErrAlreadyExists.
	Execute(ctx context.Context, stmt Statement) ([]Row, error)
	Close()
}

// Row gives typed access to one result row by lower-case column name.
type Row interface {
	String(col string) (string, error)
	Int64(col string) (int64, error)
	Bytes(col string) ([]byte, error)
}

// MapRow is a Row backed by a column map.
type MapRow map[string]any

func (r MapRow) value(col string) (any, error) {
	v, ok := r[col]
	if !ok {
		return nil, errors.Newf("column %q not in row", col)
	}
	return v, nil
}

func (r MapRow) String(col string) (string, error) {
	v, err := r.value(col)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", errors.Newf("column %q: cannot read %T as string", col, v)
	}
}

func (r MapRow) Int64(col string) (int64, error) {
	v, err := r.value(col)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int16:
		return int64(n), nil
	default:
		return 0, errors.Newf("column %q: cannot read %T as int64", col, v)
	}
}

func (r MapRow) Bytes(col string) ([]byte, error) {
	v, err := r.value(col)
	if err != nil {
		return nil, err
	}
	switch b := v.(type) {
	case []byte:
		return b, nil
	case nil:
		return nil, nil
	default:
		return nil, errors.Newf("column %q: cannot read %T as bytes", col, v)
	}
}
