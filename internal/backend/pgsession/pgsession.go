// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package pgsession implements backend.Session on a pgx connection pool, for
// CockroachDB and Postgres.
package pgsession

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kianostad/verchain/internal/backend"
	"github.com/kianostad/verchain/internal/log"
)

// uniqueViolation is the SQLSTATE of a duplicate primary key.
const uniqueViolation = "23505"

// Config selects the cluster to connect to.
type Config struct {
	DSN      string
	MaxConns int32
}

// Session is a backend.Session over a pgxpool.Pool.
type Session struct {
	pool *pgxpool.Pool
}

var _ backend.Session = (*Session)(nil)

// Open connects to the cluster and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "opening connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrapf(err, "connecting to %s", poolCfg.ConnConfig.Host)
	}
	log.Infof(ctx, "connected to %s:%d/%s (max %d conns)",
		poolCfg.ConnConfig.Host, poolCfg.ConnConfig.Port, poolCfg.ConnConfig.Database, poolCfg.MaxConns)
	return &Session{pool: pool}, nil
}

func poolConfig(cfg Config) (*pgxpool.Config, error) {
	if cfg.DSN == "" {
		return nil, errors.New("empty DSN")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parsing DSN")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	return poolCfg, nil
}

// Execute implements backend.Session. Reads return one MapRow per result row
// keyed by the column names the server reports.
func (s *Session) Execute(ctx context.Context, stmt backend.Statement) ([]backend.Row, error) {
	log.VEventf(ctx, 3, "executing %s", stmt)
	rows, err := s.pool.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, classify(err, stmt)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, classify(err, stmt)
	}
	out := make([]backend.Row, len(maps))
	for i, m := range maps {
		out[i] = backend.MapRow(m)
	}
	return out, nil
}

// Close releases the pool.
func (s *Session) Close() {
	s.pool.Close()
}

// classify wraps a driver error with the statement kind, marking duplicate
// key violations with backend.ErrAlreadyExists.
func classify(err error, stmt backend.Statement) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		err = errors.Mark(err, backend.ErrAlreadyExists)
	}
	return errors.Wrapf(err, "executing %s on %s", stmt.Kind, stmt.Table)
}
