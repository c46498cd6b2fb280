// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package config loads the YAML configuration shared by the CLIs.
//
//	backend:
//	  kind: postgres
//	  dsn: postgresql://root@localhost:26257/verchain?sslmode=disable
//	  maxConns: 16
//	table:
//	  partitionCount: 4
//	  queueDepth: 256
//	  codec: snappy
//	log:
//	  level: info
//	metrics:
//	  enabled: true
//	  namespace: verchain
//
// Missing fields keep their Default values.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/kianostad/verchain/internal/codec"
)

// Backend kinds. memory keeps versions in in-memory version lists, local
// runs the statement path against an in-process store, postgres talks to a
// CockroachDB or Postgres cluster.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendPostgres = "postgres"
)

type Backend struct {
	Kind     string `yaml:"kind"`
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
}

type Table struct {
	PartitionCount int    `yaml:"partitionCount"`
	QueueDepth     int    `yaml:"queueDepth"`
	Codec          string `yaml:"codec"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	Verbosity   int32  `yaml:"verbosity"`
}

type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	// Addr, when set, serves /metrics on this address.
	Addr string `yaml:"addr"`
}

// Config is the root of the configuration file.
type Config struct {
	Backend Backend `yaml:"backend"`
	Table   Table   `yaml:"table"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

// Default returns a configuration for an in-memory backend.
func Default() Config {
	return Config{
		Backend: Backend{Kind: BackendMemory, MaxConns: 8},
		Table:   Table{PartitionCount: 4, QueueDepth: 256, Codec: codec.Raw{}.Name()},
		Log:     Log{Level: "info"},
		Metrics: Metrics{Enabled: true, Namespace: "verchain"},
	}
}

// Load reads path over Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result. Unknown fields
// are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch c.Backend.Kind {
	case BackendMemory, BackendLocal:
	case BackendPostgres:
		if c.Backend.DSN == "" {
			return errors.New("backend.dsn is required for the postgres backend")
		}
	default:
		return errors.Newf("backend.kind %q is not one of %s, %s, %s", c.Backend.Kind, BackendMemory, BackendLocal, BackendPostgres)
	}
	if c.Backend.MaxConns < 0 {
		return errors.Newf("backend.maxConns must not be negative, got %d", c.Backend.MaxConns)
	}
	if c.Table.PartitionCount <= 0 {
		return errors.Newf("table.partitionCount must be positive, got %d", c.Table.PartitionCount)
	}
	if c.Table.QueueDepth <= 0 {
		return errors.Newf("table.queueDepth must be positive, got %d", c.Table.QueueDepth)
	}
	if _, err := codec.ByName(c.Table.Codec); err != nil {
		return errors.Wrap(err, "table.codec")
	}
	return nil
}
