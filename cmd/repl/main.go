// Licensed under the MIT License. See LICENSE file in the project root for details.

// Command repl is an interactive shell over a version database.
//
// It opens the configured backend, lets the user create version tables and
// sends every record operation through the table's request queue, printing
// the resulting entries and outcomes.
//
// # Usage
//
//	go run ./cmd/repl --backend=local
//	go run ./cmd/repl --config=verchain.yaml --metrics-addr=:9090
//
// Example session:
//
//	> create accounts
//	Created accounts (4 partitions)
//	accounts> init A
//	A@-1[-1,-1) tx=-1 maxCommit=0 record=0B ""
//	accounts> upload A 0 0 inf 7 hello
//	OK
//	accounts> replace A 0 0 100 9 7 inf
//	applied: A@0[0,100) tx=9 maxCommit=0 record=5B "hello"
//	accounts> replace A 0 0 100 9 7 inf
//	mismatch: A@0[0,100) tx=9 maxCommit=0 record=5B "hello"
//	accounts> quit
//	Goodbye!
//
// # Dangers and Warnings
//
//   - **Data Persistence**: The memory and local backends lose every table when the program exits.
//   - **Record Encoding**: Records are taken verbatim from the command line and cannot contain spaces.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kianostad/verchain"
	"github.com/kianostad/verchain/internal/config"
	"github.com/kianostad/verchain/internal/log"
)

type replConfig struct {
	configPath  string
	backend     string
	dsn         string
	partitions  int
	codec       string
	logLevel    string
	metricsAddr string
	quiet       bool
}

func (rc *replConfig) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&rc.configPath, "config", rc.configPath, "path to a YAML configuration file")
	fs.StringVar(&rc.backend, "backend", rc.backend, "backend kind: memory, local or postgres")
	fs.StringVar(&rc.dsn, "dsn", rc.dsn, "connection string of the postgres backend")
	fs.IntVar(&rc.partitions, "partitions", rc.partitions, "request partitions per version table")
	fs.StringVar(&rc.codec, "codec", rc.codec, "record codec: raw or snappy")
	fs.StringVar(&rc.logLevel, "log-level", rc.logLevel, "log level: debug, info, warn or error")
	fs.StringVar(&rc.metricsAddr, "metrics-addr", rc.metricsAddr, "serve /metrics on this address")
	fs.BoolVar(&rc.quiet, "quiet", rc.quiet, "do not print a prompt")
}

// load reads the configuration file, if any, and applies the flags the user
// set explicitly on top of it.
func (rc *replConfig) load(fs *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if rc.configPath != "" {
		var err error
		if cfg, err = config.Load(rc.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if fs.Changed("backend") {
		cfg.Backend.Kind = rc.backend
	}
	if fs.Changed("dsn") {
		cfg.Backend.DSN = rc.dsn
	}
	if fs.Changed("partitions") {
		cfg.Table.PartitionCount = rc.partitions
	}
	if fs.Changed("codec") {
		cfg.Table.Codec = rc.codec
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = rc.logLevel
	}
	if fs.Changed("metrics-addr") {
		cfg.Metrics.Addr = rc.metricsAddr
	}
	return cfg, cfg.Validate()
}

func makeReplCommand() *cobra.Command {
	rc := &replConfig{}
	cmd := &cobra.Command{
		Use:           "repl [flags]",
		Short:         "repl runs version table operations typed on standard input.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rc.load(cmd.Flags())
			if err != nil {
				return err
			}
			return runRepl(cmd.Context(), cfg, rc.quiet)
		},
	}
	rc.addFlags(cmd.Flags())
	return cmd
}

func runRepl(ctx context.Context, cfg config.Config, quiet bool) error {
	logger, err := log.New(log.Config{Level: cfg.Log.Level, Development: cfg.Log.Development, Verbosity: cfg.Log.Verbosity})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log.SetLogger(logger)
	log.SetVerbosity(cfg.Log.Verbosity)

	db, err := verchain.Open(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer db.Close()

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", db.Metrics().Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf(ctx, "metrics server: %v", err)
			}
		}()
		defer func() { _ = srv.Close() }()
		log.Infof(ctx, "serving metrics on %s", cfg.Metrics.Addr)
	}

	NewREPL(db, os.Stdout).Run(ctx, os.Stdin, !quiet)
	return nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived shutdown signal. Closing database...")
		cancel()
		// The scanner blocks on stdin; closing it ends the loop.
		_ = os.Stdin.Close()
	}()

	if err := makeReplCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
