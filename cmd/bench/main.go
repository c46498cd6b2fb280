// Licensed under the MIT License. See LICENSE file in the project root for details.

// Command bench measures the throughput of version lists and version tables.
//
// # Benchmark Categories
//
//   - Version list pushes from concurrent writers
//   - Compare-and-swap contention on a single hot version
//   - Uploads, reads and conditional replaces through a table's request queue
//   - Batched point reads
//
// # Usage
//
//	go run ./cmd/bench
//	go run ./cmd/bench --keys=50000 --goroutines=1,4,16 --backends=memory,local
//
// # Dangers and Warnings
//
//   - **Resource Consumption**: Large key counts keep every version in memory.
//   - **Postgres**: The postgres backend writes to real tables; point --dsn at a scratch database.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/kianostad/verchain"
	"github.com/kianostad/verchain/internal/config"
)

type benchConfig struct {
	keys       int
	goroutines []int
	backends   []string
	dsn        string
	partitions int
}

func defaultBenchConfig() benchConfig {
	return benchConfig{
		keys:       20000,
		goroutines: []int{1, 4, 16},
		backends:   []string{config.BackendMemory, config.BackendLocal},
		partitions: 4,
	}
}

func makeBenchCommand() *cobra.Command {
	bc := defaultBenchConfig()
	cmd := &cobra.Command{
		Use:           "bench [flags]",
		Short:         "bench measures the throughput of version lists and version tables.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBenchmarks(cmd.Context(), bc)
		},
	}
	cmd.Flags().IntVar(&bc.keys, "keys", bc.keys, "records per benchmark")
	cmd.Flags().IntSliceVar(&bc.goroutines, "goroutines", bc.goroutines, "concurrency levels to run")
	cmd.Flags().StringSliceVar(&bc.backends, "backends", bc.backends, "backend kinds to benchmark")
	cmd.Flags().StringVar(&bc.dsn, "dsn", bc.dsn, "connection string of the postgres backend")
	cmd.Flags().IntVar(&bc.partitions, "partitions", bc.partitions, "request partitions per version table")
	return cmd
}

func runBenchmarks(ctx context.Context, bc benchConfig) error {
	if bc.keys <= 0 {
		return errors.Newf("--keys must be positive, got %d", bc.keys)
	}
	for _, g := range bc.goroutines {
		if g <= 0 {
			return errors.Newf("--goroutines must be positive, got %d", g)
		}
	}
	fmt.Println("Version Chain Benchmarks")
	fmt.Println("========================")

	// Benchmark 1: Version list pushes
	benchmarkListPush(bc)

	// Benchmark 2: Hot version compare-and-swap
	benchmarkListCAS(bc)

	// Benchmark 3+: Table request path, one per backend
	for i, kind := range bc.backends {
		if err := benchmarkTable(ctx, bc, kind, 3+i); err != nil {
			return errors.Wrapf(err, "benchmarking %s backend", kind)
		}
	}
	return nil
}

func report(name string, ops int, d time.Duration) {
	fmt.Printf("   %s: %d ops in %v (%.0f ops/sec)\n", name, ops, d, float64(ops)/d.Seconds())
}

// parallel runs fn(g, i) for i in [0, n) split across g goroutines and
// returns the elapsed time.
func parallel(g, n int, fn func(g, i int)) time.Duration {
	var wg sync.WaitGroup
	per := (n + g - 1) / g
	start := time.Now()
	for w := 0; w < g; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := w * per; i < min(n, (w+1)*per); i++ {
				fn(w, i)
			}
		}()
	}
	wg.Wait()
	return time.Since(start)
}

func benchmarkListPush(bc benchConfig) {
	fmt.Println("\n1. Version list pushes")
	payload := []byte("payload")
	for _, g := range bc.goroutines {
		l := verchain.NewVersionList()
		d := parallel(g, bc.keys, func(_, i int) {
			l.PushFront(verchain.NewVersionEntry("hot", int64(i), 0, verchain.InfiniteTimestamp, payload, int64(i), 0))
		})
		report(fmt.Sprintf("PushFront %d goroutines", g), bc.keys, d)
	}
}

func benchmarkListCAS(bc benchConfig) {
	fmt.Println("\n2. Hot version compare-and-swap")
	for _, g := range bc.goroutines {
		l := verchain.NewVersionList()
		l.PushFront(verchain.NewVersionEntry("hot", 0, 0, verchain.InfiniteTimestamp, nil, 0, 0))
		var lost atomic.Int64
		d := parallel(g, bc.keys, func(_, i int) {
			for {
				cur := l.Find("hot", 0)
				if l.ChangeNodeValue("hot", 0, cur, cur.WithMaxCommitTs(cur.MaxCommitTs+1)) {
					return
				}
				lost.Add(1)
			}
		})
		report(fmt.Sprintf("ChangeNodeValue %d goroutines", g), bc.keys, d)
		fmt.Printf("   Lost races: %d\n", lost.Load())
	}
}

func benchmarkTable(ctx context.Context, bc benchConfig, kind string, n int) error {
	cfg := config.Default()
	cfg.Backend.Kind = kind
	cfg.Backend.DSN = bc.dsn
	cfg.Table.PartitionCount = bc.partitions
	db, err := verchain.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Printf("\n%d. Table requests (%s backend, %d partitions)\n", n, kind, bc.partitions)
	for _, g := range bc.goroutines {
		name := fmt.Sprintf("bench_%s_%d", kind, g)
		table, err := db.CreateVersionTable(ctx, name)
		if err != nil {
			return err
		}

		var failed atomic.Int64
		enqueue := func(req verchain.Request) {
			if err := table.EnqueueVersionEntryRequest(ctx, req); err != nil {
				failed.Add(1)
			}
		}
		key := func(i int) verchain.RecordKey { return verchain.RecordKey(fmt.Sprintf("key%d", i)) }

		d := parallel(g, bc.keys, func(_, i int) {
			e := verchain.NewVersionEntry(key(i), 0, 0, verchain.InfiniteTimestamp, []byte(fmt.Sprintf("value%d", i)), int64(i), 0)
			enqueue(verchain.NewUploadVersionRequest(name, e))
		})
		report(fmt.Sprintf("Upload %d goroutines", g), bc.keys, d)

		d = parallel(g, bc.keys, func(_, i int) {
			enqueue(verchain.NewReadVersionRequest(name, key(i), 0))
		})
		report(fmt.Sprintf("Read %d goroutines", g), bc.keys, d)

		d = parallel(g, bc.keys, func(_, i int) {
			enqueue(verchain.NewReplaceVersionRequest(name, key(i), 0, 0, 100, int64(i)+1, int64(i), verchain.InfiniteTimestamp))
		})
		report(fmt.Sprintf("Replace %d goroutines", g), bc.keys, d)

		const batch = 64
		keys := make([]verchain.VersionPrimaryKey, 0, batch)
		start := time.Now()
		for i := 0; i < bc.keys; i += batch {
			keys = keys[:0]
			for j := i; j < min(bc.keys, i+batch); j++ {
				keys = append(keys, verchain.VersionPrimaryKey{RecordKey: key(j), VersionKey: 0})
			}
			if _, err := table.GetVersionEntriesByKey(ctx, keys); err != nil {
				failed.Add(1)
			}
		}
		report(fmt.Sprintf("Batch read of %d keys", batch), bc.keys, time.Since(start))

		if f := failed.Load(); f > 0 {
			fmt.Printf("   Failed requests: %d\n", f)
		}
		if _, err := db.DeleteTable(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := makeBenchCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
