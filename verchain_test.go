// Licensed under the MIT License. See LICENSE file in the project root for details.

package verchain

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"go.uber.org/goleak"
)

func TestPublicAPI(t *testing.T) {
	defer goleak.VerifyNone(t)

	for _, kind := range []string{"memory", "local"} {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			cfg := DefaultConfig()
			cfg.Backend.Kind = kind
			cfg.Table.Codec = "snappy"

			db, err := Open(ctx, cfg)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer db.Close()

			table, err := db.CreateVersionTable(ctx, "accounts")
			if err != nil {
				t.Fatalf("CreateVersionTable failed: %v", err)
			}

			list, err := table.InitializeAndGetVersionList(ctx, "A")
			if err != nil || len(list) != 1 {
				t.Fatalf("Expected seeded list of one entry, got %v (%v)", list, err)
			}

			entry := NewVersionEntry("A", 0, 0, InfiniteTimestamp, []byte("v0"), 7, 0)
			if err := table.EnqueueVersionEntryRequest(ctx, NewUploadVersionRequest("accounts", entry)); err != nil {
				t.Fatalf("Upload failed: %v", err)
			}
			err = table.UploadNewVersionEntry(ctx, entry)
			if !errors.Is(err, ErrAlreadyExists) {
				t.Errorf("Expected already exists, got %v", err)
			}

			replace := NewReplaceVersionRequest("accounts", "A", 0, 0, 100, 9, 7, InfiniteTimestamp)
			if err := table.EnqueueVersionEntryRequest(ctx, replace); err != nil {
				t.Fatalf("Replace failed: %v", err)
			}
			if replace.Outcome != OutcomeApplied || replace.Result.TxID != 9 {
				t.Errorf("Expected applied replace owned by 9, got %v %v", replace.Outcome, replace.Result)
			}

			text, err := db.Metrics().ExportText()
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(text, `verchain_version_ops_total{op="replace"} 1`) {
				t.Errorf("Expected replace to be counted, got:\n%s", text)
			}
		})
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.Kind = "postgres"
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Error("Expected postgres without a DSN to be rejected")
	}

	cfg = DefaultConfig()
	cfg.Table.PartitionCount = 0
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Error("Expected zero partitions to be rejected")
	}
}

func TestVersionListAPI(t *testing.T) {
	l := NewVersionList()
	l.PushFront(NewEmptyVersionEntry("A"))
	if l.Len() != 1 {
		t.Errorf("Expected one version, got %d", l.Len())
	}
}
