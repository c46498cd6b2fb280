// Licensed under the MIT License. See LICENSE file in the project root for details.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kianostad/verchain"
)

const usage = `Commands:
  create <table>                 create a version table and select it
  drop <table>                   delete a version table
  use <table>                    select a version table
  tables                         list version tables
  init <key>                     seed a record and print its newest versions
  list <key>                     print the newest two versions of a record
  read <key> <vk>                print one version
  batch <key>@<vk> ...           read many versions at once
  upload <key> <vk> <begin> <end> <tx> [record]
  replace <key> <vk> <begin> <end> <tx> <readTx> <expectedEnd>
  replacewhole <key> <vk> <begin> <end> <tx> <maxCommit> [record]
  maxcommit <key> <vk> <ts>
  delete <key> <vk>
  metrics                        print the metrics in text format
  help
  quit, exit

Timestamps accept "inf" for an open end.`

// errQuit stops the loop after a quit command.
var errQuit = errors.New("quit")

// REPL runs version table operations typed on an input stream. Every
// operation goes through EnqueueVersionEntryRequest of the selected table.
type REPL struct {
	db    *verchain.DB
	out   io.Writer
	table verchain.VersionTable
}

func NewREPL(db *verchain.DB, out io.Writer) *REPL {
	return &REPL{db: db, out: out}
}

// Run reads commands from in until it is exhausted, a quit command is read or
// ctx is done.
func (r *REPL) Run(ctx context.Context, in io.Reader, prompt bool) {
	fmt.Fprintln(r.out, "Version Chain REPL")
	fmt.Fprintln(r.out, `Type "help" for the list of commands`)

	scanner := bufio.NewScanner(in)
	for ctx.Err() == nil {
		if prompt {
			fmt.Fprint(r.out, r.prompt())
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		err := r.Exec(ctx, line)
		if errors.Is(err, errQuit) {
			fmt.Fprintln(r.out, "Goodbye!")
			return
		}
		if err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
	}
}

func (r *REPL) prompt() string {
	if r.table == nil {
		return "> "
	}
	return r.table.TableID() + "> "
}

// Exec runs a single command line.
func (r *REPL) Exec(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "help":
		fmt.Fprintln(r.out, usage)
		return nil
	case "quit", "exit":
		return errQuit
	case "create":
		if len(args) != 1 {
			return usageErr("create <table>")
		}
		t, err := r.db.CreateVersionTable(ctx, args[0])
		if err != nil {
			return err
		}
		r.table = t
		fmt.Fprintf(r.out, "Created %s (%d partitions)\n", t.TableID(), t.Partitions())
		return nil
	case "drop":
		if len(args) != 1 {
			return usageErr("drop <table>")
		}
		ok, err := r.db.DeleteTable(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(r.out, "Table not found")
			return nil
		}
		if r.table != nil && r.table.TableID() == args[0] {
			r.table = nil
		}
		fmt.Fprintln(r.out, "Dropped")
		return nil
	case "use":
		if len(args) != 1 {
			return usageErr("use <table>")
		}
		t := r.db.GetVersionTable(args[0])
		if t == nil {
			fmt.Fprintln(r.out, "Table not found")
			return nil
		}
		r.table = t
		return nil
	case "tables":
		for _, id := range r.db.Tables() {
			fmt.Fprintln(r.out, id)
		}
		return nil
	case "metrics":
		text, err := r.db.Metrics().ExportText()
		if err != nil {
			return err
		}
		fmt.Fprint(r.out, text)
		return nil
	}

	if r.table == nil {
		return errors.New("no table selected; use create or use first")
	}
	return r.execTable(ctx, cmd, args)
}

func (r *REPL) execTable(ctx context.Context, cmd string, args []string) error {
	id := r.table.TableID()
	switch cmd {
	case "init":
		if len(args) != 1 {
			return usageErr("init <key>")
		}
		req := verchain.NewInitGetVersionListRequest(id, verchain.RecordKey(args[0]))
		if err := r.table.EnqueueVersionEntryRequest(ctx, req); err != nil {
			return err
		}
		if req.Result == nil {
			fmt.Fprintln(r.out, "Already initialized")
			return nil
		}
		r.printEntries(req.Result)
		return nil

	case "list":
		if len(args) != 1 {
			return usageErr("list <key>")
		}
		req := verchain.NewGetVersionListRequest(id, verchain.RecordKey(args[0]))
		if err := r.table.EnqueueVersionEntryRequest(ctx, req); err != nil {
			return err
		}
		if len(req.Result) == 0 {
			fmt.Fprintln(r.out, "Key not found")
			return nil
		}
		r.printEntries(req.Result)
		return nil

	case "read":
		if len(args) != 2 {
			return usageErr("read <key> <vk>")
		}
		vk, err := parseTs(args[1])
		if err != nil {
			return err
		}
		req := verchain.NewReadVersionRequest(id, verchain.RecordKey(args[0]), vk)
		if err := r.table.EnqueueVersionEntryRequest(ctx, req); err != nil {
			return err
		}
		r.printEntry(req.Result)
		return nil

	case "batch":
		if len(args) == 0 {
			return usageErr("batch <key>@<vk> ...")
		}
		keys := make([]verchain.VersionPrimaryKey, 0, len(args))
		for _, a := range args {
			pk, err := parsePrimaryKey(a)
			if err != nil {
				return err
			}
			keys = append(keys, pk)
		}
		found, err := r.table.GetVersionEntriesByKey(ctx, keys)
		if err != nil {
			return err
		}
		for _, pk := range keys {
			fmt.Fprintf(r.out, "%s: ", pk)
			r.printEntry(found[pk])
		}
		return nil

	case "upload":
		if len(args) != 5 && len(args) != 6 {
			return usageErr("upload <key> <vk> <begin> <end> <tx> [record]")
		}
		nums, err := parseTimestamps(args[1:5])
		if err != nil {
			return err
		}
		e := verchain.NewVersionEntry(verchain.RecordKey(args[0]), nums[0], nums[1], nums[2], record(args[5:]), nums[3], 0)
		req := verchain.NewUploadVersionRequest(id, e)
		if err := r.table.EnqueueVersionEntryRequest(ctx, req); err != nil {
			if errors.Is(err, verchain.ErrAlreadyExists) {
				fmt.Fprintln(r.out, "Version already exists")
				return nil
			}
			return err
		}
		fmt.Fprintln(r.out, "OK")
		return nil

	case "replace":
		if len(args) != 7 {
			return usageErr("replace <key> <vk> <begin> <end> <tx> <readTx> <expectedEnd>")
		}
		nums, err := parseTimestamps(args[1:])
		if err != nil {
			return err
		}
		req := verchain.NewReplaceVersionRequest(id, verchain.RecordKey(args[0]), nums[0], nums[1], nums[2], nums[3], nums[4], nums[5])
		if err := r.table.EnqueueVersionEntryRequest(ctx, req); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%s: ", req.Outcome)
		r.printEntry(req.Result)
		return nil

	case "replacewhole":
		if len(args) != 6 && len(args) != 7 {
			return usageErr("replacewhole <key> <vk> <begin> <end> <tx> <maxCommit> [record]")
		}
		nums, err := parseTimestamps(args[1:6])
		if err != nil {
			return err
		}
		e := verchain.NewVersionEntry(verchain.RecordKey(args[0]), nums[0], nums[1], nums[2], record(args[6:]), nums[3], nums[4])
		req := verchain.NewReplaceWholeVersionRequest(id, e)
		if err := r.table.EnqueueVersionEntryRequest(ctx, req); err != nil {
			return err
		}
		fmt.Fprintln(r.out, req.Outcome)
		return nil

	case "maxcommit":
		if len(args) != 3 {
			return usageErr("maxcommit <key> <vk> <ts>")
		}
		nums, err := parseTimestamps(args[1:])
		if err != nil {
			return err
		}
		req := verchain.NewUpdateVersionMaxCommitTsRequest(id, verchain.RecordKey(args[0]), nums[0], nums[1])
		if err := r.table.EnqueueVersionEntryRequest(ctx, req); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%s: ", req.Outcome)
		r.printEntry(req.Result)
		return nil

	case "delete":
		if len(args) != 2 {
			return usageErr("delete <key> <vk>")
		}
		vk, err := parseTs(args[1])
		if err != nil {
			return err
		}
		req := verchain.NewDeleteVersionRequest(id, verchain.RecordKey(args[0]), vk)
		if err := r.table.EnqueueVersionEntryRequest(ctx, req); err != nil {
			return err
		}
		if req.Deleted {
			fmt.Fprintln(r.out, "Deleted")
		} else {
			fmt.Fprintln(r.out, "Version not found")
		}
		return nil

	default:
		return errors.Newf("unknown command %q", cmd)
	}
}

func (r *REPL) printEntries(entries []*verchain.VersionEntry) {
	for _, e := range entries {
		r.printEntry(e)
	}
}

func (r *REPL) printEntry(e *verchain.VersionEntry) {
	if e == nil {
		fmt.Fprintln(r.out, "Version not found")
		return
	}
	fmt.Fprintf(r.out, "%s %q\n", e, e.Record)
}

func usageErr(u string) error {
	return errors.Newf("usage: %s", u)
}

// record returns the optional record argument. A missing argument is an
// empty, present payload.
func record(args []string) []byte {
	if len(args) == 0 {
		return []byte{}
	}
	return []byte(args[0])
}

func parseTs(s string) (int64, error) {
	if s == "inf" {
		return verchain.InfiniteTimestamp, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid number %q", s)
	}
	return v, nil
}

func parseTimestamps(args []string) ([]int64, error) {
	out := make([]int64, len(args))
	for i, a := range args {
		v, err := parseTs(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parsePrimaryKey(s string) (verchain.VersionPrimaryKey, error) {
	i := strings.LastIndexByte(s, '@')
	if i <= 0 {
		return verchain.VersionPrimaryKey{}, errors.Newf("invalid version key %q, want <key>@<vk>", s)
	}
	vk, err := parseTs(s[i+1:])
	if err != nil {
		return verchain.VersionPrimaryKey{}, err
	}
	return verchain.VersionPrimaryKey{RecordKey: verchain.RecordKey(s[:i]), VersionKey: vk}, nil
}
