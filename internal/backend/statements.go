// Licensed under the MIT License. See LICENSE file in the project root for details.

package backend

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/kianostad/verchain/internal/codec"
)

// Column names as returned by the backend (unquoted identifiers fold to
// lower case).
const (
	ColRecordKey      = "recordkey"
	ColVersionKey     = "versionkey"
	ColBeginTimestamp = "begintimestamp"
	ColEndTimestamp   = "endtimestamp"
	ColRecord         = "record"
	ColTxID           = "txid"
	ColMaxCommitTs    = "maxcommitts"
)

// StatementKind identifies one of the statement templates of a version table.
type StatementKind int

const (
	StmtCreateTable StatementKind = iota
	StmtDropTable
	StmtGetVersionTop2
	StmtGetVersionEntry
	StmtUploadVersionEntry
	StmtReplaceVersion
	StmtReplaceWholeVersion
	StmtUpdateMaxCommitTs
	StmtDeleteVersionEntry
)

var kindNames = [...]string{
	StmtCreateTable:         "create-table",
	StmtDropTable:           "drop-table",
	StmtGetVersionTop2:      "get-version-top2",
	StmtGetVersionEntry:     "get-version-entry",
	StmtUploadVersionEntry:  "upload-version-entry",
	StmtReplaceVersion:      "replace-version",
	StmtReplaceWholeVersion: "replace-whole-version",
	StmtUpdateMaxCommitTs:   "update-max-commit-ts",
	StmtDeleteVersionEntry:  "delete-version-entry",
}

func (k StatementKind) String() string {
	if int(k) < 0 || int(k) >= len(kindNames) {
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

const selectColumns = "recordKey, versionKey, beginTimestamp, endTimestamp, record, txId, maxCommitTs"

// Statement templates. The single %s is the sanitized table identifier.
const (
	sqlCreateTable = "CREATE TABLE IF NOT EXISTS %s (" +
		"recordKey TEXT NOT NULL, versionKey BIGINT NOT NULL, beginTimestamp BIGINT NOT NULL, " +
		"endTimestamp BIGINT NOT NULL, record BYTEA, txId BIGINT NOT NULL, maxCommitTs BIGINT NOT NULL, " +
		"PRIMARY KEY (recordKey, versionKey))"
	sqlDropTable           = "DROP TABLE IF EXISTS %s"
	sqlGetVersionTop2      = "SELECT " + selectColumns + " FROM %s WHERE recordKey = $1 ORDER BY versionKey DESC LIMIT 2"
	sqlGetVersionEntry     = "SELECT " + selectColumns + " FROM %s WHERE recordKey = $1 AND versionKey = $2"
	sqlUploadVersionEntry  = "INSERT INTO %s (" + selectColumns + ") VALUES ($1, $2, $3, $4, $5, $6, $7)"
	sqlReplaceVersion      = "UPDATE %s SET beginTimestamp = $1, endTimestamp = $2, txId = $3 WHERE recordKey = $4 AND versionKey = $5"
	sqlReplaceWholeVersion = "UPDATE %s SET beginTimestamp = $1, endTimestamp = $2, record = $3, txId = $4, maxCommitTs = $5 " +
		"WHERE recordKey = $6 AND versionKey = $7"
	sqlUpdateMaxCommitTs   = "UPDATE %s SET maxCommitTs = $1 WHERE recordKey = $2 AND versionKey = $3"
	sqlDeleteVersionEntry  = "DELETE FROM %s WHERE recordKey = $1 AND versionKey = $2"
)

// Statement is one parameterized round trip against a version table. Args
// follow the $n placeholders of SQL in order.
type Statement struct {
	Kind  StatementKind
	Table string
	SQL   string
	Args  []any
}

func newStatement(kind StatementKind, table, template string, args ...any) Statement {
	return Statement{
		Kind:  kind,
		Table: table,
		SQL:   fmt.Sprintf(template, pgx.Identifier{table}.Sanitize()),
		Args:  args,
	}
}

// CreateTable creates the version table if it does not exist.
func CreateTable(table string) Statement {
	return newStatement(StmtCreateTable, table, sqlCreateTable)
}

// DropTable removes the version table.
func DropTable(table string) Statement {
	return newStatement(StmtDropTable, table, sqlDropTable)
}

// GetVersionTop2 reads the two newest versions of recordKey.
func GetVersionTop2(table, recordKey string) Statement {
	return newStatement(StmtGetVersionTop2, table, sqlGetVersionTop2, recordKey)
}

// GetVersionEntry reads one version.
func GetVersionEntry(table, recordKey string, versionKey int64) Statement {
	return newStatement(StmtGetVersionEntry, table, sqlGetVersionEntry, recordKey, versionKey)
}

// UploadVersionEntry inserts a new version row. record is already serialized.
func UploadVersionEntry(table, recordKey string, versionKey, beginTs, endTs int64, record []byte, txID, maxCommitTs int64) Statement {
	return newStatement(StmtUploadVersionEntry, table, sqlUploadVersionEntry,
		recordKey, versionKey, beginTs, endTs, record, txID, maxCommitTs)
}

// ReplaceVersion overwrites the timestamps and owner of one version.
func ReplaceVersion(table, recordKey string, versionKey, beginTs, endTs, txID int64) Statement {
	return newStatement(StmtReplaceVersion, table, sqlReplaceVersion,
		beginTs, endTs, txID, recordKey, versionKey)
}

// ReplaceWholeVersion overwrites all mutable fields of one version.
func ReplaceWholeVersion(table, recordKey string, versionKey, beginTs, endTs int64, record []byte, txID, maxCommitTs int64) Statement {
	return newStatement(StmtReplaceWholeVersion, table, sqlReplaceWholeVersion,
		beginTs, endTs, record, txID, maxCommitTs, recordKey, versionKey)
}

// UpdateMaxCommitTs overwrites the max commit timestamp of one version.
func UpdateMaxCommitTs(table, recordKey string, versionKey, maxCommitTs int64) Statement {
	return newStatement(StmtUpdateMaxCommitTs, table, sqlUpdateMaxCommitTs,
		maxCommitTs, recordKey, versionKey)
}

// DeleteVersionEntry removes one version row.
func DeleteVersionEntry(table, recordKey string, versionKey int64) Statement {
	return newStatement(StmtDeleteVersionEntry, table, sqlDeleteVersionEntry, recordKey, versionKey)
}

// String renders the statement with its arguments inlined, for logs only.
// Placeholders are replaced in a single pass, so inlined values are never
// rescanned.
func (s Statement) String() string {
	var b strings.Builder
	sql := s.SQL
	for i := 0; i < len(sql); i++ {
		if sql[i] != '$' {
			b.WriteByte(sql[i])
			continue
		}
		j := i + 1
		for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
			j++
		}
		n, err := strconv.Atoi(sql[i+1 : j])
		if err != nil || n < 1 || n > len(s.Args) {
			b.WriteString(sql[i:j])
		} else {
			b.WriteString(literal(s.Args[n-1]))
		}
		i = j - 1
	}
	return b.String()
}

func literal(v any) string {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case []byte:
		return codec.ToHexString(x)
	case nil:
		return "NULL"
	default:
		return fmt.Sprint(x)
	}
}
