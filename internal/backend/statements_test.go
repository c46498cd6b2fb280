// Licensed under the MIT License. See LICENSE file in the project root for details.

package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatementText(t *testing.T) {
	testCases := []struct {
		name string
		stmt Statement
		sql  string
		args []any
	}{
		{
			name: "top2",
			stmt: GetVersionTop2("vertices", "A"),
			sql:  `SELECT recordKey, versionKey, beginTimestamp, endTimestamp, record, txId, maxCommitTs FROM "vertices" WHERE recordKey = $1 ORDER BY versionKey DESC LIMIT 2`,
			args: []any{"A"},
		},
		{
			name: "get",
			stmt: GetVersionEntry("vertices", "A", 3),
			sql:  `SELECT recordKey, versionKey, beginTimestamp, endTimestamp, record, txId, maxCommitTs FROM "vertices" WHERE recordKey = $1 AND versionKey = $2`,
			args: []any{"A", int64(3)},
		},
		{
			name: "upload",
			stmt: UploadVersionEntry("vertices", "A", 0, 1, 2, []byte{1}, 7, 0),
			sql:  `INSERT INTO "vertices" (recordKey, versionKey, beginTimestamp, endTimestamp, record, txId, maxCommitTs) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			args: []any{"A", int64(0), int64(1), int64(2), []byte{1}, int64(7), int64(0)},
		},
		{
			name: "replace",
			stmt: ReplaceVersion("vertices", "A", 0, 0, 100, 9),
			sql:  `UPDATE "vertices" SET beginTimestamp = $1, endTimestamp = $2, txId = $3 WHERE recordKey = $4 AND versionKey = $5`,
			args: []any{int64(0), int64(100), int64(9), "A", int64(0)},
		},
		{
			name: "replace whole",
			stmt: ReplaceWholeVersion("vertices", "A", 0, 1, 2, []byte{1}, 3, 4),
			sql:  `UPDATE "vertices" SET beginTimestamp = $1, endTimestamp = $2, record = $3, txId = $4, maxCommitTs = $5 WHERE recordKey = $6 AND versionKey = $7`,
			args: []any{int64(1), int64(2), []byte{1}, int64(3), int64(4), "A", int64(0)},
		},
		{
			name: "max commit ts",
			stmt: UpdateMaxCommitTs("vertices", "A", 0, 42),
			sql:  `UPDATE "vertices" SET maxCommitTs = $1 WHERE recordKey = $2 AND versionKey = $3`,
			args: []any{int64(42), "A", int64(0)},
		},
		{
			name: "delete",
			stmt: DeleteVersionEntry("vertices", "A", 0),
			sql:  `DELETE FROM "vertices" WHERE recordKey = $1 AND versionKey = $2`,
			args: []any{"A", int64(0)},
		},
		{
			name: "drop",
			stmt: DropTable("vertices"),
			sql:  `DROP TABLE IF EXISTS "vertices"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.sql, tc.stmt.SQL)
			require.Equal(t, tc.args, tc.stmt.Args)
			require.Equal(t, "vertices", tc.stmt.Table)
		})
	}
}

func TestStatementTableIdentifierIsQuoted(t *testing.T) {
	stmt := DeleteVersionEntry(`odd"name`, "A", 0)
	require.Equal(t, `DELETE FROM "odd""name" WHERE recordKey = $1 AND versionKey = $2`, stmt.SQL)
}

func TestStatementString(t *testing.T) {
	stmt := UploadVersionEntry("t", "it's", 12, 1, 2, []byte{0xab}, 7, 0)
	require.Equal(t,
		`INSERT INTO "t" (recordKey, versionKey, beginTimestamp, endTimestamp, record, txId, maxCommitTs) VALUES ('it''s', 12, 1, 2, 0xab, 7, 0)`,
		stmt.String())
	require.Equal(t, "upload-version-entry", stmt.Kind.String())
	require.Equal(t, "unknown(99)", StatementKind(99).String())
}

func TestStatementStringKeepsPlaceholderLikeValues(t *testing.T) {
	stmt := UpdateMaxCommitTs("t", "a$1$3", 0, 5)
	require.Equal(t,
		`UPDATE "t" SET maxCommitTs = 5 WHERE recordKey = 'a$1$3' AND versionKey = 0`,
		stmt.String())

	stmt = DeleteVersionEntry("t", "$", 4)
	require.Equal(t, `DELETE FROM "t" WHERE recordKey = '$' AND versionKey = 4`, stmt.String())
}

func TestMapRowAccessors(t *testing.T) {
	row := MapRow{
		ColRecordKey:  "A",
		ColVersionKey: int64(4),
		ColTxID:       int32(7),
		ColRecord:     []byte("x"),
		"empty":       nil,
	}

	s, err := row.String(ColRecordKey)
	require.NoError(t, err)
	require.Equal(t, "A", s)

	n, err := row.Int64(ColVersionKey)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)

	n, err = row.Int64(ColTxID)
	require.NoError(t, err)
	require.Equal(t, int64(7), n)

	b, err := row.Bytes(ColRecord)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), b)

	b, err = row.Bytes("empty")
	require.NoError(t, err)
	require.Nil(t, b)

	_, err = row.Int64(ColRecordKey)
	require.Error(t, err)
	_, err = row.String(ColMaxCommitTs)
	require.Error(t, err)
}
