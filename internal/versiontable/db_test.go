// Licensed under the MIT License. See LICENSE file in the project root for details.

package versiontable

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/goleak"

	"github.com/kianostad/verchain/internal/backend"
	"github.com/kianostad/verchain/internal/backend/memsession"
	"github.com/kianostad/verchain/internal/storage/mvcc"
)

func TestVersionDB(t *testing.T) {
	defer goleak.VerifyNone(t)

	Convey("Given a version db over a backend session", t, func() {
		ctx := context.Background()
		session := memsession.New()
		db := NewVersionDB(session, Options{Partitions: 2})
		Reset(db.Close)

		Convey("Creating a table creates its backend table", func() {
			table, err := db.CreateVersionTable(ctx, "accounts")
			So(err, ShouldBeNil)
			So(table, ShouldHaveSameTypeAs, &PartitionedVersionTable{})
			So(session.Executed(backend.StmtCreateTable), ShouldEqual, 1)
			So(table.UploadNewVersionEntry(ctx, openEntry("A", 0, 1)), ShouldBeNil)

			Convey("And creating it again returns the same table", func() {
				again, err := db.CreateVersionTable(ctx, "accounts")
				So(err, ShouldBeNil)
				So(again, ShouldEqual, table)
				So(db.GetVersionTable("accounts"), ShouldEqual, table)
				So(db.Tables(), ShouldResemble, []string{"accounts"})
			})

			Convey("And deleting it drops the backend table", func() {
				deleted, err := db.DeleteTable(ctx, "accounts")
				So(err, ShouldBeNil)
				So(deleted, ShouldBeTrue)
				So(db.GetVersionTable("accounts"), ShouldBeNil)
				So(session.Executed(backend.StmtDropTable), ShouldEqual, 1)

				_, err = session.Execute(ctx, backend.GetVersionEntry("accounts", "A", 0))
				So(err, ShouldNotBeNil)

				deleted, err = db.DeleteTable(ctx, "accounts")
				So(err, ShouldBeNil)
				So(deleted, ShouldBeFalse)
			})
		})

		Convey("A table id is required", func() {
			_, err := db.CreateVersionTable(ctx, "")
			So(err, ShouldNotBeNil)
		})

		Convey("A failing create is reported and nothing is registered", func() {
			session.InjectFault(backend.StmtCreateTable, errors.New("permission denied"))
			_, err := db.CreateVersionTable(ctx, "accounts")
			So(err, ShouldNotBeNil)
			So(db.GetVersionTable("accounts"), ShouldBeNil)
		})

		Convey("The db partitions keys like its tables", func() {
			table, err := db.CreateVersionTable(ctx, "accounts")
			So(err, ShouldBeNil)
			for _, key := range []mvcc.RecordKey{"A", "B", "C", "vertex:42"} {
				So(db.PhysicalTxPartitionByKey(key), ShouldEqual, table.PhysicalTxPartitionByKey(key))
			}
		})

		Convey("After Close every operation fails", func() {
			_, err := db.CreateVersionTable(ctx, "accounts")
			So(err, ShouldBeNil)
			db.Close()
			So(db.Tables(), ShouldBeEmpty)

			_, err = db.CreateVersionTable(ctx, "other")
			So(errors.Is(err, ErrDBClosed), ShouldBeTrue)
			_, err = db.DeleteTable(ctx, "accounts")
			So(errors.Is(err, ErrDBClosed), ShouldBeTrue)
		})
	})

	Convey("Given a version db without a session", t, func() {
		db := NewVersionDB(nil, Options{})
		Reset(db.Close)

		Convey("Tables live in memory", func() {
			table, err := db.CreateVersionTable(context.Background(), "graph")
			So(err, ShouldBeNil)
			So(table, ShouldHaveSameTypeAs, &MemoryVersionTable{})
			So(table.Partitions(), ShouldEqual, 4)

			deleted, err := db.DeleteTable(context.Background(), "graph")
			So(err, ShouldBeNil)
			So(deleted, ShouldBeTrue)
		})
	})
}
