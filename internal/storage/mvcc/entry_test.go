// Licensed under the MIT License. See LICENSE file in the project root for details.

package mvcc

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestVersionEntryContentEqual(t *testing.T) {
	Convey("Given a version entry", t, func() {
		e := NewVersionEntry("A", 0, 0, InfiniteTimestamp, []byte("payload"), 7, 0)

		Convey("It equals its clone", func() {
			So(e.ContentEqual(e.Clone()), ShouldBeTrue)
		})

		Convey("It differs when any field differs", func() {
			So(e.ContentEqual(e.WithTimestamps(0, 100, 7)), ShouldBeFalse)
			So(e.ContentEqual(e.WithTimestamps(1, InfiniteTimestamp, 7)), ShouldBeFalse)
			So(e.ContentEqual(e.WithTimestamps(0, InfiniteTimestamp, 8)), ShouldBeFalse)
			So(e.ContentEqual(e.WithMaxCommitTs(3)), ShouldBeFalse)

			other := e.Clone()
			other.Record = []byte("other")
			So(e.ContentEqual(other), ShouldBeFalse)

			other = e.Clone()
			other.VersionKey = 1
			So(e.ContentEqual(other), ShouldBeFalse)

			other = e.Clone()
			other.RecordKey = "B"
			So(e.ContentEqual(other), ShouldBeFalse)
		})

		Convey("Nil and empty payloads are distinguished", func() {
			empty := NewEmptyVersionEntry("A")
			absent := empty.Clone()
			absent.Record = nil
			So(empty.ContentEqual(absent), ShouldBeFalse)
			So(empty.HasRecord(), ShouldBeTrue)
			So(absent.HasRecord(), ShouldBeFalse)
		})

		Convey("Nil entries only equal nil", func() {
			var none *VersionEntry
			So(none.ContentEqual(nil), ShouldBeTrue)
			So(none.ContentEqual(e), ShouldBeFalse)
			So(e.ContentEqual(nil), ShouldBeFalse)
		})
	})
}

func TestVersionEntryCopiesPayload(t *testing.T) {
	payload := []byte("abc")
	e := NewVersionEntry("A", 0, 0, InfiniteTimestamp, payload, 1, 0)
	payload[0] = 'x'
	if string(e.Record) != "abc" {
		t.Errorf("Expected payload to be copied, got %q", e.Record)
	}

	dup := e.Clone()
	dup.Record[0] = 'y'
	if string(e.Record) != "abc" {
		t.Errorf("Expected clone to own its payload, got %q", e.Record)
	}
}

func TestEmptyVersionEntry(t *testing.T) {
	e := NewEmptyVersionEntry("K")
	if e.VersionKey != EmptyVersionKey || e.BeginTimestamp != DefaultBeginTs ||
		e.EndTimestamp != DefaultEndTs || e.TxID != EmptyTxID || e.MaxCommitTs != DefaultMaxCommitTs {
		t.Errorf("Unexpected seed entry %v", e)
	}
	if e.PrimaryKey() != (VersionPrimaryKey{RecordKey: "K", VersionKey: -1}) {
		t.Errorf("Unexpected primary key %v", e.PrimaryKey())
	}
}

func TestVersionEntryString(t *testing.T) {
	e := NewVersionEntry("A", 2, 5, InfiniteTimestamp, []byte("xy"), 9, 4)
	if got, want := e.String(), "A@2[5,inf) tx=9 maxCommit=4 record=2B"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
