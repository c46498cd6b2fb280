// Licensed under the MIT License. See LICENSE file in the project root for details.

package log

import (
	"context"
	"testing"

	"github.com/cockroachdb/logtags"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogTagsBecomeFields(t *testing.T) {
	Convey("Given an observed logger", t, func() {
		core, logs := observer.New(zapcore.DebugLevel)
		prev := SetLogger(zap.New(core))
		defer SetLogger(prev)

		ctx := logtags.AddTag(context.Background(), "table", "vertices")
		ctx = logtags.AddTag(ctx, "partition", 2)

		Convey("Infof carries the context tags", func() {
			Infof(ctx, "hello %d", 7)
			So(logs.Len(), ShouldEqual, 1)
			entry := logs.All()[0]
			So(entry.Message, ShouldEqual, "hello 7")
			So(entry.Level, ShouldEqual, zapcore.InfoLevel)
			So(entry.ContextMap()["table"], ShouldEqual, "vertices")
			So(entry.ContextMap()["partition"], ShouldEqual, int64(2))
		})

		Convey("VEventf respects verbosity", func() {
			SetVerbosity(0)
			VEventf(ctx, 2, "quiet")
			So(logs.Len(), ShouldEqual, 0)

			SetVerbosity(2)
			defer SetVerbosity(0)
			VEventf(ctx, 2, "loud")
			So(logs.Len(), ShouldEqual, 1)
			So(logs.All()[0].Level, ShouldEqual, zapcore.DebugLevel)
		})

		Convey("Untagged contexts log without fields", func() {
			Warningf(context.Background(), "plain")
			Errorf(context.Background(), "bad")
			So(logs.Len(), ShouldEqual, 2)
			So(len(logs.All()[0].Context), ShouldEqual, 0)
		})
	})
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "chatty"}); err == nil {
		t.Error("Expected an error for an unknown level")
	}
	l, err := New(Config{Level: "debug", Development: true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	_ = l.Sync()
}
