// Licensed under the MIT License. See LICENSE file in the project root for details.

package mvcc

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"pgregory.net/rapid"
)

func entry(key RecordKey, versionKey int64, txID int64) *VersionEntry {
	return NewVersionEntry(key, versionKey, 0, InfiniteTimestamp, []byte(fmt.Sprintf("v%d", versionKey)), txID, 0)
}

func collect(l *VersionList) []*VersionEntry {
	var out []*VersionEntry
	for e := range l.All() {
		out = append(out, e)
	}
	return out
}

func TestVersionListBasicOperations(t *testing.T) {
	Convey("Given an empty version list", t, func() {
		l := NewVersionList()

		Convey("It holds only the sentinel", func() {
			So(l.IsEmpty(), ShouldBeTrue)
			So(l.Len(), ShouldEqual, 0)
			So(l.Find("A", 0), ShouldBeNil)
		})

		Convey("When pushing three versions", func() {
			for i := int64(0); i < 3; i++ {
				l.PushFront(entry("A", i, 1))
			}

			Convey("Then enumeration is newest first", func() {
				entries := collect(l)
				So(len(entries), ShouldEqual, 3)
				So(entries[0].VersionKey, ShouldEqual, 2)
				So(entries[2].VersionKey, ShouldEqual, 0)
			})

			Convey("And Newest limits the walk", func() {
				newest := l.Newest(2)
				So(len(newest), ShouldEqual, 2)
				So(newest[1].VersionKey, ShouldEqual, 1)
			})

			Convey("And enumeration can be restarted", func() {
				So(len(collect(l)), ShouldEqual, len(collect(l)))
			})

			Convey("When deleting the middle version", func() {
				So(l.DeleteNode("A", 1), ShouldBeTrue)

				Convey("Then the chain is relinked", func() {
					entries := collect(l)
					So(len(entries), ShouldEqual, 2)
					So(entries[0].VersionKey, ShouldEqual, 2)
					So(entries[1].VersionKey, ShouldEqual, 0)
				})
			})

			Convey("When deleting the head version", func() {
				So(l.DeleteNode("A", 2), ShouldBeTrue)
				So(l.Find("A", 2), ShouldBeNil)
				So(l.Len(), ShouldEqual, 2)
			})

			Convey("Deleting an unknown version reports false", func() {
				So(l.DeleteNode("A", 9), ShouldBeFalse)
				So(l.DeleteNode("B", 0), ShouldBeFalse)
				So(l.Len(), ShouldEqual, 3)
			})
		})

		Convey("Deleting the only version leaves the empty chain", func() {
			l.PushFront(entry("A", 0, 1))
			So(l.DeleteNode("A", 0), ShouldBeTrue)
			So(l.IsEmpty(), ShouldBeTrue)
			So(l.Len(), ShouldEqual, 0)
		})
	})
}

func TestVersionListPushFrontIfAbsent(t *testing.T) {
	Convey("Given an empty version list", t, func() {
		l := NewVersionList()

		Convey("The first seed wins and the second is rejected", func() {
			So(l.PushFrontIfAbsent(NewEmptyVersionEntry("A")), ShouldBeTrue)
			So(l.PushFrontIfAbsent(NewEmptyVersionEntry("A")), ShouldBeFalse)
			So(l.Len(), ShouldEqual, 1)
		})

		Convey("A seed is still accepted behind real versions", func() {
			l.PushFront(entry("A", 0, 1))
			So(l.PushFrontIfAbsent(NewEmptyVersionEntry("A")), ShouldBeTrue)
			So(l.PushFrontIfAbsent(entry("A", 0, 2)), ShouldBeFalse)
			So(l.Len(), ShouldEqual, 2)
			So(l.Find("A", 0).TxID, ShouldEqual, 1)
		})

		Convey("A deleted version can be pushed again", func() {
			So(l.PushFrontIfAbsent(entry("A", 3, 1)), ShouldBeTrue)
			So(l.DeleteNode("A", 3), ShouldBeTrue)
			So(l.PushFrontIfAbsent(entry("A", 3, 1)), ShouldBeTrue)
			So(l.Len(), ShouldEqual, 1)
		})

		Convey("Concurrent pushes of one version produce exactly one node", func() {
			l.PushFront(entry("A", 0, 1))
			var wg sync.WaitGroup
			var wins atomic.Int32
			start := make(chan struct{})
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					// Half of the goroutines race on the seed, half on version 1.
					e := NewEmptyVersionEntry("A")
					if i%2 == 1 {
						e = entry("A", 1, int64(i))
					}
					if l.PushFrontIfAbsent(e) {
						wins.Add(1)
					}
				}(i)
			}
			close(start)
			wg.Wait()
			So(wins.Load(), ShouldEqual, 2)
			So(l.Len(), ShouldEqual, 3)
		})
	})
}

func TestVersionListChangeNodeValue(t *testing.T) {
	Convey("Given a list with one open version", t, func() {
		l := NewVersionList()
		original := entry("A", 0, 7)
		l.PushFront(original)

		Convey("A matching expectation swaps the entry", func() {
			closed := original.WithTimestamps(0, 100, 9)
			So(l.ChangeNodeValue("A", 0, original.Clone(), closed), ShouldBeTrue)
			So(l.Find("A", 0), ShouldPointTo, closed)
		})

		Convey("A stale expectation never mutates the node", func() {
			stale := original.WithTimestamps(0, 50, 3)
			So(l.ChangeNodeValue("A", 0, stale, original.WithTimestamps(0, 100, 9)), ShouldBeFalse)
			So(l.Find("A", 0), ShouldPointTo, original)
		})

		Convey("An unknown version reports false", func() {
			So(l.ChangeNodeValue("A", 4, original, original.WithMaxCommitTs(1)), ShouldBeFalse)
		})

		Convey("Racing writers with the same expectation produce one winner", func() {
			const writers = 32
			var wg sync.WaitGroup
			var wins atomic.Int32
			start := make(chan struct{})
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(txID int64) {
					defer wg.Done()
					<-start
					if l.ChangeNodeValue("A", 0, original, original.WithTimestamps(0, 100, txID)) {
						wins.Add(1)
					}
				}(int64(100 + i))
			}
			close(start)
			wg.Wait()
			So(wins.Load(), ShouldEqual, 1)
			So(l.Find("A", 0).EndTimestamp, ShouldEqual, 100)
		})
	})
}

func TestVersionListConcurrentPush(t *testing.T) {
	Convey("Given many concurrent pushers", t, func() {
		l := NewVersionList()
		const pushers = 8
		const perPusher = 500

		var wg sync.WaitGroup
		for p := 0; p < pushers; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for i := 0; i < perPusher; i++ {
					l.PushFront(entry("A", int64(p*perPusher+i), int64(p)))
				}
			}(p)
		}

		Convey("Readers never observe a torn chain", func() {
			done := make(chan struct{})
			var readerErr atomic.Value
			go func() {
				defer close(done)
				for i := 0; i < 100; i++ {
					for e := range l.All() {
						if e == nil || e.Record == nil {
							readerErr.Store(fmt.Sprintf("unexpected entry %v", e))
							return
						}
					}
				}
			}()
			wg.Wait()
			<-done
			So(readerErr.Load(), ShouldBeNil)

			Convey("And every push is present exactly once", func() {
				seen := make(map[int64]bool)
				for e := range l.All() {
					So(seen[e.VersionKey], ShouldBeFalse)
					seen[e.VersionKey] = true
				}
				So(len(seen), ShouldEqual, pushers*perPusher)
				So(l.Len(), ShouldEqual, pushers*perPusher)
			})
		})
	})
}

func TestVersionListDeleteHeadRacingPush(t *testing.T) {
	// Each round deletes the current head while other goroutines push; no
	// pushed entry may be lost.
	for round := 0; round < 200; round++ {
		l := NewVersionList()
		l.PushFront(entry("A", 0, 1))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.DeleteNode("A", 0)
		}()
		go func() {
			defer wg.Done()
			for i := int64(1); i <= 4; i++ {
				l.PushFront(entry("A", i, 2))
			}
		}()
		wg.Wait()

		if got := l.Len(); got != 4 {
			t.Fatalf("round %d: expected 4 surviving versions, got %d", round, got)
		}
		if l.Find("A", 0) != nil {
			t.Fatalf("round %d: deleted version still linked", round)
		}
	}
}

// TestVersionListPushCountProperty checks that any interleaving of pushes and
// deletes of own versions leaves exactly the surviving versions in the chain.
func TestVersionListPushCountProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := NewVersionList()
		live := make(map[int64]bool)
		var next int64

		ops := rapid.SliceOf(rapid.Bool()).Draw(t, "ops")
		for _, push := range ops {
			if push || len(live) == 0 {
				l.PushFront(entry("K", next, 1))
				live[next] = true
				next++
				continue
			}
			victims := make([]int64, 0, len(live))
			for vk := range live {
				victims = append(victims, vk)
			}
			slices.Sort(victims)
			vk := rapid.SampledFrom(victims).Draw(t, "victim")
			if !l.DeleteNode("K", vk) {
				t.Fatalf("failed to delete live version %d", vk)
			}
			delete(live, vk)
		}

		if l.Len() != len(live) {
			t.Fatalf("expected %d versions, got %d", len(live), l.Len())
		}
		var prev int64 = -1
		for e := range l.All() {
			if !live[e.VersionKey] {
				t.Fatalf("unexpected version %d", e.VersionKey)
			}
			if prev >= 0 && e.VersionKey > prev {
				t.Fatalf("chain out of push order: %d after %d", e.VersionKey, prev)
			}
			prev = e.VersionKey
		}
	})
}

func BenchmarkVersionListPushFront(b *testing.B) {
	l := NewVersionList()
	e := entry("A", 0, 1)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.PushFront(e)
		}
	})
}
