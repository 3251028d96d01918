package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/stridewell/growthloop/internal/adapters/repository"
	"github.com/stridewell/growthloop/internal/domain/model"
)

func openLog(t *testing.T) *repository.BadgerAuditLog {
	t.Helper()
	log, err := repository.OpenAuditLog("", repository.WithInMemory())
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestAuditLogAppendReplay(t *testing.T) {
	Convey("Given an empty audit log", t, func() {
		ctx := context.Background()
		log := openLog(t)

		Convey("When appending entries", func() {
			for i := 0; i < 5; i++ {
				e := model.AuditEntry{
					ContentInstanceID: fmt.Sprintf("inst-%d", i),
					VariantID:         "v1",
					Metric:            model.MetricShare,
					Amount:            1,
					Weight:            1,
					Decision:          model.DecisionAccepted,
					EventAt:           time.Now(),
				}
				So(log.Append(ctx, &e), ShouldBeNil)
				So(e.Seq, ShouldEqual, uint64(i+1))
				So(e.ID, ShouldNotBeEmpty)
				So(e.RecordedAt.IsZero(), ShouldBeFalse)
			}

			n, err := log.Len(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, uint64(5))

			Convey("And replay yields them in append order", func() {
				var seen []string
				err := log.Replay(ctx, func(entry model.AuditEntry) error {
					seen = append(seen, entry.ContentInstanceID)
					return nil
				})
				So(err, ShouldBeNil)
				So(seen, ShouldResemble, []string{"inst-0", "inst-1", "inst-2", "inst-3", "inst-4"})
			})

			Convey("And a replay callback error stops the stream", func() {
				boom := errors.New("boom")
				count := 0
				err := log.Replay(ctx, func(model.AuditEntry) error {
					count++
					if count == 2 {
						return boom
					}
					return nil
				})
				So(errors.Is(err, boom), ShouldBeTrue)
				So(count, ShouldEqual, 2)
			})
		})
	})
}

func TestAuditLogClosed(t *testing.T) {
	Convey("Given a closed audit log", t, func() {
		ctx := context.Background()
		log := openLog(t)
		So(log.Close(), ShouldBeNil)

		Convey("Then every operation reports the closed state", func() {
			e := model.AuditEntry{VariantID: "v1"}
			So(errors.Is(log.Append(ctx, &e), repository.ErrLogClosed), ShouldBeTrue)
			So(errors.Is(log.Replay(ctx, func(model.AuditEntry) error { return nil }), repository.ErrLogClosed), ShouldBeTrue)
			_, err := log.Len(ctx)
			So(errors.Is(err, repository.ErrLogClosed), ShouldBeTrue)
		})

		Convey("And closing twice is harmless", func() {
			So(log.Close(), ShouldBeNil)
		})
	})
}

func TestAuditLogSequenceRestore(t *testing.T) {
	Convey("Given a log persisted on disk", t, func() {
		ctx := context.Background()
		dir := t.TempDir()

		log, err := repository.OpenAuditLog(dir)
		So(err, ShouldBeNil)
		for i := 0; i < 3; i++ {
			e := model.AuditEntry{VariantID: "v1", Metric: model.MetricView, Amount: 1}
			So(log.Append(ctx, &e), ShouldBeNil)
		}
		So(log.Close(), ShouldBeNil)

		Convey("When reopening it", func() {
			reopened, err := repository.OpenAuditLog(dir)
			So(err, ShouldBeNil)
			defer func() { _ = reopened.Close() }()

			Convey("Then the sequence continues where it left off", func() {
				n, err := reopened.Len(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, uint64(3))

				e := model.AuditEntry{VariantID: "v1", Metric: model.MetricView, Amount: 1}
				So(reopened.Append(ctx, &e), ShouldBeNil)
				So(e.Seq, ShouldEqual, uint64(4))
			})
		})
	})
}
