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

func TestMemVariantStore(t *testing.T) {
	Convey("Given an empty variant store", t, func() {
		ctx := context.Background()
		store := repository.NewMemVariantStore()

		Convey("When creating and reading a variant", func() {
			v := model.Variant{ID: "v1", Category: "profile_composite", Active: true, CreatedAt: time.Now()}
			So(store.Create(ctx, v), ShouldBeNil)

			got, err := store.Get(ctx, "v1")
			So(err, ShouldBeNil)
			So(got.Category, ShouldEqual, "profile_composite")
			So(store.Count(ctx), ShouldEqual, 1)

			Convey("Then a duplicate id is refused", func() {
				So(errors.Is(store.Create(ctx, v), repository.ErrAlreadyExists), ShouldBeTrue)
			})
		})

		Convey("When listing with the active filter", func() {
			base := time.Now()
			So(store.Create(ctx, model.Variant{ID: "old", Active: true, CreatedAt: base.Add(-time.Hour)}), ShouldBeNil)
			So(store.Create(ctx, model.Variant{ID: "new", Active: true, CreatedAt: base}), ShouldBeNil)
			So(store.Create(ctx, model.Variant{ID: "off", Active: false, CreatedAt: base.Add(-2 * time.Hour)}), ShouldBeNil)

			active, err := store.List(ctx, true)
			So(err, ShouldBeNil)

			Convey("Then inactive variants are skipped and order is oldest-first", func() {
				So(active, ShouldHaveLength, 2)
				So(active[0].ID, ShouldEqual, "old")
				So(active[1].ID, ShouldEqual, "new")
			})

			Convey("And the unfiltered list includes everything", func() {
				all, err := store.List(ctx, false)
				So(err, ShouldBeNil)
				So(all, ShouldHaveLength, 3)
			})
		})

		Convey("When deactivating a variant", func() {
			So(store.Create(ctx, model.Variant{ID: "v1", Active: true}), ShouldBeNil)
			So(store.Deactivate(ctx, "v1"), ShouldBeNil)

			Convey("Then it stays readable but drops out of active lists", func() {
				got, err := store.Get(ctx, "v1")
				So(err, ShouldBeNil)
				So(got.Active, ShouldBeFalse)

				active, err := store.List(ctx, true)
				So(err, ShouldBeNil)
				So(active, ShouldBeEmpty)
			})

			Convey("And deactivating a missing variant fails", func() {
				So(errors.Is(store.Deactivate(ctx, "ghost"), repository.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestMemInstanceStore(t *testing.T) {
	Convey("Given an instance store with one indexed instance", t, func() {
		ctx := context.Background()
		store := repository.NewMemInstanceStore()
		created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		ci := model.ContentInstance{
			ID:              "inst-1",
			OwnerID:         "owner-1",
			VariantID:       "v1",
			Platform:        "mastodon",
			ExternalID:      "post-42",
			PlatformAccount: "@owner",
			ReferralCode:    "abc123",
			CreatedAt:       created,
		}
		So(store.Create(ctx, ci), ShouldBeNil)

		Convey("When resolving by external id", func() {
			got, err := store.FindByExternalID(ctx, "mastodon", "post-42")
			So(err, ShouldBeNil)
			So(got.ID, ShouldEqual, "inst-1")

			Convey("And the platform must match", func() {
				_, err := store.FindByExternalID(ctx, "bluesky", "post-42")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When resolving by referral code", func() {
			got, err := store.FindByReferralCode(ctx, "abc123")
			So(err, ShouldBeNil)
			So(got.ID, ShouldEqual, "inst-1")
		})

		Convey("When resolving the nearest instance for an account", func() {
			later := model.ContentInstance{
				ID:              "inst-2",
				OwnerID:         "owner-1",
				VariantID:       "v1",
				Platform:        "mastodon",
				PlatformAccount: "@owner",
				CreatedAt:       created.Add(10 * time.Minute),
			}
			So(store.Create(ctx, later), ShouldBeNil)

			got, err := store.FindNearest(ctx, "mastodon", "@owner", created.Add(9*time.Minute), 2*time.Minute)
			So(err, ShouldBeNil)
			So(got.ID, ShouldEqual, "inst-2")

			Convey("And nothing matches outside the tolerance", func() {
				_, err := store.FindNearest(ctx, "mastodon", "@owner", created.Add(time.Hour), 2*time.Minute)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When the external id is learned after creation", func() {
			So(store.Create(ctx, model.ContentInstance{ID: "inst-3", OwnerID: "owner-1", VariantID: "v1"}), ShouldBeNil)
			So(store.SetExternalID(ctx, "inst-3", "bluesky", "post-7", "@owner.bsky"), ShouldBeNil)

			got, err := store.FindByExternalID(ctx, "bluesky", "post-7")
			So(err, ShouldBeNil)
			So(got.ID, ShouldEqual, "inst-3")
			So(got.PlatformAccount, ShouldEqual, "@owner.bsky")
		})

		Convey("When folding counters", func() {
			So(store.AddRaw(ctx, "inst-1", model.MetricShare, 1), ShouldBeNil)
			So(store.AddRaw(ctx, "inst-1", model.MetricShare, 2), ShouldBeNil)
			So(store.ApplyVerified(ctx, "inst-1", model.MetricShare, 0.6), ShouldBeNil)

			got, err := store.Get(ctx, "inst-1")
			So(err, ShouldBeNil)

			Convey("Then raw and weighted counters stay separate", func() {
				So(got.Raw[model.MetricShare], ShouldEqual, 3)
				So(got.Weighted[model.MetricShare], ShouldAlmostEqual, 0.6, 1e-9)
			})

			Convey("And a negative raw delta is refused", func() {
				So(store.AddRaw(ctx, "inst-1", model.MetricShare, -1), ShouldNotBeNil)
			})

			Convey("And the returned snapshot is a copy", func() {
				got.Raw[model.MetricShare] = 999
				again, err := store.Get(ctx, "inst-1")
				So(err, ShouldBeNil)
				So(again.Raw[model.MetricShare], ShouldEqual, 3)
			})
		})
	})
}

func TestMemUnattributedStore(t *testing.T) {
	Convey("Given a store bounded to three events", t, func() {
		ctx := context.Background()
		store := repository.NewMemUnattributedStore(3)

		Convey("When more events arrive than the bound allows", func() {
			for i := 0; i < 5; i++ {
				store.Add(ctx, model.RawEngagementEvent{EventID: fmt.Sprintf("evt-%d", i)})
			}

			Convey("Then the oldest events are dropped", func() {
				So(store.Len(ctx), ShouldEqual, 3)
				drained := store.Drain(ctx, 10)
				So(drained, ShouldHaveLength, 3)
				So(drained[0].EventID, ShouldEqual, "evt-2")
				So(store.Len(ctx), ShouldEqual, 0)
			})
		})

		Convey("When draining a partial batch", func() {
			for i := 0; i < 3; i++ {
				store.Add(ctx, model.RawEngagementEvent{EventID: fmt.Sprintf("evt-%d", i)})
			}

			drained := store.Drain(ctx, 2)

			Convey("Then the remainder stays queued in order", func() {
				So(drained, ShouldHaveLength, 2)
				So(drained[0].EventID, ShouldEqual, "evt-0")
				So(store.Len(ctx), ShouldEqual, 1)
			})
		})
	})
}
