package verify_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/stridewell/growthloop/internal/domain/fraud"
	"github.com/stridewell/growthloop/internal/domain/model"
	"github.com/stridewell/growthloop/internal/domain/ratelimit"
	"github.com/stridewell/growthloop/internal/domain/verify"
)

func newVerifier(opts ...verify.Option) *verify.EngagementVerifier {
	pipeline := fraud.NewPipeline(fraud.NewTracker())
	limits := ratelimit.NewRegistry()
	return verify.New(pipeline, limits, opts...)
}

func rawEvent(metric model.Metric, level model.VerificationLevel) model.RawEngagementEvent {
	return model.RawEngagementEvent{
		EventID:    "evt-1",
		VariantID:  "variant-1",
		OwnerID:    "owner-1",
		Platform:   "mastodon",
		Metric:     metric,
		Amount:     1,
		Level:      level,
		ActorID:    "actor-1",
		UserAgent:  "Mozilla/5.0",
		OccurredAt: time.Now(),
	}
}

func TestVerifyWeights(t *testing.T) {
	Convey("Given a verifier with default thresholds", t, func() {
		ctx := context.Background()
		v := newVerifier()

		cases := []struct {
			level  model.VerificationLevel
			weight float64
		}{
			{model.LevelPlatformAPI, 1.0},
			{model.LevelSignedWebhook, 1.0},
			{model.LevelInferred, 0.5},
			{model.LevelSelfClaimed, 0.3},
			{model.LevelSuspicious, 0.0},
		}

		for _, tc := range cases {
			tc := tc
			Convey(fmt.Sprintf("When verifying a clean %s event", tc.level), func() {
				out, err := v.Verify(ctx, rawEvent(model.MetricShare, tc.level))

				Convey("Then the level weight applies untouched", func() {
					So(err, ShouldBeNil)
					So(out.Decision, ShouldEqual, model.DecisionAccepted)
					So(out.Weight, ShouldAlmostEqual, tc.weight, 1e-9)
					So(out.FraudScore, ShouldEqual, 0)
				})
			})
		}
	})
}

func TestVerifyDecisionBands(t *testing.T) {
	Convey("Given a verifier over a pipeline that flags automation", t, func() {
		ctx := context.Background()

		Convey("When the fraud score lands in the gray band", func() {
			// address velocity alone contributes 0.4, inside [0.3, 0.7)
			pipeline := fraud.NewPipeline(fraud.NewTracker(), fraud.WithSignupCeiling(2, 24*time.Hour))
			v := verify.New(pipeline, ratelimit.NewRegistry())
			for i := 0; i < 2; i++ {
				ev := rawEvent(model.MetricSignup, model.LevelSignedWebhook)
				ev.RemoteAddr = "10.0.0.7"
				ev.ActorID = fmt.Sprintf("seed-%d", i)
				_, err := v.Verify(ctx, ev)
				So(err, ShouldBeNil)
			}

			ev := rawEvent(model.MetricSignup, model.LevelSignedWebhook)
			ev.RemoteAddr = "10.0.0.7"
			out, err := v.Verify(ctx, ev)

			Convey("Then the event is down-weighted proportionally", func() {
				So(err, ShouldBeNil)
				So(out.Decision, ShouldEqual, model.DecisionDownWeighted)
				So(out.FraudScore, ShouldAlmostEqual, 0.4, 1e-9)
				So(out.Weight, ShouldAlmostEqual, 1.0*(1-0.4), 1e-9)
				So(out.Reasons, ShouldNotBeEmpty)
			})
		})

		Convey("When the fraud score crosses the reject threshold", func() {
			v := newVerifier()
			ev := rawEvent(model.MetricShare, model.LevelPlatformAPI)
			ev.UserAgent = "python-requests/2.31"

			out, err := v.Verify(ctx, ev)

			Convey("Then the event is rejected with zero weight", func() {
				So(err, ShouldBeNil)
				So(out.Decision, ShouldEqual, model.DecisionRejected)
				So(out.Level, ShouldEqual, model.LevelSuspicious)
				So(out.Weight, ShouldEqual, 0)
				So(out.FraudScore, ShouldAlmostEqual, 0.8, 1e-9)
			})
		})

		Convey("When custom thresholds move the gray band", func() {
			v := newVerifier(verify.WithThresholds(0.1, 0.9))
			ev := rawEvent(model.MetricShare, model.LevelPlatformAPI)
			ev.UserAgent = "python-requests/2.31"

			out, err := v.Verify(ctx, ev)

			Convey("Then a 0.8 score is down-weighted instead of rejected", func() {
				So(err, ShouldBeNil)
				So(out.Decision, ShouldEqual, model.DecisionDownWeighted)
				So(out.Weight, ShouldAlmostEqual, 1.0*(1-0.8), 1e-9)
			})
		})
	})
}

func TestVerifyRateLimit(t *testing.T) {
	Convey("Given a verifier with a two-per-hour share ceiling", t, func() {
		ctx := context.Background()
		pipeline := fraud.NewPipeline(fraud.NewTracker())
		limits := ratelimit.NewRegistry(ratelimit.WithLimit(model.MetricShare, ratelimit.PerHour(2)))
		v := verify.New(pipeline, limits)

		Convey("When the ceiling is exhausted for one variant", func() {
			for i := 0; i < 2; i++ {
				out, err := v.Verify(ctx, rawEvent(model.MetricShare, model.LevelSignedWebhook))
				So(err, ShouldBeNil)
				So(out.Decision, ShouldEqual, model.DecisionAccepted)
			}

			out, err := v.Verify(ctx, rawEvent(model.MetricShare, model.LevelSignedWebhook))

			Convey("Then the next event is hard-rejected as suspicious", func() {
				So(err, ShouldBeNil)
				So(out.Decision, ShouldEqual, model.DecisionRejected)
				So(out.Level, ShouldEqual, model.LevelSuspicious)
				So(out.Weight, ShouldEqual, 0)
				So(out.Reasons, ShouldNotBeEmpty)
			})

			Convey("And other variants keep their own bucket", func() {
				ev := rawEvent(model.MetricShare, model.LevelSignedWebhook)
				ev.VariantID = "variant-2"
				other, err := v.Verify(ctx, ev)
				So(err, ShouldBeNil)
				So(other.Decision, ShouldEqual, model.DecisionAccepted)
			})
		})
	})
}

func TestVerifyUnknownMetric(t *testing.T) {
	Convey("Given a verifier", t, func() {
		v := newVerifier()

		Convey("When the metric is not recognized", func() {
			ev := rawEvent("retweet", model.LevelSignedWebhook)
			_, err := v.Verify(context.Background(), ev)

			Convey("Then verification fails with ErrUnknownMetric", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, verify.ErrUnknownMetric), ShouldBeTrue)
			})
		})
	})
}

func TestVerifySuccessMetrics(t *testing.T) {
	Convey("Given the default success metric set", t, func() {
		ctx := context.Background()
		v := newVerifier()

		Convey("Then shares, clicks and signups count as successes", func() {
			for _, m := range []model.Metric{model.MetricShare, model.MetricClick, model.MetricSignup} {
				out, err := v.Verify(ctx, rawEvent(m, model.LevelSignedWebhook))
				So(err, ShouldBeNil)
				So(out.Success, ShouldBeTrue)
			}
		})

		Convey("And plain views do not", func() {
			out, err := v.Verify(ctx, rawEvent(model.MetricView, model.LevelSignedWebhook))
			So(err, ShouldBeNil)
			So(out.Success, ShouldBeFalse)
		})
	})
}
