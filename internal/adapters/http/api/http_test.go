package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/stridewell/growthloop/internal/adapters/http/api"
	"github.com/stridewell/growthloop/internal/adapters/repository"
	"github.com/stridewell/growthloop/internal/domain/bandit"
	"github.com/stridewell/growthloop/internal/domain/dedupe"
	"github.com/stridewell/growthloop/internal/domain/model"
	"github.com/stridewell/growthloop/internal/domain/referral"
)

const (
	testSecret = "webhook-secret"
	testToken  = "self-report-token"
)

// mockDeps is a canned-response Dependencies implementation for handler
// tests. Dedup state is real so exactly-once behavior can be exercised.
type mockDeps struct {
	dedupe.Deduper

	mu           sync.Mutex
	enqueued     []model.RawEngagementEvent
	enqueueOK    bool
	attributeErr error

	suggestVariant model.Variant
	suggestErr     error

	variants map[string]model.Variant

	issueLinkFn      func(referrerID, contentInstanceID, platform string) (referral.Link, error)
	createReferralFn func(code, signature string, signup referral.Signup) (model.Referral, error)
	balanceCents     int64
}

func newMockDeps() *mockDeps {
	return &mockDeps{
		Deduper:   dedupe.NewInMemoryDeduper(),
		enqueueOK: true,
		variants:  make(map[string]model.Variant),
	}
}

func (m *mockDeps) Enqueue(_ context.Context, e model.RawEngagementEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enqueueOK {
		return false
	}
	m.enqueued = append(m.enqueued, e)
	return true
}

func (m *mockDeps) lastEnqueued() (model.RawEngagementEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.enqueued) == 0 {
		return model.RawEngagementEvent{}, false
	}
	return m.enqueued[len(m.enqueued)-1], true
}

func (m *mockDeps) Attribute(_ context.Context, ev *model.RawEngagementEvent) error {
	if m.attributeErr != nil {
		return m.attributeErr
	}
	ev.ContentInstanceID = "inst-1"
	ev.VariantID = "variant-1"
	ev.OwnerID = "owner-1"
	return nil
}

func (m *mockDeps) Suggest(_ context.Context, key bandit.ContextKey) (model.Variant, float64, error) {
	if err := key.Validate(); err != nil {
		return model.Variant{}, 0, err
	}
	if m.suggestErr != nil {
		return model.Variant{}, 0, m.suggestErr
	}
	return m.suggestVariant, 0.42, nil
}

func (m *mockDeps) CreateVariant(_ context.Context, v model.Variant) (model.Variant, error) {
	v.ID = fmt.Sprintf("variant-%d", len(m.variants)+1)
	v.CreatedAt = time.Now()
	m.variants[v.ID] = v
	return v, nil
}

func (m *mockDeps) ListVariants(_ context.Context, activeOnly bool) ([]model.Variant, error) {
	out := make([]model.Variant, 0, len(m.variants))
	for _, v := range m.variants {
		if activeOnly && !v.Active {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *mockDeps) DeactivateVariant(_ context.Context, id string) error {
	v, ok := m.variants[id]
	if !ok {
		return fmt.Errorf("variant %s: %w", id, repository.ErrNotFound)
	}
	v.Active = false
	m.variants[id] = v
	return nil
}

func (m *mockDeps) VariantStats(_ context.Context, variantID string) (model.VariantStats, error) {
	if _, ok := m.variants[variantID]; !ok {
		return model.VariantStats{}, fmt.Errorf("variant %s: %w", variantID, repository.ErrNotFound)
	}
	return model.VariantStats{VariantID: variantID, Attempts: 12, Score: 0.75}, nil
}

func (m *mockDeps) CreateInstance(_ context.Context, inst model.ContentInstance) (model.ContentInstance, error) {
	inst.ID = "inst-1"
	inst.CreatedAt = time.Now()
	return inst, nil
}

func (m *mockDeps) IssueLink(_ context.Context, referrerID, contentInstanceID, platform string) (referral.Link, error) {
	if m.issueLinkFn != nil {
		return m.issueLinkFn(referrerID, contentInstanceID, platform)
	}
	if referrerID == "" || contentInstanceID == "" {
		return referral.Link{}, referral.ErrInvalidLink
	}
	return referral.Link{URL: "https://growthloop.app/r/abc?sig=s", Code: "abc", Signature: "s"}, nil
}

func (m *mockDeps) CreateReferral(_ context.Context, code, signature string, signup referral.Signup) (model.Referral, error) {
	if m.createReferralFn != nil {
		return m.createReferralFn(code, signature, signup)
	}
	return model.Referral{ID: "ref-1", RefereeID: signup.RefereeID, State: model.ReferralPending}, nil
}

func (m *mockDeps) ConfirmEmail(_ context.Context, refereeID string) (model.Referral, error) {
	return model.Referral{ID: "ref-1", RefereeID: refereeID, State: model.ReferralEmailVerified}, nil
}

func (m *mockDeps) ConfirmPayment(_ context.Context, refereeID string, amountCents int64) (model.Referral, error) {
	if amountCents <= 0 {
		return model.Referral{}, referral.ErrInvalidAmount
	}
	return model.Referral{ID: "ref-1", RefereeID: refereeID, State: model.ReferralEarned, RewardCents: 500}, nil
}

func (m *mockDeps) Redeem(_ context.Context, _ string) (int64, error) {
	if m.balanceCents == 0 {
		return 0, referral.ErrNothingToRedeem
	}
	return m.balanceCents, nil
}

func (m *mockDeps) Balance(_ context.Context, _ string) (int64, error) {
	return m.balanceCents, nil
}

type mockStats struct{}

func (mockStats) GetStats() map[string]interface{} {
	return map[string]interface{}{"queue": map[string]interface{}{"size": 0}}
}

func newTestServer(deps *mockDeps) *httptest.Server {
	srv := api.NewServer(deps, mockStats{},
		api.WithPlatformSecrets(map[string]string{"mastodon": testSecret}),
		api.WithAuthToken(testToken),
		api.WithReplayWindow(300),
	)
	mux := http.NewServeMux()
	srv.Register(context.Background(), mux)
	return httptest.NewServer(mux)
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func webhookBody(eventID string) []byte {
	body, _ := json.Marshal(map[string]any{
		"event_id":    eventID,
		"external_id": "post-42",
		"metric":      "share",
		"amount":      1,
		"actor_id":    "actor-1",
		"occurred_at": time.Now().UTC().Format(time.RFC3339),
	})
	return body
}

func postWebhook(ts *httptest.Server, platform string, body []byte, signature, timestamp string) (*http.Response, map[string]any) {
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/webhooks/"+platform, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Growth-Signature", signature)
	}
	if timestamp != "" {
		req.Header.Set("X-Growth-Timestamp", timestamp)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func nowUnix() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}

func TestWebhookGateway(t *testing.T) {
	Convey("Given a gateway with one configured platform", t, func() {
		deps := newMockDeps()
		ts := newTestServer(deps)
		defer ts.Close()

		Convey("When a correctly signed delivery arrives", func() {
			body := webhookBody("evt-1")
			resp, ack := postWebhook(ts, "mastodon", body, signBody(testSecret, body), nowUnix())

			Convey("Then it is accepted and enqueued", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
				So(ack["status"], ShouldEqual, "accepted")

				ev, ok := deps.lastEnqueued()
				So(ok, ShouldBeTrue)
				So(ev.Platform, ShouldEqual, "mastodon")
				So(ev.Level, ShouldEqual, model.LevelSignedWebhook)
				So(ev.ContentInstanceID, ShouldEqual, "inst-1")
			})

			Convey("And an identical redelivery collapses to a duplicate", func() {
				resp, ack := postWebhook(ts, "mastodon", body, signBody(testSecret, body), nowUnix())
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(ack["status"], ShouldEqual, "duplicate")
				So(ack["duplicate"], ShouldEqual, true)
			})

			Convey("And a sha256-prefixed signature is accepted too", func() {
				body2 := webhookBody("evt-2")
				resp, _ := postWebhook(ts, "mastodon", body2, "sha256="+signBody(testSecret, body2), nowUnix())
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
			})
		})

		Convey("When the signature does not match the body", func() {
			body := webhookBody("evt-1")
			resp, _ := postWebhook(ts, "mastodon", body, signBody("wrong-secret", body), nowUnix())

			Convey("Then the delivery is refused", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusUnauthorized)
				_, enqueued := deps.lastEnqueued()
				So(enqueued, ShouldBeFalse)
			})
		})

		Convey("When the timestamp is outside the replay window", func() {
			body := webhookBody("evt-1")
			old := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
			resp, _ := postWebhook(ts, "mastodon", body, signBody(testSecret, body), old)

			Convey("Then the delivery is refused even with a valid signature", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})

			Convey("But a delivery two minutes old is still inside the window", func() {
				recent := strconv.FormatInt(time.Now().Add(-2*time.Minute).Unix(), 10)
				resp, _ := postWebhook(ts, "mastodon", body, signBody(testSecret, body), recent)
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
			})
		})

		Convey("When the platform has no configured secret", func() {
			body := webhookBody("evt-1")
			resp, _ := postWebhook(ts, "unknown", body, signBody(testSecret, body), nowUnix())

			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})

		Convey("When no content instance matches", func() {
			deps.attributeErr = fmt.Errorf("resolve: %w", repository.ErrUnattributed)
			body := webhookBody("evt-1")
			resp, ack := postWebhook(ts, "mastodon", body, signBody(testSecret, body), nowUnix())

			Convey("Then the event is acknowledged but parked", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
				So(ack["status"], ShouldEqual, "unattributed")
				_, enqueued := deps.lastEnqueued()
				So(enqueued, ShouldBeFalse)
			})
		})

		Convey("When the queue pushes back", func() {
			deps.enqueueOK = false
			body := webhookBody("evt-1")
			resp, _ := postWebhook(ts, "mastodon", body, signBody(testSecret, body), nowUnix())

			Convey("Then the delivery is refused with backpressure", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusTooManyRequests)
			})

			Convey("And the dedup slot is released for the retry", func() {
				deps.enqueueOK = true
				resp, ack := postWebhook(ts, "mastodon", body, signBody(testSecret, body), nowUnix())
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
				So(ack["status"], ShouldEqual, "accepted")
			})
		})

		Convey("When the payload carries no delivery id", func() {
			body, _ := json.Marshal(map[string]any{
				"external_id": "post-42",
				"metric":      "share",
				"occurred_at": time.Now().UTC().Format(time.RFC3339),
			})
			first, ack1 := postWebhook(ts, "mastodon", body, signBody(testSecret, body), nowUnix())
			second, ack2 := postWebhook(ts, "mastodon", body, signBody(testSecret, body), nowUnix())

			Convey("Then byte-identical redeliveries still dedupe on the body digest", func() {
				So(first.StatusCode, ShouldEqual, http.StatusAccepted)
				So(ack1["status"], ShouldEqual, "accepted")
				So(second.StatusCode, ShouldEqual, http.StatusOK)
				So(ack2["status"], ShouldEqual, "duplicate")
			})
		})
	})
}

func TestSelfReportEndpoint(t *testing.T) {
	Convey("Given the self-report endpoint", t, func() {
		deps := newMockDeps()
		ts := newTestServer(deps)
		defer ts.Close()

		payload := func(eventID string) []byte {
			body, _ := json.Marshal(map[string]any{
				"event_id":            eventID,
				"content_instance_id": "inst-1",
				"metric":              "share",
				"occurred_at":         time.Now().UTC().Format(time.RFC3339),
			})
			return body
		}
		post := func(body []byte, token string) *http.Response {
			req, _ := http.NewRequest(http.MethodPost, ts.URL+"/events/self-report", bytes.NewReader(body))
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			resp, _ := http.DefaultClient.Do(req)
			resp.Body.Close()
			return resp
		}

		Convey("When the bearer token is valid", func() {
			resp := post(payload("evt-1"), testToken)

			Convey("Then the claim is accepted at the self-claimed tier", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
				ev, ok := deps.lastEnqueued()
				So(ok, ShouldBeTrue)
				So(ev.Level, ShouldEqual, model.LevelSelfClaimed)
				So(ev.Source, ShouldEqual, model.SourceSelfReport)
			})
		})

		Convey("When the token is missing or wrong", func() {
			So(post(payload("evt-1"), "").StatusCode, ShouldEqual, http.StatusUnauthorized)
			So(post(payload("evt-1"), "bogus").StatusCode, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("When the claimed instance does not exist yet", func() {
			deps.attributeErr = fmt.Errorf("resolve: %w", repository.ErrUnattributed)
			resp := post(payload("evt-1"), testToken)

			Convey("Then the claim is parked, not enqueued", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
				_, enqueued := deps.lastEnqueued()
				So(enqueued, ShouldBeFalse)
			})

			Convey("And a retry of the same event id stays a duplicate", func() {
				deps.attributeErr = nil
				retry := post(payload("evt-1"), testToken)
				So(retry.StatusCode, ShouldEqual, http.StatusOK)
				_, enqueued := deps.lastEnqueued()
				So(enqueued, ShouldBeFalse)
			})
		})
	})
}

func TestSuggestEndpoint(t *testing.T) {
	Convey("Given the suggest endpoint", t, func() {
		deps := newMockDeps()
		deps.suggestVariant = model.Variant{ID: "variant-1", Category: "profile_composite", Active: true}
		ts := newTestServer(deps)
		defer ts.Close()

		Convey("When requesting a suggestion", func() {
			resp, err := http.Get(ts.URL + "/suggest?tier=premium&platform=mastodon")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then the winning variant and confidence come back", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				var decoded struct {
					Variant    model.Variant `json:"variant"`
					Confidence float64       `json:"confidence"`
				}
				So(json.NewDecoder(resp.Body).Decode(&decoded), ShouldBeNil)
				So(decoded.Variant.ID, ShouldEqual, "variant-1")
				So(decoded.Confidence, ShouldAlmostEqual, 0.42, 1e-9)
			})
		})

		Convey("When no variants are active", func() {
			deps.suggestErr = bandit.ErrNoActiveVariants
			resp, err := http.Get(ts.URL + "/suggest")
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestVariantEndpoints(t *testing.T) {
	Convey("Given the variant administration endpoints", t, func() {
		deps := newMockDeps()
		ts := newTestServer(deps)
		defer ts.Close()

		Convey("When creating a variant", func() {
			body, _ := json.Marshal(map[string]string{
				"category": "profile_composite",
				"layout":   "card",
				"style":    "dark",
			})
			resp, err := http.Post(ts.URL+"/variants", "application/json", bytes.NewReader(body))
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then it is created active with an assigned id", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusCreated)
				var created model.Variant
				So(json.NewDecoder(resp.Body).Decode(&created), ShouldBeNil)
				So(created.ID, ShouldNotBeEmpty)
				So(created.Active, ShouldBeTrue)
			})

			Convey("And its stats are readable", func() {
				resp, err := http.Get(ts.URL + "/variants/variant-1/stats")
				So(err, ShouldBeNil)
				defer resp.Body.Close()
				So(resp.StatusCode, ShouldEqual, http.StatusOK)

				var stats model.VariantStats
				So(json.NewDecoder(resp.Body).Decode(&stats), ShouldBeNil)
				So(stats.VariantID, ShouldEqual, "variant-1")
			})

			Convey("And it can be deactivated", func() {
				req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/variants/variant-1", nil)
				resp, err := http.DefaultClient.Do(req)
				So(err, ShouldBeNil)
				resp.Body.Close()
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(deps.variants["variant-1"].Active, ShouldBeFalse)
			})
		})

		Convey("When the payload is incomplete", func() {
			body, _ := json.Marshal(map[string]string{"category": "profile_composite"})
			resp, err := http.Post(ts.URL+"/variants", "application/json", bytes.NewReader(body))
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When deactivating a missing variant", func() {
			req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/variants/ghost", nil)
			resp, err := http.DefaultClient.Do(req)
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestReferralEndpoints(t *testing.T) {
	Convey("Given the referral endpoints", t, func() {
		deps := newMockDeps()
		ts := newTestServer(deps)
		defer ts.Close()

		postJSON := func(path string, payload any) (*http.Response, []byte) {
			body, _ := json.Marshal(payload)
			resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(body))
			if err != nil {
				return nil, nil
			}
			defer resp.Body.Close()
			buf := new(bytes.Buffer)
			_, _ = buf.ReadFrom(resp.Body)
			return resp, buf.Bytes()
		}

		Convey("When issuing a link", func() {
			resp, body := postJSON("/referrals/links", map[string]string{
				"referrer_id":         "referrer-1",
				"content_instance_id": "inst-1",
				"platform":            "mastodon",
			})

			Convey("Then the signed link comes back", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusCreated)
				var link referral.Link
				So(json.Unmarshal(body, &link), ShouldBeNil)
				So(link.Code, ShouldNotBeEmpty)
				So(link.Signature, ShouldNotBeEmpty)
			})
		})

		Convey("When a signup carries a bad signature", func() {
			deps.createReferralFn = func(string, string, referral.Signup) (model.Referral, error) {
				return model.Referral{}, referral.ErrBadSignature
			}
			resp, _ := postJSON("/referrals/signup", map[string]string{
				"code":       "abc",
				"signature":  "tampered",
				"referee_id": "referee-1",
			})

			So(resp.StatusCode, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("When walking the lifecycle endpoints", func() {
			resp, _ := postJSON("/referrals/email-confirmed", map[string]string{"referee_id": "referee-1"})
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			resp, _ = postJSON("/referrals/payment-confirmed", map[string]any{
				"referee_id":   "referee-1",
				"amount_cents": 999,
			})
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			Convey("And a non-positive payment conflicts", func() {
				resp, _ := postJSON("/referrals/payment-confirmed", map[string]any{
					"referee_id":   "referee-1",
					"amount_cents": 0,
				})
				So(resp.StatusCode, ShouldEqual, http.StatusConflict)
			})
		})

		Convey("When redeeming with nothing earned", func() {
			resp, _ := postJSON("/referrals/redeem", map[string]string{"referrer_id": "referrer-1"})
			So(resp.StatusCode, ShouldEqual, http.StatusConflict)
		})

		Convey("When checking a balance", func() {
			deps.balanceCents = 500
			resp, err := http.Get(ts.URL + "/referrals/balance?referrer_id=referrer-1")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			var decoded struct {
				BalanceCents int64 `json:"balance_cents"`
			}
			So(json.NewDecoder(resp.Body).Decode(&decoded), ShouldBeNil)
			So(decoded.BalanceCents, ShouldEqual, 500)
		})
	})
}

func TestHealthEndpoint(t *testing.T) {
	Convey("Given a running server", t, func() {
		ts := newTestServer(newMockDeps())
		defer ts.Close()

		Convey("When probing /healthz", func() {
			resp, err := http.Get(ts.URL + "/healthz")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			var decoded map[string]string
			So(json.NewDecoder(resp.Body).Decode(&decoded), ShouldBeNil)
			So(decoded["status"], ShouldEqual, "ok")
		})

		Convey("When fetching /stats", func() {
			resp, err := http.Get(ts.URL + "/stats")
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
		})
	})
}
