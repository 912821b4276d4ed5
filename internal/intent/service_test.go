package intent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/jiliangzhu/MarketPulse-X/internal/config"
	"github.com/jiliangzhu/MarketPulse-X/internal/models"
	"github.com/jiliangzhu/MarketPulse-X/internal/rules"
)

type stubBreakers struct {
	open bool
}

func (b *stubBreakers) IsOpen(ruleID uint64, marketID string) bool { return b.open }

func execDefaults() config.ExecConfig {
	return config.ExecConfig{
		Mode:                "semi_auto",
		MaxNotionalPerOrder: 200,
		MaxConcurrentOrders: 2,
		MaxDailyNotional:    1000,
		SlippageBps:         80,
		DefaultTTLSecs:      60,
	}
}

func testService(repo *stubRepo, now time.Time) *Service {
	svc := NewService(repo, &stubBreakers{}, nil, nil, execDefaults(), true)
	svc.now = func() time.Time { return now }
	return svc
}

func seedPolicy(repo *stubRepo) {
	repo.policy = &models.ExecutionPolicy{
		PolicyID:            1,
		Name:                "default",
		Mode:                models.ExecModeSemiAuto,
		MaxNotionalPerOrder: decimal.NewFromInt(200),
		MaxConcurrentOrders: 2,
		MaxDailyNotional:    decimal.NewFromInt(1000),
		SlippageBps:         80,
		Enabled:             true,
	}
}

func signalPayload(t *testing.T, qty, refPrice, limitPrice float64) datatypes.JSON {
	t.Helper()
	payload := rules.SignalPayload{
		RuleName: "spike_detect",
		RuleID:   2,
		RuleType: models.RuleSpikeDetect,
		Reason:   "test",
		SuggestedTrade: &rules.TradePlan{
			Action:    "momentum_follow",
			Rationale: "test",
			Legs: []rules.TradeLeg{{
				MarketID:       "m1",
				OptionID:       "yes",
				Label:          "Yes",
				Side:           "buy",
				Qty:            qty,
				ReferencePrice: refPrice,
				LimitPrice:     limitPrice,
			}},
		},
	}
	raw, err := json.Marshal(&payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return datatypes.JSON(raw)
}

func seedSignal(t *testing.T, repo *stubRepo, now time.Time, level string, qty, refPrice, limitPrice float64) {
	t.Helper()
	repo.signals[10] = &models.Signal{
		SignalID:  10,
		MarketID:  "m1",
		RuleID:    2,
		Level:     level,
		Score:     60,
		EdgeScore: 0.08,
		Payload:   signalPayload(t, qty, refPrice, limitPrice),
		CreatedAt: now,
	}
}

func seedBook(repo *stubRepo, now time.Time, bid, ask float64) {
	repo.latest["m1"] = map[string]models.Tick{
		"yes": {TS: now, MarketID: "m1", OptionID: "yes", Price: (bid + ask) / 2, BestBid: &bid, BestAsk: &ask},
	}
}

func TestCreateIntentSuggested(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	seedPolicy(repo)
	seedSignal(t, repo, now, models.LevelP1, 10, 0.50, 0.504)
	svc := testService(repo, now)

	item, err := svc.Create(context.Background(), 10, Overrides{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if item.Status != models.IntentSuggested {
		t.Fatalf("status=%s want=suggested", item.Status)
	}
	if !item.Notional.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("notional=%s want=5", item.Notional.String())
	}
	if item.Side != "buy" || item.OptionID == nil || *item.OptionID != "yes" {
		t.Fatalf("primary leg=%+v", item)
	}

	// A second create for the same signal yields a distinct intent.
	again, err := svc.Create(context.Background(), 10, Overrides{})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if again.IntentID == item.IntentID {
		t.Fatalf("intent ids collide: %d", again.IntentID)
	}
}

func TestCreateRejectsLowLevelSignal(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	seedPolicy(repo)
	seedSignal(t, repo, now, models.LevelP3, 1, 0.5, 0.5)
	svc := testService(repo, now)

	if _, err := svc.Create(context.Background(), 10, Overrides{}); !errors.Is(err, ErrLevelTooLow) {
		t.Fatalf("err=%v want=ErrLevelTooLow", err)
	}
}

func TestCreateRejectsStaleSignal(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	seedPolicy(repo)
	seedSignal(t, repo, now.Add(-2*time.Minute), models.LevelP1, 1, 0.5, 0.5)
	svc := testService(repo, now)

	if _, err := svc.Create(context.Background(), 10, Overrides{}); !errors.Is(err, ErrSignalExpired) {
		t.Fatalf("err=%v want=ErrSignalExpired", err)
	}
}

func TestConfirmSyntheticFill(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	seedPolicy(repo)
	seedSignal(t, repo, now, models.LevelP1, 10, 0.50, 0.504)
	seedBook(repo, now, 0.49, 0.505)
	svc := testService(repo, now)

	item, err := svc.Create(context.Background(), 10, Overrides{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	confirmed, err := svc.Confirm(context.Background(), item.IntentID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != models.IntentFilled {
		t.Fatalf("status=%s want=filled in mock mode", confirmed.Status)
	}
	var detail intentDetail
	if err := json.Unmarshal(confirmed.Detail, &detail); err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Checks == nil || !detail.Checks.Approved {
		t.Fatalf("checks=%+v want approved", detail.Checks)
	}
	if len(detail.Fills) != 1 || !detail.Fills[0].FillPrice.Equal(decimal.NewFromFloat(0.50)) {
		t.Fatalf("fills=%+v want fill at reference 0.50", detail.Fills)
	}
}

func TestConfirmRejectsNotionalOverCap(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	seedPolicy(repo)
	// 410 shares at 0.50 → notional 205.00 over the 200 cap.
	seedSignal(t, repo, now, models.LevelP1, 410, 0.50, 0.504)
	seedBook(repo, now, 0.49, 0.505)
	svc := testService(repo, now)

	item, err := svc.Create(context.Background(), 10, Overrides{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	confirmed, err := svc.Confirm(context.Background(), item.IntentID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != models.IntentRejected {
		t.Fatalf("status=%s want=rejected", confirmed.Status)
	}
	var detail intentDetail
	if err := json.Unmarshal(confirmed.Detail, &detail); err != nil {
		t.Fatalf("detail: %v", err)
	}
	if !containsReason(detail.Checks.Reasons, ReasonNotionalCap) {
		t.Fatalf("reasons=%v want notional_cap_exceeded", detail.Checks.Reasons)
	}
}

func TestConfirmAcceptsNotionalAtCap(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	seedPolicy(repo)
	// 400 shares at exactly 0.50 → notional 200.00, exactly at the cap.
	seedSignal(t, repo, now, models.LevelP1, 400, 0.50, 0.504)
	seedBook(repo, now, 0.49, 0.505)
	svc := testService(repo, now)

	item, err := svc.Create(context.Background(), 10, Overrides{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	confirmed, err := svc.Confirm(context.Background(), item.IntentID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != models.IntentFilled {
		t.Fatalf("status=%s want=filled at exact cap", confirmed.Status)
	}
}

func TestConfirmRejectsSlippage(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	seedPolicy(repo)
	// Planner clamps limit to reference ± slippage, so plant a wide gap
	// between the planned reference (0.60) and the live ask (0.50).
	seedSignal(t, repo, now, models.LevelP1, 10, 0.60, 0.60)
	seedBook(repo, now, 0.49, 0.50)
	svc := testService(repo, now)

	item, err := svc.Create(context.Background(), 10, Overrides{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	confirmed, err := svc.Confirm(context.Background(), item.IntentID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != models.IntentRejected {
		t.Fatalf("status=%s want=rejected", confirmed.Status)
	}
	var detail intentDetail
	if err := json.Unmarshal(confirmed.Detail, &detail); err != nil {
		t.Fatalf("detail: %v", err)
	}
	if !containsReason(detail.Checks.Reasons, ReasonSlippage) {
		t.Fatalf("reasons=%v want slippage_exceeded", detail.Checks.Reasons)
	}
}

func TestConfirmRejectsStaleBook(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	seedPolicy(repo)
	seedSignal(t, repo, now, models.LevelP1, 10, 0.50, 0.504)
	// No book seeded at all.
	svc := testService(repo, now)

	item, err := svc.Create(context.Background(), 10, Overrides{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	confirmed, err := svc.Confirm(context.Background(), item.IntentID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != models.IntentRejected {
		t.Fatalf("status=%s want=rejected", confirmed.Status)
	}
	var detail intentDetail
	if err := json.Unmarshal(confirmed.Detail, &detail); err != nil {
		t.Fatalf("detail: %v", err)
	}
	if !containsReason(detail.Checks.Reasons, ReasonStaleBook) {
		t.Fatalf("reasons=%v want stale_book", detail.Checks.Reasons)
	}
}

func TestConfirmRejectsConcurrencyAndDailyCaps(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	seedPolicy(repo)
	seedSignal(t, repo, now, models.LevelP1, 10, 0.50, 0.504)
	seedBook(repo, now, 0.49, 0.505)
	repo.openCount = 3
	repo.filledSum = decimal.NewFromInt(999)
	svc := testService(repo, now)

	item, err := svc.Create(context.Background(), 10, Overrides{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	confirmed, err := svc.Confirm(context.Background(), item.IntentID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != models.IntentRejected {
		t.Fatalf("status=%s want=rejected", confirmed.Status)
	}
	var detail intentDetail
	if err := json.Unmarshal(confirmed.Detail, &detail); err != nil {
		t.Fatalf("detail: %v", err)
	}
	if !containsReason(detail.Checks.Reasons, ReasonConcurrencyCap) {
		t.Fatalf("reasons=%v want concurrency_cap_exceeded", detail.Checks.Reasons)
	}
	if !containsReason(detail.Checks.Reasons, ReasonDailyCap) {
		t.Fatalf("reasons=%v want daily_cap_exceeded", detail.Checks.Reasons)
	}
}

func TestConfirmRejectsOpenBreaker(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	seedPolicy(repo)
	seedSignal(t, repo, now, models.LevelP1, 10, 0.50, 0.504)
	seedBook(repo, now, 0.49, 0.505)
	svc := testService(repo, now)
	svc.Breakers = &stubBreakers{open: true}

	item, err := svc.Create(context.Background(), 10, Overrides{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	confirmed, err := svc.Confirm(context.Background(), item.IntentID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	var detail intentDetail
	if err := json.Unmarshal(confirmed.Detail, &detail); err != nil {
		t.Fatalf("detail: %v", err)
	}
	if !containsReason(detail.Checks.Reasons, ReasonBreakerOpen) {
		t.Fatalf("reasons=%v want circuit_breaker_open", detail.Checks.Reasons)
	}
}

func TestConfirmExpiresPastTTL(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	seedPolicy(repo)
	seedSignal(t, repo, start, models.LevelP1, 10, 0.50, 0.504)
	seedBook(repo, start, 0.49, 0.505)
	current := start
	svc := NewService(repo, &stubBreakers{}, nil, nil, execDefaults(), true)
	svc.now = func() time.Time { return current }

	item, err := svc.Create(context.Background(), 10, Overrides{TTLSecs: 30})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	current = start.Add(31 * time.Second)
	confirmed, err := svc.Confirm(context.Background(), item.IntentID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != models.IntentExpired {
		t.Fatalf("status=%s want=expired", confirmed.Status)
	}
}

func TestConfirmTerminalIsNoOp(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	seedPolicy(repo)
	seedSignal(t, repo, now, models.LevelP1, 10, 0.50, 0.504)
	seedBook(repo, now, 0.49, 0.505)
	svc := testService(repo, now)

	item, err := svc.Create(context.Background(), 10, Overrides{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	first, err := svc.Confirm(context.Background(), item.IntentID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !models.IntentTerminal(first.Status) {
		t.Fatalf("status=%s want terminal", first.Status)
	}
	second, err := svc.Confirm(context.Background(), item.IntentID)
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if second.Status != first.Status || second.UpdatedAt != first.UpdatedAt {
		t.Fatalf("terminal confirm mutated the intent: %+v vs %+v", first, second)
	}
}

func TestExpireOverdueSweep(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	seedPolicy(repo)
	seedSignal(t, repo, start, models.LevelP1, 10, 0.50, 0.504)
	current := start
	svc := NewService(repo, &stubBreakers{}, nil, nil, execDefaults(), true)
	svc.now = func() time.Time { return current }

	if _, err := svc.Create(context.Background(), 10, Overrides{TTLSecs: 10}); err != nil {
		t.Fatalf("create: %v", err)
	}
	current = start.Add(time.Minute)
	n, err := svc.ExpireOverdue(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired=%d want=1", n)
	}
}

func containsReason(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}
