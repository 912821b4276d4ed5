package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/jiliangzhu/MarketPulse-X/internal/config"
	"github.com/jiliangzhu/MarketPulse-X/internal/metrics"
	"github.com/jiliangzhu/MarketPulse-X/internal/models"
	"github.com/jiliangzhu/MarketPulse-X/internal/repository"
)

var (
	ErrSignalNotFound = errors.New("intent: signal not found")
	ErrIntentNotFound = errors.New("intent: intent not found")
	ErrLevelTooLow    = errors.New("intent: signal level too low")
	ErrSignalExpired  = errors.New("intent: signal expired")
	ErrNoPolicy       = errors.New("intent: no enabled execution policy")
	// ErrIllegalTransition marks a confirm attempt against a non-suggested,
	// non-terminal state; the stored row is left untouched.
	ErrIllegalTransition = errors.New("intent: illegal status transition")
)

// Rejection reasons accumulated by the risk gauntlet.
const (
	ReasonNotionalCap    = "notional_cap_exceeded"
	ReasonConcurrencyCap = "concurrency_cap_exceeded"
	ReasonDailyCap       = "daily_cap_exceeded"
	ReasonSlippage       = "slippage_exceeded"
	ReasonStaleBook      = "stale_book"
	ReasonBreakerOpen    = "circuit_breaker_open"
)

// maxSignalAge bounds how stale a signal may be when an intent is created
// from it.
const maxSignalAge = 60 * time.Second

// BreakerView is the rule engine's breaker table as seen by the gauntlet.
type BreakerView interface {
	IsOpen(ruleID uint64, marketID string) bool
}

// Service drives the two-phase intent state machine: Create synthesizes a
// plan and persists a suggested intent; Confirm runs the risk gauntlet
// inside one transaction and lands the terminal (or sent) state.
type Service struct {
	Repo     repository.Repository
	Breakers BreakerView
	Metrics  *metrics.Registry
	Logger   *zap.Logger
	Defaults config.ExecConfig
	// MockFill auto-fills a passing confirmation, recording the reference
	// price as the fill price. Live acknowledgement stays pluggable.
	MockFill bool

	now func() time.Time
}

func NewService(repo repository.Repository, breakers BreakerView, reg *metrics.Registry, logger *zap.Logger, defaults config.ExecConfig, mockFill bool) *Service {
	return &Service{
		Repo:     repo,
		Breakers: breakers,
		Metrics:  reg,
		Logger:   logger,
		Defaults: defaults,
		MockFill: mockFill,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// BootstrapPolicy makes sure an enabled policy row exists, seeding it from
// config defaults on first run.
func (s *Service) BootstrapPolicy(ctx context.Context) (*models.ExecutionPolicy, error) {
	policy, err := s.Repo.GetActivePolicy(ctx)
	if err != nil {
		return nil, err
	}
	if policy != nil {
		return policy, nil
	}
	policy = &models.ExecutionPolicy{
		Name:                "default",
		Mode:                s.Defaults.Mode,
		MaxNotionalPerOrder: decimal.NewFromFloat(s.Defaults.MaxNotionalPerOrder),
		MaxConcurrentOrders: s.Defaults.MaxConcurrentOrders,
		MaxDailyNotional:    decimal.NewFromFloat(s.Defaults.MaxDailyNotional),
		SlippageBps:         s.Defaults.SlippageBps,
		Enabled:             true,
	}
	if err := s.Repo.UpsertPolicy(ctx, policy); err != nil {
		return nil, err
	}
	return s.Repo.GetActivePolicy(ctx)
}

type intentDetail struct {
	Plan        *Plan           `json:"plan"`
	SignalLevel string          `json:"signal_level"`
	RuleID      uint64          `json:"rule_id"`
	RuleType    string          `json:"rule_type"`
	EdgeScore   float64         `json:"edge_score"`
	PayloadSnap json.RawMessage `json:"payload_snapshot,omitempty"`
	Checks      *checksDetail   `json:"checks,omitempty"`
	Fills       []fillDetail    `json:"fills,omitempty"`
}

type checksDetail struct {
	Approved bool     `json:"approved"`
	Reasons  []string `json:"reasons"`
}

type fillDetail struct {
	OptionID  string          `json:"option_id"`
	Side      string          `json:"side"`
	Qty       decimal.Decimal `json:"qty"`
	FillPrice decimal.Decimal `json:"fill_price"`
}

// Create loads the signal, synthesizes the rule-specific plan and persists
// the intent in suggested state. Each call creates a fresh intent; intents
// are per-request, not per-signal.
func (s *Service) Create(ctx context.Context, signalID uint64, overrides Overrides) (*models.OrderIntent, error) {
	sig, err := s.Repo.GetSignalByID(ctx, signalID)
	if err != nil {
		return nil, err
	}
	if sig == nil {
		return nil, ErrSignalNotFound
	}
	if sig.Level != models.LevelP1 && sig.Level != models.LevelP2 {
		return nil, ErrLevelTooLow
	}
	if s.now().Sub(sig.CreatedAt) > maxSignalAge {
		return nil, ErrSignalExpired
	}
	policy, err := s.BootstrapPolicy(ctx)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, ErrNoPolicy
	}

	plan, payload, err := BuildPlan(sig, policy, overrides)
	if err != nil {
		return nil, err
	}
	primary := plan.Legs[0]
	ttl := overrides.TTLSecs
	if ttl <= 0 {
		ttl = s.Defaults.DefaultTTLSecs
	}
	if ttl <= 0 {
		ttl = 60
	}

	detail := intentDetail{
		Plan:        plan,
		SignalLevel: sig.Level,
		RuleID:      sig.RuleID,
		RuleType:    payload.RuleType,
		EdgeScore:   sig.EdgeScore,
		PayloadSnap: json.RawMessage(sig.Payload),
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return nil, err
	}
	limit := primary.LimitPrice
	optionID := primary.OptionID
	item := &models.OrderIntent{
		SignalID:   sig.SignalID,
		MarketID:   sig.MarketID,
		OptionID:   &optionID,
		Side:       primary.Side,
		Qty:        primary.Qty,
		LimitPrice: &limit,
		Notional:   plan.Notional(),
		TTLSecs:    ttl,
		Status:     models.IntentSuggested,
		PolicyID:   policy.PolicyID,
		Detail:     datatypes.JSON(detailJSON),
		CreatedAt:  s.now(),
		UpdatedAt:  s.now(),
	}
	if err := s.Repo.InsertIntent(ctx, item); err != nil {
		return nil, err
	}
	s.countStatus(models.IntentSuggested)
	s.audit(ctx, "intent_created", item.IntentID, map[string]any{
		"signal_id": sig.SignalID,
		"market_id": sig.MarketID,
		"notional":  item.Notional.StringFixed(4),
	})
	return item, nil
}

// Confirm re-reads the intent under lock, validates the transition and runs
// the gauntlet. Terminal intents are returned unchanged (confirm is a
// no-op on them).
func (s *Service) Confirm(ctx context.Context, intentID uint64) (*models.OrderIntent, error) {
	var result *models.OrderIntent
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		item, err := s.Repo.GetIntentForUpdateTx(ctx, tx, intentID)
		if err != nil {
			return err
		}
		if item == nil {
			return ErrIntentNotFound
		}
		if models.IntentTerminal(item.Status) {
			result = item
			return nil
		}
		if item.Status != models.IntentSuggested {
			return fmt.Errorf("%w: %s", ErrIllegalTransition, item.Status)
		}
		now := s.now()
		if now.After(item.CreatedAt.Add(time.Duration(item.TTLSecs) * time.Second)) {
			item.Status = models.IntentExpired
			if err := s.Repo.UpdateIntentTx(ctx, tx, item); err != nil {
				return err
			}
			s.countStatus(models.IntentExpired)
			result = item
			return nil
		}

		policy, err := s.Repo.GetActivePolicy(ctx)
		if err != nil {
			return err
		}
		if policy == nil {
			return ErrNoPolicy
		}
		var detail intentDetail
		if len(item.Detail) > 0 {
			if err := json.Unmarshal(item.Detail, &detail); err != nil {
				return fmt.Errorf("intent %d: decode detail: %w", item.IntentID, err)
			}
		}
		reasons, err := s.gauntlet(ctx, tx, item, &detail, policy, now)
		if err != nil {
			return err
		}

		detail.Checks = &checksDetail{Approved: len(reasons) == 0, Reasons: reasons}
		if len(reasons) > 0 {
			item.Status = models.IntentRejected
		} else {
			item.Status = models.IntentSent
			if s.MockFill {
				item.Status = models.IntentFilled
				if detail.Plan != nil {
					for _, leg := range detail.Plan.Legs {
						detail.Fills = append(detail.Fills, fillDetail{
							OptionID:  leg.OptionID,
							Side:      leg.Side,
							Qty:       leg.Qty,
							FillPrice: leg.ReferencePrice,
						})
					}
				}
			}
		}
		raw, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		item.Detail = datatypes.JSON(raw)
		if err := s.Repo.UpdateIntentTx(ctx, tx, item); err != nil {
			return err
		}
		if len(reasons) > 0 {
			s.countStatus(models.IntentRejected)
		} else {
			s.countStatus(models.IntentSent)
			if item.Status == models.IntentFilled {
				s.countStatus(models.IntentFilled)
			}
		}
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, "intent_confirmed", result.IntentID, map[string]any{
		"status": result.Status,
	})
	return result, nil
}

// gauntlet runs the ordered risk checks and accumulates every failing
// reason rather than stopping at the first.
func (s *Service) gauntlet(ctx context.Context, tx *gorm.DB, item *models.OrderIntent, detail *intentDetail, policy *models.ExecutionPolicy, now time.Time) ([]string, error) {
	var reasons []string

	// a. Per-order notional cap.
	if item.Notional.GreaterThan(policy.MaxNotionalPerOrder) {
		reasons = append(reasons, ReasonNotionalCap)
	}

	// b. Per-market concurrency cap; the intent under confirmation is in
	// the counted set.
	open, err := s.Repo.CountOpenIntentsByMarketTx(ctx, tx, item.MarketID)
	if err != nil {
		return nil, err
	}
	if open > int64(policy.MaxConcurrentOrders) {
		reasons = append(reasons, ReasonConcurrencyCap)
	}

	// c. Daily notional cap over today's fills.
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	filled, err := s.Repo.SumFilledNotionalSinceTx(ctx, tx, dayStart)
	if err != nil {
		return nil, err
	}
	if filled.Add(item.Notional).GreaterThan(policy.MaxDailyNotional) {
		reasons = append(reasons, ReasonDailyCap)
	}

	// d. Slippage guardrail per leg against the current book.
	slipReason := s.checkSlippage(ctx, detail, policy)
	if slipReason != "" {
		reasons = append(reasons, slipReason)
	}

	// e. Rule-market circuit breaker.
	if s.Breakers != nil && detail.RuleID != 0 && s.Breakers.IsOpen(detail.RuleID, item.MarketID) {
		reasons = append(reasons, ReasonBreakerOpen)
	}
	return reasons, nil
}

func (s *Service) checkSlippage(ctx context.Context, detail *intentDetail, policy *models.ExecutionPolicy) string {
	if detail.Plan == nil || len(detail.Plan.Legs) == 0 {
		return ReasonStaleBook
	}
	maxBps := decimal.NewFromInt(int64(policy.SlippageBps))
	for _, leg := range detail.Plan.Legs {
		latest, err := s.Repo.LatestTicksByMarket(ctx, leg.MarketID)
		if err != nil || len(latest) == 0 {
			return ReasonStaleBook
		}
		tick, ok := latest[leg.OptionID]
		if !ok {
			return ReasonStaleBook
		}
		var best decimal.Decimal
		if leg.Side == "buy" {
			if tick.BestAsk == nil || *tick.BestAsk <= 0 {
				return ReasonStaleBook
			}
			best = decimal.NewFromFloat(*tick.BestAsk)
		} else {
			if tick.BestBid == nil || *tick.BestBid <= 0 {
				return ReasonStaleBook
			}
			best = decimal.NewFromFloat(*tick.BestBid)
		}
		drift := leg.LimitPrice.Sub(best).Abs().Div(best).Mul(decimal.NewFromInt(10000))
		if drift.GreaterThan(maxBps) {
			return ReasonSlippage
		}
	}
	return ""
}

// ExpireOverdue flips suggested intents past their TTL to expired. Run on a
// cron cadence.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.Repo.ExpireOverdueIntents(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		for i := int64(0); i < n; i++ {
			s.countStatus(models.IntentExpired)
		}
		if s.Logger != nil {
			s.Logger.Info("expired overdue intents", zap.Int64("count", n))
		}
	}
	return n, nil
}

func (s *Service) countStatus(status string) {
	if s.Metrics != nil {
		s.Metrics.OrderIntentsTotal.WithLabelValues(status).Inc()
	}
}

func (s *Service) audit(ctx context.Context, action string, intentID uint64, meta map[string]any) {
	raw, _ := json.Marshal(meta)
	target := fmt.Sprintf("%d", intentID)
	entry := &models.AuditLog{
		EntryKey: uuid.NewString(),
		Actor:    "intent_pipeline",
		Action:   action,
		TargetID: &target,
		Meta:     datatypes.JSON(raw),
	}
	if err := s.Repo.InsertAudit(ctx, entry); err != nil && s.Logger != nil {
		s.Logger.Warn("audit insert failed", zap.Error(err))
	}
}
