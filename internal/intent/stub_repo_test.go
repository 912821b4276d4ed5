package intent

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/jiliangzhu/MarketPulse-X/internal/models"
	"github.com/jiliangzhu/MarketPulse-X/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository;
// only the intent paths carry real state.
type stubRepo struct {
	signals   map[uint64]*models.Signal
	policy    *models.ExecutionPolicy
	intents   map[uint64]*models.OrderIntent
	latest    map[string]map[string]models.Tick
	openCount int64
	filledSum decimal.Decimal
	audits    []models.AuditLog
	nextID    uint64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		signals: map[uint64]*models.Signal{},
		intents: map[uint64]*models.OrderIntent{},
		latest:  map[string]map[string]models.Tick{},
	}
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) UpsertMarkets(ctx context.Context, items []models.Market) error { return nil }
func (s *stubRepo) UpsertOptions(ctx context.Context, items []models.Option) error { return nil }
func (s *stubRepo) ListMarkets(ctx context.Context, params repository.ListMarketsParams) ([]models.Market, error) {
	return nil, nil
}
func (s *stubRepo) GetMarketByID(ctx context.Context, marketID string) (*models.Market, error) {
	return nil, nil
}
func (s *stubRepo) ListMarketsByIDs(ctx context.Context, marketIDs []string) ([]models.Market, error) {
	return nil, nil
}
func (s *stubRepo) ListOptionsByMarketID(ctx context.Context, marketID string) ([]models.Option, error) {
	return nil, nil
}

func (s *stubRepo) InsertTicks(ctx context.Context, ticks []models.Tick) error { return nil }
func (s *stubRepo) LatestTicksByMarket(ctx context.Context, marketID string) (map[string]models.Tick, error) {
	return s.latest[marketID], nil
}
func (s *stubRepo) RecentTicks(ctx context.Context, marketID string, since time.Time, limit int) ([]models.Tick, error) {
	return nil, nil
}
func (s *stubRepo) LatestTickTS(ctx context.Context) (*time.Time, error) { return nil, nil }

func (s *stubRepo) GetRuleDefByName(ctx context.Context, name string) (*models.RuleDef, error) {
	return nil, nil
}
func (s *stubRepo) SaveRuleDef(ctx context.Context, def *models.RuleDef) error { return nil }
func (s *stubRepo) ListRuleDefs(ctx context.Context, enabledOnly bool) ([]models.RuleDef, error) {
	return nil, nil
}

func (s *stubRepo) InsertSignal(ctx context.Context, sig *models.Signal) error { return nil }
func (s *stubRepo) GetSignalByID(ctx context.Context, signalID uint64) (*models.Signal, error) {
	return s.signals[signalID], nil
}
func (s *stubRepo) ListSignals(ctx context.Context, params repository.ListSignalsParams) ([]models.Signal, error) {
	return nil, nil
}

func (s *stubRepo) UpsertSynonymGroup(ctx context.Context, group *models.SynonymGroup) error {
	return nil
}
func (s *stubRepo) ReplaceSynonymGroupMembers(ctx context.Context, groupID uint64, marketIDs []string) error {
	return nil
}
func (s *stubRepo) ListSynonymGroups(ctx context.Context) ([]models.SynonymGroup, error) {
	return nil, nil
}
func (s *stubRepo) ListSynonymMembers(ctx context.Context) (map[uint64][]string, error) {
	return nil, nil
}

func (s *stubRepo) GetActivePolicy(ctx context.Context) (*models.ExecutionPolicy, error) {
	return s.policy, nil
}
func (s *stubRepo) UpsertPolicy(ctx context.Context, policy *models.ExecutionPolicy) error {
	if policy.PolicyID == 0 {
		s.nextID++
		policy.PolicyID = s.nextID
	}
	copied := *policy
	s.policy = &copied
	return nil
}

func (s *stubRepo) InsertIntent(ctx context.Context, intent *models.OrderIntent) error {
	s.nextID++
	intent.IntentID = s.nextID
	copied := *intent
	s.intents[intent.IntentID] = &copied
	return nil
}

func (s *stubRepo) GetIntentByID(ctx context.Context, intentID uint64) (*models.OrderIntent, error) {
	item, ok := s.intents[intentID]
	if !ok {
		return nil, nil
	}
	copied := *item
	return &copied, nil
}

func (s *stubRepo) GetIntentForUpdateTx(ctx context.Context, tx *gorm.DB, intentID uint64) (*models.OrderIntent, error) {
	return s.GetIntentByID(ctx, intentID)
}

func (s *stubRepo) UpdateIntentTx(ctx context.Context, tx *gorm.DB, intent *models.OrderIntent) error {
	intent.UpdatedAt = time.Now().UTC()
	copied := *intent
	s.intents[intent.IntentID] = &copied
	return nil
}

func (s *stubRepo) CountOpenIntentsByMarketTx(ctx context.Context, tx *gorm.DB, marketID string) (int64, error) {
	if s.openCount > 0 {
		return s.openCount, nil
	}
	var count int64
	for _, item := range s.intents {
		if item.MarketID == marketID && (item.Status == models.IntentSuggested || item.Status == models.IntentSent) {
			count++
		}
	}
	return count, nil
}

func (s *stubRepo) SumFilledNotionalSinceTx(ctx context.Context, tx *gorm.DB, since time.Time) (decimal.Decimal, error) {
	return s.filledSum, nil
}

func (s *stubRepo) ListIntents(ctx context.Context, params repository.ListIntentsParams) ([]models.OrderIntent, error) {
	return nil, nil
}

func (s *stubRepo) ExpireOverdueIntents(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for _, item := range s.intents {
		deadline := item.CreatedAt.Add(time.Duration(item.TTLSecs) * time.Second)
		if item.Status == models.IntentSuggested && now.After(deadline) {
			item.Status = models.IntentExpired
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) RecordRuleKpi(ctx context.Context, day time.Time, ruleType string, level string, gap float64, estEdgeBps float64) error {
	return nil
}
func (s *stubRepo) ListRuleKpiDaily(ctx context.Context, since time.Time) ([]models.RuleKpiDaily, error) {
	return nil, nil
}

func (s *stubRepo) InsertAudit(ctx context.Context, entry *models.AuditLog) error {
	s.audits = append(s.audits, *entry)
	return nil
}
