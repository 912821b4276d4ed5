package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/jiliangzhu/MarketPulse-X/internal/models"
	"github.com/jiliangzhu/MarketPulse-X/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// Only the subset the engine touches is backed by real state.
type stubRepo struct {
	markets  []models.Market
	options  map[string][]models.Option
	latest   map[string]map[string]models.Tick
	recent   map[string][]models.Tick
	ruleDefs map[string]*models.RuleDef
	signals  []models.Signal
	kpis     map[string]*models.RuleKpiDaily
	audits   []models.AuditLog
	nextID   uint64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		options:  map[string][]models.Option{},
		latest:   map[string]map[string]models.Tick{},
		recent:   map[string][]models.Tick{},
		ruleDefs: map[string]*models.RuleDef{},
		kpis:     map[string]*models.RuleKpiDaily{},
	}
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) UpsertMarkets(ctx context.Context, items []models.Market) error { return nil }
func (s *stubRepo) UpsertOptions(ctx context.Context, items []models.Option) error { return nil }

func (s *stubRepo) ListMarkets(ctx context.Context, params repository.ListMarketsParams) ([]models.Market, error) {
	return s.markets, nil
}

func (s *stubRepo) GetMarketByID(ctx context.Context, marketID string) (*models.Market, error) {
	for i := range s.markets {
		if s.markets[i].MarketID == marketID {
			return &s.markets[i], nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListMarketsByIDs(ctx context.Context, marketIDs []string) ([]models.Market, error) {
	var out []models.Market
	for _, id := range marketIDs {
		if m, _ := s.GetMarketByID(ctx, id); m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *stubRepo) ListOptionsByMarketID(ctx context.Context, marketID string) ([]models.Option, error) {
	return s.options[marketID], nil
}

func (s *stubRepo) InsertTicks(ctx context.Context, ticks []models.Tick) error { return nil }

func (s *stubRepo) LatestTicksByMarket(ctx context.Context, marketID string) (map[string]models.Tick, error) {
	return s.latest[marketID], nil
}

func (s *stubRepo) RecentTicks(ctx context.Context, marketID string, since time.Time, limit int) ([]models.Tick, error) {
	return s.recent[marketID], nil
}

func (s *stubRepo) LatestTickTS(ctx context.Context) (*time.Time, error) { return nil, nil }

func (s *stubRepo) GetRuleDefByName(ctx context.Context, name string) (*models.RuleDef, error) {
	return s.ruleDefs[name], nil
}

func (s *stubRepo) SaveRuleDef(ctx context.Context, def *models.RuleDef) error {
	if def.RuleID == 0 {
		s.nextID++
		def.RuleID = s.nextID
	}
	copied := *def
	s.ruleDefs[def.Name] = &copied
	return nil
}

func (s *stubRepo) ListRuleDefs(ctx context.Context, enabledOnly bool) ([]models.RuleDef, error) {
	var out []models.RuleDef
	for _, def := range s.ruleDefs {
		if enabledOnly && !def.Enabled {
			continue
		}
		out = append(out, *def)
	}
	return out, nil
}

func (s *stubRepo) InsertSignal(ctx context.Context, sig *models.Signal) error {
	s.nextID++
	sig.SignalID = s.nextID
	s.signals = append(s.signals, *sig)
	return nil
}

func (s *stubRepo) GetSignalByID(ctx context.Context, signalID uint64) (*models.Signal, error) {
	for i := range s.signals {
		if s.signals[i].SignalID == signalID {
			return &s.signals[i], nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListSignals(ctx context.Context, params repository.ListSignalsParams) ([]models.Signal, error) {
	return s.signals, nil
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
	return nil, nil
}
func (s *stubRepo) UpsertPolicy(ctx context.Context, policy *models.ExecutionPolicy) error {
	return nil
}

func (s *stubRepo) InsertIntent(ctx context.Context, intent *models.OrderIntent) error { return nil }
func (s *stubRepo) GetIntentByID(ctx context.Context, intentID uint64) (*models.OrderIntent, error) {
	return nil, nil
}
func (s *stubRepo) GetIntentForUpdateTx(ctx context.Context, tx *gorm.DB, intentID uint64) (*models.OrderIntent, error) {
	return nil, nil
}
func (s *stubRepo) UpdateIntentTx(ctx context.Context, tx *gorm.DB, intent *models.OrderIntent) error {
	return nil
}
func (s *stubRepo) CountOpenIntentsByMarketTx(ctx context.Context, tx *gorm.DB, marketID string) (int64, error) {
	return 0, nil
}
func (s *stubRepo) SumFilledNotionalSinceTx(ctx context.Context, tx *gorm.DB, since time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (s *stubRepo) ListIntents(ctx context.Context, params repository.ListIntentsParams) ([]models.OrderIntent, error) {
	return nil, nil
}
func (s *stubRepo) ExpireOverdueIntents(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (s *stubRepo) RecordRuleKpi(ctx context.Context, day time.Time, ruleType string, level string, gap float64, estEdgeBps float64) error {
	key := fmt.Sprintf("%s:%s", day.Format("2006-01-02"), ruleType)
	row, ok := s.kpis[key]
	if !ok {
		row = &models.RuleKpiDaily{Day: day, RuleType: ruleType}
		s.kpis[key] = row
	}
	row.Signals++
	if level == models.LevelP1 {
		row.P1Signals++
	}
	return nil
}

func (s *stubRepo) ListRuleKpiDaily(ctx context.Context, since time.Time) ([]models.RuleKpiDaily, error) {
	return nil, nil
}

func (s *stubRepo) InsertAudit(ctx context.Context, entry *models.AuditLog) error {
	s.audits = append(s.audits, *entry)
	return nil
}
