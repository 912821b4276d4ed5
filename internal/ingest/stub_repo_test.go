package ingest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/jiliangzhu/MarketPulse-X/internal/models"
	"github.com/jiliangzhu/MarketPulse-X/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository;
// the ingest paths record what was written.
type stubRepo struct {
	markets []models.Market
	options []models.Option
	ticks   []models.Tick
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) UpsertMarkets(ctx context.Context, items []models.Market) error {
	s.markets = append(s.markets, items...)
	return nil
}

func (s *stubRepo) UpsertOptions(ctx context.Context, items []models.Option) error {
	s.options = append(s.options, items...)
	return nil
}

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

func (s *stubRepo) InsertTicks(ctx context.Context, ticks []models.Tick) error {
	s.ticks = append(s.ticks, ticks...)
	return nil
}

func (s *stubRepo) LatestTicksByMarket(ctx context.Context, marketID string) (map[string]models.Tick, error) {
	return nil, nil
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
	return nil, nil
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
	return nil
}
func (s *stubRepo) ListRuleKpiDaily(ctx context.Context, since time.Time) ([]models.RuleKpiDaily, error) {
	return nil, nil
}

func (s *stubRepo) InsertAudit(ctx context.Context, entry *models.AuditLog) error { return nil }
