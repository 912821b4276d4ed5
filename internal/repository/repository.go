package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/jiliangzhu/MarketPulse-X/internal/models"
)

type ListMarketsParams struct {
	Status string
	Limit  int
}

type ListSignalsParams struct {
	MarketID string
	RuleID   uint64
	Level    string
	Since    *time.Time
	Limit    int
	Offset   int
}

type ListIntentsParams struct {
	Status string
	Limit  int
}

// Repository is the single persistence surface shared by the ingest loop,
// the rule engine, the synonym matcher, the intent pipeline and the API
// handlers. All writes are transactional at entity granularity; the intent
// confirm path composes the Tx variants inside one InTx.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Catalog
	UpsertMarkets(ctx context.Context, items []models.Market) error
	UpsertOptions(ctx context.Context, items []models.Option) error
	ListMarkets(ctx context.Context, params ListMarketsParams) ([]models.Market, error)
	GetMarketByID(ctx context.Context, marketID string) (*models.Market, error)
	ListMarketsByIDs(ctx context.Context, marketIDs []string) ([]models.Market, error)
	ListOptionsByMarketID(ctx context.Context, marketID string) ([]models.Option, error)

	// Ticks
	InsertTicks(ctx context.Context, ticks []models.Tick) error
	LatestTicksByMarket(ctx context.Context, marketID string) (map[string]models.Tick, error)
	RecentTicks(ctx context.Context, marketID string, since time.Time, limit int) ([]models.Tick, error)
	LatestTickTS(ctx context.Context) (*time.Time, error)

	// Rule definitions
	GetRuleDefByName(ctx context.Context, name string) (*models.RuleDef, error)
	SaveRuleDef(ctx context.Context, def *models.RuleDef) error
	ListRuleDefs(ctx context.Context, enabledOnly bool) ([]models.RuleDef, error)

	// Signals
	InsertSignal(ctx context.Context, sig *models.Signal) error
	GetSignalByID(ctx context.Context, signalID uint64) (*models.Signal, error)
	ListSignals(ctx context.Context, params ListSignalsParams) ([]models.Signal, error)

	// Synonym groups
	UpsertSynonymGroup(ctx context.Context, group *models.SynonymGroup) error
	ReplaceSynonymGroupMembers(ctx context.Context, groupID uint64, marketIDs []string) error
	ListSynonymGroups(ctx context.Context) ([]models.SynonymGroup, error)
	ListSynonymMembers(ctx context.Context) (map[uint64][]string, error)

	// Execution policy
	GetActivePolicy(ctx context.Context) (*models.ExecutionPolicy, error)
	UpsertPolicy(ctx context.Context, policy *models.ExecutionPolicy) error

	// Order intents
	InsertIntent(ctx context.Context, intent *models.OrderIntent) error
	GetIntentByID(ctx context.Context, intentID uint64) (*models.OrderIntent, error)
	GetIntentForUpdateTx(ctx context.Context, tx *gorm.DB, intentID uint64) (*models.OrderIntent, error)
	UpdateIntentTx(ctx context.Context, tx *gorm.DB, intent *models.OrderIntent) error
	CountOpenIntentsByMarketTx(ctx context.Context, tx *gorm.DB, marketID string) (int64, error)
	SumFilledNotionalSinceTx(ctx context.Context, tx *gorm.DB, since time.Time) (decimal.Decimal, error)
	ListIntents(ctx context.Context, params ListIntentsParams) ([]models.OrderIntent, error)
	ExpireOverdueIntents(ctx context.Context, now time.Time) (int64, error)

	// KPI
	RecordRuleKpi(ctx context.Context, day time.Time, ruleType string, level string, gap float64, estEdgeBps float64) error
	ListRuleKpiDaily(ctx context.Context, since time.Time) ([]models.RuleKpiDaily, error)

	// Audit
	InsertAudit(ctx context.Context, entry *models.AuditLog) error
}
