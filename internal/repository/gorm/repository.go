package gormrepository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jiliangzhu/MarketPulse-X/internal/models"
	"github.com/jiliangzhu/MarketPulse-X/internal/repository"
)

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

var _ repository.Repository = (*Repository)(nil)

func (r *Repository) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func (r *Repository) UpsertMarkets(ctx context.Context, items []models.Market) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "market_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "status", "starts_at", "ends_at", "tags", "last_seen_at", "updated_at",
		}),
	}).Create(&items).Error
}

func (r *Repository) UpsertOptions(ctx context.Context, items []models.Option) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "option_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"market_id", "label", "last_seen_at",
		}),
	}).Create(&items).Error
}

func (r *Repository) ListMarkets(ctx context.Context, params repository.ListMarketsParams) ([]models.Market, error) {
	q := r.db.WithContext(ctx).Model(&models.Market{})
	if params.Status != "" {
		q = q.Where("status = ?", params.Status)
	}
	if params.Limit > 0 {
		q = q.Limit(params.Limit)
	}
	var out []models.Market
	if err := q.Order("market_id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) GetMarketByID(ctx context.Context, marketID string) (*models.Market, error) {
	var item models.Market
	err := r.db.WithContext(ctx).First(&item, "market_id = ?", marketID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) ListMarketsByIDs(ctx context.Context, marketIDs []string) ([]models.Market, error) {
	if len(marketIDs) == 0 {
		return nil, nil
	}
	var out []models.Market
	err := r.db.WithContext(ctx).Where("market_id IN ?", marketIDs).Find(&out).Error
	return out, err
}

func (r *Repository) ListOptionsByMarketID(ctx context.Context, marketID string) ([]models.Option, error) {
	var out []models.Option
	err := r.db.WithContext(ctx).Where("market_id = ?", marketID).Order("option_id").Find(&out).Error
	return out, err
}

func (r *Repository) InsertTicks(ctx context.Context, ticks []models.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ticks).Error
}

func (r *Repository) LatestTicksByMarket(ctx context.Context, marketID string) (map[string]models.Tick, error) {
	var rows []models.Tick
	err := r.db.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (option_id) ts, market_id, option_id, price, volume, best_bid, best_ask, liquidity
		FROM tick
		WHERE market_id = ?
		ORDER BY option_id, ts DESC
	`, marketID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Tick, len(rows))
	for _, row := range rows {
		out[row.OptionID] = row
	}
	return out, nil
}

func (r *Repository) RecentTicks(ctx context.Context, marketID string, since time.Time, limit int) ([]models.Tick, error) {
	q := r.db.WithContext(ctx).
		Where("market_id = ? AND ts >= ?", marketID, since).
		Order("ts DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Tick
	err := q.Find(&out).Error
	return out, err
}

func (r *Repository) LatestTickTS(ctx context.Context) (*time.Time, error) {
	var row models.Tick
	err := r.db.WithContext(ctx).Order("ts DESC").Limit(1).Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.TS.IsZero() {
		return nil, nil
	}
	ts := row.TS
	return &ts, nil
}

func (r *Repository) GetRuleDefByName(ctx context.Context, name string) (*models.RuleDef, error) {
	var item models.RuleDef
	err := r.db.WithContext(ctx).First(&item, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) SaveRuleDef(ctx context.Context, def *models.RuleDef) error {
	return r.db.WithContext(ctx).Save(def).Error
}

func (r *Repository) ListRuleDefs(ctx context.Context, enabledOnly bool) ([]models.RuleDef, error) {
	q := r.db.WithContext(ctx).Model(&models.RuleDef{})
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	var out []models.RuleDef
	err := q.Order("name").Find(&out).Error
	return out, err
}

func (r *Repository) InsertSignal(ctx context.Context, sig *models.Signal) error {
	return r.db.WithContext(ctx).Create(sig).Error
}

func (r *Repository) GetSignalByID(ctx context.Context, signalID uint64) (*models.Signal, error) {
	var item models.Signal
	err := r.db.WithContext(ctx).First(&item, "signal_id = ?", signalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) ListSignals(ctx context.Context, params repository.ListSignalsParams) ([]models.Signal, error) {
	q := r.db.WithContext(ctx).Model(&models.Signal{})
	if params.MarketID != "" {
		q = q.Where("market_id = ?", params.MarketID)
	}
	if params.RuleID != 0 {
		q = q.Where("rule_id = ?", params.RuleID)
	}
	if params.Level != "" {
		q = q.Where("level = ?", params.Level)
	}
	if params.Since != nil {
		q = q.Where("created_at >= ?", *params.Since)
	}
	if params.Limit > 0 {
		q = q.Limit(params.Limit)
	}
	if params.Offset > 0 {
		q = q.Offset(params.Offset)
	}
	var out []models.Signal
	err := q.Order("edge_score DESC, created_at DESC").Find(&out).Error
	return out, err
}

func (r *Repository) UpsertSynonymGroup(ctx context.Context, group *models.SynonymGroup) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "title"}},
		DoUpdates: clause.AssignmentColumns([]string{"method", "updated_at"}),
	}).Create(group).Error
}

func (r *Repository) ReplaceSynonymGroupMembers(ctx context.Context, groupID uint64, marketIDs []string) error {
	return r.InTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", groupID).Delete(&models.SynonymGroupMember{}).Error; err != nil {
			return err
		}
		if len(marketIDs) == 0 {
			return nil
		}
		members := make([]models.SynonymGroupMember, 0, len(marketIDs))
		for _, id := range marketIDs {
			members = append(members, models.SynonymGroupMember{GroupID: groupID, MarketID: id})
		}
		return tx.Create(&members).Error
	})
}

func (r *Repository) ListSynonymGroups(ctx context.Context) ([]models.SynonymGroup, error) {
	var out []models.SynonymGroup
	err := r.db.WithContext(ctx).Order("group_id").Find(&out).Error
	return out, err
}

func (r *Repository) ListSynonymMembers(ctx context.Context) (map[uint64][]string, error) {
	var rows []models.SynonymGroupMember
	if err := r.db.WithContext(ctx).Order("group_id, market_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := map[uint64][]string{}
	for _, row := range rows {
		out[row.GroupID] = append(out[row.GroupID], row.MarketID)
	}
	return out, nil
}

func (r *Repository) GetActivePolicy(ctx context.Context) (*models.ExecutionPolicy, error) {
	var item models.ExecutionPolicy
	err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("policy_id").First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) UpsertPolicy(ctx context.Context, policy *models.ExecutionPolicy) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"mode", "max_notional_per_order", "max_concurrent_orders",
			"max_daily_notional", "slippage_bps", "enabled", "updated_at",
		}),
	}).Create(policy).Error
}

func (r *Repository) InsertIntent(ctx context.Context, intent *models.OrderIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *Repository) GetIntentByID(ctx context.Context, intentID uint64) (*models.OrderIntent, error) {
	var item models.OrderIntent
	err := r.db.WithContext(ctx).First(&item, "intent_id = ?", intentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) GetIntentForUpdateTx(ctx context.Context, tx *gorm.DB, intentID uint64) (*models.OrderIntent, error) {
	var item models.OrderIntent
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&item, "intent_id = ?", intentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) UpdateIntentTx(ctx context.Context, tx *gorm.DB, intent *models.OrderIntent) error {
	intent.UpdatedAt = time.Now().UTC()
	return tx.WithContext(ctx).Save(intent).Error
}

func (r *Repository) CountOpenIntentsByMarketTx(ctx context.Context, tx *gorm.DB, marketID string) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&models.OrderIntent{}).
		Where("market_id = ? AND status IN ?", marketID, []string{models.IntentSuggested, models.IntentSent}).
		Count(&count).Error
	return count, err
}

func (r *Repository) SumFilledNotionalSinceTx(ctx context.Context, tx *gorm.DB, since time.Time) (decimal.Decimal, error) {
	var raw struct {
		Total decimal.Decimal
	}
	err := tx.WithContext(ctx).Model(&models.OrderIntent{}).
		Select("COALESCE(SUM(notional), 0) AS total").
		Where("status = ? AND updated_at >= ?", models.IntentFilled, since).
		Scan(&raw).Error
	return raw.Total, err
}

func (r *Repository) ListIntents(ctx context.Context, params repository.ListIntentsParams) ([]models.OrderIntent, error) {
	q := r.db.WithContext(ctx).Model(&models.OrderIntent{})
	if params.Status != "" {
		q = q.Where("status = ?", params.Status)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	var out []models.OrderIntent
	err := q.Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (r *Repository) ExpireOverdueIntents(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.OrderIntent{}).
		Where("status = ? AND created_at + make_interval(secs => ttl_secs) < ?", models.IntentSuggested, now).
		Updates(map[string]any{"status": models.IntentExpired, "updated_at": now})
	return res.RowsAffected, res.Error
}

// RecordRuleKpi folds one emission into the (day, rule_type) row. Averages
// use an exponential moving average so late-day bursts do not wash out the
// morning's gaps.
func (r *Repository) RecordRuleKpi(ctx context.Context, day time.Time, ruleType string, level string, gap float64, estEdgeBps float64) error {
	const alpha = 0.2
	day = day.UTC().Truncate(24 * time.Hour)
	return r.InTx(ctx, func(tx *gorm.DB) error {
		var row models.RuleKpiDaily
		err := tx.Where("day = ? AND rule_type = ?", day, ruleType).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = models.RuleKpiDaily{
				Day:        day,
				RuleType:   ruleType,
				Signals:    1,
				AvgGap:     decimal.NewFromFloat(gap),
				EstEdgeBps: decimal.NewFromFloat(estEdgeBps).Round(4),
			}
			if level == models.LevelP1 {
				row.P1Signals = 1
			}
			return tx.Create(&row).Error
		}
		if err != nil {
			return err
		}
		row.Signals++
		if level == models.LevelP1 {
			row.P1Signals++
		}
		a := decimal.NewFromFloat(alpha)
		keep := decimal.NewFromInt(1).Sub(a)
		row.AvgGap = row.AvgGap.Mul(keep).Add(decimal.NewFromFloat(gap).Mul(a))
		row.EstEdgeBps = row.EstEdgeBps.Mul(keep).Add(decimal.NewFromFloat(estEdgeBps).Mul(a)).Round(4)
		return tx.Save(&row).Error
	})
}

func (r *Repository) ListRuleKpiDaily(ctx context.Context, since time.Time) ([]models.RuleKpiDaily, error) {
	var out []models.RuleKpiDaily
	err := r.db.WithContext(ctx).
		Where("day >= ?", since.UTC().Truncate(24*time.Hour)).
		Order("day DESC, rule_type").
		Find(&out).Error
	return out, err
}

func (r *Repository) InsertAudit(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
