package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/jiliangzhu/MarketPulse-X/internal/alert"
	"github.com/jiliangzhu/MarketPulse-X/internal/config"
	"github.com/jiliangzhu/MarketPulse-X/internal/metrics"
	"github.com/jiliangzhu/MarketPulse-X/internal/models"
	"github.com/jiliangzhu/MarketPulse-X/internal/repository"
	"github.com/jiliangzhu/MarketPulse-X/internal/synonym"
)

// GroupProvider hands the engine its current synonym groups. Satisfied by
// synonym.Matcher.
type GroupProvider interface {
	Groups() []synonym.Group
}

// candidate is a predicate hit before it becomes a persisted signal.
type candidate struct {
	marketID   string
	optionID   *string
	level      string
	score      float64
	edgeScore  float64
	reason     string
	gap        float64
	estEdgeBps float64
	plan       *TradePlan
	book       []BookEntry
	extra      map[string]any
}

// Engine owns the evaluation loop: it scans fresh ticks against every
// enabled rule and gates emissions through cooldowns and circuit breakers.
// Each emission writes the signal, the KPI row and the audit entry one after
// another; these writes do not share a transaction, and a failed KPI or
// audit write is logged without undoing the signal.
type Engine struct {
	Repo        repository.Repository
	Synonyms    GroupProvider
	Notifier    alert.Notifier
	Metrics     *metrics.Registry
	Logger      *zap.Logger
	Config      config.RulesConfig
	Breakers    *BreakerTable
	SlippageBps int

	mu        sync.Mutex
	rules     []Rule
	cooldowns map[string]time.Time
	lastRun   time.Time

	now func() time.Time
}

func NewEngine(repo repository.Repository, groups GroupProvider, notifier alert.Notifier, reg *metrics.Registry, logger *zap.Logger, cfg config.RulesConfig, breakers *BreakerTable, slippageBps int) *Engine {
	if breakers == nil {
		breakers = NewBreakerTable(time.Minute, 5, 5*time.Minute)
	}
	return &Engine{
		Repo:        repo,
		Synonyms:    groups,
		Notifier:    notifier,
		Metrics:     reg,
		Logger:      logger,
		Config:      cfg,
		Breakers:    breakers,
		SlippageBps: slippageBps,
		cooldowns:   map[string]time.Time{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Reload re-reads the rule directory. Called at startup and on the reload
// cron cadence; a broken document keeps the previous rule set.
func (e *Engine) Reload(ctx context.Context) error {
	loader := &Loader{Repo: e.Repo, Logger: e.Logger, Dir: e.Config.Dir}
	rules, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	return nil
}

func (e *Engine) Run(ctx context.Context) error {
	interval := e.Config.EvalInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := e.EvaluateOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				if e.Logger != nil {
					e.Logger.Warn("rule evaluation cycle failed", zap.Error(err))
				}
			}
		}
	}
}

func (e *Engine) EvaluateOnce(ctx context.Context) error {
	start := e.now()
	e.mu.Lock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.Unlock()
	if len(rules) == 0 {
		return nil
	}

	limit := e.Config.MarketLimit
	if limit <= 0 {
		limit = 100
	}
	markets, err := e.Repo.ListMarkets(ctx, repository.ListMarketsParams{Limit: limit})
	if err != nil {
		return err
	}

	lookback := e.Config.LookbackSecs
	if lookback <= 0 {
		lookback = 300
	}
	since := start.Add(-time.Duration(lookback) * time.Second)

	views := make(map[string]*View, len(markets))
	for _, market := range markets {
		if market.Status == models.MarketStatusClosed {
			continue
		}
		latest, err := e.Repo.LatestTicksByMarket(ctx, market.MarketID)
		if err != nil {
			return err
		}
		if len(latest) == 0 {
			continue
		}
		recent, err := e.Repo.RecentTicks(ctx, market.MarketID, since, 250)
		if err != nil {
			return err
		}
		options, err := e.Repo.ListOptionsByMarketID(ctx, market.MarketID)
		if err != nil {
			return err
		}
		views[market.MarketID] = NewView(market, latest, recent, options)
	}

	for _, rule := range rules {
		rule := rule
		if isGroupRule(rule.Type) {
			continue
		}
		for _, view := range views {
			if !rule.InScope(view.Market, marketTags(view.Market)) {
				continue
			}
			if !e.precheck(&rule, view.Market.MarketID) {
				continue
			}
			cand := e.evaluateMarketRule(&rule, view)
			if cand != nil {
				e.emit(ctx, &rule, cand)
			}
		}
	}

	groups := []synonym.Group{}
	if e.Synonyms != nil {
		groups = e.Synonyms.Groups()
	}
	for _, rule := range rules {
		rule := rule
		var cands []*candidate
		switch rule.Type {
		case models.RuleSynonymMisprice:
			cands = e.evalSynonymMisprice(&rule, groups, views)
		case models.RuleCrossMarketMisprice:
			cands = e.evalCrossMarket(&rule, groups, views)
		case models.RuleDutchBookDetect:
			cands = e.evalDutchBook(&rule, groups, views)
		default:
			continue
		}
		for _, cand := range cands {
			if !e.precheck(&rule, cand.marketID) {
				continue
			}
			e.emit(ctx, &rule, cand)
		}
	}

	e.mu.Lock()
	e.lastRun = e.now()
	e.mu.Unlock()
	if e.Metrics != nil {
		e.Metrics.RuleEvalMS.Observe(float64(e.now().Sub(start).Milliseconds()))
	}
	return nil
}

func (e *Engine) evaluateMarketRule(rule *Rule, view *View) *candidate {
	switch rule.Type {
	case models.RuleSumLT1:
		return e.evalSumLT1(rule, view)
	case models.RuleSpikeDetect:
		return e.evalSpike(rule, view)
	case models.RuleEndgameSweep:
		return e.evalEndgame(rule, view)
	case models.RuleTrendBreakout:
		return e.evalTrendBreakout(rule, view)
	}
	return nil
}

// precheck applies the cooldown and breaker gates before the predicate runs.
func (e *Engine) precheck(rule *Rule, marketID string) bool {
	key := cooldownKey(rule.RuleID, marketID)
	cooldown := time.Duration(rule.cooldownSecs()) * time.Second
	e.mu.Lock()
	last, seen := e.cooldowns[key]
	e.mu.Unlock()
	if seen && e.now().Sub(last) < cooldown {
		return false
	}
	if !e.Breakers.Allow(rule.RuleID, marketID) {
		if e.Metrics != nil {
			e.Metrics.BreakerSkipsTotal.WithLabelValues(rule.Type).Inc()
		}
		return false
	}
	return true
}

func (e *Engine) emit(ctx context.Context, rule *Rule, cand *candidate) {
	now := e.now()
	payload := &SignalPayload{
		RuleName:       rule.Name,
		RuleID:         rule.RuleID,
		RuleType:       rule.Type,
		Reason:         cand.reason,
		EdgeScore:      round6(cand.edgeScore),
		Transport:      e.transportMode(),
		SuggestedTrade: cand.plan,
		BookSnapshot:   cand.book,
		Extra:          cand.extra,
	}
	if market, err := e.Repo.GetMarketByID(ctx, cand.marketID); err == nil && market != nil {
		payload.MarketTitle = market.Title
	}
	raw, err := payload.Marshal(e.Config.PayloadMaxBytes)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Warn("signal payload marshal failed", zap.Error(err))
		}
		return
	}
	sig := &models.Signal{
		MarketID:  cand.marketID,
		OptionID:  cand.optionID,
		RuleID:    rule.RuleID,
		Level:     cand.level,
		Score:     cand.score,
		EdgeScore: round6(cand.edgeScore),
		Reason:    cand.reason,
		Payload:   datatypes.JSON(raw),
		CreatedAt: now,
	}
	if err := e.Repo.InsertSignal(ctx, sig); err != nil {
		if e.Logger != nil {
			e.Logger.Warn("signal insert failed", zap.String("rule", rule.Name), zap.Error(err))
		}
		return
	}

	key := cooldownKey(rule.RuleID, cand.marketID)
	e.mu.Lock()
	e.cooldowns[key] = now
	e.mu.Unlock()
	e.Breakers.RecordEmission(rule.RuleID, cand.marketID, Limits{
		Window:   time.Duration(rule.paramF64("breaker_window_secs", 0)) * time.Second,
		Max:      int(rule.paramF64("breaker_max", 0)),
		Cooldown: time.Duration(rule.paramF64("breaker_cooldown_secs", 0)) * time.Second,
	})

	if err := e.Repo.RecordRuleKpi(ctx, now, rule.Type, cand.level, cand.gap, cand.estEdgeBps); err != nil && e.Logger != nil {
		e.Logger.Warn("kpi update failed", zap.String("rule", rule.Name), zap.Error(err))
	}
	meta, _ := json.Marshal(map[string]any{"rule": rule.Name, "market_id": cand.marketID})
	target := fmt.Sprintf("%d", sig.SignalID)
	audit := &models.AuditLog{
		EntryKey: uuid.NewString(),
		Actor:    "rule_engine",
		Action:   "signal_emitted",
		TargetID: &target,
		Meta:     datatypes.JSON(meta),
	}
	if err := e.Repo.InsertAudit(ctx, audit); err != nil && e.Logger != nil {
		e.Logger.Warn("audit insert failed", zap.Error(err))
	}
	if e.Metrics != nil {
		e.Metrics.SignalsTotal.WithLabelValues(rule.Type).Inc()
	}

	if e.Notifier != nil {
		message := e.alertMessage(payload, cand)
		dedupeKey := key
		cooldown := time.Duration(rule.cooldownSecs()) * time.Second
		if _, err := e.Notifier.Send(ctx, message, dedupeKey, cooldown); err != nil {
			if e.Metrics != nil {
				e.Metrics.AlertFailuresTotal.Inc()
			}
			if e.Logger != nil {
				e.Logger.Warn("alert send failed", zap.String("rule", rule.Name), zap.Error(err))
			}
		}
	}
}

// alertMessage renders the compact text payload for the alert transport.
func (e *Engine) alertMessage(payload *SignalPayload, cand *candidate) string {
	title := payload.MarketTitle
	if title == "" {
		title = cand.marketID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\nMarket: %s\nLevel: %s\nEdge: %.4f\nInsight: %s",
		payload.RuleName, title, cand.level, payload.EdgeScore, cand.reason)
	if payload.SuggestedTrade != nil && len(payload.SuggestedTrade.Legs) > 0 {
		bits := make([]string, 0, 3)
		for i, leg := range payload.SuggestedTrade.Legs {
			if i == 3 {
				break
			}
			bits = append(bits, fmt.Sprintf("%s %s:%.3f", strings.ToUpper(leg.Side), leg.Label, leg.ReferencePrice))
		}
		fmt.Fprintf(&b, "\nTrade %s: %s", payload.SuggestedTrade.Action, strings.Join(bits, " | "))
	}
	if len(payload.BookSnapshot) > 0 {
		bits := make([]string, 0, 3)
		for i, entry := range payload.BookSnapshot {
			if i == 3 {
				break
			}
			bits = append(bits, fmt.Sprintf("%s:%.3f", entry.Label, entry.Price))
		}
		fmt.Fprintf(&b, "\nBook: %s", strings.Join(bits, ", "))
	}
	if payload.Transport == alert.StatusDryRun {
		b.WriteString("\ntransport=dry-run")
	}
	return b.String()
}

func (e *Engine) transportMode() string {
	type moder interface{ Mode() string }
	if m, ok := e.Notifier.(moder); ok {
		return m.Mode()
	}
	return ""
}

// LastRun reports the most recent completed cycle for health checks.
func (e *Engine) LastRun() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRun
}

func cooldownKey(ruleID uint64, marketID string) string {
	return fmt.Sprintf("%d:%s", ruleID, marketID)
}

func isGroupRule(ruleType string) bool {
	switch ruleType {
	case models.RuleSynonymMisprice, models.RuleCrossMarketMisprice, models.RuleDutchBookDetect:
		return true
	}
	return false
}

func marketTags(market models.Market) []string {
	if len(market.Tags) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(market.Tags, &tags); err != nil {
		return nil
	}
	return tags
}
