package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/jiliangzhu/MarketPulse-X/internal/config"
	"github.com/jiliangzhu/MarketPulse-X/internal/metrics"
	"github.com/jiliangzhu/MarketPulse-X/internal/models"
	"github.com/jiliangzhu/MarketPulse-X/internal/repository"
	"github.com/jiliangzhu/MarketPulse-X/internal/venue"
)

type lastValue struct {
	ts    time.Time
	price float64
	bid   float64
	ask   float64
}

type trackedMarket struct {
	marketID  string
	detail    *venue.MarketDetail
	detailAt  time.Time
	optionsOK bool
}

// Pipeline polls the venue on a fixed cadence, fans the book fetches out
// with bounded concurrency, suppresses unchanged ticks against a last-value
// cache and lands the rest in the tick table. Cycles never overlap: a slow
// cycle simply delays the next one.
type Pipeline struct {
	Repo    repository.Repository
	Source  venue.Source
	Metrics *metrics.Registry
	Logger  *zap.Logger
	Config  config.IngestConfig

	// The loop goroutine is the single writer for all of the state below
	// except rng, which concurrent chunk retries share; the mutex covers the
	// Freshness() snapshot used by health checks and the rng draws.
	mu           sync.Mutex
	lastTickAt   time.Time
	lastCycleAt  time.Time
	lastCycleErr error

	lastValues  map[string]lastValue
	tracked     []trackedMarket
	refreshedAt time.Time

	rng *rand.Rand
	now func() time.Time
}

func New(repo repository.Repository, source venue.Source, reg *metrics.Registry, logger *zap.Logger, cfg config.IngestConfig) *Pipeline {
	return &Pipeline{
		Repo:       repo,
		Source:     source,
		Metrics:    reg,
		Logger:     logger,
		Config:     cfg,
		lastValues: map[string]lastValue{},
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (p *Pipeline) Run(ctx context.Context) error {
	interval := p.Config.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		start := p.now()
		err := p.Cycle(ctx)
		if err != nil && !errors.Is(err, context.Canceled) && p.Logger != nil {
			p.Logger.Warn("ingest cycle failed", zap.Error(err))
		}
		p.mu.Lock()
		p.lastCycleAt = p.now()
		p.lastCycleErr = err
		p.mu.Unlock()

		elapsed := p.now().Sub(start)
		wait := interval - elapsed
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Cycle runs one full poll pass. Exposed for tests and for the initial
// bootstrap before the loop starts.
func (p *Pipeline) Cycle(ctx context.Context) error {
	start := p.now()
	if err := p.refreshMarkets(ctx); err != nil {
		return err
	}

	chunkSize := p.Config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 20
	}
	var chunks [][]*trackedMarket
	for i := 0; i < len(p.tracked); i += chunkSize {
		end := i + chunkSize
		if end > len(p.tracked) {
			end = len(p.tracked)
		}
		chunk := make([]*trackedMarket, 0, end-i)
		for j := i; j < end; j++ {
			chunk = append(chunk, &p.tracked[j])
		}
		chunks = append(chunks, chunk)
	}

	var (
		tickMu sync.Mutex
		ticks  []models.Tick
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Config.MaxConcurrency)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			batch, err := p.pollChunkWithRetry(gctx, chunk)
			if err != nil {
				// A chunk that exhausts its retries is telemetry, not a
				// cycle failure.
				if p.Metrics != nil {
					p.Metrics.IngestFailuresTotal.WithLabelValues(p.Source.Name()).Inc()
				}
				if p.Logger != nil && !errors.Is(err, context.Canceled) {
					p.Logger.Warn("ingest chunk failed", zap.Int("markets", len(chunk)), zap.Error(err))
				}
				return nil
			}
			tickMu.Lock()
			ticks = append(ticks, batch...)
			tickMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fresh := p.dedup(ticks)
	if len(fresh) > 0 {
		if err := p.Repo.InsertTicks(ctx, fresh); err != nil {
			return err
		}
		maxTS := fresh[0].TS
		for _, t := range fresh[1:] {
			if t.TS.After(maxTS) {
				maxTS = t.TS
			}
		}
		p.mu.Lock()
		p.lastTickAt = maxTS
		p.mu.Unlock()
		if p.Metrics != nil {
			p.Metrics.IngestLastTickTS.WithLabelValues(p.Source.Name()).Set(float64(maxTS.Unix()))
		}
	}
	if p.Metrics != nil {
		p.Metrics.IngestLatencyMS.WithLabelValues(p.Source.Name()).Observe(float64(p.now().Sub(start).Milliseconds()))
	}
	return nil
}

func (p *Pipeline) refreshMarkets(ctx context.Context) error {
	ttl := p.Config.MarketListTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if len(p.tracked) > 0 && p.now().Sub(p.refreshedAt) < ttl {
		return nil
	}
	limit := p.Config.MarketLimit
	if limit <= 0 {
		limit = 200
	}
	var (
		all    []venue.Market
		cursor string
	)
	for {
		page, next, err := p.Source.ListMarkets(ctx, limit, cursor)
		if err != nil {
			return err
		}
		all = append(all, page...)
		if next == "" || len(all) >= limit {
			break
		}
		cursor = next
	}
	if len(all) > limit {
		all = all[:limit]
	}

	now := p.now()
	rows := make([]models.Market, 0, len(all))
	for _, m := range all {
		rows = append(rows, models.Market{
			MarketID:   m.MarketID,
			Title:      m.Title,
			Status:     normalizeStatus(m.Status),
			StartsAt:   m.StartsAt,
			EndsAt:     m.EndsAt,
			Tags:       marshalTags(m.Tags),
			LastSeenAt: now,
		})
	}
	if err := p.Repo.UpsertMarkets(ctx, rows); err != nil {
		return err
	}

	prior := map[string]trackedMarket{}
	for _, t := range p.tracked {
		prior[t.marketID] = t
	}
	next := make([]trackedMarket, 0, len(all))
	for _, m := range all {
		if m.Status == models.MarketStatusClosed {
			continue
		}
		if t, ok := prior[m.MarketID]; ok {
			next = append(next, t)
		} else {
			next = append(next, trackedMarket{marketID: m.MarketID})
		}
	}
	p.tracked = next
	p.refreshedAt = now
	return nil
}

func (p *Pipeline) pollChunkWithRetry(ctx context.Context, chunk []*trackedMarket) ([]models.Tick, error) {
	maxRetries := p.Config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	base := p.Config.BackoffBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxBackoff := p.Config.BackoffMax
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := base << (attempt - 1)
			if delay > maxBackoff {
				delay = maxBackoff
			}
			// Jitter of ±25% spreads retries across chunks.
			p.mu.Lock()
			jitter := time.Duration(p.rng.Int63n(int64(delay)/2+1)) - delay/4
			p.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay + jitter):
			}
		}
		ticks, err := p.pollChunk(ctx, chunk)
		if err == nil {
			return ticks, nil
		}
		if !venue.Retriable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *Pipeline) pollChunk(ctx context.Context, chunk []*trackedMarket) ([]models.Tick, error) {
	detailTTL := p.Config.MarketListTTL
	if detailTTL <= 0 {
		detailTTL = 10 * time.Minute
	}
	var ticks []models.Tick
	for _, tm := range chunk {
		if tm.detail == nil || p.now().Sub(tm.detailAt) >= detailTTL {
			detail, err := p.Source.MarketDetail(ctx, tm.marketID)
			if err != nil {
				if venue.Retriable(err) {
					return nil, err
				}
				// Fatal for this record only: count it and move on.
				if p.Metrics != nil {
					p.Metrics.SchemaErrorsTotal.WithLabelValues(p.Source.Name()).Inc()
				}
				if p.Logger != nil {
					p.Logger.Warn("market detail rejected", zap.String("market_id", tm.marketID), zap.Error(err))
				}
				continue
			}
			tm.detail = detail
			tm.detailAt = p.now()
			tm.optionsOK = false
		}
		if !tm.optionsOK {
			if err := p.upsertOptions(ctx, tm.detail); err != nil {
				return nil, err
			}
			tm.optionsOK = true
		}
		for _, outcome := range tm.detail.Outcomes {
			book, err := p.Source.Book(ctx, outcome.TokenID)
			if err != nil {
				if venue.Retriable(err) {
					return nil, err
				}
				if p.Metrics != nil {
					p.Metrics.SchemaErrorsTotal.WithLabelValues(p.Source.Name()).Inc()
				}
				continue
			}
			ts := book.TS
			if ts.IsZero() {
				ts = p.now()
			}
			volume := tm.detail.Volume
			liquidity := book.Liquidity
			if liquidity == 0 {
				liquidity = tm.detail.Liquidity
			}
			bid, ask := book.BestBid, book.BestAsk
			ticks = append(ticks, models.Tick{
				TS:        ts,
				MarketID:  tm.marketID,
				OptionID:  outcome.TokenID,
				Price:     resolvePrice(book.Price, outcome.Price),
				Volume:    &volume,
				BestBid:   &bid,
				BestAsk:   &ask,
				Liquidity: &liquidity,
			})
		}
	}
	return ticks, nil
}

func (p *Pipeline) upsertOptions(ctx context.Context, detail *venue.MarketDetail) error {
	now := p.now()
	rows := make([]models.Option, 0, len(detail.Outcomes))
	for _, out := range detail.Outcomes {
		rows = append(rows, models.Option{
			OptionID:   out.TokenID,
			MarketID:   detail.MarketID,
			Label:      out.Label,
			LastSeenAt: now,
		})
	}
	return p.Repo.UpsertOptions(ctx, rows)
}

// dedup drops ticks whose (price, bid, ask) tuple matches the cached value
// inside min_flush_interval, and drops late arrivals that would regress ts
// for their (market, option) key.
func (p *Pipeline) dedup(ticks []models.Tick) []models.Tick {
	minFlush := p.Config.MinFlushInterval
	if minFlush <= 0 {
		minFlush = 10 * time.Second
	}
	fresh := make([]models.Tick, 0, len(ticks))
	for _, tick := range ticks {
		key := tick.MarketID + "|" + tick.OptionID
		cached, seen := p.lastValues[key]
		if seen && tick.TS.Before(cached.ts) {
			continue
		}
		bid, ask := deref(tick.BestBid), deref(tick.BestAsk)
		if seen &&
			cached.price == tick.Price && cached.bid == bid && cached.ask == ask &&
			p.now().Sub(cached.ts) < minFlush {
			continue
		}
		p.lastValues[key] = lastValue{ts: tick.TS, price: tick.Price, bid: bid, ask: ask}
		fresh = append(fresh, tick)
	}
	return fresh
}

// Freshness reports the loop's last activity for the health endpoint.
func (p *Pipeline) Freshness() (lastTick, lastCycle time.Time, lastErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTickAt, p.lastCycleAt, p.lastCycleErr
}

func resolvePrice(bookPrice float64, outcomePrice *float64) float64 {
	if bookPrice > 0 {
		return bookPrice
	}
	if outcomePrice != nil && *outcomePrice > 0 {
		return *outcomePrice
	}
	return 0.5
}

func normalizeStatus(status string) string {
	switch status {
	case models.MarketStatusOpen, models.MarketStatusClosing, models.MarketStatusClosed:
		return status
	case "active":
		return models.MarketStatusOpen
	default:
		return models.MarketStatusOpen
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func marshalTags(tags []string) datatypes.JSON {
	if len(tags) == 0 {
		return nil
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
