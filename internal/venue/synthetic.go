package venue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// SyntheticSource serves a fixed roster of markets with pseudo-random price
// drifts from a reproducible seed, so offline runs and tests are stable. It
// periodically scales a multi-outcome market under 1.0 and surges volume on
// the endgame market so every rule family has something to fire on.
type SyntheticSource struct {
	mu      sync.Mutex
	rng     *rand.Rand
	now     func() time.Time
	markets []Market
	options map[string][]Outcome
	state   map[string]*syntheticBookState
}

type syntheticBookState struct {
	price     float64
	liquidity float64
}

func NewSyntheticSource(seed int64) *SyntheticSource {
	s := &SyntheticSource{
		rng:     rand.New(rand.NewSource(seed)),
		now:     func() time.Time { return time.Now().UTC() },
		options: map[string][]Outcome{},
		state:   map[string]*syntheticBookState{},
	}
	now := s.now()
	ends := func(d time.Duration) *time.Time { t := now.Add(d); return &t }
	starts := func(d time.Duration) *time.Time { t := now.Add(-d); return &t }

	s.markets = []Market{
		{
			MarketID: "mock-election",
			Title:    "Will candidate A win the election?",
			Status:   "open",
			StartsAt: starts(24 * time.Hour),
			EndsAt:   ends(5 * time.Hour),
			Tags:     []string{"politics"},
		},
		{
			MarketID: "mock-election-alt",
			Title:    "Candidate A wins the election",
			Status:   "open",
			StartsAt: starts(24 * time.Hour),
			EndsAt:   ends(5 * time.Hour),
			Tags:     []string{"politics"},
		},
		{
			MarketID: "mock-fed",
			Title:    "Will the Fed raise rates in December?",
			Status:   "open",
			StartsAt: starts(48 * time.Hour),
			EndsAt:   ends(48 * time.Hour),
			Tags:     []string{"rates"},
		},
		{
			MarketID: "mock-endgame",
			Title:    "Will Team X sweep the finals?",
			Status:   "closing",
			StartsAt: starts(72 * time.Hour),
			EndsAt:   ends(25 * time.Minute),
			Tags:     []string{"sports"},
		},
	}
	s.options["mock-election"] = []Outcome{
		{Label: "Yes", TokenID: "mock-election-yes"},
		{Label: "No", TokenID: "mock-election-no"},
	}
	s.options["mock-election-alt"] = []Outcome{
		{Label: "Yes", TokenID: "mock-election-alt-yes"},
		{Label: "No", TokenID: "mock-election-alt-no"},
	}
	s.options["mock-fed"] = []Outcome{
		{Label: "Hike", TokenID: "mock-fed-up"},
		{Label: "Hold", TokenID: "mock-fed-hold"},
		{Label: "Cut", TokenID: "mock-fed-cut"},
	}
	s.options["mock-endgame"] = []Outcome{
		{Label: "Sweep", TokenID: "mock-endgame-yes"},
		{Label: "No sweep", TokenID: "mock-endgame-no"},
	}
	for _, market := range s.markets {
		for _, out := range s.options[market.MarketID] {
			s.state[out.TokenID] = &syntheticBookState{
				price:     0.3 + s.rng.Float64()*0.4,
				liquidity: 200 + s.rng.Float64()*600,
			}
		}
	}
	return s
}

func (s *SyntheticSource) Name() string { return "synthetic" }

func (s *SyntheticSource) ListMarkets(ctx context.Context, limit int, cursor string) ([]Market, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Market, len(s.markets))
	copy(out, s.markets)
	return out, "", nil
}

func (s *SyntheticSource) MarketDetail(ctx context.Context, marketID string) (*MarketDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var market *Market
	for i := range s.markets {
		if s.markets[i].MarketID == marketID {
			market = &s.markets[i]
			break
		}
	}
	if market == nil {
		return nil, &APIError{Status: 404, Body: fmt.Sprintf("unknown market %s", marketID)}
	}
	outs := s.options[marketID]
	outcomes := make([]Outcome, len(outs))
	liquidity := 0.0
	for i, out := range outs {
		st := s.state[out.TokenID]
		p := st.price
		outcomes[i] = Outcome{Label: out.Label, TokenID: out.TokenID, Price: &p}
		liquidity += st.liquidity
	}
	return &MarketDetail{
		MarketID:  market.MarketID,
		Title:     market.Title,
		Status:    market.Status,
		StartsAt:  market.StartsAt,
		EndsAt:    market.EndsAt,
		Outcomes:  outcomes,
		Liquidity: liquidity,
		Volume:    liquidity * 2,
	}, nil
}

func (s *SyntheticSource) Book(ctx context.Context, tokenID string) (*Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[tokenID]
	if !ok {
		return nil, &APIError{Status: 404, Body: fmt.Sprintf("unknown token %s", tokenID)}
	}
	s.drift(tokenID, st)

	price := st.price
	spread := 0.005 + s.rng.Float64()*0.015
	volume := (50 + s.rng.Float64()*250) * (1 + s.rng.Float64())
	return &Book{
		TS:        s.now(),
		Price:     round4(price),
		BestBid:   round4(clampPrice(price - spread)),
		BestAsk:   round4(clampPrice(price + spread)),
		Liquidity: round4(st.liquidity + volume),
	}, nil
}

func (s *SyntheticSource) drift(tokenID string, st *syntheticBookState) {
	delta := -0.02 + s.rng.Float64()*0.04
	if s.rng.Float64() < 0.07 {
		if s.rng.Float64() < 0.5 {
			delta -= 0.08
		} else {
			delta += 0.09
		}
	}
	st.price = clampPrice(st.price + delta)
	st.liquidity = clampRange(st.liquidity-50+s.rng.Float64()*110, 150, 1200)

	// Occasionally drag a whole multi-outcome book under 1.0 so the
	// within-market arbitrage rules have real material.
	if tokenID == "mock-fed-cut" && s.rng.Float64() < 0.35 {
		scale := 0.7 + s.rng.Float64()*0.25
		for _, out := range s.options["mock-fed"] {
			fed := s.state[out.TokenID]
			fed.price = clampPrice(fed.price * scale)
		}
	}
	// Sweep pressure near expiry: push the endgame favorite toward 1.
	if tokenID == "mock-endgame-yes" && s.rng.Float64() < 0.5 {
		st.price = clampPrice(st.price + 0.05)
		if st.price < 0.92 {
			st.price = 0.92
		}
		st.liquidity = 650
	}
}

func clampPrice(p float64) float64 {
	return clampRange(p, 0.01, 0.99)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
