package rules

import (
	"encoding/json"
	"sort"
	"time"
)

// TradeLeg is one side of a suggested trade. Reference price is the
// observed price; limit price is the reference clamped by the policy's
// slippage allowance so a later confirm does not get rejected for drift.
type TradeLeg struct {
	MarketID       string  `json:"market_id"`
	OptionID       string  `json:"option_id"`
	Label          string  `json:"label"`
	Side           string  `json:"side"`
	Qty            float64 `json:"qty"`
	ReferencePrice float64 `json:"reference_price"`
	LimitPrice     float64 `json:"limit_price"`
}

type TradePlan struct {
	Action           string     `json:"action"`
	Rationale        string     `json:"rationale"`
	Legs             []TradeLeg `json:"legs"`
	EstimatedEdgeBps float64    `json:"estimated_edge_bps"`
}

type BookEntry struct {
	OptionID  string  `json:"option_id"`
	Label     string  `json:"label"`
	Price     float64 `json:"price"`
	BestBid   float64 `json:"best_bid"`
	BestAsk   float64 `json:"best_ask"`
	Liquidity float64 `json:"liquidity"`
	TS        string  `json:"ts,omitempty"`
}

// SignalPayload is the tagged variant stored in signal.payload. Fields
// specific to one rule family live in Extra; the known keys per tag are
// pinned by tests.
type SignalPayload struct {
	RuleName    string  `json:"rule_name"`
	RuleID      uint64  `json:"rule_id"`
	RuleType    string  `json:"rule_type"`
	MarketTitle string  `json:"market_title,omitempty"`
	Reason      string  `json:"reason"`
	EdgeScore   float64 `json:"edge_score"`
	Transport   string  `json:"transport,omitempty"`

	SuggestedTrade *TradePlan  `json:"suggested_trade,omitempty"`
	BookSnapshot   []BookEntry `json:"book_snapshot,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

func (p *SignalPayload) Marshal(maxBytes int) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && len(raw) > maxBytes {
		// Drop the book snapshot first; it is the bulkiest optional field.
		trimmed := *p
		trimmed.BookSnapshot = nil
		raw, err = json.Marshal(&trimmed)
		if err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func buildLeg(marketID, optionID, label, side string, refPrice float64, slippageBps int) TradeLeg {
	slip := float64(slippageBps) / 10000
	limit := refPrice
	if side == "buy" {
		limit = refPrice * (1 + slip)
		if limit > 0.999 {
			limit = 0.999
		}
	} else {
		limit = refPrice * (1 - slip)
		if limit < 0.001 {
			limit = 0.001
		}
	}
	return TradeLeg{
		MarketID:       marketID,
		OptionID:       optionID,
		Label:          label,
		Side:           side,
		Qty:            1,
		ReferencePrice: round6(refPrice),
		LimitPrice:     round6(limit),
	}
}

func tradePlan(action, rationale string, legs []TradeLeg, estEdgeBps float64) *TradePlan {
	return &TradePlan{
		Action:           action,
		Rationale:        rationale,
		Legs:             legs,
		EstimatedEdgeBps: round6(estEdgeBps),
	}
}

func bookSnapshot(view *View) []BookEntry {
	entries := make([]BookEntry, 0, len(view.Latest))
	for optionID, tick := range view.Latest {
		entries = append(entries, BookEntry{
			OptionID:  optionID,
			Label:     view.Label(optionID),
			Price:     tick.Price,
			BestBid:   f64(tick.BestBid),
			BestAsk:   f64(tick.BestAsk),
			Liquidity: f64(tick.Liquidity),
			TS:        tick.TS.UTC().Format(time.RFC3339Nano),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Label < entries[j].Label })
	return entries
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round6(v float64) float64 {
	const scale = 1e6
	if v < 0 {
		return float64(int64(v*scale-0.5)) / scale
	}
	return float64(int64(v*scale+0.5)) / scale
}

func f64(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
