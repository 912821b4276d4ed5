package intent

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jiliangzhu/MarketPulse-X/internal/models"
	"github.com/jiliangzhu/MarketPulse-X/internal/rules"
)

// ErrNoPlan means the signal carries nothing a planner can turn into legs.
var ErrNoPlan = errors.New("intent: signal has no usable trade plan")

// PlanLeg is one leg of the synthesized trade with decimal-safe prices.
type PlanLeg struct {
	MarketID       string          `json:"market_id"`
	OptionID       string          `json:"option_id"`
	Label          string          `json:"label"`
	Side           string          `json:"side"`
	Qty            decimal.Decimal `json:"qty"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	LimitPrice     decimal.Decimal `json:"limit_price"`
}

type Plan struct {
	Action    string    `json:"action"`
	Rationale string    `json:"rationale"`
	Legs      []PlanLeg `json:"legs"`
}

// Notional is Σ qty · reference_price across legs.
func (p *Plan) Notional() decimal.Decimal {
	total := decimal.Zero
	for _, leg := range p.Legs {
		total = total.Add(leg.Qty.Mul(leg.ReferencePrice))
	}
	return total
}

type Overrides struct {
	Side       string
	Qty        *decimal.Decimal
	LimitPrice *decimal.Decimal
	TTLSecs    int
}

// BuildPlan dispatches to the rule-family planner and clamps every leg's
// limit price into the policy's slippage band around its reference.
func BuildPlan(sig *models.Signal, policy *models.ExecutionPolicy, overrides Overrides) (*Plan, *rules.SignalPayload, error) {
	var payload rules.SignalPayload
	if len(sig.Payload) > 0 {
		if err := json.Unmarshal(sig.Payload, &payload); err != nil {
			return nil, nil, fmt.Errorf("intent: decode signal payload: %w", err)
		}
	}
	base, err := plannerFor(payload.RuleType)(sig, &payload)
	if err != nil {
		return nil, nil, err
	}
	if len(base.Legs) == 0 {
		return nil, nil, ErrNoPlan
	}
	for i := range base.Legs {
		leg := &base.Legs[i]
		if overrides.Qty != nil && overrides.Qty.IsPositive() {
			leg.Qty = *overrides.Qty
		}
		if leg.Qty.IsZero() {
			leg.Qty = decimal.NewFromInt(1)
		}
		if i == 0 {
			if overrides.Side != "" {
				leg.Side = overrides.Side
			}
			if overrides.LimitPrice != nil && overrides.LimitPrice.IsPositive() {
				leg.LimitPrice = *overrides.LimitPrice
			}
		}
		leg.LimitPrice = clampLimit(leg.Side, leg.ReferencePrice, leg.LimitPrice, policy.SlippageBps)
	}
	return base, &payload, nil
}

type plannerFunc func(sig *models.Signal, payload *rules.SignalPayload) (*Plan, error)

func plannerFor(ruleType string) plannerFunc {
	switch ruleType {
	case models.RuleSumLT1, models.RuleDutchBookDetect:
		return planBasket
	case models.RuleEndgameSweep:
		return planEndgame
	case models.RuleSynonymMisprice, models.RuleCrossMarketMisprice:
		return planPair
	case models.RuleSpikeDetect, models.RuleTrendBreakout:
		return planSingleLeg
	default:
		return planSingleLeg
	}
}

// planBasket carries every leg of the suggested basket: the edge only exists
// if all outcomes are bought together.
func planBasket(sig *models.Signal, payload *rules.SignalPayload) (*Plan, error) {
	plan := fromSuggested(payload)
	if plan == nil {
		return nil, ErrNoPlan
	}
	for i := range plan.Legs {
		plan.Legs[i].Side = "buy"
	}
	return plan, nil
}

// planEndgame buys the swept outcome; the limit never chases above 0.99.
func planEndgame(sig *models.Signal, payload *rules.SignalPayload) (*Plan, error) {
	plan := fromSuggested(payload)
	if plan == nil {
		return nil, ErrNoPlan
	}
	plan.Legs = plan.Legs[:1]
	leg := &plan.Legs[0]
	leg.Side = "buy"
	priceCap := decimal.NewFromFloat(0.99)
	if leg.LimitPrice.GreaterThan(priceCap) {
		leg.LimitPrice = priceCap
	}
	return plan, nil
}

// planPair keeps exactly the buy/sell pair emitted by the cross-market
// rules.
func planPair(sig *models.Signal, payload *rules.SignalPayload) (*Plan, error) {
	plan := fromSuggested(payload)
	if plan == nil || len(plan.Legs) < 2 {
		return nil, ErrNoPlan
	}
	plan.Legs = plan.Legs[:2]
	return plan, nil
}

func planSingleLeg(sig *models.Signal, payload *rules.SignalPayload) (*Plan, error) {
	plan := fromSuggested(payload)
	if plan == nil {
		return nil, ErrNoPlan
	}
	plan.Legs = plan.Legs[:1]
	return plan, nil
}

func fromSuggested(payload *rules.SignalPayload) *Plan {
	if payload == nil || payload.SuggestedTrade == nil || len(payload.SuggestedTrade.Legs) == 0 {
		return nil
	}
	src := payload.SuggestedTrade
	plan := &Plan{Action: src.Action, Rationale: src.Rationale}
	for _, leg := range src.Legs {
		plan.Legs = append(plan.Legs, PlanLeg{
			MarketID:       leg.MarketID,
			OptionID:       leg.OptionID,
			Label:          leg.Label,
			Side:           leg.Side,
			Qty:            decimal.NewFromFloat(leg.Qty),
			ReferencePrice: decimal.NewFromFloat(leg.ReferencePrice),
			LimitPrice:     decimal.NewFromFloat(leg.LimitPrice),
		})
	}
	return plan
}

// clampLimit pins the limit price inside the slippage band so confirmation
// cannot fail on a price the planner itself produced.
func clampLimit(side string, ref, limit decimal.Decimal, slippageBps int) decimal.Decimal {
	if ref.IsZero() {
		return limit
	}
	allowed := ref.Mul(decimal.NewFromInt(int64(slippageBps))).Div(decimal.NewFromInt(10000))
	if side == "buy" {
		hi := ref.Add(allowed)
		if limit.GreaterThan(hi) {
			return hi
		}
	} else {
		lo := ref.Sub(allowed)
		if limit.LessThan(lo) {
			return lo
		}
	}
	return limit
}
