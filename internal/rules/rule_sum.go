package rules

import (
	"fmt"

	"github.com/jiliangzhu/MarketPulse-X/internal/models"
)

// SUM_LT_1: for a market whose outcome probabilities should sum to one,
// fire when Σ last_price < 1 - min_gap. The gap itself is the edge.
func (e *Engine) evalSumLT1(rule *Rule, view *View) *candidate {
	optionIDs := view.OptionIDs()
	if len(optionIDs) < 2 {
		return nil
	}
	minGap := rule.paramF64("min_gap", 0.01)
	minLiq := rule.paramF64("min_liquidity", 0)

	sum := 0.0
	worstLiq := -1.0
	legs := make([]TradeLeg, 0, len(optionIDs))
	for _, optionID := range optionIDs {
		tick := view.Latest[optionID]
		sum += tick.Price
		liq := f64(tick.Liquidity)
		if worstLiq < 0 || liq < worstLiq {
			worstLiq = liq
		}
		legs = append(legs, buildLeg(view.Market.MarketID, optionID, view.Label(optionID), "buy", tick.Price, e.SlippageBps))
	}
	gap := 1 - sum
	if gap <= minGap {
		return nil
	}
	if minLiq > 0 && worstLiq < minLiq {
		return nil
	}

	level := models.LevelP2
	if gap > 0.03 {
		level = models.LevelP1
	}
	edge := clamp01(gap)
	metrics := map[string]float64{
		"edge":      gap * 100,
		"liquidity": worstLiq / 10,
	}
	reason := fmt.Sprintf("book sums to %.4f (gap %.2f%%), sum=%.4f", sum, gap*100, sum)
	return &candidate{
		marketID:   view.Market.MarketID,
		level:      level,
		score:      rule.score(70, metrics),
		edgeScore:  edge,
		reason:     reason,
		gap:        gap,
		estEdgeBps: gap * 10000,
		plan: tradePlan(
			"sum_basket",
			fmt.Sprintf("Buy all %d outcomes at Σ=%.4f for a %.2f%% edge at settlement", len(legs), sum, gap*100),
			legs,
			gap*10000,
		),
		book:  bookSnapshot(view),
		extra: map[string]any{"sum": round6(sum)},
	}
}
