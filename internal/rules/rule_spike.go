package rules

import (
	"fmt"
	"math"

	"github.com/jiliangzhu/MarketPulse-X/internal/models"
)

// SPIKE_DETECT: fire on the option with the largest |last - window_open|
// move inside the sliding window, provided it clears the threshold and has
// enough liquidity behind it.
func (e *Engine) evalSpike(rule *Rule, view *View) *candidate {
	windowSecs := int(rule.paramF64("window_secs", 10))
	threshold := rule.paramF64("threshold", 0.03)
	minLiq := rule.paramF64("min_liquidity", 0)
	now := e.now()

	var (
		bestOption string
		bestDelta  float64
		bestTick   models.Tick
	)
	for _, optionID := range view.OptionIDs() {
		window := view.OptionWindow(optionID, windowSecs, now)
		if len(window) < 2 {
			continue
		}
		latest := view.Latest[optionID]
		if minLiq > 0 && f64(latest.Liquidity) < minLiq {
			continue
		}
		delta := latest.Price - window[0].Price
		if math.Abs(delta) <= threshold {
			continue
		}
		if bestOption == "" || math.Abs(delta) > math.Abs(bestDelta) {
			bestOption = optionID
			bestDelta = delta
			bestTick = latest
		}
	}
	if bestOption == "" {
		return nil
	}

	direction := "up"
	side := "buy"
	if bestDelta < 0 {
		direction = "down"
		side = "sell"
	}
	label := view.Label(bestOption)
	edge := clamp01(math.Abs(bestDelta))
	metrics := map[string]float64{
		"velocity":  math.Abs(bestDelta) * 100,
		"liquidity": f64(bestTick.Liquidity) / 10,
	}
	optionID := bestOption
	return &candidate{
		marketID:   view.Market.MarketID,
		optionID:   &optionID,
		level:      rule.level(models.LevelP2),
		score:      rule.score(50, metrics),
		edgeScore:  edge,
		reason:     fmt.Sprintf("%s moved %s %.4f over %ds", label, direction, math.Abs(bestDelta), windowSecs),
		gap:        math.Abs(bestDelta),
		estEdgeBps: math.Abs(bestDelta) * 10000,
		plan: tradePlan(
			spikeAction(bestDelta),
			fmt.Sprintf("%s moved %.4f over %ds (%s)", label, bestDelta, windowSecs, direction),
			[]TradeLeg{buildLeg(view.Market.MarketID, bestOption, label, side, bestTick.Price, e.SlippageBps)},
			math.Abs(bestDelta)*10000,
		),
		book: bookSnapshot(view),
		extra: map[string]any{
			"delta":       round6(bestDelta),
			"window_secs": windowSecs,
		},
	}
}

func spikeAction(delta float64) string {
	if delta > 0 {
		return "momentum_follow"
	}
	return "mean_revert"
}
