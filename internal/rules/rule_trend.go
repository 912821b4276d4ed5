package rules

import (
	"fmt"
	"math"

	"github.com/jiliangzhu/MarketPulse-X/internal/models"
)

const trendEpsilon = 0.01

// TREND_BREAKOUT: fire when the last price deviates from the rolling mean
// by more than the threshold, relative to the mean.
func (e *Engine) evalTrendBreakout(rule *Rule, view *View) *candidate {
	windowSecs := int(rule.paramF64("window_secs", 120))
	threshold := rule.paramF64("threshold", 0.1)
	now := e.now()

	var (
		bestOption    string
		bestDeviation float64
		bestMean      float64
		bestTick      models.Tick
	)
	for _, optionID := range view.OptionIDs() {
		window := view.OptionWindow(optionID, windowSecs, now)
		if len(window) < 3 {
			continue
		}
		mean := rollingMean(window)
		latest := view.Latest[optionID]
		deviation := math.Abs(latest.Price-mean) / math.Max(mean, trendEpsilon)
		if deviation <= threshold {
			continue
		}
		if bestOption == "" || deviation > bestDeviation {
			bestOption = optionID
			bestDeviation = deviation
			bestMean = mean
			bestTick = latest
		}
	}
	if bestOption == "" {
		return nil
	}

	label := view.Label(bestOption)
	side := "buy"
	if bestTick.Price < bestMean {
		side = "sell"
	}
	edge := clamp01(bestDeviation)
	metrics := map[string]float64{
		"deviation": bestDeviation * 100,
		"liquidity": f64(bestTick.Liquidity) / 10,
	}
	id := bestOption
	return &candidate{
		marketID:   view.Market.MarketID,
		optionID:   &id,
		level:      rule.level(models.LevelP2),
		score:      rule.score(55, metrics),
		edgeScore:  edge,
		reason:     fmt.Sprintf("%s broke %.2f%% from rolling mean %.4f", label, bestDeviation*100, bestMean),
		gap:        bestDeviation,
		estEdgeBps: bestDeviation * 10000,
		plan: tradePlan(
			"trend_breakout",
			fmt.Sprintf("%s trades %.4f vs mean %.4f over %ds", label, bestTick.Price, bestMean, windowSecs),
			[]TradeLeg{buildLeg(view.Market.MarketID, bestOption, label, side, bestTick.Price, e.SlippageBps)},
			bestDeviation*10000,
		),
		book: bookSnapshot(view),
		extra: map[string]any{
			"rolling_mean": round6(bestMean),
			"deviation":    round6(bestDeviation),
		},
	}
}
