package rules

import (
	"fmt"

	"github.com/jiliangzhu/MarketPulse-X/internal/models"
)

// ENDGAME_SWEEP: near-expiry markets where a high-priced outcome sees a
// volume surge. The z-score uses a floored sigma so a flat volume series
// cannot divide the surge away.
func (e *Engine) evalEndgame(rule *Rule, view *View) *candidate {
	endsWithin := rule.paramF64("ends_within_hours", 24)
	priceHi := rule.paramF64("price_hi", 0.9)
	zHi := rule.paramF64("z_hi", 1.0)
	minSigma := rule.paramF64("min_sigma", 1.0)
	windowSecs := int(rule.paramF64("window_secs", 60))
	now := e.now()

	hours := view.HoursToEnd(now)
	if hours < 0 || hours > endsWithin {
		return nil
	}
	for _, optionID := range view.OptionIDs() {
		latest := view.Latest[optionID]
		if latest.Price < priceHi {
			continue
		}
		window := view.OptionWindow(optionID, windowSecs, now)
		z, ok := volumeZScore(window, minSigma)
		if !ok || z < zHi {
			continue
		}
		label := view.Label(optionID)
		edge := clamp01((latest.Price - priceHi) + 0.1*z)
		metrics := map[string]float64{
			"time_to_end": endsWithin - hours,
			"liquidity":   f64(latest.Liquidity) / 10,
			"vol_surge":   z * 10,
		}
		id := optionID
		return &candidate{
			marketID:   view.Market.MarketID,
			optionID:   &id,
			level:      rule.level(models.LevelP2),
			score:      rule.score(60, metrics),
			edgeScore:  edge,
			reason:     fmt.Sprintf("%s at %.2f with %.1fh left, volume z=%.2f", label, latest.Price, hours, z),
			gap:        latest.Price - priceHi,
			estEdgeBps: (latest.Price - priceHi) * 10000,
			plan: tradePlan(
				"endgame_sweep",
				fmt.Sprintf("Buy %s at %.2f into expiry (z=%.2f)", label, latest.Price, z),
				[]TradeLeg{buildLeg(view.Market.MarketID, optionID, label, "buy", latest.Price, e.SlippageBps)},
				(latest.Price-priceHi)*10000,
			),
			book: bookSnapshot(view),
			extra: map[string]any{
				"z_score":      round6(z),
				"hours_to_end": round6(hours),
			},
		}
	}
	return nil
}
