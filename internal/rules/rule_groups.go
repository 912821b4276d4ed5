package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/jiliangzhu/MarketPulse-X/internal/models"
	"github.com/jiliangzhu/MarketPulse-X/internal/synonym"
)

// labelledOption is one option of a group member keyed by its lowercased
// label, carrying what the cross-market rules compare.
type labelledOption struct {
	marketID  string
	market    models.Market
	optionID  string
	label     string
	price     float64
	liquidity float64
}

// labelledOptions dedupes a member's options by lowercased label, keeping
// the most liquid carrier per label.
func labelledOptions(view *View) map[string]labelledOption {
	out := map[string]labelledOption{}
	for _, optionID := range view.OptionIDs() {
		tick := view.Latest[optionID]
		label := strings.TrimSpace(view.Label(optionID))
		if label == "" {
			continue
		}
		key := strings.ToLower(label)
		entry := labelledOption{
			marketID:  view.Market.MarketID,
			market:    view.Market,
			optionID:  optionID,
			label:     label,
			price:     tick.Price,
			liquidity: f64(tick.Liquidity),
		}
		if prev, ok := out[key]; ok && prev.liquidity >= entry.liquidity {
			continue
		}
		out[key] = entry
	}
	return out
}

type pairHit struct {
	gap     float64
	label   string
	leader  labelledOption
	laggard labelledOption
}

// bestPair scans a group's members pairwise and returns the widest aligned
// label gap. The leader is the cheaper leg, the laggard the richer one.
func bestPair(group synonym.Group, views map[string]*View, threshold, minLiq float64) *pairHit {
	type memberMap struct {
		marketID string
		options  map[string]labelledOption
	}
	members := make([]memberMap, 0, len(group.Members))
	for _, marketID := range group.Members {
		view, ok := views[marketID]
		if !ok {
			continue
		}
		opts := labelledOptions(view)
		if len(opts) == 0 {
			continue
		}
		members = append(members, memberMap{marketID: marketID, options: opts})
	}
	if len(members) < 2 {
		return nil
	}
	var best *pairHit
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			for key, a := range members[i].options {
				b, ok := members[j].options[key]
				if !ok {
					continue
				}
				if minLiq > 0 && math.Min(a.liquidity, b.liquidity) < minLiq {
					continue
				}
				gap := math.Abs(a.price - b.price)
				if gap <= threshold {
					continue
				}
				leader, laggard := a, b
				if leader.price > laggard.price {
					leader, laggard = laggard, leader
				}
				if best == nil || gap > best.gap {
					best = &pairHit{gap: gap, label: a.label, leader: leader, laggard: laggard}
				}
			}
		}
	}
	return best
}

// SYNONYM_MISPRICE: widest pairwise price gap for the same outcome label
// across a synonym group. One signal per group, anchored on the laggard.
func (e *Engine) evalSynonymMisprice(rule *Rule, groups []synonym.Group, views map[string]*View) []*candidate {
	threshold := rule.paramF64("threshold", 0.025)
	minLiq := rule.paramF64("min_liquidity", 0)
	var out []*candidate
	for _, group := range groups {
		hit := bestPair(group, views, threshold, minLiq)
		if hit == nil {
			continue
		}
		edge := clamp01(hit.gap)
		metrics := map[string]float64{
			"gap":       hit.gap * 100,
			"liquidity": math.Min(hit.leader.liquidity, hit.laggard.liquidity) / 10,
		}
		out = append(out, &candidate{
			marketID:   hit.laggard.marketID,
			level:      rule.level(models.LevelP2),
			score:      rule.score(65, metrics),
			edgeScore:  edge,
			reason:     fmt.Sprintf("%q priced %.4f vs %.4f across group %q (gap %.2f%%)", hit.label, hit.leader.price, hit.laggard.price, group.Title, hit.gap*100),
			gap:        hit.gap,
			estEdgeBps: hit.gap * 10000,
			book:       groupBookSnapshot(views[hit.laggard.marketID]),
			extra: map[string]any{
				"group":          group.Title,
				"target_label":   hit.label,
				"leader_market":  hit.leader.marketID,
				"laggard_market": hit.laggard.marketID,
			},
			plan: tradePlan(
				"synonym_pair",
				fmt.Sprintf("Buy %q on %s at %.4f, sell on %s at %.4f", hit.label, hit.leader.marketID, hit.leader.price, hit.laggard.marketID, hit.laggard.price),
				[]TradeLeg{
					buildLeg(hit.leader.marketID, hit.leader.optionID, hit.label, "buy", hit.leader.price, e.SlippageBps),
					buildLeg(hit.laggard.marketID, hit.laggard.optionID, hit.label, "sell", hit.laggard.price, e.SlippageBps),
				},
				hit.gap*10000,
			),
		})
	}
	return out
}

// CROSS_MARKET_MISPRICE: pairs options with the same case-insensitive label
// alignment as SYNONYM_MISPRICE, defaults to level P1, lists both legs as
// comparables and always ships the two-leg pair plan; emits on every group
// whose aligned labels diverge past the threshold.
func (e *Engine) evalCrossMarket(rule *Rule, groups []synonym.Group, views map[string]*View) []*candidate {
	threshold := rule.paramF64("threshold", 0.05)
	minLiq := rule.paramF64("min_liquidity", 0)
	var out []*candidate
	for _, group := range groups {
		hit := bestPair(group, views, threshold, minLiq)
		if hit == nil {
			continue
		}
		edge := clamp01(hit.gap)
		metrics := map[string]float64{
			"gap":       hit.gap * 100,
			"liquidity": math.Min(hit.leader.liquidity, hit.laggard.liquidity) / 10,
		}
		legs := []TradeLeg{
			buildLeg(hit.leader.marketID, hit.leader.optionID, hit.label, "buy", hit.leader.price, e.SlippageBps),
			buildLeg(hit.laggard.marketID, hit.laggard.optionID, hit.label, "sell", hit.laggard.price, e.SlippageBps),
		}
		out = append(out, &candidate{
			marketID:   hit.laggard.marketID,
			level:      rule.level(models.LevelP1),
			score:      rule.score(65, metrics),
			edgeScore:  edge,
			reason:     fmt.Sprintf("%q misprice %.2f%% between %s and %s", hit.label, hit.gap*100, hit.leader.marketID, hit.laggard.marketID),
			gap:        hit.gap,
			estEdgeBps: hit.gap * 10000,
			book:       groupBookSnapshot(views[hit.laggard.marketID]),
			extra: map[string]any{
				"group":          group.Title,
				"target_label":   hit.label,
				"leader_market":  hit.leader.marketID,
				"laggard_market": hit.laggard.marketID,
				"comparables": []map[string]any{
					{"market_id": hit.leader.marketID, "price": round6(hit.leader.price), "role": "leader"},
					{"market_id": hit.laggard.marketID, "price": round6(hit.laggard.price), "role": "laggard"},
				},
			},
			plan: tradePlan(
				"cross_market_pair",
				fmt.Sprintf("Buy %s %q at %.4f and sell %s %q at %.4f, gap %.2f%%",
					hit.leader.marketID, hit.label, hit.leader.price,
					hit.laggard.marketID, hit.label, hit.laggard.price, hit.gap*100),
				legs,
				hit.gap*10000,
			),
		})
	}
	return out
}

// DUTCH_BOOK_DETECT: a basket of disjoint outcomes priced below one. The
// basket comes from params.option_ids when declared, otherwise each market's
// full book inside a synonym group is checked.
func (e *Engine) evalDutchBook(rule *Rule, groups []synonym.Group, views map[string]*View) []*candidate {
	sumThreshold := rule.paramF64("sum_threshold", 0.995)
	minLiq := rule.paramF64("min_liquidity", 0)
	declared := rule.paramStrings("option_ids")

	var out []*candidate
	check := func(view *View, optionIDs []string, groupTitle string) {
		if len(optionIDs) < 2 {
			return
		}
		sum := 0.0
		worstLiq := -1.0
		legs := make([]TradeLeg, 0, len(optionIDs))
		for _, optionID := range optionIDs {
			tick, ok := view.Latest[optionID]
			if !ok {
				return
			}
			sum += tick.Price
			liq := f64(tick.Liquidity)
			if worstLiq < 0 || liq < worstLiq {
				worstLiq = liq
			}
			legs = append(legs, buildLeg(view.Market.MarketID, optionID, view.Label(optionID), "buy", tick.Price, e.SlippageBps))
		}
		if sum >= sumThreshold {
			return
		}
		if minLiq > 0 && worstLiq < minLiq {
			return
		}
		edge := clamp01(1 - sum)
		metrics := map[string]float64{
			"edge":      edge * 100,
			"liquidity": worstLiq / 10,
		}
		extra := map[string]any{"total_price": round6(sum)}
		if groupTitle != "" {
			extra["group"] = groupTitle
		}
		out = append(out, &candidate{
			marketID:   view.Market.MarketID,
			level:      rule.level(models.LevelP1),
			score:      rule.score(75, metrics),
			edgeScore:  edge,
			reason:     fmt.Sprintf("Dutch book: %d legs sum to %.4f (edge %.2f%%)", len(legs), sum, edge*100),
			gap:        1 - sum,
			estEdgeBps: (1 - sum) * 10000,
			book:       groupBookSnapshot(view),
			extra:      extra,
			plan: tradePlan(
				"dutch_book_basket",
				fmt.Sprintf("Allocate across %d legs to capture %.2f%% Dutch edge", len(legs), edge*100),
				legs,
				(1-sum)*10000,
			),
		})
	}

	if len(declared) > 0 {
		for _, view := range views {
			covered := make([]string, 0, len(declared))
			for _, id := range declared {
				if _, ok := view.Latest[id]; ok {
					covered = append(covered, id)
				}
			}
			if len(covered) == len(declared) {
				check(view, covered, "")
			}
		}
		return out
	}
	for _, group := range groups {
		for _, marketID := range group.Members {
			view, ok := views[marketID]
			if !ok {
				continue
			}
			check(view, view.OptionIDs(), group.Title)
		}
	}
	return out
}

func groupBookSnapshot(view *View) []BookEntry {
	if view == nil {
		return nil
	}
	return bookSnapshot(view)
}
