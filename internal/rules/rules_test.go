package rules

import (
	"math"
	"testing"
	"time"

	"github.com/jiliangzhu/MarketPulse-X/internal/models"
	"github.com/jiliangzhu/MarketPulse-X/internal/synonym"
)

func fptr(v float64) *float64 { return &v }

func mkTick(ts time.Time, marketID, optionID string, price, volume, liquidity float64) models.Tick {
	return models.Tick{
		TS:        ts,
		MarketID:  marketID,
		OptionID:  optionID,
		Price:     price,
		Volume:    fptr(volume),
		BestBid:   fptr(price - 0.01),
		BestAsk:   fptr(price + 0.01),
		Liquidity: fptr(liquidity),
	}
}

func mkView(t *testing.T, marketID string, endsIn time.Duration, now time.Time, prices map[string]float64) *View {
	t.Helper()
	market := models.Market{MarketID: marketID, Title: marketID, Status: models.MarketStatusOpen}
	if endsIn > 0 {
		ends := now.Add(endsIn)
		market.EndsAt = &ends
	}
	latest := map[string]models.Tick{}
	var options []models.Option
	for optionID, price := range prices {
		latest[optionID] = mkTick(now, marketID, optionID, price, 100, 500)
		options = append(options, models.Option{OptionID: optionID, MarketID: marketID, Label: optionID})
	}
	return NewView(market, latest, nil, options)
}

func testEngine(now time.Time) *Engine {
	e := NewEngine(newStubRepo(), nil, nil, nil, nil, engineConfig(), NewBreakerTable(time.Minute, 5, 5*time.Minute), 80)
	e.now = func() time.Time { return now }
	return e
}

func TestSumLT1Fires(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := testEngine(now)
	rule := &Rule{RuleID: 1, Name: "sum_lt_1", Type: models.RuleSumLT1, Params: map[string]any{"min_gap": 0.01}}

	view := mkView(t, "m1", 0, now, map[string]float64{"yes": 0.48, "no": 0.49})
	cand := e.evalSumLT1(rule, view)
	if cand == nil {
		t.Fatalf("expected SUM_LT_1 to fire at sum 0.97")
	}
	if cand.level != models.LevelP1 {
		t.Fatalf("level=%s want=P1", cand.level)
	}
	if math.Abs(cand.edgeScore-0.03) > 1e-9 {
		t.Fatalf("edge_score=%v want=0.03", cand.edgeScore)
	}
	if cand.plan == nil || len(cand.plan.Legs) != 2 {
		t.Fatalf("plan legs=%v want=2", cand.plan)
	}
	if cand.extra["sum"].(float64) != 0.97 {
		t.Fatalf("payload sum=%v want=0.97", cand.extra["sum"])
	}
}

func TestSumLT1RespectsGapThreshold(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := testEngine(now)
	rule := &Rule{RuleID: 1, Name: "sum_lt_1", Type: models.RuleSumLT1, Params: map[string]any{"min_gap": 0.05}}

	view := mkView(t, "m1", 0, now, map[string]float64{"yes": 0.48, "no": 0.49})
	if cand := e.evalSumLT1(rule, view); cand != nil {
		t.Fatalf("fired with gap 0.03 under min_gap 0.05")
	}
}

func TestSumLT1SmallGapIsP2(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := testEngine(now)
	rule := &Rule{RuleID: 1, Name: "sum_lt_1", Type: models.RuleSumLT1, Params: map[string]any{"min_gap": 0.01}}

	view := mkView(t, "m1", 0, now, map[string]float64{"yes": 0.49, "no": 0.49})
	cand := e.evalSumLT1(rule, view)
	if cand == nil {
		t.Fatalf("expected fire at sum 0.98")
	}
	if cand.level != models.LevelP2 {
		t.Fatalf("level=%s want=P2 for gap 0.02", cand.level)
	}
}

func TestSpikeDetectPicksLargestMove(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := testEngine(now)
	rule := &Rule{RuleID: 2, Name: "spike", Type: models.RuleSpikeDetect, Params: map[string]any{
		"window_secs": 10, "threshold": 0.03, "min_liquidity": 100,
	}}

	market := models.Market{MarketID: "m1", Title: "m1", Status: models.MarketStatusOpen}
	latest := map[string]models.Tick{
		"a": mkTick(now, "m1", "a", 0.55, 100, 500),
		"b": mkTick(now, "m1", "b", 0.32, 100, 500),
	}
	recent := []models.Tick{
		latest["a"],
		latest["b"],
		mkTick(now.Add(-8*time.Second), "m1", "a", 0.50, 90, 500),
		mkTick(now.Add(-8*time.Second), "m1", "b", 0.40, 90, 500),
	}
	options := []models.Option{{OptionID: "a", Label: "A"}, {OptionID: "b", Label: "B"}}
	view := NewView(market, latest, recent, options)

	cand := e.evalSpike(rule, view)
	if cand == nil {
		t.Fatalf("expected spike to fire")
	}
	if cand.optionID == nil || *cand.optionID != "b" {
		t.Fatalf("option=%v want=b (largest |delta|)", cand.optionID)
	}
	if math.Abs(cand.edgeScore-0.08) > 1e-9 {
		t.Fatalf("edge_score=%v want=0.08", cand.edgeScore)
	}
	if cand.plan.Legs[0].Side != "sell" {
		t.Fatalf("side=%s want=sell for downward spike", cand.plan.Legs[0].Side)
	}
}

func TestSpikeDetectLiquidityFloor(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := testEngine(now)
	rule := &Rule{RuleID: 2, Name: "spike", Type: models.RuleSpikeDetect, Params: map[string]any{
		"window_secs": 10, "threshold": 0.03, "min_liquidity": 1000,
	}}

	market := models.Market{MarketID: "m1", Status: models.MarketStatusOpen}
	latest := map[string]models.Tick{"a": mkTick(now, "m1", "a", 0.55, 100, 500)}
	recent := []models.Tick{latest["a"], mkTick(now.Add(-5*time.Second), "m1", "a", 0.45, 90, 500)}
	view := NewView(market, latest, recent, []models.Option{{OptionID: "a", Label: "A"}})

	if cand := e.evalSpike(rule, view); cand != nil {
		t.Fatalf("fired below liquidity floor")
	}
}

func TestEndgameSweepFiresOnVolumeSurge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := testEngine(now)
	rule := &Rule{RuleID: 3, Name: "endgame", Type: models.RuleEndgameSweep, Params: map[string]any{
		"ends_within_hours": 24, "price_hi": 0.9, "z_hi": 1.0, "min_sigma": 1.0, "window_secs": 60,
	}}

	market := models.Market{MarketID: "m1", Title: "m1", Status: models.MarketStatusClosing}
	ends := now.Add(30 * time.Minute)
	market.EndsAt = &ends
	latest := map[string]models.Tick{"win": mkTick(now, "m1", "win", 0.95, 100, 650)}
	var recent []models.Tick
	recent = append(recent, latest["win"])
	for i := 1; i <= 5; i++ {
		recent = append(recent, mkTick(now.Add(-time.Duration(i*8)*time.Second), "m1", "win", 0.93, 10, 650))
	}
	view := NewView(market, latest, recent, []models.Option{{OptionID: "win", Label: "Sweep"}})

	cand := e.evalEndgame(rule, view)
	if cand == nil {
		t.Fatalf("expected endgame sweep to fire")
	}
	if cand.optionID == nil || *cand.optionID != "win" {
		t.Fatalf("option=%v want=win", cand.optionID)
	}
	z := cand.extra["z_score"].(float64)
	if z < 1.0 {
		t.Fatalf("z=%v want>=1.0", z)
	}
	want := clamp01((0.95 - 0.9) + 0.1*z)
	if math.Abs(cand.edgeScore-round6(want)) > 1e-6 {
		t.Fatalf("edge_score=%v want=%v", cand.edgeScore, round6(want))
	}
}

func TestEndgameSweepIgnoresFarMarkets(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := testEngine(now)
	rule := &Rule{RuleID: 3, Name: "endgame", Type: models.RuleEndgameSweep, Params: map[string]any{
		"ends_within_hours": 24,
	}}
	view := mkView(t, "m1", 80*time.Hour, now, map[string]float64{"win": 0.97})
	if cand := e.evalEndgame(rule, view); cand != nil {
		t.Fatalf("fired on a market 80h from close")
	}
}

func TestTrendBreakout(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := testEngine(now)
	rule := &Rule{RuleID: 4, Name: "trend", Type: models.RuleTrendBreakout, Params: map[string]any{
		"window_secs": 120, "threshold": 0.1,
	}}

	market := models.Market{MarketID: "m1", Status: models.MarketStatusOpen}
	latest := map[string]models.Tick{"a": mkTick(now, "m1", "a", 0.62, 100, 500)}
	var recent []models.Tick
	for i := 1; i <= 5; i++ {
		recent = append(recent, mkTick(now.Add(-time.Duration(i*10)*time.Second), "m1", "a", 0.50, 100, 500))
	}
	view := NewView(market, latest, recent, []models.Option{{OptionID: "a", Label: "A"}})

	cand := e.evalTrendBreakout(rule, view)
	if cand == nil {
		t.Fatalf("expected trend breakout to fire")
	}
	deviation := math.Abs(0.62-0.50) / 0.50
	if math.Abs(cand.edgeScore-round6(clamp01(deviation))) > 1e-6 {
		t.Fatalf("edge_score=%v want=%v", cand.edgeScore, round6(clamp01(deviation)))
	}
	if cand.plan.Legs[0].Side != "buy" {
		t.Fatalf("side=%s want=buy above mean", cand.plan.Legs[0].Side)
	}
}

func groupViews(t *testing.T, now time.Time) (synonym.Group, map[string]*View) {
	t.Helper()
	mkLabelled := func(marketID string, price float64) *View {
		market := models.Market{MarketID: marketID, Title: marketID, Status: models.MarketStatusOpen}
		latest := map[string]models.Tick{
			marketID + "-yes": mkTick(now, marketID, marketID+"-yes", price, 100, 500),
			marketID + "-no":  mkTick(now, marketID, marketID+"-no", 0.45, 100, 500),
		}
		options := []models.Option{
			{OptionID: marketID + "-yes", MarketID: marketID, Label: "Yes"},
			{OptionID: marketID + "-no", MarketID: marketID, Label: "No"},
		}
		return NewView(market, latest, nil, options)
	}
	group := synonym.Group{GroupID: 1, Title: "election", Members: []string{"m1", "m2"}}
	views := map[string]*View{
		"m1": mkLabelled("m1", 0.50),
		"m2": mkLabelled("m2", 0.56),
	}
	return group, views
}

func TestSynonymMispriceLeaderIsCheaper(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := testEngine(now)
	rule := &Rule{RuleID: 5, Name: "syn", Type: models.RuleSynonymMisprice, Params: map[string]any{"threshold": 0.025}}

	group, views := groupViews(t, now)
	cands := e.evalSynonymMisprice(rule, []synonym.Group{group}, views)
	if len(cands) != 1 {
		t.Fatalf("candidates=%d want=1", len(cands))
	}
	cand := cands[0]
	if cand.extra["leader_market"] != "m1" || cand.extra["laggard_market"] != "m2" {
		t.Fatalf("leader=%v laggard=%v want leader=m1 (cheaper) laggard=m2", cand.extra["leader_market"], cand.extra["laggard_market"])
	}
	if math.Abs(cand.gap-0.06) > 1e-9 {
		t.Fatalf("gap=%v want=0.06", cand.gap)
	}
}

func TestCrossMarketMispriceEmitsPairLegs(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := testEngine(now)
	rule := &Rule{RuleID: 6, Name: "cross", Type: models.RuleCrossMarketMisprice, Params: map[string]any{"threshold": 0.05}}

	group, views := groupViews(t, now)
	cands := e.evalCrossMarket(rule, []synonym.Group{group}, views)
	if len(cands) != 1 {
		t.Fatalf("candidates=%d want=1", len(cands))
	}
	legs := cands[0].plan.Legs
	if len(legs) != 2 {
		t.Fatalf("legs=%d want=2", len(legs))
	}
	if legs[0].Side != "buy" || legs[1].Side != "sell" {
		t.Fatalf("sides=%s/%s want=buy/sell", legs[0].Side, legs[1].Side)
	}
	if legs[0].MarketID != "m1" || legs[1].MarketID != "m2" {
		t.Fatalf("legs on %s/%s want m1/m2", legs[0].MarketID, legs[1].MarketID)
	}
}

func TestDutchBookDetect(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := testEngine(now)
	rule := &Rule{RuleID: 7, Name: "dutch", Type: models.RuleDutchBookDetect, Params: map[string]any{"sum_threshold": 0.995}}

	market := models.Market{MarketID: "fed", Title: "fed", Status: models.MarketStatusOpen}
	latest := map[string]models.Tick{
		"hike": mkTick(now, "fed", "hike", 0.30, 100, 500),
		"hold": mkTick(now, "fed", "hold", 0.35, 100, 500),
		"cut":  mkTick(now, "fed", "cut", 0.25, 100, 500),
	}
	options := []models.Option{
		{OptionID: "hike", Label: "Hike"}, {OptionID: "hold", Label: "Hold"}, {OptionID: "cut", Label: "Cut"},
	}
	views := map[string]*View{"fed": NewView(market, latest, nil, options)}
	group := synonym.Group{GroupID: 2, Title: "fed", Members: []string{"fed"}}

	cands := e.evalDutchBook(rule, []synonym.Group{group}, views)
	if len(cands) != 1 {
		t.Fatalf("candidates=%d want=1", len(cands))
	}
	if math.Abs(cands[0].edgeScore-0.1) > 1e-9 {
		t.Fatalf("edge_score=%v want=0.1", cands[0].edgeScore)
	}
	for _, leg := range cands[0].plan.Legs {
		if leg.Side != "buy" {
			t.Fatalf("leg side=%s want=buy", leg.Side)
		}
	}
}

func TestDutchBookDeclaredBasket(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := testEngine(now)
	rule := &Rule{RuleID: 7, Name: "dutch", Type: models.RuleDutchBookDetect, Params: map[string]any{
		"sum_threshold": 0.995,
		"option_ids":    []any{"hike", "hold", "cut"},
	}}

	market := models.Market{MarketID: "fed", Status: models.MarketStatusOpen}
	latest := map[string]models.Tick{
		"hike": mkTick(now, "fed", "hike", 0.30, 100, 500),
		"hold": mkTick(now, "fed", "hold", 0.35, 100, 500),
		"cut":  mkTick(now, "fed", "cut", 0.25, 100, 500),
	}
	views := map[string]*View{"fed": NewView(market, latest, nil, nil)}

	cands := e.evalDutchBook(rule, nil, views)
	if len(cands) != 1 {
		t.Fatalf("candidates=%d want=1 for declared basket", len(cands))
	}
}
