package rules

import (
	"math"
	"sort"
	"time"

	"github.com/jiliangzhu/MarketPulse-X/internal/models"
)

// View is the per-market evaluation input: the latest tick per option plus
// the rolling lookback window, newest first.
type View struct {
	Market  models.Market
	Latest  map[string]models.Tick
	Recent  []models.Tick
	Options []models.Option

	labels map[string]string
}

func NewView(market models.Market, latest map[string]models.Tick, recent []models.Tick, options []models.Option) *View {
	labels := make(map[string]string, len(options))
	for _, opt := range options {
		labels[opt.OptionID] = opt.Label
	}
	return &View{Market: market, Latest: latest, Recent: recent, Options: options, labels: labels}
}

func (v *View) Label(optionID string) string {
	if label, ok := v.labels[optionID]; ok && label != "" {
		return label
	}
	return optionID
}

// OptionWindow returns the option's ticks within windowSecs of now, oldest
// first.
func (v *View) OptionWindow(optionID string, windowSecs int, now time.Time) []models.Tick {
	cutoff := now.Add(-time.Duration(windowSecs) * time.Second)
	var out []models.Tick
	for i := len(v.Recent) - 1; i >= 0; i-- {
		t := v.Recent[i]
		if t.OptionID != optionID || t.TS.Before(cutoff) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// OptionIDs lists the options that have a latest tick, in stable order.
func (v *View) OptionIDs() []string {
	out := make([]string, 0, len(v.Options))
	seen := map[string]struct{}{}
	for _, opt := range v.Options {
		if _, ok := v.Latest[opt.OptionID]; ok {
			out = append(out, opt.OptionID)
			seen[opt.OptionID] = struct{}{}
		}
	}
	var extra []string
	for id := range v.Latest {
		if _, ok := seen[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// HoursToEnd returns hours until market close, or -1 when no close is set.
func (v *View) HoursToEnd(now time.Time) float64 {
	if v.Market.EndsAt == nil {
		return -1
	}
	h := v.Market.EndsAt.Sub(now).Hours()
	if h < 0 {
		return 0
	}
	return h
}

func rollingMean(ticks []models.Tick) float64 {
	if len(ticks) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range ticks {
		sum += t.Price
	}
	return sum / float64(len(ticks))
}

// volumeZScore computes (last - mean) / max(stddev, minSigma) over the
// window's volumes, oldest first.
func volumeZScore(ticks []models.Tick, minSigma float64) (z float64, ok bool) {
	if len(ticks) < 2 {
		return 0, false
	}
	vols := make([]float64, 0, len(ticks))
	for _, t := range ticks {
		vols = append(vols, f64(t.Volume))
	}
	mean := 0.0
	for _, v := range vols {
		mean += v
	}
	mean /= float64(len(vols))
	variance := 0.0
	for _, v := range vols {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(vols) - 1)
	sigma := math.Sqrt(variance)
	if sigma < minSigma {
		sigma = minSigma
	}
	if sigma == 0 {
		return 0, false
	}
	last := vols[len(vols)-1]
	return (last - mean) / sigma, true
}
