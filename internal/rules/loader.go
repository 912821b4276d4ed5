package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"

	"github.com/jiliangzhu/MarketPulse-X/internal/models"
	"github.com/jiliangzhu/MarketPulse-X/internal/repository"
)

var ruleTypes = map[string]struct{}{
	models.RuleSumLT1:              {},
	models.RuleSpikeDetect:         {},
	models.RuleEndgameSweep:        {},
	models.RuleSynonymMisprice:     {},
	models.RuleDutchBookDetect:     {},
	models.RuleCrossMarketMisprice: {},
	models.RuleTrendBreakout:       {},
}

type ruleDoc struct {
	Name    string         `yaml:"name"`
	Type    string         `yaml:"type"`
	Enabled *bool          `yaml:"enabled"`
	Params  map[string]any `yaml:"params"`
	Scope   ruleScope      `yaml:"scope"`
	Dedupe  ruleDedupe     `yaml:"dedupe"`
	Outputs ruleOutputs    `yaml:"outputs"`
}

type ruleScope struct {
	Tags     []string `yaml:"tags"`
	Statuses []string `yaml:"statuses"`
}

type ruleDedupe struct {
	CooldownSecs int `yaml:"cooldown_secs"`
}

type ruleOutputs struct {
	Level string          `yaml:"level"`
	Score ruleScoreConfig `yaml:"score"`
}

type ruleScoreConfig struct {
	Base    float64            `yaml:"base"`
	Weights map[string]float64 `yaml:"weights"`
}

// Rule is one loaded, enabled rule with its persisted identity.
type Rule struct {
	RuleID  uint64
	Name    string
	Type    string
	Params  map[string]any
	Scope   ruleScope
	Dedupe  ruleDedupe
	Outputs ruleOutputs
}

func (r *Rule) paramF64(key string, def float64) float64 {
	raw, ok := r.Params[key]
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f
		}
	}
	return def
}

func (r *Rule) paramStrings(key string) []string {
	raw, ok := r.Params[key]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprintf("%v", item))
	}
	return out
}

func (r *Rule) cooldownSecs() int {
	if r.Dedupe.CooldownSecs > 0 {
		return r.Dedupe.CooldownSecs
	}
	return 300
}

func (r *Rule) level(def string) string {
	if r.Outputs.Level != "" {
		return r.Outputs.Level
	}
	return def
}

// InScope applies the rule's optional tag/status filter to a market.
func (r *Rule) InScope(market models.Market, tags []string) bool {
	if len(r.Scope.Statuses) > 0 {
		found := false
		for _, st := range r.Scope.Statuses {
			if st == market.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(r.Scope.Tags) > 0 {
		for _, want := range r.Scope.Tags {
			for _, have := range tags {
				if strings.EqualFold(want, have) {
					return true
				}
			}
		}
		return false
	}
	return true
}

// score composes the weighted metric score the way the declarative outputs
// block describes, clamped to [0, 100].
func (r *Rule) score(defBase float64, metrics map[string]float64) float64 {
	base := r.Outputs.Score.Base
	if base == 0 {
		base = defBase
	}
	score := base
	for key, weight := range r.Outputs.Score.Weights {
		score += weight * metrics[key]
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return round2(score)
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// Loader reads one YAML document per rule from a directory and persists each
// to rule_def, bumping the version only when the document content changed.
type Loader struct {
	Repo   repository.Repository
	Logger *zap.Logger
	Dir    string
}

func (l *Loader) Load(ctx context.Context) ([]Rule, error) {
	paths, err := filepath.Glob(filepath.Join(l.Dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	var out []Rule
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rule %s: %w", path, err)
		}
		var doc ruleDoc
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse rule %s: %w", path, err)
		}
		if doc.Name == "" {
			doc.Name = strings.TrimSuffix(filepath.Base(path), ".yaml")
		}
		if _, ok := ruleTypes[doc.Type]; !ok {
			return nil, fmt.Errorf("rule %s: unknown type %q", doc.Name, doc.Type)
		}
		enabled := true
		if doc.Enabled != nil {
			enabled = *doc.Enabled
		}
		def, err := l.persist(ctx, doc, enabled, string(raw))
		if err != nil {
			return nil, err
		}
		if !enabled {
			continue
		}
		out = append(out, Rule{
			RuleID:  def.RuleID,
			Name:    doc.Name,
			Type:    doc.Type,
			Params:  doc.Params,
			Scope:   doc.Scope,
			Dedupe:  doc.Dedupe,
			Outputs: doc.Outputs,
		})
	}
	if l.Logger != nil {
		l.Logger.Info("rules loaded", zap.Int("count", len(out)))
	}
	return out, nil
}

func (l *Loader) persist(ctx context.Context, doc ruleDoc, enabled bool, raw string) (*models.RuleDef, error) {
	params := doc.Params
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	existing, err := l.Repo.GetRuleDefByName(ctx, doc.Name)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		def := &models.RuleDef{
			Name:    doc.Name,
			Type:    doc.Type,
			Enabled: enabled,
			Params:  datatypes.JSON(paramsJSON),
			RawYAML: raw,
			Version: 1,
		}
		if err := l.Repo.SaveRuleDef(ctx, def); err != nil {
			return nil, err
		}
		return def, nil
	}
	if existing.RawYAML == raw && existing.Enabled == enabled {
		return existing, nil
	}
	existing.Type = doc.Type
	existing.Enabled = enabled
	existing.Params = datatypes.JSON(paramsJSON)
	existing.RawYAML = raw
	existing.Version++
	if err := l.Repo.SaveRuleDef(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}
