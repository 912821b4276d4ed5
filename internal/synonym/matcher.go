package synonym

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jiliangzhu/MarketPulse-X/internal/models"
	"github.com/jiliangzhu/MarketPulse-X/internal/repository"
)

// Group is a materialized synonym group handed to the rule engine.
type Group struct {
	GroupID uint64
	Title   string
	Method  string
	Members []string
}

type groupDoc struct {
	Groups []groupEntry `yaml:"groups"`
}

type groupEntry struct {
	Name         string   `yaml:"name"`
	Method       string   `yaml:"method"`
	Keywords     []string `yaml:"keywords"`
	Explicit     []string `yaml:"explicit"`
	GroupMinSize int      `yaml:"group_min_size"`
}

// Matcher builds synonym groups from a declarative document. Explicit
// member lists and keyword phrase matches are supported; the embedding
// method is reserved in the schema but not grouped here.
type Matcher struct {
	Repo   repository.Repository
	Logger *zap.Logger
	Path   string

	mu      sync.RWMutex
	entries []groupEntry
	groups  []Group
}

func NewMatcher(repo repository.Repository, logger *zap.Logger, path string) (*Matcher, error) {
	m := &Matcher{Repo: repo, Logger: logger, Path: path}
	if err := m.loadConfig(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Matcher) loadConfig() error {
	raw, err := os.ReadFile(m.Path)
	if os.IsNotExist(err) {
		m.entries = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("read synonyms document: %w", err)
	}
	var doc groupDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse synonyms document: %w", err)
	}
	for i := range doc.Groups {
		if doc.Groups[i].Name == "" {
			return fmt.Errorf("synonyms document: group %d has no name", i)
		}
		if doc.Groups[i].Method == "" {
			if len(doc.Groups[i].Explicit) > 0 && len(doc.Groups[i].Keywords) == 0 {
				doc.Groups[i].Method = models.SynonymMethodExplicit
			} else {
				doc.Groups[i].Method = models.SynonymMethodKeyword
			}
		}
	}
	m.entries = doc.Groups
	return nil
}

// Refresh rescans markets against the document and rewrites the
// synonym_group tables. Safe to run on a cron cadence.
func (m *Matcher) Refresh(ctx context.Context) error {
	markets, err := m.Repo.ListMarkets(ctx, repository.ListMarketsParams{Limit: 500})
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(markets))
	for _, market := range markets {
		known[market.MarketID] = struct{}{}
	}
	next := make([]Group, 0, len(m.entries))
	for _, entry := range m.entries {
		members := map[string]struct{}{}
		for _, explicit := range entry.Explicit {
			if _, ok := known[explicit]; ok {
				members[explicit] = struct{}{}
			}
		}
		keywords := make([]string, 0, len(entry.Keywords))
		for _, kw := range entry.Keywords {
			keywords = append(keywords, strings.ToLower(kw))
		}
		for _, market := range markets {
			title := strings.ToLower(market.Title)
			for _, kw := range keywords {
				if strings.Contains(title, kw) {
					members[market.MarketID] = struct{}{}
					break
				}
			}
		}
		ids := make([]string, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		minSize := entry.GroupMinSize
		if minSize <= 0 {
			minSize = 2
		}
		if len(ids) < minSize {
			continue
		}
		group := models.SynonymGroup{Method: entry.Method, Title: entry.Name}
		if err := m.Repo.UpsertSynonymGroup(ctx, &group); err != nil {
			return err
		}
		if group.GroupID == 0 {
			// Conflict upserts do not backfill the id; resolve it by title.
			stored, err := m.Repo.ListSynonymGroups(ctx)
			if err != nil {
				return err
			}
			for _, g := range stored {
				if g.Title == entry.Name {
					group.GroupID = g.GroupID
					break
				}
			}
		}
		if err := m.Repo.ReplaceSynonymGroupMembers(ctx, group.GroupID, ids); err != nil {
			return err
		}
		next = append(next, Group{
			GroupID: group.GroupID,
			Title:   entry.Name,
			Method:  entry.Method,
			Members: ids,
		})
		if m.Logger != nil {
			m.Logger.Info("synonym group updated",
				zap.String("group", entry.Name),
				zap.Int("size", len(ids)),
			)
		}
	}
	m.mu.Lock()
	m.groups = next
	m.mu.Unlock()
	return nil
}

// Groups returns the last materialized groups.
func (m *Matcher) Groups() []Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Group, len(m.groups))
	copy(out, m.groups)
	return out
}

// Peers returns the other members of every group containing marketID.
func (m *Matcher) Peers(marketID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, group := range m.groups {
		inGroup := false
		for _, member := range group.Members {
			if member == marketID {
				inGroup = true
				break
			}
		}
		if !inGroup {
			continue
		}
		for _, member := range group.Members {
			if member != marketID {
				seen[member] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
