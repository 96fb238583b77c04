package dictionary

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Reader is the read side of the dictionary store.
type Reader interface {
	GetComponent(ctx context.Context, key string) (ComponentRecord, error)
	ListComponents(ctx context.Context, limit int) ([]ComponentRecord, error)
	ListReferences(ctx context.Context, key string, limit int) ([]ReferenceRecord, error)
	ListReferencesByDoc(ctx context.Context, docID string, limit int) ([]ReferenceRecord, error)
	FindComponents(ctx context.Context, query string, limit int) ([]ComponentRecord, error)
	ComponentNames(ctx context.Context, keys []string) (map[string]string, error)
}

// Match types reported by Catalog lookups.
const (
	MatchKey   = "key"
	MatchQuery = "query"
)

const searchCandidateLimit = 200

// LookupResult is a component with its references.
type LookupResult struct {
	MatchType  string            `json:"match_type"`
	Query      string            `json:"query,omitempty"`
	Score      float64           `json:"score,omitempty"`
	Component  ComponentRecord   `json:"component"`
	References []ReferenceRecord `json:"references"`
}

// ReferenceGroup is the references of one document grouped under a component.
type ReferenceGroup struct {
	ComponentKey string            `json:"component_key"`
	DisplayName  string            `json:"display_name_vi"`
	References   []ReferenceRecord `json:"references"`
}

// Catalog answers terminology lookups against the persisted dictionary.
type Catalog struct {
	reader Reader
}

// NewCatalog wraps a reader.
func NewCatalog(r Reader) *Catalog {
	return &Catalog{reader: r}
}

// ListComponents returns up to limit components.
func (c *Catalog) ListComponents(ctx context.Context, limit int) ([]ComponentRecord, error) {
	return c.reader.ListComponents(ctx, clampLimit(limit))
}

// Lookup returns the component stored under key and up to limit references.
func (c *Catalog) Lookup(ctx context.Context, key string, limit int) (LookupResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return LookupResult{}, errors.New("component key required")
	}
	comp, err := c.reader.GetComponent(ctx, key)
	if err != nil {
		return LookupResult{}, fmt.Errorf("component %q: %w", key, err)
	}
	refs, err := c.reader.ListReferences(ctx, key, clampLimit(limit))
	if err != nil {
		return LookupResult{}, fmt.Errorf("references for %q: %w", key, err)
	}
	return LookupResult{MatchType: MatchKey, Component: comp, References: refs}, nil
}

// Search finds the best component for a free-text query. Candidates come
// from key, display name and alias matches and are ranked with ScoreMatch.
func (c *Catalog) Search(ctx context.Context, query string, limit int) (LookupResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return LookupResult{}, errors.New("query required")
	}
	candidates, err := c.reader.FindComponents(ctx, query, searchCandidateLimit)
	if err != nil {
		return LookupResult{}, fmt.Errorf("search %q: %w", query, err)
	}
	if len(candidates) == 0 {
		return LookupResult{}, fmt.Errorf("search %q: %w", query, ErrNotFound)
	}

	best := candidates[0]
	bestScore := ScoreMatch(query, best)
	for _, cand := range candidates[1:] {
		if s := ScoreMatch(query, cand); s > bestScore {
			best, bestScore = cand, s
		}
	}
	refs, err := c.reader.ListReferences(ctx, best.Key, clampLimit(limit))
	if err != nil {
		return LookupResult{}, fmt.Errorf("references for %q: %w", best.Key, err)
	}
	return LookupResult{
		MatchType:  MatchQuery,
		Query:      query,
		Score:      bestScore,
		Component:  best,
		References: refs,
	}, nil
}

// Inspect groups a document's references by component key, sorted by key.
func (c *Catalog) Inspect(ctx context.Context, docID string, limit int) ([]ReferenceGroup, error) {
	docID = strings.TrimSpace(docID)
	if docID == "" {
		return nil, errors.New("doc_id required")
	}
	refs, err := c.reader.ListReferencesByDoc(ctx, docID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("references for doc %s: %w", docID, err)
	}
	if len(refs) == 0 {
		return nil, nil
	}
	byKey := make(map[string][]ReferenceRecord)
	keys := make([]string, 0)
	for _, r := range refs {
		if _, ok := byKey[r.ComponentKey]; !ok {
			keys = append(keys, r.ComponentKey)
		}
		byKey[r.ComponentKey] = append(byKey[r.ComponentKey], r)
	}
	sort.Strings(keys)
	names, err := c.reader.ComponentNames(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("component names: %w", err)
	}
	groups := make([]ReferenceGroup, 0, len(keys))
	for _, k := range keys {
		name := names[k]
		if name == "" {
			name = k
		}
		groups = append(groups, ReferenceGroup{ComponentKey: k, DisplayName: name, References: byKey[k]})
	}
	return groups, nil
}

// ScoreMatch ranks a component against a query: exact key 1.0, exact alias
// 0.95, exact display name 0.9, partial alias 0.75, partial display name 0.7.
// Comparisons are case-insensitive; partial means either side contains the other.
func ScoreMatch(query string, comp ComponentRecord) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	name := strings.ToLower(strings.TrimSpace(comp.DisplayName))
	if q == strings.ToLower(comp.Key) {
		return 1.0
	}
	aliases := make([]string, 0, len(comp.Aliases))
	for _, a := range comp.Aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if a == q {
			return 0.95
		}
		aliases = append(aliases, a)
	}
	if q == name {
		return 0.9
	}
	for _, a := range aliases {
		if strings.Contains(a, q) || strings.Contains(q, a) {
			return 0.75
		}
	}
	if name != "" && (strings.Contains(name, q) || strings.Contains(q, name)) {
		return 0.7
	}
	return 0
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
