package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	registrysearch "github.com/chirino/cartography/internal/registry/search"
)

func init() {
	registrysearch.Register(registrysearch.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrysearch.Index, error) {
			return New(), nil
		},
	})
}

type entry struct {
	summary map[string]any
	content string
}

// Index keeps summaries in process and scores them by query term frequency.
type Index struct {
	mu      sync.RWMutex
	entries map[string]map[string]entry
}

var _ registrysearch.Index = (*Index)(nil)

// New creates an empty Index.
func New() *Index {
	return &Index{entries: map[string]map[string]entry{}}
}

func bucket(collection, docType string) string { return collection + "/" + docType }

func (x *Index) Index(_ context.Context, collection, docType, id string, summary map[string]any) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	b := bucket(collection, docType)
	if x.entries[b] == nil {
		x.entries[b] = map[string]entry{}
	}
	x.entries[b][id] = entry{summary: summary, content: strings.ToLower(registrysearch.Content(summary))}
	return nil
}

func (x *Index) Delete(_ context.Context, collection, docType, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.entries[bucket(collection, docType)], id)
	return nil
}

func (x *Index) Search(_ context.Context, collection, docType, query string, limit int) ([]registrysearch.Hit, error) {
	terms := strings.Fields(strings.ToLower(query))
	x.mu.RLock()
	defer x.mu.RUnlock()

	hits := []registrysearch.Hit{}
	for id, e := range x.entries[bucket(collection, docType)] {
		var score float64
		for _, term := range terms {
			score += float64(strings.Count(e.content, term))
		}
		if score == 0 && len(terms) > 0 {
			continue
		}
		hits = append(hits, registrysearch.Hit{ID: id, Type: docType, Score: score, Summary: e.summary})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (x *Index) Close() error { return nil }
