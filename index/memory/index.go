package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/d-j-h/searcher/index"
)

// memoryIndex keeps entries in process and scans them with cosine
// similarity. It backs tests and small local setups.
type memoryIndex struct {
	options index.Options
	entries map[string]index.Entry
	mtx     sync.RWMutex
}

func (m *memoryIndex) Upsert(ctx context.Context, entries []index.Entry) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, e := range entries {
		cpy := e
		cpy.Embedding = append([]float32(nil), e.Embedding...)
		m.entries[e.ID] = cpy
	}

	return nil
}

func (m *memoryIndex) Search(ctx context.Context, vector []float32, k int, opts ...index.SearchOption) ([]index.Hit, error) {
	if k < 1 {
		return nil, nil
	}

	options := index.NewSearchOptions(opts...)

	m.mtx.RLock()
	defer m.mtx.RUnlock()

	candidates := make([]index.Hit, 0, len(m.entries))

	for _, e := range m.entries {
		if !matches(e, options.Filter) {
			continue
		}
		candidates = append(candidates, index.Hit{
			Content:  e.Content,
			Metadata: e.Metadata,
			Score:    cosineSimilarity(vector, e.Embedding),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	pool := options.Candidates
	if pool > 0 && len(candidates) > pool {
		candidates = candidates[:pool]
	}

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	return candidates, nil
}

func (m *memoryIndex) List(ctx context.Context, filter index.Filter, limit int) ([]index.Hit, error) {
	if limit < 1 {
		return nil, nil
	}

	m.mtx.RLock()
	defer m.mtx.RUnlock()

	matched := make([]index.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if matches(e, filter) {
			matched = append(matched, e)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].PostedAt.Before(matched[j].PostedAt)
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}

	hits := make([]index.Hit, 0, len(matched))
	for _, e := range matched {
		hits = append(hits, index.Hit{Content: e.Content, Metadata: e.Metadata})
	}

	return hits, nil
}

func matches(e index.Entry, f index.Filter) bool {
	if f.IsZero() {
		return true
	}

	if len(f.Keywords) > 0 {
		found := false
		for _, kw := range f.Keywords {
			if strings.Contains(strings.ToLower(e.Content), strings.ToLower(kw)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if !f.From.IsZero() && e.PostedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.PostedAt.After(f.To) {
		return false
	}

	for key, want := range f.Metadata {
		got, exists := e.Metadata[key]
		if !exists || fmt.Sprintf("%v", got) != want {
			return false
		}
	}

	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func NewIndex(opts ...index.Option) *memoryIndex {
	options := index.NewOptions(opts...)

	m := &memoryIndex{
		options: options,
		entries: map[string]index.Entry{},
		mtx:     sync.RWMutex{},
	}

	return m
}
