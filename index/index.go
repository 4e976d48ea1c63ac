package index

import (
	"context"
	"time"

	"github.com/d-j-h/searcher/document"
)

// Index is one named, independently searchable collection of documents from
// a single source type.
type Index interface {
	// Search returns up to k hits ordered by similarity to the vector,
	// scanned from a wider candidate pool when one is configured.
	Search(ctx context.Context, vector []float32, k int, opts ...SearchOption) ([]Hit, error)
	// List returns up to limit hits matching the filter in ascending
	// timestamp order, with no similarity ranking.
	List(ctx context.Context, filter Filter, limit int) ([]Hit, error)
	// Upsert writes entries, replacing any entry that shares an id.
	Upsert(ctx context.Context, entries []Entry) error
}

// Hit is one raw scored result. The caller resolves it into a typed
// document via the source tag on the index's descriptor.
type Hit struct {
	Content  string
	Metadata map[string]any
	Score    float64
}

// Entry is the ingestion-side shape written by source exporters.
type Entry struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Embedding []float32
	PostedAt  time.Time
}

// Descriptor is the static configuration for one index: its name, the
// document variant it yields, and the human-readable description the store
// selector classifies against.
type Descriptor struct {
	Name        string
	Source      document.Source
	Description string
}

// Filter restricts a similarity search. Zero-valued fields contribute no
// clause; a zero filter means pure embedding similarity.
type Filter struct {
	// Keywords match if any one of them appears in the document text.
	Keywords []string
	// From and To bound the document's canonical timestamp, inclusive.
	From time.Time
	To   time.Time
	// Metadata terms must all match exactly.
	Metadata map[string]string
}

func (f Filter) IsZero() bool {
	return len(f.Keywords) == 0 && f.From.IsZero() && f.To.IsZero() && len(f.Metadata) == 0
}
