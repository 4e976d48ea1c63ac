package searcher

import (
	"context"

	"github.com/d-j-h/searcher/document"
	"github.com/d-j-h/searcher/internal/service/assemble"
	"github.com/d-j-h/searcher/internal/service/expand"
	"github.com/d-j-h/searcher/internal/service/search"
	"github.com/d-j-h/searcher/internal/service/selector"
)

// Sentinel errors callers can match to decide whether a failed search is
// worth retrying.
var (
	// ErrExpansion is returned when query expansion output cannot be
	// parsed. Expansion is a required upstream step, so the whole search
	// aborts; the request may be retried.
	ErrExpansion = expand.ErrUnparsable
	// ErrBackend is returned when every retrieval leg failed.
	ErrBackend = search.ErrBackend
)

// Engine answers natural-language queries across every configured source
// index: it expands the query, selects relevant indexes, fans the expanded
// phrases out as similarity searches, assembles conversational context for
// chat hits, and fuses everything into one ranked, deduplicated result list.
type Engine struct {
	options Options
	search  *search.Service
}

// Search runs one multi-source search. The request carries a deadline; on
// expiry, in-flight store and model calls are cancelled and an error is
// returned rather than hanging.
func (e *Engine) Search(ctx context.Context, query string, opts ...SearchOption) ([]document.Document, error) {
	options := NewSearchOptions(opts...)

	ctx, cancel := context.WithTimeout(ctx, e.options.Timeout)
	defer cancel()

	return e.search.Search(ctx, query, search.Params{
		TopK:            options.TopK,
		Keywords:        options.Keywords,
		From:            options.From,
		To:              options.To,
		Indexes:         options.Indexes,
		Metadata:        options.Metadata,
		RunLLMReduction: options.LLMReduction,
	})
}

// SearchByAuthor lists one index's documents attributed to a person, in
// ascending time order.
func (e *Engine) SearchByAuthor(ctx context.Context, indexName string, author string, opts ...AuthorOption) ([]document.Document, error) {
	options := NewAuthorOptions(opts...)

	ctx, cancel := context.WithTimeout(ctx, e.options.Timeout)
	defer cancel()

	return e.search.SearchByAuthor(ctx, indexName, author, search.AuthorParams{
		From:     options.From,
		To:       options.To,
		Metadata: options.Metadata,
		Limit:    options.Limit,
	})
}

func New(opts ...Option) *Engine {
	options := NewOptions(opts...)

	targets := make([]search.Target, 0, len(options.Indexes))
	for _, registered := range options.Indexes {
		targets = append(targets, search.Target{
			Descriptor: registered.Descriptor,
			Index:      registered.Index,
		})
	}

	svc := search.New(
		options.Embedder,
		options.Generator,
		expand.New(options.Generator),
		selector.New(options.Generator, options.Parallelism),
		assemble.New(options.ChatStore, options.Window),
		targets,
		options.Parallelism,
	)

	return &Engine{
		options: options,
		search:  svc,
	}
}
