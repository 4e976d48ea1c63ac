package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/d-j-h/searcher/document"
	"github.com/d-j-h/searcher/embedder"
	"github.com/d-j-h/searcher/generator"
	"github.com/d-j-h/searcher/index"
	"github.com/d-j-h/searcher/internal/service/assemble"
	"github.com/d-j-h/searcher/internal/service/expand"
	"github.com/d-j-h/searcher/internal/service/selector"
)

// ErrBackend marks a search where every retrieval leg failed. Callers may
// retry; it is never silently collapsed into an empty result.
var ErrBackend = errors.New("retrieval backends unavailable")

const (
	defaultTopK = 5

	// candidateMultiplier widens each index's scan pool beyond top_k so
	// post-retrieval dedup and fusion have enough material to work with.
	candidateMultiplier = 10
)

const reducePrompt = `Decide whether the following document is relevant to
answering the query.

Query: %s

Document:
%s

Reply with JSON only, in the shape: {"accept": true} or {"accept": false}`

// Target pairs a configured index with its descriptor.
type Target struct {
	Descriptor index.Descriptor
	Index      index.Index
}

// Params are the caller-facing knobs of one search request.
type Params struct {
	TopK            int
	Keywords        []string
	From            time.Time
	To              time.Time
	Indexes         []string
	Metadata        map[string]string
	RunLLMReduction bool
}

type Service struct {
	embedder    embedder.Embedder
	generator   generator.Generator
	expander    *expand.Service
	selector    *selector.Service
	assembler   *assemble.Service
	targets     []Target
	parallelism int
}

// Search fans the query out over every (expanded phrase, selected index)
// pair and fuses the scored hits into a ranked, deduplicated, bounded list.
func (s *Service) Search(ctx context.Context, query string, params Params) ([]document.Document, error) {
	query = strings.TrimSpace(query)
	if len(query) == 0 {
		return nil, errors.New("query is required")
	}

	topK := params.TopK
	if topK < 1 {
		topK = defaultTopK
	}

	filter := index.Filter{
		Keywords: params.Keywords,
		From:     params.From,
		To:       params.To,
		Metadata: params.Metadata,
	}

	expansion, err := s.expander.Expand(ctx, query)
	if err != nil {
		return nil, err
	}

	// The unexpanded query is always searched, even when expansion adds
	// nothing of value.
	phrases := append(expansion.Phrases, query)

	targets, err := s.selectTargets(ctx, query, params.Indexes)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}

	collected, legErr, err := s.fanOut(ctx, phrases, targets, filter, topK)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(collected, func(i, j int) bool {
		return collected[i].Score() > collected[j].Score()
	})

	deduped := dedupe(collected)

	if len(deduped) == 0 && legErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, legErr)
	}

	if !params.RunLLMReduction {
		if len(deduped) > topK {
			deduped = deduped[:topK]
		}
		return deduped, nil
	}

	return s.reduce(ctx, query, deduped, topK)
}

// selectTargets resolves the index set for this request: an explicit pin
// intersects with the configured indexes, otherwise the store selector
// classifies every descriptor.
func (s *Service) selectTargets(ctx context.Context, query string, pinned []string) ([]Target, error) {
	if len(pinned) > 0 {
		wanted := make(map[string]struct{}, len(pinned))
		for _, name := range pinned {
			wanted[name] = struct{}{}
		}

		var targets []Target
		for _, t := range s.targets {
			if _, ok := wanted[t.Descriptor.Name]; ok {
				targets = append(targets, t)
			}
		}
		return targets, nil
	}

	descriptors := make([]index.Descriptor, 0, len(s.targets))
	for _, t := range s.targets {
		descriptors = append(descriptors, t.Descriptor)
	}

	selected, err := s.selector.Select(ctx, query, descriptors)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Target, len(s.targets))
	for _, t := range s.targets {
		byName[t.Descriptor.Name] = t
	}

	targets := make([]Target, 0, len(selected))
	for _, d := range selected {
		targets = append(targets, byName[d.Name])
	}

	return targets, nil
}

// fanOut embeds each phrase once and runs it against every target on a
// bounded worker group. A failing leg is logged and skipped; the first leg
// error is reported so an all-legs-down search can escalate.
func (s *Service) fanOut(ctx context.Context, phrases []string, targets []Target, filter index.Filter, topK int) ([]document.Document, error, error) {
	g, gctx := errgroup.WithContext(ctx)

	sem := make(chan struct{}, s.parallelism)

	var mtx sync.Mutex
	var collected []document.Document
	var legErr error

	recordErr := func(err error) {
		mtx.Lock()
		if legErr == nil {
			legErr = err
		}
		mtx.Unlock()
	}

	searchOpts := []index.SearchOption{
		index.WithCandidates(candidateMultiplier * topK),
	}
	if !filter.IsZero() {
		searchOpts = append(searchOpts, index.WithFilter(filter))
	}

	for _, phrase := range phrases {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}

			vector, err := s.embedder.Embed(gctx, phrase)
			if err != nil {
				slog.WarnContext(gctx, "phrase embedding failed, skipping phrase", "error", err)
				recordErr(err)
				return nil
			}

			for _, t := range targets {
				hits, err := t.Index.Search(gctx, vector, topK, searchOpts...)
				if err != nil {
					slog.WarnContext(gctx, "retrieval leg failed, skipping", "index", t.Descriptor.Name, "error", err)
					recordErr(err)
					continue
				}

				docs := s.resolve(gctx, t.Descriptor, hits)

				mtx.Lock()
				collected = append(collected, docs...)
				mtx.Unlock()
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return collected, legErr, nil
}

// resolve turns raw hits into typed documents, routing chat hits through
// the context assembler.
func (s *Service) resolve(ctx context.Context, desc index.Descriptor, hits []index.Hit) []document.Document {
	docs := make([]document.Document, 0, len(hits))

	for _, hit := range hits {
		doc, err := document.New(desc.Source, hit.Content, hit.Metadata, hit.Score)
		if err != nil {
			slog.WarnContext(ctx, "dropping unresolvable hit", "index", desc.Name, "error", err)
			continue
		}
		docs = append(docs, doc)
	}

	if desc.Source != document.SourceChat {
		return docs
	}

	messages := make([]document.ChatMessage, 0, len(docs))
	for _, doc := range docs {
		if msg, ok := doc.(document.ChatMessage); ok {
			messages = append(messages, msg)
		}
	}

	assembled := s.assembler.Assemble(ctx, messages)

	out := make([]document.Document, 0, len(assembled))
	for _, msg := range assembled {
		out = append(out, msg)
	}

	return out
}

// dedupe keeps the first occurrence of each identity key. The input is
// already sorted by score descending, so first-occurrence-wins is
// highest-score-wins.
func dedupe(docs []document.Document) []document.Document {
	seen := make(map[string]struct{}, len(docs))
	out := make([]document.Document, 0, len(docs))

	for _, d := range docs {
		id := d.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, d)
	}

	return out
}

// reduce walks the ranked candidates through an LLM relevance gate and
// stops as soon as topK have been accepted. Candidates past that point are
// never evaluated, which bounds call volume per request.
func (s *Service) reduce(ctx context.Context, query string, docs []document.Document, topK int) ([]document.Document, error) {
	kept := make([]document.Document, 0, topK)

	for _, d := range docs {
		if len(kept) >= topK {
			break
		}

		rsp, err := s.generator.Generate(ctx, fmt.Sprintf(reducePrompt, query, d.Content()))
		if err != nil {
			if ctx.Err() != nil {
				return kept, ctx.Err()
			}
			slog.WarnContext(ctx, "relevance gate call failed, dropping candidate", "id", d.ID(), "error", err)
			continue
		}

		var v struct {
			Accept bool `json:"accept"`
		}
		if err := json.Unmarshal(expand.ExtractJSON(rsp), &v); err != nil {
			slog.WarnContext(ctx, "relevance gate response is not valid JSON, dropping candidate", "id", d.ID(), "error", err)
			continue
		}

		if v.Accept {
			kept = append(kept, d)
		}
	}

	return kept, nil
}

func New(
	emb embedder.Embedder,
	gen generator.Generator,
	expander *expand.Service,
	sel *selector.Service,
	assembler *assemble.Service,
	targets []Target,
	parallelism int,
) *Service {
	if parallelism < 1 {
		parallelism = 1
	}

	return &Service{
		embedder:    emb,
		generator:   gen,
		expander:    expander,
		selector:    sel,
		assembler:   assembler,
		targets:     targets,
		parallelism: parallelism,
	}
}
