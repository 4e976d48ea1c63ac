package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/d-j-h/searcher/generator"
	"github.com/d-j-h/searcher/index"
	"github.com/d-j-h/searcher/internal/service/expand"
)

// knowledgeBaseMarker names the index family that is always searched:
// wiki content is cheap to query and near-always relevant.
const knowledgeBaseMarker = "wiki"

const prompt = `The following describes a store holding one type of document.
Decide whether querying this store would help answer the query.

Description: %s

Query: %s

Reply with JSON only, in the shape: {"accept": true} or {"accept": false}`

type verdict struct {
	Accept bool `json:"accept"`
}

type Service struct {
	generator   generator.Generator
	parallelism int
}

// Select classifies each descriptor for relevance to the query and returns
// the accepted subset, preserving input order. Knowledge-base indexes bypass
// classification. A failed classification call excludes that one index and
// the rest of the loop continues.
func (s *Service) Select(ctx context.Context, query string, descriptors []index.Descriptor) ([]index.Descriptor, error) {
	accepted := make([]bool, len(descriptors))

	g, gctx := errgroup.WithContext(ctx)

	sem := make(chan struct{}, s.parallelism)

	var mtx sync.Mutex

	for i, d := range descriptors {
		if strings.Contains(strings.ToLower(d.Name), knowledgeBaseMarker) {
			accepted[i] = true
			slog.InfoContext(ctx, "store selection", "index", d.Name, "accept", true, "reason", "knowledge base")
			continue
		}

		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}

			accept, err := s.classify(gctx, query, d)
			if err != nil {
				slog.WarnContext(gctx, "store classification failed, excluding index", "index", d.Name, "error", err)
				return nil
			}

			mtx.Lock()
			accepted[i] = accept
			mtx.Unlock()

			slog.InfoContext(gctx, "store selection", "index", d.Name, "accept", accept)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	selected := make([]index.Descriptor, 0, len(descriptors))
	for i, d := range descriptors {
		if accepted[i] {
			selected = append(selected, d)
		}
	}

	return selected, nil
}

func (s *Service) classify(ctx context.Context, query string, d index.Descriptor) (bool, error) {
	rsp, err := s.generator.Generate(ctx, fmt.Sprintf(prompt, d.Description, query))
	if err != nil {
		return false, err
	}

	var v verdict
	if err := json.Unmarshal(expand.ExtractJSON(rsp), &v); err != nil {
		return false, fmt.Errorf("classification response is not valid JSON: %w", err)
	}

	return v.Accept, nil
}

func New(g generator.Generator, parallelism int) *Service {
	if parallelism < 1 {
		parallelism = 1
	}

	return &Service{
		generator:   g,
		parallelism: parallelism,
	}
}
