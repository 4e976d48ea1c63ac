package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatmemory "github.com/d-j-h/searcher/chatstore/memory"
	"github.com/d-j-h/searcher/document"
	"github.com/d-j-h/searcher/index"
	"github.com/d-j-h/searcher/internal/service/assemble"
	"github.com/d-j-h/searcher/internal/service/expand"
	"github.com/d-j-h/searcher/internal/service/selector"
)

type fakeEmbedder struct {
	err error
}

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

// routingGenerator answers expansion, store selection, and relevance gate
// prompts independently so each test can script one step at a time.
type routingGenerator struct {
	mtx sync.Mutex

	expansion func() (string, error)
	selection func(prompt string) (string, error)
	reduction func(call int) (string, error)

	selectionCalls int
	reductionCalls int
}

func (g *routingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	switch {
	case strings.Contains(prompt, "rewrite a search query"):
		if g.expansion != nil {
			return g.expansion()
		}
		return `{"keywords": [], "phrases": ["alpha phrase", "beta phrase"]}`, nil

	case strings.Contains(prompt, "describes a store"):
		g.selectionCalls++
		if g.selection != nil {
			return g.selection(prompt)
		}
		return `{"accept": true}`, nil

	case strings.Contains(prompt, "following document"):
		g.reductionCalls++
		if g.reduction != nil {
			return g.reduction(g.reductionCalls)
		}
		return `{"accept": true}`, nil
	}

	return "", fmt.Errorf("unexpected prompt: %s", prompt)
}

func (g *routingGenerator) counts() (selection int, reduction int) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.selectionCalls, g.reductionCalls
}

type fakeIndex struct {
	mtx sync.Mutex

	hits      []index.Hit
	searchErr error
	listErr   error

	searchCalls int
	gotK        []int
	gotOptions  []index.SearchOptions

	listCalls int
	gotFilter index.Filter
	gotLimit  int
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, k int, opts ...index.SearchOption) ([]index.Hit, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.searchCalls++
	f.gotK = append(f.gotK, k)
	f.gotOptions = append(f.gotOptions, index.NewSearchOptions(opts...))

	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

func (f *fakeIndex) List(ctx context.Context, filter index.Filter, limit int) ([]index.Hit, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.listCalls++
	f.gotFilter = filter
	f.gotLimit = limit

	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.hits, nil
}

func (f *fakeIndex) Upsert(ctx context.Context, entries []index.Entry) error {
	return nil
}

func issueHit(key string, score float64) index.Hit {
	return index.Hit{
		Content:  "issue " + key,
		Metadata: map[string]any{"key": key, "status": "open", "assignee": "alice"},
		Score:    score,
	}
}

func issueDescriptor(name string) index.Descriptor {
	return index.Descriptor{
		Name:        name,
		Source:      document.SourceIssue,
		Description: "Issues from the project tracker.",
	}
}

func newService(gen *routingGenerator, targets ...Target) *Service {
	return New(
		fakeEmbedder{},
		gen,
		expand.New(gen),
		selector.New(gen, 2),
		assemble.New(chatmemory.NewStore(), 2*time.Hour),
		targets,
		2,
	)
}

func TestSearchBoundsAndOrdersResults(t *testing.T) {
	idx := &fakeIndex{hits: []index.Hit{
		issueHit("PROJ-1", 0.1),
		issueHit("PROJ-2", 0.8),
		issueHit("PROJ-3", 0.3),
		issueHit("PROJ-4", 0.6),
		issueHit("PROJ-5", 0.2),
		issueHit("PROJ-6", 0.7),
		issueHit("PROJ-7", 0.4),
		issueHit("PROJ-8", 0.5),
	}}

	gen := &routingGenerator{}
	svc := newService(gen, Target{Descriptor: issueDescriptor("issue_records"), Index: idx})

	docs, err := svc.Search(context.Background(), "what broke last week", Params{TopK: 5})
	require.NoError(t, err)

	require.Len(t, docs, 5)
	for i := 1; i < len(docs); i++ {
		assert.GreaterOrEqual(t, docs[i-1].Score(), docs[i].Score())
	}

	seen := map[string]struct{}{}
	for _, d := range docs {
		_, dup := seen[d.ID()]
		assert.False(t, dup, "duplicate id %s", d.ID())
		seen[d.ID()] = struct{}{}
	}

	assert.Equal(t, "PROJ-2", docs[0].ID())
}

func TestSearchDeduplicatesKeepingBestScore(t *testing.T) {
	// The same issue surfaces with two scores, as happens when two expanded
	// phrases both hit it.
	idx := &fakeIndex{hits: []index.Hit{
		issueHit("PROJ-1", 0.4),
		issueHit("PROJ-1", 0.9),
	}}

	gen := &routingGenerator{}
	svc := newService(gen, Target{Descriptor: issueDescriptor("issue_records"), Index: idx})

	docs, err := svc.Search(context.Background(), "dup check", Params{})
	require.NoError(t, err)

	require.Len(t, docs, 1)
	assert.Equal(t, "PROJ-1", docs[0].ID())
	assert.Equal(t, 0.9, docs[0].Score())
}

func TestSearchUnrestrictedRequestSendsNoFilter(t *testing.T) {
	idx := &fakeIndex{hits: []index.Hit{issueHit("PROJ-1", 0.5)}}

	gen := &routingGenerator{}
	svc := newService(gen, Target{Descriptor: issueDescriptor("issue_records"), Index: idx})

	_, err := svc.Search(context.Background(), "anything", Params{TopK: 3})
	require.NoError(t, err)

	require.NotEmpty(t, idx.gotOptions)
	for _, opts := range idx.gotOptions {
		assert.True(t, opts.Filter.IsZero(), "no keywords and no dates must yield a zero filter")
		assert.Equal(t, candidateMultiplier*3, opts.Candidates)
	}
	for _, k := range idx.gotK {
		assert.Equal(t, 3, k)
	}
}

func TestSearchPropagatesCallerFilter(t *testing.T) {
	idx := &fakeIndex{hits: []index.Hit{issueHit("PROJ-1", 0.5)}}

	gen := &routingGenerator{}
	svc := newService(gen, Target{Descriptor: issueDescriptor("issue_records"), Index: idx})

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	_, err := svc.Search(context.Background(), "deploy failures", Params{
		Keywords: []string{"deploy", "rollback"},
		From:     from,
		To:       to,
		Metadata: map[string]string{"status": "open"},
	})
	require.NoError(t, err)

	require.NotEmpty(t, idx.gotOptions)
	got := idx.gotOptions[0].Filter
	assert.Equal(t, []string{"deploy", "rollback"}, got.Keywords)
	assert.Equal(t, from, got.From)
	assert.Equal(t, to, got.To)
	assert.Equal(t, map[string]string{"status": "open"}, got.Metadata)
}

func TestSearchPinnedIndexesBypassSelection(t *testing.T) {
	issues := &fakeIndex{hits: []index.Hit{issueHit("PROJ-1", 0.5)}}
	emails := &fakeIndex{hits: []index.Hit{{
		Content:  "re: outage",
		Metadata: map[string]any{"message_id": "m-1", "from": "bob"},
		Score:    0.6,
	}}}

	gen := &routingGenerator{}
	svc := newService(gen,
		Target{Descriptor: issueDescriptor("issue_records"), Index: issues},
		Target{Descriptor: index.Descriptor{Name: "email_messages", Source: document.SourceEmail, Description: "Email."}, Index: emails},
	)

	docs, err := svc.Search(context.Background(), "outage", Params{Indexes: []string{"email_messages"}})
	require.NoError(t, err)

	selection, _ := gen.counts()
	assert.Zero(t, selection, "a pinned request never classifies stores")
	assert.Zero(t, issues.searchCalls)
	assert.Positive(t, emails.searchCalls)

	require.Len(t, docs, 1)
	assert.Equal(t, document.SourceEmail, docs[0].Source())
}

func TestSearchSelectorExcludesRejectedStores(t *testing.T) {
	issues := &fakeIndex{hits: []index.Hit{issueHit("PROJ-1", 0.5)}}
	wiki := &fakeIndex{hits: []index.Hit{{
		Content:  "runbook",
		Metadata: map[string]any{"document_id": "w-1", "owner": "alice"},
		Score:    0.7,
	}}}

	gen := &routingGenerator{
		selection: func(prompt string) (string, error) {
			return `{"accept": false}`, nil
		},
	}
	svc := newService(gen,
		Target{Descriptor: issueDescriptor("issue_records"), Index: issues},
		Target{Descriptor: index.Descriptor{Name: "wiki_documents", Source: document.SourceWiki, Description: "Knowledge base."}, Index: wiki},
	)

	docs, err := svc.Search(context.Background(), "where is the runbook", Params{})
	require.NoError(t, err)

	assert.Zero(t, issues.searchCalls, "rejected store is never queried")
	assert.Positive(t, wiki.searchCalls, "knowledge-base stores are always queried")

	require.Len(t, docs, 1)
	assert.Equal(t, "w-1", docs[0].ID())
}

func TestSearchAbortsOnUnparsableExpansion(t *testing.T) {
	idx := &fakeIndex{hits: []index.Hit{issueHit("PROJ-1", 0.5)}}

	gen := &routingGenerator{
		expansion: func() (string, error) {
			return "sorry, I cannot help with that", nil
		},
	}
	svc := newService(gen, Target{Descriptor: issueDescriptor("issue_records"), Index: idx})

	_, err := svc.Search(context.Background(), "anything", Params{})
	require.Error(t, err)
	assert.ErrorIs(t, err, expand.ErrUnparsable)
	assert.Zero(t, idx.searchCalls, "no retrieval happens without an expansion")
}

func TestSearchSurvivesOneFailedLeg(t *testing.T) {
	healthy := &fakeIndex{hits: []index.Hit{issueHit("PROJ-1", 0.5)}}
	broken := &fakeIndex{searchErr: errors.New("connection refused")}

	gen := &routingGenerator{}
	svc := newService(gen,
		Target{Descriptor: issueDescriptor("issue_records"), Index: healthy},
		Target{Descriptor: issueDescriptor("issue_archive"), Index: broken},
	)

	docs, err := svc.Search(context.Background(), "anything", Params{})
	require.NoError(t, err, "one healthy leg is enough")
	require.Len(t, docs, 1)
}

func TestSearchReportsBackendWhenAllLegsFail(t *testing.T) {
	broken := &fakeIndex{searchErr: errors.New("connection refused")}

	gen := &routingGenerator{}
	svc := newService(gen, Target{Descriptor: issueDescriptor("issue_records"), Index: broken})

	_, err := svc.Search(context.Background(), "anything", Params{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackend)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	gen := &routingGenerator{}
	svc := newService(gen)

	_, err := svc.Search(context.Background(), "   ", Params{})
	require.Error(t, err)
}

func TestReductionStopsAtQuota(t *testing.T) {
	idx := &fakeIndex{hits: []index.Hit{
		issueHit("PROJ-1", 0.9),
		issueHit("PROJ-2", 0.8),
		issueHit("PROJ-3", 0.7),
		issueHit("PROJ-4", 0.6),
		issueHit("PROJ-5", 0.5),
		issueHit("PROJ-6", 0.4),
	}}

	gen := &routingGenerator{}
	svc := newService(gen, Target{Descriptor: issueDescriptor("issue_records"), Index: idx})

	docs, err := svc.Search(context.Background(), "anything", Params{TopK: 2, RunLLMReduction: true})
	require.NoError(t, err)

	require.Len(t, docs, 2)
	_, reduction := gen.counts()
	assert.Equal(t, 2, reduction, "the gate stops once top_k candidates are accepted")
}

func TestReductionDropsRejectedCandidates(t *testing.T) {
	idx := &fakeIndex{hits: []index.Hit{
		issueHit("PROJ-1", 0.9),
		issueHit("PROJ-2", 0.8),
		issueHit("PROJ-3", 0.7),
	}}

	gen := &routingGenerator{
		reduction: func(call int) (string, error) {
			if call == 1 {
				return `{"accept": false}`, nil
			}
			return `{"accept": true}`, nil
		},
	}
	svc := newService(gen, Target{Descriptor: issueDescriptor("issue_records"), Index: idx})

	docs, err := svc.Search(context.Background(), "anything", Params{TopK: 2, RunLLMReduction: true})
	require.NoError(t, err)

	require.Len(t, docs, 2)
	assert.Equal(t, "PROJ-2", docs[0].ID(), "the rejected top candidate is dropped")
	assert.Equal(t, "PROJ-3", docs[1].ID())

	_, reduction := gen.counts()
	assert.Equal(t, 3, reduction)
}

func TestReductionToleratesFailedGateCalls(t *testing.T) {
	idx := &fakeIndex{hits: []index.Hit{
		issueHit("PROJ-1", 0.9),
		issueHit("PROJ-2", 0.8),
	}}

	gen := &routingGenerator{
		reduction: func(call int) (string, error) {
			if call == 1 {
				return "", errors.New("rate limited")
			}
			return `{"accept": true}`, nil
		},
	}
	svc := newService(gen, Target{Descriptor: issueDescriptor("issue_records"), Index: idx})

	docs, err := svc.Search(context.Background(), "anything", Params{TopK: 2, RunLLMReduction: true})
	require.NoError(t, err)

	require.Len(t, docs, 1)
	assert.Equal(t, "PROJ-2", docs[0].ID())
}
