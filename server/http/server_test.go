package http

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	searcher "github.com/d-j-h/searcher"
	chatmemory "github.com/d-j-h/searcher/chatstore/memory"
	"github.com/d-j-h/searcher/document"
	"github.com/d-j-h/searcher/index"
	indexmemory "github.com/d-j-h/searcher/index/memory"
	"github.com/d-j-h/searcher/server"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type cannedGenerator struct {
	expansion string
}

func (g cannedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "rewrite a search query"):
		if len(g.expansion) > 0 {
			return g.expansion, nil
		}
		return `{"keywords": [], "phrases": ["deployment failures"]}`, nil
	case strings.Contains(prompt, "describes a store"):
		return `{"accept": true}`, nil
	case strings.Contains(prompt, "following document"):
		return `{"accept": true}`, nil
	}
	return "", fmt.Errorf("unexpected prompt: %s", prompt)
}

func newTestHandler(t *testing.T, opts ...searcher.Option) nethttp.Handler {
	t.Helper()

	issues := indexmemory.NewIndex(index.WithName("issue_records"))
	require.NoError(t, issues.Upsert(context.Background(), []index.Entry{{
		ID:        "PROJ-1",
		Content:   "deploy pipeline broke",
		Metadata:  map[string]any{"key": "PROJ-1", "status": "open", "assignee": "alice"},
		Embedding: []float32{1, 0, 0},
		PostedAt:  time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}}))

	base := []searcher.Option{
		searcher.WithEmbedder(fixedEmbedder{}),
		searcher.WithGenerator(cannedGenerator{}),
		searcher.WithChatStore(chatmemory.NewStore()),
		searcher.WithIndex(index.Descriptor{
			Name:        "issue_records",
			Source:      document.SourceIssue,
			Description: "Issues from the project tracker.",
		}, issues),
		searcher.WithTimeout(5 * time.Second),
	}

	engine := searcher.New(append(base, opts...)...)

	srv, ok := NewServer(engine, server.WithAddress(":0")).(*httpServer)
	require.True(t, ok)

	return srv.server.Handler
}

func TestHandleSearch(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(nethttp.MethodPost, "/api/v1/search",
		strings.NewReader(`{"query": "why did the deploy fail", "top_k": 3}`))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"id":"PROJ-1"`)
}

func TestHandleSearchRequiresQuery(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(nethttp.MethodPost, "/api/v1/search", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
}

func TestHandleSearchRejectsBadJSON(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(nethttp.MethodPost, "/api/v1/search", strings.NewReader(`{"query": `))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
}

func TestHandleSearchMapsExpansionFailure(t *testing.T) {
	handler := newTestHandler(t, searcher.WithGenerator(cannedGenerator{expansion: "no json"}))

	req := httptest.NewRequest(nethttp.MethodPost, "/api/v1/search",
		strings.NewReader(`{"query": "anything"}`))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, nethttp.StatusServiceUnavailable, rec.Code)
}

func TestHandleAuthorSearch(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(nethttp.MethodPost, "/api/v1/search/author",
		strings.NewReader(`{"index": "issue_records", "author": "alice"}`))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"id":"PROJ-1"`)
}

func TestHandleAuthorSearchRequiresFields(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(nethttp.MethodPost, "/api/v1/search/author",
		strings.NewReader(`{"index": "issue_records"}`))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
}
