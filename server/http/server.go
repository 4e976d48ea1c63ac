package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	searcher "github.com/d-j-h/searcher"
	"github.com/d-j-h/searcher/document"
	"github.com/d-j-h/searcher/server"
)

type httpServer struct {
	options server.Options
	engine  *searcher.Engine
	server  *http.Server
}

type searchRequest struct {
	Query        string            `json:"query"`
	TopK         int               `json:"top_k,omitempty"`
	Keywords     []string          `json:"keywords,omitempty"`
	From         *time.Time        `json:"from,omitempty"`
	To           *time.Time        `json:"to,omitempty"`
	Indexes      []string          `json:"indexes,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LLMReduction bool              `json:"llm_reduction,omitempty"`
}

type authorRequest struct {
	Index    string            `json:"index"`
	Author   string            `json:"author"`
	From     *time.Time        `json:"from,omitempty"`
	To       *time.Time        `json:"to,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Limit    int               `json:"limit,omitempty"`
}

type documentResponse struct {
	ID       string          `json:"id"`
	Source   document.Source `json:"source"`
	Content  string          `json:"content"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	Score    float64         `json:"score"`
}

func (s *httpServer) Start() error {
	slog.InfoContext(s.options.Context, "http server listening", "address", s.options.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *httpServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *httpServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if len(req.Query) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("query is required"))
		return
	}

	opts := []searcher.SearchOption{}
	if req.TopK > 0 {
		opts = append(opts, searcher.WithTopK(req.TopK))
	}
	if len(req.Keywords) > 0 {
		opts = append(opts, searcher.WithKeywords(req.Keywords))
	}
	if req.From != nil || req.To != nil {
		var from, to time.Time
		if req.From != nil {
			from = *req.From
		}
		if req.To != nil {
			to = *req.To
		}
		opts = append(opts, searcher.WithDateRange(from, to))
	}
	if len(req.Indexes) > 0 {
		opts = append(opts, searcher.WithIndexes(req.Indexes))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, searcher.WithMetadataFilter(req.Metadata))
	}
	if req.LLMReduction {
		opts = append(opts, searcher.WithLLMReduction())
	}

	docs, err := s.engine.Search(r.Context(), req.Query, opts...)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeDocuments(w, docs)
}

func (s *httpServer) handleAuthorSearch(w http.ResponseWriter, r *http.Request) {
	var req authorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if len(req.Index) == 0 || len(req.Author) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("index and author are required"))
		return
	}

	opts := []searcher.AuthorOption{}
	if req.From != nil || req.To != nil {
		var from, to time.Time
		if req.From != nil {
			from = *req.From
		}
		if req.To != nil {
			to = *req.To
		}
		opts = append(opts, searcher.WithAuthorDateRange(from, to))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, searcher.WithAuthorMetadataFilter(req.Metadata))
	}
	if req.Limit > 0 {
		opts = append(opts, searcher.WithAuthorLimit(req.Limit))
	}

	docs, err := s.engine.SearchByAuthor(r.Context(), req.Index, req.Author, opts...)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeDocuments(w, docs)
}

func statusFor(err error) int {
	if errors.Is(err, searcher.ErrExpansion) || errors.Is(err, searcher.ErrBackend) {
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeDocuments(w http.ResponseWriter, docs []document.Document) {
	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentResponse{
			ID:       d.ID(),
			Source:   d.Source(),
			Content:  d.Content(),
			Metadata: d.Metadata(),
			Score:    d.Score(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"documents": out}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func NewServer(engine *searcher.Engine, opts ...server.Option) server.Server {
	options := server.NewOptions(opts...)

	s := &httpServer{
		options: options,
		engine:  engine,
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/search", s.handleSearch).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/search/author", s.handleAuthorSearch).Methods(http.MethodPost)

	var handler http.Handler = router
	if ms, ok := MiddlewareFrom(options.Context); ok {
		for i := len(ms) - 1; i >= 0; i-- {
			handler = ms[i](handler)
		}
	}

	s.server = &http.Server{
		Addr:    options.Address,
		Handler: handler,
	}

	return s
}
