package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/d-j-h/searcher/index"
	getsafe "github.com/d-j-h/searcher/util/get_safe"
)

type qdrantIndex struct {
	options index.Options
	client  *http.Client
}

func (q *qdrantIndex) Upsert(ctx context.Context, entries []index.Entry) error {
	points := make([]map[string]any, 0, len(entries))

	for _, e := range entries {
		payload := map[string]any{
			"doc_id":    e.ID,
			"content":   e.Content,
			"metadata":  e.Metadata,
			"posted_ts": float64(e.PostedAt.Unix()),
		}
		points = append(points, map[string]any{
			"id":      e.ID,
			"vector":  e.Embedding,
			"payload": payload,
		})
	}

	req := map[string]any{
		"points": points,
	}

	var rsp qdrantEnvelope[json.RawMessage]

	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(q.options.Name))

	if err := q.do(ctx, http.MethodPut, path, req, &rsp); err != nil {
		return err
	}

	if !strings.EqualFold(rsp.Status.State, "ok") && len(rsp.Status.Error) > 0 {
		return errors.New(rsp.Status.Error)
	}

	return nil
}

func (q *qdrantIndex) Search(ctx context.Context, vector []float32, k int, opts ...index.SearchOption) ([]index.Hit, error) {
	if k < 1 {
		return nil, nil
	}

	options := index.NewSearchOptions(opts...)

	pool := options.Candidates
	if pool < k {
		pool = k
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        pool,
		"with_vector":  false,
		"with_payload": true,
	}

	if filter := buildFilter(options.Filter); filter != nil {
		req["filter"] = filter
	}

	var rsp qdrantEnvelope[[]qdrantPointResult]

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(q.options.Name))

	if err := q.do(ctx, http.MethodPost, path, req, &rsp); err != nil {
		return nil, err
	}

	hits := make([]index.Hit, 0, len(rsp.Result))

	for _, point := range rsp.Result {
		hits = append(hits, index.Hit{
			Content:  getsafe.String(point.Payload, "content"),
			Metadata: getsafe.Metadata(point.Payload, "metadata"),
			Score:    point.Score,
		})
	}

	if len(hits) > k {
		hits = hits[:k]
	}

	return hits, nil
}

func (q *qdrantIndex) List(ctx context.Context, filter index.Filter, limit int) ([]index.Hit, error) {
	if limit < 1 {
		return nil, nil
	}

	req := map[string]any{
		"limit":        limit,
		"with_vector":  false,
		"with_payload": true,
		"order_by":     map[string]any{"key": "posted_ts", "direction": "asc"},
	}

	if f := buildFilter(filter); f != nil {
		req["filter"] = f
	}

	var rsp qdrantEnvelope[qdrantScrollResult]

	path := fmt.Sprintf("/collections/%s/points/scroll", url.PathEscape(q.options.Name))

	if err := q.do(ctx, http.MethodPost, path, req, &rsp); err != nil {
		return nil, err
	}

	hits := make([]index.Hit, 0, len(rsp.Result.Points))

	for _, point := range rsp.Result.Points {
		hits = append(hits, index.Hit{
			Content:  getsafe.String(point.Payload, "content"),
			Metadata: getsafe.Metadata(point.Payload, "metadata"),
		})
	}

	return hits, nil
}

func buildFilter(f index.Filter) map[string]any {
	if f.IsZero() {
		return nil
	}

	must := []map[string]any{}

	if len(f.Keywords) > 0 {
		should := make([]map[string]any, 0, len(f.Keywords))
		for _, kw := range f.Keywords {
			should = append(should, map[string]any{
				"key":   "content",
				"match": map[string]any{"text": kw},
			})
		}
		must = append(must, map[string]any{"should": should})
	}

	if !f.From.IsZero() || !f.To.IsZero() {
		rng := map[string]any{}
		if !f.From.IsZero() {
			rng["gte"] = float64(f.From.Unix())
		}
		if !f.To.IsZero() {
			rng["lte"] = float64(f.To.Unix())
		}
		must = append(must, map[string]any{
			"key":   "posted_ts",
			"range": rng,
		})
	}

	for key, value := range f.Metadata {
		must = append(must, map[string]any{
			"key":   "metadata." + key,
			"match": map[string]any{"value": value},
		})
	}

	return map[string]any{"must": must}
}

func (q *qdrantIndex) do(ctx context.Context, method string, path string, req any, rsp any) error {
	u := q.options.Location + path

	var buf io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, u, buf)
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")

	if len(q.options.ApiKey) > 0 {
		request.Header.Set("api-key", q.options.ApiKey)
		request.Header.Set("Authorization", "Bearer "+q.options.ApiKey)
	}

	response, err := q.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	if response.StatusCode >= 400 {
		return fmt.Errorf("qdrant http %d: %s", response.StatusCode, string(payload))
	}

	if rsp != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, rsp); err != nil {
			return err
		}
	}

	return nil
}

func (q *qdrantIndex) configure() error {
	exists, err := q.collectionExists()
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	return q.createCollection()
}

func (q *qdrantIndex) collectionExists() (bool, error) {
	path := fmt.Sprintf("/collections/%s", url.PathEscape(q.options.Name))

	var rsp qdrantEnvelope[json.RawMessage]

	err := q.do(context.Background(), http.MethodGet, path, nil, &rsp)
	if err != nil {
		if strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, err
	}

	return strings.EqualFold(rsp.Status.State, "ok"), nil
}

func (q *qdrantIndex) createCollection() error {
	req := map[string]any{
		"vectors": map[string]any{
			"size":     q.options.VectorSize,
			"distance": "Cosine",
		},
	}

	var rsp qdrantEnvelope[json.RawMessage]

	path := fmt.Sprintf("/collections/%s", url.PathEscape(q.options.Name))

	if err := q.do(context.Background(), http.MethodPut, path, req, &rsp); err != nil {
		return err
	}

	if !strings.EqualFold(rsp.Status.State, "ok") && len(rsp.Status.Error) > 0 {
		return errors.New(rsp.Status.Error)
	}

	return nil
}

func NewIndex(opts ...index.Option) index.Index {
	options := index.NewOptions(opts...)

	q := &qdrantIndex{
		options: options,
		client:  &http.Client{},
	}

	if err := q.configure(); err != nil {
		detail := "failed to configure qdrant index"
		slog.ErrorContext(context.Background(), detail, "error", err)
		panic(detail)
	}

	return q
}
