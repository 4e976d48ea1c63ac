package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/d-j-h/searcher/document"
	"github.com/d-j-h/searcher/index"
)

const defaultAuthorLimit = 10

// AuthorParams restrict an author search.
type AuthorParams struct {
	From     time.Time
	To       time.Time
	Metadata map[string]string
	Limit    int
}

// SearchByAuthor lists one index's documents attributed to a person, in
// ascending time order. Each source attributes authorship under a different
// metadata field; chat results are routed through the context assembler like
// any other chat retrieval.
func (s *Service) SearchByAuthor(ctx context.Context, indexName string, author string, params AuthorParams) ([]document.Document, error) {
	author = strings.TrimSpace(author)
	if len(author) == 0 {
		return nil, errors.New("author is required")
	}

	var target Target
	found := false
	for _, t := range s.targets {
		if t.Descriptor.Name == indexName {
			target = t
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("unknown index: %q", indexName)
	}

	field, ok := authorField(target.Descriptor.Source)
	if !ok {
		return nil, fmt.Errorf("author search not available for %q", indexName)
	}

	metadata := map[string]string{field: author}
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	limit := params.Limit
	if limit < 1 {
		limit = defaultAuthorLimit
	}

	filter := index.Filter{
		From:     params.From,
		To:       params.To,
		Metadata: metadata,
	}

	hits, err := target.Index.List(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	return s.resolve(ctx, target.Descriptor, hits), nil
}

func authorField(source document.Source) (string, bool) {
	switch source {
	case document.SourceChat:
		return "user", true
	case document.SourceIssue:
		return "assignee", true
	case document.SourceEmail:
		return "from", true
	case document.SourceWiki, document.SourceWikiChunk:
		return "owner", true
	case document.SourceCodeReview:
		return "author", true
	}
	return "", false
}
