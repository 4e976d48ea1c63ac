package document

import (
	"fmt"
)

// Document is one retrievable item from a source index. Implementations are
// immutable values; context assembly produces replacements rather than
// mutating in place.
type Document interface {
	// ID is the identity key used to recognize the same document across
	// duplicate retrievals. It is stable and unique within a source.
	ID() string
	Source() Source
	Content() string
	Metadata() map[string]any
	Score() float64
}

// Source tags the concrete document variant an index yields.
type Source string

const (
	SourceChat       Source = "chat"
	SourceIssue      Source = "issue"
	SourceWiki       Source = "wiki"
	SourceWikiChunk  Source = "wiki_chunk"
	SourceCodeReview Source = "code_review"
	SourceEmail      Source = "email"
)

// New maps a source tag to its variant constructor. Unknown tags are an
// error rather than a fallthrough so a misconfigured index surfaces early.
func New(source Source, content string, metadata map[string]any, score float64) (Document, error) {
	b := base{content: content, metadata: metadata, score: score}

	switch source {
	case SourceChat:
		return ChatMessage{base: b}, nil
	case SourceIssue:
		return IssueRecord{base: b}, nil
	case SourceWiki:
		return WikiPage{base: b}, nil
	case SourceWikiChunk:
		return newWikiChunk(b), nil
	case SourceCodeReview:
		return CodeReviewRecord{base: b}, nil
	case SourceEmail:
		return EmailMessage{base: b}, nil
	}

	return nil, fmt.Errorf("unknown document source: %q", source)
}

type base struct {
	content  string
	metadata map[string]any
	score    float64
}

func (b base) Content() string {
	return b.content
}

func (b base) Metadata() map[string]any {
	return b.metadata
}

func (b base) Score() float64 {
	return b.score
}

func (b base) withContent(content string) base {
	cpy := b
	cpy.content = content
	return cpy
}

func (b base) withScore(score float64) base {
	cpy := b
	cpy.score = score
	return cpy
}
