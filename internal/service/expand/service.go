package expand

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/d-j-h/searcher/generator"
)

// ErrUnparsable marks an expansion response that could not be decoded.
// Expansion is a required upstream step, so callers abort the search and
// may retry the whole request.
var ErrUnparsable = errors.New("query expansion response is not valid JSON")

const prompt = `You rewrite a search query that runs across several stores of
documents, emails, chat messages, issues, and pull requests.

List keywords that relevant documents are likely to contain, and five distinct
phrases that summarize the query's intent and would serve well as embeddings
for a vector similarity search. Each phrase should be specific enough to pull
in precise information on the query's subject.

Reply with JSON only, in the shape:
{"keywords": ["...", "..."], "phrases": ["...", "..."]}

Query to transform: %s`

// Expansion is the structured result of one query expansion.
type Expansion struct {
	Keywords []string `json:"keywords"`
	Phrases  []string `json:"phrases"`
}

type Service struct {
	generator generator.Generator
}

// Expand asks the model for keyword terms and alternate embedding phrases
// covering the query's intent. Callers append the original query to the
// phrase list so the unexpanded query is always searched.
func (s *Service) Expand(ctx context.Context, query string) (Expansion, error) {
	rsp, err := s.generator.Generate(ctx, fmt.Sprintf(prompt, query))
	if err != nil {
		return Expansion{}, fmt.Errorf("query expansion: %w", err)
	}

	var expansion Expansion
	if err := json.Unmarshal(ExtractJSON(rsp), &expansion); err != nil {
		return Expansion{}, fmt.Errorf("%w: %s", ErrUnparsable, err)
	}

	return expansion, nil
}

// ExtractJSON strips markdown fences and surrounding prose from a model
// response, leaving the outermost JSON object.
func ExtractJSON(rsp string) []byte {
	trimmed := strings.TrimSpace(rsp)

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end < start {
		return []byte(trimmed)
	}

	return []byte(trimmed[start : end+1])
}

func New(g generator.Generator) *Service {
	return &Service{
		generator: g,
	}
}
