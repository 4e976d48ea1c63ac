package searcher

import (
	"context"
	"time"

	"github.com/d-j-h/searcher/chatstore"
	"github.com/d-j-h/searcher/embedder"
	"github.com/d-j-h/searcher/generator"
	"github.com/d-j-h/searcher/index"
)

// RegisteredIndex pairs a configured index with its descriptor.
type RegisteredIndex struct {
	Descriptor index.Descriptor
	Index      index.Index
}

type Option func(*Options)

type Options struct {
	Embedder  embedder.Embedder
	Generator generator.Generator
	ChatStore chatstore.Store
	Indexes   []RegisteredIndex
	// Window is the span of conversation fetched before and after a
	// standalone chat hit during context assembly.
	Window      time.Duration
	Parallelism int
	Timeout     time.Duration
	Context     context.Context
}

func WithEmbedder(e embedder.Embedder) Option {
	return func(o *Options) {
		o.Embedder = e
	}
}

func WithGenerator(g generator.Generator) Option {
	return func(o *Options) {
		o.Generator = g
	}
}

func WithChatStore(s chatstore.Store) Option {
	return func(o *Options) {
		o.ChatStore = s
	}
}

func WithIndex(descriptor index.Descriptor, idx index.Index) Option {
	return func(o *Options) {
		o.Indexes = append(o.Indexes, RegisteredIndex{Descriptor: descriptor, Index: idx})
	}
}

func WithWindow(window time.Duration) Option {
	return func(o *Options) {
		o.Window = window
	}
}

func WithParallelism(parallelism int) Option {
	return func(o *Options) {
		o.Parallelism = parallelism
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.Timeout = timeout
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		Window:      120 * time.Minute,
		Parallelism: 4,
		Timeout:     60 * time.Second,
		Context:     context.Background(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

type SearchOption func(*SearchOptions)

type SearchOptions struct {
	TopK         int
	Keywords     []string
	From         time.Time
	To           time.Time
	Indexes      []string
	Metadata     map[string]string
	LLMReduction bool
	Context      context.Context
}

func WithTopK(topK int) SearchOption {
	return func(o *SearchOptions) {
		o.TopK = topK
	}
}

func WithKeywords(keywords []string) SearchOption {
	return func(o *SearchOptions) {
		o.Keywords = keywords
	}
}

func WithDateRange(from, to time.Time) SearchOption {
	return func(o *SearchOptions) {
		o.From = from
		o.To = to
	}
}

// WithIndexes pins the search to the named indexes, bypassing the LLM
// store selector.
func WithIndexes(names []string) SearchOption {
	return func(o *SearchOptions) {
		o.Indexes = names
	}
}

func WithMetadataFilter(metadata map[string]string) SearchOption {
	return func(o *SearchOptions) {
		o.Metadata = metadata
	}
}

func WithLLMReduction() SearchOption {
	return func(o *SearchOptions) {
		o.LLMReduction = true
	}
}

func NewSearchOptions(opts ...SearchOption) SearchOptions {
	options := SearchOptions{
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

type AuthorOption func(*AuthorOptions)

type AuthorOptions struct {
	From     time.Time
	To       time.Time
	Metadata map[string]string
	Limit    int
	Context  context.Context
}

func WithAuthorDateRange(from, to time.Time) AuthorOption {
	return func(o *AuthorOptions) {
		o.From = from
		o.To = to
	}
}

func WithAuthorMetadataFilter(metadata map[string]string) AuthorOption {
	return func(o *AuthorOptions) {
		o.Metadata = metadata
	}
}

func WithAuthorLimit(limit int) AuthorOption {
	return func(o *AuthorOptions) {
		o.Limit = limit
	}
}

func NewAuthorOptions(opts ...AuthorOption) AuthorOptions {
	options := AuthorOptions{
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
