package index

import "context"

type Option func(*Options)

type Options struct {
	Location   string
	Name       string
	ApiKey     string
	VectorSize int
	Context    context.Context
}

func WithLocation(loc string) Option {
	return func(o *Options) {
		o.Location = loc
	}
}

func WithName(name string) Option {
	return func(o *Options) {
		o.Name = name
	}
}

func WithApiKey(apiKey string) Option {
	return func(o *Options) {
		o.ApiKey = apiKey
	}
}

func WithVectorSize(size int) Option {
	return func(o *Options) {
		o.VectorSize = size
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

type SearchOption func(*SearchOptions)

type SearchOptions struct {
	Filter Filter
	// Candidates is the wider pool scanned before the top k are returned.
	// Zero means scan exactly k.
	Candidates int
	Context    context.Context
}

func WithFilter(filter Filter) SearchOption {
	return func(o *SearchOptions) {
		o.Filter = filter
	}
}

func WithCandidates(candidates int) SearchOption {
	return func(o *SearchOptions) {
		o.Candidates = candidates
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
