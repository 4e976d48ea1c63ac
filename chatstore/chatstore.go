package chatstore

import (
	"context"
	"time"
)

// Store fetches surrounding conversation for context assembly. Both
// operations return messages in ascending timestamp order.
type Store interface {
	Thread(ctx context.Context, channel string, threadTS string) ([]Message, error)
	Window(ctx context.Context, channel string, from time.Time, to time.Time) ([]Message, error)
}

// Message is the store-side shape of one chat message.
type Message struct {
	Channel   string
	User      string
	Text      string
	ThreadTS  string
	Timestamp time.Time
}
