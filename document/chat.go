package document

import (
	"fmt"
	"time"

	getsafe "github.com/d-j-h/searcher/util/get_safe"
)

// ChatMessage is a single message from a chat export. Its identity key is
// (channel, thread_ts-or-ts): every reply in a thread collapses to the same
// key, while standalone messages stay distinct per timestamp.
type ChatMessage struct {
	base
}

func (m ChatMessage) ID() string {
	key := m.ThreadTS()
	if len(key) == 0 {
		key = getsafe.String(m.metadata, "ts")
	}
	return fmt.Sprintf("%s_%s", m.Channel(), key)
}

func (m ChatMessage) Source() Source {
	return SourceChat
}

func (m ChatMessage) Channel() string {
	return getsafe.String(m.metadata, "channel")
}

func (m ChatMessage) User() string {
	return getsafe.String(m.metadata, "user")
}

// ThreadTS is non-empty only for threaded replies.
func (m ChatMessage) ThreadTS() string {
	return getsafe.String(m.metadata, "thread_ts")
}

// Timestamp parses the message's epoch-seconds "ts" metadata.
func (m ChatMessage) Timestamp() (time.Time, bool) {
	ts, ok := getsafe.Float64(m.metadata, "ts")
	if !ok {
		return time.Time{}, false
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), true
}

// WithContent returns a copy carrying the assembled transcript. The original
// value is left untouched so concurrent readers never observe the rewrite.
func (m ChatMessage) WithContent(content string) ChatMessage {
	return ChatMessage{base: m.base.withContent(content)}
}

func (m ChatMessage) WithScore(score float64) ChatMessage {
	return ChatMessage{base: m.base.withScore(score)}
}
