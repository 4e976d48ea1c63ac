package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/d-j-h/searcher/chatstore"
	"github.com/d-j-h/searcher/document"
)

const defaultWindow = 120 * time.Minute

// Service collapses bursty chat hits into canonical, context-complete
// documents. Raw per-message retrieval returns many near-duplicate snippets;
// this coalesces them into one document per thread plus one per merged time
// window, each rewritten with the full surrounding conversation.
type Service struct {
	store  chatstore.Store
	window time.Duration
}

type span struct {
	start time.Time
	end   time.Time
}

// Assemble dedups the hits by identity, merges overlapping time windows per
// channel, picks one representative per thread and per merged window, and
// replaces each representative's content with a transcript fetched from the
// chat store. Input documents are never modified; representatives are
// returned as new values. A message missing channel or timestamp metadata is
// skipped with a warning.
func (s *Service) Assemble(ctx context.Context, messages []document.ChatMessage) []document.ChatMessage {
	threads, standalone := s.dedup(ctx, messages)

	merged := map[string][]span{}
	for _, msg := range standalone {
		ts, _ := msg.Timestamp()
		channel := msg.Channel()
		merged[channel] = append(merged[channel], span{
			start: ts.Add(-s.window),
			end:   ts.Add(s.window),
		})
	}
	for channel := range merged {
		merged[channel] = mergeSpans(merged[channel])
	}

	windows := s.selectRepresentatives(standalone, merged)

	out := make([]document.ChatMessage, 0, len(threads)+len(windows))

	for _, msg := range threads {
		out = append(out, s.extendThread(ctx, msg))
	}
	for _, w := range windows {
		out = append(out, s.extendWindow(ctx, w.msg.WithScore(w.score), w.span))
	}

	return out
}

// dedup groups messages by (channel, thread_ts-or-ts) and keeps the
// highest-scoring message of each group, partitioned into threaded and
// standalone sets in first-seen order.
func (s *Service) dedup(ctx context.Context, messages []document.ChatMessage) (threads, standalone []document.ChatMessage) {
	groups := map[string]document.ChatMessage{}
	var order []string

	for _, msg := range messages {
		if _, ok := msg.Timestamp(); !ok || len(msg.Channel()) == 0 {
			slog.WarnContext(ctx, "skipping chat hit with missing identity metadata", "metadata", msg.Metadata())
			continue
		}

		key := msg.ID()

		existing, seen := groups[key]
		if !seen {
			groups[key] = msg
			order = append(order, key)
			continue
		}
		if msg.Score() > existing.Score() {
			groups[key] = msg
		}
	}

	for _, key := range order {
		msg := groups[key]
		if len(msg.ThreadTS()) > 0 {
			threads = append(threads, msg)
		} else {
			standalone = append(standalone, msg)
		}
	}

	return threads, standalone
}

// mergeSpans collapses overlapping intervals into the minimal disjoint set
// covering them: sort by start, then sweep, extending the current interval
// while the next one begins before it ends.
func mergeSpans(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}

	sort.Slice(spans, func(i, j int) bool {
		return spans[i].start.Before(spans[j].start)
	})

	merged := make([]span, 0, len(spans))
	current := spans[0]

	for _, next := range spans[1:] {
		if !next.start.After(current.end) {
			if next.end.After(current.end) {
				current.end = next.end
			}
			continue
		}
		merged = append(merged, current)
		current = next
	}

	return append(merged, current)
}

type windowRepresentative struct {
	msg   document.ChatMessage
	ts    time.Time
	score float64
	span  span
}

// selectRepresentatives maps each standalone message to the one merged
// interval containing its timestamp (intervals are disjoint, so containment
// is unambiguous), then keeps the chronologically earliest message per
// (channel, interval) carrying the group's best score.
func (s *Service) selectRepresentatives(standalone []document.ChatMessage, merged map[string][]span) []windowRepresentative {
	type key struct {
		channel    string
		start, end int64
	}

	groups := map[key]windowRepresentative{}
	var order []key

	for _, msg := range standalone {
		ts, _ := msg.Timestamp()
		channel := msg.Channel()

		var container span
		for _, w := range merged[channel] {
			if !ts.Before(w.start) && !ts.After(w.end) {
				container = w
				break
			}
		}

		k := key{channel: channel, start: container.start.UnixNano(), end: container.end.UnixNano()}

		current, seen := groups[k]
		if !seen {
			groups[k] = windowRepresentative{msg: msg, ts: ts, score: msg.Score(), span: container}
			order = append(order, k)
			continue
		}

		if ts.Before(current.ts) {
			current.msg = msg
			current.ts = ts
		}
		if msg.Score() > current.score {
			current.score = msg.Score()
		}
		groups[k] = current
	}

	out := make([]windowRepresentative, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}

	return out
}

// extendThread replaces the representative's content with the full thread
// transcript. On a fetch failure the original hit is returned unchanged; a
// degraded result beats dropping it.
func (s *Service) extendThread(ctx context.Context, msg document.ChatMessage) document.ChatMessage {
	history, err := s.store.Thread(ctx, msg.Channel(), msg.ThreadTS())
	if err != nil {
		slog.WarnContext(ctx, "thread context fetch failed, keeping raw hit", "channel", msg.Channel(), "thread_ts", msg.ThreadTS(), "error", err)
		return msg
	}

	if len(history) == 0 {
		return msg
	}

	return msg.WithContent(transcript(history))
}

func (s *Service) extendWindow(ctx context.Context, msg document.ChatMessage, w span) document.ChatMessage {
	history, err := s.store.Window(ctx, msg.Channel(), w.start, w.end)
	if err != nil {
		slog.WarnContext(ctx, "window context fetch failed, keeping raw hit", "channel", msg.Channel(), "error", err)
		return msg
	}

	if len(history) == 0 {
		return msg
	}

	return msg.WithContent(transcript(history))
}

func transcript(history []chatstore.Message) string {
	lines := make([]string, 0, len(history))

	for _, m := range history {
		user := m.User
		if len(user) == 0 {
			user = "unknown"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", m.Timestamp.UTC().Format("2006-01-02 15:04:05"), user, m.Text))
	}

	return strings.Join(lines, "\n")
}

func New(store chatstore.Store, window time.Duration) *Service {
	if window <= 0 {
		window = defaultWindow
	}

	return &Service{
		store:  store,
		window: window,
	}
}
