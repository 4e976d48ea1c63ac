package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/d-j-h/searcher/chatstore"
)

// memoryStore keeps chat history in process. It backs tests and small
// local setups.
type memoryStore struct {
	options  chatstore.Options
	messages []chatstore.Message
	mtx      sync.RWMutex
}

func (m *memoryStore) Add(messages ...chatstore.Message) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.messages = append(m.messages, messages...)
}

func (m *memoryStore) Thread(ctx context.Context, channel string, threadTS string) ([]chatstore.Message, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	var result []chatstore.Message
	for _, msg := range m.messages {
		if msg.Channel == channel && msg.ThreadTS == threadTS {
			result = append(result, msg)
		}
	}

	sortAscending(result)

	return result, nil
}

func (m *memoryStore) Window(ctx context.Context, channel string, from time.Time, to time.Time) ([]chatstore.Message, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	var result []chatstore.Message
	for _, msg := range m.messages {
		if msg.Channel != channel {
			continue
		}
		if msg.Timestamp.Before(from) || msg.Timestamp.After(to) {
			continue
		}
		result = append(result, msg)
	}

	sortAscending(result)

	return result, nil
}

func sortAscending(messages []chatstore.Message) {
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}

func NewStore(opts ...chatstore.Option) *memoryStore {
	options := chatstore.NewOptions(opts...)

	m := &memoryStore{
		options:  options,
		messages: []chatstore.Message{},
		mtx:      sync.RWMutex{},
	}

	return m
}
