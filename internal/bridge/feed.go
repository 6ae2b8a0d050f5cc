package bridge

import (
	"sync"

	"teampulse/pkg/interfaces"
	"teampulse/pkg/types"
)

// InMemoryFeed is a single-process implementation of the change feed
// boundary. Multi-node deployments plug a broker-backed feed in behind the
// same interface; tests publish through this one directly.
type InMemoryFeed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[handleKey]map[int]func(types.FeedEvent)
}

// NewInMemoryFeed creates an empty feed.
func NewInMemoryFeed() *InMemoryFeed {
	return &InMemoryFeed{
		subs: make(map[handleKey]map[int]func(types.FeedEvent)),
	}
}

// Subscribe implements interfaces.ChangeFeed.
func (f *InMemoryFeed) Subscribe(teamID, category string, deliver func(types.FeedEvent)) (interfaces.CancelFunc, error) {
	key := handleKey{teamID: teamID, category: category}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	if f.subs[key] == nil {
		f.subs[key] = make(map[int]func(types.FeedEvent))
	}
	f.subs[key][id] = deliver

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if subs := f.subs[key]; subs != nil {
				delete(subs, id)
				if len(subs) == 0 {
					delete(f.subs, key)
				}
			}
		})
	}
	return cancel, nil
}

// Publish delivers an event to every subscriber of its (team, category).
func (f *InMemoryFeed) Publish(event types.FeedEvent) {
	key := handleKey{teamID: event.TeamID, category: event.Category}

	f.mu.RLock()
	delivers := make([]func(types.FeedEvent), 0, len(f.subs[key]))
	for _, deliver := range f.subs[key] {
		delivers = append(delivers, deliver)
	}
	f.mu.RUnlock()

	for _, deliver := range delivers {
		deliver(event)
	}
}

// SubscriberCount reports live subscriptions for a (team, category).
func (f *InMemoryFeed) SubscriberCount(teamID, category string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[handleKey{teamID: teamID, category: category}])
}
