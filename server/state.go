package server

import (
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultStateTTL bounds how long a consent round-trip may take.
const DefaultStateTTL = 10 * time.Minute

// stateStore holds the OAuth state values handed out by /authorize. Each
// value is accepted by /callback exactly once.
type stateStore struct {
	cache *ttlcache.Cache[string, time.Time]
}

func newStateStore(ttl time.Duration) *stateStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, time.Time](ttl),
		ttlcache.WithDisableTouchOnHit[string, time.Time](),
	)
	go cache.Start()

	return &stateStore{cache: cache}
}

func (s *stateStore) issue() string {
	state := uuid.NewString()
	s.cache.Set(state, time.Now(), ttlcache.DefaultTTL)
	return state
}

// consume reports whether state was issued and has not expired or been
// used yet.
func (s *stateStore) consume(state string) bool {
	if state == "" {
		return false
	}
	item, ok := s.cache.GetAndDelete(state)
	return ok && item != nil && !item.IsExpired()
}

func (s *stateStore) stop() {
	s.cache.Stop()
}
