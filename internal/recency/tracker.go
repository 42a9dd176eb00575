package recency

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Tracker remembers when each agent last received a ticket. Entries expire
// after the retention window so long-idle agents sort as never assigned.
type Tracker struct {
	cache *gocache.Cache
}

func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Tracker{cache: gocache.New(retention, retention/2)}
}

func (t *Tracker) Touch(agentID string, at time.Time) {
	t.cache.SetDefault(agentID, at)
}

func (t *Tracker) LastAssignedAt(agentID string) (time.Time, bool) {
	v, ok := t.cache.Get(agentID)
	if !ok {
		return time.Time{}, false
	}
	at, ok := v.(time.Time)
	return at, ok
}
