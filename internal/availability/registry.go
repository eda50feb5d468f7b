// Package availability tracks which supervisors are present, based on
// heartbeats that expire on their own.
package availability

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ppiankov/trustgate/internal/cache"
)

// DefaultHeartbeatTTL is how long a heartbeat keeps a supervisor available.
const DefaultHeartbeatTTL = 2 * time.Minute

// Presence is the last heartbeat from a supervisor.
type Presence struct {
	UserID string    `json:"user_id"`
	SeenAt time.Time `json:"seen_at"`
}

// Registry answers availability from recent heartbeats.
type Registry struct {
	entries *cache.Cache[string, Presence]
	ttl     time.Duration
	now     func() time.Time
}

// NewRegistry creates a registry. ttl <= 0 uses DefaultHeartbeatTTL; now nil
// uses time.Now.
func NewRegistry(ttl time.Duration, now func() time.Time) *Registry {
	if ttl <= 0 {
		ttl = DefaultHeartbeatTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		entries: cache.New[string, Presence](cache.Options{
			Name:       "availability",
			DefaultTTL: ttl,
			Now:        now,
		}),
		ttl: ttl,
		now: now,
	}
}

// Heartbeat marks userID available for ttl (or the registry default).
func (r *Registry) Heartbeat(userID string, ttl time.Duration) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("availability: user id is required")
	}
	if ttl <= 0 {
		ttl = r.ttl
	}
	r.entries.Set(userID, Presence{UserID: userID, SeenAt: r.now()}, ttl)
	return nil
}

// MarkUnavailable drops userID's heartbeat immediately.
func (r *Registry) MarkUnavailable(userID string) {
	r.entries.Delete(strings.TrimSpace(userID))
}

// IsAvailable reports whether userID has an unexpired heartbeat.
func (r *Registry) IsAvailable(_ context.Context, userID string) (bool, error) {
	_, ok := r.entries.Get(strings.TrimSpace(userID))
	return ok, nil
}

// Count returns the number of tracked supervisors, including any whose
// heartbeat expired but has not been purged yet.
func (r *Registry) Count() int {
	return r.entries.Len()
}
