// Package window implements per-key sliding-window event logs scored by
// timestamp. Every Record call trims, inserts, counts and refreshes expiry as
// a single atomic unit.
package window

import (
	"context"
	"strconv"
	"time"
)

// Snapshot is the state of one key's window right after a Record call.
type Snapshot struct {
	// Count is the number of entries scored within [now-window, now],
	// including the entry just recorded.
	Count int64
	// Recent holds up to the two highest scores, ascending.
	Recent []float64
}

// Store persists sliding windows.
type Store interface {
	// Record removes entries older than now-window, adds now, counts the
	// window, fetches the two newest entries and sets the key expiry to ttl.
	Record(ctx context.Context, key string, now float64, window, ttl time.Duration) (Snapshot, error)
	Ping(ctx context.Context) error
	Close() error
}

// FormatScore renders a timestamp score with microsecond precision. It is
// also used as the member value so that two events never collapse into one.
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 6, 64)
}
