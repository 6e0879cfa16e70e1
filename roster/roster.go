// Package roster caches the race roster and the store's scan count for
// display and name lookup. It is reference data only; nothing here gates
// whether a scan is recorded.
package roster

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GNGRRNNR/tiger-claw-timing/models"
	"github.com/GNGRRNNR/tiger-claw-timing/notice"
)

// Source fetches reference data from the results store.
type Source interface {
	Runners(ctx context.Context, race string) ([]models.Runner, error)
	ScanCount(ctx context.Context, race, checkpoint string) (int, error)
}

// Connectivity reports whether the station believes it is online.
type Connectivity interface {
	Online() bool
}

// Notifier receives user-visible notices.
type Notifier interface {
	Post(level notice.Level, message string)
}

// Counters are the progress figures shown at the station.
type Counters struct {
	// Delivered is the store's count for this checkpoint; DeliveredKnown is
	// false until the first successful fetch.
	Delivered      int  `json:"delivered"`
	DeliveredKnown bool `json:"deliveredKnown"`
	ActiveRunners  int  `json:"activeRunners"`
	RosterSize     int  `json:"rosterSize"`
}

// Cache holds the current snapshot. Each refresh replaces it wholesale; a
// failed refresh keeps the previous one.
type Cache struct {
	src        Source
	race       string
	checkpoint string
	online     Connectivity
	notices    Notifier
	log        *zap.Logger

	fetchingRunners atomic.Bool
	fetchingCount   atomic.Bool

	mu             sync.RWMutex
	byBib          map[string]models.Runner
	active         int
	delivered      int
	deliveredKnown bool
}

// New returns an empty cache for one checkpoint of one race.
func New(src Source, race, checkpoint string, online Connectivity, notices Notifier, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		src:        src,
		race:       race,
		checkpoint: checkpoint,
		online:     online,
		notices:    notices,
		log:        log,
		byBib:      map[string]models.Runner{},
	}
}

// RefreshRoster fetches the roster and replaces the snapshot. It does nothing
// if a roster fetch is already running, or if the station is offline and
// force is false.
func (c *Cache) RefreshRoster(ctx context.Context, force bool) {
	if !force && !c.isOnline() {
		return
	}
	if !c.fetchingRunners.CompareAndSwap(false, true) {
		c.log.Debug("roster fetch already in flight")
		return
	}
	defer c.fetchingRunners.Store(false)

	c.log.Debug("fetching runner data", zap.Bool("force", force))
	runners, err := c.src.Runners(ctx, c.race)
	if err != nil {
		c.log.Error("error fetching runner data", zap.Error(err))
		c.warn(fmt.Sprintf("Warning: Could not refresh runner list (%v).", err))
		return
	}

	byBib := make(map[string]models.Runner, len(runners))
	active := 0
	for _, r := range runners {
		byBib[r.Bib] = r
		if !r.Inactive() {
			active++
		}
	}

	c.mu.Lock()
	c.byBib = byBib
	c.active = active
	c.mu.Unlock()

	c.log.Info("refreshed runner data", zap.Int("total", len(byBib)), zap.Int("active", active))
}

// RefreshCount fetches the store's scan count for this checkpoint, with the
// same guards as RefreshRoster.
func (c *Cache) RefreshCount(ctx context.Context, force bool) {
	if !force && !c.isOnline() {
		return
	}
	if !c.fetchingCount.CompareAndSwap(false, true) {
		c.log.Debug("scan count fetch already in flight")
		return
	}
	defer c.fetchingCount.Store(false)

	c.log.Debug("fetching scan count", zap.Bool("force", force))
	n, err := c.src.ScanCount(ctx, c.race, c.checkpoint)
	if err != nil {
		c.log.Error("error fetching scan count", zap.Error(err))
		c.warn(fmt.Sprintf("Warning: Could not refresh scan count (%v).", err))
		return
	}

	c.mu.Lock()
	c.delivered = n
	c.deliveredKnown = true
	c.mu.Unlock()

	c.log.Info("refreshed scan count", zap.Int("scan_count", n))
}

// Lookup finds a runner by exact bib.
func (c *Cache) Lookup(bib string) (models.Runner, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.byBib[bib]
	return r, ok
}

// Len is the number of runners in the snapshot. Zero means the roster has
// never loaded (or the race has no runners).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byBib)
}

// Counters returns the current progress figures.
func (c *Cache) Counters() Counters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Counters{
		Delivered:      c.delivered,
		DeliveredKnown: c.deliveredKnown,
		ActiveRunners:  c.active,
		RosterSize:     len(c.byBib),
	}
}

// Refreshing reports whether either fetch is in flight.
func (c *Cache) Refreshing() bool {
	return c.fetchingRunners.Load() || c.fetchingCount.Load()
}

// Run refreshes the roster every interval (not forced) until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RefreshRoster(ctx, false)
		}
	}
}

func (c *Cache) isOnline() bool {
	return c.online == nil || c.online.Online()
}

func (c *Cache) warn(msg string) {
	if c.notices != nil {
		c.notices.Post(notice.LevelWarning, msg)
	}
}
