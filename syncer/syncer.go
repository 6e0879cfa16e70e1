// Package syncer drains the pending queue: it resends saved scans in the
// order they were recorded and stops at the first one that fails.
package syncer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GNGRRNNR/tiger-claw-timing/models"
	"github.com/GNGRRNNR/tiger-claw-timing/notice"
)

// Store is the part of the local store a sync pass needs.
type Store interface {
	ListPending(ctx context.Context) ([]models.Scan, error)
	MarkDelivered(ctx context.Context, id int64) error
}

// Submitter delivers one scan and reports whether the store took it.
type Submitter interface {
	Submit(ctx context.Context, scan *models.Scan) bool
}

// Connectivity reports whether the station believes it is online.
type Connectivity interface {
	Online() bool
}

// Notifier receives user-visible notices.
type Notifier interface {
	Post(level notice.Level, message string)
}

// Result describes one sync pass.
type Result struct {
	Offline   bool `json:"offline,omitempty"`
	Pending   int  `json:"pending"`
	Delivered int  `json:"delivered"`
	// Complete is true when every pending scan was delivered, including the
	// trivial case of an empty queue.
	Complete bool  `json:"complete"`
	Err      error `json:"-"`
}

// Coordinator runs sync passes. At most one pass runs at a time; a trigger
// that arrives while one is running is dropped.
type Coordinator struct {
	store   Store
	sender  Submitter
	online  Connectivity
	notices Notifier
	log     *zap.Logger
	running atomic.Bool
}

// New returns a coordinator.
func New(store Store, sender Submitter, online Connectivity, notices Notifier, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		store:   store,
		sender:  sender,
		online:  online,
		notices: notices,
		log:     log,
	}
}

// Trigger runs a pass unless one is already running. The bool is false when
// the trigger was dropped.
func (c *Coordinator) Trigger(ctx context.Context) (Result, bool) {
	if !c.running.CompareAndSwap(false, true) {
		c.log.Debug("sync already in progress, trigger dropped")
		return Result{}, false
	}
	defer c.running.Store(false)
	return c.pass(ctx), true
}

// Running reports whether a pass is in flight.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Run triggers a pass every interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Trigger(ctx)
		}
	}
}

func (c *Coordinator) pass(ctx context.Context) Result {
	if !c.isOnline() {
		c.log.Debug("offline, skipping sync")
		return Result{Offline: true}
	}

	pending, err := c.store.ListPending(ctx)
	if err != nil {
		c.log.Error("error listing pending scans", zap.Error(err))
		c.notify(notice.LevelError, fmt.Sprintf("Error during sync: %v", err))
		return Result{Err: err}
	}
	if len(pending) == 0 {
		c.log.Debug("no pending scans")
		return Result{Complete: true}
	}

	res := Result{Pending: len(pending)}
	c.log.Info("syncing pending scans", zap.Int("count", len(pending)))
	c.notify(notice.LevelInfo, fmt.Sprintf("Syncing %d saved scan(s)...", len(pending)))

	for i := range pending {
		scan := &pending[i]
		if !c.isOnline() {
			c.log.Warn("went offline during sync", zap.Int64("scan_id", scan.ID))
			break
		}
		if !c.sender.Submit(ctx, scan) {
			c.log.Warn("sync stopped at first failure", zap.Int64("scan_id", scan.ID))
			break
		}
		// The store has acknowledged the scan; record that even when
		// shutting down.
		if err := c.store.MarkDelivered(context.WithoutCancel(ctx), scan.ID); err != nil {
			c.log.Error("error marking scan delivered", zap.Int64("scan_id", scan.ID), zap.Error(err))
			res.Err = err
			break
		}
		res.Delivered++
	}

	if res.Delivered == res.Pending {
		res.Complete = true
		c.log.Info("sync complete", zap.Int("delivered", res.Delivered))
		c.notify(notice.LevelSuccess, "Sync complete. All saved scans sent.")
	} else {
		c.log.Warn("sync incomplete", zap.Int("delivered", res.Delivered), zap.Int("pending", res.Pending))
		c.notify(notice.LevelWarning, "Sync incomplete. Some scans failed to send. Will retry later.")
	}
	return res
}

func (c *Coordinator) isOnline() bool {
	return c.online == nil || c.online.Online()
}

func (c *Coordinator) notify(level notice.Level, msg string) {
	if c.notices != nil {
		c.notices.Post(level, msg)
	}
}
