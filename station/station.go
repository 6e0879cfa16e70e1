// Package station wires one checkpoint session together: local store,
// gateway, connectivity monitor, roster cache, sync coordinator and the
// ingestion pipeline.
package station

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/GNGRRNNR/tiger-claw-timing/config"
	"github.com/GNGRRNNR/tiger-claw-timing/gateway"
	"github.com/GNGRRNNR/tiger-claw-timing/ingest"
	"github.com/GNGRRNNR/tiger-claw-timing/models"
	"github.com/GNGRRNNR/tiger-claw-timing/netstatus"
	"github.com/GNGRRNNR/tiger-claw-timing/notice"
	"github.com/GNGRRNNR/tiger-claw-timing/roster"
	"github.com/GNGRRNNR/tiger-claw-timing/store"
	"github.com/GNGRRNNR/tiger-claw-timing/syncer"
)

var (
	// ErrOffline is returned by operations that need the remote store.
	ErrOffline = errors.New("station is offline")
	// ErrBusy is returned when the same operation is already running.
	ErrBusy = errors.New("already in progress")
)

// Session is one running checkpoint station.
type Session struct {
	cfg *config.Config
	log *zap.Logger

	Store   *store.Store
	Gateway *gateway.Client
	Monitor *netstatus.Monitor
	Notices *notice.Board
	Roster  *roster.Cache
	Syncer  *syncer.Coordinator
	Ingest  *ingest.Pipeline

	installationID string
	refreshing     atomic.Bool
	ctx            context.Context
	wg             sync.WaitGroup
}

// New builds a session on an open database. Nothing touches the network or
// the store until Start.
func New(cfg *config.Config, bdb *bun.DB, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("checkpoint", cfg.Checkpoint), zap.String("race", cfg.Race))

	s := &Session{cfg: cfg, log: log}
	s.Store = store.New(bdb, log.Named("store"))

	// The gateway needs the monitor for its offline check and the monitor
	// probes through the gateway, so the prober is bound after both exist.
	prober := &lateProber{}
	s.Monitor = netstatus.NewMonitor(prober, cfg.ProbeInterval, log.Named("netstatus"))
	s.Notices = notice.NewBoard(log.Named("notice"), s.Monitor, cfg.NoticeDuration)
	s.Gateway = gateway.New(cfg.EndpointURL, &http.Client{Timeout: cfg.RemoteTimeout}, s.Monitor, s.Notices, log.Named("gateway"))
	prober.p = s.Gateway

	s.Roster = roster.New(s.Gateway, cfg.Race, cfg.Checkpoint, s.Monitor, s.Notices, log.Named("roster"))
	s.Syncer = syncer.New(s.Store, s.Gateway, s.Monitor, s.Notices, log.Named("syncer"))
	s.Ingest = ingest.New(cfg.Checkpoint, cfg.Race, cfg.ScanThrottle, cfg.RecentLimit, ingest.Deps{
		Store:   s.Store,
		Sender:  s.Gateway,
		Roster:  s.Roster,
		Online:  s.Monitor,
		Notices: s.Notices,
		Log:     log.Named("ingest"),
	})

	s.Monitor.OnChange(s.connectivityChanged)
	return s
}

// Start initialises the store, loads reference data, drains anything left
// pending from a previous run and starts the background loops. The loops
// stop when ctx is done; Wait blocks until they have.
func (s *Session) Start(ctx context.Context) error {
	s.ctx = ctx
	if err := s.Store.Init(ctx); err != nil {
		s.Notices.Pin(notice.LevelError, fmt.Sprintf("Error opening local database: %v", err))
		return fmt.Errorf("station: %w", err)
	}
	id, err := s.Store.InstallationID(ctx)
	if err != nil {
		return fmt.Errorf("station: %w", err)
	}
	s.installationID = id
	s.log.Info("station starting", zap.String("installation_id", id), zap.String("endpoint", s.cfg.EndpointURL))

	s.Monitor.Check(ctx)
	s.refreshBoth(ctx)
	s.Syncer.Trigger(ctx)

	s.goLoop(func() { s.Monitor.Run(ctx) })
	s.goLoop(func() { s.Syncer.Run(ctx, s.cfg.SyncInterval) })
	s.goLoop(func() { s.Roster.Run(ctx, s.cfg.RosterRefreshInterval) })
	return nil
}

// Config returns the session's configuration.
func (s *Session) Config() *config.Config {
	return s.cfg
}

// Wait blocks until every background loop and every sync or refresh started
// by a connectivity change has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}

// RefreshStats reloads the roster and scan count on operator request.
func (s *Session) RefreshStats(ctx context.Context) error {
	if !s.Monitor.Online() {
		s.Notices.Warn("Cannot refresh stats while offline.")
		return ErrOffline
	}
	if s.Roster.Refreshing() || !s.refreshing.CompareAndSwap(false, true) {
		s.log.Debug("stats refresh already in progress")
		return ErrBusy
	}
	defer s.refreshing.Store(false)

	s.Notices.Info("Refreshing stats from server...")
	s.refreshBoth(ctx)

	if cur := s.Notices.Current(); cur.Level != notice.LevelError && cur.Level != notice.LevelWarning {
		s.Notices.Success("Stats refreshed.")
	}
	return nil
}

// SyncNow runs a sync pass on operator request.
func (s *Session) SyncNow(ctx context.Context) (syncer.Result, error) {
	if !s.Monitor.Online() {
		s.Notices.Warn("Cannot sync while offline. Scans are saved locally.")
		return syncer.Result{Offline: true}, ErrOffline
	}
	res, ran := s.Syncer.Trigger(ctx)
	if !ran {
		return res, ErrBusy
	}
	return res, res.Err
}

// Status is a point-in-time view of the station for the console.
type Status struct {
	Station        string          `json:"station"`
	Checkpoint     string          `json:"checkpoint"`
	Race           string          `json:"race"`
	InstallationID string          `json:"installationId"`
	Online         bool            `json:"online"`
	Syncing        bool            `json:"syncing"`
	Refreshing     bool            `json:"refreshing"`
	Notice         notice.Notice   `json:"notice"`
	Counters       roster.Counters `json:"counters"`
	Local          store.Stats     `json:"local"`
	Recent         []models.Scan   `json:"recent"`
}

// Status collects the current state. Local counts come from the store and
// are the only part that can fail.
func (s *Session) Status(ctx context.Context) (Status, error) {
	st := Status{
		Station:        s.cfg.Station(),
		Checkpoint:     s.cfg.Checkpoint,
		Race:           s.cfg.Race,
		InstallationID: s.installationID,
		Online:         s.Monitor.Online(),
		Syncing:        s.Syncer.Running(),
		Refreshing:     s.Roster.Refreshing(),
		Notice:         s.Notices.Current(),
		Counters:       s.Roster.Counters(),
		Recent:         s.Ingest.Recent(),
	}
	local, err := s.Store.Stats(ctx)
	if err != nil {
		return st, err
	}
	st.Local = local
	return st, nil
}

// ReadScans feeds each non-empty line of r to the pipeline as decoded text.
// USB and Bluetooth scanners in keyboard mode end every code with a newline.
func (s *Session) ReadScans(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		out := s.Ingest.Scan(ctx, line)
		s.log.Debug("stdin scan", zap.String("status", string(out.Status)), zap.String("message", out.Message))
	}
	return sc.Err()
}

// connectivityChanged runs on every monitor transition.
func (s *Session) connectivityChanged(online bool) {
	if !online {
		s.Notices.Warn("Connection lost. Scans saved locally.")
		return
	}
	s.Notices.Info("Connection restored. Syncing & refreshing...")

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	// Monitor callbacks must not block the probe loop. Wait covers these
	// too, so the store is not closed under a running pass.
	s.goLoop(func() { s.Syncer.Trigger(ctx) })
	s.goLoop(func() { s.Roster.RefreshRoster(ctx, true) })
	s.goLoop(func() { s.Roster.RefreshCount(ctx, true) })
}

func (s *Session) refreshBoth(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Roster.RefreshRoster(ctx, true)
	}()
	go func() {
		defer wg.Done()
		s.Roster.RefreshCount(ctx, true)
	}()
	wg.Wait()
}

func (s *Session) goLoop(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

type lateProber struct{ p netstatus.Prober }

func (l *lateProber) Probe(ctx context.Context) error {
	return l.p.Probe(ctx)
}
