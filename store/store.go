// Package store is the durable local record of every scan taken at this
// station. Records are only ever inserted and flipped from pending to
// delivered; nothing is deleted.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/GNGRRNNR/tiger-claw-timing/db"
	"github.com/GNGRRNNR/tiger-claw-timing/models"
)

// Error is returned for any failure of the underlying database (quota,
// corruption, permissions, closed handle). The store never retries.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Stats counts records by delivery status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Delivered int `json:"delivered"`
}

// Store is the persistent scan store. The zero value is not usable; call New.
type Store struct {
	db  *bun.DB
	log *zap.Logger

	mu    sync.Mutex
	ready bool
}

// New wraps an open database. Tables are created lazily on first use.
func New(bdb *bun.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: bdb, log: log}
}

// Init creates the schema. It may be called any number of times, from any
// goroutine; the schema is created once. A failed attempt is retried by the
// next call.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if err := db.CreateTables(ctx, s.db); err != nil {
		return &Error{Op: "init", Err: err}
	}
	s.ready = true
	s.log.Debug("scan store ready")
	return nil
}

// Create writes a new scan and returns its id. The status defaults to
// pending; callers may only pass delivered explicitly. The record is
// committed before Create returns.
func (s *Store) Create(ctx context.Context, scan *models.Scan) (int64, error) {
	if err := s.Init(ctx); err != nil {
		return 0, err
	}
	if scan.Status != models.StatusDelivered {
		scan.Status = models.StatusPending
	}
	scan.ID = 0

	if _, err := s.db.NewInsert().Model(scan).Returning("id").Exec(ctx); err != nil {
		return 0, &Error{Op: "create", Err: err}
	}
	s.log.Debug("scan stored",
		zap.Int64("scan_id", scan.ID),
		zap.String("bib", scan.Bib),
		zap.String("status", string(scan.Status)))
	return scan.ID, nil
}

// ListPending returns every pending scan, oldest first. This is the order
// the sync coordinator submits in.
func (s *Store) ListPending(ctx context.Context) ([]models.Scan, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	scans := make([]models.Scan, 0)
	err := s.db.NewSelect().
		Model(&scans).
		Where("status = ?", models.StatusPending).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, &Error{Op: "list pending", Err: err}
	}
	return scans, nil
}

// MarkDelivered flips a scan to delivered. Repeating it, or passing an id
// that does not exist, is a no-op.
func (s *Store) MarkDelivered(ctx context.Context, id int64) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	res, err := s.db.NewUpdate().
		Model((*models.Scan)(nil)).
		Set("status = ?", models.StatusDelivered).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return &Error{Op: "mark delivered", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.log.Warn("scan not found for delivery update", zap.Int64("scan_id", id))
	}
	return nil
}

// Get returns one scan by id.
func (s *Store) Get(ctx context.Context, id int64) (*models.Scan, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	scan := new(models.Scan)
	if err := s.db.NewSelect().Model(scan).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, &Error{Op: "get", Err: err}
	}
	return scan, nil
}

// Recent returns up to limit scans, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.Scan, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []models.Scan{}, nil
	}
	scans := make([]models.Scan, 0, limit)
	err := s.db.NewSelect().
		Model(&scans).
		Order("id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, &Error{Op: "recent", Err: err}
	}
	return scans, nil
}

// All returns every scan in id order, a batch at a time. fn returning an
// error stops the walk.
func (s *Store) All(ctx context.Context, batch int, fn func([]models.Scan) error) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	if batch <= 0 {
		batch = 500
	}
	var after int64
	for {
		scans := make([]models.Scan, 0, batch)
		err := s.db.NewSelect().
			Model(&scans).
			Where("id > ?", after).
			Order("id ASC").
			Limit(batch).
			Scan(ctx)
		if err != nil {
			return &Error{Op: "walk", Err: err}
		}
		if len(scans) == 0 {
			return nil
		}
		if err := fn(scans); err != nil {
			return err
		}
		after = scans[len(scans)-1].ID
	}
}

// Stats counts scans by status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.Init(ctx); err != nil {
		return st, err
	}
	var rows []struct {
		Status models.DeliveryStatus `bun:"status"`
		N      int                   `bun:"n"`
	}
	err := s.db.NewSelect().
		Model((*models.Scan)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS n").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return st, &Error{Op: "stats", Err: err}
	}
	for _, r := range rows {
		st.Total += r.N
		switch r.Status {
		case models.StatusPending:
			st.Pending = r.N
		case models.StatusDelivered:
			st.Delivered = r.N
		}
	}
	return st, nil
}

// InstallationID returns the UUID identifying this install, creating it on
// first call.
func (s *Store) InstallationID(ctx context.Context) (string, error) {
	if err := s.Init(ctx); err != nil {
		return "", err
	}
	inst := new(models.Installation)
	err := s.db.NewSelect().Model(inst).Where("id = 1").Scan(ctx)
	if err == nil {
		return inst.UUID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", &Error{Op: "installation", Err: err}
	}

	inst = &models.Installation{ID: 1, UUID: uuid.NewString(), CreatedAt: time.Now().UTC()}
	if _, err := s.db.NewInsert().Model(inst).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return "", &Error{Op: "installation", Err: err}
	}
	// Re-read in case another device sharing the store won the insert.
	if err := s.db.NewSelect().Model(inst).Where("id = 1").Scan(ctx); err != nil {
		return "", &Error{Op: "installation", Err: err}
	}
	return inst.UUID, nil
}

// Operator looks up a console operator by username.
func (s *Store) Operator(ctx context.Context, username string) (*models.Operator, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	op := new(models.Operator)
	if err := s.db.NewSelect().Model(op).Where("username = ?", username).Scan(ctx); err != nil {
		return nil, &Error{Op: "operator", Err: err}
	}
	return op, nil
}

// SaveOperator creates an operator or replaces the PIN hash of an existing one.
func (s *Store) SaveOperator(ctx context.Context, op *models.Operator) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	_, err := s.db.NewInsert().Model(op).
		On("CONFLICT (username) DO UPDATE").
		Set("pin = EXCLUDED.pin").
		Exec(ctx)
	if err != nil {
		return &Error{Op: "save operator", Err: err}
	}
	return nil
}
