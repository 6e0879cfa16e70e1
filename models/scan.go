package models

import (
	"time"

	"github.com/uptrace/bun"
)

// DeliveryStatus is the local delivery state of a scan.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusDelivered DeliveryStatus = "delivered"
)

// UnknownRunner is recorded as the runner name when neither the roster nor
// the scanned payload carries one.
const UnknownRunner = "Unknown"

// TimestampLayout is the capture-time format: fixed width UTC, so lexical
// order matches chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Scan is one accepted bib scan at a checkpoint. Only Status ever changes
// after insert.
type Scan struct {
	bun.BaseModel `bun:"table:scans,alias:s"`

	ID         int64          `bun:"id,pk,autoincrement" json:"id"`
	Bib        string         `bun:"bib,notnull" json:"bib"`
	Checkpoint string         `bun:"checkpoint,notnull" json:"checkpoint"`
	Race       string         `bun:"race,notnull" json:"race"`
	Timestamp  string         `bun:"timestamp,notnull" json:"timestamp"`
	RunnerName string         `bun:"runner_name,notnull" json:"name"`
	Status     DeliveryStatus `bun:"status,notnull,default:'pending'" json:"status"`
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Delivered reports whether the remote store has acknowledged the scan.
func (s *Scan) Delivered() bool {
	return s.Status == StatusDelivered
}
