package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Installation identifies this client install. The table holds a single row.
type Installation struct {
	bun.BaseModel `bun:"table:installation,alias:i"`

	ID        int64     `bun:"id,pk" json:"-"`
	UUID      string    `bun:"uuid,notnull" json:"uuid"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"createdAt"`
}
