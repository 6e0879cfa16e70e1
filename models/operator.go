package models

import "github.com/uptrace/bun"

// Operator is a checkpoint volunteer allowed to use the station console.
// Pin holds a bcrypt hash.
type Operator struct {
	bun.BaseModel `bun:"table:operators,alias:o"`

	ID       int64  `bun:"id,pk,autoincrement" json:"id"`
	Username string `bun:"username,notnull,unique" json:"username"`
	Pin      string `bun:"pin,notnull" json:"-"`
}
