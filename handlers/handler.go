package handlers

import "github.com/GNGRRNNR/tiger-claw-timing/station"

// Handler holds shared dependencies used by all route handlers.
type Handler struct {
	session *station.Session
	JWTKey  []byte
}

// New creates a Handler for a running station session and JWT signing key.
func New(session *station.Session, jwtKey []byte) *Handler {
	return &Handler{session: session, JWTKey: jwtKey}
}
