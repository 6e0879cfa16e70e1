// Package notice holds the station's single visible status message.
//
// Every outcome posts a notice. Errors stay until the next notice replaces
// them; anything else falls back to a default message after a fixed delay.
package notice

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level classifies a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

const (
	readyMessage   = "Ready."
	offlineMessage = "Offline. Scans saved locally."
)

// Notice is what the operator currently sees.
type Notice struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Connectivity reports whether the station believes it is online.
type Connectivity interface {
	Online() bool
}

// Board is safe for concurrent use.
type Board struct {
	log    *zap.Logger
	online Connectivity
	delay  time.Duration

	mu      sync.Mutex
	current Notice
	gen     uint64
	timer   *time.Timer
}

// NewBoard returns a board showing the default message. delay is how long
// non-error notices stay up.
func NewBoard(log *zap.Logger, online Connectivity, delay time.Duration) *Board {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Board{log: log, online: online, delay: delay}
	b.current = b.defaultNotice()
	return b
}

// Post shows a notice. Non-error notices expire after the board's delay.
func (b *Board) Post(level Level, message string) {
	b.show(level, message, level != LevelError)
}

// Pin shows a notice that never expires on its own.
func (b *Board) Pin(level Level, message string) {
	b.show(level, message, false)
}

func (b *Board) Info(message string)    { b.Post(LevelInfo, message) }
func (b *Board) Success(message string) { b.Post(LevelSuccess, message) }
func (b *Board) Warn(message string)    { b.Post(LevelWarning, message) }

// Current returns the visible notice.
func (b *Board) Current() Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Board) show(level Level, message string, expires bool) {
	shown := level
	// While offline only errors keep their own colour.
	if level != LevelError && !b.isOnline() {
		shown = LevelWarning
	}

	switch shown {
	case LevelError:
		b.log.Error("status", zap.String("notice", message))
	case LevelWarning:
		b.log.Warn("status", zap.String("notice", message))
	default:
		b.log.Info("status", zap.String("notice", message), zap.String("level", string(shown)))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
	b.current = Notice{Level: shown, Message: message, At: time.Now()}
	if expires && b.delay > 0 {
		gen := b.gen
		b.timer = time.AfterFunc(b.delay, func() { b.expire(gen) })
	}
}

func (b *Board) expire(gen uint64) {
	def := b.defaultNotice()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen {
		return
	}
	b.gen++
	b.timer = nil
	b.current = def
}

func (b *Board) defaultNotice() Notice {
	if b.isOnline() {
		return Notice{Level: LevelInfo, Message: readyMessage, At: time.Now()}
	}
	return Notice{Level: LevelWarning, Message: offlineMessage, At: time.Now()}
}

func (b *Board) isOnline() bool {
	return b.online == nil || b.online.Online()
}
