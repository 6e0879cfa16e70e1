// Package ingest turns one raw scan into a saved record: throttle, parse,
// roster lookup, persist, then one immediate delivery attempt.
package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GNGRRNNR/tiger-claw-timing/models"
	"github.com/GNGRRNNR/tiger-claw-timing/notice"
)

// Store persists accepted scans.
type Store interface {
	Create(ctx context.Context, scan *models.Scan) (int64, error)
	MarkDelivered(ctx context.Context, id int64) error
}

// Submitter delivers one scan and reports whether the store took it.
type Submitter interface {
	Submit(ctx context.Context, scan *models.Scan) bool
}

// Roster is the resident roster snapshot.
type Roster interface {
	Lookup(bib string) (models.Runner, bool)
	Len() int
}

// Connectivity reports whether the station believes it is online.
type Connectivity interface {
	Online() bool
}

// Notifier receives user-visible notices.
type Notifier interface {
	Post(level notice.Level, message string)
}

// Status is the overall result of one scan event.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusWarning   Status = "warning"
	StatusError     Status = "error"
	StatusThrottled Status = "throttled"
)

// Warning names the roster condition behind a warning outcome.
type Warning string

const (
	WarningNone       Warning = ""
	WarningInactive   Warning = "inactive"
	WarningUnknownBib Warning = "unknown_bib"
)

// Outcome is what the presentation layer gets back for one scan event.
type Outcome struct {
	Status    Status       `json:"status"`
	Message   string       `json:"message,omitempty"`
	Warning   Warning      `json:"warning,omitempty"`
	Scan      *models.Scan `json:"scan,omitempty"`
	Delivered bool         `json:"delivered"`
	Err       error        `json:"-"`
}

// ValidationError rejects input whose bib is not one or more digits.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid scan %q: %s", e.Input, e.Reason)
}

var bibPattern = regexp.MustCompile(`^\d+$`)

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Store   Store
	Sender  Submitter
	Roster  Roster
	Online  Connectivity
	Notices Notifier
	Log     *zap.Logger
}

// Pipeline is safe for concurrent use. The throttle window is shared by
// decoded and manual input.
type Pipeline struct {
	checkpoint string
	race       string
	throttle   time.Duration
	recent     int
	deps       Deps
	log        *zap.Logger
	now        func() time.Time

	mu           sync.Mutex
	lastAccepted time.Time

	recentMu   sync.Mutex
	recentList []models.Scan
}

// New returns a pipeline that stamps every record with checkpoint and race.
// recent is the length of the in-memory recent list.
func New(checkpoint, race string, throttle time.Duration, recent int, deps Deps) *Pipeline {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		checkpoint: checkpoint,
		race:       race,
		throttle:   throttle,
		recent:     recent,
		deps:       deps,
		log:        log.With(zap.String("checkpoint", checkpoint), zap.String("race", race)),
		now:        time.Now,
	}
}

// Scan handles decoded text of the form "bib[,name...]".
func (p *Pipeline) Scan(ctx context.Context, raw string) Outcome {
	at, ok := p.accept()
	if !ok {
		p.log.Debug("scan throttled", zap.String("raw", raw))
		return Outcome{Status: StatusThrottled}
	}

	parts := strings.Split(raw, ",")
	bib := strings.TrimSpace(parts[0])
	carried := strings.TrimSpace(strings.Join(parts[1:], ","))
	if !bibPattern.MatchString(bib) {
		return p.invalid(raw, "bib must be digits", "Invalid QR code format. Expected: BIB,Name")
	}
	return p.record(ctx, at, bib, carried)
}

// Manual handles a bib typed by the operator.
func (p *Pipeline) Manual(ctx context.Context, input string) Outcome {
	at, ok := p.accept()
	if !ok {
		p.log.Debug("manual entry throttled", zap.String("raw", input))
		return Outcome{Status: StatusThrottled}
	}

	bib := strings.TrimSpace(input)
	if bib == "" {
		return p.invalid(input, "empty bib", "Please enter a Bib Number.")
	}
	if !bibPattern.MatchString(bib) {
		return p.invalid(input, "bib must be digits", "Invalid Bib Number format.")
	}
	return p.record(ctx, at, bib, "")
}

// Recent returns the most recently recorded scans of this session, newest
// first.
func (p *Pipeline) Recent() []models.Scan {
	p.recentMu.Lock()
	defer p.recentMu.Unlock()
	return append([]models.Scan(nil), p.recentList...)
}

// accept applies the throttle gate. The check and the update happen under
// one lock so two concurrent scans cannot both pass.
func (p *Pipeline) accept() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.lastAccepted.IsZero() && now.Sub(p.lastAccepted) < p.throttle {
		return time.Time{}, false
	}
	p.lastAccepted = now
	return now, true
}

func (p *Pipeline) invalid(input, reason, message string) Outcome {
	err := &ValidationError{Input: input, Reason: reason}
	p.log.Warn("rejected scan", zap.Error(err))
	p.notify(notice.LevelError, message)
	return Outcome{Status: StatusError, Message: message, Err: err}
}

// record runs detached from ctx's cancellation: once a scan has passed the
// throttle gate it is saved, and a send the store acknowledged is marked.
func (p *Pipeline) record(ctx context.Context, at time.Time, bib, carried string) Outcome {
	ctx = context.WithoutCancel(ctx)
	out := p.resolve(bib, carried)
	log := p.log.With(zap.String("bib", bib))

	scan := &models.Scan{
		Bib:        bib,
		Checkpoint: p.checkpoint,
		Race:       p.race,
		Timestamp:  models.FormatTimestamp(at),
		RunnerName: out.Scan.RunnerName,
		Status:     models.StatusPending,
	}
	out.Scan = scan

	id, err := p.deps.Store.Create(ctx, scan)
	if err != nil {
		log.Error("error saving scan", zap.Error(err))
		msg := fmt.Sprintf("Error saving scan: %v", err)
		p.notify(notice.LevelError, msg)
		return Outcome{Status: StatusError, Message: msg, Err: err}
	}
	scan.ID = id
	log = log.With(zap.Int64("scan_id", id))
	log.Info("scan saved", zap.String("name", scan.RunnerName), zap.String("timestamp", scan.Timestamp))

	p.notify(noticeLevel(out.Status), out.Message)
	p.remember(*scan)

	if !p.isOnline() {
		log.Info("offline, scan left pending")
		if out.Status == StatusSuccess {
			out.Message = fmt.Sprintf("Offline: Scan for %s saved locally.", bib)
			p.notify(notice.LevelWarning, out.Message)
		}
		return out
	}

	if !p.deps.Sender.Submit(ctx, scan) {
		log.Warn("immediate send failed, scan left pending")
		return out
	}
	if err := p.deps.Store.MarkDelivered(ctx, id); err != nil {
		// The record stays pending and will be sent again by the next sync.
		log.Error("error marking scan delivered", zap.Error(err))
		return out
	}
	scan.Status = models.StatusDelivered
	out.Delivered = true
	p.remember(*scan)

	if out.Status == StatusSuccess {
		out.Message = fmt.Sprintf("Scan for %s synced successfully!", bib)
		p.notify(notice.LevelSuccess, out.Message)
	}
	return out
}

// resolve looks bib up in the roster. The returned outcome carries the
// display name in Scan.RunnerName.
func (p *Pipeline) resolve(bib, carried string) Outcome {
	fallback := carried
	if fallback == "" {
		fallback = models.UnknownRunner
	}
	out := Outcome{Status: StatusSuccess, Scan: &models.Scan{RunnerName: fallback}}

	if p.deps.Roster == nil || p.deps.Roster.Len() == 0 {
		out.Message = fmt.Sprintf("Scan: Bib %s (%s)", bib, fallback)
		return out
	}

	runner, ok := p.deps.Roster.Lookup(bib)
	if !ok {
		out.Status = StatusWarning
		out.Warning = WarningUnknownBib
		out.Message = fmt.Sprintf("Warning: Bib %s not in list. Scan recorded (%s).", bib, fallback)
		return out
	}

	// A blank roster name does not erase the carried one.
	name := runner.Name
	if name == "" {
		name = fallback
	}
	out.Scan.RunnerName = name
	if runner.Inactive() {
		out.Status = StatusWarning
		out.Warning = WarningInactive
		out.Message = fmt.Sprintf("Warning: %s - Bib %s (%s). Scan recorded.", runner.DisplayStatus(), bib, name)
		return out
	}
	out.Message = fmt.Sprintf("Scan: Bib %s (%s)", bib, name)
	return out
}

// remember adds scan to the recent list, replacing an earlier copy of the
// same record.
func (p *Pipeline) remember(scan models.Scan) {
	if p.recent <= 0 {
		return
	}
	p.recentMu.Lock()
	defer p.recentMu.Unlock()

	for i := range p.recentList {
		if p.recentList[i].ID == scan.ID {
			p.recentList[i] = scan
			return
		}
	}
	p.recentList = append([]models.Scan{scan}, p.recentList...)
	if len(p.recentList) > p.recent {
		p.recentList = p.recentList[:p.recent]
	}
}

func (p *Pipeline) isOnline() bool {
	return p.deps.Online == nil || p.deps.Online.Online()
}

func (p *Pipeline) notify(level notice.Level, msg string) {
	if p.deps.Notices != nil && msg != "" {
		p.deps.Notices.Post(level, msg)
	}
}

func noticeLevel(s Status) notice.Level {
	switch s {
	case StatusWarning:
		return notice.LevelWarning
	case StatusError:
		return notice.LevelError
	}
	return notice.LevelSuccess
}
