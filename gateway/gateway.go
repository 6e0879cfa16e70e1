// Package gateway talks to the remote results store: a single web-app URL
// that takes recordScan POSTs and answers getRunners / getScanCount GETs.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GNGRRNNR/tiger-claw-timing/models"
	"github.com/GNGRRNNR/tiger-claw-timing/notice"
)

// RemoteError means the store answered but did not accept the request:
// either a non-2xx response or a body whose status is not "success".
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 && (e.StatusCode < 200 || e.StatusCode > 299) {
		return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// ErrInvalidResponse is wrapped when a success envelope lacks its payload.
var ErrInvalidResponse = errors.New("invalid response data")

// Connectivity reports whether the station believes it is online.
type Connectivity interface {
	Online() bool
}

// Notifier receives user-visible notices.
type Notifier interface {
	Post(level notice.Level, message string)
}

// Client is the remote submission gateway.
type Client struct {
	endpoint string
	http     *http.Client
	online   Connectivity
	notices  Notifier
	log      *zap.Logger
	now      func() time.Time
}

// New returns a gateway for endpoint. httpClient may be nil, in which case a
// client without an application-level timeout is used.
func New(endpoint string, httpClient *http.Client, online Connectivity, notices Notifier, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		endpoint: endpoint,
		http:     httpClient,
		online:   online,
		notices:  notices,
		log:      log,
		now:      time.Now,
	}
}

// submission is the recordScan request body.
type submission struct {
	Action     string `json:"action"`
	Bib        string `json:"bib"`
	Checkpoint string `json:"checkpoint"`
	Timestamp  string `json:"timestamp"`
	Race       string `json:"race"`
	Name       string `json:"name"`
}

// envelope is the part every response shares.
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Submit sends one scan and reports whether the store acknowledged it.
// It never retries and never returns an error; failures are logged and,
// when the station is online, posted as a notice.
func (c *Client) Submit(ctx context.Context, scan *models.Scan) bool {
	log := c.log.With(zap.Int64("scan_id", scan.ID), zap.String("bib", scan.Bib))

	body, err := json.Marshal(submission{
		Action:     "recordScan",
		Bib:        scan.Bib,
		Checkpoint: scan.Checkpoint,
		Timestamp:  scan.Timestamp,
		Race:       scan.Race,
		Name:       scan.RunnerName,
	})
	if err != nil {
		c.sendFailed(ctx, log, err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		c.sendFailed(ctx, log, err)
		return false
	}
	// Apps Script web apps reject preflighted content types.
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")
	req.Header.Set("Cache-Control", "no-cache")

	log.Debug("sending scan", zap.ByteString("body", body))
	resp, err := c.http.Do(req)
	if err != nil {
		c.sendFailed(ctx, log, err)
		return false
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.sendFailed(ctx, log, err)
		return false
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error("network error sending scan", zap.Int("status", resp.StatusCode), zap.ByteString("body", data))
		c.sendFailed(ctx, log, fmt.Errorf("sync failed: %w", &RemoteError{StatusCode: resp.StatusCode, Message: backendMessage(resp, data)}))
		return false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.sendFailed(ctx, log, fmt.Errorf("malformed response: %w", err))
		return false
	}
	if env.Status != "success" {
		msg := env.Message
		if msg == "" {
			msg = "Unknown error from server."
		}
		log.Error("scan rejected by backend", zap.String("message", msg))
		c.notify(notice.LevelError, "Sync Error: "+msg)
		return false
	}

	log.Info("scan sent", zap.String("message", env.Message))
	return true
}

// Runners fetches the roster for race.
func (c *Client) Runners(ctx context.Context, race string) ([]models.Runner, error) {
	var payload struct {
		Runners *[]wireRunner `json:"runners"`
	}
	params := url.Values{"action": {"getRunners"}, "race": {race}}
	if err := c.get(ctx, params, &payload); err != nil {
		return nil, err
	}
	if payload.Runners == nil {
		return nil, fmt.Errorf("getRunners: %w", ErrInvalidResponse)
	}
	runners := make([]models.Runner, 0, len(*payload.Runners))
	for _, r := range *payload.Runners {
		runners = append(runners, models.Runner{Bib: string(r.Bib), Name: r.Name, Status: r.Status})
	}
	return runners, nil
}

// ScanCount fetches how many scans the store holds for this checkpoint.
func (c *Client) ScanCount(ctx context.Context, race, checkpoint string) (int, error) {
	var payload struct {
		ScanCount *float64 `json:"scanCount"`
	}
	params := url.Values{"action": {"getScanCount"}, "race": {race}, "checkpoint": {checkpoint}}
	if err := c.get(ctx, params, &payload); err != nil {
		return 0, err
	}
	if payload.ScanCount == nil {
		return 0, fmt.Errorf("getScanCount: %w", ErrInvalidResponse)
	}
	return int(*payload.ScanCount), nil
}

// Probe checks that the endpoint answers at all. Any HTTP response counts.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// get issues a GET with params plus a cache-busting timestamp, checks the
// envelope and decodes the rest of the body into out.
func (c *Client) get(ctx context.Context, params url.Values, out interface{}) error {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("t", strconv.FormatInt(c.now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	action := params.Get("action")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error("error response", zap.String("action", action), zap.Int("status", resp.StatusCode), zap.ByteString("body", data))
		return &RemoteError{StatusCode: resp.StatusCode, Message: backendMessage(resp, data)}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%s: malformed response: %w", action, err)
	}
	if env.Status != "success" {
		msg := env.Message
		if msg == "" {
			msg = string(data)
		}
		return &RemoteError{StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: %w: %v", action, ErrInvalidResponse, err)
	}
	return nil
}

func (c *Client) sendFailed(ctx context.Context, log *zap.Logger, err error) {
	if c.online != nil && !c.online.Online() {
		log.Warn("send failed while offline", zap.Error(err))
		return
	}
	if ctx.Err() != nil {
		// Shutting down; the scan stays pending for the next run.
		log.Warn("send cancelled", zap.Error(err))
		return
	}
	log.Error("error sending scan", zap.Error(err))
	c.notify(notice.LevelError, fmt.Sprintf("Sync Error: %v. Will retry.", err))
}

func (c *Client) notify(level notice.Level, msg string) {
	if c.notices != nil {
		c.notices.Post(level, msg)
	}
}

// backendMessage prefers the JSON "message" field of an error body, then the
// raw body, then the HTTP status text.
func backendMessage(resp *http.Response, body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		return env.Message
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// wireRunner tolerates bibs sent as JSON numbers by spreadsheet backends.
type wireRunner struct {
	Bib    bibString `json:"bib"`
	Name   string    `json:"name"`
	Status string    `json:"status"`
}

type bibString string

func (b *bibString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = bibString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("bib: %w", err)
	}
	*b = bibString(n.String())
	return nil
}
