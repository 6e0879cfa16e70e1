package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GNGRRNNR/tiger-claw-timing/config"
	"github.com/GNGRRNNR/tiger-claw-timing/db"
	"github.com/GNGRRNNR/tiger-claw-timing/ingest"
	"github.com/GNGRRNNR/tiger-claw-timing/models"
	"github.com/GNGRRNNR/tiger-claw-timing/station"
)

var testKey = []byte("console-test-key")

func remote() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
		case r.Method == http.MethodPost:
			w.Write([]byte(`{"status":"success","message":"ok"}`))
		case r.URL.Query().Get("action") == "getRunners":
			w.Write([]byte(`{"status":"success","runners":[{"bib":"101","name":"A. Runner","status":""}]}`))
		default:
			w.Write([]byte(`{"status":"success","scanCount":3}`))
		}
	}
}

type console struct {
	e       *echo.Echo
	session *station.Session
}

func newConsole(t *testing.T) *console {
	t.Helper()
	srv := httptest.NewServer(remote())
	t.Cleanup(srv.Close)

	bdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "scans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bdb.Close() })

	cfg := &config.Config{
		Checkpoint:            "Aid 2",
		Race:                  "50K",
		EndpointURL:           srv.URL,
		ScanThrottle:          0,
		SyncInterval:          time.Hour,
		RosterRefreshInterval: time.Hour,
		NoticeDuration:        time.Hour,
		ProbeInterval:         time.Hour,
		RecentLimit:           5,
	}
	s := station.New(cfg, bdb, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		s.Wait()
	})
	require.NoError(t, s.Start(ctx))

	hash, err := HashPin("marshal", "4821")
	require.NoError(t, err)
	require.NoError(t, s.Store.SaveOperator(ctx, &models.Operator{Username: "marshal", Pin: hash}))

	e := echo.New()
	New(s, testKey).Register(e)
	return &console{e: e, session: s}
}

func (c *console) do(method, path, token, body string) *httptest.ResponseRecorder {
	return c.doCtx(context.Background(), method, path, token, body)
}

func (c *console) doCtx(ctx context.Context, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequestWithContext(ctx, method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	c.e.ServeHTTP(rec, req)
	return rec
}

func (c *console) signin(t *testing.T) string {
	t.Helper()
	rec := c.do(http.MethodPost, "/api/signin", "", `{"username":"marshal","pin":"4821"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["token"])
	return body["token"]
}

func TestSignin(t *testing.T) {
	c := newConsole(t)

	rec := c.do(http.MethodPost, "/api/signin", "", `{"username":"marshal","pin":"0000"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = c.do(http.MethodPost, "/api/signin", "", `{"username":"nobody","pin":"4821"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	token := c.signin(t)
	rec = c.do(http.MethodGet, "/api/status", "Bearer "+token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	c := newConsole(t)

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/api/status", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/api/status", "garbage", "").Code)
}

func TestScanEndpoints(t *testing.T) {
	c := newConsole(t)
	token := c.signin(t)

	rec := c.do(http.MethodPost, "/api/scans", token, `{"raw":"101,A. Runner"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out ingest.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, ingest.StatusSuccess, out.Status)
	assert.True(t, out.Delivered)
	assert.Equal(t, "A. Runner", out.Scan.RunnerName)

	rec = c.do(http.MethodPost, "/api/scans/manual", token, `{"bib":"555"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, ingest.StatusWarning, out.Status)
	assert.Equal(t, ingest.WarningUnknownBib, out.Warning)

	rec = c.do(http.MethodPost, "/api/scans/manual", token, `{"bib":"55a"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.do(http.MethodGet, "/api/scans/recent?limit=1", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var recent []models.Scan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recent))
	require.Len(t, recent, 1)
	assert.Equal(t, "555", recent[0].Bib)

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/api/scans/recent?limit=x", token, "").Code)
}

func TestStatsRefreshAndSync(t *testing.T) {
	c := newConsole(t)
	token := c.signin(t)

	rec := c.do(http.MethodGet, "/api/stats", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 3, stats["delivered"])
	assert.EqualValues(t, 1, stats["activeRunners"])

	assert.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/refresh", token, "").Code)
	assert.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/sync", token, "").Code)

	c.session.Monitor.Set(false)
	assert.Equal(t, http.StatusServiceUnavailable, c.do(http.MethodPost, "/api/refresh", token, "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, c.do(http.MethodPost, "/api/sync", token, "").Code)
}

func TestScanSurvivesDisconnectedClient(t *testing.T) {
	c := newConsole(t)
	token := c.signin(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := c.doCtx(ctx, http.MethodPost, "/api/scans/manual", token, `{"bib":"777"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	stats, err := c.session.Store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Delivered)

	rec = c.doCtx(ctx, http.MethodPost, "/api/sync", token, "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestGetScan(t *testing.T) {
	c := newConsole(t)
	token := c.signin(t)

	rec := c.do(http.MethodPost, "/api/scans/manual", token, `{"bib":"101"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var out ingest.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	rec = c.do(http.MethodGet, "/api/scans/"+strconv.FormatInt(out.Scan.ID, 10), token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Scan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "101", got.Bib)
	assert.Equal(t, models.StatusDelivered, got.Status)

	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/api/scans/9999", token, "").Code)
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/api/scans/abc", token, "").Code)
}
