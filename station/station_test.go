package station

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GNGRRNNR/tiger-claw-timing/config"
	"github.com/GNGRRNNR/tiger-claw-timing/db"
	"github.com/GNGRRNNR/tiger-claw-timing/models"
	"github.com/GNGRRNNR/tiger-claw-timing/notice"
	"github.com/GNGRRNNR/tiger-claw-timing/store"
)

// resultsStore fakes the remote web app.
type resultsStore struct {
	mu       sync.Mutex
	received []string
	hold     chan struct{}
}

// holdPosts makes every later recordScan hang until the client gives up.
func (rs *resultsStore) holdPosts() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.hold = make(chan struct{})
}

func (rs *resultsStore) held() chan struct{} {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.hold
}

func (rs *resultsStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodHead:
	case r.Method == http.MethodPost:
		if hold := rs.held(); hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}
		body, _ := io.ReadAll(r.Body)
		var sub struct {
			Bib string `json:"bib"`
		}
		json.Unmarshal(body, &sub)
		rs.mu.Lock()
		rs.received = append(rs.received, sub.Bib)
		rs.mu.Unlock()
		w.Write([]byte(`{"status":"success","message":"Scan recorded"}`))
	case r.URL.Query().Get("action") == "getRunners":
		w.Write([]byte(`{"status":"success","runners":[{"bib":"101","name":"A. Runner","status":""},{"bib":"102","name":"B. Runner","status":"DNS"}]}`))
	case r.URL.Query().Get("action") == "getScanCount":
		w.Write([]byte(`{"status":"success","scanCount":17}`))
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (rs *resultsStore) bibs() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.received...)
}

type harness struct {
	session *Session
	remote  *resultsStore
	path    string
	cancel  context.CancelFunc
}

func testConfig(endpoint, path string) *config.Config {
	return &config.Config{
		Checkpoint:            "Aid 2",
		Race:                  "50K",
		EndpointURL:           endpoint,
		StoreDriver:           "sqlite",
		StorePath:             path,
		ScanThrottle:          0,
		SyncInterval:          time.Hour,
		RosterRefreshInterval: time.Hour,
		NoticeDuration:        time.Hour,
		ProbeInterval:         time.Hour,
		RecentLimit:           5,
	}
}

// newHarness builds a session on a fresh database. seed runs against the
// store before the session starts.
func newHarness(t *testing.T, seed func(*store.Store)) *harness {
	t.Helper()
	remote := &resultsStore{}
	srv := httptest.NewServer(remote)
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "scans.db")
	bdb, err := db.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { bdb.Close() })

	if seed != nil {
		seed(store.New(bdb, nil))
	}

	s := New(testConfig(srv.URL, path), bdb, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		s.Wait()
	})
	require.NoError(t, s.Start(ctx))
	return &harness{session: s, remote: remote, path: path, cancel: cancel}
}

func pendingCount(t *testing.T, s *Session) int {
	t.Helper()
	p, err := s.Store.ListPending(context.Background())
	require.NoError(t, err)
	return len(p)
}

func TestStartDrainsPendingFromPreviousRun(t *testing.T) {
	h := newHarness(t, func(st *store.Store) {
		for _, bib := range []string{"301", "302"} {
			_, err := st.Create(context.Background(), &models.Scan{
				Bib: bib, Checkpoint: "Aid 2", Race: "50K",
				Timestamp: "2025-06-07T09:00:00.000Z", RunnerName: models.UnknownRunner,
			})
			require.NoError(t, err)
		}
	})

	assert.Equal(t, []string{"301", "302"}, h.remote.bibs())
	assert.Zero(t, pendingCount(t, h.session))

	c := h.session.Roster.Counters()
	assert.Equal(t, 17, c.Delivered)
	assert.Equal(t, 2, c.RosterSize)
	assert.Equal(t, 1, c.ActiveRunners)
}

func TestRegainedConnectionSyncsBacklog(t *testing.T) {
	h := newHarness(t, nil)
	s := h.session
	ctx := context.Background()

	s.Monitor.Set(false)
	assert.Equal(t, "Connection lost. Scans saved locally.", s.Notices.Current().Message)

	out := s.Ingest.Manual(ctx, "101")
	require.NoError(t, out.Err)
	out = s.Ingest.Manual(ctx, "102")
	require.NoError(t, out.Err)
	assert.Equal(t, 2, pendingCount(t, s))
	assert.Empty(t, h.remote.bibs())

	s.Monitor.Set(true)
	require.Eventually(t, func() bool { return pendingCount(t, s) == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"101", "102"}, h.remote.bibs())
}

func TestRefreshStats(t *testing.T) {
	h := newHarness(t, nil)
	s := h.session
	ctx := context.Background()

	require.NoError(t, s.RefreshStats(ctx))
	assert.Equal(t, "Stats refreshed.", s.Notices.Current().Message)

	s.Monitor.Set(false)
	require.ErrorIs(t, s.RefreshStats(ctx), ErrOffline)
	cur := s.Notices.Current()
	assert.Equal(t, notice.LevelWarning, cur.Level)
	assert.Equal(t, "Cannot refresh stats while offline.", cur.Message)
}

func TestSyncNowOffline(t *testing.T) {
	h := newHarness(t, nil)
	h.session.Monitor.Set(false)

	res, err := h.session.SyncNow(context.Background())
	require.ErrorIs(t, err, ErrOffline)
	assert.True(t, res.Offline)
}

func TestReadScansFromKeyboardWedge(t *testing.T) {
	h := newHarness(t, nil)
	s := h.session

	input := "101,A. Runner\n\n  \n999,Walk Up\n"
	require.NoError(t, s.ReadScans(context.Background(), strings.NewReader(input)))

	assert.Equal(t, []string{"101", "999"}, h.remote.bibs())
	st, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.Stats{Total: 2, Delivered: 2}, st.Local)
	require.Len(t, st.Recent, 2)
	assert.Equal(t, "999", st.Recent[0].Bib)
	assert.Equal(t, "Walk Up", st.Recent[0].RunnerName)
	assert.Equal(t, "Aid 2 (50K)", st.Station)
	assert.NotEmpty(t, st.InstallationID)
	assert.True(t, st.Online)
}

func TestWaitCoversSyncStartedByReconnect(t *testing.T) {
	h := newHarness(t, nil)
	s := h.session
	ctx := context.Background()

	s.Monitor.Set(false)
	require.NoError(t, s.Ingest.Manual(ctx, "101").Err)

	h.remote.holdPosts()
	s.Monitor.Set(true)
	require.Eventually(t, s.Syncer.Running, 5*time.Second, time.Millisecond)

	h.cancel()
	s.Wait()

	assert.False(t, s.Syncer.Running(), "Wait must not return under a running pass")
	assert.Equal(t, 1, pendingCount(t, s), "an aborted send stays pending")
	assert.NotEqual(t, notice.LevelError, s.Notices.Current().Level)
}
