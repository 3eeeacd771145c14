package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/instance-watch/internal/control"
	"github.com/nerrad567/instance-watch/internal/history"
	"github.com/nerrad567/instance-watch/internal/infrastructure/config"
	"github.com/nerrad567/instance-watch/internal/infrastructure/database"
	"github.com/nerrad567/instance-watch/internal/infrastructure/logging"
	"github.com/nerrad567/instance-watch/internal/instance"
	"github.com/nerrad567/instance-watch/internal/metrics"
)

var epoch = time.Date(2026, 3, 1, 12, 7, 0, 0, time.UTC)

// mockWatcher implements Watcher over a fixed catalog.
type mockWatcher struct {
	mu        sync.Mutex
	catalog   *instance.Catalog
	summary   []history.Entry
	logs      map[string][]history.Entry
	failing   []string
	switchErr error
	switched  map[string]bool
	refreshed []string
}

func newMockWatcher() *mockWatcher {
	return &mockWatcher{
		catalog: instance.NewCatalog(
			instance.Instance{ID: "hue.0", Mode: instance.ModePersistent, Enabled: true, Operating: true},
			instance.Instance{ID: "sonos.0", Mode: instance.ModePersistent, Enabled: true},
			instance.Instance{ID: "backup.0", Mode: instance.ModeScheduled, Schedule: "*/5 * * * *"},
		),
		summary: []history.Entry{
			history.NewEntry("sonos.0", history.StatusNotOperating, epoch),
		},
		logs: map[string][]history.Entry{
			"sonos.0": {history.NewEntry("sonos.0", history.StatusNotOperating, epoch)},
		},
		failing:  []string{"sonos.0"},
		switched: make(map[string]bool),
	}
}

func (m *mockWatcher) Instances() []instance.Instance { return m.catalog.Snapshot() }

func (m *mockWatcher) Instance(id string) (instance.Instance, bool) { return m.catalog.Get(id) }

func (m *mockWatcher) NotOperating() []string { return append([]string{}, m.failing...) }

func (m *mockWatcher) SummaryLog() []history.Entry { return m.summary }

func (m *mockWatcher) InstanceLog(id string) []history.Entry {
	return append([]history.Entry{}, m.logs[id]...)
}

func (m *mockWatcher) NextRun(id string) (time.Time, bool) {
	if id == "backup.0" {
		return epoch.Add(3 * time.Minute), true
	}
	return time.Time{}, false
}

func (m *mockWatcher) SetEnabled(_ context.Context, id string, flag bool) error {
	if _, ok := m.catalog.Get(id); !ok {
		return fmt.Errorf("%w: %s", instance.ErrNotFound, id)
	}
	if m.switchErr != nil {
		return m.switchErr
	}
	m.mu.Lock()
	m.switched[id] = flag
	m.mu.Unlock()
	return nil
}

func (m *mockWatcher) RequestUpdate(id string) {
	m.mu.Lock()
	m.refreshed = append(m.refreshed, id)
	m.mu.Unlock()
}

func (m *mockWatcher) switchedTo(id string) (flag, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	flag, ok = m.switched[id]
	return flag, ok
}

func (m *mockWatcher) refreshedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.refreshed...)
}

type mockHealth struct{ err error }

func (h mockHealth) HealthCheck(context.Context) error { return h.err }

func newTestServer(t *testing.T, w *mockWatcher, deps Deps) *httptest.Server {
	t.Helper()
	deps.Logger = logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error"}, "test")
	deps.Watcher = w
	deps.Version = "test"
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, body
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	return v
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{Watcher: newMockWatcher()}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without watcher succeeded")
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     map[string]HealthChecker
		wantStatus int
		wantBody   string
	}{
		{"no components", nil, http.StatusOK, "ok"},
		{"healthy", map[string]HealthChecker{"database": mockHealth{}}, http.StatusOK, "ok"},
		{
			"degraded",
			map[string]HealthChecker{"database": mockHealth{}, "mqtt": mockHealth{err: errors.New("not connected")}},
			http.StatusServiceUnavailable,
			"degraded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, newMockWatcher(), Deps{Health: tt.health})
			resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/health")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			got := decode[HealthResponse](t, body)
			if got.Status != tt.wantBody {
				t.Errorf("health status = %q, want %q", got.Status, tt.wantBody)
			}
			if tt.name == "degraded" && got.Components["mqtt"] != "not connected" {
				t.Errorf("components = %v", got.Components)
			}
		})
	}
}

func TestListInstances(t *testing.T) {
	ts := newTestServer(t, newMockWatcher(), Deps{})
	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/instances")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decode[InstanceList](t, body)
	if got.Count != 3 || got.Instances[0].ID != "backup.0" {
		t.Errorf("instances = %+v", got)
	}
	if got.Instances[0].Mode != instance.ModeScheduled {
		t.Errorf("mode = %q, want schedule", got.Instances[0].Mode)
	}
}

func TestGetInstance(t *testing.T) {
	ts := newTestServer(t, newMockWatcher(), Deps{})

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/instances/hue.0")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decode[InstanceDetail](t, body); got.ID != "hue.0" || !got.Operating || got.NextRun != nil {
		t.Errorf("instance = %+v", got)
	}

	_, body = do(t, http.MethodGet, ts.URL+"/api/v1/instances/backup.0")
	if got := decode[InstanceDetail](t, body); got.NextRun == nil || !got.NextRun.Equal(epoch.Add(3*time.Minute)) {
		t.Errorf("next_run = %v, want %v", got.NextRun, epoch.Add(3*time.Minute))
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/instances/nope.0")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown instance status = %d, want 404", resp.StatusCode)
	}
	if got := decode[Error](t, body); got.Code != ErrCodeNotFound {
		t.Errorf("error code = %q", got.Code)
	}
}

func TestLogs(t *testing.T) {
	ts := newTestServer(t, newMockWatcher(), Deps{})

	tests := []struct {
		path       string
		wantStatus int
		wantCount  int
	}{
		{"/api/v1/log", http.StatusOK, 1},
		{"/api/v1/instances/sonos.0/log", http.StatusOK, 1},
		{"/api/v1/instances/hue.0/log", http.StatusOK, 0},
		{"/api/v1/instances/nope.0/log", http.StatusNotFound, 0},
	}
	for _, tt := range tests {
		resp, body := do(t, http.MethodGet, ts.URL+tt.path)
		if resp.StatusCode != tt.wantStatus {
			t.Errorf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.wantStatus)
			continue
		}
		if tt.wantStatus != http.StatusOK {
			continue
		}
		got := decode[LogResponse](t, body)
		if got.Count != tt.wantCount || len(got.Entries) != tt.wantCount {
			t.Errorf("GET %s count = %d, want %d", tt.path, got.Count, tt.wantCount)
		}
		if got.Entries == nil {
			t.Errorf("GET %s entries encoded as null", tt.path)
		}
	}
}

func TestNotOperating(t *testing.T) {
	ts := newTestServer(t, newMockWatcher(), Deps{})
	_, body := do(t, http.MethodGet, ts.URL+"/api/v1/not-operating")
	got := decode[NotOperatingResponse](t, body)
	if got.Count != 1 || got.Instances[0] != "sonos.0" {
		t.Errorf("not-operating = %+v", got)
	}
}

func TestSwitch(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		switchErr  error
		wantStatus int
	}{
		{"on", "/api/v1/instances/hue.0/on", nil, http.StatusAccepted},
		{"off", "/api/v1/instances/hue.0/off", nil, http.StatusAccepted},
		{"unknown", "/api/v1/instances/nope.0/on", nil, http.StatusNotFound},
		{
			"unsupported",
			"/api/v1/instances/hue.0/on",
			&control.ControlError{ID: "hue.0", Err: control.ErrUnsupportedMode},
			http.StatusConflict,
		},
		{"store failure", "/api/v1/instances/hue.0/off", errors.New("broker gone"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newMockWatcher()
			w.switchErr = tt.switchErr
			ts := newTestServer(t, w, Deps{})

			resp, body := do(t, http.MethodPost, ts.URL+tt.path)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantStatus != http.StatusAccepted {
				return
			}
			got := decode[SwitchResponse](t, body)
			wantFlag := strings.HasSuffix(tt.path, "/on")
			flag, ok := w.switchedTo("hue.0")
			if got.Enabled != wantFlag || !ok || flag != wantFlag {
				t.Errorf("switched = %v, response = %+v, want %v", flag, got, wantFlag)
			}
		})
	}
}

func TestSwitch_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, newMockWatcher(), Deps{})
	resp, _ := do(t, http.MethodGet, ts.URL+"/api/v1/instances/hue.0/on")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestRefresh(t *testing.T) {
	w := newMockWatcher()
	ts := newTestServer(t, w, Deps{})

	resp, _ := do(t, http.MethodPost, ts.URL+"/api/v1/instances/sonos.0/refresh")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if got := w.refreshedIDs(); len(got) != 1 || got[0] != "sonos.0" {
		t.Errorf("refreshed = %v", got)
	}
}

func TestSystem(t *testing.T) {
	ts := newTestServer(t, newMockWatcher(), Deps{})
	_, body := do(t, http.MethodGet, ts.URL+"/api/v1/system")
	got := decode[SystemSummary](t, body)
	if got.Instances.Total != 3 || got.Instances.Enabled != 2 || got.Instances.NotOperating != 1 {
		t.Errorf("instances = %+v", got.Instances)
	}
	if got.Instances.ByMode["daemon"] != 2 || got.Instances.ByMode["schedule"] != 1 {
		t.Errorf("by mode = %v", got.Instances.ByMode)
	}
	if got.Database != nil {
		t.Errorf("database = %+v, want omitted without a database", got.Database)
	}
}

type mockDatabase struct{}

func (mockDatabase) Path() string { return "data/instancewatch.db" }

func (mockDatabase) Stats() sql.DBStats { return sql.DBStats{OpenConnections: 1, Idle: 1} }

func (mockDatabase) SchemaStatus(context.Context) (database.SchemaStatus, error) {
	return database.SchemaStatus{Version: "20260301_090000", Applied: 1}, nil
}

func TestSystem_Database(t *testing.T) {
	ts := newTestServer(t, newMockWatcher(), Deps{DB: mockDatabase{}})
	_, body := do(t, http.MethodGet, ts.URL+"/api/v1/system")
	got := decode[SystemSummary](t, body)

	db := got.Database
	if db == nil {
		t.Fatal("database section missing")
	}
	if db.Path != "data/instancewatch.db" || db.OpenConnections != 1 || db.Idle != 1 {
		t.Errorf("database = %+v", db)
	}
	if db.Schema == nil || db.Schema.Version != "20260301_090000" {
		t.Errorf("schema = %+v", db.Schema)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.SetInstances(3)
	ts := newTestServer(t, newMockWatcher(), Deps{Metrics: m})

	resp, body := do(t, http.MethodGet, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "instancewatch_instances 3") {
		t.Errorf("scrape does not contain instance gauge:\n%s", body)
	}

	bare := newTestServer(t, newMockWatcher(), Deps{})
	if resp, _ := do(t, http.MethodGet, bare.URL+"/metrics"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status without metrics = %d, want 404", resp.StatusCode)
	}
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t, newMockWatcher(), Deps{})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "abc123" {
		t.Errorf("X-Request-ID = %q, want abc123", got)
	}

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/health")
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}
}

func TestServer_StartClose(t *testing.T) {
	srv, err := New(Deps{
		Config:  config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		Logger:  logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error"}, "test"),
		Watcher: newMockWatcher(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start succeeded")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
