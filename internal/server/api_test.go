package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesaa/netgaze/internal/live"
	"github.com/vesaa/netgaze/internal/models"
	"github.com/vesaa/netgaze/internal/monitor"
	"github.com/vesaa/netgaze/internal/probe"
	"github.com/vesaa/netgaze/internal/store"
)

func init() { gin.SetMode(gin.TestMode) }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeMonitor struct {
	mu        sync.Mutex
	devices   []monitor.DeviceStatus
	local     *probe.LocalSnapshot
	health    []monitor.TaskHealth
	agents    *monitor.AgentRegistry
	forgotten []uint
}

func (f *fakeMonitor) Latest() ([]monitor.DeviceStatus, *probe.LocalSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, f.local
}

func (f *fakeMonitor) Health() []monitor.TaskHealth { return f.health }

func (f *fakeMonitor) Forget(id uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, id)
}

func (f *fakeMonitor) Agents() *monitor.AgentRegistry { return f.agents }

type testEnv struct {
	store   *store.Store
	mon     *fakeMonitor
	hub     *live.Hub
	api     *API
	control *gin.Engine
	data    *gin.Engine
}

func newTestEnv(t *testing.T, agentToken string) *testEnv {
	t.Helper()
	st, err := store.Open(t.TempDir()+"/api.db", discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.EnsureUser(context.Background(), "admin", "admin123")
	require.NoError(t, err)

	env := &testEnv{
		store: st,
		mon:   &fakeMonitor{agents: monitor.NewAgentRegistry()},
		hub:   live.NewHub(discard(), 8),
	}
	env.api = New(st, env.mon, env.hub, Options{JWTSecret: "test-secret", AgentToken: agentToken}, discard())

	env.control = gin.New()
	env.api.RegisterControlRoutes(env.control)
	env.data = gin.New()
	env.api.RegisterDataRoutes(env.data)
	return env
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	tok, err := e.api.tokens.Issue("admin")
	require.NoError(t, err)
	return tok
}

func do(h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "192.0.2.7:40000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, "")

	w := do(env.control, http.MethodPost, "/api/login", "", gin.H{"username": "admin", "password": "admin123"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
		Type      string `json:"type"`
	}
	decode(t, w, &resp)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, 86400, resp.ExpiresIn)
	assert.Equal(t, "Bearer", resp.Type)

	w = do(env.control, http.MethodGet, "/api/targets", resp.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(env.control, http.MethodPost, "/api/login", "", gin.H{"username": "admin", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(env.control, http.MethodPost, "/api/login", "", gin.H{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestControlPlaneRequiresJWT(t *testing.T) {
	env := newTestEnv(t, "")

	for _, path := range []string{"/api/targets", "/api/events", "/api/status", "/api/agents", "/api/chart/1"} {
		w := do(env.control, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := do(env.control, http.MethodGet, "/api/targets", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(env.control, http.MethodGet, "/api/targets?token="+env.token(t), "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	other := NewTokenIssuer("other-secret")
	forged, err := other.Issue("admin")
	require.NoError(t, err)
	w = do(env.control, http.MethodGet, "/api/targets", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExpiredTokenRejected(t *testing.T) {
	ti := NewTokenIssuer("s")
	ti.now = func() time.Time { return time.Now().Add(-25 * time.Hour) }
	tok, err := ti.Issue("admin")
	require.NoError(t, err)

	_, err = NewTokenIssuer("s").Parse(tok)
	assert.Error(t, err)
}

func TestTargetsCRUD(t *testing.T) {
	env := newTestEnv(t, "")
	tok := env.token(t)

	w := do(env.control, http.MethodPost, "/api/targets", tok, gin.H{"name": "web", "address": "example.com", "probe_port": 443})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Data models.Target `json:"data"`
	}
	decode(t, w, &created)
	require.NotZero(t, created.Data.ID)
	assert.Equal(t, models.DefaultIcon, created.Data.Icon)

	w = do(env.control, http.MethodPost, "/api/targets", tok, gin.H{"name": "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(env.control, http.MethodGet, "/api/targets", tok, nil)
	var list struct {
		Data []models.Target `json:"data"`
	}
	decode(t, w, &list)
	require.Len(t, list.Data, 1)

	w = do(env.control, http.MethodDelete, "/api/targets/"+itoa(created.Data.ID), tok, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []uint{created.Data.ID}, env.mon.forgotten)

	w = do(env.control, http.MethodDelete, "/api/targets/"+itoa(created.Data.ID), tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(env.control, http.MethodDelete, "/api/targets/abc", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChart(t *testing.T) {
	env := newTestEnv(t, "")
	tok := env.token(t)
	ctx := context.Background()

	tg := &models.Target{Name: "nas", Address: "10.0.0.5"}
	require.NoError(t, env.store.CreateTarget(ctx, tg))
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	for i := 0; i < 25; i++ {
		require.NoError(t, env.store.AppendHistory(ctx, tg.ID, int64(i), base.Add(time.Duration(i)*time.Second)))
	}

	w := do(env.control, http.MethodGet, "/api/chart/"+itoa(tg.ID), tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var chart struct {
		Labels []string `json:"labels"`
		Values []int64  `json:"values"`
	}
	decode(t, w, &chart)
	require.Len(t, chart.Values, 20)
	require.Len(t, chart.Labels, 20)
	assert.Equal(t, int64(5), chart.Values[0])
	assert.Equal(t, int64(24), chart.Values[19])
	assert.Equal(t, "10:00:05", chart.Labels[0])
	assert.Equal(t, "10:00:24", chart.Labels[19])

	w = do(env.control, http.MethodGet, "/api/chart/999", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t, "")
	tok := env.token(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, env.store.AppendEvent(ctx, "nas", "DOWN", "🚨 nas DOWN!", now))
	require.NoError(t, env.store.AppendEvent(ctx, "nas", "UP", "✅ nas UP!", now.Add(time.Second)))

	w := do(env.control, http.MethodGet, "/api/events?limit=1", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []models.EventLog `json:"data"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "UP", resp.Data[0].Status)

	w = do(env.control, http.MethodGet, "/api/events?limit=-3", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusServesMemoryState(t *testing.T) {
	env := newTestEnv(t, "")
	env.mon.devices = []monitor.DeviceStatus{{ID: 1, Name: "nas", Status: probe.StatusDown, LatencyDisplay: "Timeout", Severity: probe.BandCritical}}
	env.mon.local = &probe.LocalSnapshot{CPUPercent: 12}
	env.mon.agents.Report("pve", 1, 2, "10.0.0.9")

	w := do(env.control, http.MethodGet, "/api/status", env.token(t), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Devices []map[string]any `json:"devices"`
		Local   map[string]any   `json:"local"`
		Agents  []map[string]any `json:"agents"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Devices, 1)
	assert.Equal(t, "DOWN", resp.Devices[0]["status"])
	assert.Equal(t, "Timeout", resp.Devices[0]["latency_display"])
	assert.Equal(t, "critical", resp.Devices[0]["severity_band"])
	assert.NotNil(t, resp.Local)
	require.Len(t, resp.Agents, 1)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	env.mon.health = []monitor.TaskHealth{
		{Name: monitor.TaskDevices, PeriodSeconds: 3, Ticks: 4},
		{Name: monitor.TaskLocal, PeriodSeconds: 1, Ticks: 9},
	}

	w := do(env.control, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status   string                        `json:"status"`
		Database string                        `json:"database"`
		Tasks    map[string]monitor.TaskHealth `json:"tasks"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Database)
	assert.Equal(t, uint64(4), resp.Tasks[monitor.TaskDevices].Ticks)

	env.mon.health[1].Stale = true
	w = do(env.control, http.MethodGet, "/api/health", "", nil)
	decode(t, w, &resp)
	assert.Equal(t, "degraded", resp.Status)
}

func TestAgentReportLastWriteWins(t *testing.T) {
	env := newTestEnv(t, "")

	w := do(env.data, http.MethodPost, "/api/agent/report", "", gin.H{"name": "X", "cpu": 10, "ram": 20})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = do(env.data, http.MethodPost, "/api/agent/report", "", gin.H{"name": "X", "cpu": 15, "ram": 25, "source_address": "6.6.6.6"})
	require.Equal(t, http.StatusOK, w.Code)

	reg := env.mon.agents
	require.Equal(t, 1, reg.Len())
	rec, ok := reg.Get("X")
	require.True(t, ok)
	assert.Equal(t, 15.0, rec.CPUPercent)
	assert.Equal(t, 25.0, rec.RAMPercent)
	assert.Equal(t, "192.0.2.7", rec.SourceAddress)
}

func TestAgentReportMalformed(t *testing.T) {
	env := newTestEnv(t, "")

	req := httptest.NewRequest(http.MethodPost, "/api/agent/report", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.data.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(env.data, http.MethodPost, "/api/agent/report", "", gin.H{"name": "X", "cpu": 1})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Zero(t, env.mon.agents.Len())
}

func TestAgentToken(t *testing.T) {
	env := newTestEnv(t, "s3cret")
	body := gin.H{"name": "X", "cpu": 1, "ram": 2}

	w := do(env.data, http.MethodPost, "/api/agent/report", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(env.data, http.MethodPost, "/api/agent/report", "wrong", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(env.data, http.MethodPost, "/api/agent/report", "s3cret", body)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(env.data, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStream(t *testing.T) {
	env := newTestEnv(t, "")
	env.mon.local = &probe.LocalSnapshot{CPUPercent: 33}
	srv := httptest.NewServer(env.control)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream?token="+env.token(t), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event:"); ok {
				events <- strings.TrimSpace(name)
			}
		}
		close(events)
	}()

	next := func() string {
		select {
		case e := <-events:
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("no event received")
			return ""
		}
	}

	assert.Equal(t, live.EventStats, next())
	assert.Equal(t, live.EventAgents, next())

	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	env.hub.Publish(live.EventMonitor, []monitor.DeviceStatus{{ID: 1, Status: probe.StatusUp}})
	assert.Equal(t, live.EventMonitor, next())

	cancel()
	require.Eventually(t, func() bool { return env.hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func itoa(id uint) string { return strconv.FormatUint(uint64(id), 10) }
