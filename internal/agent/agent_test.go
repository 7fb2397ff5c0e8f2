package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fixedCollector(cpu, ram float64) *Collector {
	c := NewCollector(0)
	c.cpuPercent = func(context.Context, time.Duration) (float64, error) { return cpu, nil }
	c.ramPercent = func(context.Context) (float64, error) { return ram, nil }
	return c
}

type recordingServer struct {
	mu      sync.Mutex
	reports []Report
	auth    []string
	status  int
}

func (s *recordingServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var rep Report
	_ = json.NewDecoder(r.Body).Decode(&rep)
	s.mu.Lock()
	s.reports = append(s.reports, rep)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	status := s.status
	s.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (s *recordingServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func newReporter(t *testing.T, h http.Handler, token string, c *Collector) *Reporter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewReporter(Options{
		JoinAddr: strings.TrimPrefix(srv.URL, "http://"),
		Name:     "pve-01",
		Token:    token,
		Interval: 20 * time.Millisecond,
	}, c, discard())
}

func TestReportOnce(t *testing.T) {
	rs := &recordingServer{}
	r := newReporter(t, rs, "tok", fixedCollector(12.34, 56.78))

	require.NoError(t, r.ReportOnce(context.Background()))
	require.Len(t, rs.reports, 1)
	assert.Equal(t, Report{Name: "pve-01", CPU: 12.3, RAM: 56.8}, rs.reports[0])
	assert.Equal(t, "Bearer tok", rs.auth[0])
}

func TestReportWithoutToken(t *testing.T) {
	rs := &recordingServer{}
	r := newReporter(t, rs, "", fixedCollector(1, 2))

	require.NoError(t, r.ReportOnce(context.Background()))
	assert.Empty(t, rs.auth[0])
}

func TestReportServerErrors(t *testing.T) {
	rs := &recordingServer{status: http.StatusUnauthorized}
	r := newReporter(t, rs, "bad", fixedCollector(1, 2))
	err := r.ReportOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	rs.status = http.StatusInternalServerError
	err = r.ReportOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestReportCollectFailure(t *testing.T) {
	rs := &recordingServer{}
	c := fixedCollector(1, 2)
	c.ramPercent = func(context.Context) (float64, error) { return 0, errors.New("no meminfo") }
	r := newReporter(t, rs, "", c)

	require.Error(t, r.ReportOnce(context.Background()))
	assert.Zero(t, rs.count())
}

func TestRunKeepsReportingAfterFailures(t *testing.T) {
	rs := &recordingServer{status: http.StatusInternalServerError}
	r := newReporter(t, rs, "", fixedCollector(1, 2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return rs.count() >= 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not stop")
	}
}

func TestDefaultName(t *testing.T) {
	assert.True(t, strings.HasPrefix(DefaultName(context.Background()), "agent-"))
}
