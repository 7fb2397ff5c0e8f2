// Package agent implements the NetGaze reporting agent.
// It periodically collects CPU and RAM usage and pushes them to the server
// data plane. When a token is configured every request carries
// Authorization: Bearer <token>.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Options configure a Reporter.
type Options struct {
	// JoinAddr is the data-plane address, e.g. "192.168.1.1:5050".
	JoinAddr string
	Name     string
	Token    string
	Interval time.Duration
}

// Reporter pushes reports on a fixed period.
type Reporter struct {
	url       string
	name      string
	token     string
	interval  time.Duration
	collector *Collector
	client    *http.Client
	log       *slog.Logger
}

func NewReporter(opts Options, collector *Collector, log *slog.Logger) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	return &Reporter{
		url:       fmt.Sprintf("http://%s/api/agent/report", opts.JoinAddr),
		name:      opts.Name,
		token:     opts.Token,
		interval:  opts.Interval,
		collector: collector,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
}

// Run reports immediately and then every interval until ctx is cancelled.
// Failures are logged and retried on the next period.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("agent reporting", "name", r.name, "url", r.url, "interval", r.interval)
	for {
		if err := r.ReportOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("report failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ReportOnce collects and posts a single report.
func (r *Reporter) ReportOnce(ctx context.Context) error {
	rep, err := r.collector.Collect(ctx, r.name)
	if err != nil {
		return err
	}
	return r.postJSON(ctx, rep)
}

// postJSON sends v as JSON via HTTP POST, with the Bearer token when set.
func (r *Reporter) postJSON(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errors.New("server rejected token (401), check --token or agent_outbound_token in config")
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}
