// Package monitor is the sampling and alerting engine. Two periodic tasks run
// side by side: device probing, which tracks UP/DOWN/ERROR transitions and
// latency history of remote targets, and local sampling, which evaluates
// resource thresholds of this host. Results are streamed to live viewers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vesaa/netgaze/internal/live"
	"github.com/vesaa/netgaze/internal/models"
	"github.com/vesaa/netgaze/internal/probe"
)

// Store is the persistence the monitor writes to.
type Store interface {
	ListTargets(ctx context.Context) ([]models.Target, error)
	AppendHistory(ctx context.Context, targetID uint, latencyMS int64, at time.Time) error
	AppendEvent(ctx context.Context, targetName, status, message string, at time.Time) error
}

// Prober checks one remote target.
type Prober interface {
	Probe(ctx context.Context, t models.Target) probe.SampleResult
}

// Sampler reads local host metrics.
type Sampler interface {
	Sample(ctx context.Context) (*probe.LocalSnapshot, error)
}

// Notifier hands a message to the operator channel without blocking.
type Notifier interface {
	Notify(msg string) bool
}

// Publisher pushes an update to live viewers.
type Publisher interface {
	Publish(event string, data any)
}

// Options tune the monitor.
type Options struct {
	DevicePeriod   time.Duration
	LocalPeriod    time.Duration
	Concurrency    int
	Thresholds     Thresholds
	LocalCooldown  time.Duration
	DeviceCooldown time.Duration
	// CollapseErrorIntoDown makes DOWN/ERROR oscillation silent.
	CollapseErrorIntoDown bool
}

// DefaultOptions mirrors the stock configuration.
func DefaultOptions() Options {
	return Options{
		DevicePeriod:  3 * time.Second,
		LocalPeriod:   time.Second,
		Concurrency:   16,
		Thresholds:    DefaultThresholds,
		LocalCooldown: 60 * time.Second,
	}
}

// Deps are the collaborators of a Monitor.
type Deps struct {
	Store     Store
	Prober    Prober
	Sampler   Sampler
	Notifier  Notifier
	Publisher Publisher
	Agents    *AgentRegistry
}

// DeviceStatus is one entry of the per-tick device batch.
type DeviceStatus struct {
	ID             uint         `json:"id"`
	Name           string       `json:"name"`
	Status         probe.Status `json:"status"`
	LatencyMS      int64        `json:"latency_ms"`
	LatencyDisplay string       `json:"latency_display"`
	Severity       probe.Band   `json:"severity_band"`
	SampledAt      time.Time    `json:"sampled_at"`
}

// Task names used for liveness.
const (
	TaskDevices = "devices"
	TaskLocal   = "local"
)

// TaskHealth describes the liveness of one periodic task.
type TaskHealth struct {
	Name          string    `json:"name"`
	PeriodSeconds float64   `json:"period_seconds"`
	LastTick      time.Time `json:"last_tick"`
	Ticks         uint64    `json:"ticks"`
	Stale         bool      `json:"stale"`
}

type taskState struct {
	period   time.Duration
	lastTick time.Time
	ticks    uint64
}

// Monitor orchestrates sampling, transition detection, persistence, alerting
// and live publishing.
type Monitor struct {
	deps     Deps
	opts     Options
	log      *slog.Logger
	tracker  *StatusTracker
	throttle *AlertThrottle
	now      func() time.Time

	mu            sync.RWMutex
	targets       []models.Target
	latestDevices []DeviceStatus
	latestLocal   *probe.LocalSnapshot
	tasks         map[string]*taskState
	// forgotten maps a deleted target to the forgetSeq of its removal, so a
	// tick that listed it earlier does not bring its state back.
	forgotten map[uint]uint64
	forgetSeq uint64
}

// New builds a Monitor. Zero-valued options fall back to DefaultOptions.
func New(deps Deps, opts Options, log *slog.Logger) *Monitor {
	def := DefaultOptions()
	if opts.DevicePeriod <= 0 {
		opts.DevicePeriod = def.DevicePeriod
	}
	if opts.LocalPeriod <= 0 {
		opts.LocalPeriod = def.LocalPeriod
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = def.Thresholds
	}
	if opts.LocalCooldown <= 0 {
		opts.LocalCooldown = def.LocalCooldown
	}
	if deps.Agents == nil {
		deps.Agents = NewAgentRegistry()
	}
	return &Monitor{
		deps:      deps,
		opts:      opts,
		log:       log,
		tracker:   NewStatusTracker(opts.CollapseErrorIntoDown),
		throttle:  NewAlertThrottle(),
		now:       time.Now,
		forgotten: make(map[uint]uint64),
		tasks: map[string]*taskState{
			TaskDevices: {period: opts.DevicePeriod},
			TaskLocal:   {period: opts.LocalPeriod},
		},
	}
}

// Agents returns the remote agent registry shared with the report endpoint.
func (m *Monitor) Agents() *AgentRegistry { return m.deps.Agents }

// Run drives both periodic tasks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.runPeriodic(ctx, TaskDevices, m.opts.DevicePeriod, m.DeviceTick)
	}()
	go func() {
		defer wg.Done()
		m.runPeriodic(ctx, TaskLocal, m.opts.LocalPeriod, m.LocalTick)
	}()
	m.log.Info("monitor started", "device_period", m.opts.DevicePeriod, "local_period", m.opts.LocalPeriod)
	wg.Wait()
	m.log.Info("monitor stopped")
}

func (m *Monitor) runPeriodic(ctx context.Context, name string, period time.Duration, tick func(context.Context) error) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		if err := tick(ctx); err != nil {
			m.log.Warn("tick failed", "task", name, "err", err)
		}
		m.markTick(name)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DeviceTick probes every registered target once, records transitions and
// history, and publishes the batch as a single update.
func (m *Monitor) DeviceTick(ctx context.Context) error {
	m.mu.RLock()
	startSeq := m.forgetSeq
	cached := m.targets
	m.mu.RUnlock()

	targets, listErr := m.deps.Store.ListTargets(ctx)
	if listErr != nil {
		// keep probing the last known set so live status survives a store outage
		targets = cached
		listErr = fmt.Errorf("list targets: %w", listErr)
	}

	batch := make([]DeviceStatus, len(targets))
	sem := make(chan struct{}, m.opts.Concurrency)
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, t models.Target) {
			defer wg.Done()
			defer func() { <-sem }()
			batch[i] = m.checkTarget(ctx, t)
		}(i, t)
	}
	wg.Wait()

	m.mu.Lock()
	deleted := make(map[uint]bool)
	for id, seq := range m.forgotten {
		if seq > startSeq {
			deleted[id] = true
		} else {
			delete(m.forgotten, id)
		}
	}
	kept := batch[:0]
	for _, d := range batch {
		if !deleted[d.ID] {
			kept = append(kept, d)
		}
	}
	batch = kept
	if listErr == nil {
		remaining := make([]models.Target, 0, len(targets))
		for _, t := range targets {
			if !deleted[t.ID] {
				remaining = append(remaining, t)
			}
		}
		m.targets = remaining
	}
	m.latestDevices = batch
	m.mu.Unlock()

	// a target deleted mid-tick may have been observed again after Forget
	for id := range deleted {
		m.tracker.Forget(id)
		m.throttle.Forget(deviceAlertKey(id))
	}

	if m.deps.Publisher != nil {
		m.deps.Publisher.Publish(live.EventMonitor, batch)
	}
	return listErr
}

// checkTarget probes and records one target. A panic here only affects this
// target, which is recorded as ERROR like any other failed probe.
func (m *Monitor) checkTarget(ctx context.Context, t models.Target) DeviceStatus {
	res, err := m.probe(ctx, t)
	if err != nil {
		m.log.Error("target check failed", "target", t.Name, "err", err)
		res = probe.SampleResult{Status: probe.StatusError, Detail: "Error", SampledAt: m.now()}
	}
	if err := m.safeRecord(ctx, t, res); err != nil {
		m.log.Error("record sample", "target", t.Name, "err", err)
	}
	return DeviceStatus{
		ID:             t.ID,
		Name:           t.Name,
		Status:         res.Status,
		LatencyMS:      res.LatencyMS,
		LatencyDisplay: res.Detail,
		Severity:       res.Band(),
		SampledAt:      res.SampledAt,
	}
}

func (m *Monitor) probe(ctx context.Context, t models.Target) (res probe.SampleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return m.deps.Prober.Probe(ctx, t), nil
}

func (m *Monitor) safeRecord(ctx context.Context, t models.Target, res probe.SampleResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("record panicked: %v", r)
		}
	}()
	return m.record(ctx, t, res)
}

// record runs transition detection → event log → alert, then appends history
// for UP samples. Both writes are attempted even if one fails.
func (m *Monitor) record(ctx context.Context, t models.Target, res probe.SampleResult) error {
	var errs []error
	m.tracker.ObserveFunc(t.ID, res.Status, func(tr Transition) {
		msg := TransitionMessage(t.Name, tr.To, res.Detail)
		if err := m.deps.Store.AppendEvent(ctx, t.Name, string(tr.To), msg, res.SampledAt); err != nil {
			errs = append(errs, fmt.Errorf("event log: %w", err))
		}
		m.log.Info("status changed", "target", t.Name, "from", tr.From, "to", tr.To)
		if m.throttle.Allow(deviceAlertKey(t.ID), m.now(), m.opts.DeviceCooldown) {
			m.notify(msg)
		}
	})
	if res.Up() {
		if err := m.deps.Store.AppendHistory(ctx, t.ID, res.LatencyMS, res.SampledAt); err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		}
	}
	return errors.Join(errs...)
}

// LocalTick samples this host, evaluates thresholds through the shared local
// alert stream, and publishes the snapshot and the agent list.
func (m *Monitor) LocalTick(ctx context.Context) error {
	snap, err := m.deps.Sampler.Sample(ctx)
	if err != nil {
		return fmt.Errorf("sample local host: %w", err)
	}

	m.mu.Lock()
	m.latestLocal = snap
	m.mu.Unlock()

	if lines := m.opts.Thresholds.Breaches(snap); len(lines) > 0 {
		if m.throttle.Allow(localAlertKey, m.now(), m.opts.LocalCooldown) {
			m.notify(LocalAlertMessage(lines))
		}
	}

	if m.deps.Publisher != nil {
		m.deps.Publisher.Publish(live.EventStats, snap)
		m.deps.Publisher.Publish(live.EventAgents, m.deps.Agents.List())
	}
	return nil
}

func (m *Monitor) notify(msg string) {
	if m.deps.Notifier == nil {
		return
	}
	if !m.deps.Notifier.Notify(msg) {
		m.log.Warn("notification not queued", "msg", msg)
	}
}

// Forget drops in-memory state of a deleted target. A tick already in flight
// discards its result for the target when it finishes.
func (m *Monitor) Forget(targetID uint) {
	m.tracker.Forget(targetID)
	m.throttle.Forget(deviceAlertKey(targetID))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgetSeq++
	m.forgotten[targetID] = m.forgetSeq

	targets := m.targets[:0:0]
	for _, t := range m.targets {
		if t.ID != targetID {
			targets = append(targets, t)
		}
	}
	m.targets = targets

	kept := m.latestDevices[:0:0]
	for _, d := range m.latestDevices {
		if d.ID != targetID {
			kept = append(kept, d)
		}
	}
	m.latestDevices = kept
}

// Status returns the last observed status of a target.
func (m *Monitor) Status(targetID uint) probe.Status { return m.tracker.Status(targetID) }

// Latest returns the most recent device batch and local snapshot.
func (m *Monitor) Latest() ([]DeviceStatus, *probe.LocalSnapshot) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	devices := append([]DeviceStatus(nil), m.latestDevices...)
	return devices, m.latestLocal
}

func (m *Monitor) markTick(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.tasks[name]; ok {
		st.lastTick = m.now()
		st.ticks++
	}
}

// Health reports liveness of the periodic tasks. A task is stale when it has
// not completed a tick within three periods.
func (m *Monitor) Health() []TaskHealth {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TaskHealth, 0, len(m.tasks))
	for _, name := range []string{TaskDevices, TaskLocal} {
		st := m.tasks[name]
		out = append(out, TaskHealth{
			Name:          name,
			PeriodSeconds: st.period.Seconds(),
			LastTick:      st.lastTick,
			Ticks:         st.ticks,
			Stale:         st.lastTick.IsZero() || now.Sub(st.lastTick) > 3*st.period,
		})
	}
	return out
}
