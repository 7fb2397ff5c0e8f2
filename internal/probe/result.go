// Package probe samples machine health: reachability and latency of remote
// devices, and resource usage of the local host. Probing failures are data,
// reported through SampleResult, never returned as errors.
package probe

import "time"

// Status is the observed state of a target.
type Status string

const (
	StatusUp    Status = "UP"
	StatusDown  Status = "DOWN"
	StatusError Status = "ERROR"
)

// Band is an advisory display classification derived from latency.
// It is never used for alerting.
type Band string

const (
	BandNominal  Band = "nominal"
	BandDegraded Band = "degraded"
	BandCritical Band = "critical"
)

// DegradedLatencyMS is the latency at which an UP target is shown as degraded.
const DegradedLatencyMS = 100

// SampleResult is the outcome of probing one target at one instant.
type SampleResult struct {
	Status    Status    `json:"status"`
	LatencyMS int64     `json:"latency_ms"` // meaningful only when Status is UP
	Detail    string    `json:"detail"`
	SampledAt time.Time `json:"sampled_at"`
}

// Band classifies the result for display.
func (r SampleResult) Band() Band {
	if r.Status != StatusUp {
		return BandCritical
	}
	if r.LatencyMS < DegradedLatencyMS {
		return BandNominal
	}
	return BandDegraded
}

// Up reports whether the target answered.
func (r SampleResult) Up() bool { return r.Status == StatusUp }
