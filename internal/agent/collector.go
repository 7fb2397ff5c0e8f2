package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Report is the payload pushed to the data plane.
type Report struct {
	Name string  `json:"name"`
	CPU  float64 `json:"cpu"`
	RAM  float64 `json:"ram"`
}

// Collector reads CPU and RAM usage through gopsutil.
type Collector struct {
	cpuWindow time.Duration

	cpuPercent func(ctx context.Context, window time.Duration) (float64, error)
	ramPercent func(ctx context.Context) (float64, error)
}

// NewCollector creates a Collector that measures CPU over cpuWindow.
func NewCollector(cpuWindow time.Duration) *Collector {
	return &Collector{
		cpuWindow:  cpuWindow,
		cpuPercent: cpuPercent,
		ramPercent: ramPercent,
	}
}

// Collect gathers one report for the agent called name.
func (c *Collector) Collect(ctx context.Context, name string) (Report, error) {
	cpuPct, err := c.cpuPercent(ctx, c.cpuWindow)
	if err != nil {
		return Report{}, fmt.Errorf("cpu percent: %w", err)
	}
	ramPct, err := c.ramPercent(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("virtual memory: %w", err)
	}
	return Report{Name: name, CPU: round1(cpuPct), RAM: round1(ramPct)}, nil
}

func cpuPercent(ctx context.Context, window time.Duration) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, nil
	}
	return pcts[0], nil
}

func ramPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// DefaultName is "agent-<hostname>".
func DefaultName(ctx context.Context) string {
	if info, err := host.InfoWithContext(ctx); err == nil && info.Hostname != "" {
		return "agent-" + info.Hostname
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return "agent-" + h
	}
	return "agent-unknown"
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
