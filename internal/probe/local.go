package probe

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// Volume is the usage of one mounted filesystem.
type Volume struct {
	Label       string  `json:"volume_label"`
	UsedPercent float64 `json:"used_percent"`
	FreeBytes   uint64  `json:"free_bytes"`
}

// LocalSnapshot is a point-in-time view of the local host. It is streamed and
// evaluated for thresholds but never persisted.
type LocalSnapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	RAMPercent    float64   `json:"ram_percent"`
	RAMUsedBytes  uint64    `json:"ram_used_bytes"`
	RAMTotalBytes uint64    `json:"ram_total_bytes"`
	Volumes       []Volume  `json:"volumes"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
	NetRxBps      int64     `json:"net_rx_bps"` // bytes/s since the previous sample
	NetTxBps      int64     `json:"net_tx_bps"`
	SampledAt     time.Time `json:"sampled_at"`
}

// LocalSampler reads local host metrics with gopsutil.
type LocalSampler struct {
	cpuWindow time.Duration

	mu          sync.Mutex
	prevRx      uint64
	prevTx      uint64
	prevTime    time.Time
	initialized bool
}

// NewLocalSampler creates a sampler measuring CPU over cpuWindow.
// A one second window blocks the caller, which is fine on a dedicated tick.
func NewLocalSampler(cpuWindow time.Duration) *LocalSampler {
	return &LocalSampler{cpuWindow: cpuWindow}
}

// Sample collects a snapshot. CPU and memory are required; volumes, uptime and
// network throughput are best-effort.
func (s *LocalSampler) Sample(ctx context.Context) (*LocalSnapshot, error) {
	pcts, err := cpu.PercentWithContext(ctx, s.cpuWindow, false)
	if err != nil {
		return nil, fmt.Errorf("cpu percent: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}

	snap := &LocalSnapshot{
		RAMPercent:    vm.UsedPercent,
		RAMUsedBytes:  vm.Used,
		RAMTotalBytes: vm.Total,
		Volumes:       volumes(ctx),
		SampledAt:     time.Now(),
	}
	if len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		snap.UptimeSeconds = up
	}
	snap.NetRxBps, snap.NetTxBps = s.netBandwidth(ctx)
	return snap, nil
}

// volumes enumerates mounted filesystems, skipping optical/removable media
// and entries without a filesystem type.
func volumes(ctx context.Context) []Volume {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil
	}
	out := make([]Volume, 0, len(partitions))
	for _, p := range partitions {
		if !includePartition(p) {
			continue
		}
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		out = append(out, Volume{
			Label:       volumeLabel(p, runtime.GOOS),
			UsedPercent: usage.UsedPercent,
			FreeBytes:   usage.Free,
		})
	}
	return out
}

func includePartition(p disk.PartitionStat) bool {
	switch strings.ToLower(p.Fstype) {
	case "", "iso9660", "udf", "cdfs":
		return false
	}
	for _, o := range p.Opts {
		switch strings.ToLower(o) {
		case "cdrom", "removable":
			return false
		}
	}
	return true
}

// volumeLabel is the drive letter on Windows ("C:") and the mountpoint elsewhere.
func volumeLabel(p disk.PartitionStat, goos string) string {
	if goos == "windows" {
		return strings.ReplaceAll(p.Device, `\`, "")
	}
	return p.Mountpoint
}

// netBandwidth computes bytes/s since the last call using IOCounters deltas.
func (s *LocalSampler) netBandwidth(ctx context.Context) (rxBps, txBps int64) {
	stats, err := psnet.IOCountersWithContext(ctx, false) // aggregate all interfaces
	if err != nil || len(stats) == 0 {
		return 0, 0
	}
	now := time.Now()
	curRx := stats[0].BytesRecv
	curTx := stats[0].BytesSent

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		rxBps = rate(s.prevRx, curRx, now.Sub(s.prevTime))
		txBps = rate(s.prevTx, curTx, now.Sub(s.prevTime))
	}
	s.prevRx, s.prevTx, s.prevTime = curRx, curTx, now
	s.initialized = true
	return rxBps, txBps
}

func rate(prev, cur uint64, dt time.Duration) int64 {
	if dt <= 0 || cur < prev {
		return 0 // counter reset (reboot, interface flap)
	}
	return int64(float64(cur-prev) / dt.Seconds())
}
