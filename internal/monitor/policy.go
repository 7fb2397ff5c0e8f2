package monitor

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vesaa/netgaze/internal/probe"
)

// Thresholds are the local resource limits; a value strictly above a limit
// is included in the next eligible alert.
type Thresholds struct {
	CPU  float64
	RAM  float64
	Disk float64
}

// DefaultThresholds is the stock local resource policy.
var DefaultThresholds = Thresholds{CPU: 85, RAM: 90, Disk: 90}

// Breaches lists one alert line per resource over its limit.
func (t Thresholds) Breaches(s *probe.LocalSnapshot) []string {
	if s == nil {
		return nil
	}
	var lines []string
	if s.CPUPercent > t.CPU {
		lines = append(lines, fmt.Sprintf("🔥 CPU CRITICAL: %s%%", formatPct(s.CPUPercent)))
	}
	if s.RAMPercent > t.RAM {
		lines = append(lines, fmt.Sprintf("💾 RAM FULL: %s%%", formatPct(s.RAMPercent)))
	}
	for _, v := range s.Volumes {
		if v.UsedPercent > t.Disk {
			lines = append(lines, fmt.Sprintf("💿 %s FULL: %s%%", v.Label, formatPct(v.UsedPercent)))
		}
	}
	return lines
}

// LocalAlertMessage bundles breach lines into one notification.
func LocalAlertMessage(lines []string) string {
	return "🚨 [NETGAZE ALERT] 🚨\n\n" + strings.Join(lines, "\n") + "\n\nCheck Dashboard Immediately!"
}

// TransitionMessage is the operator text for a target status change.
func TransitionMessage(name string, to probe.Status, detail string) string {
	switch to {
	case probe.StatusUp:
		return fmt.Sprintf("✅ %s UP!", name)
	case probe.StatusDown:
		return fmt.Sprintf("🚨 %s DOWN!", name)
	default:
		return fmt.Sprintf("⚠️ %s ERROR (%s)", name, detail)
	}
}

// formatPct renders 90 as "90" and 90.46 as "90.5".
func formatPct(v float64) string {
	return strconv.FormatFloat(math.Round(v*10)/10, 'f', -1, 64)
}
