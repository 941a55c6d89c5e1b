package tui

import (
	"strings"

	"github.com/trafficwatch/trafficwatch/internal/series"
)

var bars = []rune("▁▂▃▄▅▆▇█")

// sparkline renders the last width points scaled between their min and max.
func sparkline(points []series.Point, width int) string {
	if width <= 0 || len(points) == 0 {
		return ""
	}
	if len(points) > width {
		points = points[len(points)-width:]
	}

	lo, hi := points[0].Value, points[0].Value
	for _, p := range points[1:] {
		lo = min(lo, p.Value)
		hi = max(hi, p.Value)
	}

	var sb strings.Builder
	for _, p := range points {
		i := 0
		if hi > lo {
			i = int((p.Value - lo) / (hi - lo) * float64(len(bars)-1))
		}
		sb.WriteRune(bars[i])
	}
	return sb.String()
}
