package dashboard

import (
	"fmt"
	"math"
	"strings"
)

const barWidth = 30

// bar draws a horizontal gauge for a percentage.
func bar(percent float64, width int) string {
	percent = math.Min(math.Max(percent, 0), 100)
	filled := int(math.Round(percent / 100 * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func watts(mw float64) string {
	return fmt.Sprintf("%.2fW", mw/1000)
}

// percentOf is v as a share of limit, both in the same unit.
func percentOf(v, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Min(v/limit*100, 100)
}

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

func bytesHuman(v float64) string {
	i := 0
	for v >= 1024 && i < len(byteUnits)-1 {
		v /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%.0f%s", v, byteUnits[i])
	}
	return fmt.Sprintf("%.1f%s", v, byteUnits[i])
}

func rateHuman(v float64) string {
	return bytesHuman(v) + "/s"
}
