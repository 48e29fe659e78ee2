package dashboard

import "strings"

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the last width values scaled to the largest of them.
func Sparkline(values []float64, width int) string {
	if width <= 0 || len(values) == 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}

	var top float64
	for _, v := range values {
		top = max(top, v)
	}

	var b strings.Builder
	for _, v := range values {
		idx := 0
		if top > 0 && v > 0 {
			idx = int(v / top * float64(len(sparkBlocks)-1))
		}
		b.WriteRune(sparkBlocks[min(idx, len(sparkBlocks)-1)])
	}

	return b.String()
}

// history is a bounded series of the most recent values.
type history struct {
	values []float64
	limit  int
}

func newHistory(limit int) history {
	return history{limit: limit}
}

func (h history) push(v float64) history {
	values := append(h.values[:len(h.values):len(h.values)], v)
	if len(values) > h.limit {
		values = values[len(values)-h.limit:]
	}
	h.values = values
	return h
}
