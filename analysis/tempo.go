package analysis

import (
	"encoding/json"
	"math"
)

// TempoBPM reads a tempo out of an extractor's rhythm result. Sequence-like
// values yield their first element; anything else, or an element that is not
// a finite non-negative number, yields 0.
func TempoBPM(rhythm any) float64 {
	var first any
	switch v := rhythm.(type) {
	case []float64:
		if len(v) == 0 {
			return 0
		}
		first = v[0]
	case []float32:
		if len(v) == 0 {
			return 0
		}
		first = float64(v[0])
	case []any:
		if len(v) == 0 {
			return 0
		}
		first = v[0]
	case json.RawMessage:
		var seq []any
		if err := json.Unmarshal(v, &seq); err != nil || len(seq) == 0 {
			return 0
		}
		first = seq[0]
	default:
		return 0
	}

	bpm, ok := toFloat(first)
	if !ok || math.IsNaN(bpm) || math.IsInf(bpm, 0) || bpm < 0 {
		return 0
	}
	return bpm
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
