package classifier

// Instrument Detection
//
// Instruments are inferred from the per-frame spectral centroid series of a track.
// The centroid is the magnitude-weighted mean frequency of a frame, so it tracks
// how "bright" the sound is over time.
//
// Rules:
//
// 1. Spread:
//    - A population standard deviation above 1500 Hz means the brightness jumps
//      around a lot, which is read as several sources playing together ("Ensemble")
//
// 2. Brightness band (exactly one applies):
//    - mean > 5000 Hz         -> Strings, High Percussion
//    - 2000 < mean <= 5000 Hz -> Vocals, Woodwinds, Mid-range Instruments
//    - mean <= 2000 Hz        -> Bass, Low Percussion, Bass Strings
//
// The label list is deduplicated (first occurrence wins) and capped at five entries.
// Classification never fails: empty input yields no labels and any internal fault
// yields the single label "Unknown".

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	ensembleSpreadHz   = 1500.0
	brightThresholdHz  = 5000.0
	darkThresholdHz    = 2000.0
	maxInstrumentCount = 5

	UnknownInstrument = "Unknown"
)

var (
	brightInstruments = []string{"Strings", "High Percussion"}
	midInstruments    = []string{"Vocals", "Woodwinds", "Mid-range Instruments"}
	darkInstruments   = []string{"Bass", "Low Percussion", "Bass Strings"}
)

var errNonFiniteCentroid = errors.New("non-finite spectral centroid")

// CentroidStats summarises the centroid series that drove a decision.
type CentroidStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Band   string  `json:"band"`
	Frames int     `json:"frames"`
}

// InstrumentClassifier maps a spectral centroid series onto coarse instrument labels.
type InstrumentClassifier struct{}

func NewInstrumentClassifier() *InstrumentClassifier {
	return &InstrumentClassifier{}
}

// Classify returns at most five distinct instrument labels for centroids.
func (c *InstrumentClassifier) Classify(centroids []float64) (labels []string) {
	defer func() {
		if r := recover(); r != nil {
			labels = []string{UnknownInstrument}
		}
	}()

	labels, _, err := c.classify(centroids)
	if err != nil {
		return []string{UnknownInstrument}
	}
	return labels
}

// Describe returns the statistics Classify bases its decision on.
func (c *InstrumentClassifier) Describe(centroids []float64) (CentroidStats, error) {
	_, st, err := c.classify(centroids)
	return st, err
}

func (c *InstrumentClassifier) classify(centroids []float64) ([]string, CentroidStats, error) {
	st := CentroidStats{Frames: len(centroids)}
	if len(centroids) == 0 {
		return []string{}, st, nil
	}

	for i, v := range centroids {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, st, fmt.Errorf("frame %d: %w", i, errNonFiniteCentroid)
		}
	}

	mean, std := stat.PopMeanStdDev(centroids, nil)
	if math.IsNaN(mean) || math.IsNaN(std) || math.IsInf(mean, 0) || math.IsInf(std, 0) {
		return nil, st, errNonFiniteCentroid
	}
	st.Mean = mean
	st.StdDev = std

	labels := make([]string, 0, maxInstrumentCount+1)
	if std > ensembleSpreadHz {
		labels = append(labels, "Ensemble")
	}

	switch {
	case mean > brightThresholdHz:
		st.Band = "bright"
		labels = append(labels, brightInstruments...)
	case mean > darkThresholdHz:
		st.Band = "mid"
		labels = append(labels, midInstruments...)
	default:
		st.Band = "dark"
		labels = append(labels, darkInstruments...)
	}

	return capLabels(dedupeLabels(labels), maxInstrumentCount), st, nil
}

func dedupeLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}

func capLabels(labels []string, limit int) []string {
	if len(labels) > limit {
		return labels[:limit]
	}
	return labels
}
