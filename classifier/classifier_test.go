package classifier

import (
	"math"
	"slices"
	"testing"
)

const scoreTolerance = 1e-9

func TestInstrumentClassifierEmptySeries(t *testing.T) {
	t.Parallel()

	labels := NewInstrumentClassifier().Classify(nil)
	if labels == nil {
		t.Fatalf("expected empty non-nil slice")
	}
	if len(labels) != 0 {
		t.Fatalf("expected no labels, got %v", labels)
	}
}

func TestInstrumentClassifierBands(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		centroids []float64
		want      []string
	}{
		{"bright", []float64{6000, 6100, 5900}, []string{"Strings", "High Percussion"}},
		{"mid", []float64{3000, 3100, 2900}, []string{"Vocals", "Woodwinds", "Mid-range Instruments"}},
		{"dark", []float64{500, 600, 700}, []string{"Bass", "Low Percussion", "Bass Strings"}},
		{"exactly 2000 is dark", []float64{2000, 2000}, []string{"Bass", "Low Percussion", "Bass Strings"}},
		{"exactly 5000 is mid", []float64{5000, 5000}, []string{"Vocals", "Woodwinds", "Mid-range Instruments"}},
	}

	c := NewInstrumentClassifier()
	for _, tc := range cases {
		got := c.Classify(tc.centroids)
		if !slices.Equal(got, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestInstrumentClassifierEnsembleFirstAndCapped(t *testing.T) {
	t.Parallel()

	// mean 3500, population std 3000
	labels := NewInstrumentClassifier().Classify([]float64{500, 6500})
	want := []string{"Ensemble", "Vocals", "Woodwinds", "Mid-range Instruments"}
	if !slices.Equal(labels, want) {
		t.Fatalf("got %v, want %v", labels, want)
	}

	// mean 6000, std 4000: ensemble plus bright band
	labels = NewInstrumentClassifier().Classify([]float64{2000, 10000})
	want = []string{"Ensemble", "Strings", "High Percussion"}
	if !slices.Equal(labels, want) {
		t.Fatalf("got %v, want %v", labels, want)
	}
}

func TestInstrumentClassifierSpreadBoundary(t *testing.T) {
	t.Parallel()

	// population std of {1000, 4000} is exactly 1500 and must not count as an ensemble
	labels := NewInstrumentClassifier().Classify([]float64{1000, 4000})
	if slices.Contains(labels, "Ensemble") {
		t.Fatalf("std == 1500 should not yield Ensemble: %v", labels)
	}
}

func TestInstrumentClassifierInvariants(t *testing.T) {
	t.Parallel()

	c := NewInstrumentClassifier()
	series := [][]float64{
		{100},
		{100, 9000, 100, 9000},
		{4000, 4100, 3900, 12000, 50},
		{20000, 21000},
	}
	for _, s := range series {
		labels := c.Classify(s)
		if len(labels) > maxInstrumentCount {
			t.Fatalf("%v: too many labels %v", s, labels)
		}
		seen := map[string]bool{}
		for _, l := range labels {
			if seen[l] {
				t.Fatalf("%v: duplicate label %q in %v", s, l, labels)
			}
			seen[l] = true
		}
		bands := 0
		for _, band := range [][]string{brightInstruments, midInstruments, darkInstruments} {
			if slices.Contains(labels, band[0]) {
				bands++
			}
		}
		if bands != 1 {
			t.Fatalf("%v: expected exactly one band, got %v", s, labels)
		}
	}
}

// A NaN or +Inf centroid is a fault and yields [Unknown]. NumPy-style
// mean/std would instead fall through to a band (NaN lands in the Bass
// band, +Inf in Strings); that behaviour is deliberately not reproduced.
func TestInstrumentClassifierFaultYieldsUnknown(t *testing.T) {
	t.Parallel()

	c := NewInstrumentClassifier()
	for _, s := range [][]float64{{math.NaN()}, {1000, math.Inf(1)}, {math.MaxFloat64, math.MaxFloat64}} {
		got := c.Classify(s)
		if !slices.Equal(got, []string{UnknownInstrument}) {
			t.Fatalf("%v: expected [Unknown], got %v", s, got)
		}
	}
}

func TestInstrumentClassifierDescribe(t *testing.T) {
	t.Parallel()

	st, err := NewInstrumentClassifier().Describe([]float64{500, 6500})
	if err != nil {
		t.Fatalf("Describe returned error: %v", err)
	}
	if math.Abs(st.Mean-3500) > scoreTolerance || math.Abs(st.StdDev-3000) > scoreTolerance {
		t.Fatalf("unexpected stats %+v", st)
	}
	if st.Band != "mid" || st.Frames != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestEthnicClassifierUnclassifiedSentinel(t *testing.T) {
	t.Parallel()

	// no instruments, short hpcp, major, tempo outside every band
	got := NewEthnicGroupClassifier().Classify(nil, make([]float64, 12), "C", "major", 20)
	if got.Primary != Unclassified || got.Confidence != 0 {
		t.Fatalf("expected Unclassified sentinel, got %+v", got)
	}
	if got.AllScores == nil || len(got.AllScores) != 0 {
		t.Fatalf("expected empty non-nil scores, got %#v", got.AllScores)
	}
}

func TestEthnicClassifierSitarExample(t *testing.T) {
	t.Parallel()

	got := NewEthnicGroupClassifier().Classify([]string{"Sitar solo"}, make([]float64, 31), "D", "minor", 95)

	want := map[string]float64{
		LabelIndian:    0.9,
		LabelArab:      0.4,
		LabelTurkish:   0.3,
		LabelEastAsian: 0.1,
		LabelFolk:      0.2,
	}
	assertScores(t, got.AllScores, want)

	if got.Primary != "Indian" {
		t.Fatalf("expected primary Indian, got %q", got.Primary)
	}
	if math.Abs(got.Confidence-0.9) > scoreTolerance {
		t.Fatalf("expected confidence 0.9, got %v", got.Confidence)
	}
}

func TestEthnicClassifierSlowTempoOnly(t *testing.T) {
	t.Parallel()

	got := NewEthnicGroupClassifier().Classify([]string{}, []float64{}, "C", "major", 60)
	assertScores(t, got.AllScores, map[string]float64{LabelClassicalWestern: 0.2})
	if got.Primary != "Classical Western" {
		t.Fatalf("expected display label with a space, got %q", got.Primary)
	}
	if math.Abs(got.Confidence-0.2) > scoreTolerance {
		t.Fatalf("expected confidence 0.2, got %v", got.Confidence)
	}
}

func TestEthnicClassifierTempoBoundaries(t *testing.T) {
	t.Parallel()

	c := NewEthnicGroupClassifier()
	cases := []struct {
		bpm  float64
		want string
	}{
		{39.99, ""},
		{40, LabelClassicalWestern},
		{80, LabelClassicalWestern},
		{80.01, LabelFolk},
		{120, LabelFolk},
		{120.5, LabelEnergetic},
	}
	for _, tc := range cases {
		got := c.Classify(nil, nil, "", "major", tc.bpm)
		if tc.want == "" {
			if got.Primary != Unclassified {
				t.Errorf("bpm %v: expected Unclassified, got %+v", tc.bpm, got)
			}
			continue
		}
		if len(got.AllScores) != 1 {
			t.Errorf("bpm %v: expected a single tempo label, got %v", tc.bpm, got.AllScores)
		}
		if _, ok := got.AllScores[tc.want]; !ok {
			t.Errorf("bpm %v: expected %s, got %v", tc.bpm, tc.want, got.AllScores)
		}
	}
}

func TestEthnicClassifierConfidenceClamped(t *testing.T) {
	t.Parallel()

	// Arab: 0.9 keyword + 0.3 harmonic + 0.1 minor = 1.3
	got := NewEthnicGroupClassifier().Classify([]string{"Oud", "Qanun"}, make([]float64, 36), "A", "minor", 0)
	if got.Primary != LabelArab {
		t.Fatalf("expected Arab, got %+v", got)
	}
	if got.Confidence != 1.0 {
		t.Fatalf("expected confidence clamped to 1.0, got %v", got.Confidence)
	}
	if math.Abs(got.AllScores[LabelArab]-1.3) > scoreTolerance {
		t.Fatalf("raw score should stay unclamped, got %v", got.AllScores[LabelArab])
	}
}

func TestEthnicClassifierKeywordRowFiresOnce(t *testing.T) {
	t.Parallel()

	got := NewEthnicGroupClassifier().Classify([]string{"sitar", "tabla", "bansuri"}, nil, "", "", 0)
	assertScores(t, got.AllScores, map[string]float64{LabelIndian: 0.9})
}

func TestEthnicClassifierTieKeepsFirstScored(t *testing.T) {
	t.Parallel()

	// Indian and African both score 0.9; Indian is scored first.
	got := NewEthnicGroupClassifier().Classify([]string{"Djembe", "Tabla"}, nil, "", "", 0)
	if got.Primary != LabelIndian {
		t.Fatalf("expected first scored label to win the tie, got %q", got.Primary)
	}

	// East_Asian 0.9 + 0.1 beats Indian 0.9.
	got = NewEthnicGroupClassifier().Classify([]string{"Tabla", "Erhu"}, nil, "", "minor", 0)
	if got.Primary != "East Asian" {
		t.Fatalf("expected East Asian, got %q", got.Primary)
	}
}

func TestEthnicClassifierScoresMatchEvidence(t *testing.T) {
	t.Parallel()

	c := NewEthnicGroupClassifier()
	instruments := []string{"Guitar", "Ensemble", "Kora"}
	hpcp := make([]float64, 36)

	evidence := c.Explain(instruments, hpcp, "E", "minor", 130)
	summed := map[string]float64{}
	for _, ev := range evidence {
		summed[ev.Label] += ev.Weight
	}

	got := c.Classify(instruments, hpcp, "E", "minor", 130)
	assertScores(t, got.AllScores, summed)
	if got.Confidence < 0 || got.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", got.Confidence)
	}
}

func TestScoreTableBestUsesInsertionOrder(t *testing.T) {
	t.Parallel()

	table := NewScoreTable()
	table.Add("b", 0.5)
	table.Add("a", 0.5)
	table.Add("c", 0.2)

	label, score := table.Best()
	if label != "b" || score != 0.5 {
		t.Fatalf("expected b/0.5, got %s/%v", label, score)
	}
}

func assertScores(t *testing.T, got, want map[string]float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("score table size mismatch: got %v, want %v", got, want)
	}
	for label, w := range want {
		g, ok := got[label]
		if !ok {
			t.Fatalf("missing label %s in %v", label, got)
		}
		if math.Abs(g-w) > scoreTolerance {
			t.Fatalf("label %s: got %v, want %v", label, g, w)
		}
	}
}
