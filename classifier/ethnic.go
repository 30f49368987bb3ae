package classifier

// Ethnic / Cultural Style Scoring
//
// The classifier adds up weighted evidence from four independent sources into a
// per-label score table and reports the strongest label.
//
// Evidence sources, evaluated in this order:
//
// 1. Instrument keywords (case-insensitive substring match on the joined labels):
//    - sitar, tabla, sarod, bansuri      -> Indian     +0.9
//    - oud, ney, daf, qanun              -> Arab       +0.9
//    - kora, talking drum, djembe, ...   -> African    +0.9
//    - guitar, mandolin, castanets       -> Spanish    +0.7
//    - erhu, pipa, guzheng               -> East_Asian +0.9
//    Each row fires at most once no matter how many of its keywords match.
//
// 2. Harmonic resolution: an HPCP vector longer than 24 bins adds +0.3 to both
//    Arab and Turkish.
//
// 3. Tempo band, first match wins:
//    - 40 <= bpm <= 80  -> Classical_Western +0.2
//    - 80 <  bpm <= 120 -> Folk +0.2
//    - bpm > 120        -> Energetic +0.2
//
// 4. Mode: a minor scale adds +0.1 to Arab and East_Asian.
//
// Selection walks the table in insertion order and keeps the first strictly
// greater score, so ties resolve to the label that was scored first. Confidence
// is the winning score clamped to 1.0. Raw labels keep their underscores in
// AllScores; only Primary is rendered with spaces.

import (
	"math"
	"strings"

	"essentia-analysis-api/models"
)

const (
	LabelIndian           = "Indian"
	LabelArab             = "Arab"
	LabelAfrican          = "African"
	LabelSpanish          = "Spanish"
	LabelEastAsian        = "East_Asian"
	LabelTurkish          = "Turkish"
	LabelClassicalWestern = "Classical_Western"
	LabelFolk             = "Folk"
	LabelEnergetic        = "Energetic"

	Unclassified = "Unclassified"
)

const (
	SourceInstrument = "instrument"
	SourceHarmonic   = "harmonic"
	SourceTempo      = "tempo"
	SourceMode       = "mode"
)

const (
	microtonalHPCPBins = 24
	tempoWeight        = 0.2
	harmonicWeight     = 0.3
	minorModeWeight    = 0.1
	maxConfidence      = 1.0
)

type keywordRule struct {
	keywords []string
	label    string
	weight   float64
}

var instrumentRules = []keywordRule{
	{keywords: []string{"sitar", "tabla", "sarod", "bansuri"}, label: LabelIndian, weight: 0.9},
	{keywords: []string{"oud", "ney", "daf", "qanun"}, label: LabelArab, weight: 0.9},
	{keywords: []string{"kora", "talking drum", "djembe", "kpanlogo"}, label: LabelAfrican, weight: 0.9},
	{keywords: []string{"guitar", "mandolin", "castanets"}, label: LabelSpanish, weight: 0.7},
	{keywords: []string{"erhu", "pipa", "guzheng"}, label: LabelEastAsian, weight: 0.9},
}

// Evidence is one fired scoring contribution.
type Evidence struct {
	Source string  `json:"source"`
	Label  string  `json:"label"`
	Weight float64 `json:"weight"`
	Reason string  `json:"reason"`
}

// ScoreTable accumulates label scores and remembers the order labels were first scored in.
type ScoreTable struct {
	order  []string
	scores map[string]float64
}

func NewScoreTable() *ScoreTable {
	return &ScoreTable{scores: make(map[string]float64)}
}

func (t *ScoreTable) Add(label string, weight float64) {
	if _, ok := t.scores[label]; !ok {
		t.order = append(t.order, label)
	}
	t.scores[label] += weight
}

func (t *ScoreTable) Len() int {
	return len(t.order)
}

// Best returns the first label holding the maximum score.
func (t *ScoreTable) Best() (string, float64) {
	var (
		best      string
		bestScore = math.Inf(-1)
	)
	for _, label := range t.order {
		if score := t.scores[label]; score > bestScore {
			best = label
			bestScore = score
		}
	}
	return best, bestScore
}

// Scores returns a copy of the table keyed by raw label.
func (t *ScoreTable) Scores() map[string]float64 {
	out := make(map[string]float64, len(t.scores))
	for label, score := range t.scores {
		out[label] = score
	}
	return out
}

// EthnicGroupClassifier scores cultural style from instruments and tonal descriptors.
type EthnicGroupClassifier struct{}

func NewEthnicGroupClassifier() *EthnicGroupClassifier {
	return &EthnicGroupClassifier{}
}

// UnclassifiedResult is returned when no evidence fired or scoring failed.
func UnclassifiedResult() models.ClassificationResult {
	return models.ClassificationResult{
		Primary:    Unclassified,
		Confidence: 0.0,
		AllScores:  map[string]float64{},
	}
}

// Classify returns the most likely style. It never fails.
func (c *EthnicGroupClassifier) Classify(instruments []string, hpcp []float64, key, scale string, bpm float64) (result models.ClassificationResult) {
	defer func() {
		if r := recover(); r != nil {
			result = UnclassifiedResult()
		}
	}()

	table := NewScoreTable()
	for _, ev := range c.Explain(instruments, hpcp, key, scale, bpm) {
		table.Add(ev.Label, ev.Weight)
	}
	if table.Len() == 0 {
		return UnclassifiedResult()
	}

	label, score := table.Best()
	return models.ClassificationResult{
		Primary:    DisplayLabel(label),
		Confidence: math.Min(score, maxConfidence),
		AllScores:  table.Scores(),
	}
}

// Explain lists every contribution that fires for the given inputs, in scoring order.
// key is accepted for parity with the tonal descriptors but carries no weight.
func (c *EthnicGroupClassifier) Explain(instruments []string, hpcp []float64, _ string, scale string, bpm float64) []Evidence {
	var evidence []Evidence

	joined := strings.ToLower(strings.Join(instruments, " "))
	for _, rule := range instrumentRules {
		if kw, ok := firstKeyword(joined, rule.keywords); ok {
			evidence = append(evidence, Evidence{
				Source: SourceInstrument,
				Label:  rule.label,
				Weight: rule.weight,
				Reason: "instrument keyword " + kw,
			})
		}
	}

	if len(hpcp) > microtonalHPCPBins {
		for _, label := range []string{LabelArab, LabelTurkish} {
			evidence = append(evidence, Evidence{
				Source: SourceHarmonic,
				Label:  label,
				Weight: harmonicWeight,
				Reason: "hpcp resolution above 24 bins",
			})
		}
	}

	if label, ok := tempoBand(bpm); ok {
		evidence = append(evidence, Evidence{
			Source: SourceTempo,
			Label:  label,
			Weight: tempoWeight,
			Reason: "tempo band",
		})
	}

	if scale == "minor" {
		for _, label := range []string{LabelArab, LabelEastAsian} {
			evidence = append(evidence, Evidence{
				Source: SourceMode,
				Label:  label,
				Weight: minorModeWeight,
				Reason: "minor mode",
			})
		}
	}

	return evidence
}

func firstKeyword(haystack string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return kw, true
		}
	}
	return "", false
}

func tempoBand(bpm float64) (string, bool) {
	switch {
	case bpm >= 40 && bpm <= 80:
		return LabelClassicalWestern, true
	case bpm > 80 && bpm <= 120:
		return LabelFolk, true
	case bpm > 120:
		return LabelEnergetic, true
	default:
		return "", false
	}
}

// DisplayLabel renders a raw label for clients.
func DisplayLabel(label string) string {
	return strings.ReplaceAll(label, "_", " ")
}
