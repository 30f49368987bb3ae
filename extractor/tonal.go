package extractor

// Tonal Analysis
//
// Harmonic Pitch Class Profile (HPCP):
//
// 1. Spectral peaks: local maxima of the magnitude spectrum between 40 Hz and
//    5000 Hz, refined by parabolic interpolation, strongest 100 kept.
// 2. Each peak is placed on a circular pitch axis with `size` bins per octave,
//    bin 0 at the 440 Hz reference (A). It contributes magnitude^2 to every bin
//    within half a semitone, weighted by cos^2 of the distance.
// 3. Each frame's profile is normalised so its largest bin is 1.
// 4. The track profile is the mean over frames; no frames gives an empty profile.
//
// Key estimation folds the track profile to 12 pitch classes, rotates it so
// index 0 is C and correlates it against the 24 rotations of the
// Krumhansl-Kessler major and minor profiles. The best correlation wins; its
// value (floored at 0) is the key strength.

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	ReferenceFrequency = 440.0

	peakMinFrequency = 40.0
	peakMaxFrequency = 5000.0
	maxPeaks         = 100

	// semitones between A (HPCP bin 0) and C (key profile index 0)
	aToCSemitones = 3
)

var (
	majorProfile = []float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = []float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}

	// pitch class names indexed from C
	keyNames = []string{"C", "C#", "D", "Eb", "E", "F", "F#", "G", "Ab", "A", "Bb", "B"}
)

// Peak is a refined spectral peak.
type Peak struct {
	Frequency float64
	Magnitude float64
}

// SpectralPeaks finds up to 100 interpolated peaks between 40 Hz and 5 kHz,
// strongest first.
func SpectralPeaks(mag []float64, frameSize, sampleRate int) []Peak {
	var peaks []Peak
	binHz := float64(sampleRate) / float64(frameSize)

	for i := 1; i < len(mag)-1; i++ {
		m := mag[i]
		if m <= 0 || m <= mag[i-1] || m < mag[i+1] {
			continue
		}

		offset, peakMag := parabolicPeak(mag[i-1], m, mag[i+1])
		freq := (float64(i) + offset) * binHz
		if freq < peakMinFrequency || freq > peakMaxFrequency {
			continue
		}
		peaks = append(peaks, Peak{Frequency: freq, Magnitude: peakMag})
	}

	sort.SliceStable(peaks, func(a, b int) bool { return peaks[a].Magnitude > peaks[b].Magnitude })
	if len(peaks) > maxPeaks {
		peaks = peaks[:maxPeaks]
	}
	return peaks
}

func parabolicPeak(left, centre, right float64) (offset, magnitude float64) {
	denom := left - 2*centre + right
	if denom == 0 {
		return 0, centre
	}
	offset = 0.5 * (left - right) / denom
	if offset > 0.5 || offset < -0.5 {
		return 0, centre
	}
	magnitude = centre - 0.25*(left-right)*offset
	return offset, magnitude
}

// FrameHPCP maps spectral peaks onto a unit-max pitch class profile of the given size.
func FrameHPCP(peaks []Peak, size int) []float64 {
	hpcp := make([]float64, size)
	if size <= 0 {
		return hpcp
	}

	binsPerSemitone := float64(size) / 12.0
	halfWindow := 0.5 * binsPerSemitone

	for _, p := range peaks {
		if p.Frequency <= 0 || p.Magnitude <= 0 {
			continue
		}
		pos := math.Mod(float64(size)*math.Log2(p.Frequency/ReferenceFrequency), float64(size))
		if pos < 0 {
			pos += float64(size)
		}
		energy := p.Magnitude * p.Magnitude

		for b := 0; b < size; b++ {
			d := circularDistance(pos, float64(b), float64(size))
			if d > halfWindow {
				continue
			}
			w := math.Cos(0.5 * math.Pi * d / halfWindow)
			hpcp[b] += energy * w * w
		}
	}

	if peak := floats.Max(hpcp); peak > 0 {
		floats.Scale(1/peak, hpcp)
	}
	return hpcp
}

func circularDistance(a, b, period float64) float64 {
	d := math.Abs(a - b)
	if d > period/2 {
		d = period - d
	}
	return d
}

// MeanHPCP averages per-frame profiles of the given size over the whole signal.
// Frames are 4096 samples every 2048. No frames yields an empty profile.
func MeanHPCP(samples []float64, sampleRate, size int) []float64 {
	sum := make([]float64, size)
	count := ForEachFrame(samples, HPCPFrameSize, HPCPHopSize, func(frame []float64) {
		mag := MagnitudeSpectrum(frame)
		floats.Add(sum, FrameHPCP(SpectralPeaks(mag, HPCPFrameSize, sampleRate), size))
	})
	if count == 0 {
		return []float64{}
	}
	floats.Scale(1/float64(count), sum)
	return sum
}

// FoldToPitchClasses reduces an HPCP of any multiple-of-12 size to 12 bins,
// keeping bin 0 at A.
func FoldToPitchClasses(hpcp []float64) []float64 {
	chroma := make([]float64, 12)
	if len(hpcp) == 0 {
		return chroma
	}
	binsPerSemitone := float64(len(hpcp)) / 12.0
	for b, v := range hpcp {
		pc := int(math.Round(float64(b)/binsPerSemitone)) % 12
		chroma[pc] += v
	}
	return chroma
}

// KeyEstimate is the best matching key for a pitch class profile.
type KeyEstimate struct {
	Key      string
	Scale    string
	Strength float64
}

// EstimateKey correlates an A-referenced HPCP against every major and minor key.
// A flat or empty profile yields C major with strength 0.
func EstimateKey(hpcp []float64) KeyEstimate {
	chromaA := FoldToPitchClasses(hpcp)
	chroma := make([]float64, 12)
	for pc := range chroma {
		chroma[pc] = chromaA[(pc+aToCSemitones)%12]
	}

	best := KeyEstimate{Key: keyNames[0], Scale: "major", Strength: 0}
	if floats.Max(chroma) == floats.Min(chroma) {
		return best
	}

	bestScore := math.Inf(-1)
	for root := 0; root < 12; root++ {
		for _, candidate := range []struct {
			scale   string
			profile []float64
		}{
			{"major", majorProfile},
			{"minor", minorProfile},
		} {
			score := stat.Correlation(chroma, rotateProfile(candidate.profile, root), nil)
			if math.IsNaN(score) {
				continue
			}
			if score > bestScore {
				bestScore = score
				best = KeyEstimate{Key: keyNames[root], Scale: candidate.scale, Strength: score}
			}
		}
	}

	best.Strength = math.Max(0, math.Min(1, best.Strength))
	return best
}

func rotateProfile(profile []float64, root int) []float64 {
	rotated := make([]float64, 12)
	for i := range rotated {
		rotated[i] = profile[(i-root+12)%12]
	}
	return rotated
}
