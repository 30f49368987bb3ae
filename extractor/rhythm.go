package extractor

// Tempo Estimation
//
// 1. Envelope: the signal is cut into blocks of sampleRate/200 samples and the
//    RMS of each block is taken (roughly a 200 Hz envelope).
// 2. Onset strength: the half-wave rectified first difference of the envelope,
//    with its mean removed.
// 3. Autocorrelation of the onset strength over lags covering 40-208 BPM,
//    each lag weighted by a log-normal tempo prior centred on 120 BPM with a
//    one octave spread.
// 4. The best lag is refined by parabolic interpolation and converted to BPM.
//
// The result is []float64{bpm, confidence}, confidence being the raw
// autocorrelation at the chosen lag over the zero-lag energy. Signals that are
// silent or too short to hold two beats at 40 BPM give an empty result.

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	envelopeRate  = 200
	minTempoBPM   = 40.0
	maxTempoBPM   = 208.0
	priorTempoBPM = 120.0
	priorOctaves  = 1.0
)

// EstimateTempo returns []float64{bpm, confidence}, or an empty slice when no
// periodicity can be measured.
func EstimateTempo(samples []float64, sampleRate int) []float64 {
	if sampleRate <= 0 || len(samples) == 0 {
		return []float64{}
	}

	blockSize := max(sampleRate/envelopeRate, 1)
	envRate := float64(sampleRate) / float64(blockSize)

	envelope := make([]float64, 0, len(samples)/blockSize+1)
	for start := 0; start < len(samples); start += blockSize {
		end := min(start+blockSize, len(samples))
		var sum float64
		for _, v := range samples[start:end] {
			sum += v * v
		}
		envelope = append(envelope, math.Sqrt(sum/float64(end-start)))
	}

	onset := make([]float64, len(envelope))
	for i := 1; i < len(envelope); i++ {
		onset[i] = math.Max(0, envelope[i]-envelope[i-1])
	}
	floats.AddConst(-stat.Mean(onset, nil), onset)

	minLag := int(math.Floor(envRate * 60.0 / maxTempoBPM))
	maxLag := int(math.Ceil(envRate * 60.0 / minTempoBPM))
	minLag = max(minLag, 1)
	if len(onset) < 2*maxLag {
		return []float64{}
	}

	zeroLag := floats.Dot(onset, onset) / float64(len(onset))
	if zeroLag <= 1e-12 {
		return []float64{}
	}

	acf := make([]float64, maxLag+2)
	for lag := minLag - 1; lag <= maxLag+1; lag++ {
		if lag < 1 || lag >= len(onset) {
			continue
		}
		acf[lag] = floats.Dot(onset[:len(onset)-lag], onset[lag:]) / float64(len(onset)-lag)
	}

	bestLag := -1
	bestScore := math.Inf(-1)
	for lag := minLag; lag <= maxLag; lag++ {
		if acf[lag] <= 0 {
			continue
		}
		bpm := 60.0 * envRate / float64(lag)
		if bpm < minTempoBPM || bpm > maxTempoBPM {
			continue
		}
		octaves := math.Log2(bpm/priorTempoBPM) / priorOctaves
		score := acf[lag] * math.Exp(-0.5*octaves*octaves)
		if score > bestScore {
			bestScore = score
			bestLag = lag
		}
	}
	if bestLag < 0 {
		return []float64{}
	}

	offset := 0.0
	if bestLag > 1 && bestLag+1 < len(acf) {
		offset, _ = parabolicPeak(acf[bestLag-1], acf[bestLag], acf[bestLag+1])
	}
	bpm := 60.0 * envRate / (float64(bestLag) + offset)
	confidence := math.Max(0, math.Min(1, acf[bestLag]/zeroLag))

	return []float64{bpm, confidence}
}
