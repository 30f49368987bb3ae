package extractor

// Spectral Analysis
//
// Frames are cut every hopSize samples starting at sample 0. The trailing frame
// is zero-padded to frameSize and kept only while at least half of it is real
// signal (a signal shorter than half a frame still yields one frame). Each frame
// is Hann-windowed and transformed with a real FFT; only the magnitudes of bins
// 0..N/2 are kept.
//
// The spectral centroid of a frame is the magnitude-weighted mean bin frequency
// in Hz. A silent frame has centroid 0.

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// ForEachFrame calls fn for every frame of frameSize taken every hopSize samples.
// The frame buffer is reused between calls; fn must not retain it.
func ForEachFrame(samples []float64, frameSize, hopSize int, fn func(frame []float64)) int {
	if len(samples) == 0 || frameSize <= 0 || hopSize <= 0 {
		return 0
	}

	frame := make([]float64, frameSize)
	count := 0
	for start := 0; start < len(samples); start += hopSize {
		remaining := len(samples) - start
		if start > 0 && remaining < frameSize/2 {
			break
		}
		n := copy(frame, samples[start:])
		clear(frame[n:])
		fn(frame)
		count++
	}
	return count
}

// MagnitudeSpectrum windows frame in place with a Hann window and returns |FFT| for bins 0..N/2.
func MagnitudeSpectrum(frame []float64) []float64 {
	if len(frame) == 0 {
		return nil
	}
	window.Apply(frame, window.Hann)
	coeffs := fft.FFTReal(frame)

	mag := make([]float64, len(frame)/2+1)
	for i := range mag {
		mag[i] = cmplx.Abs(coeffs[i])
	}
	return mag
}

// BinFrequency returns the centre frequency in Hz of spectrum bin i.
func BinFrequency(bin, frameSize, sampleRate int) float64 {
	return float64(bin) * float64(sampleRate) / float64(frameSize)
}

// SpectralCentroid returns the magnitude-weighted mean frequency of a spectrum.
func SpectralCentroid(mag []float64, frameSize, sampleRate int) float64 {
	var weighted, total float64
	for i, m := range mag {
		weighted += BinFrequency(i, frameSize, sampleRate) * m
		total += m
	}
	if total <= 0 || math.IsNaN(total) {
		return 0
	}
	return weighted / total
}

// SpectralCentroids computes one centroid per frame.
func SpectralCentroids(samples []float64, sampleRate, frameSize, hopSize int) []float64 {
	centroids := make([]float64, 0, len(samples)/max(hopSize, 1)+1)
	ForEachFrame(samples, frameSize, hopSize, func(frame []float64) {
		centroids = append(centroids, SpectralCentroid(MagnitudeSpectrum(frame), frameSize, sampleRate))
	})
	return centroids
}
