package extractor

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

func sine(freq float64, seconds float64, sampleRate int, amp float64) []float64 {
	n := int(seconds * float64(sampleRate))
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func mix(signals ...[]float64) []float64 {
	var n int
	for _, s := range signals {
		n = max(n, len(s))
	}
	out := make([]float64, n)
	for _, s := range signals {
		for i, v := range s {
			out[i] += v
		}
	}
	return out
}

// clickTrack places a 10 ms decaying 1 kHz burst on every beat.
func clickTrack(bpm, seconds float64, sampleRate int) []float64 {
	out := make([]float64, int(seconds*float64(sampleRate)))
	period := int(60.0 / bpm * float64(sampleRate))
	burst := sampleRate / 100
	for start := 0; start < len(out); start += period {
		for i := 0; i < burst && start+i < len(out); i++ {
			decay := math.Exp(-float64(i) / float64(burst/4))
			out[start+i] = 0.9 * decay * math.Sin(2*math.Pi*1000*float64(i)/float64(sampleRate))
		}
	}
	return out
}

// writeTestWAV writes interleaved samples in [-1, 1] as a 16-bit PCM WAV.
func writeTestWAV(t *testing.T, dir, name string, samples []float64, sampleRate, channels int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)

	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(math.Max(-1, math.Min(1, v)) * 32767)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}
