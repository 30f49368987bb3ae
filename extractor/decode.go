package extractor

// Audio Loading
//
// Every uploaded file is turned into a single mono float64 signal at 44.1 kHz
// before any analysis runs:
//
// 1. Native decoding by extension:
//    - wav: integer PCM through go-audio/wav
//    - mp3: go-mp3 (always 16-bit little-endian stereo)
//    - ogg: Vorbis through oggvorbis (interleaved float32)
// 2. Anything else (flac, m4a, aac) or any native decode failure goes through
//    ffmpeg, which writes a temporary mono 16-bit WAV that is decoded natively
//    and then removed.
// 3. Multi-channel audio is averaged down to mono.
// 4. The signal is linearly resampled to TargetSampleRate.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

const (
	TargetSampleRate = 44100

	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

var (
	errNoSamples       = errors.New("no audio samples decoded")
	errNoNativeDecoder = errors.New("no native decoder for format")
)

// Audio is a decoded mono signal.
type Audio struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the signal length in seconds.
func (a *Audio) Duration() float64 {
	if a == nil || a.SampleRate <= 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// Loader decodes audio files to mono samples at TargetSampleRate.
type Loader struct {
	FFmpegPath string
	ScratchDir string
}

func NewLoader(ffmpegPath, scratchDir string) *Loader {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Loader{FFmpegPath: ffmpegPath, ScratchDir: scratchDir}
}

// Load decodes path. The extension picks the native decoder; ffmpeg is the fallback.
func (l *Loader) Load(ctx context.Context, path string) (*Audio, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

	audio, nativeErr := decodeNative(path, ext)
	if nativeErr != nil {
		var ffErr error
		audio, ffErr = l.decodeWithFFmpeg(ctx, path)
		if ffErr != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), errors.Join(nativeErr, ffErr))
		}
	}

	if len(audio.Samples) == 0 {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), errNoSamples)
	}

	if audio.SampleRate != TargetSampleRate {
		audio.Samples = resample(audio.Samples, audio.SampleRate, TargetSampleRate)
		audio.SampleRate = TargetSampleRate
	}
	return audio, nil
}

func decodeNative(path, ext string) (*Audio, error) {
	switch ext {
	case "wav":
		return decodeWAVFile(path)
	case "mp3":
		return decodeMP3File(path)
	case "ogg":
		return decodeOGGFile(path)
	default:
		return nil, fmt.Errorf("%s: %w", ext, errNoNativeDecoder)
	}
}

func decodeWAVFile(path string) (*Audio, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open wav: %w", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}
	if decoder.WavAudioFormat != wavFormatPCM && decoder.WavAudioFormat != wavFormatExtensible {
		return nil, fmt.Errorf("unsupported WAV encoding %d", decoder.WavAudioFormat)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read PCM buffer: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, errors.New("WAV file has no PCM data")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(decoder.BitDepth)
	}

	interleaved := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		interleaved[i] = pcmToFloat(v, bitDepth)
	}

	return &Audio{
		Samples:    downmix(interleaved, buf.Format.NumChannels),
		SampleRate: buf.Format.SampleRate,
	}, nil
}

func pcmToFloat(v, bitDepth int) float64 {
	switch bitDepth {
	case 8:
		return float64(v-128) / 128.0
	case 16:
		return float64(v) / 32768.0
	case 24:
		return float64(v) / 8388608.0
	case 32:
		return float64(v) / 2147483648.0
	default:
		return float64(v) / float64(int64(1)<<(bitDepth-1))
	}
}

func decodeMP3File(path string) (*Audio, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open mp3: %w", err)
	}
	defer file.Close()

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode failed: %w", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("mp3 read failed: %w", err)
	}

	// go-mp3 always emits 16-bit little-endian interleaved stereo.
	interleaved := make([]float64, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		sample := int16(raw[i]) | int16(raw[i+1])<<8
		interleaved = append(interleaved, float64(sample)/32768.0)
	}

	return &Audio{
		Samples:    downmix(interleaved, 2),
		SampleRate: decoder.SampleRate(),
	}, nil
}

func decodeOGGFile(path string) (*Audio, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open ogg: %w", err)
	}
	defer file.Close()

	decoder, err := oggvorbis.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create OGG decoder: %w", err)
	}

	var interleaved []float64
	buffer := make([]float32, 16384)
	for {
		n, err := decoder.Read(buffer)
		for _, v := range buffer[:n] {
			interleaved = append(interleaved, float64(v))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read OGG data: %w", err)
		}
	}

	return &Audio{
		Samples:    downmix(interleaved, decoder.Channels()),
		SampleRate: decoder.SampleRate(),
	}, nil
}

func downmix(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		return interleaved
	}
	mono := make([]float64, len(interleaved)/channels)
	for i := range mono {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += interleaved[i*channels+ch]
		}
		mono[i] = sum / float64(channels)
	}
	return mono
}

// resample converts between sample rates by linear interpolation.
func resample(samples []float64, srcRate, dstRate int) []float64 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]float64, outLen)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}
