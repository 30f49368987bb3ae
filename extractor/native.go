package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"essentia-analysis-api/config"
	"essentia-analysis-api/utils"
)

// NativeExtractor computes every feature in-process.
type NativeExtractor struct {
	loader   *Loader
	hpcpSize int
}

func NewNativeExtractor(cfg config.ExtractorConfig, scratchDir string) *NativeExtractor {
	size := cfg.HPCPSize
	if size <= 0 {
		size = 12
	}
	return &NativeExtractor{
		loader:   NewLoader(cfg.FFmpegPath, scratchDir),
		hpcpSize: size,
	}
}

// Extract decodes path and derives tempo, key, HPCP and spectral centroids.
func (e *NativeExtractor) Extract(ctx context.Context, path string) (*RawFeatures, error) {
	logger := utils.GetLogger()
	started := time.Now()

	audio, err := e.loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extraction cancelled: %w", err)
	}
	logger.DebugContext(ctx, "audio decoded",
		slog.Int("sampleRate", audio.SampleRate),
		slog.Int("samples", len(audio.Samples)),
		slog.Float64("duration", audio.Duration()),
	)

	rhythm := EstimateTempo(audio.Samples, audio.SampleRate)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extraction cancelled: %w", err)
	}

	hpcp := MeanHPCP(audio.Samples, audio.SampleRate, e.hpcpSize)
	key := EstimateKey(hpcp)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extraction cancelled: %w", err)
	}

	centroids := SpectralCentroids(audio.Samples, audio.SampleRate, CentroidFrameSize, CentroidHopSize)

	logger.DebugContext(ctx, "features extracted",
		slog.Int("centroidFrames", len(centroids)),
		slog.Int("hpcpSize", len(hpcp)),
		slog.String("key", key.Key+" "+key.Scale),
		slog.Duration("elapsed", time.Since(started)),
	)

	return &RawFeatures{
		Rhythm:      rhythm,
		Key:         key.Key,
		Scale:       key.Scale,
		KeyStrength: key.Strength,
		HPCP:        hpcp,
		Centroids:   centroids,
		SampleRate:  audio.SampleRate,
		Duration:    audio.Duration(),
	}, nil
}
