package extractor

import (
	"context"
	"fmt"

	"essentia-analysis-api/config"
)

// Analysis frame geometry, in samples at TargetSampleRate.
const (
	CentroidFrameSize = 2048
	CentroidHopSize   = 512
	HPCPFrameSize     = 4096
	HPCPHopSize       = 2048
)

// RawFeatures is what an extractor hands back for one audio file.
//
// Rhythm is left untyped: native extraction returns []float64{bpm, confidence},
// the remote service returns whatever JSON it produced. Callers decide how to
// read a tempo out of it.
type RawFeatures struct {
	Rhythm      any       `json:"rhythm"`
	Key         string    `json:"key"`
	Scale       string    `json:"scale"`
	KeyStrength float64   `json:"key_strength"`
	HPCP        []float64 `json:"hpcp"`
	Centroids   []float64 `json:"spectral_centroid"`
	SampleRate  int       `json:"sample_rate,omitempty"`
	Duration    float64   `json:"duration,omitempty"`
}

// Extractor turns an audio file on disk into raw acoustic features.
type Extractor interface {
	Extract(ctx context.Context, path string) (*RawFeatures, error)
}

// New builds the extractor selected by cfg.Mode.
func New(cfg config.ExtractorConfig, scratchDir string) (Extractor, error) {
	switch cfg.Mode {
	case config.ExtractorNative, "":
		return NewNativeExtractor(cfg, scratchDir), nil
	case config.ExtractorRemote:
		return NewRemoteClient(cfg.URL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown extractor mode %q", cfg.Mode)
	}
}
