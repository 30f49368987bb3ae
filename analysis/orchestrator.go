package analysis

// Request pipeline
//
// An upload moves through a fixed sequence of states:
//
//   Received -> Staged -> Extracted -> InstrumentsClassified -> EthnicClassified -> Responded
//
// and drops to Failed from any of them. Validation happens before anything
// touches disk, so a rejected request never leaves a file behind. Once the
// upload is staged, the staged copy is released exactly once on every exit
// path, including a panic inside the extractor.
//
// Staged files are named <uuid>.<ext> inside the upload directory. The client
// filename is only echoed back in the response, never used as a path, so two
// simultaneous uploads called "song.mp3" land in different files.

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mdobak/go-xerrors"

	"essentia-analysis-api/classifier"
	"essentia-analysis-api/config"
	"essentia-analysis-api/extractor"
	"essentia-analysis-api/models"
	"essentia-analysis-api/utils"
)

// Orchestrator runs one analysis request end to end. It holds no per-request
// state and is safe for concurrent use.
type Orchestrator struct {
	uploadDir   string
	extractor   extractor.Extractor
	instruments *classifier.InstrumentClassifier
	ethnic      *classifier.EthnicGroupClassifier
	newName     func() string
}

// New builds an orchestrator over an immutable configuration snapshot.
func New(cfg config.Config, ex extractor.Extractor) *Orchestrator {
	return &Orchestrator{
		uploadDir:   cfg.Upload.Dir,
		extractor:   ex,
		instruments: classifier.NewInstrumentClassifier(),
		ethnic:      classifier.NewEthnicGroupClassifier(),
		newName:     func() string { return uuid.NewString() },
	}
}

// Validate checks the client filename. An empty name is NO_FILENAME, an
// extension outside the allowed set is INVALID_FORMAT.
func (o *Orchestrator) Validate(filename string) error {
	if filename == "" {
		return ErrNoFilename()
	}
	if !config.IsAllowedExtension(Extension(filename)) {
		return ErrInvalidFormat()
	}
	return nil
}

// Extension returns the lower-cased suffix after the last dot, or "" when the
// name has no dot.
func Extension(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

// StagedFile is an upload copied into the staging directory.
type StagedFile struct {
	Path     string
	Filename string

	once sync.Once
}

// Release removes the staged copy. Only the first call does anything; a file
// that is already gone is not an error.
func (s *StagedFile) Release(ctx context.Context) {
	s.once.Do(func() {
		if !utils.FileExists(s.Path) {
			return
		}
		if err := utils.DeleteFile(s.Path); err != nil {
			err := xerrors.New(err)
			utils.GetLogger().WarnContext(ctx, "failed to remove staged upload",
				slog.String("path", s.Path),
				slog.Any("error", err),
			)
		}
	})
}

// Stage copies src into the upload directory under a request-unique name.
func (o *Orchestrator) Stage(src io.Reader, filename string) (*StagedFile, error) {
	if err := utils.CreateFolder(o.uploadDir); err != nil {
		return nil, processingError("stage", fmt.Errorf("failed to create upload dir: %w", err))
	}

	name := o.newName() + "." + Extension(filename)
	path := filepath.Join(o.uploadDir, name)

	// O_EXCL so a repeated name fails instead of clobbering another request's file.
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, processingError("stage", fmt.Errorf("failed to create staged file: %w", err))
	}

	staged := &StagedFile{Path: path, Filename: filename}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		staged.Release(context.Background())
		return nil, processingError("stage", fmt.Errorf("failed to write staged file: %w", err))
	}
	if err := dst.Close(); err != nil {
		staged.Release(context.Background())
		return nil, processingError("stage", fmt.Errorf("failed to close staged file: %w", err))
	}

	return staged, nil
}

// Analyze validates, stages and analyses one upload. Validation failures are
// returned as *ValidationError, everything later as *ProcessingError.
func (o *Orchestrator) Analyze(ctx context.Context, src io.Reader, filename string) (*models.AnalysisResponse, error) {
	if err := o.Validate(filename); err != nil {
		return nil, err
	}

	staged, err := o.Stage(src, filename)
	if err != nil {
		return nil, err
	}
	defer staged.Release(ctx)

	return o.run(ctx, staged.Path, filename)
}

// AnalyzeFile runs the pipeline on a file the caller owns. The file is left in
// place.
func (o *Orchestrator) AnalyzeFile(ctx context.Context, path string) (*models.AnalysisResponse, error) {
	filename := filepath.Base(path)
	if err := o.Validate(filename); err != nil {
		return nil, err
	}
	if !utils.FileExists(path) {
		return nil, processingError("open", fmt.Errorf("%s: no such file", path))
	}
	return o.run(ctx, path, filename)
}

func (o *Orchestrator) run(ctx context.Context, path, filename string) (resp *models.AnalysisResponse, err error) {
	logger := utils.GetLogger()
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = panicError("analysis", r)
		}
	}()

	raw, err := o.extractor.Extract(ctx, path)
	if err != nil {
		return nil, processingError("extract", err)
	}
	if raw == nil {
		return nil, processingError("extract", fmt.Errorf("extractor returned no features"))
	}

	features := Features(raw)
	instruments := o.instruments.Classify(raw.Centroids)
	ethnic := o.ethnic.Classify(instruments, features.HPCP, features.Key, features.Scale, features.BPM)

	logger.InfoContext(ctx, "analysis complete",
		slog.String("filename", filename),
		slog.Float64("bpm", features.BPM),
		slog.String("key", features.Key+" "+features.Scale),
		slog.Int("hpcpBins", len(features.HPCP)),
		slog.Any("instruments", instruments),
		slog.String("ethnicGroup", ethnic.Primary),
		slog.Duration("elapsed", time.Since(started)),
	)

	return models.NewAnalysisResponse(filename, features, instruments, ethnic), nil
}

// Features reduces raw extractor output to the bundle the classifiers and the
// response use.
func Features(raw *extractor.RawFeatures) models.FeatureBundle {
	hpcp := raw.HPCP
	if hpcp == nil {
		hpcp = []float64{}
	}
	return models.FeatureBundle{
		BPM:         TempoBPM(raw.Rhythm),
		Key:         raw.Key,
		Scale:       raw.Scale,
		KeyStrength: raw.KeyStrength,
		HPCP:        hpcp,
	}
}
