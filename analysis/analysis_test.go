package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"essentia-analysis-api/config"
	"essentia-analysis-api/extractor"
)

type fakeExtractor struct {
	mu    sync.Mutex
	paths []string
	fn    func(path string) (*extractor.RawFeatures, error)
}

func (f *fakeExtractor) Extract(_ context.Context, path string) (*extractor.RawFeatures, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	return f.fn(path)
}

func (f *fakeExtractor) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func newTestOrchestrator(t *testing.T, fn func(path string) (*extractor.RawFeatures, error)) (*Orchestrator, *fakeExtractor, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Upload.Dir = filepath.Join(t.TempDir(), "uploads")
	fake := &fakeExtractor{fn: fn}
	return New(cfg, fake), fake, cfg.Upload.Dir
}

func sitarFeatures(string) (*extractor.RawFeatures, error) {
	hpcp := make([]float64, 36)
	hpcp[2] = 1
	return &extractor.RawFeatures{
		Rhythm:      []float64{95, 0.8},
		Key:         "D",
		Scale:       "minor",
		KeyStrength: 0.72,
		HPCP:        hpcp,
		Centroids:   []float64{1200, 1300, 1250},
	}, nil
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestValidate(t *testing.T) {
	t.Parallel()

	o, _, _ := newTestOrchestrator(t, sitarFeatures)

	var verr *ValidationError
	require.ErrorAs(t, o.Validate(""), &verr)
	assert.Equal(t, CodeNoFilename, verr.Code)
	assert.Equal(t, "No file selected", verr.Message)

	for _, name := range []string{"clip.xyz", "noext", "archive.mp3.zip", "trailingdot."} {
		require.ErrorAs(t, o.Validate(name), &verr, name)
		assert.Equal(t, CodeInvalidFormat, verr.Code)
		assert.Equal(t, "Unsupported format. Allowed: mp3, wav, flac, ogg, m4a, aac", verr.Message)
	}

	for _, name := range []string{"a.mp3", "B.WAV", "c.Flac", "d.ogg", "e.m4a", "f.aac", "my.song.mp3"} {
		assert.NoError(t, o.Validate(name), name)
	}
}

func TestExtension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "mp3", Extension("Song.MP3"))
	assert.Equal(t, "gz", Extension("a.tar.gz"))
	assert.Equal(t, "", Extension("README"))
	assert.Equal(t, "", Extension("trailing."))
}

func TestAnalyzeAssemblesResponseAndCleansUp(t *testing.T) {
	t.Parallel()

	var existedDuringExtract bool
	o, fake, dir := newTestOrchestrator(t, func(path string) (*extractor.RawFeatures, error) {
		_, err := os.Stat(path)
		existedDuringExtract = err == nil
		return sitarFeatures(path)
	})
	resp, err := o.Analyze(context.Background(), strings.NewReader("audio-bytes"), "song.mp3")
	require.NoError(t, err)

	assert.True(t, existedDuringExtract)
	assert.True(t, resp.Success)
	assert.Equal(t, "song.mp3", resp.Filename)
	assert.Equal(t, 95.0, resp.Tempo.BPM)
	assert.Equal(t, "D", resp.Tonal.Key)
	assert.Equal(t, "minor", resp.Tonal.Scale)
	assert.InDelta(t, 0.72, resp.Tonal.KeyStrength, 1e-12)
	assert.Len(t, resp.Tonal.HPCPFeatures, 36)
	assert.Equal(t, []string{"Bass", "Low Percussion", "Bass Strings"}, resp.Instruments)

	// hpcp 36 bins, minor, 95 bpm: Arab 0.4, Turkish 0.3, Folk 0.2, East_Asian 0.1
	assert.Equal(t, "Arab", resp.EthnicGroup.Primary)
	assert.InDelta(t, 0.4, resp.EthnicGroup.Confidence, 1e-9)
	assert.InDelta(t, 0.3, resp.EthnicGroup.AllScores["Turkish"], 1e-9)
	assert.InDelta(t, 0.2, resp.EthnicGroup.AllScores["Folk"], 1e-9)
	assert.InDelta(t, 0.1, resp.EthnicGroup.AllScores["East_Asian"], 1e-9)

	paths := fake.seen()
	require.Len(t, paths, 1)
	assert.Equal(t, dir, filepath.Dir(paths[0]))
	assert.True(t, strings.HasSuffix(paths[0], ".mp3"))
	assert.NotContains(t, filepath.Base(paths[0]), "song")
	assert.Empty(t, dirEntries(t, dir))
}

func TestAnalyzeCleansUpOnExtractorError(t *testing.T) {
	t.Parallel()

	boom := errors.New("decoder exploded")
	o, _, dir := newTestOrchestrator(t, func(string) (*extractor.RawFeatures, error) {
		return nil, boom
	})

	_, err := o.Analyze(context.Background(), strings.NewReader("x"), "clip.wav")
	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "decoder exploded", err.Error())
	assert.Empty(t, dirEntries(t, dir))
}

func TestAnalyzeRecoversExtractorPanic(t *testing.T) {
	t.Parallel()

	o, _, dir := newTestOrchestrator(t, func(string) (*extractor.RawFeatures, error) {
		panic("index out of range")
	})

	resp, err := o.Analyze(context.Background(), strings.NewReader("x"), "clip.ogg")
	assert.Nil(t, resp)
	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "index out of range")
	assert.Empty(t, dirEntries(t, dir))
}

func TestAnalyzeValidationLeavesNothingBehind(t *testing.T) {
	t.Parallel()

	o, fake, dir := newTestOrchestrator(t, sitarFeatures)

	_, err := o.Analyze(context.Background(), strings.NewReader("x"), "clip.xyz")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeInvalidFormat, verr.Code)
	assert.Empty(t, fake.seen())
	assert.Empty(t, dirEntries(t, dir))
}

func TestAnalyzeConcurrentSameFilename(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var started sync.WaitGroup
	o, fake, dir := newTestOrchestrator(t, func(path string) (*extractor.RawFeatures, error) {
		started.Done()
		<-release
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return &extractor.RawFeatures{Rhythm: []any{json.Number(string(body))}}, nil
	})

	const n = 4
	started.Add(n)
	results := make([]float64, n)
	errs := make([]error, n)
	var done sync.WaitGroup
	for i := range n {
		done.Add(1)
		go func() {
			defer done.Done()
			body := strings.Repeat("1", i+1)
			resp, err := o.Analyze(context.Background(), strings.NewReader(body), "same.wav")
			errs[i] = err
			if err == nil {
				results[i] = resp.Tempo.BPM
			}
		}()
	}

	started.Wait()
	assert.Len(t, dirEntries(t, dir), n)
	close(release)
	done.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, []float64{1, 11, 111, 1111}[i], results[i])
	}
	assert.Len(t, fake.seen(), n)
	assert.Empty(t, dirEntries(t, dir))
}

func TestStageRefusesToOverwrite(t *testing.T) {
	t.Parallel()

	o, _, dir := newTestOrchestrator(t, sitarFeatures)
	o.newName = func() string { return "fixed" }

	first, err := o.Stage(strings.NewReader("first"), "a.mp3")
	require.NoError(t, err)
	defer first.Release(context.Background())

	_, err = o.Stage(strings.NewReader("second"), "b.mp3")
	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)

	body, err := os.ReadFile(filepath.Join(dir, "fixed.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(body))
}

func TestStagedFileReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	o, _, dir := newTestOrchestrator(t, sitarFeatures)
	staged, err := o.Stage(strings.NewReader("bytes"), "a.aac")
	require.NoError(t, err)
	require.FileExists(t, staged.Path)

	staged.Release(context.Background())
	assert.NoFileExists(t, staged.Path)

	// a file recreated at the same path after release is not touched again
	require.NoError(t, os.WriteFile(staged.Path, []byte("other"), 0o600))
	staged.Release(context.Background())
	assert.FileExists(t, staged.Path)
	assert.Len(t, dirEntries(t, dir), 1)
}

func TestAnalyzeFileKeepsCallerFile(t *testing.T) {
	t.Parallel()

	o, fake, _ := newTestOrchestrator(t, sitarFeatures)
	path := filepath.Join(t.TempDir(), "input.flac")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	resp, err := o.AnalyzeFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "input.flac", resp.Filename)
	assert.Equal(t, []string{path}, fake.seen())
	assert.FileExists(t, path)

	_, err = o.AnalyzeFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
}

func TestAnalyzeEmptyFeaturesEncodeAsEmptyCollections(t *testing.T) {
	t.Parallel()

	o, _, _ := newTestOrchestrator(t, func(string) (*extractor.RawFeatures, error) {
		return &extractor.RawFeatures{Rhythm: "not a sequence", Scale: "major"}, nil
	})

	resp, err := o.Analyze(context.Background(), strings.NewReader("x"), "quiet.wav")
	require.NoError(t, err)

	body, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, []any{}, decoded["instruments"])
	assert.Equal(t, []any{}, decoded["tonal"].(map[string]any)["hpcp_features"])
	assert.Equal(t, map[string]any{
		"primary":    "Unclassified",
		"confidence": 0.0,
		"all_scores": map[string]any{},
	}, decoded["ethnic_group"])
	assert.Equal(t, 0.0, decoded["tempo"].(map[string]any)["bpm"])
}

func TestTempoBPM(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		rhythm any
		want   float64
	}{
		{"float64 slice", []float64{128.4, 0.9}, 128.4},
		{"float32 slice", []float32{90, 1}, 90},
		{"generic slice", []any{101.5, []any{0.1}}, 101.5},
		{"json number", []any{json.Number("77")}, 77},
		{"raw json", json.RawMessage(`[140.25, [1, 2], 3]`), 140.25},
		{"empty slice", []float64{}, 0},
		{"empty raw", json.RawMessage(`[]`), 0},
		{"raw object", json.RawMessage(`{"bpm": 120}`), 0},
		{"scalar", 120.0, 0},
		{"nil", nil, 0},
		{"string", "120", 0},
		{"non-numeric head", []any{"fast"}, 0},
		{"negative", []float64{-5}, 0},
		{"nan", []float64{math.NaN()}, 0},
		{"inf", []float64{math.Inf(1)}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, TempoBPM(tc.rhythm))
		})
	}
}

func TestValidationErrorStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 400, ErrNoFile().Status())
	assert.Equal(t, 400, ErrInvalidFormat().Status())
	assert.Equal(t, 413, ErrFileTooLarge().Status())
}
