package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, "5000", cfg.Server.Port)
	assert.Equal(t, "http", cfg.Server.Protocol)
	assert.Equal(t, "/tmp/uploads", cfg.Upload.Dir)
	assert.Equal(t, int64(100<<20), cfg.Upload.MaxBytes)
	assert.Equal(t, ExtractorNative, cfg.Extractor.Mode)
	assert.Equal(t, 12, cfg.Extractor.HPCPSize)
	assert.Equal(t, 120*time.Second, cfg.Extractor.Timeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadReadsYAMLFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "essentia.yaml")
	body := `
server:
  port: "8080"
upload:
  dir: ` + dir + `
  max_bytes: 1024
extractor:
  mode: REMOTE
  url: http://features.local:5001/
  hpcp_size: 36
log:
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v, path)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, dir, cfg.Upload.Dir)
	assert.Equal(t, int64(1024), cfg.Upload.MaxBytes)
	assert.Equal(t, ExtractorRemote, cfg.Extractor.Mode)
	assert.Equal(t, "http://features.local:5001", cfg.Extractor.URL)
	assert.Equal(t, 36, cfg.Extractor.HPCPSize)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	v := viper.New()
	SetDefaults(v)
	_, err := Load(v, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("ESSENTIA_SERVER_PORT", "7000")
	t.Setenv("ESSENTIA_UPLOAD_MAX_BYTES", "2048")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, int64(2048), cfg.Upload.MaxBytes)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"remote without url": func(c *Config) { c.Extractor.Mode = ExtractorRemote },
		"unknown mode":       func(c *Config) { c.Extractor.Mode = "essentia" },
		"zero ceiling":       func(c *Config) { c.Upload.MaxBytes = 0 },
		"empty upload dir":   func(c *Config) { c.Upload.Dir = "" },
		"odd hpcp size":      func(c *Config) { c.Extractor.HPCPSize = 10 },
		"https without cert": func(c *Config) { c.Server.Protocol = "https" },
		"bad protocol":       func(c *Config) { c.Server.Protocol = "ftp" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestIsAllowedExtension(t *testing.T) {
	t.Parallel()

	for _, ext := range []string{"mp3", "WAV", "Flac", "ogg", "m4a", "aac"} {
		assert.True(t, IsAllowedExtension(ext), ext)
	}
	for _, ext := range []string{"", "xyz", "mp4", "wav "} {
		assert.False(t, IsAllowedExtension(ext), ext)
	}
}
