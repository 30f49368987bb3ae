package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "ESSENTIA"

	ExtractorNative = "native"
	ExtractorRemote = "remote"
)

// AllowedExtensions lists the accepted upload formats in the order they are
// reported to clients.
var AllowedExtensions = []string{"mp3", "wav", "flac", "ogg", "m4a", "aac"}

// Config is the resolved service configuration. It is built once at startup
// and never mutated afterwards.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port              string        `mapstructure:"port"`
	Protocol          string        `mapstructure:"protocol"`
	CertFile          string        `mapstructure:"cert_file"`
	CertKey           string        `mapstructure:"cert_key"`
	SocketIO          bool          `mapstructure:"socketio"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type UploadConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

type ExtractorConfig struct {
	Mode       string        `mapstructure:"mode"`
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	FFmpegPath string        `mapstructure:"ffmpeg_path"`
	HPCPSize   int           `mapstructure:"hpcp_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.protocol", "http")
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.cert_key", "")
	v.SetDefault("server.socketio", true)
	v.SetDefault("server.read_header_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("upload.dir", filepath.Join("/tmp", "uploads"))
	v.SetDefault("upload.max_bytes", int64(100<<20))

	v.SetDefault("extractor.mode", ExtractorNative)
	v.SetDefault("extractor.url", "")
	v.SetDefault("extractor.timeout", 120*time.Second)
	v.SetDefault("extractor.ffmpeg_path", "ffmpeg")
	v.SetDefault("extractor.hpcp_size", 12)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// NewViper returns a viper instance with defaults and ESSENTIA_* environment
// overrides wired. A .env file in the working directory is loaded first if present.
func NewViper() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load resolves the configuration from v, reading configFile first when set.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.normalize()
	return cfg
}

func (c *Config) normalize() {
	c.Server.Protocol = strings.ToLower(strings.TrimSpace(c.Server.Protocol))
	c.Extractor.Mode = strings.ToLower(strings.TrimSpace(c.Extractor.Mode))
	c.Extractor.URL = strings.TrimRight(strings.TrimSpace(c.Extractor.URL), "/")
	c.Upload.Dir = strings.TrimSpace(c.Upload.Dir)
}

// Validate reports every configuration value that cannot be served.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port must be set"))
	}
	if c.Server.Protocol != "http" && c.Server.Protocol != "https" {
		errs = append(errs, fmt.Errorf("server.protocol must be http or https, got %q", c.Server.Protocol))
	}
	if c.Server.Protocol == "https" && (c.Server.CertFile == "" || c.Server.CertKey == "") {
		errs = append(errs, errors.New("server.cert_file and server.cert_key are required for https"))
	}
	if c.Upload.Dir == "" {
		errs = append(errs, errors.New("upload.dir must be set"))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_bytes must be positive, got %d", c.Upload.MaxBytes))
	}
	switch c.Extractor.Mode {
	case ExtractorNative:
	case ExtractorRemote:
		if c.Extractor.URL == "" {
			errs = append(errs, errors.New("extractor.url is required when extractor.mode is remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("extractor.mode must be %s or %s, got %q", ExtractorNative, ExtractorRemote, c.Extractor.Mode))
	}
	if c.Extractor.HPCPSize <= 0 || c.Extractor.HPCPSize%12 != 0 {
		errs = append(errs, fmt.Errorf("extractor.hpcp_size must be a positive multiple of 12, got %d", c.Extractor.HPCPSize))
	}
	if c.Extractor.Timeout <= 0 {
		errs = append(errs, errors.New("extractor.timeout must be positive"))
	}

	return errors.Join(errs...)
}

// IsAllowedExtension reports whether ext (without the dot, any case) is an
// accepted upload format.
func IsAllowedExtension(ext string) bool {
	return slices.Contains(AllowedExtensions, strings.ToLower(ext))
}
