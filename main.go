package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"essentia-analysis-api/analysis"
	"essentia-analysis-api/config"
	"essentia-analysis-api/extractor"
	"essentia-analysis-api/utils"

	"github.com/mdobak/go-xerrors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	configFile   string
	outputFormat string
)

// errAnalysisFailed marks a failure already reported on stdout.
var errAnalysisFailed = errors.New("analysis failed")

func newRootCmd(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Audio analysis API: tempo, key, instruments and cultural style",
		Long: `Accepts uploaded audio, extracts tempo, key/scale and a harmonic
pitch-class profile, guesses instrument families from spectral brightness and
scores the result against a table of cultural style heuristics.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, v)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(newServeCmd(v), newAnalyzeCmd(v))
	return rootCmd
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and Socket.IO server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringP("port", "p", "5000", "port to listen on")
	cmd.Flags().String("protocol", "http", "protocol to use (http or https)")
	cmd.Flags().String("upload-dir", "", "directory for staged uploads")
	cmd.Flags().String("extractor", "", "feature extractor (native or remote)")
	cmd.Flags().String("extractor-url", "", "base URL of the remote feature service")
	return cmd
}

func newAnalyzeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Analyse one audio file and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runAnalyze(cmd.Context(), cfg, args[0], outputFormat, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "json", "output format (json, yaml)")
	cmd.Flags().String("extractor", "", "feature extractor (native or remote)")
	cmd.Flags().String("extractor-url", "", "base URL of the remote feature service")
	return cmd
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"port":          "server.port",
	"protocol":      "server.protocol",
	"upload-dir":    "upload.dir",
	"extractor":     "extractor.mode",
	"extractor-url": "extractor.url",
	"log-level":     "log.level",
	"log-format":    "log.format",
}

// bindFlags binds every flag the user actually set onto its viper key, so
// defaults still come from config files and the environment.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var lastErr error

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			lastErr = err
		}
	})

	return lastErr
}

func loadConfig(v *viper.Viper) (config.Config, error) {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return config.Config{}, err
	}
	utils.ConfigureLogger(utils.LoggerOptions{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	return cfg, nil
}

func runAnalyze(ctx context.Context, cfg config.Config, path, format string, out io.Writer) error {
	ex, err := extractor.New(cfg.Extractor, cfg.Upload.Dir)
	if err != nil {
		return err
	}

	var payload any
	resp, err := analysis.New(cfg, ex).AnalyzeFile(ctx, path)
	if err != nil {
		_, body := errorEnvelope(err)
		payload = body
	} else {
		payload = resp
	}

	if encErr := encodeOutput(out, format, payload); encErr != nil {
		return encErr
	}
	if err != nil {
		return errAnalysisFailed
	}
	return nil
}

func encodeOutput(out io.Writer, format string, payload any) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	case "yaml", "yml":
		// round-trip through JSON so yaml keys match the wire format
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func main() {
	v := config.NewViper()
	if err := newRootCmd(v).Execute(); err != nil {
		if !errors.Is(err, errAnalysisFailed) {
			logger := utils.GetLogger()
			err := xerrors.New(err)
			logger.ErrorContext(context.Background(), "command failed", slog.Any("error", err))
		}
		os.Exit(1)
	}
}
