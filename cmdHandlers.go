package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"essentia-analysis-api/analysis"
	"essentia-analysis-api/config"
	"essentia-analysis-api/extractor"
	"essentia-analysis-api/models"
	"essentia-analysis-api/utils"

	"github.com/mdobak/go-xerrors"
)

const (
	serviceName = "essentia-analysis-api"
	audioField  = "audio"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		utils.GetLogger().Error("failed to encode JSON response", slog.Any("error", err))
	}
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, models.ErrorResponse{Error: message, Code: code})
}

func setCORSHeaders(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", methods)
}

// errorEnvelope maps a pipeline error onto the status and body sent to clients.
func errorEnvelope(err error) (int, models.ErrorResponse) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		verr := analysis.ErrFileTooLarge()
		return verr.Status(), models.ErrorResponse{Error: verr.Message, Code: verr.Code}
	}

	var verr *analysis.ValidationError
	if errors.As(err, &verr) {
		return verr.Status(), models.ErrorResponse{Error: verr.Message, Code: verr.Code}
	}

	return http.StatusInternalServerError, models.ErrorResponse{Error: err.Error(), Code: analysis.CodeProcessingError}
}

func newHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w, "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
			return
		}

		writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok", Service: serviceName})
	}
}

// newAnalyzeHandler streams the "audio" part of a multipart upload straight
// into the orchestrator, so the body is written to disk once.
func newAnalyzeHandler(orchestrator *analysis.Orchestrator, maxBytes int64) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		setCORSHeaders(w, "POST, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

		part, filename, err := findAudioPart(r)
		if err != nil {
			status, body := errorEnvelope(err)
			logger.WarnContext(ctx, "rejected upload", slog.String("code", body.Code), slog.Any("error", err))
			writeJSON(w, status, body)
			return
		}
		defer part.Close()

		resp, err := orchestrator.Analyze(ctx, part, filename)
		if err != nil {
			status, body := errorEnvelope(err)
			if status == http.StatusInternalServerError {
				err := xerrors.New(err)
				logger.ErrorContext(ctx, "analysis failed", slog.String("filename", filename), slog.Any("error", err))
			} else {
				logger.WarnContext(ctx, "rejected upload", slog.String("code", body.Code), slog.String("filename", filename))
			}
			writeJSON(w, status, body)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// findAudioPart advances the multipart reader to the "audio" file part. A
// field without a filename parameter is a plain form value, not a file.
func findAudioPart(r *http.Request) (*multipart.Part, string, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, "", analysis.ErrNoFile()
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", analysis.ErrNoFile()
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, "", err
			}
			return nil, "", analysis.ErrNoFile()
		}

		if part.FormName() != audioField {
			part.Close()
			continue
		}

		_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		rawName, isFile := params["filename"]
		if err != nil || !isFile {
			part.Close()
			continue
		}
		if rawName == "" {
			part.Close()
			return nil, "", analysis.ErrNoFilename()
		}
		return part, rawName, nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func withRequestLogging(next http.Handler) http.Handler {
	logger := utils.GetLogger()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.InfoContext(r.Context(), "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(started)),
		)
	})
}

func newRouter(orchestrator *analysis.Orchestrator, cfg config.Config, socketHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", withRequestLogging(newHealthHandler()))
	mux.Handle("/analyze", withRequestLogging(newAnalyzeHandler(orchestrator, cfg.Upload.MaxBytes)))
	if socketHandler != nil {
		mux.Handle("/socket.io/", socketHandler)
	}
	return mux
}

// checkCollaborators logs the state of the external tools extraction relies
// on. Nothing here stops the server from starting.
func checkCollaborators(ctx context.Context, cfg config.Config, ex extractor.Extractor) {
	logger := utils.GetLogger()

	if err := extractor.CheckFFmpegAvailable(cfg.Extractor.FFmpegPath); err != nil {
		logger.WarnContext(ctx, "ffmpeg not available, only wav/mp3/ogg uploads can be decoded", slog.Any("error", err))
	} else {
		logger.InfoContext(ctx, "ffmpeg is available", slog.String("path", cfg.Extractor.FFmpegPath))
	}

	if remote, ok := ex.(*extractor.RemoteClient); ok {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := remote.HealthCheck(hctx); err != nil {
			logger.WarnContext(ctx, "remote feature service unhealthy", slog.String("url", cfg.Extractor.URL), slog.Any("error", err))
		} else {
			logger.InfoContext(ctx, "remote feature service is healthy", slog.String("url", cfg.Extractor.URL))
		}
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := utils.GetLogger()

	if err := utils.CreateFolder(cfg.Upload.Dir); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	ex, err := extractor.New(cfg.Extractor, cfg.Upload.Dir)
	if err != nil {
		return err
	}
	checkCollaborators(ctx, cfg, ex)

	orchestrator := analysis.New(cfg, ex)

	var socketHandler http.Handler
	if cfg.Server.SocketIO {
		socketServer := newSocketServer(newSocketController(orchestrator, cfg.Upload.MaxBytes))
		go func() {
			if err := socketServer.Serve(); err != nil {
				err := xerrors.New(err)
				logger.ErrorContext(ctx, "socketio serve error", slog.Any("error", err))
			}
		}()
		defer socketServer.Close()
		socketHandler = socketServer
	}

	return serveHTTP(ctx, cfg.Server, newRouter(orchestrator, cfg, socketHandler))
}

// serveHTTP runs the listener until ctx is cancelled, then drains in-flight
// requests for at most ShutdownTimeout.
func serveHTTP(ctx context.Context, cfg config.ServerConfig, handler http.Handler) error {
	logger := utils.GetLogger()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	serveHTTPS := cfg.Protocol == "https"
	errCh := make(chan error, 1)
	go func() {
		var err error
		if serveHTTPS {
			server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			logger.InfoContext(ctx, "starting HTTPS server", slog.String("addr", server.Addr))
			err = server.ListenAndServeTLS(cfg.CertFile, cfg.CertKey)
		} else {
			logger.InfoContext(ctx, "starting HTTP server", slog.String("addr", server.Addr))
			err = server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("listen on %s: %w", server.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.InfoContext(ctx, "shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
