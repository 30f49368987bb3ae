package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"essentia-analysis-api/analysis"
	"essentia-analysis-api/models"
	"essentia-analysis-api/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/mdobak/go-xerrors"
)

const (
	eventAnalyze        = "analyze"
	eventAnalysisResult = "analysisResult"
	eventAnalysisError  = "analysisError"
)

// emitter is the part of socketio.Conn the controller writes to.
type emitter interface {
	ID() string
	Emit(event string, v ...interface{})
}

type socketController struct {
	orchestrator *analysis.Orchestrator
	maxBytes     int64
}

func newSocketController(orchestrator *analysis.Orchestrator, maxBytes int64) *socketController {
	return &socketController{orchestrator: orchestrator, maxBytes: maxBytes}
}

func (c *socketController) emitError(socket emitter, status int, body models.ErrorResponse) {
	utils.GetLogger().Warn("socket analysis rejected",
		slog.String("socketID", socket.ID()),
		slog.Int("status", status),
		slog.String("code", body.Code),
	)
	socket.Emit(eventAnalysisError, body)
}

// handleAnalyze decodes one {"filename", "audio"} payload and runs it through
// the same pipeline as POST /analyze.
func (c *socketController) handleAnalyze(ctx context.Context, socket emitter, payload string) {
	logger := utils.GetLogger()

	var req models.SocketAnalyzeRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(ctx, "failed to parse analyze payload", slog.Any("error", err))
		c.emitError(socket, http.StatusBadRequest, toErrorResponse(analysis.ErrNoFile()))
		return
	}

	if strings.TrimSpace(req.Audio) == "" {
		c.emitError(socket, http.StatusBadRequest, toErrorResponse(analysis.ErrNoFile()))
		return
	}
	if req.Filename == "" {
		c.emitError(socket, http.StatusBadRequest, toErrorResponse(analysis.ErrNoFilename()))
		return
	}
	if int64(base64.StdEncoding.DecodedLen(len(req.Audio))) > c.maxBytes+2 {
		c.emitError(socket, http.StatusRequestEntityTooLarge, toErrorResponse(analysis.ErrFileTooLarge()))
		return
	}

	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(ctx, "failed to decode base64 audio", slog.Any("error", err))
		c.emitError(socket, http.StatusBadRequest, toErrorResponse(analysis.ErrNoFile()))
		return
	}
	if int64(len(audio)) > c.maxBytes {
		c.emitError(socket, http.StatusRequestEntityTooLarge, toErrorResponse(analysis.ErrFileTooLarge()))
		return
	}

	started := time.Now()
	resp, err := c.orchestrator.Analyze(ctx, bytes.NewReader(audio), req.Filename)
	if err != nil {
		status, body := errorEnvelope(err)
		if status == http.StatusInternalServerError {
			err := xerrors.New(err)
			logger.ErrorContext(ctx, "socket analysis failed", slog.String("socketID", socket.ID()), slog.Any("error", err))
		}
		c.emitError(socket, status, body)
		return
	}

	logger.InfoContext(ctx, "socket analysis complete",
		slog.String("socketID", socket.ID()),
		slog.String("filename", req.Filename),
		slog.Duration("elapsed", time.Since(started)),
	)
	socket.Emit(eventAnalysisResult, resp)
}

func toErrorResponse(verr *analysis.ValidationError) models.ErrorResponse {
	return models.ErrorResponse{Error: verr.Message, Code: verr.Code}
}

func newSocketServer(controller *socketController) *socketio.Server {
	logger := utils.GetLogger()
	allowOriginFunc := func(r *http.Request) bool {
		return true
	}

	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})

	server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		connURL := socket.URL()
		logger.Info("socket connected",
			slog.String("socketID", socket.ID()),
			slog.String("transport", connURL.String()),
			slog.String("remoteAddr", socket.RemoteAddr().String()),
		)
		return nil
	})

	server.OnEvent("/", eventAnalyze, func(socket socketio.Conn, msg string) {
		logger.Info("analyze event received",
			slog.String("socketID", socket.ID()),
			slog.Int("dataLength", len(msg)),
		)
		// Run handler in goroutine to prevent blocking, with panic recovery
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic in socket analyze handler",
						slog.String("socketID", socket.ID()),
						slog.Any("panic", r),
					)
					socket.Emit(eventAnalysisError, models.ErrorResponse{
						Error: "internal server error during processing",
						Code:  analysis.CodeProcessingError,
					})
				}
			}()
			controller.handleAnalyze(context.Background(), socket, msg)
		}()
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		logger.Error("socket error", slog.Any("error", e))
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		logger.Info("socket disconnected", slog.String("socketID", s.ID()), slog.String("reason", reason))
	})

	return server
}
