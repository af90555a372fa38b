// Package server exposes the recognition pipeline over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aacboard/speechgate/internal/bus"
	"github.com/aacboard/speechgate/internal/config"
	"github.com/aacboard/speechgate/internal/history"
	"github.com/aacboard/speechgate/internal/pipeline"
	"github.com/aacboard/speechgate/internal/protocol"
	"github.com/aacboard/speechgate/internal/reqlog"
)

// Pipeline is the recognition entry point the handlers call.
type Pipeline interface {
	Process(ctx context.Context, req pipeline.Request) protocol.ResponseEnvelope
	Ready() bool
}

// Options wires the server to its collaborators. RequestLog, History, Bus
// and Metrics are optional; a nil value disables that concern.
type Options struct {
	Config     config.Config
	Pipeline   Pipeline
	RequestLog *reqlog.Logger
	History    *history.Store
	Bus        *bus.Client
	Metrics    http.Handler
	Logger     *slog.Logger
	Version    string
}

// Server holds the router and the handler dependencies.
type Server struct {
	cfg      config.Config
	pipeline Pipeline
	reqLog   *reqlog.Logger
	history  *history.Store
	bus      *bus.Client
	logger   *slog.Logger
	version  string
	started  time.Time
	router   *gin.Engine
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      opts.Config,
		pipeline: opts.Pipeline,
		reqLog:   opts.RequestLog,
		history:  opts.History,
		bus:      opts.Bus,
		logger:   logger.With(slog.String("component", "http")),
		version:  opts.Version,
		started:  time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(s.recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/formats", s.handleFormats)
	router.POST("/upload", s.handleUpload)
	router.GET("/history", s.handleHistory)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	router.NoRoute(s.handleNotFound)

	s.router = router
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// recovery turns panics into the standard error envelope instead of gin's
// plain-text 500.
func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		s.logger.Error("handler panic", slog.Any("panic", err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, protocol.ResponseEnvelope{
			Success: false,
			Error: &protocol.ErrorInfo{
				Code:    protocol.CodeInternalError,
				Message: "internal server error",
			},
		})
	})
}

func (s *Server) handleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error": "endpoint not found",
		"availableEndpoints": gin.H{
			"GET /health":  "service status and engine readiness",
			"GET /formats": "accepted audio formats and upload limits",
			"POST /upload": "transcribe an audio file",
			"GET /history": "recent recognitions for a user",
		},
	})
}
