package server

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mileusna/useragent"

	"github.com/aacboard/speechgate/internal/history"
	"github.com/aacboard/speechgate/internal/intake"
	"github.com/aacboard/speechgate/internal/pipeline"
	"github.com/aacboard/speechgate/internal/protocol"
	"github.com/aacboard/speechgate/internal/reqlog"
)

func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	if !s.pipeline.Ready() {
		status = "degraded"
	}
	services := gin.H{
		"speechRecognition": s.pipeline.Ready(),
		"logging":           s.reqLog != nil,
		"history":           s.history != nil,
		"bus":               s.bus != nil && s.bus.Healthy(),
	}
	formats := make([]string, 0, len(intake.SupportedFormats))
	for _, f := range intake.SupportedFormats {
		formats = append(formats, string(f))
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           status,
		"version":          s.version,
		"uptimeSeconds":    int64(time.Since(s.started).Seconds()),
		"services":         services,
		"supportedFormats": formats,
	})
}

func (s *Server) handleFormats(c *gin.Context) {
	formats := make([]gin.H, 0, len(intake.SupportedFormats))
	for _, f := range intake.SupportedFormats {
		formats = append(formats, gin.H{
			"format":   string(f),
			"mimeType": f.MIMEType(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"supportedFormats": formats,
		"maxFileSizeBytes": s.cfg.Upload.MaxBytes,
		"optimal": gin.H{
			"format":     string(intake.FormatWAV),
			"sampleRate": s.cfg.Upload.DefaultSampleRate,
			"bitDepth":   16,
			"channels":   1,
		},
	})
}

func (s *Server) handleUpload(c *gin.Context) {
	requestID := uuid.NewString()

	file, header, err := c.Request.FormFile("audioFile")
	for _, field := range []string{"audio", "file"} {
		if err == nil {
			break
		}
		file, header, err = c.Request.FormFile(field)
	}
	var data []byte
	var filename string
	if err == nil {
		defer file.Close()
		filename = header.Filename
		data, err = io.ReadAll(io.LimitReader(file, s.cfg.Upload.MaxBytes+1))
		if err != nil {
			s.logger.Warn("reading upload failed",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()))
			data = nil
		}
	}

	userID := headerOrForm(c, "X-User-ID", "userId")
	consent := parseOptionalBool(headerOrForm(c, "X-Logging-Consent", "loggingConsent"))
	commandMode := parseBool(headerOrForm(c, "X-Command-Mode", "commandMode"))
	sampleRate := parseInt(headerOrForm(c, "X-Sample-Rate", "sampleRate"))

	req := pipeline.Request{
		ID:             requestID,
		Data:           data,
		Filename:       filename,
		SampleRateHint: sampleRate,
		CommandMode:    commandMode,
		Info:           s.requestInfo(c, userID),
	}

	env := s.pipeline.Process(c.Request.Context(), req)

	allowed := reqlog.Allowed(consent, s.cfg.Production())
	if s.reqLog != nil {
		s.reqLog.Record(env, userID, consent, int64(len(data)))
	}
	if s.history != nil && allowed {
		if err := s.history.Append(c.Request.Context(), env, userID); err != nil {
			s.logger.Warn("history append failed",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()))
		}
	}
	if s.bus != nil {
		s.bus.PublishTranscript(env, userID)
	}

	c.JSON(statusFor(env), env)
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}
	userID := c.Query("userId")
	if userID == "" {
		userID = c.GetHeader("X-User-ID")
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	records, err := s.history.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		s.logger.Error("history query failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve history"})
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"items":  records,
		"count":  len(records),
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) requestInfo(c *gin.Context, userID string) protocol.RequestInfo {
	ua := useragent.Parse(c.Request.UserAgent())
	device := ua.Device
	if device == "" {
		switch {
		case ua.Mobile:
			device = "mobile"
		case ua.Tablet:
			device = "tablet"
		case ua.Desktop:
			device = "desktop"
		default:
			device = "unknown"
		}
	}
	browser := ua.Name
	if browser == "" {
		browser = "unknown"
	}
	return protocol.RequestInfo{
		Timestamp: time.Now().UTC(),
		Device:    device,
		Browser:   browser,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
		User:      userID,
	}
}

// statusFor maps the envelope to its HTTP status. Clients get the same
// envelope shape either way; the status is a routing hint.
func statusFor(env protocol.ResponseEnvelope) int {
	if env.Success {
		return http.StatusOK
	}
	if env.Error == nil {
		return http.StatusInternalServerError
	}
	switch env.Error.Code {
	case protocol.CodeNoFile:
		return http.StatusBadRequest
	case protocol.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case protocol.CodeAudioQuality, protocol.CodeAllServicesFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func headerOrForm(c *gin.Context, header, field string) string {
	if v := c.GetHeader(header); v != "" {
		return v
	}
	return c.PostForm(field)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func parseOptionalBool(v string) *bool {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	b := parseBool(v)
	return &b
}

func parseInt(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}
