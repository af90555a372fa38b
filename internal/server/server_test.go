package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/aacboard/speechgate/internal/config"
	"github.com/aacboard/speechgate/internal/history"
	"github.com/aacboard/speechgate/internal/pipeline"
	"github.com/aacboard/speechgate/internal/protocol"
)

type stubPipeline struct {
	env  protocol.ResponseEnvelope
	last pipeline.Request
}

func (p *stubPipeline) Process(_ context.Context, req pipeline.Request) protocol.ResponseEnvelope {
	p.last = req
	env := p.env
	env.RequestID = req.ID
	return env
}

func (p *stubPipeline) Ready() bool { return true }

func newTestServer(env protocol.ResponseEnvelope) (*Server, *stubPipeline) {
	p := &stubPipeline{env: env}
	s := New(Options{
		Config:   config.Default(),
		Pipeline: p,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Version:  "test",
	})
	return s, p
}

func successEnv() protocol.ResponseEnvelope {
	conf := 0.9
	return protocol.ResponseEnvelope{
		Success:       true,
		Transcription: "hello",
		Confidence:    &conf,
		Service:       "google",
	}
}

func uploadRequest(t *testing.T, body []byte, headers map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "clip.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(body); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(successEnv())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "healthy" || resp["version"] != "test" {
		t.Fatalf("response = %v", resp)
	}
}

func TestFormats(t *testing.T) {
	s, _ := newTestServer(successEnv())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/formats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		SupportedFormats []map[string]string `json:"supportedFormats"`
		MaxFileSizeBytes int64               `json:"maxFileSizeBytes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.SupportedFormats) == 0 || resp.MaxFileSizeBytes == 0 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestUploadSuccess(t *testing.T) {
	s, p := newTestServer(successEnv())
	rec := httptest.NewRecorder()
	req := uploadRequest(t, []byte("RIFFxxxxWAVE"), map[string]string{
		"X-User-ID":      "user-1",
		"X-Command-Mode": "true",
		"X-Sample-Rate":  "22050",
		"User-Agent":     "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)",
	})
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !p.last.CommandMode {
		t.Fatal("command mode header not propagated")
	}
	if p.last.SampleRateHint != 22050 {
		t.Fatalf("sample rate hint = %d", p.last.SampleRateHint)
	}
	if p.last.Info.User != "user-1" {
		t.Fatalf("user = %q", p.last.Info.User)
	}
	if p.last.Info.Device == "" || p.last.Info.Browser == "" {
		t.Fatalf("request info = %+v", p.last.Info)
	}

	var env protocol.ResponseEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Transcription != "hello" || env.RequestID == "" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestUploadFormFieldFallbacks(t *testing.T) {
	s, p := newTestServer(successEnv())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "clip.wav")
	fw.Write([]byte("RIFFxxxxWAVE"))
	mw.WriteField("userId", "form-user")
	mw.WriteField("commandMode", "yes")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if p.last.Info.User != "form-user" || !p.last.CommandMode {
		t.Fatalf("request = %+v", p.last)
	}
	if p.last.Filename != "clip.wav" {
		t.Fatalf("filename = %q", p.last.Filename)
	}
}

func TestUploadStatusMapping(t *testing.T) {
	cases := []struct {
		code   string
		status int
	}{
		{protocol.CodeNoFile, http.StatusBadRequest},
		{protocol.CodeFileTooLarge, http.StatusRequestEntityTooLarge},
		{protocol.CodeAudioQuality, http.StatusUnprocessableEntity},
		{protocol.CodeAllServicesFailed, http.StatusUnprocessableEntity},
		{protocol.CodeInternalError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		env := protocol.ResponseEnvelope{
			Success: false,
			Error:   &protocol.ErrorInfo{Code: tc.code, Message: "boom"},
		}
		s, _ := newTestServer(env)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, uploadRequest(t, []byte("x"), nil))
		if rec.Code != tc.status {
			t.Errorf("%s: status = %d, want %d", tc.code, rec.Code, tc.status)
		}
	}
}

func TestUnknownEndpoint(t *testing.T) {
	s, _ := newTestServer(successEnv())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		AvailableEndpoints map[string]string `json:"availableEndpoints"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.AvailableEndpoints) == 0 {
		t.Fatal("availableEndpoints missing")
	}
	if _, ok := resp.AvailableEndpoints["POST /upload"]; !ok {
		t.Fatalf("availableEndpoints = %v, missing upload hint", resp.AvailableEndpoints)
	}
}

func TestUploadConsentDenialSkipsHistory(t *testing.T) {
	cfg := config.Default()
	store, err := history.Open(context.Background(), config.HistoryConfig{
		Enabled: true,
		Path:    filepath.Join(t.TempDir(), "history.db"),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	s := New(Options{
		Config:   cfg,
		Pipeline: &stubPipeline{env: successEnv()},
		History:  store,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Version:  "test",
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, []byte("RIFFxxxxWAVE"), map[string]string{
		"X-Logging-Consent": "false",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	records, err := store.List(context.Background(), "", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("history stored %d records despite explicit consent denial", len(records))
	}

	// Without an explicit denial, development records implicitly.
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, []byte("RIFFxxxxWAVE"), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	records, err = store.List(context.Background(), "", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after implicit consent, got %d", len(records))
	}
}

func TestHistoryDisabled(t *testing.T) {
	s, _ := newTestServer(successEnv())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
