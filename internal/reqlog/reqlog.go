// Package reqlog records recognition requests to daily JSON files.
// Recording is consent gated: nothing is written for a request unless
// the caller consented, and write failures never surface to the client.
package reqlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aacboard/speechgate/internal/protocol"
)

// Entry is one logged recognition request.
type Entry struct {
	Timestamp     string   `json:"timestamp"`
	RequestID     string   `json:"requestId"`
	UserID        string   `json:"userId,omitempty"`
	Success       bool     `json:"success"`
	Transcription string   `json:"transcription,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Service       string   `json:"service,omitempty"`
	CommandMode   bool     `json:"commandMode"`
	ErrorCode     string   `json:"errorCode,omitempty"`
	SizeBytes     int64    `json:"sizeBytes,omitempty"`
	DurationSec   float64  `json:"durationSec,omitempty"`
	IPAddress     string   `json:"ipAddress,omitempty"`
	UserAgent     string   `json:"userAgent,omitempty"`
}

// Store persists entries. The file store is the production implementation;
// tests substitute their own to observe writes.
type Store interface {
	Append(entry Entry) error
}

// Logger queues entries and writes them off the request path.
type Logger struct {
	store      Store
	production bool
	logger     *slog.Logger

	queue chan Entry
	done  chan struct{}
	once  sync.Once
}

type Options struct {
	Store      Store
	Production bool
	QueueSize  int
	Logger     *slog.Logger
}

func New(opts Options) *Logger {
	size := opts.QueueSize
	if size <= 0 {
		size = 256
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		store:      opts.Store,
		production: opts.Production,
		logger:     logger.With(slog.String("component", "reqlog")),
		queue:      make(chan Entry, size),
		done:       make(chan struct{}),
	}
	go l.drain()
	return l
}

// Allowed decides whether a request may be recorded. An explicit consent
// value always wins; without one, development environments record and
// production does not. It is a free function so persistence layers apply
// the same decision whether or not a Logger exists.
func Allowed(consent *bool, production bool) bool {
	if consent != nil {
		return *consent
	}
	return !production
}

func (l *Logger) Allowed(consent *bool) bool {
	return Allowed(consent, l.production)
}

// Record enqueues an entry when consent permits it. sizeBytes is the raw
// upload size. A full queue drops the entry rather than blocking the
// response.
func (l *Logger) Record(env protocol.ResponseEnvelope, userID string, consent *bool, sizeBytes int64) {
	if !l.Allowed(consent) {
		return
	}
	entry := Entry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		RequestID:     env.RequestID,
		UserID:        userID,
		Success:       env.Success,
		Transcription: env.Transcription,
		Confidence:    env.Confidence,
		Service:       env.Service,
		CommandMode:   env.AAC.CommandMode,
		SizeBytes:     sizeBytes,
		DurationSec:   env.Audio.Duration,
		IPAddress:     env.Request.IPAddress,
		UserAgent:     env.Request.UserAgent,
	}
	if env.Error != nil {
		entry.ErrorCode = env.Error.Code
	}
	select {
	case l.queue <- entry:
	default:
		l.logger.Warn("request log queue full, dropping entry",
			slog.String("request_id", entry.RequestID))
	}
}

func (l *Logger) drain() {
	for entry := range l.queue {
		if err := l.store.Append(entry); err != nil {
			l.logger.Warn("request log write failed",
				slog.String("request_id", entry.RequestID),
				slog.String("error", err.Error()))
		}
	}
	close(l.done)
}

// Close flushes queued entries and stops the writer.
func (l *Logger) Close(ctx context.Context) error {
	l.once.Do(func() { close(l.queue) })
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FileStore appends entries to one JSON array file per day.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Append(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, "speech-"+time.Now().UTC().Format("2006-01-02")+".json")

	var entries []Entry
	if data, err := os.ReadFile(path); err == nil {
		// A corrupt file starts over rather than blocking all logging.
		if err := json.Unmarshal(data, &entries); err != nil {
			entries = nil
		}
	}
	entries = append(entries, entry)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode log entries: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write log file: %w", err)
	}
	return os.Rename(tmp, path)
}
