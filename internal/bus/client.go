// Package bus publishes finished recognitions onto NATS so downstream
// consumers (AAC boards, session recorders) can react without polling.
package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aacboard/speechgate/internal/config"
	"github.com/aacboard/speechgate/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection with the publish helpers the gateway needs.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("speechgate"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{conn: conn, log: log}, nil
}

func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// PublishTranscript emits the terminal event for a request. Publish errors
// are logged and swallowed: the HTTP response already carries the result.
func (c *Client) PublishTranscript(env protocol.ResponseEnvelope, userID string) {
	if c == nil || c.conn == nil {
		return
	}
	subject := protocol.SubjectTranscriptFinal
	if !env.Success {
		subject = protocol.SubjectTranscriptFailed
	}
	event := protocol.TranscriptEvent{
		RequestID:     env.RequestID,
		UserID:        userID,
		Success:       env.Success,
		Transcription: env.Transcription,
		Confidence:    env.Confidence,
		Service:       env.Service,
		CommandMode:   env.AAC.CommandMode,
		CommandType:   env.AAC.CommandType,
		Timestamp:     time.Now().UTC(),
	}
	if env.Error != nil {
		event.ErrorCode = env.Error.Code
	}
	data, err := json.Marshal(event)
	if err != nil {
		c.log.Warn("encode transcript event", slog.String("error", err.Error()))
		return
	}
	if err := c.conn.Publish(subject, data); err != nil {
		c.log.Warn("publish transcript event",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
