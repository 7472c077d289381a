// Package events publishes generation lifecycle signals over NATS so other
// services can react to finished documents without polling the API.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectGenerated is emitted when a run completes in full.
	SubjectGenerated = "scribe.readme.generated"
	// SubjectPartial is emitted when a run ends early but produced output.
	SubjectPartial = "scribe.readme.partial"
	// SubjectQuotaDenied is emitted when the daily ledger cut a run short.
	SubjectQuotaDenied = "scribe.quota.denied"
)

// GenerationEvent describes one finished run.
type GenerationEvent struct {
	ReadmeID    string `json:"readme_id,omitempty"`
	Owner       string `json:"owner"`
	Filename    string `json:"filename"`
	Model       string `json:"model"`
	TokensUsed  int64  `json:"tokens_used"`
	ChunksDone  int    `json:"chunks_done"`
	ChunksTotal int    `json:"chunks_total"`
}

type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewPublisher(url, token string, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Publisher{conn: nc, logger: logger}, nil
}

// Publish marshals and sends one event. The publisher may be nil when events
// are not configured; calls are then no-ops.
func (p *Publisher) Publish(subject string, ev GenerationEvent) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshal event", "subject", subject, "error", err)
		return
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn("publish event failed", "subject", subject, "error", err)
	}
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.conn.Close()
}
