package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/policyqa/internal/ingest"
	"github.com/fyrsmithlabs/policyqa/internal/vectorstore"
)

const (
	defaultPrefix = "policyqa"

	modeSubject   = "vectorstore.mode"
	reportSubject = "ingest.report"
)

// IngestEvent is published for every ingested file.
type IngestEvent struct {
	Namespace string        `json:"namespace"`
	Report    ingest.Report `json:"report"`
	At        time.Time     `json:"at"`
}

// Publisher sends events to NATS. It implements vectorstore.ModeListener
// and ingest.ReportListener.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
	owned  bool
}

var (
	_ vectorstore.ModeListener = (*Publisher)(nil)
	_ ingest.ReportListener    = (*Publisher)(nil)
)

// NewPublisher publishes on nc. The caller keeps ownership of nc.
func NewPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) (*Publisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}, nil
}

// Connect dials url and returns a Publisher that owns the connection.
// Connection attempts are retried in the background, so a NATS server that
// starts after policyqa still receives later events.
func Connect(url, prefix string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("policyqa"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	p, err := NewPublisher(nc, prefix, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// Subject returns the full subject for name.
func (p *Publisher) Subject(name string) string {
	return p.prefix + "." + name
}

// OnModeTransition publishes t on <prefix>.vectorstore.mode.
func (p *Publisher) OnModeTransition(ctx context.Context, t vectorstore.ModeTransition) {
	p.publish(p.Subject(modeSubject), t)
}

// IngestReported publishes the report on <prefix>.ingest.report.
func (p *Publisher) IngestReported(ctx context.Context, namespace string, report ingest.Report) {
	p.publish(p.Subject(reportSubject), IngestEvent{
		Namespace: namespace,
		Report:    report,
		At:        time.Now().UTC(),
	})
}

func (p *Publisher) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("marshal event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// Close flushes pending events and closes the connection if the Publisher
// opened it.
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	if p.nc.IsConnected() {
		if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
			p.logger.Debug("flush events on close", zap.Error(err))
		}
	}
	p.nc.Close()
	return nil
}
