// Package publish hands finished analysis results to NATS subscribers.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/iyulab/log-coroner/internal/insight"
	"github.com/iyulab/log-coroner/internal/metrics"
	"github.com/iyulab/log-coroner/internal/model"
)

const sinkName = "nats"

// Conn is the subset of *nats.Conn used by the publisher.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSPublisher publishes each result as JSON on <prefix>.analysis.<risk>.
type NATSPublisher struct {
	logger  *slog.Logger
	nc      Conn
	prefix  string
	metrics *metrics.Metrics
}

// Connect dials url and returns a publisher for subjects under prefix.
func Connect(url, prefix string, logger *slog.Logger, m *metrics.Metrics) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("log-coroner"),
		nats.MaxReconnects(5),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return New(nc, prefix, logger, m), nil
}

// New wraps an existing connection.
func New(nc Conn, prefix string, logger *slog.Logger, m *metrics.Metrics) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{logger: logger, nc: nc, prefix: prefix, metrics: m}
}

// Subject returns the subject a result is published on. Results without a
// risk level go to "unrated".
func Subject(prefix string, res *model.AnalysisResult) string {
	risk := strings.ToLower(insight.ResultRiskLevel(res))
	if risk == "" {
		risk = "unrated"
	}
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return "analysis." + risk
	}
	return prefix + ".analysis." + risk
}

// Publish sends res and waits for the server to acknowledge the flush.
func (p *NATSPublisher) Publish(ctx context.Context, res *model.AnalysisResult) error {
	err := p.publish(ctx, res)
	p.metrics.Published(sinkName, err)
	return err
}

func (p *NATSPublisher) publish(ctx context.Context, res *model.AnalysisResult) error {
	if res == nil {
		return errors.New("publish: nil result")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	subject := Subject(p.prefix, res)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish result %s: %w", res.ID, err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush result %s: %w", res.ID, err)
	}

	p.logger.Debug("Published analysis result",
		"subject", subject,
		"id", res.ID,
		"bytes", len(data))
	return nil
}

// Close closes the underlying connection.
func (p *NATSPublisher) Close() {
	p.nc.Close()
}
