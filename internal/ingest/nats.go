// Package ingest consumes classifier events from NATS. Consumers join a
// queue group so multiple instances share the subject; duplicates are
// filtered by event ID before reaching the orchestrator.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/carewire/triage/internal/config"
	"github.com/carewire/triage/internal/dedupe"
	"github.com/carewire/triage/model"
)

// Submitter accepts validated classifier events. Implemented by the
// orchestrator engine.
type Submitter interface {
	SubmitClassification(ctx context.Context, ev model.ClassifierEvent) (model.CaseDetail, error)
}

// Consumer subscribes to the classifier subject and feeds the orchestrator.
type Consumer struct {
	cfg       config.IngestConfig
	dedupeTTL time.Duration
	conn      *nats.Conn
	sub       *nats.Subscription
	submitter Submitter
	dedupe    dedupe.Store
	logger    *zap.Logger
}

// NewConsumer connects to NATS. Call Start to begin consuming.
func NewConsumer(
	cfg config.IngestConfig,
	dedupeTTL time.Duration,
	submitter Submitter,
	store dedupe.Store,
	logger *zap.Logger,
) (*Consumer, error) {
	opts := []nats.Option{
		nats.Name("triaged"),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &Consumer{
		cfg:       cfg,
		dedupeTTL: dedupeTTL,
		conn:      conn,
		submitter: submitter,
		dedupe:    store,
		logger:    logger,
	}, nil
}

// Start subscribes to the classifier subject within the queue group.
func (c *Consumer) Start() error {
	sub, err := c.conn.QueueSubscribe(c.cfg.Subject, c.cfg.Queue, c.handle)
	if err != nil {
		return fmt.Errorf("queue subscribe %s: %w", c.cfg.Subject, err)
	}
	c.sub = sub
	c.logger.Info("ingest started",
		zap.String("subject", c.cfg.Subject),
		zap.String("queue", c.cfg.Queue),
	)
	return nil
}

// handle processes one message. Malformed payloads and validation failures
// are logged and dropped; replaying them would fail identically.
func (c *Consumer) handle(msg *nats.Msg) {
	var ev model.ClassifierEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		c.logger.Warn("dropping malformed classifier event",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		return
	}

	ctx := model.WithRequestContext(context.Background(), model.SystemContext())

	if ev.EventID != "" {
		seen, err := c.dedupe.Seen(ctx, ev.EventID, c.dedupeTTL)
		if err != nil {
			c.logger.Error("dedupe lookup failed; processing anyway",
				zap.String("event_id", ev.EventID),
				zap.Error(err),
			)
		} else if seen {
			c.logger.Debug("dropping duplicate classifier event",
				zap.String("event_id", ev.EventID),
			)
			return
		}
	}

	detail, err := c.submitter.SubmitClassification(ctx, ev)
	if err != nil {
		if model.IsCode(err, model.ErrValidationError) || model.IsCode(err, model.ErrInvalidTransition) {
			c.logger.Warn("dropping rejected classifier event",
				zap.String("event_id", ev.EventID),
				zap.Error(err),
			)
			return
		}
		c.logger.Error("classifier event processing failed",
			zap.String("event_id", ev.EventID),
			zap.Error(err),
		)
		return
	}

	c.logger.Info("classifier event processed",
		zap.String("event_id", ev.EventID),
		zap.String("case_id", detail.Case.ID),
		zap.String("priority_level", latestLevel(detail)),
	)
}

func latestLevel(detail model.CaseDetail) string {
	if len(detail.Assessments) == 0 {
		return ""
	}
	return detail.Assessments[len(detail.Assessments)-1].PriorityLevel
}

// Connected reports whether the NATS connection is up. Used by readiness.
func (c *Consumer) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains the subscription and closes the connection.
func (c *Consumer) Close() {
	if c.sub != nil {
		_ = c.sub.Drain()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
