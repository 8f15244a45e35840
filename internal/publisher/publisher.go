package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/internal/metrics"
	"github.com/Checker-Finance/panelbot/pkg/eventbus"
	"github.com/Checker-Finance/panelbot/pkg/model"
)

// Subjects published by the bot.
const (
	SubjectPowerAction   = "evt.panelbot.power_action.v1"
	SubjectCommandFailed = "evt.panelbot.command_failed.v1"
)

// msgPublisher is the part of nats.JetStreamContext used for publishing.
type msgPublisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher wraps a NATS connection and publishes bot events to JetStream.
type Publisher struct {
	nc      *nats.Conn
	js      msgPublisher
	service string
	logger  *zap.Logger
	timeout time.Duration
}

// New creates a Publisher and makes sure stream exists with the bot's subjects.
func New(nc *nats.Conn, stream, service string, logger *zap.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	if err := ensureStream(js, stream); err != nil {
		return nil, err
	}
	return &Publisher{
		nc:      nc,
		js:      js,
		service: service,
		logger:  logger,
		timeout: 5 * time.Second,
	}, nil
}

func ensureStream(js nats.JetStreamContext, stream string) error {
	_, err := js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{SubjectPowerAction, SubjectCommandFailed},
		Retention: nats.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	return err
}

// Attach subscribes the publisher to bot events on bus.
func (p *Publisher) Attach(bus *eventbus.EventBus) {
	bus.Subscribe(model.PowerActionDispatched{}, func(event any) {
		evt, ok := event.(model.PowerActionDispatched)
		if !ok {
			return
		}
		p.publishEvent(SubjectPowerAction, model.EventPowerActionDispatched, evt.UserID, evt)
	})
	bus.Subscribe(model.CommandFailed{}, func(event any) {
		evt, ok := event.(model.CommandFailed)
		if !ok {
			return
		}
		p.publishEvent(SubjectCommandFailed, model.EventCommandFailed, evt.UserID, evt)
	})
}

func (p *Publisher) publishEvent(subject, eventType, userID string, payload any) {
	env, err := model.NewEnvelope(subject, eventType, userID, payload)
	if err != nil {
		p.logger.Error("publisher.envelope_failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	_ = p.PublishEnvelope(ctx, subject, env)
}

// PublishEnvelope serializes and publishes an event envelope to NATS.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("publisher.marshal_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncNATSPublishError(subject)
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			"user_id":        []string{env.UserID},
		},
	}

	if _, err := p.js.PublishMsg(msg, nats.Context(ctx), nats.MsgId(env.ID.String())); err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.String("user_id", env.UserID),
			zap.Error(err))
		metrics.IncNATSPublishError(subject)
		return err
	}

	p.logger.Debug("publisher.publish_success",
		zap.String("subject", subject),
		zap.String("event_type", env.EventType))
	return nil
}

// Connected reports whether the underlying NATS connection is up.
func (p *Publisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

func (p *Publisher) Close() {
	if p.nc != nil && !p.nc.IsClosed() {
		_ = p.nc.Drain()
	}
}
