package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/internal/metrics"
	"github.com/Checker-Finance/panelbot/pkg/eventbus"
	"github.com/Checker-Finance/panelbot/pkg/model"
)

const (
	// TopicPowerActions is the routing key for dispatched power actions
	TopicPowerActions = "panelbot.power.actions"
	// TopicCommandFailures is the routing key for failed commands
	TopicCommandFailures = "panelbot.command.failures"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes bot events to RabbitMQ
type Publisher struct {
	conn    *amqp.Connection
	channel channel
	logger  *zap.Logger
	timeout time.Duration
}

// NewPublisher connects to url, declares the bot's queues and subscribes to bus.
func NewPublisher(url string, eventBus *eventbus.EventBus, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p := &Publisher{
		conn:    conn,
		channel: ch,
		logger:  logger,
		timeout: 5 * time.Second,
	}
	if err := p.declareQueues(); err != nil {
		_ = p.Close()
		return nil, err
	}

	p.subscribeToEvents(eventBus)
	return p, nil
}

func (p *Publisher) declareQueues() error {
	for _, q := range []string{TopicPowerActions, TopicCommandFailures} {
		if _, err := p.channel.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q, err)
		}
	}
	return nil
}

func (p *Publisher) subscribeToEvents(bus *eventbus.EventBus) {
	bus.Subscribe(model.PowerActionDispatched{}, func(event any) {
		if evt, ok := event.(model.PowerActionDispatched); ok {
			p.publish(TopicPowerActions, model.EventPowerActionDispatched, evt.UserID, evt, 0)
		}
	})

	// failures jump ahead of routine audit traffic
	bus.Subscribe(model.CommandFailed{}, func(event any) {
		if evt, ok := event.(model.CommandFailed); ok {
			p.publish(TopicCommandFailures, model.EventCommandFailed, evt.UserID, evt, 10)
		}
	})
}

func (p *Publisher) publish(routingKey, eventType, userID string, payload any, priority uint8) {
	env, err := model.NewEnvelope(routingKey, eventType, userID, payload)
	if err != nil {
		p.logger.Error("rabbitmq.envelope_failed", zap.String("routing_key", routingKey), zap.Error(err))
		return
	}
	body, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("rabbitmq.marshal_failed", zap.String("routing_key", routingKey), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		"",         // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     env.ID.String(),
			CorrelationId: env.CorrelationID.String(),
			Type:          eventType,
			Timestamp:     env.Timestamp,
			Priority:      priority,
			Body:          body,
		},
	)
	if err != nil {
		metrics.IncAMQPPublishError(routingKey)
		p.logger.Error("rabbitmq.publish_failed",
			zap.String("routing_key", routingKey),
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}
	p.logger.Debug("rabbitmq.published", zap.String("routing_key", routingKey))
}

// Close closes the publisher
func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
