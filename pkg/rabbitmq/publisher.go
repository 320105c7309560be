package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"strings"
	"stream-recorder/config"
	"stream-recorder/dto"
)

const (
	defaultExchangeName = "recording_events"
	routingKeyPrefix    = "recording"
)

// Publisher fans recording lifecycle events out to the dashboard over AMQP.
type Publisher struct {
	conn         *amqp.Connection
	exchangeName string
	kind         string
}

func NewPublisher(ctx context.Context, conn *amqp.Connection, cfg *config.RabbitMQ) (*Publisher, error) {
	exchangeName := cfg.ExchangeName
	if exchangeName == "" {
		exchangeName = defaultExchangeName
	}
	kind := cfg.Kind
	if kind == "" {
		kind = "topic"
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	err = ch.ExchangeDeclare(exchangeName, kind, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", exchangeName).Msg("failed to declare exchange")
		return nil, err
	}

	return &Publisher{
		conn:         conn,
		exchangeName: exchangeName,
		kind:         kind,
	}, nil
}

// PublishRecordingEvent publishes one event on routing key
// "recording.<state>". Broker trouble is the caller's to log; recordings
// never fail because an event could not be delivered.
func (p *Publisher) PublishRecordingEvent(ctx context.Context, event dto.RecordingEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	routingKey := fmt.Sprintf("%s.%s", routingKeyPrefix, strings.ToLower(event.State))
	return ch.PublishWithContext(ctx, p.exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}
