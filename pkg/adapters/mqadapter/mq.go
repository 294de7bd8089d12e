package mqadapter

import (
	"context"
	"fmt"

	"github.com/oarkflow/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/oarkflow/hl7/pkg/contracts"
)

// ContentType marks published bodies as pipe-delimited HL7 v2.
const ContentType = "x-application/hl7-v2+er7"

// Record keys set by the source.
const (
	RawMessageKey = "raw_message"
	MessageIDKey  = "amqp_message_id"
	QueueKey      = "amqp_queue"
)

// Adapter consumes and publishes raw HL7 messages on one AMQP queue.
type Adapter struct {
	url       string
	queueName string
	field     string
	conn      *amqp.Connection
	channel   *amqp.Channel
	consumer  <-chan amqp.Delivery
}

// New builds an adapter for the queue at url. field names the record key holding the
// message when publishing; empty means raw_message.
func New(url, queue, field string) *Adapter {
	if queue == "" {
		queue = "hl7"
	}
	if field == "" {
		field = RawMessageKey
	}
	return &Adapter{url: url, queueName: queue, field: field}
}

func (a *Adapter) Setup(_ context.Context) error {
	if a.url == "" {
		return fmt.Errorf("mq adapter: url is empty")
	}
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return err
	}
	a.conn = conn
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	a.channel = ch
	_, err = ch.QueueDeclare(
		a.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	return err
}

// StoreBatch publishes each record's message body.
func (a *Adapter) StoreBatch(ctx context.Context, records []contracts.Record) error {
	if a.channel == nil {
		return fmt.Errorf("mq adapter: Setup was not called")
	}
	for _, rec := range records {
		body, err := messageBody(rec, a.field)
		if err != nil {
			return err
		}
		err = a.channel.PublishWithContext(ctx,
			"", // default exchange
			a.queueName,
			false,
			false,
			amqp.Publishing{
				ContentType:  ContentType,
				DeliveryMode: amqp.Persistent,
				Body:         body,
			},
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) StoreSingle(ctx context.Context, rec contracts.Record) error {
	return a.StoreBatch(ctx, []contracts.Record{rec})
}

// Extract consumes messages until the channel closes, ctx ends or the limit is reached.
// Deliveries are acknowledged once handed to the consumer of the returned channel.
func (a *Adapter) Extract(ctx context.Context, opts ...contracts.Option) (<-chan contracts.Record, error) {
	if a.channel == nil {
		return nil, fmt.Errorf("mq adapter: Setup was not called")
	}
	if a.consumer == nil {
		consumer, err := a.channel.Consume(
			a.queueName,
			"",
			false,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return nil, err
		}
		a.consumer = consumer
	}
	limit := contracts.ApplyOptions(opts...).Limit
	out := make(chan contracts.Record, 100)
	go func() {
		defer close(out)
		sent := 0
		for d := range a.consumer {
			rec := contracts.Record{
				RawMessageKey: string(d.Body),
				MessageIDKey:  d.MessageId,
				QueueKey:      a.queueName,
			}
			select {
			case <-ctx.Done():
				if err := d.Nack(false, true); err != nil {
					log.Printf("MQ nack error: %v", err)
				}
				return
			case out <- rec:
			}
			if err := d.Ack(false); err != nil {
				log.Printf("MQ ack error: %v", err)
			}
			sent++
			if limit > 0 && sent >= limit {
				return
			}
		}
	}()
	return out, nil
}

func (a *Adapter) Close() error {
	if a.channel != nil {
		_ = a.channel.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func messageBody(rec contracts.Record, field string) ([]byte, error) {
	switch v := rec[field].(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	default:
		return nil, fmt.Errorf("mq adapter: record field %s is %T, not a message", field, v)
	}
}

var (
	_ contracts.Source = (*Adapter)(nil)
	_ contracts.Loader = (*Adapter)(nil)
)
