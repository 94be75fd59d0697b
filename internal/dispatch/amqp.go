package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPMirror publishes each submitted job ID onto a broker queue so a
// separately-deployed worker process can pick up the same job: a retry
// queue whose TTL dead-letters back to the main queue, and a main queue
// that dead-letters to a DLQ on reject. The in-process Dispatcher
// remains authoritative for Job state; this is purely a fan-out signal
// for a remote consumer.
type AMQPMirror struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

type jobMessage struct {
	JobID string `json:"job_id"`
}

// NewAMQPMirror dials url and declares the three queues (main, retry,
// dlq) that give a submitted job at-least-once delivery to an external
// worker.
func NewAMQPMirror(url, queue string) (*AMQPMirror, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dispatch: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("dispatch: amqp channel: %w", err)
	}

	mainQ := queue
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"

	if _, err := ch.QueueDeclare(dlqQ, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("dispatch: declare dlq: %w", err)
	}

	if _, err := ch.QueueDeclare(retryQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": mainQ,
	}); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("dispatch: declare retry queue: %w", err)
	}

	if _, err := ch.QueueDeclare(mainQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqQ,
	}); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("dispatch: declare main queue: %w", err)
	}

	return &AMQPMirror{conn: conn, ch: ch, queue: mainQ}, nil
}

// Close releases the channel and connection.
func (m *AMQPMirror) Close() error {
	if m.ch != nil {
		_ = m.ch.Close()
	}
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}

// PublishJob satisfies Mirror.
func (m *AMQPMirror) PublishJob(ctx context.Context, jobID string) error {
	body, err := json.Marshal(jobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("dispatch: encode job message: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return m.ch.PublishWithContext(pctx,
		"",
		m.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
