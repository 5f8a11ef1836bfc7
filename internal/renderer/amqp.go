package renderer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/60fov/ai-fable/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	publishTimeout  = 10 * time.Second
	publishAttempts = 3
	publishQueueLen = 256
	appID           = "ai-fable"
	snapshotType    = "narrative.snapshot"
)

// amqpChannel - часть *amqp.Channel, нужная паблишеру.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQP публикует снимки сессий в очередь RabbitMQ. Render only enqueues;
// a background goroutine does the publishing.
type AMQP struct {
	channel   amqpChannel
	queueName string
	logger    *zap.Logger
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	retryWait time.Duration
}

// NewAMQP открывает канал, объявляет очередь и запускает публикацию.
func NewAMQP(conn *amqp.Connection, queueName string, logger *zap.Logger) (*AMQP, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("snapshot publisher: не удалось открыть канал: %w", err)
	}
	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("snapshot publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}
	logger.Info("Snapshot queue declared", zap.String("queue", queueName))
	return newAMQP(ch, queueName, logger, 500*time.Millisecond), nil
}

func newAMQP(ch amqpChannel, queueName string, logger *zap.Logger, retryWait time.Duration) *AMQP {
	p := &AMQP{
		channel:   ch,
		queueName: queueName,
		logger:    logger.Named("SnapshotPublisher").With(zap.String("queue", queueName)),
		queue:     make(chan []byte, publishQueueLen),
		done:      make(chan struct{}),
		retryWait: retryWait,
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *AMQP) Render(snapshot models.Snapshot) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		p.logger.Error("Failed to marshal snapshot", zap.String("session_id", snapshot.SessionID), zap.Error(err))
		return
	}
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- body:
	default:
		p.logger.Warn("Publish queue is full, snapshot dropped", zap.String("session_id", snapshot.SessionID))
	}
}

func (p *AMQP) run() {
	defer p.wg.Done()
	for {
		select {
		case body := <-p.queue:
			p.publish(body)
		case <-p.done:
			// Досылаем то, что уже в очереди
			for {
				select {
				case body := <-p.queue:
					p.publish(body)
				default:
					return
				}
			}
		}
	}
}

func (p *AMQP) publish(body []byte) {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now().UTC(),
		AppId:        appID,
		Type:         snapshotType,
	}

	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = p.channel.PublishWithContext(ctx, "", p.queueName, false, false, msg)
		cancel()
		if err == nil {
			return
		}
		p.logger.Warn("Publish attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < publishAttempts {
			time.Sleep(p.retryWait)
		}
	}
	p.logger.Error("Failed to publish snapshot", zap.Int("attempts", publishAttempts), zap.Error(err))
}

// Close дожидается отправки очереди и закрывает канал.
func (p *AMQP) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		err = p.channel.Close()
	})
	return err
}
