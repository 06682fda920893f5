package rabbitmq

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	retryHeader = "x-attempt"

	DefaultMaxRetries = 3
	DefaultRetryDelay = 10 * time.Second
)

// HandleFunc processes one job id.
type HandleFunc func(ctx context.Context, jobID string) error

// Consumer reads job ids from the main queue and runs them on a worker pool.
// Failed jobs go through the retry queue until MaxRetries, then to the DLQ.
type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   *zap.Logger

	MaxRetries int
	RetryDelay time.Duration
	// Permanent short-circuits retries for errors that cannot succeed later.
	Permanent func(error) bool
}

func NewConsumer(url, queue string, log *zap.Logger) (*Consumer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{
		conn:       conn,
		ch:         ch,
		queue:      queue,
		log:        log,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
	}, nil
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run consumes until ctx is cancelled, then drains in-flight deliveries.
func (c *Consumer) Run(ctx context.Context, concurrency int, handle HandleFunc) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	// strict concurrency control
	if err := c.ch.Qos(concurrency, 0, false); err != nil {
		return err
	}
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.log.Info("consumer started", zap.String("queue", c.queue), zap.Int("concurrency", concurrency))

	deliveries := make(chan amqp.Delivery, concurrency*2)
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				c.process(ctx, workerID, d, handle)
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer shutting down")
			close(deliveries)
			wg.Wait()
			return nil

		case d, ok := <-msgs:
			if !ok {
				close(deliveries)
				wg.Wait()
				return amqp.ErrClosed
			}
			deliveries <- d
		}
	}
}

func (c *Consumer) process(ctx context.Context, workerID int, d amqp.Delivery, handle HandleFunc) {
	var m JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		// poison message: straight to the DLQ
		c.log.Warn("bad message", zap.Int("worker", workerID), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	err := handle(ctx, m.JobID)
	if err == nil {
		if err := d.Ack(false); err != nil {
			c.log.Warn("ack failed", zap.Int("worker", workerID), zap.String("job", m.JobID), zap.Error(err))
		}
		return
	}

	attempt := attemptOf(d.Headers)
	c.log.Warn("job failed",
		zap.Int("worker", workerID), zap.String("job", m.JobID),
		zap.Int("attempt", attempt), zap.Duration("cost", time.Since(start)), zap.Error(err))

	if (c.Permanent != nil && c.Permanent(err)) || attempt >= c.MaxRetries {
		_ = d.Nack(false, false)
		return
	}
	if err := c.retry(ctx, d, attempt+1); err != nil {
		c.log.Warn("retry publish failed", zap.String("job", m.JobID), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, attempt int) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return c.ch.PublishWithContext(cctx, "", c.queue+".retry", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
		Headers:      amqp.Table{retryHeader: int32(attempt)},
		Expiration:   strconv.FormatInt(c.RetryDelay.Milliseconds(), 10),
		Timestamp:    time.Now(),
	})
}

func attemptOf(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
