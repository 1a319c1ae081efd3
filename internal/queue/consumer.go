package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one message. Returning nil acknowledges it; returning an error
// leaves it leased so it is redelivered once the lease expires.
type Handler func(ctx context.Context, msg *Message) error

// ConsumerConfig holds configuration options for a Consumer.
type ConsumerConfig struct {
	// Concurrency is the number of messages handled at once. Defaults to 1.
	Concurrency int
	// PollInterval is how long to wait after finding the queue empty.
	PollInterval time.Duration
}

// Consumer claims messages from a Queue and runs a Handler on each.
type Consumer struct {
	queue   Queue
	handler Handler
	cfg     ConsumerConfig
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewConsumer(q Queue, h Handler, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("queue", q.Name())
	if cfg.Concurrency <= 0 {
		logger.Warn("invalid consumer concurrency, using default",
			"specified", cfg.Concurrency, "default", 1)
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Consumer{queue: q, handler: h, cfg: cfg, logger: logger}
}

// Run claims and dispatches messages until ctx is cancelled, then waits for in-flight
// handlers to return. Handlers run on a context that outlives ctx so a shutdown does
// not abandon a half-processed message.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started", "concurrency", c.cfg.Concurrency)
	defer c.logger.Info("consumer stopped")

	sem := make(chan struct{}, c.cfg.Concurrency)
	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return nil
		case sem <- struct{}{}:
		}

		msg, err := c.queue.Claim(ctx)
		if err != nil {
			<-sem
			switch {
			case errors.Is(err, ErrDeadLettered):
				c.logger.Warn("message dead-lettered", "error", err)
				continue
			case errors.Is(err, ErrEmpty):
			case ctx.Err() != nil:
				continue
			default:
				c.logger.Error("claim failed", "error", err)
			}
			c.sleep(ctx)
			continue
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer func() { <-sem }()
			c.process(handlerCtx, msg)
		}()
	}
}

func (c *Consumer) sleep(ctx context.Context) {
	t := time.NewTimer(c.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// process runs the handler, acking on success. A panic is logged and the message
// left for redelivery.
func (c *Consumer) process(ctx context.Context, msg *Message) {
	log := c.logger.With("message_id", msg.ID, "delivery", msg.Delivery)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return c.handler(ctx, msg)
	}()
	if err != nil {
		log.Error("handler failed, message will be redelivered", "error", err)
		return
	}

	if err := c.queue.Ack(ctx, msg); err != nil {
		log.Error("ack failed", "error", err)
	}
}
