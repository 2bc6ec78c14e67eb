// Package queue provides the Redis-backed execution request queue that
// decouples the API from the worker processes.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/weirlabs/weir/pkg/models"
)

const (
	// DefaultQueue is the list key execution requests are pushed to.
	DefaultQueue = "weir:executions"

	popTimeout   = 1 * time.Second
	retryBackoff = 1 * time.Second
	pingTimeout  = 5 * time.Second
)

// Handler consumes one dequeued execution request.
type Handler func(ctx context.Context, req models.ExecutionRequest) error

// ExecutionQueue pushes and pops execution requests on a Redis list.
type ExecutionQueue struct {
	client redis.UniversalClient
	queue  string
	logger *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewExecutionQueue connects to Redis and returns a queue bound to the given
// list key. An empty queue name falls back to DefaultQueue.
func NewExecutionQueue(ctx context.Context, logger *slog.Logger, addr, password string, db int, queue string) (*ExecutionQueue, error) {
	if queue == "" {
		queue = DefaultQueue
	}

	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db, "queue", queue)

	return &ExecutionQueue{
		client: client,
		queue:  queue,
		logger: logger.With("module", "execution_queue", "queue", queue),
		stopCh: make(chan struct{}),
	}, nil
}

// Enqueue pushes an execution request onto the queue.
func (q *ExecutionQueue) Enqueue(ctx context.Context, req models.ExecutionRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal execution request: %w", err)
	}

	if err := q.client.RPush(ctx, q.queue, payload).Err(); err != nil {
		return fmt.Errorf("failed to push execution request: %w", err)
	}

	return nil
}

// Consume runs a blocking pop loop until Stop is called or the context ends.
// Each dequeued request is handed to the handler on its own goroutine.
func (q *ExecutionQueue) Consume(ctx context.Context, handler Handler) {
	q.wg.Add(1)

	go func() {
		defer q.wg.Done()

		q.logger.InfoContext(ctx, "Starting queue consumer")

		for {
			select {
			case <-q.stopCh:
				q.logger.InfoContext(ctx, "Queue consumer stopped")

				return
			case <-ctx.Done():
				q.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

				return
			default:
				if err := q.processMessage(ctx, handler); err != nil {
					q.logger.ErrorContext(ctx, "Error processing message", "error", err)
					time.Sleep(retryBackoff)
				}
			}
		}
	}()
}

func (q *ExecutionQueue) processMessage(ctx context.Context, handler Handler) error {
	result, err := q.client.BLPop(ctx, popTimeout, q.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var req models.ExecutionRequest
	if err := json.Unmarshal([]byte(result[1]), &req); err != nil {
		q.logger.WarnContext(ctx, "Discarding malformed execution request", "error", err)

		return nil
	}

	go func() {
		if err := handler(ctx, req); err != nil {
			q.logger.ErrorContext(ctx, "Execution request handler failed",
				"workflow_id", req.WorkflowID,
				"error", err,
			)
		}
	}()

	return nil
}

// Stop terminates the consumer loop and closes the Redis connection.
func (q *ExecutionQueue) Stop() error {
	close(q.stopCh)
	q.wg.Wait()

	return q.client.Close()
}

// HealthCheck pings Redis.
func (q *ExecutionQueue) HealthCheck(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
