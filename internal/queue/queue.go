package queue

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"support-triage/backend/internal/engine"
	"support-triage/backend/internal/models"
)

const inboxKey = "triage:inbox"

// Queue buffers inbound message ids in a redis list so ingestion never waits
// on a processing cycle. The payload lives in postgres; the queue carries
// only ids.
type Queue struct {
	client *redis.Client
}

func New(redisURL string) (*Queue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Queue{client: redis.NewClient(opt)}, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) Enqueue(ctx context.Context, messageID string) error {
	return q.client.LPush(ctx, inboxKey, messageID).Err()
}

func (q *Queue) dequeueBatch(ctx context.Context, batchSize int) ([]string, error) {
	var ids []string
	for i := 0; i < batchSize; i++ {
		id, err := q.client.RPop(ctx, inboxKey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// MessageLoader narrows the store surface the worker needs.
type MessageLoader interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
}

// Worker drains the inbox and runs one automation cycle per message with
// bounded concurrency. Same-message serialization is the engine's job, not
// the worker's.
type Worker struct {
	Queue       *Queue
	Engine      *engine.Engine
	Messages    MessageLoader
	Logger      *zap.Logger
	BatchSize   int
	Concurrency int
	// CycleTimeout bounds one automation cycle including the AI call.
	CycleTimeout time.Duration
}

func (w *Worker) Start(ctx context.Context) {
	batch := w.BatchSize
	if batch <= 0 {
		batch = 50
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	cycleTimeout := w.CycleTimeout
	if cycleTimeout <= 0 {
		cycleTimeout = 2 * time.Minute
	}
	slots := make(chan struct{}, concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ids, err := w.Queue.dequeueBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Logger.Warn("inbox drain failed", zap.Error(err))
			time.Sleep(2 * time.Second)
			continue
		}
		if len(ids) == 0 {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, id := range ids {
			select {
			case <-ctx.Done():
				return
			case slots <- struct{}{}:
			}
			go func(messageID string) {
				defer func() { <-slots }()
				w.processOne(ctx, messageID, cycleTimeout)
			}(id)
		}
	}
}

func (w *Worker) processOne(ctx context.Context, messageID string, timeout time.Duration) {
	cycleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := w.Messages.GetMessage(cycleCtx, messageID)
	if err != nil {
		w.Logger.Warn("queued message not found", zap.String("message_id", messageID), zap.Error(err))
		return
	}
	outcome, err := w.Engine.Process(cycleCtx, msg)
	if err != nil {
		w.Logger.Error("automation cycle failed",
			zap.String("message_id", messageID),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
		return
	}
	w.Logger.Info("automation cycle complete",
		zap.String("message_id", messageID),
		zap.String("outcome", string(outcome)))
}
