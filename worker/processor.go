package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Kenji11/aivideo-sub002/pipeline"
	"github.com/Kenji11/aivideo-sub002/tasks"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// TaskHandler is a function that processes a task payload.
type TaskHandler func(ctx context.Context, payload string) error

// popTimeout bounds each BRPop so listeners notice shutdown.
const popTimeout = 5 * time.Second

// Processor holds the queue client and registered task handlers.
type Processor struct {
	RDB      *redis.Client
	handlers map[string]TaskHandler
	logger   *zap.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(rdb *redis.Client, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		RDB:      rdb,
		handlers: make(map[string]TaskHandler),
		logger:   logger,
	}
}

// Register maps a queue name (task type) to a handler function.
func (p *Processor) Register(queueName string, handler TaskHandler) {
	p.handlers[queueName] = handler
	p.logger.Info("registered handler", zap.String("queue", queueName))
}

// Enqueue is a helper to add a new task to a queue.
func (p *Processor) Enqueue(ctx context.Context, queueName string, payload interface{}) error {
	payloadStr, err := tasks.Marshal(payload)
	if err != nil {
		return err
	}
	return p.RDB.LPush(ctx, queueName, payloadStr).Err()
}

// EnqueueStage queues the job for one stage of a run.
func (p *Processor) EnqueueStage(ctx context.Context, runID string, stage pipeline.Stage) error {
	queue, ok := tasks.QueueFor(stage)
	if !ok {
		return errors.New("no queue for stage " + string(stage))
	}
	return p.Enqueue(ctx, queue, tasks.StagePayload{RunID: runID, Stage: stage})
}

// Listen runs n listeners over the given queues until ctx is done.
func (p *Processor) Listen(ctx context.Context, n int, queueNames ...string) {
	if n < 1 {
		n = 1
	}
	p.logger.Info("worker listening", zap.Int("listeners", n), zap.Strings("queues", queueNames))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.listen(ctx, id, queueNames)
		}(i)
	}
	wg.Wait()
}

func (p *Processor) listen(ctx context.Context, id int, queueNames []string) {
	log := p.logger.With(zap.Int("listener", id))
	for ctx.Err() == nil {
		// BRPop blocks until a task is available on any of the listed queues.
		result, err := p.RDB.BRPop(ctx, popTimeout, queueNames...).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Error("pop from queue", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		// result[0] is the queue name, result[1] is the payload
		p.dispatch(ctx, log, result[0], result[1])
	}
}

func (p *Processor) dispatch(ctx context.Context, log *zap.Logger, queueName, payload string) {
	handler, ok := p.handlers[queueName]
	if !ok {
		log.Error("no handler registered", zap.String("queue", queueName))
		return
	}
	if err := handler(ctx, payload); err != nil {
		log.Error("task failed, dead-lettering", zap.String("queue", queueName), zap.Error(err))
		dl := tasks.DeadLetter{Queue: queueName, Payload: payload, Error: err.Error()}
		if err := p.Enqueue(context.Background(), tasks.QueueDeadLetter, dl); err != nil {
			log.Error("dead-letter push", zap.Error(err))
		}
	}
}
