package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"schedule-import-db/internal/config"
	"schedule-import-db/internal/model"

	"github.com/go-redis/redis/v8"
)

// JobProducer is what the HTTP layer needs from the queue.
type JobProducer interface {
	EnqueueIngestionJob(ctx context.Context, job model.IngestionJob) error
	EnqueueSubmitJob(ctx context.Context, job model.SubmitJob) error
}

type Producer struct {
	client *redis.Client
	cfg    *config.Config
}

func NewProducer(redisClient *RedisClient, cfg *config.Config) *Producer {
	return &Producer{
		client: redisClient.Client(),
		cfg:    cfg,
	}
}

func (p *Producer) EnqueueIngestionJob(ctx context.Context, job model.IngestionJob) error {
	return p.push(ctx, p.cfg.Redis.IngestionQueue, job)
}

func (p *Producer) EnqueueSubmitJob(ctx context.Context, job model.SubmitJob) error {
	return p.push(ctx, p.cfg.Redis.SubmitQueue, job)
}

func (p *Producer) push(ctx context.Context, queueName string, job interface{}) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := p.client.LPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue on %s: %w", queueName, err)
	}
	return nil
}
