package worker

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"schedule-import-db/internal/config"
	"schedule-import-db/internal/db"
	"schedule-import-db/internal/logger"
	"schedule-import-db/internal/model"
	"schedule-import-db/internal/queue"
	"schedule-import-db/internal/submit"
	"schedule-import-db/pkg/errors"

	"github.com/rs/zerolog"
)

type SubmitWorker struct {
	cfg           *config.Config
	repo          db.Repository
	submitService *submit.Service
	consumer      *queue.Consumer
	workerPool    *WorkerPool
	deadLetter    func(ctx context.Context, data []byte) error
	log           zerolog.Logger
}

func NewSubmitWorker(
	cfg *config.Config,
	repo db.Repository,
	service *submit.Service,
	redisClient *queue.RedisClient,
) *SubmitWorker {
	consumer := queue.NewConsumer(redisClient, cfg)
	return &SubmitWorker{
		cfg:           cfg,
		repo:          repo,
		submitService: service,
		consumer:      consumer,
		workerPool:    NewWorkerPool(cfg.Workers.Submit.Count),
		deadLetter:    consumer.DeadLetterSubmit,
		log:           logger.Component("submit-worker"),
	}
}

func (w *SubmitWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Starting submit worker")

	// Start worker pool
	w.workerPool.Start(ctx)

	// Start consuming messages
	return w.consumer.ConsumeSubmitQueue(ctx, w.handleMessage)
}

func (w *SubmitWorker) Stop() {
	w.log.Info().Msg("Stopping submit worker")
	w.workerPool.Stop()
}

func (w *SubmitWorker) handleMessage(ctx context.Context, data []byte) error {
	var job model.SubmitJob
	if err := json.Unmarshal(data, &job); err != nil {
		w.log.Error().Err(err).Msg("Failed to unmarshal submit job")
		return err
	}

	w.log.Info().Int64("file_id", job.FileID).Str("entity", job.Entity).Msg("Processing submit job")

	// Submit job to worker pool
	return w.workerPool.Submit(ctx, func(ctx context.Context) error {
		if err := w.submitService.ProcessSubmitJob(ctx, job); err != nil {
			if stderrors.Is(err, errors.ErrFileNotReady) || stderrors.Is(err, errors.ErrFileNotFound) {
				return err
			}
			msg := err.Error()
			// Keep the file committable so the user can retry
			if _, uerr := w.repo.TransitionFileStatus(context.WithoutCancel(ctx), job.FileID, model.FileStatusSubmitting, model.FileStatusParsedOK, &msg); uerr != nil {
				w.log.Error().Err(uerr).Int64("file_id", job.FileID).Msg("Failed to update file status")
			}
			if !stderrors.Is(err, context.Canceled) && w.deadLetter != nil {
				if dlqErr := w.deadLetter(context.WithoutCancel(ctx), data); dlqErr != nil {
					w.log.Error().Err(dlqErr).Int64("file_id", job.FileID).Msg("Failed to dead-letter submit job")
				}
			}
			return err
		}
		return nil
	})
}
