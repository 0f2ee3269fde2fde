package worker

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"schedule-import-db/internal/config"
	"schedule-import-db/internal/db"
	"schedule-import-db/internal/excel"
	"schedule-import-db/internal/importer"
	"schedule-import-db/internal/logger"
	"schedule-import-db/internal/model"
	"schedule-import-db/internal/queue"
	"schedule-import-db/internal/storage"
	"schedule-import-db/pkg/errors"

	"github.com/rs/zerolog"
)

// ExistingSource snapshots what the backend already holds for an entity.
type ExistingSource interface {
	ExistingSet(ctx context.Context, rules *importer.RuleSet) (*importer.KeySet, error)
}

type IngestionWorker struct {
	cfg        *config.Config
	repo       db.Repository
	storage    storage.Storage
	existing   ExistingSource
	parser     excel.ParsingStrategy
	consumer   *queue.Consumer
	workerPool *WorkerPool
	deadLetter func(ctx context.Context, data []byte) error
	log        zerolog.Logger
}

func NewIngestionWorker(
	cfg *config.Config,
	repo db.Repository,
	storage storage.Storage,
	existing ExistingSource,
	redisClient *queue.RedisClient,
) *IngestionWorker {
	w := newIngestionWorker(cfg, repo, storage, existing)
	w.consumer = queue.NewConsumer(redisClient, cfg)
	w.deadLetter = w.consumer.DeadLetterIngestion
	return w
}

func newIngestionWorker(cfg *config.Config, repo db.Repository, storage storage.Storage, existing ExistingSource) *IngestionWorker {
	return &IngestionWorker{
		cfg:        cfg,
		repo:       repo,
		storage:    storage,
		existing:   existing,
		parser:     excel.NewExcelStrategy(cfg.Import.MaxRows, cfg.Now),
		workerPool: NewWorkerPool(cfg.Workers.Ingestion.Count),
		log:        logger.Component("ingestion"),
	}
}

func (w *IngestionWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Starting ingestion worker")

	// Start worker pool
	w.workerPool.Start(ctx)

	// Start consuming messages
	return w.consumer.ConsumeIngestionQueue(ctx, w.handleMessage)
}

func (w *IngestionWorker) Stop() {
	w.log.Info().Msg("Stopping ingestion worker")
	w.workerPool.Stop()
}

func (w *IngestionWorker) handleMessage(ctx context.Context, data []byte) error {
	var job model.IngestionJob
	if err := json.Unmarshal(data, &job); err != nil {
		w.log.Error().Err(err).Msg("Failed to unmarshal ingestion job")
		return err
	}

	w.log.Info().Int64("file_id", job.FileID).Str("s3_path", job.S3Path).Msg("Processing ingestion job")

	// Submit job to worker pool
	return w.workerPool.Submit(ctx, func(ctx context.Context) error {
		err := w.ProcessFile(ctx, job)
		if err != nil && !stderrors.Is(err, context.Canceled) {
			w.park(ctx, data)
		}
		return err
	})
}

// park hands a message that failed inside the pool to the DLQ.
func (w *IngestionWorker) park(ctx context.Context, data []byte) {
	if w.deadLetter == nil {
		return
	}
	if err := w.deadLetter(context.WithoutCancel(ctx), data); err != nil {
		w.log.Error().Err(err).Msg("Failed to dead-letter ingestion job")
	}
}

// ProcessFile reconciles one uploaded workbook and stages every row. A
// structural problem with the file marks it PARSED_FAIL; row problems only
// mark rows REJECTED.
func (w *IngestionWorker) ProcessFile(ctx context.Context, job model.IngestionJob) error {
	log := w.log.With().Int64("file_id", job.FileID).Str("entity", job.Entity).Logger()
	started := time.Now()

	fail := func(stage string, err error) error {
		log.Error().Err(err).Str("stage", stage).Msg("Ingestion failed")
		errorMsg := err.Error()
		if uerr := w.repo.UpdateFileStatus(ctx, job.FileID, model.FileStatusParsedFail, &errorMsg); uerr != nil {
			log.Error().Err(uerr).Msg("Failed to update file status")
		}
		return err
	}

	// Only the first delivery of a job parses the file
	won, err := w.repo.TransitionFileStatus(ctx, job.FileID, model.FileStatusUploaded, model.FileStatusParsing, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim file")
		return err
	}
	if !won {
		log.Warn().Msg("File already ingested, skipping")
		return nil
	}

	rules, ok := importer.Lookup(job.Entity)
	if !ok {
		return fail("lookup", fmt.Errorf("%w: %s", errors.ErrUnknownEntity, job.Entity))
	}

	// Download file from S3
	log.Debug().Msg("Downloading file from S3")
	data, err := w.storage.Download(ctx, job.S3Path)
	if err != nil {
		return fail("download", err)
	}

	log.Debug().Msg("Loading existing records")
	existing, err := w.existing.ExistingSet(ctx, rules)
	if err != nil {
		return fail("existing", err)
	}

	log.Debug().Msg("Parsing and reconciling Excel file")
	records, err := w.parser.Process(ctx, rules, data, existing)
	if err != nil {
		return fail("reconcile", err)
	}

	rows := make([]model.ImportRow, 0, len(records))
	for _, rec := range records {
		row, err := model.NewImportRow(job.FileID, rules, rec)
		if err != nil {
			return fail("stage", err)
		}
		rows = append(rows, row)
	}

	// Insert into staging table
	if err := w.repo.InsertRows(ctx, job.FileID, rows); err != nil {
		return fail("stage", err)
	}

	summary := importer.Summarize(records)
	if err := w.repo.UpdateFileCounts(ctx, job.FileID, model.FileCounts{
		Total:    summary.Total,
		Accepted: summary.Accepted,
		Rejected: summary.Rejected,
	}); err != nil {
		return fail("counts", err)
	}

	// Update file status to success
	if err := w.repo.UpdateFileStatus(ctx, job.FileID, model.FileStatusParsedOK, nil); err != nil {
		log.Error().Err(err).Msg("Failed to update file status")
		return err
	}

	log.Info().
		Int("total", summary.Total).
		Int("accepted", summary.Accepted).
		Int("rejected", summary.Rejected).
		Dur("duration", time.Since(started)).
		Msg("File processed successfully")
	return nil
}
