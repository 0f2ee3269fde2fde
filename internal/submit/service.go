package submit

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"schedule-import-db/internal/config"
	"schedule-import-db/internal/db"
	"schedule-import-db/internal/importer"
	"schedule-import-db/internal/logger"
	"schedule-import-db/internal/model"
	"schedule-import-db/pkg/errors"

	"github.com/rs/zerolog"
)

type RecordSubmitter interface {
	SubmitRecord(ctx context.Context, resource string, payload map[string]interface{}) (*model.SubmitResponse, error)
}

// Service hands confirmed rows to the scheduling backend. Only READY rows
// are ever read, so rejected rows cannot be submitted.
type Service struct {
	cfg    *config.Config
	repo   db.Repository
	client RecordSubmitter
	log    zerolog.Logger
}

func NewService(cfg *config.Config, repo db.Repository, client RecordSubmitter) *Service {
	return &Service{
		cfg:    cfg,
		repo:   repo,
		client: client,
		log:    logger.Component("submit"),
	}
}

func (s *Service) ProcessSubmitJob(ctx context.Context, job model.SubmitJob) error {
	log := s.log.With().Int64("file_id", job.FileID).Str("entity", job.Entity).Logger()
	log.Info().Msg("Processing submit job")

	file, err := s.repo.GetFile(ctx, job.FileID)
	if err != nil {
		return err
	}
	if file.Status != model.FileStatusParsedOK && file.Status != model.FileStatusSubmitting {
		log.Warn().Str("status", string(file.Status)).Msg("File is not ready for submission")
		return errors.ErrFileNotReady
	}

	rules, ok := importer.Lookup(file.Entity)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnknownEntity, file.Entity)
	}

	// Jobs enqueued by the API find the file SUBMITTING already
	if file.Status == model.FileStatusParsedOK {
		if _, err := s.repo.TransitionFileStatus(ctx, file.ID, model.FileStatusParsedOK, model.FileStatusSubmitting, nil); err != nil {
			return err
		}
	}

	batchSize := s.cfg.Workers.Submit.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	totalProcessed := 0
	for {
		rows, err := s.repo.GetReadyRows(ctx, file.ID, batchSize)
		if err != nil {
			log.Error().Err(err).Msg("Failed to get ready rows")
			return err
		}
		if len(rows) == 0 {
			break // No more rows to process
		}

		rows, err = s.claim(ctx, rows)
		if err != nil {
			log.Error().Err(err).Msg("Failed to claim rows")
			return err
		}
		if len(rows) == 0 {
			continue // Another job took this batch
		}

		log.Debug().Int("batch_size", len(rows)).Msg("Processing batch")
		if err := s.processBatch(ctx, rules, rows); err != nil {
			log.Error().Err(err).Msg("Failed to process batch")
			return err
		}
		totalProcessed += len(rows)
	}

	counts, err := s.repo.CountRows(ctx, file.ID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateFileCounts(ctx, file.ID, counts); err != nil {
		return err
	}

	// Rows still claimed by a concurrent job; that job finishes the file
	if pending := counts.Accepted - counts.Submitted - counts.Failed; pending > 0 {
		log.Info().Int("pending", pending).Int("total_processed", totalProcessed).Msg("Rows still in flight elsewhere")
		return nil
	}

	var summary *string
	if counts.Failed > 0 {
		msg := fmt.Sprintf("%d of %d rows were refused by the backend", counts.Failed, counts.Accepted)
		summary = &msg
	}
	if err := s.repo.UpdateFileStatus(ctx, file.ID, model.FileStatusSubmitted, summary); err != nil {
		return err
	}

	log.Info().
		Int("total_processed", totalProcessed).
		Int("submitted", counts.Submitted).
		Int("failed", counts.Failed).
		Msg("Submit job completed")
	return nil
}

// claim keeps the rows this job won.
func (s *Service) claim(ctx context.Context, rows []model.ImportRow) ([]model.ImportRow, error) {
	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	claimed, err := s.repo.ClaimRows(ctx, ids)
	if err != nil {
		return nil, err
	}

	won := make(map[int64]bool, len(claimed))
	for _, id := range claimed {
		won[id] = true
	}
	out := rows[:0]
	for _, row := range rows {
		if won[row.ID] {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *Service) processBatch(ctx context.Context, rules *importer.RuleSet, rows []model.ImportRow) error {
	var submitted []int64
	for i, row := range rows {
		err := s.submitRow(ctx, rules, row)
		if err == nil {
			submitted = append(submitted, row.ID)
			continue
		}
		if ctx.Err() != nil {
			// Release the unsent rows so a later job picks them up
			s.release(rows[i:])
			break
		}

		s.log.Warn().Err(err).Int("row", row.RowIndex).Str("key", row.RecordKey).Msg("Row submission failed")
		msg := err.Error()
		if uerr := s.repo.UpdateRowsStatus(ctx, []int64{row.ID}, model.RowStatusFailed, &msg); uerr != nil {
			return uerr
		}
	}

	if err := s.repo.UpdateRowsStatus(context.WithoutCancel(ctx), submitted, model.RowStatusSubmitted, nil); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Service) release(rows []model.ImportRow) {
	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	if err := s.repo.UpdateRowsStatus(context.Background(), ids, model.RowStatusReady, nil); err != nil {
		s.log.Error().Err(err).Int("rows", len(ids)).Msg("Failed to release claimed rows")
	}
}

// submitRow retries retryable failures with a growing delay.
func (s *Service) submitRow(ctx context.Context, rules *importer.RuleSet, row model.ImportRow) error {
	fields, err := row.Fields()
	if err != nil {
		return err
	}
	body := Payload(rules, fields)

	attempts := s.cfg.ExternalAPI.Backend.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.ExternalAPI.Backend.RetryDelay * time.Duration(attempt)):
			}
		}

		_, err := s.client.SubmitRecord(ctx, rules.Resource, body)
		if err == nil {
			return nil
		}
		lastErr = err

		var rejected *RejectedError
		if stderrors.As(err, &rejected) || !errors.IsRetryable(err) {
			return err
		}
		s.log.Debug().Err(err).Int("attempt", attempt+1).Int("row", row.RowIndex).Msg("Retrying row")
	}

	return fmt.Errorf("max retries exhausted: %w", lastErr)
}

// Payload converts staged canonical fields to the backend's JSON body.
// Blank optional fields are omitted and numeric fields sent as numbers.
func Payload(rules *importer.RuleSet, fields map[string]string) map[string]interface{} {
	body := make(map[string]interface{}, len(fields))
	for _, f := range rules.Fields {
		v, ok := fields[f.Name]
		if !ok || v == "" {
			continue
		}
		if f.Kind == importer.KindNumber {
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				body[f.Name] = n
				continue
			}
		}
		body[f.Name] = v
	}
	return body
}
