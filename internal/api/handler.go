package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"schedule-import-db/internal/config"
	"schedule-import-db/internal/db"
	"schedule-import-db/internal/excel"
	"schedule-import-db/internal/importer"
	"schedule-import-db/internal/logger"
	"schedule-import-db/internal/model"
	"schedule-import-db/internal/queue"
	"schedule-import-db/internal/storage"
	"schedule-import-db/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ExistingSource snapshots what the backend already holds for an entity.
type ExistingSource interface {
	ExistingSet(ctx context.Context, rules *importer.RuleSet) (*importer.KeySet, error)
}

// QueueMonitor reports pending jobs per queue name.
type QueueMonitor interface {
	Depths(ctx context.Context) (map[string]int64, error)
}

type Handler struct {
	repo     db.Repository
	queues   QueueMonitor
	producer queue.JobProducer
	storage  storage.Storage
	existing ExistingSource
	strategy excel.ParsingStrategy
	cfg      *config.Config
	log      zerolog.Logger
}

func NewHandler(
	cfg *config.Config,
	repo db.Repository,
	producer queue.JobProducer,
	store storage.Storage,
	existing ExistingSource,
) *Handler {
	return &Handler{
		repo:     repo,
		producer: producer,
		storage:  store,
		existing: existing,
		strategy: excel.NewExcelStrategy(cfg.Import.MaxRows, cfg.Now),
		cfg:      cfg,
		log:      logger.Component("api"),
	}
}

// WithQueueMonitor makes the health check report queue depths.
func (h *Handler) WithQueueMonitor(m QueueMonitor) *Handler {
	h.queues = m
	return h
}

func (h *Handler) HealthCheck(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"service": h.cfg.App.Name,
		"version": h.cfg.App.Version,
	}
	if h.queues == nil {
		c.JSON(http.StatusOK, body)
		return
	}

	depths, err := h.queues.Depths(c.Request.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("Queue health check failed")
		body["status"] = "degraded"
		body["error"] = "queue unavailable"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["queues"] = depths
	c.JSON(http.StatusOK, body)
}

func (h *Handler) ListEntities(c *gin.Context) {
	names := importer.Entities()
	out := make([]model.EntityInfo, 0, len(names))
	for _, name := range names {
		rules, _ := importer.Lookup(name)
		out = append(out, model.NewEntityInfo(rules))
	}
	c.JSON(http.StatusOK, gin.H{"entities": out})
}

func (h *Handler) DownloadTemplate(c *gin.Context) {
	rules, ok := h.rules(c)
	if !ok {
		return
	}

	data, err := excel.Template(rules)
	if err != nil {
		h.log.Error().Err(err).Str("entity", rules.Entity).Msg("Failed to build template")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	attachment(c, rules.Entity+"_template.xlsx", data)
}

// Preview reconciles an upload synchronously without staging anything.
func (h *Handler) Preview(c *gin.Context) {
	rules, ok := h.rules(c)
	if !ok {
		return
	}
	data, _, ok := h.readUpload(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	existing, err := h.existing.ExistingSet(ctx, rules)
	if err != nil {
		h.log.Error().Err(err).Str("entity", rules.Entity).Msg("Failed to load existing records")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not load existing records from the scheduling backend"})
		return
	}

	records, err := h.strategy.Process(ctx, rules, data, existing)
	if err != nil {
		h.fileError(c, rules, err)
		return
	}

	if c.Query("format") == "xlsx" {
		report, err := excel.WriteReport(rules, records)
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to write preview report")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		attachment(c, rules.Entity+"_preview.xlsx", report)
		return
	}

	c.JSON(http.StatusOK, model.NewPreviewResponse(rules, records))
}

// Upload stores the workbook and queues it for background reconciliation.
func (h *Handler) Upload(c *gin.Context) {
	rules, ok := h.rules(c)
	if !ok {
		return
	}
	data, name, ok := h.readUpload(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	key := storage.ObjectKey(h.cfg.Storage.S3.Prefix, rules.Entity, name, h.cfg.Now())
	if err := h.storage.Upload(ctx, key, data, storage.XLSXContentType); err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("Failed to store upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
		return
	}

	fileID, err := h.repo.CreateFile(ctx, &model.File{
		Entity:       rules.Entity,
		OriginalName: name,
		S3Path:       key,
		Status:       model.FileStatusUploaded,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to record upload")
		h.discardObject(ctx, key)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	job := model.IngestionJob{FileID: fileID, Entity: rules.Entity, S3Path: key}
	if err := h.producer.EnqueueIngestionJob(ctx, job); err != nil {
		h.log.Error().Err(err).Int64("file_id", fileID).Msg("Failed to enqueue ingestion job")
		msg := "Failed to queue import: " + err.Error()
		if uerr := h.repo.UpdateFileStatus(ctx, fileID, model.FileStatusParsedFail, &msg); uerr != nil {
			h.log.Error().Err(uerr).Int64("file_id", fileID).Msg("Failed to update file status")
		}
		h.discardObject(ctx, key)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue import"})
		return
	}

	h.log.Info().Int64("file_id", fileID).Str("entity", rules.Entity).Str("file", name).Msg("Import queued")
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Import queued",
		"file_id": fileID,
		"status":  model.FileStatusUploaded,
	})
}

func (h *Handler) GetStatus(c *gin.Context) {
	file, ok := h.file(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, model.NewStatusResponse(file))
}

func (h *Handler) ListRows(c *gin.Context) {
	file, ok := h.file(c)
	if !ok {
		return
	}

	status := model.RowStatus(strings.ToUpper(c.Query("status")))
	switch status {
	case "", model.RowStatusReady, model.RowStatusRejected, model.RowStatusSubmitting,
		model.RowStatusSubmitted, model.RowStatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
		return
	}

	limit := queryInt(c, "limit", 100)
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	staged, err := h.repo.ListRows(c.Request.Context(), file.ID, status, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Int64("file_id", file.ID).Msg("Failed to list rows")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	rows := make([]model.PreviewRow, 0, len(staged))
	for _, r := range staged {
		row, err := model.RowFromStaged(r)
		if err != nil {
			h.log.Error().Err(err).Int64("file_id", file.ID).Msg("Corrupt staged row")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		rows = append(rows, row)
	}

	c.JSON(http.StatusOK, gin.H{
		"file_id": file.ID,
		"status":  status,
		"limit":   limit,
		"offset":  offset,
		"rows":    rows,
	})
}

// Commit is the user's confirmation; only accepted rows are then submitted.
func (h *Handler) Commit(c *gin.Context) {
	file, ok := h.file(c)
	if !ok {
		return
	}

	if !file.Committable() {
		c.JSON(http.StatusConflict, gin.H{
			"error":    "File is not ready for submission",
			"status":   file.Status,
			"accepted": file.AcceptedRows,
		})
		return
	}

	ctx := c.Request.Context()
	won, err := h.repo.TransitionFileStatus(ctx, file.ID, model.FileStatusParsedOK, model.FileStatusSubmitting, nil)
	if err != nil {
		h.log.Error().Err(err).Int64("file_id", file.ID).Msg("Failed to update file status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !won {
		// A concurrent commit got there first
		c.JSON(http.StatusConflict, gin.H{"error": "File is not ready for submission", "status": model.FileStatusSubmitting})
		return
	}

	job := model.SubmitJob{FileID: file.ID, Entity: file.Entity}
	if err := h.producer.EnqueueSubmitJob(ctx, job); err != nil {
		h.log.Error().Err(err).Int64("file_id", file.ID).Msg("Failed to enqueue submit job")
		// Return the file to a committable state
		if _, uerr := h.repo.TransitionFileStatus(ctx, file.ID, model.FileStatusSubmitting, model.FileStatusParsedOK, nil); uerr != nil {
			h.log.Error().Err(uerr).Int64("file_id", file.ID).Msg("Failed to reset file status")
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue submission"})
		return
	}

	h.log.Info().Int64("file_id", file.ID).Int("accepted", file.AcceptedRows).Msg("Submit job enqueued")
	c.JSON(http.StatusAccepted, gin.H{
		"message":  "Submission queued",
		"job":      job,
		"accepted": file.AcceptedRows,
	})
}

// discardObject removes an upload that will never be ingested.
func (h *Handler) discardObject(ctx context.Context, key string) {
	if err := h.storage.Delete(ctx, key); err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("Failed to delete orphaned upload")
	}
}

func (h *Handler) rules(c *gin.Context) (*importer.RuleSet, bool) {
	entity := c.Param("entity")
	rules, ok := importer.Lookup(entity)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":    errors.ErrUnknownEntity.Error(),
			"entity":   entity,
			"entities": importer.Entities(),
		})
		return nil, false
	}
	return rules, true
}

func (h *Handler) file(c *gin.Context) (*model.File, bool) {
	fileID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file ID"})
		return nil, false
	}

	file, err := h.repo.GetFile(c.Request.Context(), fileID)
	if err != nil {
		if stderrors.Is(err, errors.ErrFileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return nil, false
		}
		h.log.Error().Err(err).Int64("file_id", fileID).Msg("Failed to get file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return nil, false
	}
	return file, true
}

// readUpload reads the multipart "file" field within the size limit.
func (h *Handler) readUpload(c *gin.Context) ([]byte, string, bool) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing multipart field \"file\""})
		return nil, "", false
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".xlsx" && ext != ".xlsm" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errors.ErrInvalidFileFormat.Error(), "file": header.Filename})
		return nil, "", false
	}

	limit := h.cfg.Server.MaxUploadSize
	if limit > 0 && header.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": errors.ErrFileTooLarge.Error(), "limit": limit})
		return nil, "", false
	}

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read upload"})
		return nil, "", false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read upload"})
		return nil, "", false
	}
	return data, header.Filename, true
}

// fileError maps batch level failures. Row level problems never get here.
func (h *Handler) fileError(c *gin.Context, rules *importer.RuleSet, err error) {
	var mismatch *errors.HeaderMismatchError
	switch {
	case stderrors.As(err, &mismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":            err.Error(),
			"expected_headers": mismatch.Expected,
			"actual_headers":   mismatch.Actual,
		})
	case stderrors.Is(err, errors.ErrEmptyFile):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":            err.Error(),
			"expected_headers": rules.Headers(),
		})
	case stderrors.Is(err, errors.ErrFileTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	default:
		h.log.Warn().Err(err).Str("entity", rules.Entity).Msg("Unreadable workbook")
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", errors.ErrInvalidFileFormat, err)})
	}
}

func attachment(c *gin.Context, name string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, storage.XLSXContentType, data)
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}
