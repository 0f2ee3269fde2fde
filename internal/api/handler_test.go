package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"schedule-import-db/internal/config"
	"schedule-import-db/internal/db"
	"schedule-import-db/internal/importer"
	"schedule-import-db/internal/model"
	"schedule-import-db/internal/storage"
)

type recordingProducer struct {
	mu        sync.Mutex
	err       error
	ingestion []model.IngestionJob
	submit    []model.SubmitJob
}

func (p *recordingProducer) EnqueueIngestionJob(ctx context.Context, job model.IngestionJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.ingestion = append(p.ingestion, job)
	return nil
}

func (p *recordingProducer) EnqueueSubmitJob(ctx context.Context, job model.SubmitJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.submit = append(p.submit, job)
	return nil
}

type fixedExisting struct{ set *importer.KeySet }

func (f fixedExisting) ExistingSet(ctx context.Context, rules *importer.RuleSet) (*importer.KeySet, error) {
	return f.set, nil
}

type env struct {
	router   *gin.Engine
	repo     *db.MemoryRepository
	store    *storage.MemoryStorage
	producer *recordingProducer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Server.MaxUploadSize = 1 << 20
	cfg.Import.Timezone = config.DefaultTimezone

	existing := importer.NewKeySet()
	existing.Add("lecturer_id", "GV001")

	e := &env{
		repo:     db.NewMemoryRepository(),
		store:    storage.NewMemoryStorage(),
		producer: &recordingProducer{},
	}
	handler := NewHandler(cfg, e.repo, e.producer, e.store, fixedExisting{set: existing})
	e.router = NewRouter(handler, nil)
	return e
}

func (e *env) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func lecturerWorkbook(t *testing.T, headers []string, ids ...string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &header))
	for i, id := range ids {
		row := []interface{}{
			id, "Phạm Minh Châu", "chau@uni.edu.vn", "1985-11-20", "Nam", "Cần Thơ",
			"0987654321", "Hóa học", "2010-02-01", "PGS", "active",
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func multipartFile(t *testing.T, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func lecturerHeaders() []string {
	rules, _ := importer.Lookup(importer.EntityLecturer)
	return rules.Headers()
}

func TestEntitiesAndTemplate(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/entities", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Entities []model.EntityInfo `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Entities, 4)

	w = e.do(t, http.MethodGet, "/api/v1/entities/course/template", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, storage.XLSXContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "course_template.xlsx")

	w = e.do(t, http.MethodGet, "/api/v1/entities/room/template", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPreview(t *testing.T) {
	e := newEnv(t)

	body, ct := multipartFile(t, "giangvien.xlsx", lecturerWorkbook(t, lecturerHeaders(), "GV001", "GV002", "GV003"))
	w := e.do(t, http.MethodPost, "/api/v1/entities/lecturer/preview", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var preview model.PreviewResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &preview))
	assert.Equal(t, 3, preview.Summary.Total)
	assert.Equal(t, 2, preview.Summary.Accepted)
	require.Len(t, preview.Rows, 3)
	assert.Equal(t, []importer.ErrorCode{importer.ErrDuplicateID}, preview.Rows[0].Errors)
	assert.Equal(t, model.RowStatusRejected, preview.Rows[0].Status)
	assert.Equal(t, "Phó giáo sư", preview.Rows[1].Fields["degree"])
	assert.Empty(t, preview.Rows[1].Errors)

	assert.Empty(t, e.producer.ingestion, "preview never queues work")

	body, ct = multipartFile(t, "giangvien.xlsx", lecturerWorkbook(t, lecturerHeaders(), "GV002"))
	w = e.do(t, http.MethodPost, "/api/v1/entities/lecturer/preview?format=xlsx", body, ct)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "lecturer_preview.xlsx")
}

func TestPreviewFileErrors(t *testing.T) {
	e := newEnv(t)

	t.Run("header mismatch", func(t *testing.T) {
		headers := lecturerHeaders()
		headers[1], headers[2] = headers[2], headers[1]
		body, ct := multipartFile(t, "x.xlsx", lecturerWorkbook(t, headers, "GV002"))
		w := e.do(t, http.MethodPost, "/api/v1/entities/lecturer/preview", body, ct)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp["expected_headers"], 11)
	})

	t.Run("header only", func(t *testing.T) {
		body, ct := multipartFile(t, "x.xlsx", lecturerWorkbook(t, lecturerHeaders()))
		w := e.do(t, http.MethodPost, "/api/v1/entities/lecturer/preview", body, ct)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("wrong extension", func(t *testing.T) {
		body, ct := multipartFile(t, "x.csv", []byte("a,b\n"))
		w := e.do(t, http.MethodPost, "/api/v1/entities/lecturer/preview", body, ct)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not a workbook", func(t *testing.T) {
		body, ct := multipartFile(t, "x.xlsx", []byte("definitely not zip"))
		w := e.do(t, http.MethodPost, "/api/v1/entities/lecturer/preview", body, ct)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing file field", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/api/v1/entities/lecturer/preview", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUploadStatusCommit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	body, ct := multipartFile(t, "giangvien.xlsx", lecturerWorkbook(t, lecturerHeaders(), "GV002"))
	w := e.do(t, http.MethodPost, "/api/v1/entities/lecturer/imports", body, ct)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Len(t, e.producer.ingestion, 1)
	job := e.producer.ingestion[0]
	assert.Equal(t, importer.EntityLecturer, job.Entity)
	ok, err := e.store.Exists(ctx, job.S3Path)
	require.NoError(t, err)
	assert.True(t, ok)

	path := "/api/v1/imports/" + strconv.FormatInt(job.FileID, 10)

	w = e.do(t, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var status model.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, model.FileStatusUploaded, status.Status)
	assert.Equal(t, "giangvien.xlsx", status.FileName)

	// Not parsed yet
	w = e.do(t, http.MethodPost, path+"/commit", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// Simulate the ingestion worker
	require.NoError(t, e.repo.InsertRows(ctx, job.FileID, []model.ImportRow{
		{RowIndex: 2, Payload: `{"lecturer_id":"GV002"}`, Status: model.RowStatusReady},
		{RowIndex: 3, Payload: `{"lecturer_id":"GV001"}`, ErrorCodes: "duplicate_id", Messages: "Mã giảng viên: Mã đã tồn tại", Status: model.RowStatusRejected},
	}))
	require.NoError(t, e.repo.UpdateFileCounts(ctx, job.FileID, model.FileCounts{Total: 2, Accepted: 1, Rejected: 1}))
	require.NoError(t, e.repo.UpdateFileStatus(ctx, job.FileID, model.FileStatusParsedOK, nil))

	w = e.do(t, http.MethodGet, path+"/rows?status=rejected", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var rows struct {
		Rows []model.PreviewRow `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows.Rows, 1)
	assert.Equal(t, 3, rows.Rows[0].Row)
	assert.Equal(t, []importer.ErrorCode{importer.ErrDuplicateID}, rows.Rows[0].Errors)

	w = e.do(t, http.MethodGet, path+"/rows?status=bogus", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, path+"/commit", nil, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, e.producer.submit, 1)
	assert.Equal(t, job.FileID, e.producer.submit[0].FileID)

	file, err := e.repo.GetFile(ctx, job.FileID)
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusSubmitting, file.Status)

	// A second commit is refused while submitting
	w = e.do(t, http.MethodPost, path+"/commit", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestConcurrentCommit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	fileID, err := e.repo.CreateFile(ctx, &model.File{Entity: importer.EntityLecturer, Status: model.FileStatusParsedOK})
	require.NoError(t, err)
	require.NoError(t, e.repo.UpdateFileCounts(ctx, fileID, model.FileCounts{Total: 1, Accepted: 1}))
	path := "/api/v1/imports/" + strconv.FormatInt(fileID, 10) + "/commit"

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[int]int{}
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			e.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
			mu.Lock()
			codes[w.Code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, map[int]int{http.StatusAccepted: 1, http.StatusConflict: 5}, codes)
	assert.Len(t, e.producer.submit, 1)
}

func TestCommitEnqueueFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.producer.err = stderrors.New("redis down")

	fileID, err := e.repo.CreateFile(ctx, &model.File{Entity: importer.EntityLecturer, Status: model.FileStatusParsedOK})
	require.NoError(t, err)
	require.NoError(t, e.repo.UpdateFileCounts(ctx, fileID, model.FileCounts{Total: 1, Accepted: 1}))

	w := e.do(t, http.MethodPost, "/api/v1/imports/"+strconv.FormatInt(fileID, 10)+"/commit", nil, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	file, err := e.repo.GetFile(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusParsedOK, file.Status, "file stays committable")
}

type failingCreate struct {
	*db.MemoryRepository
}

func (failingCreate) CreateFile(ctx context.Context, file *model.File) (int64, error) {
	return 0, stderrors.New("database is gone")
}

func TestUploadFailuresCleanUp(t *testing.T) {
	t.Run("enqueue fails", func(t *testing.T) {
		e := newEnv(t)
		e.producer.err = stderrors.New("redis down")

		body, ct := multipartFile(t, "giangvien.xlsx", lecturerWorkbook(t, lecturerHeaders(), "GV002"))
		w := e.do(t, http.MethodPost, "/api/v1/entities/lecturer/imports", body, ct)
		require.Equal(t, http.StatusInternalServerError, w.Code)

		file, err := e.repo.GetFile(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, model.FileStatusParsedFail, file.Status)
		require.NotNil(t, file.ErrorMessage)
		assert.Contains(t, *file.ErrorMessage, "redis down")
		assert.Empty(t, e.store.Keys())
	})

	t.Run("create fails", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		cfg := &config.Config{}
		cfg.Server.MaxUploadSize = 1 << 20
		cfg.Import.Timezone = config.DefaultTimezone
		store := storage.NewMemoryStorage()
		producer := &recordingProducer{}

		handler := NewHandler(cfg, failingCreate{db.NewMemoryRepository()}, producer, store, nil)
		body, ct := multipartFile(t, "giangvien.xlsx", lecturerWorkbook(t, lecturerHeaders(), "GV002"))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/entities/lecturer/imports", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		NewRouter(handler, nil).ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Empty(t, store.Keys())
		assert.Empty(t, producer.ingestion)
	})
}

func TestImportNotFound(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/imports/42", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/imports/abc", nil, "").Code)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(), LoggingMiddleware(), CORSMiddleware([]string{"http://admin.local"}))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	req := httptest.NewRequest(http.MethodOptions, "/ok", nil)
	req.Header.Set("Origin", "http://admin.local")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://admin.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("Origin", "http://evil.local")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

type stubQueues struct {
	depths map[string]int64
	err    error
}

func (s stubQueues) Depths(ctx context.Context) (map[string]int64, error) {
	return s.depths, s.err
}

func TestHealthQueues(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.Import.Timezone = config.DefaultTimezone

	healthy := NewHandler(cfg, db.NewMemoryRepository(), &recordingProducer{}, storage.NewMemoryStorage(), nil).
		WithQueueMonitor(stubQueues{depths: map[string]int64{"import:ingestion": 3}})
	w := httptest.NewRecorder()
	NewRouter(healthy, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status string           `json:"status"`
		Queues map[string]int64 `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, int64(3), body.Queues["import:ingestion"])

	down := NewHandler(cfg, db.NewMemoryRepository(), &recordingProducer{}, storage.NewMemoryStorage(), nil).
		WithQueueMonitor(stubQueues{err: stderrors.New("connection refused")})
	w = httptest.NewRecorder()
	NewRouter(down, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}
