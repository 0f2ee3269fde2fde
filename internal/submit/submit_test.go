package submit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedule-import-db/internal/config"
	"schedule-import-db/internal/db"
	"schedule-import-db/internal/importer"
	"schedule-import-db/internal/model"
	"schedule-import-db/pkg/errors"
)

func testConfig(url string) *config.Config {
	cfg := &config.Config{}
	cfg.ExternalAPI.Backend = config.BackendConfig{
		BaseURL:       url,
		AuthEndpoint:  "/api/auth/login",
		Username:      "admin",
		Password:      "secret",
		TokenExpires:  time.Hour,
		Timeout:       5 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		Burst:         10,
	}
	cfg.Workers.Submit.BatchSize = 2
	return cfg
}

type backend struct {
	logins  int32
	creates int32
	handle  func(w http.ResponseWriter, body map[string]interface{}) bool
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/auth/login" {
		atomic.AddInt32(&b.logins, 1)
		json.NewEncoder(w).Encode(model.AuthTokenResponse{Token: "tok", ExpiresIn: 3600})
		return
	}
	if r.Header.Get("Authorization") != "Bearer tok" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	atomic.AddInt32(&b.creates, 1)
	var body map[string]interface{}
	json.NewDecoder(r.Body).Decode(&body)
	if b.handle != nil && b.handle(w, body) {
		return
	}
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte(`{"success":true,"id":1}`))
}

func TestClientSubmitRecord(t *testing.T) {
	b := &backend{handle: func(w http.ResponseWriter, body map[string]interface{}) bool {
		switch body["lecturer_id"] {
		case "DUP":
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"message":"Mã giảng viên đã tồn tại"}`))
			return true
		case "DOWN":
			w.WriteHeader(http.StatusServiceUnavailable)
			return true
		}
		return false
	}}
	srv := httptest.NewServer(b)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	client := NewClient(cfg, NewAuthManager(cfg))
	ctx := context.Background()

	resp, err := client.SubmitRecord(ctx, "lecturers", map[string]interface{}{"lecturer_id": "GV001"})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	_, err = client.SubmitRecord(ctx, "lecturers", map[string]interface{}{"lecturer_id": "GV002"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&b.logins), "token is cached")

	_, err = client.SubmitRecord(ctx, "lecturers", map[string]interface{}{"lecturer_id": "DUP"})
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusConflict, rejected.StatusCode)
	assert.Equal(t, "Mã giảng viên đã tồn tại", rejected.Message)
	assert.False(t, errors.IsRetryable(err))

	_, err = client.SubmitRecord(ctx, "lecturers", map[string]interface{}{"lecturer_id": "DOWN"})
	assert.True(t, errors.IsRetryable(err))
}

func TestAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewAuthManager(testConfig(srv.URL)).GetToken(context.Background())
	assert.ErrorIs(t, err, errors.ErrAuthenticationFailed)

	cfg := testConfig(srv.URL)
	cfg.ExternalAPI.Backend.Username = ""
	token, err := NewAuthManager(cfg).GetToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
}

func stageFile(t *testing.T, repo *db.MemoryRepository, status model.FileStatus, rows ...model.ImportRow) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := repo.CreateFile(ctx, &model.File{Entity: importer.EntityLecturer, Status: status})
	require.NoError(t, err)
	require.NoError(t, repo.InsertRows(ctx, id, rows))
	return id
}

func readyRow(line int, id string) model.ImportRow {
	payload, _ := json.Marshal(map[string]string{"lecturer_id": id, "name": "Nguyễn Văn An", "address": ""})
	return model.ImportRow{RowIndex: line, RecordKey: id, Payload: string(payload), Status: model.RowStatusReady}
}

func TestProcessSubmitJob(t *testing.T) {
	var downOnce int32
	b := &backend{handle: func(w http.ResponseWriter, body map[string]interface{}) bool {
		assert.NotContains(t, body, "address", "blank optional fields are omitted")
		switch body["lecturer_id"] {
		case "GV003":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid department"}`))
			return true
		case "GV004":
			if atomic.AddInt32(&downOnce, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return true
			}
		case "REJ":
			t.Error("rejected row must never be submitted")
		}
		return false
	}}
	srv := httptest.NewServer(b)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	repo := db.NewMemoryRepository()
	svc := NewService(cfg, repo, NewClient(cfg, NewAuthManager(cfg)))

	rejected := readyRow(6, "REJ")
	rejected.Status = model.RowStatusRejected
	fileID := stageFile(t, repo, model.FileStatusParsedOK,
		readyRow(2, "GV001"), readyRow(3, "GV002"), readyRow(4, "GV003"), readyRow(5, "GV004"), rejected)

	require.NoError(t, svc.ProcessSubmitJob(context.Background(), model.SubmitJob{FileID: fileID}))

	file, err := repo.GetFile(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusSubmitted, file.Status)
	assert.Equal(t, 5, file.TotalRows)
	assert.Equal(t, 3, file.SubmittedRows)
	assert.Equal(t, 1, file.FailedRows)
	assert.Equal(t, 1, file.RejectedRows)
	require.NotNil(t, file.ErrorMessage)

	failed, err := repo.ListRows(context.Background(), fileID, model.RowStatusFailed, 10, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "GV003", failed[0].RecordKey)
	assert.Contains(t, *failed[0].ErrorMessage, "invalid department")
}

type slowSubmitter struct {
	mu    sync.Mutex
	posts map[string]int
}

func (s *slowSubmitter) SubmitRecord(ctx context.Context, resource string, payload map[string]interface{}) (*model.SubmitResponse, error) {
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[payload["lecturer_id"].(string)]++
	return &model.SubmitResponse{Success: true}, nil
}

func TestProcessSubmitJobConcurrent(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	repo := db.NewMemoryRepository()
	client := &slowSubmitter{posts: map[string]int{}}
	svc := NewService(cfg, repo, client)

	fileID := stageFile(t, repo, model.FileStatusParsedOK,
		readyRow(2, "GV001"), readyRow(3, "GV002"), readyRow(4, "GV003"), readyRow(5, "GV004"))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.ProcessSubmitJob(context.Background(), model.SubmitJob{FileID: fileID}))
		}()
	}
	wg.Wait()

	assert.Equal(t, map[string]int{"GV001": 1, "GV002": 1, "GV003": 1, "GV004": 1}, client.posts)

	file, err := repo.GetFile(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusSubmitted, file.Status)
	assert.Equal(t, 4, file.SubmittedRows)

	// A replayed job is refused once the file is submitted
	err = svc.ProcessSubmitJob(context.Background(), model.SubmitJob{FileID: fileID})
	assert.ErrorIs(t, err, errors.ErrFileNotReady)
	assert.Len(t, client.posts, 4)
}

func TestProcessSubmitJobNotReady(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	repo := db.NewMemoryRepository()
	svc := NewService(cfg, repo, NewClient(cfg, NewAuthManager(cfg)))

	fileID := stageFile(t, repo, model.FileStatusParsedFail, readyRow(2, "GV001"))
	err := svc.ProcessSubmitJob(context.Background(), model.SubmitJob{FileID: fileID})
	assert.ErrorIs(t, err, errors.ErrFileNotReady)

	err = svc.ProcessSubmitJob(context.Background(), model.SubmitJob{FileID: 999})
	assert.ErrorIs(t, err, errors.ErrFileNotFound)
}

func TestPayload(t *testing.T) {
	rules, _ := importer.Lookup(importer.EntityCourse)
	body := Payload(rules, map[string]string{
		"course_id":   "CS101",
		"credits":     "3",
		"description": "",
		"unknown":     "x",
	})
	assert.Equal(t, map[string]interface{}{"course_id": "CS101", "credits": float64(3)}, body)
}
