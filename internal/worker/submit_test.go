package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedule-import-db/internal/config"
	"schedule-import-db/internal/db"
	"schedule-import-db/internal/importer"
	"schedule-import-db/internal/logger"
	"schedule-import-db/internal/model"
	"schedule-import-db/internal/submit"
)

type noopSubmitter struct{}

func (noopSubmitter) SubmitRecord(ctx context.Context, resource string, payload map[string]interface{}) (*model.SubmitResponse, error) {
	return &model.SubmitResponse{Success: true}, nil
}

func TestSubmitHandleMessageDeadLetters(t *testing.T) {
	cfg := &config.Config{}
	repo := db.NewMemoryRepository()
	dlq := &deadLetters{}
	w := &SubmitWorker{
		cfg:           cfg,
		repo:          repo,
		submitService: submit.NewService(cfg, repo, noopSubmitter{}),
		workerPool:    NewWorkerPool(1),
		deadLetter:    dlq.push,
		log:           logger.Component("submit-worker"),
	}
	ctx := context.Background()

	broken, err := repo.CreateFile(ctx, &model.File{Entity: "timetable", Status: model.FileStatusSubmitting})
	require.NoError(t, err)
	done, err := repo.CreateFile(ctx, &model.File{Entity: importer.EntityLecturer, Status: model.FileStatusSubmitted})
	require.NoError(t, err)

	w.workerPool.Start(ctx)
	for _, id := range []int64{broken, done} {
		data, err := json.Marshal(model.SubmitJob{FileID: id})
		require.NoError(t, err)
		require.NoError(t, w.handleMessage(ctx, data))
	}
	w.Stop()

	require.Len(t, dlq.messages, 1, "a refused replay is not dead-lettered")
	var parked model.SubmitJob
	require.NoError(t, json.Unmarshal(dlq.messages[0], &parked))
	assert.Equal(t, broken, parked.FileID)

	file, err := repo.GetFile(ctx, broken)
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusParsedOK, file.Status, "failed submit leaves the file committable")
}
