package db

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedule-import-db/internal/model"
	"schedule-import-db/pkg/errors"
)

func TestUpdateRowsQuery(t *testing.T) {
	msg := "backend rejected"
	query, args, err := updateRowsQuery([]int64{4, 5, 6}, model.RowStatusFailed, &msg)
	require.NoError(t, err)

	assert.Contains(t, query, "WHERE id IN (?, ?, ?)")
	require.Len(t, args, 5)
	assert.Equal(t, model.RowStatusFailed, args[0])
	assert.Equal(t, int64(6), args[4])

	rebound := sqlx.Rebind(sqlx.DOLLAR, query)
	assert.Contains(t, rebound, "status = $1")
	assert.Contains(t, rebound, "IN ($3, $4, $5)")
}

func TestTally(t *testing.T) {
	counts := tally([]statusCount{
		{Status: model.RowStatusReady, N: 3},
		{Status: model.RowStatusRejected, N: 2},
		{Status: model.RowStatusSubmitted, N: 4},
		{Status: model.RowStatusFailed, N: 1},
		{Status: model.RowStatusSubmitting, N: 2},
	})

	assert.Equal(t, model.FileCounts{Total: 12, Accepted: 10, Rejected: 2, Submitted: 4, Failed: 1}, counts)
	assert.Equal(t, model.FileCounts{}, tally(nil))
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	id, err := repo.CreateFile(ctx, &model.File{Entity: "lecturer", Status: model.FileStatusUploaded})
	require.NoError(t, err)

	require.NoError(t, repo.InsertRows(ctx, id, []model.ImportRow{
		{RowIndex: 3, Status: model.RowStatusRejected},
		{RowIndex: 2, Status: model.RowStatusReady},
		{RowIndex: 4, Status: model.RowStatusReady},
	}))

	ready, err := repo.GetReadyRows(ctx, id, 1)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, 2, ready[0].RowIndex)

	require.NoError(t, repo.UpdateRowsStatus(ctx, []int64{ready[0].ID}, model.RowStatusSubmitted, nil))

	counts, err := repo.CountRows(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.FileCounts{Total: 3, Accepted: 2, Rejected: 1, Submitted: 1}, counts)

	all, err := repo.ListRows(ctx, id, "", 10, 1)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = repo.GetFile(ctx, id+1)
	assert.ErrorIs(t, err, errors.ErrFileNotFound)
}

func TestMemoryTransitionFileStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	id, err := repo.CreateFile(ctx, &model.File{Entity: "lecturer", Status: model.FileStatusParsedOK})
	require.NoError(t, err)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.TransitionFileStatus(ctx, id, model.FileStatusParsedOK, model.FileStatusSubmitting, nil)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)

	file, err := repo.GetFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusSubmitting, file.Status)

	_, err = repo.TransitionFileStatus(ctx, id+1, model.FileStatusParsedOK, model.FileStatusSubmitting, nil)
	assert.ErrorIs(t, err, errors.ErrFileNotFound)
}

func TestMemoryClaimRows(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	id, err := repo.CreateFile(ctx, &model.File{Entity: "lecturer", Status: model.FileStatusSubmitting})
	require.NoError(t, err)
	require.NoError(t, repo.InsertRows(ctx, id, []model.ImportRow{
		{RowIndex: 2, Status: model.RowStatusReady},
		{RowIndex: 3, Status: model.RowStatusReady},
		{RowIndex: 4, Status: model.RowStatusRejected},
	}))

	all, err := repo.ListRows(ctx, id, "", 10, 0)
	require.NoError(t, err)
	ids := make([]int64, 0, len(all))
	for _, r := range all {
		ids = append(ids, r.ID)
	}

	first, err := repo.ClaimRows(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, first, 2, "rejected rows are never claimed")

	second, err := repo.ClaimRows(ctx, ids)
	require.NoError(t, err)
	assert.Empty(t, second)

	ready, err := repo.GetReadyRows(ctx, id, 10)
	require.NoError(t, err)
	assert.Empty(t, ready)
}
