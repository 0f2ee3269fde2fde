package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"schedule-import-db/internal/model"
	"schedule-import-db/pkg/errors"
)

// MemoryRepository is a process local Repository for tests and dry runs.
type MemoryRepository struct {
	mu     sync.RWMutex
	files  map[int64]*model.File
	rows   map[int64]*model.ImportRow
	filePK int64
	rowPK  int64
}

var _ Repository = (*MemoryRepository)(nil) // interface compliance check

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		files: make(map[int64]*model.File),
		rows:  make(map[int64]*model.ImportRow),
	}
}

func (m *MemoryRepository) CreateFile(ctx context.Context, file *model.File) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.filePK++
	f := *file
	f.ID = m.filePK
	f.CreatedAt = time.Now()
	f.UpdatedAt = f.CreatedAt
	m.files[f.ID] = &f
	return f.ID, nil
}

func (m *MemoryRepository) GetFile(ctx context.Context, fileID int64) (*model.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[fileID]
	if !ok {
		return nil, errors.ErrFileNotFound
	}
	out := *f
	return &out, nil
}

func (m *MemoryRepository) UpdateFileStatus(ctx context.Context, fileID int64, status model.FileStatus, errorMessage *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[fileID]
	if !ok {
		return errors.ErrFileNotFound
	}
	f.Status = status
	f.ErrorMessage = errorMessage
	f.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) TransitionFileStatus(ctx context.Context, fileID int64, from, to model.FileStatus, errorMessage *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[fileID]
	if !ok {
		return false, errors.ErrFileNotFound
	}
	if f.Status != from {
		return false, nil
	}
	f.Status = to
	f.ErrorMessage = errorMessage
	f.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryRepository) UpdateFileCounts(ctx context.Context, fileID int64, counts model.FileCounts) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[fileID]
	if !ok {
		return errors.ErrFileNotFound
	}
	f.TotalRows = counts.Total
	f.AcceptedRows = counts.Accepted
	f.RejectedRows = counts.Rejected
	f.SubmittedRows = counts.Submitted
	f.FailedRows = counts.Failed
	f.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) InsertRows(ctx context.Context, fileID int64, rows []model.ImportRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, row := range rows {
		m.rowPK++
		r := row
		r.ID = m.rowPK
		r.FileID = fileID
		r.CreatedAt = now
		r.UpdatedAt = now
		m.rows[r.ID] = &r
	}
	return nil
}

// query returns the file's rows ordered by spreadsheet line.
func (m *MemoryRepository) query(fileID int64, status model.RowStatus) []model.ImportRow {
	rows := make([]model.ImportRow, 0)
	for _, r := range m.rows {
		if r.FileID == fileID && (status == "" || r.Status == status) {
			rows = append(rows, *r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowIndex < rows[j].RowIndex })
	return rows
}

func (m *MemoryRepository) ListRows(ctx context.Context, fileID int64, status model.RowStatus, limit, offset int) ([]model.ImportRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.query(fileID, status)
	if offset >= len(rows) {
		return []model.ImportRow{}, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *MemoryRepository) GetReadyRows(ctx context.Context, fileID int64, limit int) ([]model.ImportRow, error) {
	return m.ListRows(ctx, fileID, model.RowStatusReady, limit, 0)
}

func (m *MemoryRepository) UpdateRowsStatus(ctx context.Context, ids []int64, status model.RowStatus, errorMessage *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, id := range ids {
		if r, ok := m.rows[id]; ok {
			r.Status = status
			r.ErrorMessage = errorMessage
			r.UpdatedAt = now
		}
	}
	return nil
}

func (m *MemoryRepository) ClaimRows(ctx context.Context, ids []int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var claimed []int64
	for _, id := range ids {
		if r, ok := m.rows[id]; ok && r.Status == model.RowStatusReady {
			r.Status = model.RowStatusSubmitting
			r.UpdatedAt = now
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

func (m *MemoryRepository) CountRows(ctx context.Context, fileID int64) (model.FileCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byStatus := map[model.RowStatus]int{}
	for _, r := range m.query(fileID, "") {
		byStatus[r.Status]++
	}
	groups := make([]statusCount, 0, len(byStatus))
	for status, n := range byStatus {
		groups = append(groups, statusCount{Status: status, N: n})
	}
	return tally(groups), nil
}
