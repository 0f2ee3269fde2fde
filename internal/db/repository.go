package db

import (
	"context"
	"database/sql"
	stderrors "errors"

	"schedule-import-db/internal/model"
	apperrors "schedule-import-db/pkg/errors"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateFile(ctx context.Context, file *model.File) (int64, error)
	GetFile(ctx context.Context, fileID int64) (*model.File, error)
	UpdateFileStatus(ctx context.Context, fileID int64, status model.FileStatus, errorMessage *string) error
	// TransitionFileStatus moves the file from one status to another only if
	// it is still in from. It reports whether the change was made.
	TransitionFileStatus(ctx context.Context, fileID int64, from, to model.FileStatus, errorMessage *string) (bool, error)
	UpdateFileCounts(ctx context.Context, fileID int64, counts model.FileCounts) error
	InsertRows(ctx context.Context, fileID int64, rows []model.ImportRow) error
	ListRows(ctx context.Context, fileID int64, status model.RowStatus, limit, offset int) ([]model.ImportRow, error)
	GetReadyRows(ctx context.Context, fileID int64, limit int) ([]model.ImportRow, error)
	UpdateRowsStatus(ctx context.Context, ids []int64, status model.RowStatus, errorMessage *string) error
	// ClaimRows marks READY rows SUBMITTING and returns the ids this caller
	// won. Rows already claimed elsewhere are left out.
	ClaimRows(ctx context.Context, ids []int64) ([]int64, error)
	CountRows(ctx context.Context, fileID int64) (model.FileCounts, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository wraps db. Queries are written with '?' and rebound to the
// driver's placeholder style.
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const fileColumns = `id, entity, original_name, s3_path, status, total_rows, accepted_rows,
	rejected_rows, submitted_rows, failed_rows, error_message, created_at, updated_at`

const rowColumns = `id, file_id, row_index, record_key, payload, error_codes, messages,
	status, error_message, created_at, updated_at`

func (r *repository) CreateFile(ctx context.Context, file *model.File) (int64, error) {
	query := `INSERT INTO import_files (entity, original_name, s3_path, status, created_at, updated_at)
			  VALUES (?, ?, ?, ?, NOW(), NOW())`
	args := []interface{}{file.Entity, file.OriginalName, file.S3Path, file.Status}

	// lib/pq has no LastInsertId
	if r.db.DriverName() == "postgres" {
		var id int64
		if err := r.db.QueryRowxContext(ctx, r.db.Rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, errors.Wrap(err, "insert import file")
		}
		return id, nil
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, errors.Wrap(err, "insert import file")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "read import file id")
	}
	return id, nil
}

func (r *repository) GetFile(ctx context.Context, fileID int64) (*model.File, error) {
	query := r.db.Rebind(`SELECT ` + fileColumns + ` FROM import_files WHERE id = ?`)

	var file model.File
	if err := r.db.GetContext(ctx, &file, query, fileID); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrFileNotFound
		}
		return nil, errors.Wrapf(err, "get import file %d", fileID)
	}
	return &file, nil
}

func (r *repository) UpdateFileStatus(ctx context.Context, fileID int64, status model.FileStatus, errorMessage *string) error {
	query := r.db.Rebind(`UPDATE import_files SET status = ?, error_message = ?, updated_at = NOW() WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, status, errorMessage, fileID)
	return errors.Wrapf(err, "update status of import file %d", fileID)
}

func (r *repository) TransitionFileStatus(ctx context.Context, fileID int64, from, to model.FileStatus, errorMessage *string) (bool, error) {
	query := r.db.Rebind(`UPDATE import_files SET status = ?, error_message = ?, updated_at = NOW()
			  WHERE id = ? AND status = ?`)
	res, err := r.db.ExecContext(ctx, query, to, errorMessage, fileID, from)
	if err != nil {
		return false, errors.Wrapf(err, "move import file %d from %s to %s", fileID, from, to)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "read affected rows")
	}
	return n == 1, nil
}

func (r *repository) UpdateFileCounts(ctx context.Context, fileID int64, counts model.FileCounts) error {
	query := r.db.Rebind(`UPDATE import_files SET total_rows = ?, accepted_rows = ?, rejected_rows = ?,
			  submitted_rows = ?, failed_rows = ?, updated_at = NOW() WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query,
		counts.Total, counts.Accepted, counts.Rejected, counts.Submitted, counts.Failed, fileID)
	return errors.Wrapf(err, "update counts of import file %d", fileID)
}

func (r *repository) InsertRows(ctx context.Context, fileID int64, rows []model.ImportRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin insert rows")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `INSERT INTO import_rows
		(file_id, row_index, record_key, payload, error_codes, messages, status, created_at, updated_at)
		VALUES (:file_id, :row_index, :record_key, :payload, :error_codes, :messages, :status, NOW(), NOW())`)
	if err != nil {
		return errors.Wrap(err, "prepare insert rows")
	}
	defer stmt.Close()

	for _, row := range rows {
		row.FileID = fileID
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return errors.Wrapf(err, "insert row %d", row.RowIndex)
		}
	}

	return errors.Wrap(tx.Commit(), "commit insert rows")
}

func (r *repository) ListRows(ctx context.Context, fileID int64, status model.RowStatus, limit, offset int) ([]model.ImportRow, error) {
	query := `SELECT ` + rowColumns + ` FROM import_rows WHERE file_id = ?`
	args := []interface{}{fileID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY row_index LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows := []model.ImportRow{}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrapf(err, "list rows of import file %d", fileID)
	}
	return rows, nil
}

func (r *repository) GetReadyRows(ctx context.Context, fileID int64, limit int) ([]model.ImportRow, error) {
	query := r.db.Rebind(`SELECT ` + rowColumns + ` FROM import_rows
			  WHERE file_id = ? AND status = ? ORDER BY row_index LIMIT ?`)

	var rows []model.ImportRow
	if err := r.db.SelectContext(ctx, &rows, query, fileID, model.RowStatusReady, limit); err != nil {
		return nil, errors.Wrapf(err, "get ready rows of import file %d", fileID)
	}
	return rows, nil
}

func (r *repository) UpdateRowsStatus(ctx context.Context, ids []int64, status model.RowStatus, errorMessage *string) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := updateRowsQuery(ids, status, errorMessage)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	return errors.Wrap(err, "update row status")
}

func (r *repository) ClaimRows(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin claim rows")
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, r.db.Rebind(`UPDATE import_rows SET status = ?, updated_at = NOW()
			  WHERE id = ? AND status = ?`))
	if err != nil {
		return nil, errors.Wrap(err, "prepare claim rows")
	}
	defer stmt.Close()

	claimed := make([]int64, 0, len(ids))
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, model.RowStatusSubmitting, id, model.RowStatusReady)
		if err != nil {
			return nil, errors.Wrapf(err, "claim row %d", id)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			claimed = append(claimed, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit claim rows")
	}
	return claimed, nil
}

// updateRowsQuery expands the id list; the result still uses '?' placeholders.
func updateRowsQuery(ids []int64, status model.RowStatus, errorMessage *string) (string, []interface{}, error) {
	query, args, err := sqlx.In(`UPDATE import_rows SET status = ?, error_message = ?, updated_at = NOW()
			  WHERE id IN (?)`, status, errorMessage, ids)
	if err != nil {
		return "", nil, errors.Wrap(err, "expand row ids")
	}
	return query, args, nil
}

func (r *repository) CountRows(ctx context.Context, fileID int64) (model.FileCounts, error) {
	query := r.db.Rebind(`SELECT status, COUNT(*) AS n FROM import_rows WHERE file_id = ? GROUP BY status`)

	var groups []statusCount
	if err := r.db.SelectContext(ctx, &groups, query, fileID); err != nil {
		return model.FileCounts{}, errors.Wrapf(err, "count rows of import file %d", fileID)
	}
	return tally(groups), nil
}

type statusCount struct {
	Status model.RowStatus `db:"status"`
	N      int             `db:"n"`
}

// tally folds per-status counts; submitted and failed rows were accepted.
func tally(groups []statusCount) model.FileCounts {
	var c model.FileCounts
	for _, g := range groups {
		c.Total += g.N
		switch g.Status {
		case model.RowStatusReady:
			c.Accepted += g.N
		case model.RowStatusRejected:
			c.Rejected += g.N
		case model.RowStatusSubmitting:
			c.Accepted += g.N
		case model.RowStatusSubmitted:
			c.Accepted += g.N
			c.Submitted += g.N
		case model.RowStatusFailed:
			c.Accepted += g.N
			c.Failed += g.N
		}
	}
	return c
}
