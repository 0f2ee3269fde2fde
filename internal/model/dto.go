package model

import (
	"time"

	"schedule-import-db/internal/importer"
)

type IngestionJob struct {
	FileID int64  `json:"file_id"`
	Entity string `json:"entity"`
	S3Path string `json:"s3_path"`
}

type SubmitJob struct {
	FileID int64  `json:"file_id"`
	Entity string `json:"entity"`
}

type StatusResponse struct {
	FileID       int64      `json:"file_id"`
	Entity       string     `json:"entity"`
	FileName     string     `json:"file_name"`
	Status       FileStatus `json:"status"`
	TotalRows    int        `json:"total_rows"`
	Accepted     int        `json:"accepted"`
	Rejected     int        `json:"rejected"`
	Submitted    int        `json:"submitted"`
	Failed       int        `json:"failed"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func NewStatusResponse(f *File) StatusResponse {
	return StatusResponse{
		FileID:       f.ID,
		Entity:       f.Entity,
		FileName:     f.OriginalName,
		Status:       f.Status,
		TotalRows:    f.TotalRows,
		Accepted:     f.AcceptedRows,
		Rejected:     f.RejectedRows,
		Submitted:    f.SubmittedRows,
		Failed:       f.FailedRows,
		ErrorMessage: f.ErrorMessage,
		UpdatedAt:    f.UpdatedAt,
	}
}

// PreviewRow is one line of the preview grid shown before commit.
type PreviewRow struct {
	Row      int                  `json:"row"`
	Fields   map[string]string    `json:"fields"`
	Errors   []importer.ErrorCode `json:"errors"`
	Messages []string             `json:"messages,omitempty"`
	Status   RowStatus            `json:"status"`
}

type PreviewResponse struct {
	Entity  string           `json:"entity"`
	Summary importer.Summary `json:"summary"`
	Rows    []PreviewRow     `json:"rows"`
}

func NewPreviewResponse(rules *importer.RuleSet, records []importer.Record) PreviewResponse {
	rows := make([]PreviewRow, len(records))
	for i, rec := range records {
		status := RowStatusReady
		if !rec.Valid() {
			status = RowStatusRejected
		}
		rows[i] = PreviewRow{
			Row:      rec.RowIndex,
			Fields:   rec.Fields,
			Errors:   rec.Errors,
			Messages: importer.Describe(rules, rec),
			Status:   status,
		}
	}
	return PreviewResponse{
		Entity:  rules.Entity,
		Summary: importer.Summarize(records),
		Rows:    rows,
	}
}

// RowFromStaged rebuilds a preview line from a staged row.
func RowFromStaged(r ImportRow) (PreviewRow, error) {
	fields, err := r.Fields()
	if err != nil {
		return PreviewRow{}, err
	}
	codes := r.Codes()
	if codes == nil {
		codes = []importer.ErrorCode{}
	}
	var messages []string
	if r.Messages != "" {
		messages = []string{r.Messages}
	}
	if r.ErrorMessage != nil {
		messages = append(messages, *r.ErrorMessage)
	}
	return PreviewRow{
		Row:      r.RowIndex,
		Fields:   fields,
		Errors:   codes,
		Messages: messages,
		Status:   r.Status,
	}, nil
}

type EntityInfo struct {
	Entity   string   `json:"entity"`
	Label    string   `json:"label"`
	Resource string   `json:"resource"`
	Headers  []string `json:"headers"`
	Required []string `json:"required"`
	Unique   []string `json:"unique"`
}

func NewEntityInfo(rules *importer.RuleSet) EntityInfo {
	return EntityInfo{
		Entity:   rules.Entity,
		Label:    rules.Label,
		Resource: rules.Resource,
		Headers:  rules.Headers(),
		Required: rules.Required(),
		Unique:   rules.UniqueKeys(),
	}
}

type AuthTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// SubmitResponse is the backend's reply to a create call.
type SubmitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ID      any    `json:"id,omitempty"`
}
