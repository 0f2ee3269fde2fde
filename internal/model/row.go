package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"schedule-import-db/internal/importer"
)

type RowStatus string

const (
	RowStatusReady    RowStatus = "READY"
	RowStatusRejected RowStatus = "REJECTED"
	// RowStatusSubmitting marks a row claimed by one submit job.
	RowStatusSubmitting RowStatus = "SUBMITTING"
	RowStatusSubmitted  RowStatus = "SUBMITTED"
	RowStatusFailed     RowStatus = "FAILED"
)

// ImportRow is a staged record. Payload holds the canonical fields as JSON,
// ErrorCodes the comma separated validation codes.
type ImportRow struct {
	ID           int64     `json:"id" db:"id"`
	FileID       int64     `json:"file_id" db:"file_id"`
	RowIndex     int       `json:"row_index" db:"row_index"`
	RecordKey    string    `json:"record_key" db:"record_key"`
	Payload      string    `json:"-" db:"payload"`
	ErrorCodes   string    `json:"-" db:"error_codes"`
	Messages     string    `json:"-" db:"messages"`
	Status       RowStatus `json:"status" db:"status"`
	ErrorMessage *string   `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// NewImportRow stages a reconciled record. Rows with any error are
// REJECTED and never reach the submit path.
func NewImportRow(fileID int64, rules *importer.RuleSet, rec importer.Record) (ImportRow, error) {
	payload, err := json.Marshal(rec.Fields)
	if err != nil {
		return ImportRow{}, fmt.Errorf("failed to marshal row %d: %w", rec.RowIndex, err)
	}

	codes := make([]string, len(rec.Errors))
	for i, code := range rec.Errors {
		codes[i] = string(code)
	}

	status := RowStatusReady
	if !rec.Valid() {
		status = RowStatusRejected
	}

	return ImportRow{
		FileID:     fileID,
		RowIndex:   rec.RowIndex,
		RecordKey:  rec.Get(rules.PrimaryKey),
		Payload:    string(payload),
		ErrorCodes: strings.Join(codes, ","),
		Messages:   importer.DescribeLine(rules, rec),
		Status:     status,
	}, nil
}

func (r *ImportRow) Fields() (map[string]string, error) {
	fields := map[string]string{}
	if r.Payload == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(r.Payload), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode payload of row %d: %w", r.RowIndex, err)
	}
	return fields, nil
}

func (r *ImportRow) Codes() []importer.ErrorCode {
	if r.ErrorCodes == "" {
		return nil
	}
	parts := strings.Split(r.ErrorCodes, ",")
	codes := make([]importer.ErrorCode, len(parts))
	for i, p := range parts {
		codes[i] = importer.ErrorCode(p)
	}
	return codes
}
