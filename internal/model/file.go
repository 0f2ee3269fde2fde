package model

import "time"

type FileStatus string

const (
	FileStatusUploaded   FileStatus = "UPLOADED"
	FileStatusParsing    FileStatus = "PARSING"
	FileStatusParsedOK   FileStatus = "PARSED_OK"
	FileStatusParsedFail FileStatus = "PARSED_FAIL"
	FileStatusSubmitting FileStatus = "SUBMITTING"
	FileStatusSubmitted  FileStatus = "SUBMITTED"
)

// File is one uploaded workbook and the outcome of reconciling it.
type File struct {
	ID            int64      `json:"id" db:"id"`
	Entity        string     `json:"entity" db:"entity"`
	OriginalName  string     `json:"original_name" db:"original_name"`
	S3Path        string     `json:"s3_path" db:"s3_path"`
	Status        FileStatus `json:"status" db:"status"`
	TotalRows     int        `json:"total_rows" db:"total_rows"`
	AcceptedRows  int        `json:"accepted_rows" db:"accepted_rows"`
	RejectedRows  int        `json:"rejected_rows" db:"rejected_rows"`
	SubmittedRows int        `json:"submitted_rows" db:"submitted_rows"`
	FailedRows    int        `json:"failed_rows" db:"failed_rows"`
	ErrorMessage  *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Committable reports whether the user may confirm the import.
func (f *File) Committable() bool {
	return f.Status == FileStatusParsedOK && f.AcceptedRows > 0
}

type FileCounts struct {
	Total     int `db:"total_rows"`
	Accepted  int `db:"accepted_rows"`
	Rejected  int `db:"rejected_rows"`
	Submitted int `db:"submitted_rows"`
	Failed    int `db:"failed_rows"`
}
