package importer

// RawRow is one spreadsheet line keyed by its column header. Cell values are
// string, float64 (numbers and serial dates), time.Time or bool.
type RawRow map[string]any

// SheetRow is a RawRow together with the spreadsheet line it came from.
type SheetRow struct {
	Line  int
	Cells RawRow
}

// Sheet is the first worksheet of an uploaded workbook.
type Sheet struct {
	Headers []string
	Rows    []SheetRow
}

type ErrorCode string

const (
	ErrDuplicateID      ErrorCode = "duplicate_id"
	ErrMissingRequired  ErrorCode = "missing_required"
	ErrInvalidFormat    ErrorCode = "invalid_format"
	ErrInvalidDate      ErrorCode = "invalid_date"
	ErrInvalidDateRange ErrorCode = "invalid_date_range"
	ErrInvalidEnumValue ErrorCode = "invalid_enum_value"
)

// FieldError is one violation on one field. Reason carries the
// entity-specific name of the check, e.g. invalid_email or invalid_gender.
type FieldError struct {
	Field  string    `json:"field"`
	Code   ErrorCode `json:"code"`
	Reason string    `json:"reason,omitempty"`
}

// Record is the normalized form of a RawRow.
type Record struct {
	RowIndex int               `json:"row_index"`
	Fields   map[string]string `json:"fields"`
	Unparsed map[string]string `json:"unparsed,omitempty"`
	Errors   []ErrorCode       `json:"errors"`
	Details  []FieldError      `json:"details,omitempty"`
}

func (r Record) Get(field string) string {
	return r.Fields[field]
}

func (r Record) Valid() bool {
	return len(r.Errors) == 0
}

func (r Record) HasError(code ErrorCode) bool {
	for _, c := range r.Errors {
		if c == code {
			return true
		}
	}
	return false
}

// Codes collapses field errors into the ordered, deduplicated list of codes
// the preview grid highlights rows with.
func Codes(details []FieldError) []ErrorCode {
	codes := make([]ErrorCode, 0, len(details))
	seen := make(map[ErrorCode]bool, len(details))
	for _, d := range details {
		if seen[d.Code] {
			continue
		}
		seen[d.Code] = true
		codes = append(codes, d.Code)
	}
	return codes
}

// Accepted returns the records that may be handed to persistence.
func Accepted(records []Record) []Record {
	var out []Record
	for _, r := range records {
		if r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

func Rejected(records []Record) []Record {
	var out []Record
	for _, r := range records {
		if !r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

type Summary struct {
	Total    int               `json:"total"`
	Accepted int               `json:"accepted"`
	Rejected int               `json:"rejected"`
	ByCode   map[ErrorCode]int `json:"by_code,omitempty"`
}

func Summarize(records []Record) Summary {
	s := Summary{Total: len(records), ByCode: make(map[ErrorCode]int)}
	for _, r := range records {
		if r.Valid() {
			s.Accepted++
			continue
		}
		s.Rejected++
		for _, c := range r.Errors {
			s.ByCode[c]++
		}
	}
	return s
}
