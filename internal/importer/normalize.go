package importer

import (
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

const isoDate = "2006-01-02"

// Spreadsheet serial day 0. Serial 60 is the nonexistent 1900-02-29, so
// counting from here is the same as 1900-01-01 plus serial-2 days.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// Day-first layouts follow the Vietnamese convention.
var dateLayouts = []string{
	isoDate,
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// NormalizeHeader folds a header or key into NFC with surrounding space trimmed.
func NormalizeHeader(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

type Normalizer struct {
	rules *RuleSet
}

func NewNormalizer(rules *RuleSet) *Normalizer {
	return &Normalizer{rules: rules}
}

// Normalize maps a raw row onto the rule set's canonical fields. It never
// fails: missing or unusable values become empty strings and unusable ones
// are also recorded in Unparsed for the validator.
func (n *Normalizer) Normalize(row RawRow, rowIndex int) Record {
	cells := make(map[string]any, len(row))
	for k, v := range row {
		cells[NormalizeHeader(k)] = v
	}

	rec := Record{
		RowIndex: rowIndex,
		Fields:   make(map[string]string, len(n.rules.Fields)),
		Errors:   []ErrorCode{},
	}

	for _, f := range n.rules.Fields {
		raw, ok := cells[NormalizeHeader(f.Header)]
		if !ok || isBlank(raw) {
			raw, ok = cells[f.Name]
		}
		if !ok {
			rec.Fields[f.Name] = ""
			continue
		}

		value, parsed := coerce(f, raw)
		rec.Fields[f.Name] = value
		if !parsed {
			if rec.Unparsed == nil {
				rec.Unparsed = make(map[string]string)
			}
			rec.Unparsed[f.Name] = cellString(raw)
		}
	}

	return rec
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func coerce(f Field, raw any) (string, bool) {
	if raw == nil {
		return "", true
	}
	switch f.Kind {
	case KindDate:
		if isBlank(raw) {
			return "", true
		}
		d, ok := normalizeDate(raw)
		return d, ok
	case KindNumber:
		s := cellString(raw)
		if s == "" {
			return "", true
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return "", false
		}
		return formatNumber(n), true
	}

	s := cellString(raw)
	if f.Enum != nil {
		if canonical, ok := f.Enum.Aliases[NormalizeHeader(s)]; ok {
			return canonical, true
		}
	}
	return s, true
}

func cellString(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return NormalizeHeader(v)
	case float64:
		return formatNumber(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(isoDate)
	default:
		return ""
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func normalizeDate(raw any) (string, bool) {
	switch v := raw.(type) {
	case float64:
		return SerialToDate(v)
	case int:
		return SerialToDate(float64(v))
	case int64:
		return SerialToDate(float64(v))
	case time.Time:
		if v.IsZero() {
			return "", false
		}
		return v.Format(isoDate), true
	case string:
		t, ok := ParseDate(v)
		if !ok {
			return "", false
		}
		return t.Format(isoDate), true
	default:
		return "", false
	}
}

// SerialToDate converts a spreadsheet serial number to YYYY-MM-DD. Any
// fractional (time of day) part is dropped.
func SerialToDate(serial float64) (string, bool) {
	if math.IsNaN(serial) || math.IsInf(serial, 0) || serial < 1 {
		return "", false
	}
	days := int(math.Floor(serial))
	return serialEpoch.AddDate(0, 0, days).Format(isoDate), true
}

// ParseDate parses a calendar date written in one of the accepted layouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
