package importer

import (
	"time"

	"schedule-import-db/pkg/errors"
)

// Reconciler runs the normalizer and validator over a whole upload.
type Reconciler struct {
	rules      *RuleSet
	normalizer *Normalizer
	validator  *Validator
}

func NewReconciler(rules *RuleSet, now time.Time) *Reconciler {
	return &Reconciler{
		rules:      rules,
		normalizer: NewNormalizer(rules),
		validator:  NewValidator(rules, now),
	}
}

func (r *Reconciler) Rules() *RuleSet {
	return r.rules
}

// CheckHeaders reports a batch-level error unless headers list exactly the
// rule set's headers in order. Trailing blank header cells are ignored.
func (r *Reconciler) CheckHeaders(headers []string) error {
	expected := r.rules.Headers()

	actual := make([]string, 0, len(headers))
	for _, h := range headers {
		actual = append(actual, NormalizeHeader(h))
	}
	for len(actual) > 0 && actual[len(actual)-1] == "" {
		actual = actual[:len(actual)-1]
	}

	mismatch := len(actual) != len(expected)
	for i := 0; !mismatch && i < len(expected); i++ {
		mismatch = actual[i] != NormalizeHeader(expected[i])
	}
	if mismatch {
		return &errors.HeaderMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}

// Reconcile checks the sheet structure and then annotates every data row.
func (r *Reconciler) Reconcile(sheet *Sheet, existing ExistingSet) ([]Record, error) {
	if sheet == nil || len(sheet.Headers) == 0 {
		return nil, errors.ErrEmptyFile
	}
	if err := r.CheckHeaders(sheet.Headers); err != nil {
		return nil, err
	}

	records := r.ReconcileRows(sheet.Rows, existing)
	if len(records) == 0 {
		return nil, errors.ErrEmptyFile
	}
	return records, nil
}

// ReconcileRows normalizes the full batch before validating any record, so
// duplicate detection sees every row and flags all copies of a repeated key.
func (r *Reconciler) ReconcileRows(rows []SheetRow, existing ExistingSet) []Record {
	if existing == nil {
		existing = NoExisting
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		if blankRow(row.Cells) {
			continue
		}
		records = append(records, r.normalizer.Normalize(row.Cells, row.Line))
	}

	batch := NewBatchSet(r.rules, records)
	for i := range records {
		details := r.validator.Validate(records[i], existing, batch)
		records[i].Details = details
		records[i].Errors = Codes(details)
	}

	return records
}

func blankRow(cells RawRow) bool {
	for _, v := range cells {
		if !isBlank(v) {
			return false
		}
	}
	return true
}
