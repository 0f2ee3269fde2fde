package importer

import (
	"strconv"
	"strings"
	"time"
)

// Validator applies a RuleSet to normalized records. The reference day used
// by date policies is fixed when the validator is built, so Validate depends
// only on its arguments.
type Validator struct {
	rules *RuleSet
	today time.Time
}

func NewValidator(rules *RuleSet, now time.Time) *Validator {
	y, m, d := now.Date()
	return &Validator{
		rules: rules,
		today: time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
	}
}

func (v *Validator) Today() time.Time {
	return v.today
}

// Validate returns every violation of rec. existing and batch may be nil.
func (v *Validator) Validate(rec Record, existing ExistingSet, batch *BatchSet) []FieldError {
	var errs []FieldError

	errs = append(errs, v.checkRequired(rec)...)
	errs = append(errs, v.checkDuplicates(rec, existing, batch)...)

	for _, f := range v.rules.Fields {
		value := rec.Get(f.Name)
		if _, bad := rec.Unparsed[f.Name]; bad {
			code := ErrInvalidFormat
			if f.Kind == KindDate {
				code = ErrInvalidDate
			}
			errs = append(errs, FieldError{Field: f.Name, Code: code, Reason: "unparsable_" + kindName(f.Kind)})
			continue
		}
		if value == "" {
			continue
		}
		if fe, ok := v.checkField(f, value); !ok {
			errs = append(errs, fe)
		}
	}

	errs = append(errs, v.checkRanges(rec)...)
	return errs
}

// Codes is Validate collapsed to error codes.
func (v *Validator) Codes(rec Record, existing ExistingSet, batch *BatchSet) []ErrorCode {
	return Codes(v.Validate(rec, existing, batch))
}

func (v *Validator) checkRequired(rec Record) []FieldError {
	var errs []FieldError
	for _, f := range v.rules.Fields {
		if !f.Required {
			continue
		}
		if _, bad := rec.Unparsed[f.Name]; bad {
			continue
		}
		if strings.TrimSpace(rec.Get(f.Name)) == "" {
			errs = append(errs, FieldError{Field: f.Name, Code: ErrMissingRequired})
		}
	}
	return errs
}

func (v *Validator) checkDuplicates(rec Record, existing ExistingSet, batch *BatchSet) []FieldError {
	var errs []FieldError
	for _, key := range v.rules.UniqueKeys() {
		value := rec.Get(key)
		if value == "" {
			continue
		}
		switch {
		case existing != nil && existing.Contains(key, value):
			errs = append(errs, FieldError{Field: key, Code: ErrDuplicateID, Reason: "exists"})
		case batch.Count(key, value) > 1:
			errs = append(errs, FieldError{Field: key, Code: ErrDuplicateID, Reason: "duplicated_in_file"})
		}
	}
	return errs
}

func (v *Validator) checkField(f Field, value string) (FieldError, bool) {
	if f.Format != nil && !f.Format.Pattern.MatchString(value) {
		return FieldError{Field: f.Name, Code: ErrInvalidFormat, Reason: f.Format.Reason}, false
	}

	if f.Number != nil {
		n, err := strconv.ParseFloat(value, 64)
		if err != nil || n < f.Number.Min || n > f.Number.Max || (f.Number.Integer && n != float64(int64(n))) {
			return FieldError{Field: f.Name, Code: ErrInvalidFormat, Reason: f.Number.Reason}, false
		}
	}

	if f.Enum != nil && !f.Enum.contains(value) {
		return FieldError{Field: f.Name, Code: ErrInvalidEnumValue, Reason: f.Enum.Reason}, false
	}

	if f.Kind == KindDate {
		if reason := v.checkDate(f.Date, value); reason != "" {
			return FieldError{Field: f.Name, Code: ErrInvalidDate, Reason: reason}, false
		}
	}

	return FieldError{}, true
}

func (v *Validator) checkDate(policy *DatePolicy, value string) string {
	d, err := time.Parse(isoDate, value)
	if err != nil {
		return "unparsable_date"
	}
	if policy == nil {
		return ""
	}

	if policy.Past && !d.Before(v.today) {
		return "not_in_past"
	}
	if policy.NotFuture && d.After(v.today) {
		return "in_future"
	}
	if policy.MaxYearsAhead > 0 && d.After(v.today.AddDate(policy.MaxYearsAhead, 0, 0)) {
		return "too_far_ahead"
	}
	if policy.MinAge > 0 || policy.MaxAge > 0 {
		age := yearsBetween(d, v.today)
		if policy.MinAge > 0 && age < policy.MinAge {
			return "under_age"
		}
		if policy.MaxAge > 0 && age > policy.MaxAge {
			return "over_age"
		}
	}
	return ""
}

func (v *Validator) checkRanges(rec Record) []FieldError {
	var errs []FieldError
	for _, r := range v.rules.Ranges {
		start, err1 := time.Parse(isoDate, rec.Get(r.Start))
		end, err2 := time.Parse(isoDate, rec.Get(r.End))
		if err1 != nil || err2 != nil {
			continue
		}
		if end.Before(start) {
			errs = append(errs, FieldError{Field: r.End, Code: ErrInvalidDateRange, Reason: "end_before_start"})
		}
	}
	return errs
}

// yearsBetween returns the number of full years from birth to day.
func yearsBetween(birth, day time.Time) int {
	years := day.Year() - birth.Year()
	if day.Month() < birth.Month() || (day.Month() == birth.Month() && day.Day() < birth.Day()) {
		years--
	}
	return years
}

func kindName(k FieldKind) string {
	switch k {
	case KindDate:
		return "date"
	case KindNumber:
		return "number"
	default:
		return "text"
	}
}
