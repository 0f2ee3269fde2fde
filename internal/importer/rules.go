package importer

import (
	"regexp"
	"strings"
)

type FieldKind int

const (
	KindText FieldKind = iota
	KindDate
	KindNumber
)

type Format struct {
	Pattern *regexp.Regexp
	Reason  string
}

type Enum struct {
	Values []string
	// Aliases maps localized spellings to a canonical value.
	Aliases map[string]string
	Reason  string
}

func (e *Enum) contains(v string) bool {
	for _, allowed := range e.Values {
		if v == allowed {
			return true
		}
	}
	return false
}

// DatePolicy bounds a date relative to the validation reference day.
type DatePolicy struct {
	// Past requires the date to be strictly before today.
	Past bool
	// NotFuture requires the date to be today or earlier.
	NotFuture bool
	MinAge    int
	MaxAge    int
	// MaxYearsAhead rejects dates later than today plus this many years.
	MaxYearsAhead int
}

type NumberRange struct {
	Min     float64
	Max     float64
	Integer bool
	Reason  string
}

type Field struct {
	Name     string
	Header   string
	Kind     FieldKind
	Required bool
	Format   *Format
	Enum     *Enum
	Date     *DatePolicy
	Number   *NumberRange
}

// DateRange requires End to be on or after Start when both are present.
type DateRange struct {
	Start string
	End   string
}

// RuleSet declares how one entity's spreadsheet is read and checked.
type RuleSet struct {
	Entity string
	// Resource is the REST collection on the scheduling backend, e.g. lecturers.
	Resource   string
	Label      string
	Fields     []Field
	PrimaryKey string
	// Unique lists fields that must not repeat in the existing set or the batch.
	// The primary key is always unique.
	Unique []string
	Ranges []DateRange
}

func (rs *RuleSet) Headers() []string {
	headers := make([]string, len(rs.Fields))
	for i, f := range rs.Fields {
		headers[i] = f.Header
	}
	return headers
}

func (rs *RuleSet) Field(name string) (Field, bool) {
	for _, f := range rs.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (rs *RuleSet) Required() []string {
	var names []string
	for _, f := range rs.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// UniqueKeys returns the primary key followed by any extra unique fields.
func (rs *RuleSet) UniqueKeys() []string {
	keys := []string{rs.PrimaryKey}
	for _, k := range rs.Unique {
		if k != rs.PrimaryKey {
			keys = append(keys, k)
		}
	}
	return keys
}

// ExistingSet is a read-only snapshot of values already persisted.
type ExistingSet interface {
	Contains(field, value string) bool
}

// KeySet is an in-memory ExistingSet.
type KeySet struct {
	values map[string]map[string]struct{}
}

func NewKeySet() *KeySet {
	return &KeySet{values: make(map[string]map[string]struct{})}
}

// KeySetFromRecords indexes the given fields of already persisted records.
func KeySetFromRecords(records []map[string]string, fields ...string) *KeySet {
	ks := NewKeySet()
	for _, rec := range records {
		for _, f := range fields {
			ks.Add(f, rec[f])
		}
	}
	return ks
}

func (k *KeySet) Add(field, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	set, ok := k.values[field]
	if !ok {
		set = make(map[string]struct{})
		k.values[field] = set
	}
	set[value] = struct{}{}
}

func (k *KeySet) Contains(field, value string) bool {
	if k == nil {
		return false
	}
	_, ok := k.values[field][value]
	return ok
}

func (k *KeySet) Len(field string) int {
	if k == nil {
		return 0
	}
	return len(k.values[field])
}

type emptySet struct{}

func (emptySet) Contains(string, string) bool { return false }

// NoExisting is the ExistingSet of a collection with nothing persisted yet.
var NoExisting ExistingSet = emptySet{}

// BatchSet counts unique-key values across every record of one upload.
type BatchSet struct {
	counts map[string]map[string]int
}

func NewBatchSet(rules *RuleSet, records []Record) *BatchSet {
	b := &BatchSet{counts: make(map[string]map[string]int)}
	for _, key := range rules.UniqueKeys() {
		counts := make(map[string]int)
		for _, r := range records {
			if v := r.Get(key); v != "" {
				counts[v]++
			}
		}
		b.counts[key] = counts
	}
	return b
}

func (b *BatchSet) Count(field, value string) int {
	if b == nil {
		return 0
	}
	return b.counts[field][value]
}
