package importer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"
)

func mustRules(t *testing.T, entity string) *RuleSet {
	t.Helper()
	rs, ok := Lookup(entity)
	require.True(t, ok, "rule set %s not registered", entity)
	return rs
}

func TestSerialToDate(t *testing.T) {
	tests := []struct {
		serial float64
		want   string
		ok     bool
	}{
		{44927, "2023-01-01", true},
		{45000, "2023-03-15", true},
		{44927.75, "2023-01-01", true},
		{61, "1900-03-01", true},
		{0, "", false},
		{-3, "", false},
	}
	for _, tt := range tests {
		got, ok := SerialToDate(tt.serial)
		assert.Equal(t, tt.ok, ok, "serial %v", tt.serial)
		assert.Equal(t, tt.want, got, "serial %v", tt.serial)
	}
}

func TestParseDate(t *testing.T) {
	for _, in := range []string{"2023-03-15", "2023/03/15", "15/03/2023", "15-03-2023", "15.03.2023", "2023-03-15T08:30:00Z"} {
		d, ok := ParseDate(in)
		require.True(t, ok, in)
		assert.Equal(t, "2023-03-15", d.Format(isoDate), in)
	}

	for _, in := range []string{"", "not a date", "2023-02-30", "32/01/2023"} {
		_, ok := ParseDate(in)
		assert.False(t, ok, in)
	}
}

func TestNormalize(t *testing.T) {
	rules := mustRules(t, EntityLecturer)
	n := NewNormalizer(rules)

	t.Run("date representations agree", func(t *testing.T) {
		inputs := []any{
			float64(45000),
			"2023-03-15",
			"15/03/2023",
			time.Date(2023, time.March, 15, 0, 0, 0, 0, time.UTC),
		}
		for _, in := range inputs {
			rec := n.Normalize(RawRow{"Ngày sinh": in}, 2)
			assert.Equal(t, "2023-03-15", rec.Get("day_of_birth"), "input %#v", in)
			assert.Empty(t, rec.Unparsed)
		}
	})

	t.Run("unparsable date becomes empty and is remembered", func(t *testing.T) {
		rec := n.Normalize(RawRow{"Ngày sinh": "ngày mai"}, 3)
		assert.Equal(t, "", rec.Get("day_of_birth"))
		assert.Equal(t, "ngày mai", rec.Unparsed["day_of_birth"])
	})

	t.Run("missing fields default to empty", func(t *testing.T) {
		rec := n.Normalize(RawRow{}, 4)
		assert.Equal(t, 4, rec.RowIndex)
		for _, f := range rules.Fields {
			v, ok := rec.Fields[f.Name]
			assert.True(t, ok, f.Name)
			assert.Equal(t, "", v, f.Name)
		}
	})

	t.Run("canonical header is accepted", func(t *testing.T) {
		rec := n.Normalize(RawRow{"lecturer_id": "GV009", "email": " x@y.vn "}, 2)
		assert.Equal(t, "GV009", rec.Get("lecturer_id"))
		assert.Equal(t, "x@y.vn", rec.Get("email"))
	})

	t.Run("decomposed header matches", func(t *testing.T) {
		rec := n.Normalize(RawRow{norm.NFD.String("Mã giảng viên"): "GV010"}, 2)
		assert.Equal(t, "GV010", rec.Get("lecturer_id"))
	})

	t.Run("numeric cells keep their digits", func(t *testing.T) {
		rec := n.Normalize(RawRow{"Số điện thoại": float64(912345678)}, 2)
		assert.Equal(t, "912345678", rec.Get("phone_number"))
	})

	t.Run("enum aliases map to canonical values", func(t *testing.T) {
		rec := n.Normalize(RawRow{"Trạng thái": "Hoạt động", "Học vị": "TS"}, 2)
		assert.Equal(t, "active", rec.Get("status"))
		assert.Equal(t, "Tiến sĩ", rec.Get("degree"))
	})

	t.Run("idempotent", func(t *testing.T) {
		row := lecturerRow("GV001")
		row["Ngày sinh"] = float64(32948)
		assert.Equal(t, n.Normalize(row, 7), n.Normalize(row, 7))
	})
}

func TestNormalizeNumberField(t *testing.T) {
	n := NewNormalizer(mustRules(t, EntityCourse))

	rec := n.Normalize(RawRow{"Số tín chỉ": float64(3)}, 2)
	assert.Equal(t, "3", rec.Get("credits"))

	rec = n.Normalize(RawRow{"Số tín chỉ": "ba"}, 2)
	assert.Equal(t, "", rec.Get("credits"))
	assert.Equal(t, "ba", rec.Unparsed["credits"])
}
