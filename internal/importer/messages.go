package importer

import "strings"

var codeMessages = map[ErrorCode]string{
	ErrDuplicateID:      "Mã đã tồn tại",
	ErrMissingRequired:  "Thiếu thông tin bắt buộc",
	ErrInvalidFormat:    "Sai định dạng",
	ErrInvalidDate:      "Ngày không hợp lệ",
	ErrInvalidDateRange: "Ngày kết thúc phải sau ngày bắt đầu",
	ErrInvalidEnumValue: "Giá trị không hợp lệ",
}

var reasonMessages = map[string]string{
	"exists":             "Mã đã tồn tại trong hệ thống",
	"duplicated_in_file": "Mã bị trùng trong tệp",
	"invalid_email":      "Email không hợp lệ",
	"invalid_phone":      "Số điện thoại không hợp lệ",
	"invalid_id":         "Mã phải gồm 3-20 ký tự chữ hoặc số",
	"invalid_credits":    "Số tín chỉ phải là số nguyên từ 1 đến 10",
	"invalid_gender":     "Giới tính không hợp lệ",
	"invalid_status":     "Trạng thái không hợp lệ",
	"invalid_degree":     "Học vị không hợp lệ",
	"invalid_break_type": "Loại nghỉ không hợp lệ",
	"unparsable_date":    "Không đọc được ngày",
	"unparsable_number":  "Không đọc được số",
	"not_in_past":        "Ngày phải trước hôm nay",
	"in_future":          "Ngày không được ở tương lai",
	"too_far_ahead":      "Ngày không được quá 5 năm kể từ hôm nay",
	"under_age":          "Chưa đủ 18 tuổi",
	"over_age":           "Quá 70 tuổi",
	"end_before_start":   "Ngày kết thúc phải sau ngày bắt đầu",
}

// Message returns the user-facing text for code.
func Message(code ErrorCode) string {
	if m, ok := codeMessages[code]; ok {
		return m
	}
	return string(code)
}

func (e FieldError) Message() string {
	if m, ok := reasonMessages[e.Reason]; ok {
		return m
	}
	return Message(e.Code)
}

// Describe renders one line per field error, prefixed with the column header.
func Describe(rules *RuleSet, rec Record) []string {
	lines := make([]string, 0, len(rec.Details))
	for _, d := range rec.Details {
		header := d.Field
		if f, ok := rules.Field(d.Field); ok {
			header = f.Header
		}
		lines = append(lines, header+": "+d.Message())
	}
	return lines
}

func DescribeLine(rules *RuleSet, rec Record) string {
	return strings.Join(Describe(rules, rec), "; ")
}
