package importer

import (
	"regexp"
	"sort"
)

const (
	EntityLecturer      = "lecturer"
	EntityStudent       = "student"
	EntityCourse        = "course"
	EntityBreakSchedule = "break_schedule"
)

var (
	emailFormat = &Format{Pattern: regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`), Reason: "invalid_email"}

	codeFormat = &Format{Pattern: regexp.MustCompile(`^[A-Za-z0-9]{3,20}$`), Reason: "invalid_id"}

	// Vietnamese mobile numbers keep their leading zero.
	mobileFormat = &Format{Pattern: regexp.MustCompile(`^0\d{9,10}$`), Reason: "invalid_phone"}
	phoneFormat  = &Format{Pattern: regexp.MustCompile(`^\d{10,11}$`), Reason: "invalid_phone"}

	genderEnum = &Enum{
		Values:  []string{"Nam", "Nữ", "Khác"},
		Aliases: map[string]string{"nam": "Nam", "nữ": "Nữ", "nu": "Nữ", "khác": "Khác", "male": "Nam", "female": "Nữ", "other": "Khác"},
		Reason:  "invalid_gender",
	}

	statusEnum = &Enum{
		Values: []string{"active", "inactive"},
		Aliases: map[string]string{
			"Hoạt động":       "active",
			"Đang hoạt động":  "active",
			"Không hoạt động": "inactive",
			"Ngừng hoạt động": "inactive",
			"Active":          "active",
			"Inactive":        "inactive",
		},
		Reason: "invalid_status",
	}

	studentStatusEnum = &Enum{
		Values: []string{"active", "inactive"},
		Aliases: map[string]string{
			"Đang học": "active",
			"Nghỉ học": "inactive",
			"Bảo lưu":  "inactive",
			"Active":   "active",
			"Inactive": "inactive",
		},
		Reason: "invalid_status",
	}

	degreeEnum = &Enum{
		Values:  []string{"Cử nhân", "Kỹ sư", "Thạc sĩ", "Tiến sĩ", "Phó giáo sư", "Giáo sư"},
		Aliases: map[string]string{"ThS": "Thạc sĩ", "TS": "Tiến sĩ", "PGS": "Phó giáo sư", "GS": "Giáo sư", "CN": "Cử nhân", "KS": "Kỹ sư"},
		Reason:  "invalid_degree",
	}

	breakTypeEnum = &Enum{
		Values:  []string{"holiday", "exam", "semester_break", "other"},
		Aliases: map[string]string{"Nghỉ lễ": "holiday", "Nghỉ thi": "exam", "Nghỉ giữa kỳ": "semester_break", "Khác": "other"},
		Reason:  "invalid_break_type",
	}

	adultBirthDate = &DatePolicy{Past: true, MinAge: 18, MaxAge: 70}
	birthDate      = &DatePolicy{Past: true}
	pastDate       = &DatePolicy{NotFuture: true}
	windowDate     = &DatePolicy{MaxYearsAhead: 5}
)

var registry = map[string]*RuleSet{
	EntityLecturer:      lecturerRules(),
	EntityStudent:       studentRules(),
	EntityCourse:        courseRules(),
	EntityBreakSchedule: breakScheduleRules(),
}

// Lookup returns the rule set registered for entity.
func Lookup(entity string) (*RuleSet, bool) {
	rs, ok := registry[entity]
	return rs, ok
}

func Entities() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lecturerRules() *RuleSet {
	return &RuleSet{
		Entity:     EntityLecturer,
		Resource:   "lecturers",
		Label:      "Giảng viên",
		PrimaryKey: "lecturer_id",
		Fields: []Field{
			{Name: "lecturer_id", Header: "Mã giảng viên", Required: true, Format: codeFormat},
			{Name: "name", Header: "Họ tên", Required: true},
			{Name: "email", Header: "Email", Required: true, Format: emailFormat},
			{Name: "day_of_birth", Header: "Ngày sinh", Kind: KindDate, Required: true, Date: adultBirthDate},
			{Name: "gender", Header: "Giới tính", Required: true, Enum: genderEnum},
			{Name: "address", Header: "Địa chỉ"},
			{Name: "phone_number", Header: "Số điện thoại", Required: true, Format: mobileFormat},
			{Name: "department", Header: "Khoa/Bộ môn", Required: true},
			{Name: "hire_date", Header: "Ngày tuyển dụng", Kind: KindDate, Date: pastDate},
			{Name: "degree", Header: "Học vị", Enum: degreeEnum},
			{Name: "status", Header: "Trạng thái", Required: true, Enum: statusEnum},
		},
	}
}

func studentRules() *RuleSet {
	return &RuleSet{
		Entity:     EntityStudent,
		Resource:   "students",
		Label:      "Sinh viên",
		PrimaryKey: "student_id",
		Fields: []Field{
			{Name: "student_id", Header: "Mã sinh viên", Required: true, Format: codeFormat},
			{Name: "name", Header: "Họ tên", Required: true},
			{Name: "email", Header: "Email", Required: true, Format: emailFormat},
			{Name: "day_of_birth", Header: "Ngày sinh", Kind: KindDate, Required: true, Date: birthDate},
			{Name: "gender", Header: "Giới tính", Required: true, Enum: genderEnum},
			{Name: "address", Header: "Địa chỉ"},
			{Name: "phone_number", Header: "Số điện thoại", Format: phoneFormat},
			{Name: "class", Header: "Lớp", Required: true},
			{Name: "major", Header: "Khoa"},
			{Name: "academic_year", Header: "Niên khóa"},
			{Name: "status", Header: "Trạng thái", Required: true, Enum: studentStatusEnum},
		},
	}
}

func courseRules() *RuleSet {
	return &RuleSet{
		Entity:     EntityCourse,
		Resource:   "courses",
		Label:      "Môn học",
		PrimaryKey: "course_id",
		Fields: []Field{
			{Name: "course_id", Header: "Mã môn học", Required: true, Format: codeFormat},
			{Name: "course_name", Header: "Tên môn học", Required: true},
			{Name: "credits", Header: "Số tín chỉ", Kind: KindNumber, Required: true,
				Number: &NumberRange{Min: 1, Max: 10, Integer: true, Reason: "invalid_credits"}},
			{Name: "department", Header: "Khoa/Bộ môn"},
			{Name: "start_date", Header: "Ngày bắt đầu", Kind: KindDate, Required: true, Date: windowDate},
			{Name: "end_date", Header: "Ngày kết thúc", Kind: KindDate, Required: true, Date: windowDate},
			{Name: "description", Header: "Mô tả"},
			{Name: "status", Header: "Trạng thái", Required: true, Enum: statusEnum},
		},
		Ranges: []DateRange{{Start: "start_date", End: "end_date"}},
	}
}

func breakScheduleRules() *RuleSet {
	return &RuleSet{
		Entity:     EntityBreakSchedule,
		Resource:   "break-schedules",
		Label:      "Lịch nghỉ",
		PrimaryKey: "break_id",
		Fields: []Field{
			{Name: "break_id", Header: "Mã lịch nghỉ", Required: true, Format: codeFormat},
			{Name: "break_name", Header: "Tên lịch nghỉ", Required: true},
			{Name: "break_type", Header: "Loại nghỉ", Required: true, Enum: breakTypeEnum},
			{Name: "break_start_date", Header: "Ngày bắt đầu", Kind: KindDate, Required: true, Date: windowDate},
			{Name: "break_end_date", Header: "Ngày kết thúc", Kind: KindDate, Required: true, Date: windowDate},
			{Name: "description", Header: "Mô tả"},
			{Name: "status", Header: "Trạng thái", Required: true, Enum: statusEnum},
		},
		Ranges: []DateRange{{Start: "break_start_date", End: "break_end_date"}},
	}
}
