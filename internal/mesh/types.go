package mesh

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Profile is the student profile record shown by the profile command.
type Profile struct {
	ID             int64  `json:"id"`
	ContingentGUID string `json:"contingent_guid"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	MiddleName     string `json:"middle_name"`
	BirthDate      string `json:"birth_date"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	ClassName      string `json:"class_name"`
	SNILS          string `json:"snils"`
	School         School `json:"school"`
}

// School identifies the student's school inside a profile.
type School struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
}

type profileResponse struct {
	Children []Profile `json:"children"`
}

// ScheduleDay is one calendar day of the timetable.
type ScheduleDay struct {
	Date       string     `json:"date"` // YYYY-MM-DD
	Summary    string     `json:"summary"`
	Activities []Activity `json:"activities"`
}

// Activity is a single timetable slot: a lesson or a break.
type Activity struct {
	Type       string  `json:"type"` // "LESSON" or a break type
	BeginUTC   int64   `json:"begin_utc"`
	EndUTC     int64   `json:"end_utc"`
	RoomNumber *string `json:"room_number"`
	Lesson     *Lesson `json:"lesson"`
}

// Lesson carries the lesson payload of a LESSON activity.
type Lesson struct {
	SubjectName string `json:"subject_name"`
	Homework    string `json:"homework"`
	Replaced    bool   `json:"replaced"`
}

// HomeworkDay groups homework entries prepared for one date.
type HomeworkDay struct {
	Date    string // DD.MM.YYYY
	Entries []HomeworkEntry
}

// HomeworkEntry is one homework item with resolved attachments and tests.
type HomeworkEntry struct {
	Subject      string
	Text         string
	CreatedAt    string // DD.MM.YYYY HH:MM, Moscow time
	UpdatedAt    string
	Attachments  []Attachment
	ExecuteTests []TestLink
	ExamineCount int
}

// Attachment is a downloadable file attached to a homework entry.
type Attachment struct {
	Name string
	URL  string
}

// TestLink is an interactive test with its resolved launch URL.
type TestLink struct {
	Name string
	URL  string
}

// DayMarks groups the marks received on one date by subject.
type DayMarks struct {
	Date     string // DD.MM.YYYY
	Subjects []SubjectMarks
}

// SubjectMarks lists one subject's marks within a day.
type SubjectMarks struct {
	Subject string
	Marks   []Mark
}

// Mark is a single grade with its exam weighting.
type Mark struct {
	Value   int
	Weight  int
	Comment string
	IsExam  bool
}

// SubjectProgress is the full-year mark summary for one subject.
type SubjectProgress struct {
	Subject string
	Average string
	Periods []PeriodProgress
}

// PeriodProgress is one grading period inside a subject summary.
type PeriodProgress struct {
	Name      string
	Average   string
	FinalMark string
	Marks     []Mark
}

// Notification is one portal event from the notification feed. Fields are
// populated per event type; absent ones are zero values.
type Notification struct {
	Datetime           string // 2006-01-02 15:04:05.000000
	EventType          string
	SubjectName        string
	LessonDate         string
	NewDatePreparedFor string
	NewMarkValue       int
	NewMarkWeight      int
	NewIsExam          bool
	NewHWDescription   string
}

type rawNotification struct {
	Datetime           string  `json:"datetime"`
	EventType          string  `json:"event_type"`
	SubjectName        string  `json:"subject_name"`
	LessonDate         string  `json:"lesson_date"`
	NewDatePreparedFor string  `json:"new_date_prepared_for"`
	NewMarkValue       flexInt `json:"new_mark_value"`
	NewMarkWeight      flexInt `json:"new_mark_weight"`
	NewIsExam          bool    `json:"new_is_exam"`
	NewHWDescription   string  `json:"new_hw_description"`
}

func (r rawNotification) toDomain() Notification {
	return Notification{
		Datetime:           r.Datetime,
		EventType:          r.EventType,
		SubjectName:        r.SubjectName,
		LessonDate:         r.LessonDate,
		NewDatePreparedFor: r.NewDatePreparedFor,
		NewMarkValue:       r.NewMarkValue.Int(),
		NewMarkWeight:      r.NewMarkWeight.Int(),
		NewIsExam:          r.NewIsExam,
		NewHWDescription:   r.NewHWDescription,
	}
}

// flexString decodes a JSON string or number into a string. The portal is
// inconsistent about quoting numeric fields across endpoints.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

// flexInt decodes a JSON number or numeric string into an int.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.Atoi(string(s))
	if err != nil {
		return fmt.Errorf("numeric field %q: %w", string(s), err)
	}
	*f = flexInt(v)
	return nil
}

func (f flexInt) Int() int { return int(f) }
