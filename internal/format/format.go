// Package format turns portal records into Telegram HTML messages. Every
// function is pure; user-facing texts match the production bot (Russian).
package format

import (
	"fmt"
	"strings"
	"time"

	"meshbot/internal/mesh"
)

// weightChars are the subscript digits rendered after a mark value to show
// its weight. Weight 1 is implied and rendered bare.
var weightChars = []string{"₁", "₂", "₃", "₄", "₅"}

var moscow = mustMoscow()

func mustMoscow() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// MarkText renders one mark value with its weight subscript; exam marks are
// emphasized bold-italic.
func MarkText(value int, weight int, isExam bool) string {
	var b strings.Builder
	if isExam {
		b.WriteString("<b><i>")
	}
	fmt.Fprintf(&b, "%d", value)
	if weight > 1 && weight <= len(weightChars) {
		b.WriteString(weightChars[weight-1])
	}
	if isExam {
		b.WriteString("</i></b>")
	}
	return b.String()
}

func orMissing(value, missing string) string {
	if value == "" {
		return missing
	}
	return value
}

// Profile renders the student profile card. The SNILS is spoiler-masked.
func Profile(p *mesh.Profile) string {
	school := p.School.ShortName
	if school == "" {
		school = p.School.Name
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Здравствуйте, %s %s %s!\n", p.LastName, p.FirstName, p.MiddleName)
	fmt.Fprintf(&b, "Дата рождения: %s\n", orMissing(p.BirthDate, "Не указана"))
	fmt.Fprintf(&b, "Номер телефона: %s\n", orMissing(p.Phone, "Не указан"))
	fmt.Fprintf(&b, "Email: %s\n", orMissing(p.Email, "Не указан"))
	fmt.Fprintf(&b, "Школа: %s\n", orMissing(school, "Не указана"))
	fmt.Fprintf(&b, "Класс: %s\n", orMissing(p.ClassName, "Не указан"))
	fmt.Fprintf(&b, "Снилс: <tg-spoiler>%s</tg-spoiler>\n\n", orMissing(p.SNILS, "Не указан"))
	fmt.Fprintf(&b, "person_id: %s\n", p.ContingentGUID)
	fmt.Fprintf(&b, "id: %d\n", p.ID)
	fmt.Fprintf(&b, "school_id: %d\n\n", p.School.ID)
	b.WriteString("<b>Внимание! Мы не храним вашу информацию, вся эта информация получена из МЭШ!</b>")
	return b.String()
}

func clock(unixUTC int64) string {
	return time.Unix(unixUTC, 0).In(moscow).Format("15:04")
}

// ScheduleDay renders one day of the timetable.
func ScheduleDay(day mesh.ScheduleDay) string {
	var b strings.Builder
	date := day.Date
	if t, err := time.Parse("2006-01-02", day.Date); err == nil {
		date = t.Format("02.01.2006")
	}
	fmt.Fprintf(&b, "🗓 <b>%s</b>: %s\n\n", date, day.Summary)

	lessonNum := 1
	for _, event := range day.Activities {
		if event.Type == "LESSON" && event.Lesson != nil {
			fmt.Fprintf(&b, "<i>%d урок 🕒 %s - %s", lessonNum, clock(event.BeginUTC), clock(event.EndUTC))
			if event.RoomNumber != nil {
				fmt.Fprintf(&b, " 🚪каб. %s", *event.RoomNumber)
			}
			if event.Lesson.Replaced {
				b.WriteString(" (зам.)")
			}
			b.WriteString("</i>\n")
			fmt.Fprintf(&b, "📖 <b>%s</b>", event.Lesson.SubjectName)
			if event.Lesson.Homework != "" {
				fmt.Fprintf(&b, "\n🏠 %s", event.Lesson.Homework)
			}
			lessonNum++
		} else {
			fmt.Fprintf(&b, "🏃 <i>Перемена %s - %s</i>", clock(event.BeginUTC), clock(event.EndUTC))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

// testsWord picks the Russian plural for "тест" to follow a count.
func testsWord(n int) string {
	switch {
	case (n%100)/10 != 1 && n%10 == 1:
		return "тест"
	case (n%100)/10 != 1 && n%10 >= 2 && n%10 <= 4:
		return "теста"
	default:
		return "тестов"
	}
}

// HomeworkDay renders the homework prepared for one date.
func HomeworkDay(day mesh.HomeworkDay) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🗓 <b>%s</b>\n\n", day.Date)
	for _, entry := range day.Entries {
		fmt.Fprintf(&b, "📖 <b>%s</b>\n", entry.Subject)
		fmt.Fprintf(&b, "🏠 %s\n", entry.Text)
		fmt.Fprintf(&b, "🕒 <i>Добавлено: %s</i>\n", entry.CreatedAt)
		if entry.UpdatedAt != entry.CreatedAt {
			fmt.Fprintf(&b, "🕒 <i>Изменено: %s</i>\n", entry.UpdatedAt)
		}
		for _, att := range entry.Attachments {
			fmt.Fprintf(&b, "📄 <a href=\"%s\">%s</a>\n", att.URL, att.Name)
		}
		if len(entry.ExecuteTests) > 0 {
			b.WriteString("<i>Выполнить (см. дз!):</i>\n")
		}
		for _, test := range entry.ExecuteTests {
			fmt.Fprintf(&b, "🏆 <a href=\"%s\">%s</a>\n", test.URL, test.Name)
		}
		if entry.ExamineCount > 0 {
			fmt.Fprintf(&b, "<i>Изучить: %d %s...</i>\n", entry.ExamineCount, testsWord(entry.ExamineCount))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// DayMarks renders one day's marks grouped by subject. Comments are
// spoiler-masked next to their mark.
func DayMarks(day mesh.DayMarks) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🗓 <b>%s</b>\n\n", day.Date)
	for _, subject := range day.Subjects {
		fmt.Fprintf(&b, "📖 <b>%s</b>\n", subject.Subject)
		parts := make([]string, 0, len(subject.Marks))
		for _, mark := range subject.Marks {
			text := MarkText(mark.Value, mark.Weight, mark.IsExam)
			if mark.Comment != "" {
				text += fmt.Sprintf(" <tg-spoiler>(%s)</tg-spoiler>", mark.Comment)
			}
			parts = append(parts, text)
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n\n")
	}
	return b.String()
}

// AllMarks renders the full-year progress summary.
func AllMarks(subjects []mesh.SubjectProgress) string {
	var b strings.Builder
	for _, subject := range subjects {
		fmt.Fprintf(&b, "📖 %s: %s\n", subject.Subject, subject.Average)
		for _, period := range subject.Periods {
			fmt.Fprintf(&b, "<b>%s</b>: %s", period.Name, period.Average)
			if period.FinalMark != "" {
				fmt.Fprintf(&b, " (итог: <b>%s</b>)", period.FinalMark)
			}
			b.WriteString("\n")
			parts := make([]string, 0, len(period.Marks))
			for _, mark := range period.Marks {
				parts = append(parts, MarkText(mark.Value, mark.Weight, mark.IsExam))
			}
			b.WriteString(strings.Join(parts, ", "))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// maxNotificationMessages caps how many day groups the notifications command
// sends; remaining groups are dropped.
const maxNotificationMessages = 7

// Notifications renders the notification feed grouped by day, in feed order,
// capped at maxNotificationMessages groups.
func Notifications(feed []mesh.Notification) []string {
	var messages []string
	lastDate := ""
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			messages = append(messages, current.String())
			current.Reset()
		}
	}

	for _, entry := range feed {
		eventTime, err := time.Parse("2006-01-02 15:04:05.000000", entry.Datetime)
		if err != nil {
			continue
		}
		date := eventTime.Format("02.01.2006")
		if date != lastDate {
			flush()
			if len(messages) >= maxNotificationMessages {
				return messages
			}
			fmt.Fprintf(&current, "🗓 <b>%s</b>\n\n", date)
			lastDate = date
		}

		lessonDate := entry.LessonDate
		if lessonDate == "" {
			lessonDate = entry.NewDatePreparedFor
		}
		if t, err := time.Parse("2006-01-02 15:04:05", lessonDate); err == nil {
			lessonDate = t.Format("02.01.2006")
		}
		clock := eventTime.Format("15:04:05")

		switch entry.EventType {
		case "update_mark":
			fmt.Fprintf(&current, "📕 <i>%s</i>: Изменение оценки (%s)\n", clock, notificationMark(entry))
			fmt.Fprintf(&current, "Урок: %s %s\n", entry.SubjectName, lessonDate)
		case "create_mark":
			fmt.Fprintf(&current, "📕 <i>%s</i>: Новая оценка (%s)\n", clock, notificationMark(entry))
			fmt.Fprintf(&current, "Урок: %s %s\n", entry.SubjectName, lessonDate)
		case "update_homework":
			fmt.Fprintf(&current, "🏠 <i>%s</i>: Изменение ДЗ (%s)\n", clock, entry.NewHWDescription)
			fmt.Fprintf(&current, "Урок: %s %s\n", entry.SubjectName, lessonDate)
		case "create_homework":
			fmt.Fprintf(&current, "🏠 <i>%s</i>: Новое ДЗ (%s)\n", clock, entry.NewHWDescription)
			fmt.Fprintf(&current, "Урок: %s %s\n", entry.SubjectName, lessonDate)
		}
	}
	flush()
	if len(messages) > maxNotificationMessages {
		messages = messages[:maxNotificationMessages]
	}
	return messages
}

func notificationMark(entry mesh.Notification) string {
	return MarkText(entry.NewMarkValue, entry.NewMarkWeight, entry.NewIsExam)
}
