package format

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"meshbot/internal/mesh"
)

func TestMarkText(t *testing.T) {
	tests := []struct {
		value  int
		weight int
		isExam bool
		want   string
	}{
		{5, 1, false, "5"},
		{4, 2, false, "4₂"},
		{3, 5, false, "3₅"},
		{5, 3, true, "<b><i>5₃</i></b>"},
		{2, 1, true, "<b><i>2</i></b>"},
		{5, 0, false, "5"},
		{5, 9, false, "5"}, // out-of-range weight renders bare
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MarkText(tt.value, tt.weight, tt.isExam))
	}
}

func TestTestsWord(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "тест"},
		{2, "теста"},
		{4, "теста"},
		{5, "тестов"},
		{11, "тестов"},
		{12, "тестов"},
		{21, "тест"},
		{22, "теста"},
		{25, "тестов"},
		{111, "тестов"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.n), func(t *testing.T) {
			assert.Equal(t, tt.want, testsWord(tt.n))
		})
	}
}

func TestProfile(t *testing.T) {
	text := Profile(&mesh.Profile{
		ID:             123,
		ContingentGUID: "guid-1",
		FirstName:      "Иван",
		LastName:       "Иванов",
		MiddleName:     "Иванович",
		BirthDate:      "01.09.2008",
		ClassName:      "9А",
		SNILS:          "123-456-789 00",
		School:         mesh.School{ID: 77, ShortName: "Школа № 1"},
	})

	assert.Contains(t, text, "Здравствуйте, Иванов Иван Иванович!")
	assert.Contains(t, text, "Школа: Школа № 1")
	assert.Contains(t, text, "<tg-spoiler>123-456-789 00</tg-spoiler>")
	assert.Contains(t, text, "person_id: guid-1")
	// Absent contacts show the placeholder, not an empty line.
	assert.Contains(t, text, "Номер телефона: Не указан")
	assert.Contains(t, text, "Email: Не указан")
	assert.Contains(t, text, "Мы не храним вашу информацию")
}

func TestProfileFallsBackToLongSchoolName(t *testing.T) {
	text := Profile(&mesh.Profile{School: mesh.School{Name: "Полное название школы"}})
	assert.Contains(t, text, "Школа: Полное название школы")
}

func TestScheduleDay(t *testing.T) {
	room := "204"
	// 2024-03-05 08:30 MSK == 05:30 UTC.
	day := mesh.ScheduleDay{
		Date:    "2024-03-05",
		Summary: "6 уроков",
		Activities: []mesh.Activity{
			{
				Type:       "LESSON",
				BeginUTC:   1709616600, // 08:30 MSK
				EndUTC:     1709619300, // 09:15 MSK
				RoomNumber: &room,
				Lesson:     &mesh.Lesson{SubjectName: "Алгебра", Homework: "№ 312"},
			},
			{
				Type:     "BREAK",
				BeginUTC: 1709619300,
				EndUTC:   1709620200, // 09:30 MSK
			},
			{
				Type:     "LESSON",
				BeginUTC: 1709620200,
				EndUTC:   1709622900,
				Lesson:   &mesh.Lesson{SubjectName: "Физика", Replaced: true},
			},
		},
	}
	text := ScheduleDay(day)

	assert.Contains(t, text, "🗓 <b>05.03.2024</b>: 6 уроков")
	assert.Contains(t, text, "1 урок 🕒 08:30 - 09:15")
	assert.Contains(t, text, "🚪каб. 204")
	assert.Contains(t, text, "📖 <b>Алгебра</b>\n🏠 № 312")
	assert.Contains(t, text, "🏃 <i>Перемена 09:15 - 09:30</i>")
	// The break does not consume a lesson number.
	assert.Contains(t, text, "2 урок 🕒 09:30")
	assert.Contains(t, text, "(зам.)")
}

func TestHomeworkDay(t *testing.T) {
	day := mesh.HomeworkDay{
		Date: "05.03.2024",
		Entries: []mesh.HomeworkEntry{
			{
				Subject:   "Физика",
				Text:      "параграф 12",
				CreatedAt: "01.03.2024 10:00",
				UpdatedAt: "02.03.2024 09:00",
				Attachments: []mesh.Attachment{
					{Name: "задачи.pdf", URL: "https://example.com/f/1"},
				},
				ExecuteTests: []mesh.TestLink{
					{Name: "Тест по теме", URL: "https://uchebnik.mos.ru/t/1"},
				},
				ExamineCount: 2,
			},
		},
	}
	text := HomeworkDay(day)

	assert.Contains(t, text, "🗓 <b>05.03.2024</b>")
	assert.Contains(t, text, "📖 <b>Физика</b>")
	assert.Contains(t, text, "🕒 <i>Добавлено: 01.03.2024 10:00</i>")
	assert.Contains(t, text, "🕒 <i>Изменено: 02.03.2024 09:00</i>")
	assert.Contains(t, text, `<a href="https://example.com/f/1">задачи.pdf</a>`)
	assert.Contains(t, text, "<i>Выполнить (см. дз!):</i>")
	assert.Contains(t, text, `🏆 <a href="https://uchebnik.mos.ru/t/1">Тест по теме</a>`)
	assert.Contains(t, text, "<i>Изучить: 2 теста...</i>")
}

func TestHomeworkDayOmitsUnchangedUpdate(t *testing.T) {
	day := mesh.HomeworkDay{
		Date: "05.03.2024",
		Entries: []mesh.HomeworkEntry{
			{Subject: "Физика", Text: "параграф 12", CreatedAt: "01.03.2024 10:00", UpdatedAt: "01.03.2024 10:00"},
		},
	}
	text := HomeworkDay(day)
	assert.NotContains(t, text, "Изменено")
}

func TestDayMarks(t *testing.T) {
	day := mesh.DayMarks{
		Date: "05.03.2024",
		Subjects: []mesh.SubjectMarks{
			{
				Subject: "Алгебра",
				Marks: []mesh.Mark{
					{Value: 5, Weight: 2},
					{Value: 4, Weight: 1, Comment: "за домашнюю работу"},
				},
			},
		},
	}
	text := DayMarks(day)

	assert.Contains(t, text, "📖 <b>Алгебра</b>")
	assert.Contains(t, text, "5₂, 4 <tg-spoiler>(за домашнюю работу)</tg-spoiler>")
}

func TestAllMarks(t *testing.T) {
	text := AllMarks([]mesh.SubjectProgress{
		{
			Subject: "Алгебра",
			Average: "4.71",
			Periods: []mesh.PeriodProgress{
				{
					Name:      "I триместр",
					Average:   "4.5",
					FinalMark: "5",
					Marks:     []mesh.Mark{{Value: 5, Weight: 3, IsExam: true}, {Value: 4, Weight: 1}},
				},
				{Name: "II триместр", Average: "4.8"},
			},
		},
	})

	assert.Contains(t, text, "📖 Алгебра: 4.71")
	assert.Contains(t, text, "<b>I триместр</b>: 4.5 (итог: <b>5</b>)")
	assert.Contains(t, text, "<b><i>5₃</i></b>, 4")
	assert.Contains(t, text, "<b>II триместр</b>: 4.8\n")
	assert.NotContains(t, text, "II триместр</b>: 4.8 (итог")
}

func TestNotificationsGroupsByDay(t *testing.T) {
	feed := []mesh.Notification{
		{
			Datetime:      "2024-03-06 14:10:05.000000",
			EventType:     "create_mark",
			SubjectName:   "Алгебра",
			LessonDate:    "2024-03-06 00:00:00",
			NewMarkValue:  5,
			NewMarkWeight: 2,
		},
		{
			Datetime:         "2024-03-06 09:00:00.000000",
			EventType:        "create_homework",
			SubjectName:      "Физика",
			NewHWDescription: "параграф 12",
		},
		{
			Datetime:      "2024-03-05 18:30:00.000000",
			EventType:     "update_mark",
			SubjectName:   "История",
			LessonDate:    "2024-03-05 00:00:00",
			NewMarkValue:  4,
			NewMarkWeight: 1,
		},
	}
	messages := Notifications(feed)

	if len(messages) != 2 {
		t.Fatalf("messages = %d, want 2 day groups", len(messages))
	}
	assert.Contains(t, messages[0], "🗓 <b>06.03.2024</b>")
	assert.Contains(t, messages[0], "Новая оценка (5₂)")
	assert.Contains(t, messages[0], "Урок: Алгебра 06.03.2024")
	assert.Contains(t, messages[0], "Новое ДЗ (параграф 12)")
	assert.Contains(t, messages[1], "🗓 <b>05.03.2024</b>")
	assert.Contains(t, messages[1], "Изменение оценки (4)")
}

func TestNotificationsCapsAtSevenMessages(t *testing.T) {
	var feed []mesh.Notification
	for day := 20; day >= 11; day-- { // ten distinct days
		feed = append(feed, mesh.Notification{
			Datetime:     fmt.Sprintf("2024-03-%d 10:00:00.000000", day),
			EventType:    "create_mark",
			SubjectName:  "Алгебра",
			LessonDate:   fmt.Sprintf("2024-03-%d 00:00:00", day),
			NewMarkValue: 5,
		})
	}
	messages := Notifications(feed)
	if len(messages) != 7 {
		t.Fatalf("messages = %d, want the 7-message cap", len(messages))
	}
	assert.True(t, strings.Contains(messages[0], "20.03.2024"))
	assert.True(t, strings.Contains(messages[6], "14.03.2024"))
}

func TestNotificationsSkipsMalformedTimestamps(t *testing.T) {
	feed := []mesh.Notification{
		{Datetime: "not a time", EventType: "create_mark"},
	}
	assert.Empty(t, Notifications(feed))
}
