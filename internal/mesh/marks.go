package mesh

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"meshbot/internal/metrics"
	"meshbot/internal/session"
)

type rawMark struct {
	Date      string     `json:"date"` // DD.MM.YYYY
	SubjectID int64      `json:"subject_id"`
	Name      flexInt    `json:"name"` // the mark value
	Weight    flexInt    `json:"weight"`
	Comment   flexString `json:"comment"`
	IsExam    bool       `json:"is_exam"`
}

type rawSubject struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// MarksByDate fetches the marks received in [from, to], grouped by day and
// subject. Subject ids are resolved to names with a dependent request; both
// requests must succeed.
func (c *Client) MarksByDate(ctx context.Context, chatID string, from, to time.Time) ([]DayMarks, error) {
	const op = "marksdate"
	metrics.PortalRequest(op)
	sess, err := c.credentials(chatID)
	if err != nil {
		return nil, c.fail(op, chatID, err)
	}

	url := fmt.Sprintf("%s/core/api/marks?created_at_from=%s&created_at_to=%s&student_profile_id=%s",
		c.cfg.CoreBaseURL, from.Format("02.01.2006"), to.Format("02.01.2006"), sess.StudentID)
	var raw []rawMark
	if err := c.getJSON(ctx, url, coreHeaders(sess), &raw); err != nil {
		return nil, c.fail(op, chatID, err)
	}

	type dayKey struct {
		date    string
		subject int64
	}
	marksBySubject := map[dayKey][]Mark{}
	var dayOrder []string
	subjectOrder := map[string][]int64{}
	idSet := map[int64]bool{}
	for _, m := range raw {
		key := dayKey{date: m.Date, subject: m.SubjectID}
		if _, seen := marksBySubject[key]; !seen {
			if len(subjectOrder[m.Date]) == 0 {
				dayOrder = append(dayOrder, m.Date)
			}
			subjectOrder[m.Date] = append(subjectOrder[m.Date], m.SubjectID)
		}
		marksBySubject[key] = append(marksBySubject[key], Mark{
			Value:   m.Name.Int(),
			Weight:  m.Weight.Int(),
			Comment: m.Comment.String(),
			IsExam:  m.IsExam,
		})
		idSet[m.SubjectID] = true
	}

	names, err := c.subjectNames(ctx, sess, idSet)
	if err != nil {
		return nil, c.fail(op, chatID, err)
	}

	sort.Slice(dayOrder, func(i, j int) bool {
		a, _ := time.Parse("02.01.2006", dayOrder[i])
		b, _ := time.Parse("02.01.2006", dayOrder[j])
		return a.Before(b)
	})

	days := make([]DayMarks, 0, len(dayOrder))
	for _, date := range dayOrder {
		day := DayMarks{Date: date}
		for _, subjectID := range subjectOrder[date] {
			day.Subjects = append(day.Subjects, SubjectMarks{
				Subject: names[subjectID],
				Marks:   marksBySubject[dayKey{date: date, subject: subjectID}],
			})
		}
		days = append(days, day)
	}
	return days, nil
}

func (c *Client) subjectNames(ctx context.Context, sess session.Session, ids map[int64]bool) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}
	parts := make([]string, 0, len(ids))
	for id := range ids {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	sort.Strings(parts)
	url := fmt.Sprintf("%s/core/api/subjects?ids=%s", c.cfg.CoreBaseURL, strings.Join(parts, ","))
	var raw []rawSubject
	if err := c.getJSON(ctx, url, coreHeaders(sess), &raw); err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(raw))
	for _, s := range raw {
		names[s.ID] = s.Name
	}
	return names, nil
}

type rawAcademicYear struct {
	ID          int64 `json:"id"`
	CurrentYear bool  `json:"current_year"`
}

type rawProgress struct {
	SubjectName string     `json:"subject_name"`
	AvgFive     flexString `json:"avg_five"`
	Periods     []struct {
		Name      string     `json:"name"`
		AvgFive   flexString `json:"avg_five"`
		FinalMark flexString `json:"final_mark"`
		Marks     []struct {
			Values []struct {
				Original flexInt `json:"original"`
			} `json:"values"`
			Weight flexInt `json:"weight"`
			IsExam bool    `json:"is_exam"`
		} `json:"marks"`
	} `json:"periods"`
}

// AllMarks fetches the full-year progress report for the current academic
// year: per-subject averages, grading periods and final marks.
func (c *Client) AllMarks(ctx context.Context, chatID string) ([]SubjectProgress, error) {
	const op = "marks"
	metrics.PortalRequest(op)
	sess, err := c.credentials(chatID)
	if err != nil {
		return nil, c.fail(op, chatID, err)
	}

	// The academic year list is public; no credentials involved.
	var years []rawAcademicYear
	if err := c.getJSON(ctx, c.cfg.CoreBaseURL+"/core/api/academic_years", nil, &years); err != nil {
		return nil, c.fail(op, chatID, err)
	}
	var currentYear int64 = -1
	for _, y := range years {
		if y.CurrentYear {
			currentYear = y.ID
			break
		}
	}
	if currentYear < 0 {
		return nil, c.fail(op, chatID, fmt.Errorf("no current academic year in portal response: %w", ErrBadPayload))
	}

	url := fmt.Sprintf("%s/reports/api/progress/json?academic_year_id=%d&student_profile_id=%s",
		c.cfg.CoreBaseURL, currentYear, sess.StudentID)
	var raw []rawProgress
	if err := c.getJSON(ctx, url, coreHeaders(sess), &raw); err != nil {
		return nil, c.fail(op, chatID, err)
	}

	subjects := make([]SubjectProgress, 0, len(raw))
	for _, entry := range raw {
		subject := SubjectProgress{
			Subject: entry.SubjectName,
			Average: entry.AvgFive.String(),
		}
		for _, period := range entry.Periods {
			p := PeriodProgress{
				Name:      period.Name,
				Average:   period.AvgFive.String(),
				FinalMark: period.FinalMark.String(),
			}
			for _, m := range period.Marks {
				value := 0
				if len(m.Values) > 0 {
					value = m.Values[0].Original.Int()
				}
				p.Marks = append(p.Marks, Mark{
					Value:  value,
					Weight: m.Weight.Int(),
					IsExam: m.IsExam,
				})
			}
			subject.Periods = append(subject.Periods, p)
		}
		subjects = append(subjects, subject)
	}
	return subjects, nil
}
