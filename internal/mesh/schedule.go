package mesh

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"meshbot/internal/metrics"
)

// Schedule fetches the timetable for every day in [from, to], one portal
// request per calendar day, issued concurrently. The call is all-or-nothing:
// any single day failing fails the whole range. Results come back in date
// order regardless of completion order.
func (c *Client) Schedule(ctx context.Context, chatID string, from, to time.Time) ([]ScheduleDay, error) {
	const op = "schedule"
	metrics.PortalRequest(op)
	sess, err := c.credentials(chatID)
	if err != nil {
		return nil, c.fail(op, chatID, err)
	}

	var dates []time.Time
	for d := dateOnly(from); !d.After(dateOnly(to)); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}

	days := make([]ScheduleDay, len(dates))
	g, gctx := errgroup.WithContext(ctx)
	for i, date := range dates {
		i, date := i, date
		g.Go(func() error {
			url := fmt.Sprintf("%s/api/family/mobile/v1/schedule/?student_id=%s&date=%s",
				c.cfg.FamilyBaseURL, sess.StudentID, date.Format("2006-01-02"))
			return c.getJSON(gctx, url, familyHeaders(sess), &days[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, c.fail(op, chatID, err)
	}
	return days, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
