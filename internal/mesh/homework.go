package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"meshbot/internal/metrics"
	"meshbot/internal/session"
)

// Material types the portal treats as interactive tests the student must
// execute; everything else in materialObj only counts toward the examine tally.
var executeTestTypes = map[string]bool{
	"TestSpecBinding": true,
	"Workbook":        true,
	"FizikonModule":   true,
}

type rawHomework struct {
	CreatedAt     string `json:"created_at"` // DD.MM.YYYY HH:MM, UTC
	UpdatedAt     string `json:"updated_at"`
	HomeworkEntry struct {
		ID          int64  `json:"id"`
		Description string `json:"description"`
		Data        string `json:"data"` // embedded JSON document
		Attachments []struct {
			FileFileName string `json:"file_file_name"`
			Path         string `json:"path"`
		} `json:"attachments"`
		Homework struct {
			DatePreparedFor string `json:"date_prepared_for"` // DD.MM.YYYY
			Subject         struct {
				Name string `json:"name"`
			} `json:"subject"`
		} `json:"homework"`
	} `json:"homework_entry"`
}

type rawMaterial struct {
	Type string `json:"type"`
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

type materialData struct {
	MaterialObj []rawMaterial `json:"materialObj"`
}

// Homework fetches homework entries prepared for [from, to], grouped by day
// in ascending date order. Interactive test launch URLs are resolved in a
// second concurrent batch fetch; either phase failing fails the whole call.
func (c *Client) Homework(ctx context.Context, chatID string, from, to time.Time) ([]HomeworkDay, error) {
	const op = "homework"
	metrics.PortalRequest(op)
	sess, err := c.credentials(chatID)
	if err != nil {
		return nil, c.fail(op, chatID, err)
	}

	url := fmt.Sprintf("%s/core/api/student_homeworks?begin_prepared_date=%s&end_prepared_date=%s&student_profile_id=%s",
		c.cfg.CoreBaseURL, from.Format("02.01.2006"), to.Format("02.01.2006"), sess.StudentID)
	var raw []rawHomework
	if err := c.getJSON(ctx, url, coreHeaders(sess), &raw); err != nil {
		return nil, c.fail(op, chatID, err)
	}

	byDate := map[string][]HomeworkEntry{}
	// launchURLs collects one request URL per execute test, in discovery
	// order; placements maps each back onto its entry slot after the batch.
	var launchURLs []string
	type slot struct {
		date       string
		entryIndex int
		testIndex  int
	}
	var placements []slot

	for _, item := range raw {
		date := item.HomeworkEntry.Homework.DatePreparedFor
		entry := HomeworkEntry{
			Subject:   item.HomeworkEntry.Homework.Subject.Name,
			Text:      item.HomeworkEntry.Description,
			CreatedAt: c.toMoscow(item.CreatedAt),
			UpdatedAt: c.toMoscow(item.UpdatedAt),
		}
		for _, att := range item.HomeworkEntry.Attachments {
			entry.Attachments = append(entry.Attachments, Attachment{
				Name: att.FileFileName,
				URL:  strings.ReplaceAll(c.cfg.CoreBaseURL+att.Path, " ", "%20"),
			})
		}

		var data materialData
		if item.HomeworkEntry.Data != "" {
			if err := json.Unmarshal([]byte(item.HomeworkEntry.Data), &data); err != nil {
				return nil, c.fail(op, chatID, fmt.Errorf("decode homework materials: %v: %w", err, ErrBadPayload))
			}
		}
		for _, mat := range data.MaterialObj {
			if !executeTestTypes[mat.Type] {
				entry.ExamineCount++
				continue
			}
			placements = append(placements, slot{
				date:       date,
				entryIndex: len(byDate[date]),
				testIndex:  len(entry.ExecuteTests),
			})
			entry.ExecuteTests = append(entry.ExecuteTests, TestLink{Name: mat.Name})
			launchURLs = append(launchURLs, fmt.Sprintf(
				"%s/api/ej/partners/v1/homeworks/launch?homework_entry_id=%d&material_id=%s",
				c.cfg.FamilyBaseURL, item.HomeworkEntry.ID, mat.UUID))
		}
		byDate[date] = append(byDate[date], entry)
	}

	resolved, err := c.resolveLaunchURLs(ctx, sess, launchURLs)
	if err != nil {
		return nil, c.fail(op, chatID, err)
	}
	for i, p := range placements {
		byDate[p.date][p.entryIndex].ExecuteTests[p.testIndex].URL = resolved[i]
	}

	days := make([]HomeworkDay, 0, len(byDate))
	for date, entries := range byDate {
		days = append(days, HomeworkDay{Date: date, Entries: entries})
	}
	sort.Slice(days, func(i, j int) bool {
		a, _ := time.Parse("02.01.2006", days[i].Date)
		b, _ := time.Parse("02.01.2006", days[j].Date)
		return a.Before(b)
	})
	return days, nil
}

// resolveLaunchURLs fetches every test launch endpoint concurrently. The
// launch URL comes back either as the response body (200) or as the redirect
// Location (302); any other status fails the batch.
func (c *Client) resolveLaunchURLs(ctx context.Context, sess session.Session, urls []string) ([]string, error) {
	resolved := make([]string, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, launchURL := range urls {
		i, launchURL := i, launchURL
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, launchURL, nil)
			if err != nil {
				return fmt.Errorf("build launch request: %w", err)
			}
			req.Header.Set("Auth-Token", sess.Token)
			req.Header.Set("Profile-Id", sess.StudentID)
			req.Header.Set("X-Mes-Subsystem", "familyweb")
			resp, err := c.noRedirect.Do(req)
			if err != nil {
				return fmt.Errorf("GET %s: %v: %w", launchURL, err, ErrUpstreamStatus)
			}
			defer resp.Body.Close()
			switch resp.StatusCode {
			case http.StatusOK:
				body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
				if err != nil {
					return fmt.Errorf("read launch response: %v: %w", err, ErrBadPayload)
				}
				resolved[i] = strings.TrimSpace(string(body))
			case http.StatusFound:
				resolved[i] = resp.Header.Get("Location")
			default:
				return fmt.Errorf("GET %s: status %d: %w", launchURL, resp.StatusCode, ErrUpstreamStatus)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// toMoscow re-renders a portal UTC timestamp (DD.MM.YYYY HH:MM) in Moscow
// time, keeping the original layout. Unparseable input passes through as-is.
func (c *Client) toMoscow(ts string) string {
	t, err := time.ParseInLocation("02.01.2006 15:04", ts, time.UTC)
	if err != nil {
		return ts
	}
	return t.In(c.msk).Format("02.01.2006 15:04")
}
