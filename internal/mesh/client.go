// Package mesh is the REST client for the school portal. One operation per
// data need; every operation resolves the chat's stored credentials itself and
// returns wrapped sentinel errors for the expected failure modes, which the
// gateway maps to user-facing text. Expected failures are also appended to the
// failure log with operation name and chat id.
package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"meshbot/internal/logging"
	"meshbot/internal/metrics"
	"meshbot/internal/session"
)

// Sentinel errors for the expected, user-recoverable failure modes.
var (
	ErrNoSession      = errors.New("no session for chat")
	ErrUpstreamStatus = errors.New("unexpected portal status")
	ErrBadPayload     = errors.New("malformed portal payload")
	ErrTokenRejected  = errors.New("token rejected by portal")
)

const maxResponseBytes = 8 << 20

// SessionSource is the slice of the session store the client needs.
type SessionSource interface {
	Get(chatID string) (session.Session, bool)
	Put(chatID string, sess session.Session) error
}

// Config carries the two portal hosts and the per-request timeout. Tests
// point the base URLs at httptest servers.
type Config struct {
	// FamilyBaseURL is the mobile family API host (school.mos.ru).
	FamilyBaseURL string
	// CoreBaseURL is the diary core API host (dnevnik.mos.ru).
	CoreBaseURL string
	Timeout     time.Duration
}

// Client issues authenticated portal requests and maps responses into typed
// records. It is stateless apart from its collaborators.
type Client struct {
	cfg  Config
	http *http.Client
	// noRedirect is used where a 302 Location is the payload (test launch URLs).
	noRedirect *http.Client
	sessions   SessionSource
	failures   *logging.FailureLog
	logger     logging.Logger
	msk        *time.Location
}

// New constructs a portal client.
func New(cfg Config, sessions SessionSource, failures *logging.FailureLog, logger logging.Logger) *Client {
	if cfg.FamilyBaseURL == "" {
		cfg.FamilyBaseURL = "https://school.mos.ru"
	}
	if cfg.CoreBaseURL == "" {
		cfg.CoreBaseURL = "https://dnevnik.mos.ru"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	msk, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		msk = time.FixedZone("MSK", 3*60*60)
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		noRedirect: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		sessions: sessions,
		failures: failures,
		logger:   logging.OrNop(logger),
		msk:      msk,
	}
}

// fail records an expected failure and passes the error through.
func (c *Client) fail(op, chatID string, err error) error {
	metrics.PortalRequestFailed(op)
	c.failures.Record(op, chatID, err)
	c.logger.Warn("portal %s failed for chat %s: %v", op, chatID, err)
	return err
}

func (c *Client) credentials(chatID string) (session.Session, error) {
	sess, ok := c.sessions.Get(chatID)
	if !ok {
		return session.Session{}, ErrNoSession
	}
	return sess, nil
}

// familyHeaders are the headers for school.mos.ru mobile API requests.
func familyHeaders(sess session.Session) http.Header {
	h := http.Header{}
	h.Set("auth-token", sess.Token)
	h.Set("profile-id", sess.StudentID)
	h.Set("x-mes-subsystem", "familymp")
	return h
}

// coreHeaders are the headers for dnevnik.mos.ru core API requests, which
// additionally expect the credentials as cookies.
func coreHeaders(sess session.Session) http.Header {
	h := http.Header{}
	h.Set("Auth-Token", sess.Token)
	h.Set("Profile-Id", sess.StudentID)
	h.Set("Cookie", fmt.Sprintf("auth_token=%s; student_id=%s", sess.Token, sess.StudentID))
	return h
}

// getJSON issues one GET, enforces a 200 status and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, url string, headers http.Header, out any) error {
	body, status, err := c.get(ctx, url, headers)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("GET %s: status %d: %w", url, status, ErrUpstreamStatus)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("GET %s: %v: %w", url, err, ErrBadPayload)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string, headers http.Header) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("GET %s: %v: %w", url, err, ErrUpstreamStatus)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %v: %w", url, err, ErrBadPayload)
	}
	return body, resp.StatusCode, nil
}

// Profile fetches the first child profile attached to the chat's account.
func (c *Client) Profile(ctx context.Context, chatID string) (*Profile, error) {
	const op = "profile"
	metrics.PortalRequest(op)
	sess, err := c.credentials(chatID)
	if err != nil {
		return nil, c.fail(op, chatID, err)
	}
	var resp profileResponse
	url := c.cfg.FamilyBaseURL + "/api/family/mobile/v1/profile"
	if err := c.getJSON(ctx, url, familyHeaders(sess), &resp); err != nil {
		return nil, c.fail(op, chatID, err)
	}
	if len(resp.Children) == 0 {
		return nil, c.fail(op, chatID, fmt.Errorf("profile has no children records: %w", ErrBadPayload))
	}
	return &resp.Children[0], nil
}

// Notifications fetches the portal notification feed, newest first as
// delivered by the portal.
func (c *Client) Notifications(ctx context.Context, chatID string) ([]Notification, error) {
	const op = "notifications"
	metrics.PortalRequest(op)
	sess, err := c.credentials(chatID)
	if err != nil {
		return nil, c.fail(op, chatID, err)
	}
	url := fmt.Sprintf("%s/api/family/mobile/v1/notifications/search?student_id=%s",
		c.cfg.FamilyBaseURL, sess.StudentID)
	var raw []rawNotification
	if err := c.getJSON(ctx, url, familyHeaders(sess), &raw); err != nil {
		return nil, c.fail(op, chatID, err)
	}
	feed := make([]Notification, 0, len(raw))
	for _, entry := range raw {
		feed = append(feed, entry.toDomain())
	}
	return feed, nil
}

type tokenSessionResponse struct {
	Profiles []struct {
		ID int64 `json:"id"`
	} `json:"profiles"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	MiddleName string `json:"middle_name"`
}

// ValidateToken checks a raw credential against the portal and, on success,
// stores {token, student id} for the chat. The session store is untouched on
// any failure.
func (c *Client) ValidateToken(ctx context.Context, rawToken, chatID string) error {
	const op = "validate_token"
	metrics.PortalRequest(op)
	payload, err := json.Marshal(map[string]string{"auth_token": rawToken})
	if err != nil {
		return fmt.Errorf("encode token payload: %w", err)
	}
	url := c.cfg.CoreBaseURL + "/lms/api/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Auth-Token", rawToken)
	req.Header.Set("Cookie", "auth_token="+rawToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(op, chatID, fmt.Errorf("POST %s: %v: %w", url, err, ErrTokenRejected))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.fail(op, chatID, fmt.Errorf("POST %s: status %d: %w", url, resp.StatusCode, ErrTokenRejected))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.fail(op, chatID, fmt.Errorf("read token response: %v: %w", err, ErrBadPayload))
	}
	var decoded tokenSessionResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return c.fail(op, chatID, fmt.Errorf("decode token response: %v: %w", err, ErrBadPayload))
	}
	if len(decoded.Profiles) == 0 {
		return c.fail(op, chatID, fmt.Errorf("token response has no profiles: %w", ErrBadPayload))
	}
	studentID := fmt.Sprintf("%d", decoded.Profiles[0].ID)
	if err := c.sessions.Put(chatID, session.Session{Token: rawToken, StudentID: studentID}); err != nil {
		return c.fail(op, chatID, fmt.Errorf("persist session: %w", err))
	}
	c.logger.Info("token refreshed for chat %s (student %s, %s %s)",
		chatID, studentID, decoded.LastName, decoded.FirstName)
	return nil
}
