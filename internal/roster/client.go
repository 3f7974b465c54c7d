package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"sfu-gateway/internal/model"
)

// APIError is a non-200 answer from the schedule service.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("schedule service error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Client fetches rosters from the schedule service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a schedule service client rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   2,
		retryBackoff: 200 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// scheduleResponse is the subset of the schedule document we read.
// Member objects carry more fields; only the id survives decoding.
type scheduleResponse struct {
	Students []model.Member `json:"class_roster_students"`
	Teachers []model.Member `json:"class_roster_teachers"`
}

// GetSchedule implements Source. cookie is the caller's access token and is
// forwarded as the access cookie.
func (c *Client) GetSchedule(ctx context.Context, scheduleID model.ScheduleID, orgID model.OrgID, cookie string) (model.Roster, error) {
	path := "/v1/schedules/" + url.PathEscape(string(scheduleID))
	query := url.Values{"org_id": {string(orgID)}}

	body, err := c.doWithRetry(ctx, path, query, cookie)
	if err != nil {
		return model.Roster{}, &UpstreamError{ScheduleID: scheduleID, OrgID: orgID, Err: err}
	}

	var resp *scheduleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Roster{}, &UpstreamError{ScheduleID: scheduleID, OrgID: orgID, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if resp == nil {
		return model.Roster{}, &UpstreamError{ScheduleID: scheduleID, OrgID: orgID, Err: errors.New("empty response")}
	}

	return normalize(model.Roster{Students: resp.Students, Teachers: resp.Teachers}), nil
}

// normalize replaces missing lists with empty ones and copies only member ids.
func normalize(r model.Roster) model.Roster {
	out := model.Roster{
		Students: make([]model.Member, 0, len(r.Students)),
		Teachers: make([]model.Member, 0, len(r.Teachers)),
	}
	for _, m := range r.Students {
		out.Students = append(out.Students, model.Member{ID: m.ID})
	}
	for _, m := range r.Teachers {
		out.Teachers = append(out.Teachers, model.Member{ID: m.ID})
	}
	return out
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values, cookie string) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "access", Value: cookie})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// doWithRetry performs the request with exponential backoff on retryable errors.
func (c *Client) doWithRetry(ctx context.Context, path string, query url.Values, cookie string) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
			c.logger.Debug("retrying schedule request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		body, err := c.doRequest(ctx, path, query, cookie)
		if err == nil {
			return body, nil
		}

		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
