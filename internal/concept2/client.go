package concept2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rowpledge/internal/config"
	"github.com/rowpledge/internal/domain"
)

const (
	resultsPath = "/api/users/me/results"
	userPath    = "/api/users/me"

	// maxPages bounds pagination against a server that never reports the end
	maxPages = 100
)

// Client is a rate-limited Concept2 logbook API client
type Client struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	pageSize int
	logger   *slog.Logger
}

// NewClient creates a new logbook client
func NewClient(cfg *config.Concept2Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		pageSize: cfg.PageSize,
		logger:   logger,
	}
}

// FetchResults returns every rower result for the token's owner dated within
// the window, following pagination
func (c *Client) FetchResults(ctx context.Context, accessToken string, window domain.Window) ([]Result, error) {
	var results []Result
	for page := 1; page <= maxPages; page++ {
		query := url.Values{}
		query.Set("from", window.FirstDay())
		query.Set("to", window.LastDay())
		query.Set("type", domain.ActivityTypeRower)
		query.Set("page", strconv.Itoa(page))
		if c.pageSize > 0 {
			query.Set("number", strconv.Itoa(c.pageSize))
		}

		body, err := c.get(ctx, accessToken, resultsPath, query)
		if err != nil {
			return nil, err
		}

		var resp resultsPage
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("parse results: %w", err)
		}
		results = append(results, resp.Data...)

		pagination := resp.Meta.Pagination
		if len(resp.Data) == 0 || pagination.TotalPages <= page {
			break
		}
	}

	c.logger.Debug("fetched concept2 results",
		"window", window.String(),
		"count", len(results),
	)
	return results, nil
}

// CurrentUser returns the logbook user owning the access token
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	body, err := c.get(ctx, accessToken, userPath, nil)
	if err != nil {
		return nil, err
	}

	var env userEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse user: %w", err)
	}
	user := env.User
	if env.Data != nil {
		user = *env.Data
	}
	if user.ID == "" {
		return nil, fmt.Errorf("parse user: missing id")
	}
	return &user, nil
}

// get executes an authenticated GET with rate limiting and maps failures to
// domain errors
func (c *Client) get(ctx context.Context, accessToken, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrTransient, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrTransient, err)
	}

	c.logger.Debug("concept2 request",
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, domain.ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s returned status %d", domain.ErrTransient, path, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, truncate(body, 200))
	}
}

func truncate(body []byte, n int) string {
	if len(body) > n {
		return string(body[:n])
	}
	return string(body)
}
