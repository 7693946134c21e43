package samsara

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	telemetry "fleet-ingest/internal/telemetry/domain"
)

const (
	// DefaultBaseURL is the public Samsara REST endpoint.
	DefaultBaseURL = "https://api.samsara.com"

	statsPath       = "/fleet/vehicles/stats"
	maxResponseSize = 64 << 20
	maxPages        = 10000
)

// ErrUnauthorized is returned when the API rejects the token.
var ErrUnauthorized = errors.New("samsara: unauthorized")

// Config configures the client.
type Config struct {
	BaseURL           string
	Token             string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        uint64
	BreakerFailures   uint32
	BreakerCooldown   time.Duration
}

// Client fetches vehicle stat snapshots from the Samsara API.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	client     *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[statsPage]
	maxRetries uint64
	logger     zerolog.Logger
}

type statsPage struct {
	Data       []json.RawMessage `json:"data"`
	Pagination struct {
		EndCursor   string `json:"endCursor"`
		HasNextPage bool   `json:"hasNextPage"`
	} `json:"pagination"`
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("samsara: http %d", e.StatusCode)
	}
	return fmt.Sprintf("samsara: http %d: %s", e.StatusCode, e.Body)
}

// NewClient constructs a Samsara client.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("samsara: empty api token")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("samsara: base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      cfg.Token,
		userAgent:  cfg.UserAgent,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[statsPage](gobreaker.Settings{
		Name:    "samsara",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return c, nil
}

// FetchSnapshots returns one snapshot per vehicle for the requested stat kinds,
// following pagination until the last page.
func (c *Client) FetchSnapshots(ctx context.Context, kinds []string) ([]telemetry.Value, error) {
	if len(kinds) == 0 {
		return nil, errors.New("samsara: no stat types requested")
	}
	var snapshots []telemetry.Value
	after := ""
	for page := 0; page < maxPages; page++ {
		resp, err := c.breaker.Execute(func() (statsPage, error) {
			return c.fetchPage(ctx, kinds, after)
		})
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Data {
			value, err := telemetry.ParseValue(raw)
			if err != nil {
				return nil, fmt.Errorf("samsara: decode vehicle: %w", err)
			}
			snapshots = append(snapshots, value)
		}
		if !resp.Pagination.HasNextPage || resp.Pagination.EndCursor == "" || resp.Pagination.EndCursor == after {
			return snapshots, nil
		}
		after = resp.Pagination.EndCursor
	}
	return snapshots, fmt.Errorf("samsara: pagination exceeded %d pages", maxPages)
}

// BreakerState exposes the circuit breaker state for status reporting.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) fetchPage(ctx context.Context, kinds []string, after string) (statsPage, error) {
	query := url.Values{}
	query.Set("types", strings.Join(kinds, ","))
	if after != "" {
		query.Set("after", after)
	}
	path := statsPath + "?" + query.Encode()

	var page statsPage
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := c.doJSON(ctx, http.MethodGet, path, &page)
		if err == nil {
			return nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < 500 && statusErr.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		if errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("vehicle stats request failed")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx), notify); err != nil {
		return statsPage{}, err
	}
	return page, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("samsara: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("samsara: read body: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("samsara: decode response: %w", err))
		}
	}
	c.logger.Info().Str("path", path).RawJSON("body", body).Msg("vehicle stats response")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
