// Package discord talks to the Discord REST API on behalf of the modmail
// engine. It provisions relay channels, delivers messages and resolves
// profiles.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/modmail/internal/modmail"
	"github.com/modmail/internal/retry"
)

var (
	_ modmail.ChannelProvisioner = (*Client)(nil)
	_ modmail.Transport          = (*Client)(nil)
	_ modmail.ProfileResolver    = (*Client)(nil)
)

// DefaultBaseURL is the v10 REST endpoint.
const DefaultBaseURL = "https://discord.com/api/v10"

// Config holds the client settings.
type Config struct {
	BaseURL           string
	Token             string
	GuildID           string // community hosting relay channels
	Categories        map[modmail.CategorySlot]string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	HTTPClient        *http.Client
	Retry             *retry.RetryConfig // nil means retry.RateLimitRetryConfig()
}

// Client is a small REST client covering the calls modmail needs.
type Client struct {
	baseURL    string
	token      string
	guildID    string
	categories map[modmail.CategorySlot]string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retry.RetryConfig

	mu         sync.Mutex
	dmChannels map[string]string
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord: token is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	retryConfig := retry.RateLimitRetryConfig()
	if cfg.Retry != nil {
		retryConfig = *cfg.Retry
	}

	categories := make(map[modmail.CategorySlot]string, len(cfg.Categories))
	for slot, id := range cfg.Categories {
		if id = strings.TrimSpace(id); id != "" {
			categories[slot] = id
		}
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		guildID:    strings.TrimSpace(cfg.GuildID),
		categories: categories,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		retry:      retryConfig,
		dmChannels: make(map[string]string),
	}, nil
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("discord: HTTP %d", e.Status)
	}
	return fmt.Sprintf("discord: HTTP %d: %s (code %d)", e.Status, e.Message, e.Code)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type rateLimitBody struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

// do performs one API call. A 429 is waited out and retried because the
// request was not processed. Every other failure is returned as is.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		payload = b
	}

	attempt := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bot "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read %s %s response: %w", method, path, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			var rl rateLimitBody
			_ = json.Unmarshal(raw, &rl)
			wait := time.Duration(rl.RetryAfter * float64(time.Second))
			if wait <= 0 {
				if secs, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); err == nil {
					wait = time.Duration(secs * float64(time.Second))
				}
			}
			log.Debug().
				Str("method", method).
				Str("path", path).
				Dur("retry_after", wait).
				Bool("global", rl.Global).
				Msg("Rate limited by platform")
			return retry.After(wait, &APIError{Status: resp.StatusCode, Message: rl.Message})
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{Status: resp.StatusCode}
			_ = json.Unmarshal(raw, apiErr)
			return apiErr
		}

		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
		return nil
	}

	result := retry.RetryWithBackoff(ctx, c.retry, attempt)
	if result.Success {
		return nil
	}
	return result.LastError
}
