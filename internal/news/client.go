package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/matchpulse/predictor/models"
)

// Client pulls already-classified events from the external news provider
// and lands them in storage. Requests are rate limited and retried with
// exponential backoff.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// ClientOptions holds options for creating a news provider client.
type ClientOptions struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	RequestsPerSec int
}

// NewClient creates a news provider client.
func NewClient(opts ClientOptions) *Client {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 5
	}

	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: opts.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second), opts.RequestsPerSec),
		logger:     log.With().Str("component", "news_client").Logger(),
	}
}

type eventsResponse struct {
	Events []models.NewsEvent `json:"events"`
}

// FetchEvents fetches classified events detected since the given time.
func (c *Client) FetchEvents(ctx context.Context, since time.Time) ([]models.NewsEvent, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/events?since=%s", c.baseURL, since.UTC().Format(time.RFC3339))

	var events []models.NewsEvent
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("news provider returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		var parsed eventsResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("decode news response: %w", err))
		}
		events = parsed.Events
		return nil
	}

	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(backoffStrategy, ctx)); err != nil {
		return nil, err
	}

	c.logger.Debug().Int("count", len(events)).Msg("fetched news events")
	return events, nil
}

// Sync pulls events newer than `since` and stores them.
func (c *Client) Sync(ctx context.Context, store models.NewsStore, since time.Time) (int, error) {
	events, err := c.FetchEvents(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("fetch news events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}
	if err := store.InsertNewsEvents(ctx, events); err != nil {
		return 0, fmt.Errorf("store news events: %w", err)
	}
	return len(events), nil
}
