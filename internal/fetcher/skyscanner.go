package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"flight-price-alerts/internal/domain"
	"flight-price-alerts/internal/logging"
)

const (
	defaultTimeout = 20 * time.Second
	defaultURL     = "https://sky-scanner3.p.rapidapi.com/flights/search-roundtrip"
	maxErrorBody   = 512
)

// SkyscannerOptions parameterise the price search client.
type SkyscannerOptions struct {
	URL          string
	FromEntityID string
	ExtraQuery   string
	APIKey       string
	APIHost      string
	Timeout      time.Duration
	UserAgent    string
	// Now overrides the capture clock; nil means time.Now.
	Now func() time.Time
}

// Skyscanner fetches "everywhere" round-trip destination quotes.
type Skyscanner struct {
	opts   SkyscannerOptions
	client *resty.Client
	logger zerolog.Logger
}

// NewSkyscanner constructs the upstream client.
func NewSkyscanner(opts SkyscannerOptions, logger zerolog.Logger) *Skyscanner {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if strings.TrimSpace(opts.URL) == "" {
		opts.URL = defaultURL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		client.SetHeader("User-Agent", ua)
	}

	return &Skyscanner{
		opts:   opts,
		client: client,
		logger: logging.Component(logger, "fetcher"),
	}
}

// Fetch performs a single search call and stamps every result with one capture time.
func (s *Skyscanner) Fetch(ctx context.Context) ([]domain.RawResult, error) {
	params, err := s.queryParams()
	if err != nil {
		return nil, err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		SetHeaders(s.authHeaders()).
		Get(s.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamFetch, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode(), resp.Body())
	}

	var payload searchResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", domain.ErrUpstreamFetch, err)
	}
	if payload.Data == nil || payload.Data.EverywhereDestination == nil || payload.Data.EverywhereDestination.Results == nil {
		return nil, fmt.Errorf("%w: response has no data.everywhereDestination.results", domain.ErrUpstreamFetch)
	}

	results := *payload.Data.EverywhereDestination.Results
	captured := s.opts.Now().Format(domain.TimestampLayout)
	for i := range results {
		ts := captured
		results[i].Timestamp = &ts
	}

	s.logger.Info().Int("results", len(results)).Str("captured_at", captured).Msg("fetched flight prices")
	return results, nil
}

func (s *Skyscanner) queryParams() (url.Values, error) {
	params := url.Values{}
	if s.opts.ExtraQuery != "" {
		extra, err := url.ParseQuery(s.opts.ExtraQuery)
		if err != nil {
			return nil, fmt.Errorf("parse upstream extra query: %w", err)
		}
		params = extra
	}
	if s.opts.FromEntityID != "" {
		params.Set("fromEntityId", s.opts.FromEntityID)
	}
	return params, nil
}

func (s *Skyscanner) authHeaders() map[string]string {
	headers := make(map[string]string, 2)
	if s.opts.APIKey != "" {
		headers["x-rapidapi-key"] = s.opts.APIKey
	}
	if s.opts.APIHost != "" {
		headers["x-rapidapi-host"] = s.opts.APIHost
	}
	return headers
}

type searchResponse struct {
	Data *struct {
		EverywhereDestination *struct {
			Results *[]domain.RawResult `json:"results"`
		} `json:"everywhereDestination"`
	} `json:"data"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("%w: status %d: %s", domain.ErrUpstreamFetch, status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("%w: status %d: %s", domain.ErrUpstreamFetch, status, apiErr.Error)
		}
	}
	body := strings.TrimSpace(string(payload))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	if body != "" {
		return fmt.Errorf("%w: status %d: %s", domain.ErrUpstreamFetch, status, body)
	}
	return fmt.Errorf("%w: status %d", domain.ErrUpstreamFetch, status)
}

var _ PriceFetcher = (*Skyscanner)(nil)
