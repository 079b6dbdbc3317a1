// Package geocode resolves UK postcodes to coordinates through postcodes.io.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mihaimyh/gympass/pkg/membership"
)

// DefaultBaseURL is the public postcodes.io API
const DefaultBaseURL = "https://api.postcodes.io"

var (
	// ErrPostcodeNotFound is returned for unknown or malformed postcodes
	ErrPostcodeNotFound = errors.New("postcode not found")

	// ErrUpstream is returned when postcodes.io fails after retries
	ErrUpstream = errors.New("geocoding service unavailable")
)

// Config configures a Client
type Config struct {
	// BaseURL defaults to DefaultBaseURL
	BaseURL string

	// Timeout bounds each attempt (default: 5s)
	Timeout time.Duration

	// RetryMax is the number of retries on 5xx, 429 and network errors (default: 2)
	RetryMax int

	// RetryWaitMin and RetryWaitMax bound the backoff (defaults: 100ms, 2s)
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	Logger membership.Logger
}

// Client implements membership.Geocoder
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	logger  membership.Logger
}

var _ membership.Geocoder = (*Client)(nil)

// New creates a Client
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	} else if cfg.RetryMax == 0 {
		cfg.RetryMax = 2
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = 100 * time.Millisecond
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = &membership.NoopLogger{}
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.Logger = nil
	logger := cfg.Logger
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Debug("retrying geocode request", membership.F("attempt", attempt), membership.F("path", req.URL.Path))
		}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    rc,
		logger:  cfg.Logger,
	}
}

type lookupResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Result *struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"result"`
}

// Geocode returns the centroid of postcode
func (c *Client) Geocode(ctx context.Context, postcode string) (*membership.Location, error) {
	pc := strings.ToUpper(strings.TrimSpace(postcode))
	if pc == "" {
		return nil, ErrPostcodeNotFound
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/postcodes/"+url.PathEscape(pc), nil)
	if err != nil {
		return nil, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrPostcodeNotFound, pc)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, body.Error)
	}

	// Some valid postcodes (e.g. Channel Islands) have no coordinates
	if body.Result == nil || body.Result.Latitude == nil || body.Result.Longitude == nil {
		return nil, fmt.Errorf("%w: %s has no coordinates", ErrPostcodeNotFound, pc)
	}
	return &membership.Location{Latitude: *body.Result.Latitude, Longitude: *body.Result.Longitude}, nil
}
