// Package geocode resolves free-text queries to geographic anchor points
// via the OSM Nominatim service, with a local fallback table for
// conceptual queries that are not literal place names.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/skylens/chipquery/internal/breaker"
	"github.com/skylens/chipquery/internal/core"
	"github.com/skylens/chipquery/internal/errors"
	"github.com/skylens/chipquery/internal/limiter"
	"github.com/skylens/chipquery/internal/metrics"
)

const defaultBaseURL = "https://nominatim.openstreetmap.org/search"

// Provider resolves a text query to an anchor point. Implemented by
// Client and by test doubles.
type Provider interface {
	Geocode(ctx context.Context, query string) (core.GeocodeResult, error)
}

// ClientConfig configures the Nominatim client.
type ClientConfig struct {
	BaseURL   string
	UserAgent string
	// RegionBias, when non-empty, is appended to every query to anchor
	// ambiguous terms to the corpus region ("San Francisco, California,
	// USA" for the production corpus).
	RegionBias string
	Timeout    time.Duration
}

// Client is an HTTP client for the Nominatim /search endpoint. Outbound
// calls pass through a token-bucket rate limiter (Nominatim usage policy)
// and a circuit breaker so a dead upstream fails fast instead of holding
// request goroutines for the full timeout.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *limiter.RateLimiter
	breaker *breaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates a Nominatim client. A BaseURL without a path is
// taken as the provider host and gets the /search endpoint appended,
// so both host-only and full endpoint URLs are accepted.
func NewClient(cfg ClientConfig, rl *limiter.RateLimiter, cb *breaker.CircuitBreaker, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	} else if u, err := url.Parse(cfg.BaseURL); err == nil && (u.Path == "" || u.Path == "/") {
		u.Path = "/search"
		cfg.BaseURL = u.String()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if rl == nil {
		rl = limiter.NewRateLimiter(limiter.Config{})
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rl,
		breaker: cb,
		logger:  logger,
	}
}

// nominatimHit mirrors the provider's response shape. Nominatim encodes
// coordinates as strings.
type nominatimHit struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode resolves query via the upstream provider. Zero matches surface
// as KindNotFound; rate-limit responses, 5xx, transport failures and
// malformed payloads surface as KindUpstream. Nothing is cached at this
// layer.
func (c *Client) Geocode(ctx context.Context, query string) (core.GeocodeResult, error) {
	const op = "geocode.Client.Geocode"

	if err := c.limiter.Wait(ctx); err != nil {
		return core.GeocodeResult{}, errors.WrapUpstream(err, op, "rate limiter wait aborted")
	}

	var res core.GeocodeResult
	var notFound error
	call := func() error {
		r, err := c.geocodeOnce(ctx, query)
		if err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				// Zero matches is a legitimate answer, not an upstream
				// failure; it must not trip the breaker.
				notFound = err
				return nil
			}
			return err
		}
		res = r
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
		if err == breaker.ErrOpenState {
			metrics.GeocodeRequestsTotal.WithLabelValues("upstream_error").Inc()
			return core.GeocodeResult{}, errors.WrapUpstream(err, op, "circuit open")
		}
	} else {
		err = call()
	}
	if err != nil {
		metrics.GeocodeRequestsTotal.WithLabelValues("upstream_error").Inc()
		return core.GeocodeResult{}, err
	}
	if notFound != nil {
		metrics.GeocodeRequestsTotal.WithLabelValues("not_found").Inc()
		return core.GeocodeResult{}, notFound
	}

	metrics.GeocodeRequestsTotal.WithLabelValues("ok").Inc()
	return res, nil
}

func (c *Client) geocodeOnce(ctx context.Context, query string) (core.GeocodeResult, error) {
	const op = "geocode.Client.Geocode"

	q := query
	if c.cfg.RegionBias != "" {
		q = query + " in " + c.cfg.RegionBias
	}

	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "json")
	params.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return core.GeocodeResult{}, errors.WrapUpstream(err, op, "build request")
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.GeocodeDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return core.GeocodeResult{}, errors.WrapUpstream(err, op, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.GeocodeResult{}, errors.Newf(errors.KindUpstream, op, "unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return core.GeocodeResult{}, errors.WrapUpstream(err, op, "read body")
	}

	var hits []nominatimHit
	if err := json.Unmarshal(body, &hits); err != nil {
		return core.GeocodeResult{}, errors.WrapUpstream(err, op, "malformed payload")
	}
	if len(hits) == 0 {
		return core.GeocodeResult{}, errors.NewNotFound(op, fmt.Sprintf("no match for %q", query))
	}

	lat, err := strconv.ParseFloat(hits[0].Lat, 64)
	if err != nil {
		return core.GeocodeResult{}, errors.WrapUpstream(err, op, "malformed latitude")
	}
	lon, err := strconv.ParseFloat(hits[0].Lon, 64)
	if err != nil {
		return core.GeocodeResult{}, errors.WrapUpstream(err, op, "malformed longitude")
	}
	coord := core.Coordinate{Lat: lat, Lon: lon}
	if !coord.Valid() {
		return core.GeocodeResult{}, errors.Newf(errors.KindUpstream, op, "coordinate out of range: %v", coord)
	}

	if c.logger != nil {
		c.logger.Debug("geocode resolved",
			zap.String("query", query),
			zap.Float64("lat", lat),
			zap.Float64("lon", lon))
	}

	return core.GeocodeResult{
		Coordinate:  coord,
		DisplayName: hits[0].DisplayName,
		FetchedAt:   time.Now(),
	}, nil
}
