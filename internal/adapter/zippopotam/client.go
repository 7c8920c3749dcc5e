// Package zippopotam implements ZIP code resolution against the
// Zippopotam.us API.
package zippopotam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/vitalenv/climate-risk-service/internal/domain"
	"github.com/vitalenv/climate-risk-service/internal/observability"
)

// Client implements domain.ZipResolver using the Zippopotam.us API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Zippopotam resolver client.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		metrics: metrics,
		logger:  logger,
	}
}

// Lookup resolves a ZIP code to coordinates and place details. An unknown
// code yields domain.ErrInvalidZip.
func (c *Client) Lookup(ctx context.Context, zip string) (domain.ZipLocation, error) {
	u := fmt.Sprintf("%s/%s", c.baseURL, zip)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.ZipLocation{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ZipLookups.WithLabelValues("error").Inc()
		return domain.ZipLocation{}, fmt.Errorf("zip lookup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.metrics.ZipLookups.WithLabelValues("invalid").Inc()
		return domain.ZipLocation{}, fmt.Errorf("zip %q: %w", zip, domain.ErrInvalidZip)
	}
	if resp.StatusCode != http.StatusOK {
		c.metrics.ZipLookups.WithLabelValues("error").Inc()
		body, _ := io.ReadAll(resp.Body)
		return domain.ZipLocation{}, fmt.Errorf("zippopotam API error: status %d: %s", resp.StatusCode, body)
	}

	var zr response
	if err := json.NewDecoder(resp.Body).Decode(&zr); err != nil {
		c.metrics.ZipLookups.WithLabelValues("error").Inc()
		return domain.ZipLocation{}, fmt.Errorf("decode response: %w", err)
	}

	if len(zr.Places) == 0 {
		c.metrics.ZipLookups.WithLabelValues("invalid").Inc()
		return domain.ZipLocation{}, fmt.Errorf("zip %q: %w", zip, domain.ErrInvalidZip)
	}

	p := zr.Places[0]
	lat, err := strconv.ParseFloat(p.Latitude, 64)
	if err != nil {
		return domain.ZipLocation{}, fmt.Errorf("parse latitude %q: %w", p.Latitude, err)
	}
	lon, err := strconv.ParseFloat(p.Longitude, 64)
	if err != nil {
		return domain.ZipLocation{}, fmt.Errorf("parse longitude %q: %w", p.Longitude, err)
	}

	c.metrics.ZipLookups.WithLabelValues("ok").Inc()
	return domain.ZipLocation{
		Zip:       zip,
		Latitude:  lat,
		Longitude: lon,
		City:      p.PlaceName,
		State:     p.StateAbbr,
	}, nil
}

// Zippopotam API response types. Coordinates arrive as strings.

type response struct {
	PostCode string  `json:"post code"`
	Places   []place `json:"places"`
}

type place struct {
	PlaceName string `json:"place name"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
	StateAbbr string `json:"state abbreviation"`
}
