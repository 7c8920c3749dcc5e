//go:build zippopotam

package zippopotam

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalenv/climate-risk-service/internal/domain"
	"github.com/vitalenv/climate-risk-service/internal/observability"
)

// These tests hit the real Zippopotam.us API.
// Run with: go test -tags=zippopotam ./internal/adapter/zippopotam/ -v -count=1

func smokeClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://api.zippopotam.us/us",
		metrics:    observability.NewMetricsForTesting(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSmoke_Lookup(t *testing.T) {
	c := smokeClient()

	loc, err := c.Lookup(context.Background(), "10001")
	require.NoError(t, err)

	assert.InDelta(t, 40.75, loc.Latitude, 0.1, "lat should be near Manhattan")
	assert.InDelta(t, -73.99, loc.Longitude, 0.1, "lon should be near Manhattan")
	assert.Equal(t, "New York", loc.City)
	assert.Equal(t, "NY", loc.State)
}

func TestSmoke_Lookup_Unknown(t *testing.T) {
	c := smokeClient()

	_, err := c.Lookup(context.Background(), "00000")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidZip)
}
