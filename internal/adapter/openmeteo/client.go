// Package openmeteo fetches temperature and air-quality readings from the
// Open-Meteo forecast and air-quality APIs.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vitalenv/climate-risk-service/internal/domain"
	"github.com/vitalenv/climate-risk-service/internal/observability"
)

// Client implements domain.EnvFetcher against the two Open-Meteo endpoints.
// The forecast API serves temperature; air quality lives on a separate host.
type Client struct {
	weatherBaseURL    string
	airQualityBaseURL string
	forecastDays      int
	httpClient        *http.Client
	backoff           backoffConfig
	circuit           *gobreaker.CircuitBreaker
	metrics           *observability.Metrics
	logger            *slog.Logger
}

// NewClient creates an Open-Meteo client. forecastDays bounds the hourly
// series length; the daily mode always reads the current day only.
func NewClient(weatherBaseURL, airQualityBaseURL string, forecastDays int, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openmeteo",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		weatherBaseURL:    weatherBaseURL,
		airQualityBaseURL: airQualityBaseURL,
		forecastDays:      forecastDays,
		httpClient:        &http.Client{Timeout: timeout},
		backoff: backoffConfig{
			maxRetries:      3,
			initialInterval: 500 * time.Millisecond,
			maxInterval:     5 * time.Second,
		},
		circuit: cb,
		metrics: metrics,
		logger:  logger,
	}
}

// FetchDaily returns today's maximum temperature and the maximum of today's
// hourly AQI readings. Both endpoints are queried concurrently.
func (c *Client) FetchDaily(ctx context.Context, lat, lon float64) (domain.DailyReading, error) {
	var (
		wg         sync.WaitGroup
		weather    dailyWeatherResponse
		aqi        hourlyAQIResponse
		weatherErr error
		aqiErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		weatherErr = c.getJSON(ctx, c.weatherBaseURL, url.Values{
			"latitude":  {formatCoord(lat)},
			"longitude": {formatCoord(lon)},
			"daily":     {"temperature_2m_max"},
			"timezone":  {"auto"},
		}, &weather)
	}()
	go func() {
		defer wg.Done()
		aqiErr = c.getJSON(ctx, c.airQualityBaseURL, url.Values{
			"latitude":  {formatCoord(lat)},
			"longitude": {formatCoord(lon)},
			"hourly":    {"us_aqi"},
			"timezone":  {"auto"},
		}, &aqi)
	}()
	wg.Wait()

	if weatherErr != nil {
		c.metrics.EnvFetches.WithLabelValues("daily", "error").Inc()
		return domain.DailyReading{}, fmt.Errorf("fetch daily temperature: %w", weatherErr)
	}
	if aqiErr != nil {
		c.metrics.EnvFetches.WithLabelValues("daily", "error").Inc()
		return domain.DailyReading{}, fmt.Errorf("fetch air quality: %w", aqiErr)
	}

	if len(weather.Daily.TemperatureMax) == 0 {
		c.metrics.EnvFetches.WithLabelValues("daily", "error").Inc()
		return domain.DailyReading{}, fmt.Errorf("weather response has no daily maximum")
	}

	maxAQI, ok := maxOf(aqi.Hourly.USAQI)
	if !ok {
		c.metrics.EnvFetches.WithLabelValues("daily", "error").Inc()
		return domain.DailyReading{}, fmt.Errorf("air quality response has no hourly readings")
	}

	c.metrics.EnvFetches.WithLabelValues("daily", "success").Inc()
	return domain.DailyReading{
		MaxTemp: weather.Daily.TemperatureMax[0],
		MaxAQI:  maxAQI,
	}, nil
}

// FetchHourly returns the multi-day hourly forecast series. Temperature is
// requested in Fahrenheit; the AQI endpoint's time axis is authoritative for
// the merged series.
func (c *Client) FetchHourly(ctx context.Context, lat, lon float64) (domain.HourlySeries, error) {
	days := strconv.Itoa(c.forecastDays)

	var (
		wg         sync.WaitGroup
		weather    hourlyWeatherResponse
		aqi        hourlyAQIResponse
		weatherErr error
		aqiErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		weatherErr = c.getJSON(ctx, c.weatherBaseURL, url.Values{
			"latitude":         {formatCoord(lat)},
			"longitude":        {formatCoord(lon)},
			"hourly":           {"temperature_2m"},
			"forecast_days":    {days},
			"timezone":         {"auto"},
			"temperature_unit": {"fahrenheit"},
		}, &weather)
	}()
	go func() {
		defer wg.Done()
		aqiErr = c.getJSON(ctx, c.airQualityBaseURL, url.Values{
			"latitude":      {formatCoord(lat)},
			"longitude":     {formatCoord(lon)},
			"hourly":        {"us_aqi"},
			"forecast_days": {days},
			"timezone":      {"auto"},
		}, &aqi)
	}()
	wg.Wait()

	if weatherErr != nil {
		c.metrics.EnvFetches.WithLabelValues("hourly", "error").Inc()
		return domain.HourlySeries{}, fmt.Errorf("fetch hourly temperature: %w", weatherErr)
	}
	if aqiErr != nil {
		c.metrics.EnvFetches.WithLabelValues("hourly", "error").Inc()
		return domain.HourlySeries{}, fmt.Errorf("fetch hourly air quality: %w", aqiErr)
	}

	series := domain.HourlySeries{
		Time:        aqi.Hourly.Time,
		Temperature: weather.Hourly.Temperature,
		AQI:         aqi.Hourly.USAQI,
	}
	if len(series.Time) == 0 {
		c.metrics.EnvFetches.WithLabelValues("hourly", "error").Inc()
		return domain.HourlySeries{}, fmt.Errorf("air quality response has no hourly readings")
	}

	c.metrics.EnvFetches.WithLabelValues("hourly", "success").Inc()
	return series, nil
}

func (c *Client) getJSON(ctx context.Context, baseURL string, params url.Values, out any) error {
	buildRequest := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, baseURL+"?"+params.Encode(), nil)
	}

	resp, err := doRequestWithResilience(ctx, c.httpClient, c.backoff, c.circuit, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// maxOf returns the maximum of the non-nil readings. ok is false when every
// element is nil or the slice is empty.
func maxOf(values []*float64) (float64, bool) {
	var (
		found bool
		max   float64
	)
	for _, v := range values {
		if v == nil {
			continue
		}
		if !found || *v > max {
			max = *v
		}
		found = true
	}
	return max, found
}

// Open-Meteo response types.

type dailyWeatherResponse struct {
	Daily struct {
		TemperatureMax []float64 `json:"temperature_2m_max"`
	} `json:"daily"`
}

type hourlyWeatherResponse struct {
	Hourly struct {
		Time        []string   `json:"time"`
		Temperature []*float64 `json:"temperature_2m"`
	} `json:"hourly"`
}

type hourlyAQIResponse struct {
	Hourly struct {
		Time  []string   `json:"time"`
		USAQI []*float64 `json:"us_aqi"`
	} `json:"hourly"`
}
