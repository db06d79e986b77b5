package geocode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"googlemaps.github.io/maps"

	"github.com/lox/sanitrack/internal/metrics"
	"github.com/lox/sanitrack/internal/models"
)

var ErrNoResults = errors.New("address not found")

// Client resolves free-form addresses to coordinates.
type Client struct {
	maps *maps.Client
}

// NewClient reads MAPS_API_KEY from the environment. Extra options are passed
// to the maps client.
func NewClient(opts ...maps.ClientOption) (*Client, error) {
	apiKey := os.Getenv("MAPS_API_KEY")
	if apiKey == "" {
		return nil, errors.New("MAPS_API_KEY environment variable not set")
	}
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	mc, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return &Client{maps: mc}, nil
}

// Result is the best match for an address.
type Result struct {
	Coordinate       models.Coordinate
	FormattedAddress string
}

// Geocode returns the first result for an address.
func (c *Client) Geocode(ctx context.Context, address string) (*Result, error) {
	start := time.Now()
	results, err := c.maps.Geocode(ctx, &maps.GeocodingRequest{
		Address: address,
	})
	metrics.UpstreamLatency.WithLabelValues("geocode").Observe(time.Since(start).Seconds())
	metrics.UpstreamCallsTotal.WithLabelValues("geocode", metrics.Status(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", address, err)
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}

	loc := results[0].Geometry.Location
	return &Result{
		Coordinate:       models.Coordinate{Lat: loc.Lat, Lng: loc.Lng},
		FormattedAddress: results[0].FormattedAddress,
	}, nil
}
