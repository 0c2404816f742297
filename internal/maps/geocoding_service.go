// README: Google Geocoding API wrapper producing the opaque geo.Result.
package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"shinua/internal/geo"
)

// Geocoder resolves free-text addresses to a structured result. The task
// core only requires the result to be present; it never calls the provider
// directly.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*geo.Result, error)
}

// GeocodingService handles interactions with the Google Geocoding API.
type GeocodingService struct {
	client *maps.Client
}

// NewGeocodingService creates a GeocodingService with the given API key.
func NewGeocodingService(apiKey string) (*GeocodingService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GeocodingService{client: client}, nil
}

// Geocode resolves an address, biased to Hebrew results in Israel. A query
// with no matches returns a nil result, not an error.
func (s *GeocodingService) Geocode(ctx context.Context, address string) (*geo.Result, error) {
	if address == "" {
		return nil, nil
	}
	r := &maps.GeocodingRequest{
		Address:  address,
		Language: "iw",
		Region:   "il",
	}
	resp, err := s.client.Geocode(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("geocoding api error: %w", err)
	}
	if len(resp) == 0 {
		return nil, nil
	}

	result := &geo.Result{}
	for _, entry := range resp {
		e := geo.Entry{FormattedAddress: entry.FormattedAddress}
		for _, c := range entry.AddressComponents {
			e.AddressComponents = append(e.AddressComponents, geo.Component{
				LongName:  c.LongName,
				ShortName: c.ShortName,
				Types:     c.Types,
			})
		}
		result.Results = append(result.Results, e)
	}
	return result, nil
}
