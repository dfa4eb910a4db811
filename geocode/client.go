// Package geocode resolves coordinates to display addresses through a
// Nominatim endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang/geo/s2"
)

// Client queries a Nominatim-compatible reverse geocoding service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a reverse geocoding client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// ValidCoordinates reports whether a latitude/longitude pair is on the globe.
func ValidCoordinates(lat, lon float64) bool {
	return s2.LatLngFromDegrees(lat, lon).IsValid()
}

// Reverse resolves a coordinate pair to a human-readable address.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	if !ValidCoordinates(lat, lon) {
		return "", fmt.Errorf("invalid coordinates %f,%f", lat, lon)
	}

	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("lat", fmt.Sprintf("%f", lat))
	params.Set("lon", fmt.Sprintf("%f", lon))

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/reverse?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "citypulse-backend")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach geocoding service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocoding service returned status %d", resp.StatusCode)
	}

	var result reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode geocoding response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("geocoding error: %s", result.Error)
	}
	if result.DisplayName == "" {
		return "", fmt.Errorf("no address found for %f,%f", lat, lon)
	}

	return result.DisplayName, nil
}

// FallbackAddress is the raw-coordinate address used when the resolver is
// unavailable, matching what the mobile client shows in that case.
func FallbackAddress(lat, lon float64) string {
	return fmt.Sprintf("Lat: %f, Lon: %f", lat, lon)
}
