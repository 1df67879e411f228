package route

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/veloserve/tracksync/internal/model"
)

// Provider computes directions between two points.
type Provider interface {
	GetDirections(ctx context.Context, origin, destination model.GeoPoint, profile string) (model.RouteSnapshot, error)
}

// ProviderFunc is a function adapter for Provider.
type ProviderFunc func(ctx context.Context, origin, destination model.GeoPoint, profile string) (model.RouteSnapshot, error)

func (f ProviderFunc) GetDirections(ctx context.Context, origin, destination model.GeoPoint, profile string) (model.RouteSnapshot, error) {
	return f(ctx, origin, destination, profile)
}

// httpProvider talks to an OSRM-compatible routing service.
type httpProvider struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPProvider creates a provider against an OSRM-compatible
// endpoint, e.g. https://router.project-osrm.org.
func NewHTTPProvider(baseURL string, client *http.Client, logger *slog.Logger) Provider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &httpProvider{
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}
}

// osrmResponse is the wire shape of a directions result. Coordinates
// arrive GeoJSON-style as [lng, lat] pairs.
type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func (p *httpProvider) GetDirections(ctx context.Context, origin, destination model.GeoPoint, profile string) (model.RouteSnapshot, error) {
	url := fmt.Sprintf("%s/route/v1/%s/%f,%f;%f,%f?overview=full&geometries=geojson",
		p.baseURL, profile,
		origin.Lng, origin.Lat,
		destination.Lng, destination.Lat,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.RouteSnapshot{}, fmt.Errorf("building directions request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return model.RouteSnapshot{}, fmt.Errorf("directions request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.RouteSnapshot{}, fmt.Errorf("directions request: status %d: %s", resp.StatusCode, body)
	}

	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.RouteSnapshot{}, fmt.Errorf("decoding directions response: %w", err)
	}

	if out.Code != "Ok" || len(out.Routes) == 0 {
		return model.RouteSnapshot{}, fmt.Errorf("directions unavailable: code %q, %d routes", out.Code, len(out.Routes))
	}

	best := out.Routes[0]
	geometry := make([]model.GeoPoint, 0, len(best.Geometry.Coordinates))
	for _, c := range best.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		geometry = append(geometry, model.GeoPoint{Lat: c[1], Lng: c[0]})
	}

	return model.RouteSnapshot{
		Geometry:        geometry,
		DistanceMeters:  best.Distance,
		DurationSeconds: best.Duration,
	}, nil
}
