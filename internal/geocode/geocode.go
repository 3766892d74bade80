// Package geocode turns a street address into the swarm's reference point.
//
// Geocoding is the only asynchronous input to the swarm. Callers resolve the
// address through a Resolver, which never fails: any problem falls back to
// model.DefaultCenter so the formation always has a center to work with.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/drone-formation-sim/model"
)

var (
	// ErrNoResults is returned when the geocoder knows no place for the
	// address.
	ErrNoResults = errors.New("geocode: no results")
	// ErrInvalidResponse is returned when the geocoder answered with
	// something that is not a usable coordinate.
	ErrInvalidResponse = errors.New("geocode: invalid response")
	// ErrEmptyAddress is returned for blank input.
	ErrEmptyAddress = errors.New("geocode: empty address")
)

// Geocoder resolves a free-form address to a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (model.GeoPoint, error)
}

// Nominatim queries an OpenStreetMap Nominatim search endpoint.
type Nominatim struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

// NewNominatim returns a client for baseURL whose requests time out after
// timeout. Nominatim's usage policy requires an identifying User-Agent.
func NewNominatim(baseURL, userAgent string, timeout time.Duration) *Nominatim {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Nominatim{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		UserAgent: userAgent,
		Client:    &http.Client{Timeout: timeout},
	}
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode implements Geocoder using the first search hit.
func (n *Nominatim) Geocode(ctx context.Context, address string) (model.GeoPoint, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return model.GeoPoint{}, ErrEmptyAddress
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("q", address)
	endpoint := n.BaseURL + "/search?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.GeoPoint{}, fmt.Errorf("geocode: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if n.UserAgent != "" {
		req.Header.Set("User-Agent", n.UserAgent)
	}

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return model.GeoPoint{}, fmt.Errorf("geocode: request %q: %w", address, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return model.GeoPoint{}, fmt.Errorf("geocode: unexpected status %d", res.StatusCode)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&places); err != nil {
		return model.GeoPoint{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(places) == 0 {
		return model.GeoPoint{}, ErrNoResults
	}

	lat, errLat := strconv.ParseFloat(places[0].Lat, 64)
	lon, errLon := strconv.ParseFloat(places[0].Lon, 64)
	if errLat != nil || errLon != nil {
		return model.GeoPoint{}, fmt.Errorf("%w: lat=%q lon=%q", ErrInvalidResponse, places[0].Lat, places[0].Lon)
	}
	p := model.GeoPoint{Latitude: lat, Longitude: lon}
	if !p.Valid() {
		return model.GeoPoint{}, fmt.Errorf("%w: %v out of range", ErrInvalidResponse, p)
	}
	return p, nil
}

// Static always answers with the same point or error.
type Static struct {
	Point model.GeoPoint
	Err   error
}

// Geocode implements Geocoder.
func (s Static) Geocode(ctx context.Context, _ string) (model.GeoPoint, error) {
	if err := ctx.Err(); err != nil {
		return model.GeoPoint{}, err
	}
	if s.Err != nil {
		return model.GeoPoint{}, s.Err
	}
	return s.Point, nil
}
