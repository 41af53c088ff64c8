package overpass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osm-tileset/internal/logger"
)

// DefaultEndpoint is the public Overpass API interpreter
const DefaultEndpoint = "https://overpass-api.de/api/interpreter"

// DefaultGeocoder is the public Nominatim search endpoint
const DefaultGeocoder = "https://nominatim.openstreetmap.org/search"

// metersPerDegree is the length of one degree of latitude
const metersPerDegree = 111320.0

// ErrInvalidQuery is returned when a Query cannot be turned into Overpass QL
var ErrInvalidQuery = errors.New("invalid overpass query")

// Query describes a tag search around a place. Either Bounds is set, or
// a center together with SearchRadiusMeters. Client.Run geocodes
// Placename when neither is given.
type Query struct {
	Placename          string
	CenterLat          float64
	CenterLon          float64
	HasCenter          bool // CenterLat and CenterLon are set
	SearchRadiusMeters float64
	Bounds             []float64 // south, west, north, east
	Tag                string
	Values             []string
	CaseInsensitive    bool
	Timeout            int // seconds
}

// SearchBounds returns the south, west, north, east bounds searched by the query
func (q *Query) SearchBounds() ([]float64, error) {
	if len(q.Bounds) == 4 {
		return q.Bounds, nil
	}
	if len(q.Bounds) != 0 {
		return nil, fmt.Errorf("%w: bounds must have 4 values: south,west,north,east", ErrInvalidQuery)
	}
	if !q.HasCenter {
		return nil, fmt.Errorf("%w: need bounds or a center (place %q is not geocoded)", ErrInvalidQuery, q.Placename)
	}
	if q.SearchRadiusMeters <= 0 {
		return nil, fmt.Errorf("%w: need a search radius for center (%f, %f)", ErrInvalidQuery, q.CenterLat, q.CenterLon)
	}

	dLat := q.SearchRadiusMeters / metersPerDegree
	dLon := q.SearchRadiusMeters / (metersPerDegree * math.Cos(q.CenterLat*math.Pi/180.0))
	return []float64{
		math.Max(q.CenterLat-dLat, -90),
		math.Max(q.CenterLon-dLon, -180),
		math.Min(q.CenterLat+dLat, 90),
		math.Min(q.CenterLon+dLon, 180),
	}, nil
}

// QL renders the query in Overpass QL, asking for full geometry
func (q *Query) QL() (string, error) {
	if q.Tag == "" {
		return "", fmt.Errorf("%w: tag is required", ErrInvalidQuery)
	}
	bounds, err := q.SearchBounds()
	if err != nil {
		return "", err
	}

	timeout := q.Timeout
	if timeout <= 0 {
		timeout = 25
	}

	filter := fmt.Sprintf("[%q]", q.Tag)
	if len(q.Values) > 0 {
		alts := make([]string, len(q.Values))
		for i, v := range q.Values {
			alts[i] = qlEscaper.Replace(regexp.QuoteMeta(v))
		}
		filter = fmt.Sprintf("[%q~\"^(%s)$\"", q.Tag, strings.Join(alts, "|"))
		if q.CaseInsensitive {
			filter += ",i"
		}
		filter += "]"
	}
	bbox := fmt.Sprintf("(%f,%f,%f,%f)", bounds[0], bounds[1], bounds[2], bounds[3])

	var sb strings.Builder
	fmt.Fprintf(&sb, "[out:json][timeout:%d];\n(\n", timeout)
	for _, kind := range []string{"node", "way", "relation"} {
		fmt.Fprintf(&sb, "  %s%s%s;\n", kind, filter, bbox)
	}
	sb.WriteString(");\nout geom qt;\n")
	return sb.String(), nil
}

// qlEscaper escapes a value for an Overpass QL double-quoted string
var qlEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Client runs queries against an Overpass API endpoint
type Client struct {
	endpoint   string
	geocoder   string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewClient creates a client for the given endpoint (DefaultEndpoint if empty)
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		geocoder:   DefaultGeocoder,
		client:     &http.Client{Timeout: timeout},
		maxRetries: 3,
		retryDelay: 5 * time.Second,
	}
}

// SetGeocoder changes the Nominatim search endpoint
func (c *Client) SetGeocoder(endpoint string) {
	c.geocoder = endpoint
}

// Run executes the query and attaches QueryInfo to the response. A query
// with only a Placename is centered on the geocoded place.
func (c *Client) Run(ctx context.Context, q Query) (*Response, error) {
	log := logger.Get()

	if len(q.Bounds) == 0 && !q.HasCenter && q.Placename != "" {
		lat, lon, err := c.Geocode(ctx, q.Placename)
		if err != nil {
			return nil, err
		}
		q.CenterLat, q.CenterLon, q.HasCenter = lat, lon, true
		log.Info("Geocoded place",
			zap.String("place", q.Placename),
			zap.Float64("lat", lat),
			zap.Float64("lon", lon))
	}

	ql, err := q.QL()
	if err != nil {
		return nil, err
	}
	bounds, _ := q.SearchBounds()

	log.Debug("Running overpass query", zap.String("endpoint", c.endpoint), zap.String("query", ql))

	form := url.Values{"data": {ql}}.Encode()
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("overpass request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	result, err := Decode(resp.Body)
	if err != nil {
		return nil, err
	}

	result.QueryInfo = &QueryInfo{
		Query:       ql,
		Placename:   q.Placename,
		Geolocation: []float64{q.CenterLat, q.CenterLon},
		Bounds:      bounds,
	}

	log.Info("Overpass query complete", zap.Int("elements", len(result.Elements)))
	return result, nil
}

// Geocode resolves a place name to the latitude and longitude of its best
// Nominatim match
func (c *Client) Geocode(ctx context.Context, place string) (lat, lon float64, err error) {
	params := url.Values{"q": {place}, "format": {"json"}, "limit": {"1"}}
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.geocoder+"?"+params.Encode(), nil)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("geocoding: unexpected status code: %d", resp.StatusCode)
	}

	var places []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return 0, 0, fmt.Errorf("failed to decode geocoding response: %w", err)
	}
	if len(places) == 0 {
		return 0, 0, fmt.Errorf("%w: place %q not found", ErrInvalidQuery, place)
	}

	if lat, err = strconv.ParseFloat(places[0].Lat, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid latitude %q for %q: %w", places[0].Lat, place, err)
	}
	if lon, err = strconv.ParseFloat(places[0].Lon, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid longitude %q for %q: %w", places[0].Lon, place, err)
	}
	return lat, lon, nil
}

// doWithRetry sends the request built by newReq, retrying on transport
// errors, 429 and 5xx
func (c *Client) doWithRetry(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "osm-tileset/1.0")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
