package fr24

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

	"tailwatch/internal/provider"
	"tailwatch/pkg/logx"
)

const (
	DefaultBaseURL = "https://fr24api.flightradar24.com"

	apiVersion   = "v1"
	maxBodyBytes = 1 << 20

	defaultAirborneMinAltFt   = 100
	defaultAirborneMinSpeedKt = 50
)

type Config struct {
	BaseURL      string
	Token        string
	Registration string
	UserAgent    string

	// Airborne classification thresholds. The live feed includes taxiing
	// aircraft, so "present in the feed" alone does not mean airborne.
	AirborneMinAltFt   int
	AirborneMinSpeedKt int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = "tailwatch/1.0"
	}
	if c.AirborneMinAltFt <= 0 {
		c.AirborneMinAltFt = defaultAirborneMinAltFt
	}
	if c.AirborneMinSpeedKt <= 0 {
		c.AirborneMinSpeedKt = defaultAirborneMinSpeedKt
	}
	return c
}

// Client talks to the FR24 API. One outbound call per method, no internal
// retries; the per-call deadline comes from ctx (the tracker bounds it below
// its poll interval), with the HTTP client timeout as a backstop.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("fr24: token is required")
	}
	if strings.TrimSpace(cfg.Registration) == "" {
		return nil, errors.New("fr24: registration is required")
	}
	return &Client{
		cfg:  cfg.withDefaults(),
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}, nil
}

func (c *Client) Name() string { return "fr24" }

// Fetch queries the live-positions endpoint for the configured registration.
// An aircraft absent from the live feed yields StatusUnknown, not an error.
func (c *Client) Fetch(ctx context.Context) (provider.AircraftState, error) {
	q := url.Values{}
	q.Set("registrations", c.cfg.Registration)

	body, err := c.get(ctx, "/api/live/flight-positions/full", q)
	if err != nil {
		return provider.AircraftState{}, err
	}
	return c.parsePositions(body)
}

// Summary queries the flight-summary endpoint for flights within [from, to],
// newest first.
func (c *Client) Summary(ctx context.Context, from, to time.Time) ([]provider.FlightSummary, error) {
	q := url.Values{}
	q.Set("registrations", c.cfg.Registration)
	q.Set("flight_datetime_from", formatAPITime(from))
	q.Set("flight_datetime_to", formatAPITime(to))
	q.Set("limit", "20")
	q.Set("sort", "desc")

	body, err := c.get(ctx, "/api/flight-summary/light", q)
	if err != nil {
		return nil, err
	}
	return parseSummaries(body)
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &provider.TransientError{Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Version", apiVersion)
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &provider.TransientError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &provider.TransientError{Op: path + ": read body", Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &provider.AuthError{StatusCode: resp.StatusCode, Message: apiMessage(body)}
	case http.StatusTooManyRequests:
		return nil, &provider.RateLimitError{RetryAfter: retryAfter(resp), Message: apiMessage(body)}
	default:
		// 5xx and unexpected 4xx both count as transient: skip the cycle,
		// let the failure threshold escalate if it persists.
		return nil, &provider.TransientError{Op: fmt.Sprintf("%s: status %d", path, resp.StatusCode)}
	}
}

// ---- Response parsing ----

type positionsResponse struct {
	Data []positionEntry `json:"data"`
}

type positionEntry struct {
	FR24ID    string  `json:"fr24_id"`
	Flight    string  `json:"flight"`
	Callsign  string  `json:"callsign"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Alt       *int    `json:"alt"`
	GSpeed    *int    `json:"gspeed"`
	Timestamp string  `json:"timestamp"`
	Hex       string  `json:"hex"`
	Reg       string  `json:"reg"`
	OrigIATA  string  `json:"orig_iata"`
	OrigICAO  string  `json:"orig_icao"`
	DestIATA  string  `json:"dest_iata"`
	DestICAO  string  `json:"dest_icao"`
}

func (c *Client) parsePositions(body []byte) (provider.AircraftState, error) {
	var resp positionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return provider.AircraftState{}, &provider.MalformedError{Reason: "decode positions", Err: err}
	}

	if len(resp.Data) == 0 {
		// Not transmitting / out of coverage. The tracker keeps the last
		// confident status.
		c.log.Debug("aircraft absent from live feed", logx.String("registration", c.cfg.Registration))
		return provider.AircraftState{
			Registration: c.cfg.Registration,
			ObservedAt:   time.Now().UTC(),
			Status:       provider.StatusUnknown,
		}, nil
	}

	entry := resp.Data[0]
	for _, e := range resp.Data {
		if strings.EqualFold(e.Reg, c.cfg.Registration) {
			entry = e
			break
		}
	}

	if entry.Alt == nil || entry.GSpeed == nil {
		return provider.AircraftState{}, &provider.MalformedError{Reason: "position entry missing alt/gspeed"}
	}
	if entry.Lat < -90 || entry.Lat > 90 || entry.Lon < -180 || entry.Lon > 180 {
		return provider.AircraftState{}, &provider.MalformedError{Reason: fmt.Sprintf("position out of range (%f, %f)", entry.Lat, entry.Lon)}
	}
	observed, err := time.Parse(time.RFC3339, entry.Timestamp)
	if err != nil {
		return provider.AircraftState{}, &provider.MalformedError{Reason: "bad position timestamp " + strconv.Quote(entry.Timestamp), Err: err}
	}

	status := provider.StatusOnGround
	if *entry.Alt >= c.cfg.AirborneMinAltFt || *entry.GSpeed >= c.cfg.AirborneMinSpeedKt {
		status = provider.StatusAirborne
	}

	speed := *entry.GSpeed
	return provider.AircraftState{
		Registration: c.cfg.Registration,
		ObservedAt:   observed.UTC(),
		Status:       status,
		Position:     &provider.Position{Lat: entry.Lat, Lon: entry.Lon, AltitudeFt: *entry.Alt},
		GroundSpeed:  &speed,
		Origin:       firstNonEmpty(entry.OrigIATA, entry.OrigICAO),
		Destination:  firstNonEmpty(entry.DestIATA, entry.DestICAO),
		Callsign:     firstNonEmpty(entry.Flight, entry.Callsign),
		FlightID:     entry.FR24ID,
		Hex:          entry.Hex,
	}, nil
}

type summaryResponse struct {
	Data []summaryEntry `json:"data"`
}

type summaryEntry struct {
	FR24ID          string `json:"fr24_id"`
	Flight          string `json:"flight"`
	Callsign        string `json:"callsign"`
	Reg             string `json:"reg"`
	Hex             string `json:"hex"`
	OrigICAO        string `json:"orig_icao"`
	DestICAO        string `json:"dest_icao"`
	DatetimeTakeoff string `json:"datetime_takeoff"`
	DatetimeLanded  string `json:"datetime_landed"`
}

func parseSummaries(body []byte) ([]provider.FlightSummary, error) {
	var resp summaryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &provider.MalformedError{Reason: "decode summaries", Err: err}
	}

	out := make([]provider.FlightSummary, 0, len(resp.Data))
	for _, e := range resp.Data {
		takeoff, err := parseAPITime(e.DatetimeTakeoff)
		if err != nil {
			return nil, &provider.MalformedError{Reason: "bad takeoff time " + strconv.Quote(e.DatetimeTakeoff), Err: err}
		}
		landed, err := parseAPITime(e.DatetimeLanded)
		if err != nil {
			return nil, &provider.MalformedError{Reason: "bad landing time " + strconv.Quote(e.DatetimeLanded), Err: err}
		}
		out = append(out, provider.FlightSummary{
			FlightID:    e.FR24ID,
			Flight:      firstNonEmpty(e.Flight, e.Callsign),
			Callsign:    e.Callsign,
			Hex:         e.Hex,
			Origin:      e.OrigICAO,
			Destination: e.DestICAO,
			TakeoffAt:   takeoff,
			LandedAt:    landed,
		})
	}
	return out, nil
}

// ---- Small helpers ----

func formatAPITime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func parseAPITime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func retryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// apiMessage pulls a human-readable error out of an FR24 error body.
func apiMessage(body []byte) string {
	var m struct {
		Message string `json:"message"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(body, &m); err == nil {
		if m.Message != "" {
			return m.Message
		}
		if m.Details != "" {
			return m.Details
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
