// Package weather fetches OpenWeatherMap data for a city and reshapes it
// into a compact three-part summary: current conditions, today's weather
// by time of day, and a five-day high/low forecast.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/wrenhsu/kaiwa/internal/httpkit"
)

// DefaultBaseURL is the OpenWeatherMap API root.
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

// forecastLayout is the timestamp format of forecast entries (dt_txt).
const forecastLayout = "2006-01-02 15:04:05"

// Time-of-day buckets for today's forecast entries.
const (
	BucketMorning   = "Morning"   // [06:00, 12:00)
	BucketAfternoon = "Afternoon" // [12:00, 18:00)
	BucketEvening   = "Evening"   // everything else
)

// StatusError reports a non-success response from an upstream read.
type StatusError struct {
	Endpoint   string // "weather" or "forecast"
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("weather: %s endpoint returned HTTP %d", e.Endpoint, e.StatusCode)
}

// Current is the conditions reading for "now".
type Current struct {
	Description string
	Temp        float64
}

// TimePoint is one forecast interval falling on the current date.
type TimePoint struct {
	Time        string // "HH:MM"
	Bucket      string // Morning, Afternoon, or Evening
	Description string
	Temp        float64
}

// DayForecast is the aggregate for one calendar date.
type DayForecast struct {
	Date        string // "YYYY-MM-DD"
	High        float64
	Low         float64
	Description string // from the first interval seen for the date
}

// Snapshot is the reshaped weather data for one city. Derived, never persisted.
type Snapshot struct {
	City    string
	Current Current
	Today   []TimePoint
	FiveDay []DayForecast
}

// Client reads from OpenWeatherMap.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// now is injectable for tests; it defines "today" for bucketing.
	now func() time.Time
}

// NewClient creates a weather client. baseURL == "" selects DefaultBaseURL.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
		now:        time.Now,
	}
}

// weatherDesc is one entry of the "weather" array both endpoints carry.
type weatherDesc struct {
	Description string `json:"description"`
}

// currentResponse is the subset of the /weather payload we consume.
type currentResponse struct {
	Weather []weatherDesc `json:"weather"`
	Main    struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
}

// forecastResponse is the subset of the /forecast payload we consume.
// Entries arrive in 3-hour intervals.
type forecastResponse struct {
	List []forecastEntry `json:"list"`
}

type forecastEntry struct {
	DtTxt string `json:"dt_txt"`
	Main  struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []weatherDesc `json:"weather"`
}

// Fetch issues the current-conditions and forecast reads concurrently and
// merges them into a Snapshot. A non-success status from either read is a
// *StatusError; there is no retry (the agent may re-invoke the tool).
func (c *Client) Fetch(ctx context.Context, city string) (*Snapshot, error) {
	var (
		current     currentResponse
		forecast    forecastResponse
		currentErr  error
		forecastErr error
	)

	done := make(chan struct{}, 2)
	go func() {
		currentErr = c.getJSON(ctx, "weather", city, &current)
		done <- struct{}{}
	}()
	go func() {
		forecastErr = c.getJSON(ctx, "forecast", city, &forecast)
		done <- struct{}{}
	}()
	<-done
	<-done

	if currentErr != nil {
		return nil, currentErr
	}
	if forecastErr != nil {
		return nil, forecastErr
	}

	snap := &Snapshot{
		City: city,
		Current: Current{
			Description: firstDescription(current.Weather),
			Temp:        current.Main.Temp,
		},
	}
	c.aggregate(snap, forecast.List)
	return snap, nil
}

func firstDescription(ws []weatherDesc) string {
	if len(ws) == 0 {
		return ""
	}
	return ws[0].Description
}

// getJSON issues one API read and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, endpoint, city string, out any) error {
	params := url.Values{
		"q":     {city},
		"appid": {c.apiKey},
		"units": {"metric"},
	}
	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("weather: build %s request: %w", endpoint, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("weather: %s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		httpkit.DrainAndClose(resp.Body, 512)
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("weather: decode %s response: %w", endpoint, err)
	}
	return nil
}

// aggregate fills Today and FiveDay from the raw forecast entries.
func (c *Client) aggregate(snap *Snapshot, entries []forecastEntry) {
	today := c.now().Format("2006-01-02")

	type dayAgg struct {
		high, low   float64
		description string
	}
	days := make(map[string]*dayAgg)

	for _, e := range entries {
		ts, err := time.Parse(forecastLayout, e.DtTxt)
		if err != nil {
			continue // malformed interval, skip it
		}
		date := ts.Format("2006-01-02")
		desc := firstDescription(e.Weather)

		if date == today {
			snap.Today = append(snap.Today, TimePoint{
				Time:        ts.Format("15:04"),
				Bucket:      bucketFor(ts.Hour()),
				Description: desc,
				Temp:        e.Main.Temp,
			})
		}

		agg, ok := days[date]
		if !ok {
			days[date] = &dayAgg{high: e.Main.Temp, low: e.Main.Temp, description: desc}
			continue
		}
		if e.Main.Temp > agg.high {
			agg.high = e.Main.Temp
		}
		if e.Main.Temp < agg.low {
			agg.low = e.Main.Temp
		}
	}

	dates := make([]string, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	if len(dates) > 5 {
		dates = dates[:5]
	}

	for _, d := range dates {
		agg := days[d]
		snap.FiveDay = append(snap.FiveDay, DayForecast{
			Date:        d,
			High:        agg.high,
			Low:         agg.low,
			Description: agg.description,
		})
	}
}

// bucketFor maps an hour of day to its time-of-day bucket.
func bucketFor(hour int) string {
	switch {
	case hour >= 6 && hour < 12:
		return BucketMorning
	case hour >= 12 && hour < 18:
		return BucketAfternoon
	default:
		return BucketEvening
	}
}
