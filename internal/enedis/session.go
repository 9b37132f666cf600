package enedis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/septivank/energy-sync-worker/internal/series"
	"github.com/septivank/energy-sync-worker/tools/timeparser"
)

const (
	dailyConsumptionPath = "daily_consumption"
	maxPowerPath         = "consumption_max_power"
	loadCurvePath        = "consumption_load_curve"
	refreshPath          = "refresh"

	userAgent = "energy-sync-worker"
)

// AuthError represents an authentication failure
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return e.Message
}

// RefreshFunc receives the tokens issued by a refresh
type RefreshFunc func(meterID, accessToken, refreshToken string)

// Options configures sessions
type Options struct {
	BaseURL  string
	Timeout  time.Duration
	Location *time.Location

	// HTTPClient overrides the client built from Timeout
	HTTPClient *http.Client
}

// Session reads metering data for one meter. On a 401/403 it exchanges the
// refresh token, reports the new pair through the refresh callback and
// retries the request once.
type Session struct {
	baseURL   string
	client    *http.Client
	loc       *time.Location
	meterID   string
	onRefresh RefreshFunc

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

// NewSession creates a session for meterID
func NewSession(opts Options, meterID, accessToken, refreshToken string, onRefresh RefreshFunc) *Session {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Session{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		client:       client,
		loc:          loc,
		meterID:      meterID,
		onRefresh:    onRefresh,
		accessToken:  accessToken,
		refreshToken: refreshToken,
	}
}

type intervalReading struct {
	Value string `json:"value"`
	Date  string `json:"date"`
}

type meterReadingResponse struct {
	IntervalReading []intervalReading `json:"interval_reading"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// DailyConsumption returns daily energy readings in Wh
func (s *Session) DailyConsumption(ctx context.Context, start, end time.Time) ([]series.Reading, error) {
	return s.dailyReadings(ctx, dailyConsumptionPath, start, end)
}

// MaxPower returns daily maximum power readings in VA
func (s *Session) MaxPower(ctx context.Context, start, end time.Time) ([]series.Reading, error) {
	return s.dailyReadings(ctx, maxPowerPath, start, end)
}

// LoadCurve returns average power readings in W, timestamped in the meter location
func (s *Session) LoadCurve(ctx context.Context, start, end time.Time) ([]series.Reading, error) {
	raw, err := s.fetch(ctx, loadCurvePath, start, end)
	if err != nil {
		return nil, err
	}

	readings := make([]series.Reading, 0, len(raw))
	for _, r := range raw {
		ts, err := timeparser.ParseProviderTimestamp(r.Date, s.loc)
		if err != nil {
			return nil, fmt.Errorf("load curve reading: %w", err)
		}
		value, err := parseValue(r.Value)
		if err != nil {
			return nil, fmt.Errorf("load curve reading at %s: %w", r.Date, err)
		}
		readings = append(readings, series.Reading{Time: ts, Value: value})
	}
	return readings, nil
}

func (s *Session) dailyReadings(ctx context.Context, path string, start, end time.Time) ([]series.Reading, error) {
	raw, err := s.fetch(ctx, path, start, end)
	if err != nil {
		return nil, err
	}

	readings := make([]series.Reading, 0, len(raw))
	for _, r := range raw {
		day, err := timeparser.ParseProviderDate(r.Date)
		if err != nil {
			return nil, fmt.Errorf("%s reading: %w", path, err)
		}
		value, err := parseValue(r.Value)
		if err != nil {
			return nil, fmt.Errorf("%s reading on %s: %w", path, r.Date, err)
		}
		readings = append(readings, series.Reading{Time: day, Value: value})
	}
	return readings, nil
}

func (s *Session) fetch(ctx context.Context, path string, start, end time.Time) ([]intervalReading, error) {
	body, err := s.get(ctx, path, start, end)
	var authErr *AuthError
	if errors.As(err, &authErr) && s.canRefresh() {
		if refreshErr := s.refresh(ctx); refreshErr != nil {
			return nil, refreshErr
		}
		body, err = s.get(ctx, path, start, end)
	}
	if err != nil {
		return nil, err
	}

	var resp meterReadingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", path, err)
	}
	return resp.IntervalReading, nil
}

func (s *Session) get(ctx context.Context, path string, start, end time.Time) ([]byte, error) {
	params := url.Values{}
	params.Set("prm", s.meterID)
	params.Set("start", start.Format("2006-01-02"))
	params.Set("end", end.Format("2006-01-02"))
	reqURL := fmt.Sprintf("%s/%s?%s", s.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.currentAccessToken())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("authentication failed (status %d): %s", resp.StatusCode, string(body)),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// refresh exchanges the refresh token for a new pair and reports it
func (s *Session) refresh(ctx context.Context) error {
	s.mu.Lock()
	rt := s.refreshToken
	s.mu.Unlock()

	payload, err := json.Marshal(map[string]string{"refresh_token": rt})
	if err != nil {
		return fmt.Errorf("encoding refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/"+refreshPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("refreshing token: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &AuthError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("token refresh failed (status %d): %s", resp.StatusCode, string(body)),
		}
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return fmt.Errorf("decoding refresh response: %w", err)
	}

	if tokens.AccessToken != "" && tokens.RefreshToken != "" {
		s.mu.Lock()
		s.accessToken = tokens.AccessToken
		s.refreshToken = tokens.RefreshToken
		s.mu.Unlock()
	}

	if s.onRefresh != nil {
		s.onRefresh(s.meterID, tokens.AccessToken, tokens.RefreshToken)
	}
	return nil
}

func (s *Session) currentAccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

func (s *Session) canRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken != ""
}

func parseValue(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", raw, err)
	}
	return v, nil
}
