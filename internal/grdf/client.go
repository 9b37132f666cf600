package grdf

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/septivank/energy-sync-worker/internal/series"
	"github.com/septivank/energy-sync-worker/tools/timeparser"
)

const (
	authCookieName    = "auth_token"
	informativePath   = "pce/consommation/informatives"
	loginSuccessState = "SUCCESS"
)

// AuthError represents a login failure or a rejected token
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return e.Message
}

// Options configures the client
type Options struct {
	APIURL  string
	AuthURL string
	Timeout time.Duration

	// HTTPClient overrides the client built from Timeout
	HTTPClient *http.Client
}

// Client talks to the gas distributor customer API
type Client struct {
	apiURL  string
	authURL string
	client  *http.Client
}

// NewClient creates a gas provider client
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		apiURL:  strings.TrimRight(opts.APIURL, "/"),
		authURL: opts.AuthURL,
		client:  client,
	}
}

type loginResponse struct {
	State string `json:"state"`
	Error string `json:"error"`
}

type releve struct {
	JourneeGaziere  string   `json:"journeeGaziere"`
	EnergieConsomme *float64 `json:"energieConsomme"`
	CoeffConversion *float64 `json:"coeffConversion"`
}

type pceConsumption struct {
	Releves []releve `json:"releves"`
}

// Login authenticates and returns the session token
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("email", username)
	form.Set("password", password)
	form.Set("capp", "meg")
	form.Set("goto", "https://sofa-connexion.grdf.fr:443/openam/oauth2/externeGrdf/authorize")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("making login request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("login failed (status %d): %s", resp.StatusCode, string(body)),
		}
	}

	var result loginResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decoding login response: %w", err)
	}
	if result.State != loginSuccessState {
		return "", &AuthError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("login rejected (state %q): %s", result.State, result.Error),
		}
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == authCookieName && cookie.Value != "" {
			return cookie.Value, nil
		}
	}
	return "", &AuthError{StatusCode: resp.StatusCode, Message: "login succeeded without an auth token cookie"}
}

// Consumption returns the informative gas-day readings per meter id over [start, end]
func (c *Client) Consumption(ctx context.Context, token string, meterIDs []string, start, end time.Time) (map[string][]series.GasReading, error) {
	params := url.Values{}
	params.Set("dateDebut", start.Format("2006-01-02"))
	params.Set("dateFin", end.Format("2006-01-02"))
	params.Set("pceList[]", strings.Join(meterIDs, ","))
	reqURL := fmt.Sprintf("%s/%s?%s", c.apiURL, informativePath, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: authCookieName, Value: token})
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
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

	var raw map[string]pceConsumption
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding consumption response: %w", err)
	}

	out := make(map[string][]series.GasReading, len(raw))
	for meterID, consumption := range raw {
		readings := make([]series.GasReading, 0, len(consumption.Releves))
		for _, r := range consumption.Releves {
			day, err := timeparser.ParseProviderDate(r.JourneeGaziere)
			if err != nil {
				return nil, fmt.Errorf("meter %s reading: %w", meterID, err)
			}
			readings = append(readings, series.GasReading{
				GasDay:      day,
				EnergyKWh:   r.EnergieConsomme,
				Coefficient: r.CoeffConversion,
			})
		}
		out[meterID] = readings
	}
	return out, nil
}
