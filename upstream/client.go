// Package upstream issues the calls to the Strava OAuth and REST endpoints.
// Every operation is a single request: nothing here retries.
package upstream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"golang.org/x/oauth2"
)

const (
	DefaultOAuthURL = "https://www.strava.com/oauth"
	DefaultAPIURL   = "https://www.strava.com/api/v3"
	DefaultScope    = "activity:read_all,profile:read_all"

	defaultRequestTimeout = 10 * time.Second
)

// Config holds the OAuth client identity and endpoints. Empty URLs fall
// back to the public Strava endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	OAuthURL     string
	APIURL       string
	Timeout      time.Duration

	// HTTPClient overrides the base transport, mostly for tests.
	HTTPClient *http.Client
}

// Client talks to the upstream service.
type Client struct {
	http     *retry.Client
	oauth    *oauth2.Config
	tokenURL string
	apiURL   string
	timeout  time.Duration
}

// TokenResponse is the body of a successful token endpoint call.
type TokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type"`
	ExpiresAt    int64           `json:"expires_at"`
	ExpiresIn    int64           `json:"expires_in"`
	Athlete      json.RawMessage `json:"athlete,omitempty"`
}

// Expiry prefers the absolute expires_at the server sent and falls back
// to now + expires_in. The zero time means neither was present.
func (t *TokenResponse) Expiry(now time.Time) time.Time {
	if t.ExpiresAt > 0 {
		return time.Unix(t.ExpiresAt, 0)
	}
	if t.ExpiresIn > 0 {
		return now.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return time.Time{}
}

// Validate checks the fields a usable token response must carry.
func (t *TokenResponse) Validate() error {
	if t.AccessToken == "" {
		return errors.New("access_token is empty")
	}
	if t.ExpiresAt <= 0 && t.ExpiresIn <= 0 {
		return errors.New("response carries neither expires_at nor expires_in")
	}
	// token_type is optional, but when present it must be Bearer
	if t.TokenType != "" && !strings.EqualFold(t.TokenType, "Bearer") {
		return fmt.Errorf("unexpected token_type: %s (expected Bearer)", t.TokenType)
	}
	return nil
}

// Error is any failed upstream call: a non-2xx status, a 2xx body that
// is not JSON, or a transport failure (Status 0).
type Error struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.Status, e.Body)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Unauthorized reports whether the upstream rejected the bearer token.
func (e *Error) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// NewClient builds a Client with retries disabled.
func NewClient(cfg Config) (*Client, error) {
	oauthURL := strings.TrimRight(orDefault(cfg.OAuthURL, DefaultOAuthURL), "/")
	apiURL := strings.TrimRight(orDefault(cfg.APIURL, DefaultAPIURL), "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	rc, err := retry.NewClient(
		retry.WithHTTPClient(base),
		retry.WithMaxRetries(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	return &Client{
		http: rc,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   oauthURL + "/authorize",
				TokenURL:  oauthURL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{DefaultScope},
		},
		tokenURL: oauthURL + "/token",
		apiURL:   apiURL,
		timeout:  timeout,
	}, nil
}

// AuthCodeURL returns the consent screen URL carrying state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("approval_prompt", "auto"),
	)
}

// ExchangeCode trades an authorization code for a token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("client_id", c.oauth.ClientID)
	data.Set("client_secret", c.oauth.ClientSecret)
	data.Set("code", code)
	data.Set("grant_type", "authorization_code")
	return c.postToken(ctx, "token exchange", data)
}

// Refresh performs the refresh_token grant.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("client_id", c.oauth.ClientID)
	data.Set("client_secret", c.oauth.ClientSecret)
	data.Set("refresh_token", refreshToken)
	data.Set("grant_type", "refresh_token")
	return c.postToken(ctx, "token refresh", data)
}

// Fetch GETs path (relative to the API base, query included) with the
// bearer token and returns the raw JSON body.
func (c *Client) Fetch(ctx context.Context, path, accessToken string) (json.RawMessage, error) {
	const op = "fetch"

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	status, body, err := c.do(reqCtx, req)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &Error{Op: op, Status: status, Body: string(body)}
	}
	if !json.Valid(body) {
		return nil, &Error{
			Op:     op,
			Status: status,
			Body:   string(body),
			Err:    errors.New("response is not valid JSON"),
		}
	}
	return json.RawMessage(body), nil
}

func (c *Client) postToken(ctx context.Context, op string, data url.Values) (*TokenResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		c.tokenURL,
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	status, body, err := c.do(reqCtx, req)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &Error{Op: op, Status: status, Body: string(body)}
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, &Error{
			Op:     op,
			Status: status,
			Body:   string(body),
			Err:    fmt.Errorf("failed to parse token response: %w", err),
		}
	}
	return &tokenResp, nil
}

func (c *Client) do(ctx context.Context, req *http.Request) (int, []byte, error) {
	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
