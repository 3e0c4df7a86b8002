package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/go-authgate/strava-proxy/token"
	"github.com/go-authgate/strava-proxy/upstream"
)

var (
	flagClientID     *string
	flagClientSecret *string
	flagRedirectURI  *string
	flagTokenFile    *string
	flagListenAddr   *string
	flagOAuthURL     *string
	flagAPIURL       *string
	flagExpiryBuffer *string
	flagStatsTitle   *string
	flagLogLevel     *string
	flagLogPretty    *string
)

type config struct {
	clientID     string
	clientSecret string
	redirectURI  string
	tokenFile    string
	listenAddr   string
	oauthURL     string
	apiURL       string
	expiryBuffer time.Duration
	statsTitle   string
	logLevel     zerolog.Level
	logPretty    bool
}

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagClientID = flag.String("client-id", "", "Strava client ID (or CLIENT_ID env)")
	flagClientSecret = flag.String("client-secret", "", "Strava client secret (or CLIENT_SECRET env)")
	flagRedirectURI = flag.String(
		"redirect-uri",
		"",
		"OAuth redirect URI (default: http://localhost:8080/callback or REDIRECT_URI env)",
	)
	flagTokenFile = flag.String(
		"token-file",
		"",
		"Token storage file (default: strava_tokens.json or TOKEN_FILE env)",
	)
	flagListenAddr = flag.String("listen", "", "HTTP listen address (default: :8080 or LISTEN_ADDR env)")
	flagOAuthURL = flag.String("oauth-url", "", "OAuth base URL (or OAUTH_URL env)")
	flagAPIURL = flag.String("api-url", "", "REST API base URL (or API_URL env)")
	flagExpiryBuffer = flag.String(
		"expiry-buffer",
		"",
		"Refresh tokens this long before expiry, e.g. 5m or 300 (or EXPIRY_BUFFER env)",
	)
	flagStatsTitle = flag.String("stats-title", "", "Title reported by /stats/custom (or STATS_TITLE env)")
	flagLogLevel = flag.String("log-level", "", "Log level: debug, info, warn, error (or LOG_LEVEL env)")
	flagLogPretty = flag.String("log-pretty", "", "Human readable logs: true or false (or LOG_PRETTY env)")
}

// loadConfig parses flags and resolves every setting.
// Separated from init() to avoid conflicts with test flag parsing.
func loadConfig() (*config, error) {
	flag.Parse()

	// Priority: flag > env > default
	cfg := &config{
		clientID:     getConfig(*flagClientID, "CLIENT_ID", ""),
		clientSecret: getConfig(*flagClientSecret, "CLIENT_SECRET", ""),
		redirectURI:  getConfig(*flagRedirectURI, "REDIRECT_URI", "http://localhost:8080/callback"),
		tokenFile:    getConfig(*flagTokenFile, "TOKEN_FILE", "strava_tokens.json"),
		listenAddr:   getConfig(*flagListenAddr, "LISTEN_ADDR", ":8080"),
		oauthURL:     getConfig(*flagOAuthURL, "OAUTH_URL", upstream.DefaultOAuthURL),
		apiURL:       getConfig(*flagAPIURL, "API_URL", upstream.DefaultAPIURL),
		statsTitle:   getConfig(*flagStatsTitle, "STATS_TITLE", "Custom range"),
	}

	for name, raw := range map[string]string{
		"OAUTH_URL":    cfg.oauthURL,
		"API_URL":      cfg.apiURL,
		"REDIRECT_URI": cfg.redirectURI,
	} {
		if err := validateServerURL(raw); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	// Warn if tokens would travel over plain HTTP to a remote host
	for _, raw := range []string{cfg.oauthURL, cfg.apiURL} {
		if isInsecureRemote(raw) {
			fmt.Fprintf(
				os.Stderr,
				"⚠️  WARNING: %s uses HTTP instead of HTTPS. Tokens will be transmitted in plaintext!\n",
				raw,
			)
		}
	}

	buffer, err := parseBuffer(getConfig(*flagExpiryBuffer, "EXPIRY_BUFFER", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid EXPIRY_BUFFER: %w", err)
	}
	cfg.expiryBuffer = buffer

	level, err := zerolog.ParseLevel(strings.ToLower(getConfig(*flagLogLevel, "LOG_LEVEL", "info")))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.logLevel = level

	pretty, err := strconv.ParseBool(getConfig(*flagLogPretty, "LOG_PRETTY", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_PRETTY: %w", err)
	}
	cfg.logPretty = pretty

	return cfg, nil
}

// requireClient reports the missing client credentials, if any.
func (c *config) requireClient() error {
	var missing []string
	if c.clientID == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if c.clientSecret == "" {
		missing = append(missing, "CLIENT_SECRET")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf(
		"%s not set, provide it via flag (-client-id, -client-secret), environment variable or .env file",
		strings.Join(missing, " and "),
	)
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

func isInsecureRemote(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "http" {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return false
	}
	return true
}

// parseBuffer accepts a Go duration ("5m") or a number of seconds ("300").
// Empty means token.DefaultBuffer.
func parseBuffer(raw string) (time.Duration, error) {
	if raw == "" {
		return token.DefaultBuffer, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("must not be negative, got %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative, got %s", d)
	}
	return d, nil
}
