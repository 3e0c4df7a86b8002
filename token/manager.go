// Package token owns the OAuth credential lifecycle: persistence, expiry
// detection and a refresh that runs at most once at a time per process.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/go-authgate/strava-proxy/upstream"
)

const (
	// DefaultBuffer treats a token this close to expiry as already expired.
	DefaultBuffer = 300 * time.Second
	// DefaultRefreshTimeout bounds one refresh, including the store write.
	DefaultRefreshTimeout = 10 * time.Second

	refreshKey = "refresh"
)

// Gateway is the part of the upstream client the manager needs.
type Gateway interface {
	ExchangeCode(ctx context.Context, code string) (*upstream.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*upstream.TokenResponse, error)
}

// Manager is the only reader and writer of the credential store.
type Manager struct {
	store          Store
	gw             Gateway
	buffer         time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	log            zerolog.Logger

	// flight holds the in-progress refresh; every concurrent caller
	// attaches to it instead of issuing its own upstream call.
	flight singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithBuffer overrides DefaultBuffer.
func WithBuffer(d time.Duration) Option {
	return func(m *Manager) { m.buffer = d }
}

// WithRefreshTimeout overrides DefaultRefreshTimeout.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager returns a Manager over store and gw.
func NewManager(store Store, gw Gateway, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		gw:             gw,
		buffer:         DefaultBuffer,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsExpired reports whether expiresAt falls inside the buffer window.
func (m *Manager) IsExpired(expiresAt time.Time) bool {
	return !expiresAt.After(m.now().Add(m.buffer))
}

// ExchangeAuthorizationCode trades code for tokens and replaces whatever
// was stored. Codes are single-use, so a failure is never retried.
func (m *Manager) ExchangeAuthorizationCode(ctx context.Context, code string) (*Record, error) {
	if code == "" {
		return nil, &Error{
			Kind: KindUpstreamAuth,
			Op:   "exchange",
			Err:  errors.New("authorization code is empty"),
		}
	}

	resp, err := m.gw.ExchangeCode(ctx, code)
	if err != nil {
		status, body := upstreamDetails(err)
		m.log.Warn().Err(err).Int("status", status).Msg("authorization code exchange failed")
		return nil, &Error{Kind: KindUpstreamAuth, Op: "exchange", Status: status, Body: body, Err: err}
	}

	if err := resp.Validate(); err != nil {
		return nil, &Error{
			Kind: KindUpstreamAuth,
			Op:   "exchange",
			Err:  fmt.Errorf("invalid token response: %w", err),
		}
	}
	// a record without a refresh token could never be renewed
	if resp.RefreshToken == "" {
		return nil, &Error{
			Kind: KindUpstreamAuth,
			Op:   "exchange",
			Err:  errors.New("invalid token response: refresh_token is empty"),
		}
	}

	now := m.now()
	rec := &Record{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    resp.Expiry(now),
		SavedAt:      now,
	}
	if err := m.save(ctx, "exchange", rec); err != nil {
		return nil, err
	}

	m.log.Info().Time("expires_at", rec.ExpiresAt).Msg("authorization code exchanged")
	return rec, nil
}

// AccessToken returns a token that is valid for at least the buffer
// window, refreshing first when needed.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	rec, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if !m.IsExpired(rec.ExpiresAt) {
		return rec.AccessToken, nil
	}

	m.log.Info().Time("expires_at", rec.ExpiresAt).Msg("access token expiring, refreshing")
	return m.refresh(ctx, rec.AccessToken)
}

// Refresh runs the refresh grant now, whatever the stored expiry says.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	rec, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	return m.refresh(ctx, rec.AccessToken)
}

// RefreshRejected is called after upstream rejected the access token
// rejected. If the store already holds a different, fresh token, that one
// is returned without another upstream call.
func (m *Manager) RefreshRejected(ctx context.Context, rejected string) (string, error) {
	return m.refresh(ctx, rejected)
}

// IsAuthenticated reports whether a usable record is stored. It never
// refreshes.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	rec, err := m.store.Load(ctx)
	if err != nil || rec == nil {
		return false
	}
	return !m.IsExpired(rec.ExpiresAt)
}

// Clear deletes the stored record. Clearing an empty store succeeds.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.Delete(ctx); err != nil {
		m.log.Error().Err(err).Msg("failed to clear tokens")
		return err
	}
	m.log.Info().Msg("tokens cleared")
	return nil
}

// Info describes the stored token without exposing it.
type Info struct {
	TokenExists      bool  `json:"token_exists"`
	IsExpired        bool  `json:"is_expired"`
	ExpiresAt        int64 `json:"expires_at,omitempty"`
	ExpiresInSeconds int64 `json:"expires_in_seconds"`
	ExpiresInMinutes int64 `json:"expires_in_minutes"`
	SavedAt          int64 `json:"saved_at,omitempty"`
}

// Info returns diagnostics for the stored record.
func (m *Manager) Info(ctx context.Context) (*Info, error) {
	rec, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &Info{}, nil
	}

	left := max(int64(rec.ExpiresAt.Sub(m.now())/time.Second), 0)
	info := &Info{
		TokenExists:      true,
		IsExpired:        m.IsExpired(rec.ExpiresAt),
		ExpiresAt:        rec.ExpiresAt.Unix(),
		ExpiresInSeconds: left,
		ExpiresInMinutes: left / 60,
	}
	if !rec.SavedAt.IsZero() {
		info.SavedAt = rec.SavedAt.Unix()
	}
	return info, nil
}

// Token implements oauth2.TokenSource.
func (m *Manager) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.refreshTimeout)
	defer cancel()

	access, err := m.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if rec, err := m.store.Load(ctx); err == nil && rec != nil && rec.AccessToken == access {
		tok.Expiry = rec.ExpiresAt.Add(-m.buffer)
	}
	return tok, nil
}

var _ oauth2.TokenSource = (*Manager)(nil)

// refresh joins or starts the single in-flight refresh. The refresh runs
// detached from ctx: a caller that gives up stops waiting, but the other
// waiters still get the outcome and the new record still lands in the store.
func (m *Manager) refresh(ctx context.Context, stale string) (string, error) {
	ch := m.flight.DoChan(refreshKey, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.doRefresh(fctx, stale)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for token refresh: %w", ctx.Err())
	}
}

func (m *Manager) doRefresh(ctx context.Context, stale string) (string, error) {
	rec, err := m.load(ctx)
	if err != nil {
		return "", err
	}

	// a refresh that finished just before this one already replaced the
	// token the caller saw
	if rec.AccessToken != stale && !m.IsExpired(rec.ExpiresAt) {
		return rec.AccessToken, nil
	}

	hint := Redact(rec.RefreshToken)
	resp, err := m.gw.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		status, body := upstreamDetails(err)
		m.log.Warn().Err(err).Str("refresh_token", hint).Int("status", status).Msg("token refresh failed")
		return "", &Error{
			Kind:      KindRefreshFailed,
			Op:        "refresh",
			Status:    status,
			Body:      body,
			TokenHint: hint,
			Err:       err,
		}
	}
	if err := resp.Validate(); err != nil {
		m.log.Warn().Err(err).Str("refresh_token", hint).Msg("malformed refresh response")
		return "", &Error{
			Kind:      KindRefreshFailed,
			Op:        "refresh",
			TokenHint: hint,
			Err:       fmt.Errorf("invalid token response: %w", err),
		}
	}

	// Rotation mode returns a new refresh token; fixed mode omits it and
	// the old one stays valid.
	refreshToken := resp.RefreshToken
	if refreshToken == "" {
		refreshToken = rec.RefreshToken
	}

	now := m.now()
	next := &Record{
		AccessToken:  resp.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    resp.Expiry(now),
		SavedAt:      now,
	}
	if err := m.save(ctx, "refresh", next); err != nil {
		return "", err
	}

	m.log.Info().Time("expires_at", next.ExpiresAt).Msg("access token refreshed")
	return next.AccessToken, nil
}

func (m *Manager) load(ctx context.Context) (*Record, error) {
	rec, err := m.store.Load(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to read token store")
		return nil, err
	}
	if rec == nil {
		return nil, &Error{
			Kind: KindNoCredentials,
			Op:   "load",
			Err:  errors.New("no tokens stored, authenticate first"),
		}
	}
	return rec, nil
}

func (m *Manager) save(ctx context.Context, op string, rec *Record) error {
	if err := m.store.Save(ctx, rec); err != nil {
		m.log.Error().Err(err).Str("op", op).Msg("failed to save tokens")
		var te *Error
		if errors.As(err, &te) {
			return err
		}
		return &Error{Kind: KindInternal, Op: op, Err: err}
	}
	return nil
}
