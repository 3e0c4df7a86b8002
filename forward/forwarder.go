// Package forward relays read-only calls to the upstream API with a valid
// access token, recovering once from a rejected token.
package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/go-authgate/strava-proxy/token"
	"github.com/go-authgate/strava-proxy/upstream"
)

const (
	DefaultPerPage = 50
	MaxPerPage     = 200

	// a rejected token is refreshed and the call replayed at most this often
	maxAuthRetries = 1
)

// Tokens hands out access tokens and replaces rejected ones.
type Tokens interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshRejected(ctx context.Context, rejected string) (string, error)
}

// Fetcher performs one authenticated GET.
type Fetcher interface {
	Fetch(ctx context.Context, path, accessToken string) (json.RawMessage, error)
}

// Forwarder joins the token manager and the upstream gateway.
type Forwarder struct {
	tokens     Tokens
	api        Fetcher
	statsTitle string
	log        zerolog.Logger
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Forwarder) { f.log = l }
}

// WithStatsTitle sets the title reported by CustomStats.
func WithStatsTitle(title string) Option {
	return func(f *Forwarder) { f.statsTitle = title }
}

func New(tokens Tokens, api Fetcher, opts ...Option) *Forwarder {
	f := &Forwarder{
		tokens:     tokens,
		api:        api,
		statsTitle: defaultStatsTitle,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward GETs path with a valid token. A 401 triggers one refresh and one
// replay; a second 401 is returned as token.KindUnauthorized. With mapList
// the body must be an activity array and is reduced to its summary fields.
func (f *Forwarder) Forward(ctx context.Context, path string, mapList bool) (json.RawMessage, error) {
	access, err := f.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var body json.RawMessage
	for attempt := 0; ; attempt++ {
		body, err = f.api.Fetch(ctx, path, access)
		if err == nil {
			break
		}

		var ue *upstream.Error
		if !errors.As(err, &ue) {
			return nil, &token.Error{Kind: token.KindInternal, Op: "forward", Err: err}
		}
		if !ue.Unauthorized() {
			f.log.Warn().Str("path", path).Int("status", ue.Status).Msg("upstream call failed")
			return nil, &token.Error{
				Kind:   token.KindUpstream,
				Op:     "forward",
				Status: ue.Status,
				Body:   ue.Body,
				Err:    err,
			}
		}
		if attempt >= maxAuthRetries {
			f.log.Warn().Str("path", path).Msg("refreshed token rejected")
			return nil, &token.Error{
				Kind:   token.KindUnauthorized,
				Op:     "forward",
				Status: ue.Status,
				Body:   ue.Body,
				Err:    err,
			}
		}

		f.log.Info().Str("path", path).Msg("access token rejected, refreshing")
		access, err = f.tokens.RefreshRejected(ctx, access)
		if err != nil {
			return nil, err
		}
	}

	if !mapList {
		return body, nil
	}

	projected, err := MapActivities(body)
	if err != nil {
		return nil, &token.Error{Kind: token.KindInternal, Op: "forward", Err: err}
	}
	return projected, nil
}

// Athlete returns the authenticated athlete's profile.
func (f *Forwarder) Athlete(ctx context.Context) (json.RawMessage, error) {
	return f.Forward(ctx, "/athlete", false)
}

// Activities returns the most recent activities in summary form.
// perPage is clamped to [1, MaxPerPage]; zero means DefaultPerPage.
func (f *Forwarder) Activities(ctx context.Context, perPage int) (json.RawMessage, error) {
	switch {
	case perPage <= 0:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}

	q := url.Values{}
	q.Set("per_page", strconv.Itoa(perPage))
	return f.Forward(ctx, "/athlete/activities?"+q.Encode(), true)
}

// Activity returns one activity unmodified.
func (f *Forwarder) Activity(ctx context.Context, id int64) (json.RawMessage, error) {
	if id <= 0 {
		return nil, &token.Error{
			Kind: token.KindInternal,
			Op:   "forward",
			Err:  fmt.Errorf("invalid activity id %d", id),
		}
	}
	return f.Forward(ctx, "/activities/"+strconv.FormatInt(id, 10), false)
}
