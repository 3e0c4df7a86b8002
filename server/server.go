// Package server exposes the token manager and the forwarder over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/go-authgate/strava-proxy/forward"
	"github.com/go-authgate/strava-proxy/token"
)

const defaultShutdownTimeout = 15 * time.Second

// Tokens is the part of the token manager the HTTP surface drives.
type Tokens interface {
	ExchangeAuthorizationCode(ctx context.Context, code string) (*token.Record, error)
	Info(ctx context.Context) (*token.Info, error)
	Clear(ctx context.Context) error
}

// Upstream is served by *forward.Forwarder.
type Upstream interface {
	Athlete(ctx context.Context) (json.RawMessage, error)
	Activities(ctx context.Context, perPage int) (json.RawMessage, error)
	Activity(ctx context.Context, id int64) (json.RawMessage, error)
	CustomStats(ctx context.Context, start, end time.Time) (*forward.Stats, error)
}

// Authorizer builds the consent screen URL.
type Authorizer interface {
	AuthCodeURL(state string) string
}

type Config struct {
	Addr            string
	StateTTL        time.Duration
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
}

// Server is the local HTTP surface.
type Server struct {
	echo            *echo.Echo
	addr            string
	shutdownTimeout time.Duration
	log             zerolog.Logger

	tokens Tokens
	api    Upstream
	auth   Authorizer
	states *stateStore
}

func New(cfg Config, tokens Tokens, api Upstream, auth Authorizer) *Server {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:            e,
		addr:            cfg.Addr,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             cfg.Logger,
		tokens:          tokens,
		api:             api,
		auth:            auth,
		states:          newStateStore(cfg.StateTTL),
	}

	e.HTTPErrorHandler = s.handleError
	e.Use(requestLogger(cfg.Logger))
	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.home)
	s.echo.GET("/health", s.health)

	s.echo.GET("/authorize", s.authorize)
	s.echo.GET("/callback", s.callback)
	s.echo.GET("/token/info", s.tokenInfo)
	s.echo.POST("/logout", s.logout)

	s.echo.GET("/athlete", s.athlete)
	s.echo.GET("/activities/export", s.exportActivities)
	s.echo.GET("/activities/:id", s.activity)
	s.echo.GET("/stats/custom", s.customStats)
}

// Handler returns the router, for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr returns the bound listener address once Run has started.
func (s *Server) Addr() net.Addr {
	return s.echo.ListenerAddr()
}

// Run serves until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("http server listening")
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.states.stop()
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	err := s.echo.Shutdown(shutdownCtx)
	s.states.stop()
	return err
}

// handleError renders errors that escaped a handler, mostly echo's own
// 404 and 405.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		_ = c.JSON(he.Code, map[string]any{"error": msg})
		return
	}

	status, body := forward.ErrorResponse(err)
	_ = c.JSON(status, body)
}
