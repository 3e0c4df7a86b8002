package server

import (
	"fmt"
	"html"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/go-authgate/strava-proxy/forward"
)

const dateLayout = "2006-01-02"

var (
	defaultStatsStart = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	defaultStatsEnd   = time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)
)

func (s *Server) home(c echo.Context) error {
	return c.String(http.StatusOK, "Strava proxy is running. Visit /authorize to connect an account.")
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) authorize(c echo.Context) error {
	link := s.auth.AuthCodeURL(s.states.issue())
	return c.HTML(
		http.StatusOK,
		fmt.Sprintf(`<html><body><a href="%s">Authorize with Strava</a></body></html>`, html.EscapeString(link)),
	)
}

func (s *Server) callback(c echo.Context) error {
	if reason := c.QueryParam("error"); reason != "" {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error":   "access_denied",
			"message": reason,
		})
	}
	if !s.states.consume(c.QueryParam("state")) {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error":   "invalid_state",
			"message": "unknown or expired state, start again at /authorize",
		})
	}
	code := c.QueryParam("code")
	if code == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error":   "invalid_request",
			"message": "missing code",
		})
	}

	rec, err := s.tokens.ExchangeAuthorizationCode(c.Request().Context(), code)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "authenticated",
		"expires_at": rec.ExpiresAt.Unix(),
	})
}

func (s *Server) tokenInfo(c echo.Context) error {
	info, err := s.tokens.Info(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) logout(c echo.Context) error {
	if err := s.tokens.Clear(c.Request().Context()); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) athlete(c echo.Context) error {
	body, err := s.api.Athlete(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSONBlob(http.StatusOK, body)
}

func (s *Server) exportActivities(c echo.Context) error {
	perPage := 0
	if raw := c.QueryParam("per_page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "per_page must be a positive integer")
		}
		perPage = n
	}

	body, err := s.api.Activities(c.Request().Context(), perPage)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSONBlob(http.StatusOK, body)
}

func (s *Server) activity(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "activity id must be a positive integer")
	}

	body, err := s.api.Activity(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSONBlob(http.StatusOK, body)
}

func (s *Server) customStats(c echo.Context) error {
	start := defaultStatsStart
	end := defaultStatsEnd

	if raw := c.QueryParam("start"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "start must be YYYY-MM-DD")
		}
		start = t
	}
	if raw := c.QueryParam("end"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "end must be YYYY-MM-DD")
		}
		// the end day is included up to its last minute
		end = t.Add(23*time.Hour + 59*time.Minute)
	}
	if !end.After(start) {
		return echo.NewHTTPError(http.StatusBadRequest, "end must not be before start")
	}

	stats, err := s.api.CustomStats(c.Request().Context(), start, end)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// fail writes the error response for err and logs it with the request id.
func (s *Server) fail(c echo.Context, err error) error {
	status, body := forward.ErrorResponse(err)

	log := zerolog.Ctx(c.Request().Context())
	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).Int("status", status).Str("path", c.Path()).Msg("request failed")

	return c.JSON(status, body)
}
