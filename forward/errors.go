package forward

import (
	"errors"
	"net/http"

	"github.com/go-authgate/strava-proxy/token"
	"github.com/go-authgate/strava-proxy/upstream"
)

// ErrorResponse maps an error from this package or the token manager to
// the HTTP status and JSON body returned to the local client.
func ErrorResponse(err error) (int, map[string]any) {
	kind := token.KindOf(err)
	body := map[string]any{"error": kind.String()}

	var status, upstreamStatus int
	var upstreamBody string
	var te *token.Error
	var ue *upstream.Error
	switch {
	case errors.As(err, &te):
		upstreamStatus, upstreamBody = te.Status, te.Body
	case errors.As(err, &ue):
		upstreamStatus, upstreamBody = ue.Status, ue.Body
	}

	switch kind {
	case token.KindNoCredentials:
		status = http.StatusUnauthorized
		body["message"] = "not authenticated, visit /authorize"
	case token.KindUnauthorized:
		status = http.StatusUnauthorized
		body["message"] = "upstream rejected a freshly refreshed token, re-authorize"
	case token.KindRefreshFailed:
		status = http.StatusUnauthorized
		body["message"] = "token refresh failed, re-authorize"
	case token.KindUpstream:
		status = http.StatusBadGateway
		body["status"] = upstreamStatus
		body["body"] = upstreamBody
	case token.KindUpstreamAuth:
		status = http.StatusBadGateway
		body["message"] = "authorization code exchange failed"
		if upstreamStatus != 0 {
			body["status"] = upstreamStatus
		}
	case token.KindCorruptStore:
		status = http.StatusInternalServerError
		body["message"] = "stored credentials are unreadable"
	case token.KindInternal:
		fallthrough
	default:
		status = http.StatusInternalServerError
		body["message"] = err.Error()
	}

	return status, body
}
