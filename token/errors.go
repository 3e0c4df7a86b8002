package token

import (
	"errors"
	"fmt"

	"github.com/go-authgate/strava-proxy/upstream"
)

// Kind classifies every failure the token lifecycle can surface.
type Kind int

const (
	KindInternal      Kind = iota // store write failure or other operational error
	KindNoCredentials             // no token ever acquired
	KindCorruptStore              // persisted record unreadable
	KindUpstreamAuth              // authorization code exchange failed
	KindRefreshFailed             // refresh grant failed
	KindUpstream                  // non-2xx from a resource fetch
	KindUnauthorized              // resource rejected a freshly refreshed token
)

func (k Kind) String() string {
	switch k {
	case KindNoCredentials:
		return "no_token"
	case KindCorruptStore:
		return "corrupt_store"
	case KindUpstreamAuth:
		return "upstream_auth"
	case KindRefreshFailed:
		return "refresh_failed"
	case KindUpstream:
		return "api_error"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal_error"
	}
}

// Error is the single error type of the token lifecycle. Match it with
// errors.Is against the sentinels below or with KindOf.
type Error struct {
	Kind Kind
	Op   string

	// Status and Body carry the upstream response, when there was one.
	Status int
	Body   string

	// TokenHint is the redacted refresh token used by a failed refresh.
	TokenHint string

	Err error
}

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrNoCredentials = &Error{Kind: KindNoCredentials}
	ErrCorruptStore  = &Error{Kind: KindCorruptStore}
	ErrUpstreamAuth  = &Error{Kind: KindUpstreamAuth}
	ErrRefreshFailed = &Error{Kind: KindRefreshFailed}
	ErrUnauthorized  = &Error{Kind: KindUnauthorized}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.TokenHint != "" {
		msg += fmt.Sprintf(" (refresh token %s)", e.TokenHint)
	}
	switch {
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	case e.Status != 0:
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf classifies err. Gateway errors that were not wrapped by the
// manager count as KindUpstream.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	var ue *upstream.Error
	if errors.As(err, &ue) {
		return KindUpstream
	}
	return KindInternal
}

// Redact keeps only the last four characters of a credential.
func Redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func upstreamDetails(err error) (int, string) {
	var ue *upstream.Error
	if errors.As(err, &ue) {
		return ue.Status, ue.Body
	}
	return 0, ""
}
