package tui

import (
	"time"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgTokensFound signals that a stored token record was found.
type MsgTokensFound struct{}

// MsgTokensNotFound signals that nothing is stored yet.
type MsgTokensNotFound struct{}

// MsgTokenValid signals that the stored access token is usable.
type MsgTokenValid struct{ ExpiresIn time.Duration }

// MsgTokenExpired signals that the stored access token is inside the expiry buffer.
type MsgTokenExpired struct{}

// MsgRefreshing signals that a token refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the token was refreshed.
type MsgRefreshOK struct{ ExpiresIn time.Duration }

// MsgRefreshFailed signals that the refresh grant failed.
type MsgRefreshFailed struct{ Err error }

// MsgAuthorizeURL carries the consent screen URL the user must open.
type MsgAuthorizeURL struct{ URL string }

// MsgExchanging signals that an authorization code is being exchanged.
type MsgExchanging struct{}

// MsgExchangeOK signals that the code exchange succeeded.
type MsgExchangeOK struct{ ExpiresIn time.Duration }

// MsgTokenSaved signals that tokens were written to disk.
type MsgTokenSaved struct{ Path string }

// MsgTokenCleared signals that the stored tokens were removed.
type MsgTokenCleared struct{ Path string }

// MsgServing signals that the HTTP surface is listening.
type MsgServing struct{ Addr string }

// MsgShuttingDown signals that the HTTP surface is draining.
type MsgShuttingDown struct{}

// MsgDone signals that the command finished.
type MsgDone struct{ Summary string }

// MsgFatal signals a fatal error that terminates the command.
type MsgFatal struct{ Err error }
