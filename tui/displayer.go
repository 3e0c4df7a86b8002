package tui

import (
	"fmt"
	"io"
	"time"

	tea "charm.land/bubbletea/v2"
)

// Displayer abstracts all user-facing output of the CLI commands.
type Displayer interface {
	Banner()
	TokensFound()
	TokensNotFound()
	TokenValid(expiresIn time.Duration)
	TokenExpired()
	Refreshing()
	RefreshOK(expiresIn time.Duration)
	RefreshFailed(err error)
	AuthorizeURL(url string)
	Exchanging()
	ExchangeOK(expiresIn time.Duration)
	TokenSaved(path string)
	TokenCleared(path string)
	Serving(addr string)
	ShuttingDown()
	Done(summary string)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty) and by serve.
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== Strava Token Proxy ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) TokensFound() {
	fmt.Fprintln(p.w, "Found stored tokens.")
}

func (p *PlainDisplayer) TokensNotFound() {
	fmt.Fprintln(p.w, "No stored tokens, run `login` first.")
}

func (p *PlainDisplayer) TokenValid(expiresIn time.Duration) {
	fmt.Fprintf(p.w, "Access token is valid for %s.\n", formatDuration(expiresIn))
}

func (p *PlainDisplayer) TokenExpired() {
	fmt.Fprintln(p.w, "Access token is expired or about to expire.")
}

func (p *PlainDisplayer) Refreshing() {
	fmt.Fprintln(p.w, "Refreshing access token...")
}

func (p *PlainDisplayer) RefreshOK(expiresIn time.Duration) {
	fmt.Fprintf(p.w, "Token refreshed, valid for %s.\n", formatDuration(expiresIn))
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) AuthorizeURL(url string) {
	fmt.Fprintln(p.w, "----------------------------------------")
	fmt.Fprintf(p.w, "Please open this link to authorize:\n%s\n", url)
	fmt.Fprintln(p.w, "\nThen run `login -code <code>` with the code from the redirect,")
	fmt.Fprintln(p.w, "or let `serve` receive the callback.")
	fmt.Fprintln(p.w, "----------------------------------------")
}

func (p *PlainDisplayer) Exchanging() {
	fmt.Fprintln(p.w, "Exchanging authorization code...")
}

func (p *PlainDisplayer) ExchangeOK(expiresIn time.Duration) {
	fmt.Fprintf(p.w, "Authorization successful, token valid for %s.\n", formatDuration(expiresIn))
}

func (p *PlainDisplayer) TokenSaved(path string) {
	fmt.Fprintf(p.w, "Tokens saved to %s\n", path)
}

func (p *PlainDisplayer) TokenCleared(path string) {
	fmt.Fprintf(p.w, "Tokens removed from %s\n", path)
}

func (p *PlainDisplayer) Serving(addr string) {
	fmt.Fprintf(p.w, "Listening on %s\n", addr)
}

func (p *PlainDisplayer) ShuttingDown() {
	fmt.Fprintln(p.w, "Shutting down...")
}

func (p *PlainDisplayer) Done(summary string) {
	if summary != "" {
		fmt.Fprintln(p.w, summary)
	}
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                    {}
func (NoopDisplayer) TokensFound()               {}
func (NoopDisplayer) TokensNotFound()            {}
func (NoopDisplayer) TokenValid(_ time.Duration) {}
func (NoopDisplayer) TokenExpired()              {}
func (NoopDisplayer) Refreshing()                {}
func (NoopDisplayer) RefreshOK(_ time.Duration)  {}
func (NoopDisplayer) RefreshFailed(_ error)      {}
func (NoopDisplayer) AuthorizeURL(_ string)      {}
func (NoopDisplayer) Exchanging()                {}
func (NoopDisplayer) ExchangeOK(_ time.Duration) {}
func (NoopDisplayer) TokenSaved(_ string)        {}
func (NoopDisplayer) TokenCleared(_ string)      {}
func (NoopDisplayer) Serving(_ string)           {}
func (NoopDisplayer) ShuttingDown()              {}
func (NoopDisplayer) Done(_ string)              {}
func (NoopDisplayer) Fatal(_ error)              {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) TokensFound() {
	t.p.Send(MsgTokensFound{})
}

func (t *ProgramDisplayer) TokensNotFound() {
	t.p.Send(MsgTokensNotFound{})
}

func (t *ProgramDisplayer) TokenValid(expiresIn time.Duration) {
	t.p.Send(MsgTokenValid{ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) TokenExpired() {
	t.p.Send(MsgTokenExpired{})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshOK(expiresIn time.Duration) {
	t.p.Send(MsgRefreshOK{ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) AuthorizeURL(url string) {
	t.p.Send(MsgAuthorizeURL{URL: url})
}

func (t *ProgramDisplayer) Exchanging() {
	t.p.Send(MsgExchanging{})
}

func (t *ProgramDisplayer) ExchangeOK(expiresIn time.Duration) {
	t.p.Send(MsgExchangeOK{ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) TokenSaved(path string) {
	t.p.Send(MsgTokenSaved{Path: path})
}

func (t *ProgramDisplayer) TokenCleared(path string) {
	t.p.Send(MsgTokenCleared{Path: path})
}

func (t *ProgramDisplayer) Serving(addr string) {
	t.p.Send(MsgServing{Addr: addr})
}

func (t *ProgramDisplayer) ShuttingDown() {
	t.p.Send(MsgShuttingDown{})
}

func (t *ProgramDisplayer) Done(summary string) {
	t.p.Send(MsgDone{Summary: summary})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
