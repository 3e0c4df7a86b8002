package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/go-authgate/strava-proxy/forward"
	"github.com/go-authgate/strava-proxy/server"
	"github.com/go-authgate/strava-proxy/token"
	"github.com/go-authgate/strava-proxy/tui"
	"github.com/go-authgate/strava-proxy/upstream"
)

// app wires the store, the gateway and the manager for one command.
type app struct {
	cfg    *config
	log    zerolog.Logger
	store  *token.FileStore
	client *upstream.Client
	tokens *token.Manager
}

func newApp(cfg *config, log zerolog.Logger) (*app, error) {
	client, err := upstream.NewClient(upstream.Config{
		ClientID:     cfg.clientID,
		ClientSecret: cfg.clientSecret,
		RedirectURI:  cfg.redirectURI,
		OAuthURL:     cfg.oauthURL,
		APIURL:       cfg.apiURL,
	})
	if err != nil {
		return nil, err
	}

	store := token.NewFileStore(cfg.tokenFile)
	return &app{
		cfg:    cfg,
		log:    log,
		store:  store,
		client: client,
		tokens: token.NewManager(
			store,
			client,
			token.WithBuffer(cfg.expiryBuffer),
			token.WithLogger(log.With().Str("component", "token").Logger()),
		),
	}, nil
}

// dispatch runs the named subcommand.
func (a *app) dispatch(ctx context.Context, d tui.Displayer, cmd string, args []string) error {
	switch cmd {
	case "serve":
		return a.serve(ctx, d)
	case "login":
		fs := flag.NewFlagSet("login", flag.ContinueOnError)
		code := fs.String("code", "", "Authorization code from the redirect")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.login(ctx, d, *code)
	case "status":
		return a.status(ctx, d)
	case "refresh":
		return a.refresh(ctx, d)
	case "logout":
		return a.logout(ctx, d)
	default:
		return fmt.Errorf("unknown command %q (want serve, login, status, refresh or logout)", cmd)
	}
}

func (a *app) login(ctx context.Context, d tui.Displayer, code string) error {
	if err := a.cfg.requireClient(); err != nil {
		return err
	}

	if code == "" {
		d.AuthorizeURL(a.client.AuthCodeURL(uuid.NewString()))
		d.Done("")
		return nil
	}

	d.Exchanging()
	rec, err := a.tokens.ExchangeAuthorizationCode(ctx, code)
	if err != nil {
		return err
	}
	d.ExchangeOK(time.Until(rec.ExpiresAt))
	d.TokenSaved(a.store.Path())
	d.Done("")
	return nil
}

func (a *app) status(ctx context.Context, d tui.Displayer) error {
	info, err := a.tokens.Info(ctx)
	if err != nil {
		return err
	}
	if !info.TokenExists {
		d.TokensNotFound()
		d.Done("")
		return nil
	}

	d.TokensFound()
	if info.IsExpired {
		d.TokenExpired()
	} else {
		d.TokenValid(time.Duration(info.ExpiresInSeconds) * time.Second)
	}
	d.Done(fmt.Sprintf("Expires at %s", time.Unix(info.ExpiresAt, 0).Format(time.RFC1123)))
	return nil
}

func (a *app) refresh(ctx context.Context, d tui.Displayer) error {
	if err := a.cfg.requireClient(); err != nil {
		return err
	}

	d.Refreshing()
	if _, err := a.tokens.Refresh(ctx); err != nil {
		d.RefreshFailed(err)
		return err
	}

	info, err := a.tokens.Info(ctx)
	if err != nil {
		return err
	}
	d.RefreshOK(time.Duration(info.ExpiresInSeconds) * time.Second)
	d.TokenSaved(a.store.Path())
	d.Done("")
	return nil
}

func (a *app) logout(ctx context.Context, d tui.Displayer) error {
	if err := a.tokens.Clear(ctx); err != nil {
		return err
	}
	d.TokenCleared(a.store.Path())
	d.Done("")
	return nil
}

func (a *app) serve(ctx context.Context, d tui.Displayer) error {
	if err := a.cfg.requireClient(); err != nil {
		return err
	}

	if a.tokens.IsAuthenticated(ctx) {
		d.TokensFound()
	} else {
		d.TokensNotFound()
	}

	fwd := forward.New(
		a.tokens,
		a.client,
		forward.WithStatsTitle(a.cfg.statsTitle),
		forward.WithLogger(a.log.With().Str("component", "forward").Logger()),
	)
	srv := server.New(
		server.Config{
			Addr:   a.cfg.listenAddr,
			Logger: a.log.With().Str("component", "http").Logger(),
		},
		a.tokens,
		fwd,
		a.client,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()
	d.Serving(a.cfg.listenAddr)

	select {
	case err := <-errCh:
		// listener failed before any shutdown was requested
		return err
	case <-ctx.Done():
	}

	d.ShuttingDown()
	if err := <-errCh; err != nil {
		return err
	}
	d.Done("Server stopped.")
	return nil
}
