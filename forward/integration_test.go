package forward

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-authgate/strava-proxy/token"
	"github.com/go-authgate/strava-proxy/upstream"
)

// fakeStrava rejects A1 and accepts whatever its refresh grant handed out.
type fakeStrava struct {
	refreshCalls atomic.Int32
	refreshDelay time.Duration
}

func (s *fakeStrava) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.FormValue("grant_type") != "refresh_token" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		s.refreshCalls.Add(1)
		time.Sleep(s.refreshDelay)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"token_type":    "Bearer",
			"access_token":  "A2",
			"refresh_token": "R2",
			"expires_in":    21600,
		})
	})
	mux.HandleFunc("/api/v3/athlete", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A2" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Authorization Error"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":3329857}`))
	})
	return mux
}

func newStack(t *testing.T, strava *fakeStrava) (*Forwarder, *token.FileStore) {
	t.Helper()

	server := httptest.NewServer(strava.handler(t))
	t.Cleanup(server.Close)

	client, err := upstream.NewClient(upstream.Config{
		ClientID:     "12345",
		ClientSecret: "secret",
		OAuthURL:     server.URL + "/oauth",
		APIURL:       server.URL + "/api/v3",
	})
	require.NoError(t, err)

	store := token.NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, store.Save(context.Background(), &token.Record{
		AccessToken:  "A1",
		RefreshToken: "R1",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	return New(token.NewManager(store, client), client), store
}

func TestForward_RevokedTokenRecovered(t *testing.T) {
	strava := &fakeStrava{}
	fwd, store := newStack(t, strava)

	body, err := fwd.Athlete(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3329857}`, string(body))
	assert.EqualValues(t, 1, strava.refreshCalls.Load())

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A2", rec.AccessToken)
	assert.Equal(t, "R2", rec.RefreshToken)
}

func TestForward_ConcurrentRejectionsShareOneRefresh(t *testing.T) {
	strava := &fakeStrava{refreshDelay: 50 * time.Millisecond}
	fwd, _ := newStack(t, strava)

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			if _, err := fwd.Athlete(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Athlete() error = %v", err)
	}
	assert.EqualValues(t, 1, strava.refreshCalls.Load())
}
