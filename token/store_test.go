package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testRecord(access, refresh string, expiresAt time.Time) *Record {
	return &Record{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))

	rec, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec != nil {
		t.Errorf("Load() = %+v, want nil for missing file", rec)
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "tokens.json"))

	expiresAt := time.Unix(time.Now().Add(6*time.Hour).Unix(), 0)
	if err := store.Save(ctx, testRecord("access-1", "refresh-1", expiresAt)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rec, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.AccessToken != "access-1" || rec.RefreshToken != "refresh-1" {
		t.Errorf("Load() tokens = %q/%q", rec.AccessToken, rec.RefreshToken)
	}
	if !rec.ExpiresAt.Equal(expiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", rec.ExpiresAt, expiresAt)
	}
	if rec.SavedAt.IsZero() {
		t.Errorf("SavedAt was not recorded")
	}

	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}
}

func TestFileStore_FileLayout(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))

	if err := store.Save(ctx, testRecord("access", "refresh", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("Failed to read token file: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Failed to parse token file: %v", err)
	}

	for _, key := range []string{
		"access_token", "refresh_token", "expires_at", "expires_in", "token_type", "saved_at",
	} {
		if _, ok := raw[key]; !ok {
			t.Errorf("token file is missing key %q", key)
		}
	}
	if raw["token_type"] != "Bearer" {
		t.Errorf("token_type = %v, want Bearer", raw["token_type"])
	}
}

func TestFileStore_SaveReplacesRecord(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))

	if err := store.Save(ctx, testRecord("old-access", "old-refresh", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}
	if err := store.Save(ctx, testRecord("new-access", "new-refresh", time.Now().Add(2*time.Hour))); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	rec, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.AccessToken != "new-access" || rec.RefreshToken != "new-refresh" {
		t.Errorf("Load() = %q/%q, want the second record", rec.AccessToken, rec.RefreshToken)
	}

	if _, err := os.Stat(store.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind")
	}
}

func TestFileStore_CorruptPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: "{not json"},
		{name: "truncated", payload: `{"access_token":"a","refresh_token":"r","expires_at":17`},
		{name: "missing refresh token", payload: `{"access_token":"a","expires_at":1700000000}`},
		{name: "missing access token", payload: `{"refresh_token":"r","expires_at":1700000000}`},
		{name: "missing expiry", payload: `{"access_token":"a","refresh_token":"r"}`},
		{name: "empty access token", payload: `{"access_token":"","refresh_token":"r","expires_at":1}`},
		{name: "wrong type", payload: `{"access_token":"a","refresh_token":"r","expires_at":"soon"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tokens.json")
			if err := os.WriteFile(path, []byte(tt.payload), 0o600); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}

			rec, err := NewFileStore(path).Load(context.Background())
			if !errors.Is(err, ErrCorruptStore) {
				t.Fatalf("Load() error = %v, want corrupt store", err)
			}
			if rec != nil {
				t.Errorf("Load() returned a partial record: %+v", rec)
			}

			// corrupt data is reported, never repaired
			if _, err := os.Stat(path); err != nil {
				t.Errorf("corrupt file was removed: %v", err)
			}
		})
	}
}

func TestFileStore_RefusesPartialRecord(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))

	err := store.Save(context.Background(), &Record{AccessToken: "access-only"})
	if KindOf(err) != KindInternal {
		t.Fatalf("Save() error = %v, want internal error", err)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Errorf("partial record was written")
	}
}

func TestFileStore_DeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))

	if err := store.Delete(ctx); err != nil {
		t.Fatalf("Delete() on empty store error = %v", err)
	}

	if err := store.Save(ctx, testRecord("a", "r", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete(ctx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}

	rec, err := store.Load(ctx)
	if err != nil || rec != nil {
		t.Errorf("Load() after Delete() = %+v, %v", rec, err)
	}
}

func TestFileStore_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))

	const goroutines = 10
	var wg sync.WaitGroup

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()

			rec := testRecord(
				fmt.Sprintf("access-token-%d", id),
				fmt.Sprintf("refresh-token-%d", id),
				time.Now().Add(time.Hour),
			)
			if err := store.Save(ctx, rec); err != nil {
				t.Errorf("Goroutine %d: Failed to save tokens: %v", id, err)
			}
		}(i)
	}

	wg.Wait()

	rec, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// last writer wins, but the pair must come from a single writer
	var id int
	if _, err := fmt.Sscanf(rec.AccessToken, "access-token-%d", &id); err != nil {
		t.Fatalf("unexpected access token %q", rec.AccessToken)
	}
	if want := fmt.Sprintf("refresh-token-%d", id); rec.RefreshToken != want {
		t.Errorf("RefreshToken = %q, want %q (mixed record)", rec.RefreshToken, want)
	}

	if _, err := os.Stat(store.Path() + ".lock"); !os.IsNotExist(err) {
		t.Errorf("Lock file still exists after all saves completed")
	}
}

func BenchmarkFileStore_Save(b *testing.B) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(b.TempDir(), "tokens.json"))
	rec := testRecord("access-token", "refresh-token", time.Now().Add(time.Hour))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Save(ctx, rec); err != nil {
			b.Fatalf("Failed to save tokens: %v", err)
		}
	}
}
