package token

import (
	"encoding/json"
	"errors"
	"time"
)

// Record is the persisted token triple plus bookkeeping.
type Record struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	SavedAt      time.Time
}

// fileRecord is the on-disk layout. Pointers let decode tell a missing
// field apart from a zero value.
type fileRecord struct {
	AccessToken  *string `json:"access_token"`
	RefreshToken *string `json:"refresh_token"`
	ExpiresAt    *int64  `json:"expires_at"`
	ExpiresIn    int64   `json:"expires_in"`
	TokenType    string  `json:"token_type"`
	SavedAt      *int64  `json:"saved_at,omitempty"`
}

func encodeRecord(r *Record) ([]byte, error) {
	expiresAt := r.ExpiresAt.Unix()
	savedAt := r.SavedAt.Unix()
	tokenType := r.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return json.MarshalIndent(fileRecord{
		AccessToken:  &r.AccessToken,
		RefreshToken: &r.RefreshToken,
		ExpiresAt:    &expiresAt,
		ExpiresIn:    max(expiresAt-savedAt, 0),
		TokenType:    tokenType,
		SavedAt:      &savedAt,
	}, "", "  ")
}

func decodeRecord(data []byte) (*Record, error) {
	var fr fileRecord
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, err
	}

	switch {
	case fr.AccessToken == nil || *fr.AccessToken == "":
		return nil, errors.New("access_token missing")
	case fr.RefreshToken == nil || *fr.RefreshToken == "":
		return nil, errors.New("refresh_token missing")
	case fr.ExpiresAt == nil:
		return nil, errors.New("expires_at missing")
	}

	r := &Record{
		AccessToken:  *fr.AccessToken,
		RefreshToken: *fr.RefreshToken,
		TokenType:    fr.TokenType,
		ExpiresAt:    time.Unix(*fr.ExpiresAt, 0),
	}
	if fr.SavedAt != nil {
		r.SavedAt = time.Unix(*fr.SavedAt, 0)
	}
	return r, nil
}
