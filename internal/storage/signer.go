package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Signer mints short-lived read URLs for finished speech assets. The object
// store's credentials never cross this boundary; callers only ever see the
// expiring URL.
type Signer interface {
	SignedURL(ctx context.Context, storagePath string, expiresIn time.Duration) (string, error)
}

// Config points at a Supabase-style storage API.
type Config struct {
	BaseURL    string
	ServiceKey string
	Bucket     string
}

// HTTPSigner asks the storage service to sign object paths on demand.
type HTTPSigner struct {
	cfg  Config
	http *http.Client
}

func NewHTTPSigner(cfg Config) *HTTPSigner {
	return &HTTPSigner{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSigner) SignedURL(ctx context.Context, storagePath string, expiresIn time.Duration) (string, error) {
	if storagePath == "" {
		return "", fmt.Errorf("storage: storage path is required")
	}
	if expiresIn <= 0 {
		expiresIn = 10 * time.Minute
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s",
		strings.TrimSuffix(s.cfg.BaseURL, "/"),
		url.PathEscape(s.cfg.Bucket),
		escapePath(storagePath),
	)
	body, err := json.Marshal(map[string]any{"expiresIn": int(expiresIn.Seconds())})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.ServiceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: sign request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("storage: sign response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("storage: sign failed with status %d: %s", resp.StatusCode, data)
	}

	var payload struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("storage: sign response: %w", err)
	}
	if payload.SignedURL == "" {
		return "", fmt.Errorf("storage: sign response missing signedURL")
	}
	// The API returns a path relative to the storage root.
	if strings.HasPrefix(payload.SignedURL, "/") {
		return strings.TrimSuffix(s.cfg.BaseURL, "/") + "/storage/v1" + payload.SignedURL, nil
	}
	return payload.SignedURL, nil
}

// escapePath escapes each segment while keeping the separators.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
