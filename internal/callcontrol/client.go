package callcontrol

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	answerRetries = 4
	joinRetries   = 5

	// Linear backoff step between "not ready" retries.
	retryStep = 150 * time.Millisecond

	// Credentials are considered reusable only with this much life left.
	credentialMinRemaining = 5 * time.Minute
	credentialLifetime     = 30 * time.Minute
)

// Config holds the provider account wiring for the call-control API.
type Config struct {
	BaseURL    string
	APIKey     string
	FromNumber string

	// ConnectionID is the call-control application the outbound leg uses.
	ConnectionID string
	// CredentialConnectionID is the SIP connection on-demand credentials
	// are minted under.
	CredentialConnectionID string

	// WebhookURL receives lifecycle events for calls we create.
	WebhookURL string
	// StreamBaseURL is the public wss:// base the provider forks media to.
	StreamBaseURL string
}

// Client is a thin façade over the provider's call-control HTTPS API.
// Each method is one provider RPC with an explicit retry policy.
type Client struct {
	cfg  Config
	http *http.Client

	// sleep is injectable so retry tests do not burn wall-clock time.
	sleep func(ctx context.Context, d time.Duration) error
	clock func() time.Time
	log   *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
		sleep: sleepCtx,
		clock: time.Now,
		log:   log,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CallHandle identifies a freshly created outbound leg.
type CallHandle struct {
	CallLegID      string
	CallControlID  string
	CallSessionID  string
	ConferenceName string
}

// NewConferenceName returns a high-entropy conference token. It serves both
// as the provider conference id and as the authorization secret handed to
// monitor legs, so it must never be derived from user input.
func NewConferenceName() string {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the process cannot mint secrets at all.
		panic(fmt.Sprintf("callcontrol: crypto/rand unavailable: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// InitiateCall creates the outbound PSTN leg. The conference config rides in
// the same request with start_conference_on_enter, so the callee leg joins
// the instant it answers and there is no answered/joined race to chase.
func (c *Client) InitiateCall(ctx context.Context, toNumber string) (CallHandle, error) {
	conferenceName := NewConferenceName()

	payload := map[string]any{
		"to":            toNumber,
		"from":          c.cfg.FromNumber,
		"connection_id": c.cfg.ConnectionID,
		"webhook_url":   c.cfg.WebhookURL,
		"conference_config": map[string]any{
			"conference_name":           conferenceName,
			"start_conference_on_enter": true,
			"end_conference_on_exit":    true,
		},
	}

	var resp struct {
		Data struct {
			CallLegID     string `json:"call_leg_id"`
			CallControlID string `json:"call_control_id"`
			CallSessionID string `json:"call_session_id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/calls", payload, &resp); err != nil {
		return CallHandle{}, err
	}

	c.log.Info("call initiated", "to", toNumber, "call_control_id", resp.Data.CallControlID)
	return CallHandle{
		CallLegID:      resp.Data.CallLegID,
		CallControlID:  resp.Data.CallControlID,
		CallSessionID:  resp.Data.CallSessionID,
		ConferenceName: conferenceName,
	}, nil
}

// AnswerWithRetry answers an inbound leg. The provider may not have finished
// registering a brand new leg, so 404 is retried with linear backoff; any
// other failure is immediately fatal.
func (c *Client) AnswerWithRetry(ctx context.Context, callControlID string) error {
	path := "/calls/" + url.PathEscape(callControlID) + "/actions/answer"
	for attempt := 1; ; attempt++ {
		err := c.do(ctx, http.MethodPost, path, map[string]any{}, nil)
		if err == nil {
			return nil
		}
		if !IsNotFound(err) || attempt >= answerRetries {
			return err
		}
		if err := c.sleep(ctx, time.Duration(attempt)*retryStep); err != nil {
			return err
		}
	}
}

// JoinConferenceByName bridges a leg into the conference. Join must follow
// answer but the two provider RPCs race, so 422 ("not yet answered") joins
// 404 in the retryable class.
func (c *Client) JoinConferenceByName(ctx context.Context, callControlID, conferenceName string, mute bool) error {
	path := "/conferences/" + url.PathEscape(conferenceName) + "/actions/join"
	payload := map[string]any{
		"call_control_id":           callControlID,
		"start_conference_on_enter": true,
		"mute":                      mute,
	}
	for attempt := 1; ; attempt++ {
		err := c.do(ctx, http.MethodPost, path, payload, nil)
		if err == nil {
			return nil
		}
		if !IsNotReady(err) || attempt >= joinRetries {
			return err
		}
		if err := c.sleep(ctx, time.Duration(attempt)*retryStep); err != nil {
			return err
		}
	}
}

// Hangup terminates a leg. The provider tears calls down on its own when the
// far end hangs up, so "already gone" responses count as success.
func (c *Client) Hangup(ctx context.Context, callControlID string) error {
	path := "/calls/" + url.PathEscape(callControlID) + "/actions/hangup"
	err := c.do(ctx, http.MethodPost, path, map[string]any{}, nil)
	if err != nil && IsNotReady(err) {
		c.log.Warn("hangup on already-terminated call", "call_control_id", callControlID)
		return nil
	}
	return err
}

// StartMediaFork tells the provider to open a bidirectional PCMU media
// socket to our streaming endpoint for the given leg.
func (c *Client) StartMediaFork(ctx context.Context, callControlID string) error {
	path := "/calls/" + url.PathEscape(callControlID) + "/actions/streaming_start"
	payload := map[string]any{
		"stream_url":                c.MediaStreamURL(callControlID),
		"stream_track":              "both_tracks",
		"stream_codec":              "PCMU",
		"stream_bidirectional_mode": "rtp",
	}
	return c.do(ctx, http.MethodPost, path, payload, nil)
}

// MediaStreamURL is the per-leg websocket endpoint handed to the provider.
func (c *Client) MediaStreamURL(callControlID string) string {
	base := strings.TrimSuffix(c.cfg.StreamBaseURL, "/")
	return base + "/v1/telnyx/media/" + url.PathEscape(callControlID)
}

type credential struct {
	ID        string `json:"id"`
	Tag       string `json:"tag"`
	ExpiresAt string `json:"expires_at"`
}

// GetOrCreateOnDemandCredential reuses a live credential tagged with the
// deterministic per-user name before creating a new one, so repeat token
// mints do not pile up credentials at the provider.
func (c *Client) GetOrCreateOnDemandCredential(ctx context.Context, userID string) (string, error) {
	tag := "monitor-" + userID

	var list struct {
		Data []credential `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/telephony_credentials", nil, &list); err != nil {
		return "", err
	}
	cutoff := c.clock().UTC().Add(credentialMinRemaining)
	for _, item := range list.Data {
		if item.Tag != tag || item.ID == "" || item.ExpiresAt == "" {
			continue
		}
		exp, err := time.Parse(time.RFC3339, item.ExpiresAt)
		if err != nil {
			continue
		}
		if exp.After(cutoff) {
			return item.ID, nil
		}
	}

	payload := map[string]any{
		"connection_id": c.cfg.CredentialConnectionID,
		"name":          tag,
		"tag":           tag,
		"expires_at":    c.clock().UTC().Add(credentialLifetime).Format(time.RFC3339),
	}
	var created struct {
		Data credential `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/telephony_credentials", payload, &created); err != nil {
		return "", err
	}
	if created.Data.ID == "" {
		return "", fmt.Errorf("callcontrol: credential created but response missing id")
	}
	return created.Data.ID, nil
}

// MintRealtimeToken exchanges a credential for a realtime access token.
// Single RPC, no retry; the caller decides whether to redo the whole flow.
func (c *Client) MintRealtimeToken(ctx context.Context, credentialID string) (string, error) {
	path := "/telephony_credentials/" + url.PathEscape(credentialID) + "/token"

	req, err := c.newRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("callcontrol: mint token: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("callcontrol: mint token: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", &ProviderError{Status: resp.StatusCode, Op: "mint token", Body: string(body)}
	}

	// The token endpoint answers either JSON ({"token": ...} / {"data": ...})
	// or the bare token as text.
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var payload struct {
			Token string `json:"token"`
			Data  string `json:"data"`
		}
		if err := json.Unmarshal(body, &payload); err == nil {
			if payload.Token != "" {
				return payload.Token, nil
			}
			if payload.Data != "" {
				return payload.Data, nil
			}
		}
	}
	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", fmt.Errorf("callcontrol: token missing in provider response")
	}
	return token, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.cfg.BaseURL, "/")+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("callcontrol: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("callcontrol: %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		return &ProviderError{Status: resp.StatusCode, Op: method + " " + path, Body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("callcontrol: %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}
