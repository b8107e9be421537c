package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"callbridge/internal/assets"
	"callbridge/internal/auth"
	"callbridge/internal/calllog"
	"callbridge/internal/calls"
	"callbridge/internal/preload"
	"callbridge/internal/stream"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth    *auth.Manager
	Calls   *calls.Service
	Preload *preload.Service
	Streams *stream.Streamer
	Events  *calllog.Service
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type initiateCallRequest struct {
	ScenarioID int64  `json:"scenario_id"`
	ToNumber   string `json:"to_number"`
	VoiceID    string `json:"voice_id,omitempty"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ScenarioID <= 0 || req.ToNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "scenario_id and to_number required"})
		return
	}

	res, err := h.Calls.Initiate(c.Request.Context(), calls.InitiateRequest{
		UserID:           userID,
		ScenarioID:       req.ScenarioID,
		ToNumber:         req.ToNumber,
		PreferredVoiceID: req.VoiceID,
	})
	if err != nil {
		status, msg := initiateErrorStatus(err)
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusCreated, res)
}

func initiateErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, calls.ErrInvalidNumber):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, calls.ErrNumberBlocked):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, calls.ErrTooManyCalls):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, preload.ErrUnauthorized):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, assets.ErrScenarioNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, preload.ErrNoVoiceLines), errors.Is(err, preload.ErrNoReadyAudio):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "call initiation failed"
	}
}

type preloadRequest struct {
	ScenarioID int64  `json:"scenario_id"`
	VoiceID    string `json:"voice_id,omitempty"`
}

// PreloadAudio warms the scenario's audio cache without dialing anyone.
func (h Handlers) PreloadAudio(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req preloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ScenarioID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "scenario_id required"})
		return
	}

	stats, err := h.Preload.Preload(c.Request.Context(), userID, req.ScenarioID, req.VoiceID)
	if err != nil {
		status, msg := initiateErrorStatus(err)
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// --- Playback ---

type playRequest struct {
	VoiceLineID int64 `json:"voice_line_id"`
}

func (h Handlers) PlayVoiceLine(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	conferenceName := c.Param("conference_name")
	var req playRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.VoiceLineID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "voice_line_id required"})
		return
	}

	dur, err := h.Streams.Play(c.Request.Context(), userID, conferenceName, req.VoiceLineID)
	if err != nil {
		status, msg := streamErrorStatus(err)
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "playing", "duration_ms": dur.Milliseconds()})
}

func (h Handlers) StopPlayback(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	conferenceName := c.Param("conference_name")

	stopped, err := h.Streams.Stop(c.Request.Context(), userID, conferenceName)
	if err != nil {
		status, msg := streamErrorStatus(err)
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": stopped})
}

func streamErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, stream.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, stream.ErrUnauthorized):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, preload.ErrUnauthorized):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, preload.ErrLineNotFound):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, "playback failed"
	}
}

// --- Teardown ---

func (h Handlers) HangupConference(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	conferenceName := c.Param("conference_name")

	if err := h.Calls.HangupConference(c.Request.Context(), userID, conferenceName); err != nil {
		switch {
		case errors.Is(err, calls.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, calls.ErrUnauthorized):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "hangup failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

// --- History ---

// CallHistory returns the caller's recent call events with a rolled-up
// summary. Range defaults to the last 24 hours.
func (h Handlers) CallHistory(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	now := time.Now().UTC()
	req := calllog.HistoryRequest{UserID: userID, From: now.Add(-24 * time.Hour), To: now}
	if v := c.Query("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		req.From = ts
	}
	if v := c.Query("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		req.To = ts
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		req.Limit = n
	}

	events, err := h.Events.History(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, calllog.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	summary, err := h.Events.UserSummary(c.Request.Context(), req)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "summary": summary})
}

// --- Realtime ---

// RealtimeToken mints short-lived WebRTC credentials for the caller's
// monitoring client.
func (h Handlers) RealtimeToken(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	token, err := h.Calls.RealtimeToken(c.Request.Context(), userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "token minting failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
