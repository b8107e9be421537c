package webhook

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// Event types delivered by the call-control provider.
const (
	EventCallInitiated = "call.initiated"
	EventCallAnswered  = "call.answered"
	EventCallHangup    = "call.hangup"
	EventCallEnded     = "call.ended"
)

// Leg directions as the provider reports them.
const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
)

// Envelope is the provider's webhook wrapper.
type Envelope struct {
	Data Event `json:"data"`
}

type Event struct {
	EventType string  `json:"event_type"`
	Payload   Payload `json:"payload"`
}

type Payload struct {
	CallControlID string         `json:"call_control_id"`
	Direction     string         `json:"direction"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	CustomHeaders []CustomHeader `json:"custom_headers"`
	ClientState   string         `json:"client_state"`
}

type CustomHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// headerConferenceName is the signaling header realtime clients use to name
// the conference they want to monitor.
const headerConferenceName = "x-conference-name"

// ConferenceName extracts the target conference from custom signaling
// headers, falling back to the encoded client-state token. Empty means the
// leg cannot be routed.
func (p Payload) ConferenceName() string {
	for _, h := range p.CustomHeaders {
		if strings.EqualFold(strings.TrimSpace(h.Name), headerConferenceName) && h.Value != "" {
			return h.Value
		}
	}
	if cs, err := DecodeClientState(p.ClientState); err == nil {
		return cs.ConferenceName
	}
	return ""
}

// ClientState rides opaque through the provider and comes back on later
// events for the same leg.
type ClientState struct {
	ConferenceName string `json:"conference_name"`
}

func EncodeClientState(cs ClientState) string {
	b, _ := json.Marshal(cs)
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeClientState(raw string) (ClientState, error) {
	var cs ClientState
	if raw == "" {
		return cs, errEmptyClientState
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return cs, err
	}
	if err := json.Unmarshal(b, &cs); err != nil {
		return cs, err
	}
	return cs, nil
}

var errEmptyClientState = errors.New("webhook: empty client state")
