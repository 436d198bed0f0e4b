// Package wire defines the JSON messages exchanged between the traffic server and its
// websocket clients.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
)

var ErrUnknownType = errors.New("unknown message type")

// Server -> client message types.
const (
	TypeSnapshot    = "snapshot"
	TypeNewTraffic  = "new_traffic"
	TypeCreated     = "created"
	TypeExpired     = "expired"
	TypeEvicted     = "evicted"
	TypeRemoved     = "removed"
	TypeCleared     = "cleared"
	TypeAlert       = "suspicious_alert"
	TypeDiagnostic  = "diagnostic"
	TypeStatsUpdate = "stats_update"
	TypeConfig      = "config"
)

// Client -> server commands.
const (
	CmdSetFade             = "set_fade"
	CmdSetSuspiciousFilter = "set_suspicious_filter"
	CmdClear               = "clear"
	CmdGenerate            = "generate"
	CmdSetMaxItems         = "set_max_items"
)

// Envelope is the frame every message travels in.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Snapshot is the full state a client receives on connect. ServerTime lets the client age
// entities against its own clock.
type Snapshot struct {
	Entities   []trafficengine.VisualEntity `json:"entities"`
	Stats      trafficengine.Snapshot       `json:"stats"`
	Config     ConfigView                   `json:"config"`
	ServerTime time.Time                    `json:"server_time"`
}

type IDs struct {
	IDs []trafficengine.EntityID `json:"ids"`
}

type Created struct {
	Entities []trafficengine.VisualEntity `json:"entities"`
}

type Alert struct {
	Message string                     `json:"message"`
	Packet  trafficengine.TrafficEvent `json:"packet"`
}

type Diagnostic struct {
	Message string `json:"message"`
}

// ConfigView is the engine config as clients see it, with durations in seconds.
type ConfigView struct {
	FadeSeconds     float64 `json:"fade_seconds"`
	GraceSeconds    float64 `json:"grace_seconds,omitempty"`
	ShowSuspicious  bool    `json:"show_suspicious"`
	MaxVisibleItems int     `json:"max_visible_items"`
	Radius          float64 `json:"radius"`
}

func NewConfigView(c trafficengine.Config) ConfigView {
	return ConfigView{
		FadeSeconds:     c.FadeDuration.Seconds(),
		GraceSeconds:    c.GraceWindow.Seconds(),
		ShowSuspicious:  c.ShowSuspicious,
		MaxVisibleItems: c.MaxVisibleItems,
		Radius:          c.Radius,
	}
}

func (v ConfigView) Fade() time.Duration {
	return time.Duration(v.FadeSeconds * float64(time.Second))
}

func (v ConfigView) Grace() time.Duration {
	return time.Duration(v.GraceSeconds * float64(time.Second))
}

type SetFade struct {
	Seconds float64 `json:"seconds"`
}

func (s SetFade) Duration() time.Duration {
	return time.Duration(s.Seconds * float64(time.Second))
}

type SetSuspiciousFilter struct {
	Active bool `json:"active"`
}

type Count struct {
	Count int `json:"count"`
}

// Encode wraps data in an envelope. A nil data produces an envelope without a data field.
func Encode(typ string, data any) ([]byte, error) {
	env := Envelope{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", typ, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Decode reads the envelope only; use DecodeData to unpack the payload.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("decoding envelope: %w: empty type", ErrUnknownType)
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func DecodeData[T any](env Envelope) (T, error) {
	var v T
	if len(env.Data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("decoding %s: %w", env.Type, err)
	}
	return v, nil
}

// FromNotification renders an engine notification as a wire frame. ok is false for
// notifications that have no wire form.
func FromNotification(n trafficengine.Notification) (b []byte, ok bool, err error) {
	var data any
	switch n.Type {
	case trafficengine.NotifyTraffic:
		if n.Event == nil {
			return nil, false, nil
		}
		data = n.Event
	case trafficengine.NotifyCreated:
		data = Created{Entities: n.Entities}
	case trafficengine.NotifyExpired, trafficengine.NotifyEvicted, trafficengine.NotifyRemoved:
		data = IDs{IDs: n.IDs}
	case trafficengine.NotifyCleared:
	case trafficengine.NotifyAlert:
		if n.Event == nil {
			return nil, false, nil
		}
		data = Alert{Message: n.Message, Packet: *n.Event}
	case trafficengine.NotifyDiagnostic:
		data = Diagnostic{Message: n.Message}
	case trafficengine.NotifyConfig:
		if n.Config == nil {
			return nil, false, nil
		}
		data = NewConfigView(*n.Config)
	default:
		return nil, false, nil
	}
	b, err = Encode(string(n.Type), data)
	return b, err == nil, err
}
