package trafficengine

// NotificationType identifies what changed in the engine.
type NotificationType string

const (
	NotifyTraffic    NotificationType = "new_traffic"
	NotifyCreated    NotificationType = "created"
	NotifyExpired    NotificationType = "expired"
	NotifyEvicted    NotificationType = "evicted"
	NotifyRemoved    NotificationType = "removed"
	NotifyCleared    NotificationType = "cleared"
	NotifyAlert      NotificationType = "suspicious_alert"
	NotifyDiagnostic NotificationType = "diagnostic"
	NotifyConfig     NotificationType = "config"
)

// Notification lets a renderer add and remove scene objects incrementally.
type Notification struct {
	Type     NotificationType
	Entities []VisualEntity
	IDs      []EntityID
	Event    *TrafficEvent
	Message  string
	Config   *Config
}

// Listener receives notifications in the order they happen. It runs inside the engine's lock,
// so it must be quick and must not call back into the engine.
type Listener func(Notification)
