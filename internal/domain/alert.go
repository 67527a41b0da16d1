package domain

import "time"

type AlertType string

const (
	AlertTypeCrisis    AlertType = "crisis"
	AlertTypeMilestone AlertType = "milestone"
	AlertTypeSupport   AlertType = "support"
	AlertTypeSystem    AlertType = "system"
)

type AlertUrgency string

const (
	AlertUrgencyLow    AlertUrgency = "low"
	AlertUrgencyMedium AlertUrgency = "medium"
	AlertUrgencyHigh   AlertUrgency = "high"
)

// Location is an optional coordinate attached to crisis alerts.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Alert is a single notification delivered over a recipient's logical channel.
// Immutable once stamped with ID and Timestamp.
type Alert struct {
	ID         string       `json:"id"`
	Type       AlertType    `json:"type"`
	SenderID   string       `json:"sender_id"`
	SenderName string       `json:"sender_name"`
	Message    string       `json:"message"`
	Urgency    AlertUrgency `json:"urgency"`
	Timestamp  time.Time    `json:"timestamp"`
	Location   *Location    `json:"location,omitempty"`
}

// AlertDraft is an alert before the channel manager stamps ID and Timestamp.
type AlertDraft struct {
	Type       AlertType    `json:"type"`
	SenderID   string       `json:"sender_id"`
	SenderName string       `json:"sender_name"`
	Message    string       `json:"message"`
	Urgency    AlertUrgency `json:"urgency"`
	Location   *Location    `json:"location,omitempty"`
}
