package domain

import "time"

type PresenceStatus string

const (
	PresenceStatusOnline   PresenceStatus = "online"
	PresenceStatusAway     PresenceStatus = "away"
	PresenceStatusInCrisis PresenceStatus = "in-crisis"
)

// PresenceRecord tracks one participant on the shared presence channel.
// At most one live record exists per user id; status changes overwrite.
type PresenceRecord struct {
	UserID      string         `json:"user_id"`
	DisplayName string         `json:"display_name"`
	Status      PresenceStatus `json:"status"`
	LastSeen    time.Time      `json:"last_seen"`
}
