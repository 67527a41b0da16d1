package domain

import "time"

type ConnectionQuality string

const (
	ConnectionQualityExcellent ConnectionQuality = "excellent"
	ConnectionQualityGood      ConnectionQuality = "good"
	ConnectionQualityPoor      ConnectionQuality = "poor"
	ConnectionQualityOffline   ConnectionQuality = "offline"
)

// ConnectionHealth is the liveness bookkeeping for the active session's
// persistent channel. Singleton per session; mutated only by the health
// monitor and channel subscribe/unsubscribe events.
type ConnectionHealth struct {
	Connected         bool              `json:"connected"`
	LastHeartbeat     time.Time         `json:"last_heartbeat"`
	ReconnectAttempts int               `json:"reconnect_attempts"`
	Quality           ConnectionQuality `json:"quality"`
}
