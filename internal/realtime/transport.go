// Package realtime implements the alert/presence channel manager: one
// logical alert channel per recipient plus a shared presence feed, with
// reconnection and degraded-mode complexity hidden from callers.
package realtime

import (
	"context"
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/domain"
)

// AlertHandler consumes one inbound alert.
type AlertHandler func(domain.Alert)

// PresenceHandler consumes the full current membership snapshot. Consumers
// never reconstruct state from diffs.
type PresenceHandler func([]domain.PresenceRecord)

// Transport is the opaque realtime channel collaborator. Implementations
// provide live publish/subscribe plus the pull surface the polling fallback
// uses (AlertsSince, PresenceSnapshot).
type Transport interface {
	// SubscribeAlerts attaches fn to the user's dedicated alert channel.
	SubscribeAlerts(ctx context.Context, userID string, fn AlertHandler) error
	// SubscribePresence attaches fn to the shared presence channel; fn
	// receives the full membership snapshot on every join/leave/sync.
	SubscribePresence(ctx context.Context, userID string, fn PresenceHandler) error
	// PublishAlert delivers one alert to a recipient's channel. There is no
	// store-and-forward on this path: an offline recipient misses the
	// publish.
	PublishAlert(ctx context.Context, recipientID string, alert domain.Alert) error
	// TrackPresence upserts the user's presence record, last-write-wins.
	TrackPresence(ctx context.Context, record domain.PresenceRecord) error
	// UntrackPresence removes the user's presence record.
	UntrackPresence(ctx context.Context, userID string) error
	// PresenceSnapshot returns the current shared-channel membership.
	PresenceSnapshot(ctx context.Context) ([]domain.PresenceRecord, error)
	// AlertsSince returns the recipient's recent alerts newer than since,
	// for polling-mode backfill.
	AlertsSince(ctx context.Context, userID string, since time.Time) ([]domain.Alert, error)
	// Unsubscribe detaches the user's alert and presence subscriptions.
	Unsubscribe(ctx context.Context, userID string) error
}

// ContactResolver supplies the support contacts a crisis alert fans out to.
// User/contact data is owned by collaborators outside this subsystem.
type ContactResolver interface {
	SupportContacts(ctx context.Context, ownerID string) ([]string, error)
}
