// Package delivery implements the store-and-forward outbound message queue:
// address validation, a single delivery attempt on send, and a background
// retry processor with capped exponential backoff.
package delivery

import (
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/domain"
)

// QueueItem tracks one outbound message through delivery and retry.
type QueueItem struct {
	ID            string
	Message       domain.OutboundMessage
	State         domain.DeliveryState
	Attempts      int // retry attempts performed; the initial send is not counted
	MaxAttempts   int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SentAt        *time.Time
}

// QueueStats aggregates queue state counts at call time.
type QueueStats struct {
	Pending   int `json:"pending"`
	Retrying  int `json:"retrying"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Status projects the item into its caller-visible delivery status.
func (i *QueueItem) Status() domain.DeliveryStatus {
	return domain.DeliveryStatus{
		MessageID:  i.ID,
		State:      i.State,
		Timestamp:  i.UpdatedAt,
		ErrorCode:  i.LastError,
		RetryCount: i.Attempts,
	}
}
