package domain

import "time"

type MessageCategory string

const (
	MessageCategoryCrisis    MessageCategory = "crisis"
	MessageCategoryCheckin   MessageCategory = "checkin"
	MessageCategoryMilestone MessageCategory = "milestone"
	MessageCategoryReminder  MessageCategory = "reminder"
)

type MessagePriority string

const (
	MessagePriorityLow      MessagePriority = "low"
	MessagePriorityNormal   MessagePriority = "normal"
	MessagePriorityHigh     MessagePriority = "high"
	MessagePriorityCritical MessagePriority = "critical"
)

// OutboundMessage is a text-style notification destined for an external
// address, delivered store-and-forward regardless of recipient connectivity.
type OutboundMessage struct {
	To       string          `json:"to"`
	Body     string          `json:"body"`
	Category MessageCategory `json:"category"`
	Priority MessagePriority `json:"priority"`
	OwnerID  string          `json:"owner_id"`
}

type DeliveryState string

const (
	DeliveryStateQueued      DeliveryState = "queued"
	DeliveryStateSent        DeliveryState = "sent"
	DeliveryStateDelivered   DeliveryState = "delivered"
	DeliveryStateFailed      DeliveryState = "failed"
	DeliveryStateUndelivered DeliveryState = "undelivered"
)

// DeliveryStatus is the audit record for one outbound message. Owned
// exclusively by the delivery queue; mutated only by delivery attempts and
// the retry processor.
type DeliveryStatus struct {
	MessageID  string        `json:"message_id"`
	State      DeliveryState `json:"state"`
	Timestamp  time.Time     `json:"timestamp"`
	ErrorCode  string        `json:"error_code,omitempty"`
	RetryCount int           `json:"retry_count"`
}
