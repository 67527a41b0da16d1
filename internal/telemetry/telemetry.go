// Package telemetry provides the structured event sink shared by every
// subsystem. Events are written through slog, counted per category, and
// retained in a bounded in-memory ring for inspection.
package telemetry

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/pkg/privacy"
)

// Category identifies which subsystem emitted an event.
type Category string

// Event categories.
const (
	CategoryConnection Category = "connection"
	CategoryDelivery   Category = "delivery"
	CategoryRealtime   Category = "realtime"
	CategoryPolling    Category = "polling"
	CategoryEmergency  Category = "emergency"
	CategoryCrisis     Category = "crisis"
)

// Event is one structured telemetry record.
type Event struct {
	Time     time.Time      `json:"time"`
	Category Category       `json:"category"`
	Message  string         `json:"message"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Sink collects structured events from all components.
type Sink struct {
	logger *slog.Logger

	mu       sync.Mutex
	recent   []Event
	capacity int
}

// NewSink creates a sink retaining up to capacity recent events.
func NewSink(logger *slog.Logger, capacity int) *Sink {
	if capacity <= 0 {
		capacity = 256
	}
	return &Sink{
		logger:   logger,
		capacity: capacity,
	}
}

// Emit records one event. Address-like field values are masked before the
// event is logged or retained.
func (s *Sink) Emit(category Category, message string, fields map[string]any) {
	ev := Event{
		Time:     time.Now(),
		Category: category,
		Message:  message,
		Fields:   maskFields(fields),
	}

	s.mu.Lock()
	s.recent = append(s.recent, ev)
	if len(s.recent) > s.capacity {
		s.recent = s.recent[len(s.recent)-s.capacity:]
	}
	s.mu.Unlock()

	recordEvent(string(category))

	attrs := make([]any, 0, len(ev.Fields)*2+2)
	attrs = append(attrs, "category", string(category))
	for k, v := range ev.Fields {
		attrs = append(attrs, k, v)
	}

	switch category {
	case CategoryCrisis, CategoryEmergency:
		s.logger.Error(message, attrs...)
	default:
		s.logger.Info(message, attrs...)
	}
}

// Recent returns up to n of the most recently emitted events, newest last.
func (s *Sink) Recent(n int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]Event, n)
	copy(out, s.recent[len(s.recent)-n:])
	return out
}

// addressKeys are field names whose values carry contact addresses.
var addressKeys = []string{"to", "address", "phone", "target"}

func maskFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok && isAddressKey(k) {
			out[k] = privacy.MaskAddress(s)
			continue
		}
		out[k] = v
	}
	return out
}

func isAddressKey(key string) bool {
	key = strings.ToLower(key)
	for _, ak := range addressKeys {
		if key == ak {
			return true
		}
	}
	return false
}
