package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Webhook event types sent by Orquest
const (
	EventServiceCreated = "service_created"
	EventServiceUpdated = "service_updated"
	EventServiceDeleted = "service_deleted"
)

// ServiceEvent is the body Orquest posts to the webhook receiver
type ServiceEvent struct {
	EventType string          `json:"event_type"`
	ServiceID ProviderID      `json:"service_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp EventTimestamp  `json:"timestamp"`
}

// IsKnown reports whether the event type is one the receiver applies
func (e *ServiceEvent) IsKnown() bool {
	switch e.EventType {
	case EventServiceCreated, EventServiceUpdated, EventServiceDeleted:
		return true
	}
	return false
}

// timestampLayouts are the ISO-8601 forms accepted for event timestamps.
// Zone-less values are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// EventTimestamp unmarshals an ISO-8601 string or a Unix timestamp in
// milliseconds. Absent or null leaves it zero. A value in no known form
// never fails decoding; it is kept in Raw and reported by Invalid so the
// envelope of an unknown event still decodes.
type EventTimestamp struct {
	time.Time
	Raw string
}

// ParseEventTime parses s in any accepted ISO-8601 layout
func ParseEventTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q: %w", s, firstErr)
}

// Invalid reports whether a timestamp was sent but could not be parsed
func (t EventTimestamp) Invalid() bool {
	return t.Time.IsZero() && t.Raw != ""
}

// UnmarshalJSON implements json.Unmarshaler
func (t *EventTimestamp) UnmarshalJSON(data []byte) error {
	t.Time, t.Raw = time.Time{}, ""

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		return nil
	}

	var ms int64
	if err := json.Unmarshal(data, &ms); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		t.Raw = string(data)
		return nil
	}
	parsed, err := ParseEventTime(s)
	if err != nil {
		t.Raw = s
		return nil
	}
	t.Time = parsed
	return nil
}

// MarshalJSON writes RFC3339, the unparsed value, or null when unset
func (t EventTimestamp) MarshalJSON() ([]byte, error) {
	if t.Invalid() {
		return json.Marshal(t.Raw)
	}
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// Webhook event record statuses
const (
	WebhookStatusProcessed    = "processed"
	WebhookStatusIgnored      = "ignored"
	WebhookStatusSkippedStale = "skipped_stale"
	WebhookStatusFailed       = "failed"
)

// WebhookEventRecord is the audit trail of one webhook delivery. Failed
// records double as the dead-letter list.
type WebhookEventRecord struct {
	ID             string          `json:"id" db:"id"`
	EventType      string          `json:"event_type" db:"event_type"`
	ServiceID      string          `json:"service_id" db:"service_id"`
	Status         string          `json:"status" db:"status"`
	Payload        json.RawMessage `json:"payload,omitempty" db:"payload"`
	Error          *string         `json:"error,omitempty" db:"error"`
	EventTimestamp *time.Time      `json:"event_timestamp,omitempty" db:"event_timestamp"`
	ReceivedAt     time.Time       `json:"received_at" db:"received_at"`
}

// WebhookEventFilter for querying webhook records
type WebhookEventFilter struct {
	Status    *string `json:"status,omitempty"`
	ServiceID *string `json:"service_id,omitempty"`
	Limit     int     `json:"limit,omitempty"`
	Offset    int     `json:"offset,omitempty"`
}
