// Package models defines the wire types shared across internal packages.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the calendar-date format used for DailyMessageSet.Date.
const DateLayout = "2006-01-02"

// MaxContentLength is the maximum message length in characters.
const MaxContentLength = 500

// MessageID identifies a message. The server may encode it as a JSON
// number or string; both decode to the same value.
type MessageID string

// UnmarshalJSON accepts numbers and strings.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*id = MessageID(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("message id: %w", err)
	}

	*id = MessageID(n.String())

	return nil
}

// Timestamp is a point in time that decodes from RFC 3339, from a zoneless
// local date-time such as "2024-01-01T09:30:00.123", or from epoch millis.
type Timestamp struct {
	time.Time
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}

		t.Time = time.UnixMilli(ms).UTC()

		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}

	for _, layout := range zonelessLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}

	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

// MarshalJSON encodes the zero value as null and everything else as RFC 3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}

	return json.Marshal(t.Format(time.RFC3339Nano))
}

// Message is a single posted message. Immutable once created; identity
// is ID.
type Message struct {
	ID        MessageID `json:"id"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"createdAt"`
}

// DailyMessageSet is the collection of messages posted on one calendar day,
// in arrival order.
type DailyMessageSet struct {
	Date       string    `json:"date"`
	Messages   []Message `json:"messages"`
	TotalCount int       `json:"totalCount"`
}

// Clone returns a deep copy so callers cannot alias the store's slice.
func (s DailyMessageSet) Clone() DailyMessageSet {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)

	return out
}

// Contains reports whether a message with the given id is present.
func (s DailyMessageSet) Contains(id MessageID) bool {
	for _, m := range s.Messages {
		if m.ID == id {
			return true
		}
	}

	return false
}

// SubmitRequest is the body of POST /api/messages.
type SubmitRequest struct {
	Content string `json:"content"`
}

// Ping is the keepalive payload published while connected.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// TodayStats is the default shape of GET /api/stats/today.
type TodayStats struct {
	Count     int    `json:"count"`
	Date      string `json:"date"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// AllStats is the default shape of GET /api/stats/all.
type AllStats struct {
	Stats     []json.RawMessage `json:"stats"`
	TotalDays int               `json:"totalDays"`
}
