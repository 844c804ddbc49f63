package store

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/hellotoday/hellotoday-client/internal/models"
	"github.com/hellotoday/hellotoday-client/internal/transport"
)

// Reasons a frame is dropped.
const (
	dropInvalidJSON    = "invalid_json"
	dropUnknownShape   = "unknown_shape"
	dropDecode         = "decode"
	dropUnknownChannel = "unknown_channel"
)

// Apply reconciles one inbound frame. A broadcast carrying a messages
// array replaces today's set, one carrying id and content is appended and
// anything on the reset channel starts a new day. Malformed frames are
// logged and dropped.
func (s *Store) Apply(f transport.Frame) {
	if s.observer != nil {
		s.observer.ObserveFrame(f.Channel)
	}

	switch f.Channel {
	case transport.TopicReset:
		s.ResetForNewDay()

	case transport.TopicMessages:
		s.applyBroadcast(f)

	default:
		s.drop(f, dropUnknownChannel, nil)
	}
}

func (s *Store) applyBroadcast(f transport.Frame) {
	if !gjson.ValidBytes(f.Body) {
		s.drop(f, dropInvalidJSON, nil)
		return
	}

	switch {
	case gjson.GetBytes(f.Body, "messages").IsArray():
		var set models.DailyMessageSet
		if err := json.Unmarshal(f.Body, &set); err != nil {
			s.drop(f, dropDecode, err)
			return
		}

		s.ReplaceToday(set)

	case isMessageShape(f.Body):
		var msg models.Message
		if err := json.Unmarshal(f.Body, &msg); err != nil {
			s.drop(f, dropDecode, err)
			return
		}

		s.AppendIncoming(msg)

	default:
		s.drop(f, dropUnknownShape, nil)
	}
}

// isMessageShape reports whether body carries a usable id and content.
// Null, empty and zero ids and empty content do not qualify.
func isMessageShape(body []byte) bool {
	id := gjson.GetBytes(body, "id")
	content := gjson.GetBytes(body, "content")

	if content.Type != gjson.String || content.Str == "" {
		return false
	}

	switch id.Type {
	case gjson.String:
		return id.Str != ""
	case gjson.Number:
		return id.Num != 0
	default:
		return false
	}
}

func (s *Store) drop(f transport.Frame, reason string, err error) {
	attrs := []any{
		slog.String("channel", f.Channel),
		slog.String("reason", reason),
		slog.Int("bytes", len(f.Body)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	s.logger.Warn("dropping realtime frame", attrs...)

	if s.observer != nil {
		s.observer.ObserveDroppedFrame(f.Channel, reason)
	}
}

// Consume applies frames in delivery order until the channel closes or
// ctx is cancelled.
func (s *Store) Consume(ctx context.Context, frames <-chan transport.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}

			s.Apply(f)
		}
	}
}
