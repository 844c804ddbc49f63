package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hellotoday/hellotoday-client/internal/api"
	"github.com/hellotoday/hellotoday-client/internal/models"
)

// Result is the shape read paths return instead of an error.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

// Fallback messages for failures that carry no message of their own.
const (
	msgLoadToday   = "failed to load today's messages"
	msgLoadDate    = "failed to load messages for that date"
	msgLoadDates   = "failed to load the date list"
	msgSend        = "failed to send message"
	msgTodayStats  = "failed to load today's statistics"
	msgAllStats    = "failed to load statistics"
	msgDateStats   = "failed to load statistics for that date"
	msgInitialLoad = "Initial messages loaded successfully"
)

func failureMessage(err error, fallback string) string {
	if err == nil || err.Error() == "" {
		return fallback
	}

	return err.Error()
}

func (s *Store) beginLoad() {
	s.mu.Lock()
	s.loading++
	s.lastErr = ""
	s.mu.Unlock()
}

func (s *Store) endLoad(err error, fallback string) {
	s.mu.Lock()
	s.loading--

	if err != nil {
		s.lastErr = failureMessage(err, fallback)
	}
	s.mu.Unlock()
}

// LoadToday fetches today's set and replaces the current one with it.
// Whichever of LoadToday and a realtime snapshot completes last wins.
func (s *Store) LoadToday(ctx context.Context) Result[*models.DailyMessageSet] {
	s.beginLoad()

	set, err := s.api.FetchToday(ctx)
	s.endLoad(err, msgLoadToday)

	if err != nil {
		s.logger.Warn("loading today's messages", slog.String("error", err.Error()))
		return Result[*models.DailyMessageSet]{Message: failureMessage(err, msgLoadToday)}
	}

	s.ReplaceToday(*set)

	current, _ := s.Today()

	return Result[*models.DailyMessageSet]{Success: true, Data: &current, Message: msgInitialLoad}
}

// LoadMessagesByDate fetches a historical set and keeps it as the
// selected date. Errors are returned and recorded in LastError.
func (s *Store) LoadMessagesByDate(ctx context.Context, date string) (*models.DailyMessageSet, error) {
	s.beginLoad()

	set, err := s.api.FetchByDate(ctx, date)
	s.endLoad(err, msgLoadDate)

	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	selected := set.Clone()
	s.selected = &selected
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveDate(selected); err != nil {
			s.logger.Warn("caching history", slog.String("date", date), slog.String("error", err.Error()))
		}
	}

	out := selected.Clone()

	return &out, nil
}

// LoadAvailableDates fetches the list of dates that have messages.
func (s *Store) LoadAvailableDates(ctx context.Context) ([]string, error) {
	dates, err := s.api.FetchAvailableDates(ctx)
	if err != nil {
		s.logger.Warn("loading available dates", slog.String("error", err.Error()))
		return nil, err
	}

	s.mu.Lock()
	s.dates = append([]string{}, dates...)
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveDates(dates); err != nil {
			s.logger.Warn("caching date list", slog.String("error", err.Error()))
		}
	}

	return dates, nil
}

// SendMessage submits content. On failure it shows an error notice, titled
// by whether the server answered, and returns the typed error. The new
// message reaches today's set through the realtime broadcast, not here.
func (s *Store) SendMessage(ctx context.Context, content string) (*models.Message, error) {
	msg, err := s.api.Submit(ctx, content)
	if err == nil {
		return msg, nil
	}

	title := TitleNetworkError

	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.HasResponse() {
		title = TitleSendFailed
	}

	s.logger.Warn("sending message",
		slog.String("error", err.Error()),
		slog.Int("status", api.StatusCode(err)),
	)

	if s.notifier != nil {
		s.notifier.Error(title, failureMessage(err, msgSend))
	}

	return nil, err
}

// SendMessageResult submits content and reports the outcome as a Result
// without raising a notice.
func (s *Store) SendMessageResult(ctx context.Context, content string) Result[*models.Message] {
	msg, err := s.api.Submit(ctx, content)
	if err != nil {
		return Result[*models.Message]{Message: failureMessage(err, msgSend)}
	}

	return Result[*models.Message]{Success: true, Data: msg}
}

// GetTodayMessages fetches today's set without touching the store.
func (s *Store) GetTodayMessages(ctx context.Context) Result[*models.DailyMessageSet] {
	set, err := s.api.FetchToday(ctx)
	if err != nil {
		return Result[*models.DailyMessageSet]{Message: failureMessage(err, msgLoadToday)}
	}

	return Result[*models.DailyMessageSet]{Success: true, Data: set}
}

// GetMessagesByDate fetches a historical set without touching the store.
func (s *Store) GetMessagesByDate(ctx context.Context, date string) Result[*models.DailyMessageSet] {
	set, err := s.api.FetchByDate(ctx, date)
	if err != nil {
		return Result[*models.DailyMessageSet]{Message: failureMessage(err, msgLoadDate)}
	}

	return Result[*models.DailyMessageSet]{Success: true, Data: set}
}

// GetAvailableDates fetches the date list. Data is empty, never nil, on
// failure.
func (s *Store) GetAvailableDates(ctx context.Context) Result[[]string] {
	dates, err := s.api.FetchAvailableDates(ctx)
	if err != nil {
		return Result[[]string]{Data: []string{}, Message: failureMessage(err, msgLoadDates)}
	}

	return Result[[]string]{Success: true, Data: dates}
}

// GetTodayStats fetches today's statistics. On failure Data holds a zero
// count.
func (s *Store) GetTodayStats(ctx context.Context) Result[json.RawMessage] {
	return s.stats(ctx, api.StatsToday(), models.TodayStats{}, msgTodayStats)
}

// GetAllStats fetches statistics for every day. On failure Data holds an
// empty list.
func (s *Store) GetAllStats(ctx context.Context) Result[json.RawMessage] {
	return s.stats(ctx, api.StatsAll(), models.AllStats{Stats: []json.RawMessage{}}, msgAllStats)
}

// GetStatsByDate fetches statistics for one date.
func (s *Store) GetStatsByDate(ctx context.Context, date string) Result[json.RawMessage] {
	return s.stats(ctx, api.StatsForDate(date), models.TodayStats{Date: date}, msgDateStats)
}

func (s *Store) stats(ctx context.Context, scope api.StatsScope, fallback any, msg string) Result[json.RawMessage] {
	data, err := s.api.FetchStats(ctx, scope)
	if err == nil {
		return Result[json.RawMessage]{Success: true, Data: data}
	}

	s.logger.Warn("loading statistics", slog.String("scope", scope.String()), slog.String("error", err.Error()))

	def, _ := json.Marshal(fallback)

	return Result[json.RawMessage]{Data: def, Message: failureMessage(err, msg)}
}
