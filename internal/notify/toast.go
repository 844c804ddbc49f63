// Package notify holds short-lived user-facing notices. Each toast
// removes itself after its duration unless removed earlier.
package notify

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Kind classifies a toast.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

// Default durations per kind. Add uses FallbackDuration when none is given.
const (
	SuccessDuration  = 3 * time.Second
	ErrorDuration    = 5 * time.Second
	WarningDuration  = 4 * time.Second
	InfoDuration     = 3 * time.Second
	FallbackDuration = 5 * time.Second
)

// Toast is one notice.
type Toast struct {
	ID       int           `json:"id"`
	Kind     Kind          `json:"kind"`
	Title    string        `json:"title"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Presenter is told about every toast as it is added.
type Presenter interface {
	Present(Toast)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(Toast)

func (f PresenterFunc) Present(t Toast) { f(t) }

// LogPresenter writes toasts to logger, at Error level for KindError and
// Warn for KindWarning.
func LogPresenter(logger *slog.Logger) Presenter {
	return PresenterFunc(func(t Toast) {
		level := slog.LevelInfo

		switch t.Kind {
		case KindError:
			level = slog.LevelError
		case KindWarning:
			level = slog.LevelWarn
		}

		logger.Log(context.Background(), level, t.Title,
			slog.String("kind", string(t.Kind)),
			slog.String("message", t.Message),
		)
	})
}

// Sink owns the toast collection. IDs start at 1 and increase
// monotonically; the collection keeps insertion order.
type Sink struct {
	presenter Presenter

	mu     sync.Mutex
	nextID int
	toasts []Toast
	timers map[int]*time.Timer
}

// NewSink creates a Sink. presenter may be nil.
func NewSink(presenter Presenter) *Sink {
	return &Sink{
		presenter: presenter,
		nextID:    1,
		timers:    make(map[int]*time.Timer),
	}
}

// Add stores t and schedules its removal. An empty kind becomes KindInfo
// and a non-positive duration becomes FallbackDuration. It returns the
// assigned ID.
func (s *Sink) Add(t Toast) int {
	if t.Kind == "" {
		t.Kind = KindInfo
	}

	if t.Duration <= 0 {
		t.Duration = FallbackDuration
	}

	s.mu.Lock()
	t.ID = s.nextID
	s.nextID++
	s.toasts = append(s.toasts, t)

	id := t.ID
	s.timers[id] = time.AfterFunc(t.Duration, func() { s.Remove(id) })
	s.mu.Unlock()

	if s.presenter != nil {
		s.presenter.Present(t)
	}

	return id
}

// Success adds a success toast with the default success duration.
func (s *Sink) Success(title, message string) int {
	return s.Add(Toast{Kind: KindSuccess, Title: title, Message: message, Duration: SuccessDuration})
}

// Error adds an error toast with the default error duration.
func (s *Sink) Error(title, message string) int {
	return s.Add(Toast{Kind: KindError, Title: title, Message: message, Duration: ErrorDuration})
}

// Warning adds a warning toast with the default warning duration.
func (s *Sink) Warning(title, message string) int {
	return s.Add(Toast{Kind: KindWarning, Title: title, Message: message, Duration: WarningDuration})
}

// Info adds an info toast with the default info duration.
func (s *Sink) Info(title, message string) int {
	return s.Add(Toast{Kind: KindInfo, Title: title, Message: message, Duration: InfoDuration})
}

// Remove deletes the toast with id. Unknown IDs are ignored.
func (s *Sink) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}

	s.toasts = slices.DeleteFunc(s.toasts, func(t Toast) bool { return t.ID == id })
}

// Clear removes every toast. IDs keep increasing.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}

	s.toasts = nil
}

// Toasts returns a copy of the live toasts in insertion order.
func (s *Sink) Toasts() []Toast {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.toasts)
}
