// Package store is the reconciliation authority for today's messages. It
// merges REST snapshots with realtime events and is the only writer of
// the current DailyMessageSet.
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hellotoday/hellotoday-client/internal/api"
	"github.com/hellotoday/hellotoday-client/internal/models"
)

// API is the subset of the request client the store uses. *api.Client
// satisfies it.
type API interface {
	FetchToday(ctx context.Context) (*models.DailyMessageSet, error)
	FetchByDate(ctx context.Context, date string) (*models.DailyMessageSet, error)
	FetchAvailableDates(ctx context.Context) ([]string, error)
	Submit(ctx context.Context, content string) (*models.Message, error)
	FetchStats(ctx context.Context, scope api.StatsScope) (json.RawMessage, error)
}

// Notifier receives user-facing notices. *notify.Sink satisfies it.
type Notifier interface {
	Error(title, message string) int
	Info(title, message string) int
}

// Persister caches message sets locally. *state.State satisfies it.
type Persister interface {
	SaveToday(set models.DailyMessageSet) error
	SaveDate(set models.DailyMessageSet) error
	SaveDates(dates []string) error
}

// Observer receives reconciliation events. It is never consulted by the
// store's logic.
type Observer interface {
	ObserveFrame(channel string)
	ObserveDroppedFrame(channel, reason string)
	ObserveAppend(duplicate bool)
	ObserveReset()
}

// EventKind names a mutation of the today set.
type EventKind string

const (
	EventReplaced EventKind = "replaced"
	EventAppended EventKind = "appended"
	EventReset    EventKind = "reset"
)

// Event describes a completed mutation. Message is set for EventAppended.
type Event struct {
	Kind    EventKind
	Set     models.DailyMessageSet
	Message *models.Message
}

// Notice titles.
const (
	TitleSendFailed   = "Message not sent"
	TitleNetworkError = "Network error"
	TitleNewDay       = "Hello Today"
	MessageNewDay     = "A new day has started!"
)

// Options configures a Store.
type Options struct {
	API       API
	Notifier  Notifier
	Persister Persister
	Observer  Observer
	Logger    *slog.Logger

	// Notifications enables the new-day notice.
	Notifications bool

	// OnEvent is called after each mutation, outside the store lock.
	OnEvent func(Event)

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Store holds the canonical view of today's messages plus the most
// recently loaded history. All methods are safe for concurrent use;
// mutations are serialized.
type Store struct {
	api           API
	notifier      Notifier
	persister     Persister
	observer      Observer
	logger        *slog.Logger
	notifications bool
	onEvent       func(Event)
	now           func() time.Time

	mu       sync.RWMutex
	today    *models.DailyMessageSet
	selected *models.DailyMessageSet
	dates    []string
	loading  int
	lastErr  string
}

// New creates an empty Store.
func New(opts Options) *Store {
	s := &Store{
		api:           opts.API,
		notifier:      opts.Notifier,
		persister:     opts.Persister,
		observer:      opts.Observer,
		logger:        opts.Logger,
		notifications: opts.Notifications,
		onEvent:       opts.OnEvent,
		now:           opts.Now,
		dates:         []string{},
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Today returns a copy of the current set and whether one exists.
func (s *Store) Today() (models.DailyMessageSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.today == nil {
		return models.DailyMessageSet{}, false
	}

	return s.today.Clone(), true
}

// SelectedDate returns a copy of the last set loaded by LoadMessagesByDate.
func (s *Store) SelectedDate() (models.DailyMessageSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.selected == nil {
		return models.DailyMessageSet{}, false
	}

	return s.selected.Clone(), true
}

// AvailableDates returns the last loaded date list.
func (s *Store) AvailableDates() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string{}, s.dates...)
}

// Loading reports whether a load is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loading > 0
}

// LastError returns the message of the last failed load, or "".
func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastErr
}

// ClearError resets LastError.
func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = ""
}

// ReplaceToday overwrites the current set with snapshot. TotalCount is
// always recomputed from the messages so it matches their length.
func (s *Store) ReplaceToday(snapshot models.DailyMessageSet) {
	set := snapshot.Clone()
	if snapshot.TotalCount != 0 && snapshot.TotalCount != len(set.Messages) {
		s.logger.Debug("snapshot total count disagrees with messages",
			slog.Int("totalCount", snapshot.TotalCount),
			slog.Int("messages", len(set.Messages)),
		)
	}

	set.TotalCount = len(set.Messages)

	s.mu.Lock()
	s.today = &set
	ev := Event{Kind: EventReplaced, Set: set.Clone()}
	s.persistLocked()
	s.mu.Unlock()

	s.emit(ev)
}

// AppendIncoming adds msg to the current set unless a message with the
// same ID is already present. With no current set, one dated today is
// created. It reports whether msg was added.
func (s *Store) AppendIncoming(msg models.Message) bool {
	s.mu.Lock()

	if s.today == nil {
		s.today = &models.DailyMessageSet{Date: s.todayDate(), Messages: []models.Message{}}
	} else if s.today.Contains(msg.ID) {
		s.mu.Unlock()

		if s.observer != nil {
			s.observer.ObserveAppend(true)
		}

		s.logger.Debug("duplicate message ignored", slog.String("id", string(msg.ID)))

		return false
	}

	s.today.Messages = append(s.today.Messages, msg)
	s.today.TotalCount = len(s.today.Messages)

	added := msg
	ev := Event{Kind: EventAppended, Set: s.today.Clone(), Message: &added}
	s.persistLocked()
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveAppend(false)
	}

	s.emit(ev)

	return true
}

// ResetForNewDay replaces the current set with an empty one dated today.
func (s *Store) ResetForNewDay() {
	s.mu.Lock()
	s.today = &models.DailyMessageSet{Date: s.todayDate(), Messages: []models.Message{}}
	ev := Event{Kind: EventReset, Set: s.today.Clone()}
	s.persistLocked()
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveReset()
	}

	s.logger.Info("daily reset", slog.String("date", ev.Set.Date))

	if s.notifications && s.notifier != nil {
		s.notifier.Info(TitleNewDay, MessageNewDay)
	}

	s.emit(ev)
}

// Restore seeds the current set from a cached copy without persisting it
// again. It does nothing if a set is already present.
func (s *Store) Restore(set models.DailyMessageSet) bool {
	set = set.Clone()
	set.TotalCount = len(set.Messages)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.today != nil {
		return false
	}

	s.today = &set

	return true
}

func (s *Store) todayDate() string {
	return s.now().Format(models.DateLayout)
}

// persistLocked writes the current set to the cache. Failures are logged
// and never affect the in-memory state.
func (s *Store) persistLocked() {
	if s.persister == nil || s.today == nil {
		return
	}

	if err := s.persister.SaveToday(*s.today); err != nil {
		s.logger.Warn("caching today's messages", slog.String("error", err.Error()))
	}
}

func (s *Store) emit(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}
