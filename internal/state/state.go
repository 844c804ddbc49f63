// Package state is the local bbolt cache of message sets, so the client
// has something to show before the first REST load completes.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hellotoday/hellotoday-client/internal/models"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.hellotoday/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket     = []byte("app")
	historyBucket = []byte("history")

	todayKey    = []byte("today")
	datesKey    = []byte("dates")
	lastSyncKey = []byte("last_sync")
)

// State wraps a bbolt database holding the last known today set, fetched
// historical sets keyed by date, and the list of available dates.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(appBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(historyBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// SaveToday stores set as the current day's messages, files a copy under
// its date in history, and stamps the last sync time.
func (s *State) SaveToday(set models.DailyMessageSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encoding today: %w", err)
	}

	stamp, err := time.Now().MarshalText()
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)
		if err := b.Put(todayKey, data); err != nil {
			return err
		}

		if set.Date != "" {
			if err := tx.Bucket(historyBucket).Put([]byte(set.Date), data); err != nil {
				return err
			}
		}

		return b.Put(lastSyncKey, stamp)
	})
}

// Today returns the cached today set, or nil if none was saved.
func (s *State) Today() (*models.DailyMessageSet, error) {
	var set *models.DailyMessageSet

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(todayKey)
		if v == nil {
			return nil
		}

		set = &models.DailyMessageSet{}

		return json.Unmarshal(v, set)
	})
	if err != nil {
		return nil, fmt.Errorf("reading today: %w", err)
	}

	return set, nil
}

// TodayFor returns the cached today set only if it is dated date.
func (s *State) TodayFor(date string) (*models.DailyMessageSet, error) {
	set, err := s.Today()
	if err != nil || set == nil || set.Date != date {
		return nil, err
	}

	return set, nil
}

// LastSync returns when SaveToday last ran, or the zero time.
func (s *State) LastSync() time.Time {
	var t time.Time

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(lastSyncKey)
		if v != nil {
			_ = t.UnmarshalText(v)
		}

		return nil
	})

	return t
}

// SaveDate stores a historical set under its date.
func (s *State) SaveDate(set models.DailyMessageSet) error {
	if set.Date == "" {
		return fmt.Errorf("saving history: empty date")
	}

	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", set.Date, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(historyBucket).Put([]byte(set.Date), data)
	})
}

// Date returns the cached set for date, or nil.
func (s *State) Date(date string) (*models.DailyMessageSet, error) {
	var set *models.DailyMessageSet

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(historyBucket).Get([]byte(date))
		if v == nil {
			return nil
		}

		set = &models.DailyMessageSet{}

		return json.Unmarshal(v, set)
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", date, err)
	}

	return set, nil
}

// CachedDates lists the dates with a stored historical set, oldest first.
func (s *State) CachedDates() ([]string, error) {
	var dates []string

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(historyBucket).ForEach(func(k, _ []byte) error {
			dates = append(dates, string(k))
			return nil
		})
	})

	return dates, err
}

// PruneHistory deletes stored sets dated before cutoff (a models.DateLayout
// date) and returns how many were removed.
func (s *State) PruneHistory(cutoff string) (int, error) {
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(historyBucket)

		var stale [][]byte

		c := b.Cursor()
		for k, _ := c.First(); k != nil && string(k) < cutoff; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		removed = len(stale)

		return nil
	})

	return removed, err
}

// SaveDates stores the list of dates that have messages.
func (s *State) SaveDates(dates []string) error {
	data, err := json.Marshal(dates)
	if err != nil {
		return fmt.Errorf("encoding dates: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(datesKey, data)
	})
}

// Dates returns the stored date list, or nil.
func (s *State) Dates() ([]string, error) {
	var dates []string

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(datesKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &dates)
	})
	if err != nil {
		return nil, fmt.Errorf("reading dates: %w", err)
	}

	return dates, nil
}
