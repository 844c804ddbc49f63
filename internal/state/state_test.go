package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hellotoday/hellotoday-client/internal/models"
)

func testDB(t *testing.T) *State {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSet(date string, ids ...string) models.DailyMessageSet {
	set := models.DailyMessageSet{Date: date}
	for _, id := range ids {
		set.Messages = append(set.Messages, models.Message{ID: models.MessageID(id), Content: "msg " + id})
	}

	set.TotalCount = len(set.Messages)

	return set
}

// --- LoadAt / Close ---

func TestLoadAt_CreatesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "state.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestLoadAt_ReopensExistingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s1, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.SaveToday(sampleSet("2024-01-01", "a")))
	require.NoError(t, s1.Close())

	s2, err := LoadAt(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Today()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2024-01-01", got.Date)
}

// --- Today ---

func TestToday_EmptyByDefault(t *testing.T) {
	s := testDB(t)

	got, err := s.Today()
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.True(t, s.LastSync().IsZero())
}

func TestSaveToday_Overwrite(t *testing.T) {
	s := testDB(t)

	before := time.Now()
	require.NoError(t, s.SaveToday(sampleSet("2024-01-01", "a")))
	require.NoError(t, s.SaveToday(sampleSet("2024-01-01", "a", "b")))

	got, err := s.Today()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.TotalCount)
	assert.Equal(t, models.MessageID("b"), got.Messages[1].ID)
	assert.False(t, s.LastSync().Before(before.Truncate(time.Second)))
}

func TestTodayFor(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SaveToday(sampleSet("2024-01-01", "a")))

	got, err := s.TodayFor("2024-01-01")
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = s.TodayFor("2024-01-02")
	require.NoError(t, err)
	assert.Nil(t, got, "a cached set from another day is stale")
}

// --- History ---

func TestSaveDate_RoundTrip(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SaveDate(sampleSet("2024-01-02", "x", "y")))

	got, err := s.Date("2024-01-02")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sampleSet("2024-01-02", "x", "y"), *got)

	missing, err := s.Date("2023-12-31")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSaveDate_RequiresDate(t *testing.T) {
	s := testDB(t)
	assert.Error(t, s.SaveDate(models.DailyMessageSet{}))
}

func TestSaveToday_FilesHistory(t *testing.T) {
	s := testDB(t)

	require.NoError(t, s.SaveToday(sampleSet("2024-01-01", "a")))

	got, err := s.Date("2024-01-01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Messages, 1)
}

func TestCachedDatesAndPrune(t *testing.T) {
	s := testDB(t)

	for _, d := range []string{"2024-01-03", "2024-01-01", "2024-01-02"} {
		require.NoError(t, s.SaveDate(sampleSet(d)))
	}

	dates, err := s.CachedDates()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03"}, dates)

	removed, err := s.PruneHistory("2024-01-03")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	dates, err = s.CachedDates()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-03"}, dates)
}

// --- Dates ---

func TestDates_RoundTrip(t *testing.T) {
	s := testDB(t)

	dates, err := s.Dates()
	require.NoError(t, err)
	assert.Nil(t, dates)

	require.NoError(t, s.SaveDates([]string{"2024-01-02", "2024-01-01"}))

	dates, err = s.Dates()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-02", "2024-01-01"}, dates)
}
