package api

import "net/url"

type statsKind int

const (
	statsToday statsKind = iota
	statsAll
	statsDate
)

// StatsScope selects which statistics endpoint FetchStats calls.
type StatsScope struct {
	kind statsKind
	date string
}

// StatsToday selects GET /api/stats/today.
func StatsToday() StatsScope { return StatsScope{kind: statsToday} }

// StatsAll selects GET /api/stats/all.
func StatsAll() StatsScope { return StatsScope{kind: statsAll} }

// StatsForDate selects GET /api/stats/date/{date}.
func StatsForDate(date string) StatsScope { return StatsScope{kind: statsDate, date: date} }

// Path returns the endpoint path for the scope.
func (s StatsScope) Path() string {
	switch s.kind {
	case statsAll:
		return "/api/stats/all"
	case statsDate:
		return "/api/stats/date/" + url.PathEscape(s.date)
	default:
		return "/api/stats/today"
	}
}

// String names the scope for logs and CLI output.
func (s StatsScope) String() string {
	switch s.kind {
	case statsAll:
		return "all"
	case statsDate:
		return s.date
	default:
		return "today"
	}
}
