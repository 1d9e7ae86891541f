package model

// DateFormat is the wire format for all dates exchanged with the Fitbit API
// and recorded in results.
const DateFormat = "2006-01-02"

// BackfillRequest is the invocation event for a backfill run. Missing fields
// fall back to configured defaults; it is never persisted.
type BackfillRequest struct {
	StartDate    string   `json:"start_date,omitempty"`
	EndDate      string   `json:"end_date,omitempty"`
	ExcludeDates []string `json:"exclude_dates,omitempty"`
	Force        bool     `json:"force,omitempty"`
	MaxDays      int      `json:"max_days,omitempty"`
}

// FetchedDay records one date whose data was fetched and archived.
type FetchedDay struct {
	Date      string         `json:"date"`
	Files     []string       `json:"files"`
	StatusMap map[string]int `json:"status_map"`
}

// SkippedDay records one date the driver did not fetch, with the reason.
type SkippedDay struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

// DayError records one date that failed. StatusMap is present when the
// failure came from the vendor API rather than from this service.
type DayError struct {
	Date      string         `json:"date"`
	Error     string         `json:"error"`
	StatusMap map[string]int `json:"status_map,omitempty"`
}

// BackfillResult is the invocation output. It is built incrementally during
// a run and never persisted; a later invocation recomputes skip decisions
// from the archive alone.
type BackfillResult struct {
	Fetched          []FetchedDay `json:"fetched"`
	Skipped          []SkippedDay `json:"skipped"`
	Errors           []DayError   `json:"errors"`
	StartDate        string       `json:"start_date"`
	EndDate          string       `json:"end_date"`
	ExcludeDates     []string     `json:"exclude_dates"`
	Force            bool         `json:"force"`
	MaxDays          int          `json:"max_days"`
	ProcessedDates   int          `json:"processed_dates"`
	RateLimitReached bool         `json:"rate_limit_reached"`
	NextStartDate    string       `json:"next_start_date,omitempty"`
}
