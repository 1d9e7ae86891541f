package backfill

import (
	"fmt"
	"sort"
	"time"

	"github.com/dukerupert/fitsync/internal/model"
)

// Defaults supplies fallback values for fields the invocation event omits.
type Defaults struct {
	StartDate string
	EndDate   string // empty means yesterday
	MaxDays   int
}

// Request is a resolved, validated backfill request.
type Request struct {
	Start   time.Time
	End     time.Time
	Exclude map[string]struct{}
	Force   bool
	MaxDays int
}

// ExcludeList returns the excluded dates in sorted order, for result output.
func (r Request) ExcludeList() []string {
	out := make([]string, 0, len(r.Exclude))
	for d := range r.Exclude {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Resolve validates a raw invocation event against the configured defaults.
// now anchors the "yesterday" fallback for the end date.
func Resolve(req model.BackfillRequest, d Defaults, now time.Time) (Request, error) {
	start, err := coerceDate(req.StartDate, d.StartDate)
	if err != nil {
		return Request{}, fmt.Errorf("start_date: %w", err)
	}

	endFallback := d.EndDate
	if endFallback == "" {
		endFallback = now.AddDate(0, 0, -1).Format(model.DateFormat)
	}
	end, err := coerceDate(req.EndDate, endFallback)
	if err != nil {
		return Request{}, fmt.Errorf("end_date: %w", err)
	}

	if start.After(end) {
		return Request{}, fmt.Errorf("start_date %s is after end_date %s",
			start.Format(model.DateFormat), end.Format(model.DateFormat))
	}

	exclude := make(map[string]struct{}, len(req.ExcludeDates))
	for _, raw := range req.ExcludeDates {
		date, err := time.Parse(model.DateFormat, raw)
		if err != nil {
			return Request{}, fmt.Errorf("exclude_dates: %w", err)
		}
		exclude[date.Format(model.DateFormat)] = struct{}{}
	}

	maxDays := req.MaxDays
	if maxDays <= 0 {
		maxDays = d.MaxDays
	}

	return Request{
		Start:   start,
		End:     end,
		Exclude: exclude,
		Force:   req.Force,
		MaxDays: maxDays,
	}, nil
}

func coerceDate(raw, fallback string) (time.Time, error) {
	if raw == "" {
		raw = fallback
	}
	date, err := time.Parse(model.DateFormat, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return date, nil
}
