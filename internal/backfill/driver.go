// Package backfill orchestrates fetching a date range of Fitbit data into
// the archive. It walks dates in ascending order, skips days that already
// have a summary artifact, refreshes the OAuth token as needed, and halts
// with a resumable cursor when the vendor rate limit is hit.
package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/fitsync/internal/fitbit"
	"github.com/dukerupert/fitsync/internal/model"
	"github.com/dukerupert/fitsync/internal/token"
)

// TokenSource supplies a usable access token and the one-shot refresh used
// after an in-flight 401.
type TokenSource interface {
	EnsureValid(ctx context.Context) (*model.TokenRecord, error)
	Refresh(ctx context.Context, refreshToken string) (*model.TokenRecord, error)
}

// Fetcher retrieves one day of vendor data per call.
type Fetcher interface {
	FetchDay(ctx context.Context, accessToken string, date time.Time) fitbit.DayResult
}

// Archive is the object-store surface the driver depends on.
type Archive interface {
	Exists(ctx context.Context, date time.Time) (bool, error)
	Persist(ctx context.Context, date time.Time, payloads map[string]json.RawMessage, categories []string, runID string) ([]string, error)
}

// Driver walks a date range. It is the only component with cross-date state;
// one invocation processes dates strictly sequentially.
type Driver struct {
	tokens     TokenSource
	fetcher    Fetcher
	archive    Archive
	logger     *slog.Logger
	dayRetries int
}

// Option configures a Driver.
type Option func(*Driver)

// WithDayRetries enables bounded in-run retries for dates whose categories
// all failed without a 429. Default is zero: the driver advances past such a
// date and leaves it undone, so a later run re-attempts it.
func WithDayRetries(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.dayRetries = n
		}
	}
}

// New creates a backfill driver. The logger may be nil.
func New(tokens TokenSource, fetcher Fetcher, archive Archive, logger *slog.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{tokens: tokens, fetcher: fetcher, archive: archive, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// action is the pure per-date decision taken before any I/O.
type action int

const (
	actionFetch action = iota
	actionSkipExcluded
	actionStopQuota
)

// decide classifies a date from the request and run counters alone.
// Exclusion is checked before the quota so trailing excluded dates never
// consume budget or become the resume cursor.
func decide(date time.Time, req Request, processed int) action {
	if _, ok := req.Exclude[date.Format(model.DateFormat)]; ok {
		return actionSkipExcluded
	}
	if processed >= req.MaxDays {
		return actionStopQuota
	}
	return actionFetch
}

// outcomeKind classifies what happened to one fetched date.
type outcomeKind int

const (
	outcomeFetched outcomeKind = iota
	outcomeSkipped
	outcomeErrored
	outcomeRateLimited
)

type dayOutcome struct {
	kind     outcomeKind
	files    []string
	statuses map[string]int
	errText  string
	reason   string
}

// Run processes the request and returns the structured result. The returned
// error is non-nil only for run-stopping conditions (a dead refresh token);
// every per-date failure is recorded in the result instead.
func (d *Driver) Run(ctx context.Context, req Request, runID string) (*model.BackfillResult, error) {
	result := &model.BackfillResult{
		Fetched:      []model.FetchedDay{},
		Skipped:      []model.SkippedDay{},
		Errors:       []model.DayError{},
		StartDate:    req.Start.Format(model.DateFormat),
		EndDate:      req.End.Format(model.DateFormat),
		ExcludeDates: req.ExcludeList(),
		Force:        req.Force,
		MaxDays:      req.MaxDays,
	}

	processed := 0
	var nextStart time.Time
	current := req.Start

loop:
	for !current.After(req.End) {
		dateStr := current.Format(model.DateFormat)

		switch decide(current, req, processed) {
		case actionSkipExcluded:
			d.logger.Info("date excluded, skipping", "date", dateStr)
			current = current.AddDate(0, 0, 1)
			continue
		case actionStopQuota:
			d.logger.Info("day budget exhausted, stopping", "date", dateStr, "max_days", req.MaxDays)
			nextStart = current
			break loop
		}

		d.logger.Info("processing date", "date", dateStr)
		outcome, err := d.processDay(ctx, current, req, runID)
		if err != nil {
			// Fatal for the whole run; nothing past this date is attempted.
			return nil, err
		}

		switch outcome.kind {
		case outcomeRateLimited:
			result.Errors = append(result.Errors, model.DayError{
				Date: dateStr, Error: "rate_limited", StatusMap: outcome.statuses,
			})
			result.RateLimitReached = true
			nextStart = current
			break loop
		case outcomeSkipped:
			result.Skipped = append(result.Skipped, model.SkippedDay{Date: dateStr, Reason: outcome.reason})
		case outcomeErrored:
			result.Errors = append(result.Errors, model.DayError{
				Date: dateStr, Error: outcome.errText, StatusMap: outcome.statuses,
			})
		case outcomeFetched:
			result.Fetched = append(result.Fetched, model.FetchedDay{
				Date: dateStr, Files: outcome.files, StatusMap: outcome.statuses,
			})
		}

		processed++
		current = current.AddDate(0, 0, 1)
	}

	result.ProcessedDates = processed
	if nextStart.IsZero() && !current.After(req.End) {
		nextStart = current
	}
	if !nextStart.IsZero() && !nextStart.After(req.End) {
		result.NextStartDate = nextStart.Format(model.DateFormat)
	}
	return result, nil
}

// processDay runs the fetch cycle for one date. The returned error is
// reserved for run-fatal conditions; everything else becomes an outcome.
func (d *Driver) processDay(ctx context.Context, date time.Time, req Request, runID string) (dayOutcome, error) {
	record, err := d.tokens.EnsureValid(ctx)
	if err != nil {
		if errors.Is(err, token.ErrInvalidGrant) {
			return dayOutcome{}, fmt.Errorf("refresh token dead, aborting run: %w", err)
		}
		return dayOutcome{kind: outcomeErrored, errText: err.Error()}, nil
	}

	if !req.Force {
		done, err := d.archive.Exists(ctx, date)
		if err != nil {
			return dayOutcome{kind: outcomeErrored, errText: err.Error()}, nil
		}
		if done {
			return dayOutcome{kind: outcomeSkipped, reason: "already_exists"}, nil
		}
	}

	var res fitbit.DayResult
	for attempt := 0; ; attempt++ {
		res, err = d.fetchWithTokenRetry(ctx, record, date)
		if err != nil {
			if errors.Is(err, token.ErrInvalidGrant) {
				return dayOutcome{}, fmt.Errorf("refresh token dead, aborting run: %w", err)
			}
			return dayOutcome{kind: outcomeErrored, errText: err.Error()}, nil
		}

		if res.AnyStatus(429) {
			return dayOutcome{kind: outcomeRateLimited, statuses: res.Statuses}, nil
		}
		if res.AnyStatus(401) {
			// One refresh-and-refetch already happened; a second 401 means
			// the new token is being rejected too. Stop poking the API.
			return dayOutcome{kind: outcomeErrored, errText: "unauthorized_after_refresh", statuses: res.Statuses}, nil
		}
		if !res.AllFailed() {
			break
		}
		if attempt >= d.dayRetries {
			return dayOutcome{kind: outcomeErrored, errText: "no_successful_dataset", statuses: res.Statuses}, nil
		}
		d.logger.Warn("all categories failed, retrying date", "date", date.Format(model.DateFormat), "attempt", attempt+1)
	}

	files, err := d.archive.Persist(ctx, date, res.Payloads, fitbit.Categories, runID)
	if err != nil {
		return dayOutcome{kind: outcomeErrored, errText: err.Error(), statuses: res.Statuses}, nil
	}
	return dayOutcome{kind: outcomeFetched, files: files, statuses: res.Statuses}, nil
}

// fetchWithTokenRetry fetches all categories once, and on any 401 refreshes
// the token exactly once and refetches. The refreshed record is used for the
// retry; a failed refresh propagates so the caller can classify it.
func (d *Driver) fetchWithTokenRetry(ctx context.Context, record *model.TokenRecord, date time.Time) (fitbit.DayResult, error) {
	res := d.fetcher.FetchDay(ctx, record.AccessToken, date)
	if !res.AnyStatus(401) {
		return res, nil
	}

	d.logger.Info("401 from vendor, refreshing token once", "date", date.Format(model.DateFormat))
	refreshed, err := d.tokens.Refresh(ctx, record.RefreshToken)
	if err != nil {
		return fitbit.DayResult{}, fmt.Errorf("token refresh after 401: %w", err)
	}
	*record = *refreshed
	return d.fetcher.FetchDay(ctx, record.AccessToken, date), nil
}
