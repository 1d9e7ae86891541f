// Package handler adapts Lambda invocation events to backfill runs and maps
// run results to HTTP-style responses.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/fitsync/internal/backfill"
	"github.com/dukerupert/fitsync/internal/model"
	"github.com/dukerupert/fitsync/internal/tokenstore"
)

// Response is the Lambda invocation output.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// TokenChecker verifies a token record exists before a run starts.
type TokenChecker interface {
	Get(ctx context.Context, userID string) (*model.TokenRecord, error)
}

// Runner executes a resolved backfill request.
type Runner interface {
	Run(ctx context.Context, req backfill.Request, runID string) (*model.BackfillResult, error)
}

// Handler wires invocation events to the backfill driver.
type Handler struct {
	driver   Runner
	tokens   TokenChecker
	userID   string
	defaults backfill.Defaults
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Handler. The logger may be nil.
func New(driver Runner, tokens TokenChecker, userID string, defaults backfill.Defaults, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		driver:   driver,
		tokens:   tokens,
		userID:   userID,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

// Backfill handles a range backfill event: 200 when the run had no errors,
// 207 when some dates failed, 400 for a malformed range, a missing token
// record, or a dead refresh token.
func (h *Handler) Backfill(ctx context.Context, event model.BackfillRequest, runID string) (Response, error) {
	req, err := backfill.Resolve(event, h.defaults, h.now())
	if err != nil {
		h.logger.Error("invalid backfill request", "error", err)
		return errorResponse(400, err.Error()), nil
	}
	return h.run(ctx, req, runID)
}

// Daily handles the scheduled daily export: yesterday only, forced so the
// day is re-fetched even if a prior partial run left a summary behind.
func (h *Handler) Daily(ctx context.Context, runID string) (Response, error) {
	yesterday := h.now().AddDate(0, 0, -1)
	req, err := backfill.Resolve(model.BackfillRequest{
		StartDate: yesterday.Format(model.DateFormat),
		EndDate:   yesterday.Format(model.DateFormat),
		Force:     true,
		MaxDays:   1,
	}, h.defaults, h.now())
	if err != nil {
		return errorResponse(400, err.Error()), nil
	}
	return h.run(ctx, req, runID)
}

func (h *Handler) run(ctx context.Context, req backfill.Request, runID string) (Response, error) {
	if _, err := h.tokens.Get(ctx, h.userID); err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			h.logger.Error("no token record for user", "user_id", h.userID)
			return errorResponse(400, "no tokens found for user"), nil
		}
		return Response{}, fmt.Errorf("token store: %w", err)
	}

	result, err := h.driver.Run(ctx, req, runID)
	if err != nil {
		// Run-stopping: dead refresh token. Zero dates were archived past
		// the failure point; the operator must re-authorize out of band.
		h.logger.Error("backfill run aborted", "error", err)
		return errorResponse(400, err.Error()), nil
	}

	status := 200
	if len(result.Errors) > 0 {
		status = 207
	}

	body, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("marshal result: %w", err)
	}
	h.logger.Info("backfill finished",
		"status", status,
		"processed", result.ProcessedDates,
		"fetched", len(result.Fetched),
		"skipped", len(result.Skipped),
		"errors", len(result.Errors),
		"rate_limit_reached", result.RateLimitReached,
		"next_start_date", result.NextStartDate)
	return Response{StatusCode: status, Body: string(body)}, nil
}

func errorResponse(status int, message string) Response {
	body, _ := json.Marshal(map[string]string{"error": message})
	return Response{StatusCode: status, Body: string(body)}
}
