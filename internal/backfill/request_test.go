package backfill

import (
	"testing"
	"time"

	"github.com/dukerupert/fitsync/internal/model"
)

var resolveNow = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

var testDefaults = Defaults{
	StartDate: "2025-01-01",
	MaxDays:   10,
}

func TestResolveDefaults(t *testing.T) {
	req, err := Resolve(model.BackfillRequest{}, testDefaults, resolveNow)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if got := req.Start.Format(model.DateFormat); got != "2025-01-01" {
		t.Errorf("start = %q, want the configured default", got)
	}
	if got := req.End.Format(model.DateFormat); got != "2025-08-31" {
		t.Errorf("end = %q, want yesterday", got)
	}
	if req.MaxDays != 10 {
		t.Errorf("max_days = %d, want 10", req.MaxDays)
	}
	if req.Force {
		t.Error("force = true, want false")
	}
}

func TestResolveExplicitFields(t *testing.T) {
	req, err := Resolve(model.BackfillRequest{
		StartDate:    "2025-02-01",
		EndDate:      "2025-02-10",
		ExcludeDates: []string{"2025-02-05", "2025-02-06"},
		Force:        true,
		MaxDays:      3,
	}, testDefaults, resolveNow)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(req.Exclude) != 2 {
		t.Errorf("exclude = %v, want 2 entries", req.Exclude)
	}
	if _, ok := req.Exclude["2025-02-05"]; !ok {
		t.Error("2025-02-05 missing from exclude set")
	}
	if !req.Force || req.MaxDays != 3 {
		t.Errorf("force/max_days = %v/%d", req.Force, req.MaxDays)
	}
	if got := req.ExcludeList(); len(got) != 2 || got[0] != "2025-02-05" {
		t.Errorf("ExcludeList() = %v, want sorted dates", got)
	}
}

func TestResolveRejectsInvertedRange(t *testing.T) {
	_, err := Resolve(model.BackfillRequest{
		StartDate: "2025-03-10",
		EndDate:   "2025-03-01",
	}, testDefaults, resolveNow)
	if err == nil {
		t.Fatal("Resolve() error = nil, want inverted-range error")
	}
}

func TestResolveRejectsMalformedDates(t *testing.T) {
	tests := []model.BackfillRequest{
		{StartDate: "03/01/2025"},
		{EndDate: "not-a-date"},
		{ExcludeDates: []string{"2025-13-99"}},
	}
	for _, req := range tests {
		if _, err := Resolve(req, testDefaults, resolveNow); err == nil {
			t.Errorf("Resolve(%+v) error = nil, want parse error", req)
		}
	}
}

func TestResolveNonPositiveMaxDaysFallsBack(t *testing.T) {
	for _, maxDays := range []int{0, -5} {
		req, err := Resolve(model.BackfillRequest{MaxDays: maxDays}, testDefaults, resolveNow)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if req.MaxDays != 10 {
			t.Errorf("max_days(%d) = %d, want default 10", maxDays, req.MaxDays)
		}
	}
}
