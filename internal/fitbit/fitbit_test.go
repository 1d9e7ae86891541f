package fitbit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var testDate = time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

// categoryFromPath maps a request path back to its category.
func categoryFromPath(path string) string {
	switch {
	case strings.Contains(path, "/sleep/"):
		return "sleep"
	case strings.Contains(path, "/heart/"):
		return "heart_rate"
	case strings.Contains(path, "/steps/"):
		return "steps"
	case strings.Contains(path, "/activities/date/"):
		return "activity"
	}
	return ""
}

func newTestClient(serverURL string) (*Client, *[]time.Duration) {
	var sleeps []time.Duration
	c := NewClient(nil, nil,
		WithBaseURL(serverURL),
		WithSleep(func(d time.Duration) { sleeps = append(sleeps, d) }))
	return c, &sleeps
}

func TestFetchDayAllSuccess(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		w.Header().Set("Fitbit-Rate-Limit-Remaining", "140")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c, _ := newTestClient(server.URL)
	res := c.FetchDay(context.Background(), "tok", testDate)

	for _, category := range Categories {
		if res.Statuses[category] != 200 {
			t.Errorf("%s status = %d, want 200", category, res.Statuses[category])
		}
		if _, ok := res.Payloads[category]; !ok {
			t.Errorf("%s payload missing", category)
		}
	}

	wantPaths := []string{
		"/1.2/user/-/sleep/date/2025-03-15.json",
		"/1/user/-/activities/date/2025-03-15.json",
		"/1/user/-/activities/heart/date/2025-03-15/1d/1min.json",
		"/1/user/-/activities/steps/date/2025-03-15/1d.json",
	}
	if len(paths) != len(wantPaths) {
		t.Fatalf("got %d requests, want %d", len(paths), len(wantPaths))
	}
	for i, want := range wantPaths {
		if paths[i] != want {
			t.Errorf("request %d path = %q, want %q", i, paths[i], want)
		}
	}
}

func TestFetchDayPartialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if categoryFromPath(r.URL.Path) == "heart_rate" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c, _ := newTestClient(server.URL)
	res := c.FetchDay(context.Background(), "tok", testDate)

	if res.Statuses["heart_rate"] != 500 {
		t.Errorf("heart_rate status = %d, want 500", res.Statuses["heart_rate"])
	}
	if _, ok := res.Payloads["heart_rate"]; ok {
		t.Error("heart_rate payload present, want absent")
	}
	if res.Statuses["sleep"] != 200 {
		t.Errorf("sleep status = %d, want 200 (failure must not abort the rest)", res.Statuses["sleep"])
	}
	if res.AllFailed() {
		t.Error("AllFailed() = true, want false")
	}
}

func TestFetchDayNetworkErrorIsStatusZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	server.Close() // all requests now fail at the transport level

	c, _ := newTestClient(server.URL)
	res := c.FetchDay(context.Background(), "tok", testDate)

	for _, category := range Categories {
		if res.Statuses[category] != 0 {
			t.Errorf("%s status = %d, want 0", category, res.Statuses[category])
		}
	}
	if !res.AllFailed() {
		t.Error("AllFailed() = false, want true")
	}
}

func TestFetchDayMalformedBodyIsStatusZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if categoryFromPath(r.URL.Path) == "sleep" {
			w.Write([]byte(`{not json`))
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c, _ := newTestClient(server.URL)
	res := c.FetchDay(context.Background(), "tok", testDate)

	if res.Statuses["sleep"] != 0 {
		t.Errorf("sleep status = %d, want 0 for malformed body", res.Statuses["sleep"])
	}
	if res.Statuses["steps"] != 200 {
		t.Errorf("steps status = %d, want 200", res.Statuses["steps"])
	}
}

func TestThrottleSleeps(t *testing.T) {
	tests := []struct {
		name      string
		remaining string
		want      []time.Duration
	}{
		{"plenty of quota", "120", nil},
		{"header absent", "", nil},
		{"low quota", "15", []time.Duration{lowQuotaSleep}},
		{"critical quota", "5", []time.Duration{criticalQuotaSleep}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.remaining != "" {
					w.Header().Set("Fitbit-Rate-Limit-Remaining", tt.remaining)
				}
				w.Write([]byte(`{}`))
			}))
			defer server.Close()

			var sleeps []time.Duration
			c := NewClient(nil, nil,
				WithBaseURL(server.URL),
				WithSleep(func(d time.Duration) {
					if d != interRequestDelay {
						sleeps = append(sleeps, d)
					}
				}))
			c.FetchDay(context.Background(), "tok", testDate)

			if len(sleeps) != len(tt.want)*len(Categories) {
				t.Fatalf("throttle sleeps = %v, want %v per category", sleeps, tt.want)
			}
			for _, got := range sleeps {
				if got != tt.want[0] {
					t.Errorf("sleep = %v, want %v", got, tt.want[0])
				}
			}
		})
	}
}

func TestInterRequestDelay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Fitbit-Rate-Limit-Remaining", "140")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c, sleeps := newTestClient(server.URL)
	c.FetchDay(context.Background(), "tok", testDate)

	// One pause between each consecutive pair of category requests.
	want := len(Categories) - 1
	if len(*sleeps) != want {
		t.Fatalf("sleeps = %v, want %d pauses of %v", *sleeps, want, interRequestDelay)
	}
	for _, d := range *sleeps {
		if d != interRequestDelay {
			t.Errorf("pause = %v, want %v", d, interRequestDelay)
		}
	}
}

func TestRateLimitedStatusRecorded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c, _ := newTestClient(server.URL)
	res := c.FetchDay(context.Background(), "tok", testDate)

	if !res.AnyStatus(429) {
		t.Error("AnyStatus(429) = false, want true")
	}
	for _, category := range Categories {
		if _, ok := res.Payloads[category]; ok {
			t.Errorf("%s payload present on 429", category)
		}
	}
}
