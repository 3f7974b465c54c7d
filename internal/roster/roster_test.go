package roster

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sfu-gateway/internal/model"
)

func newScheduleServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_GetSchedule(t *testing.T) {
	var gotPath, gotOrg, gotCookie string
	srv := newScheduleServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotOrg = r.URL.Query().Get("org_id")
		if c, err := r.Cookie("access"); err == nil {
			gotCookie = c.Value
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "sched-1",
			"class_roster_students": [{"id": "s1", "name": "Ada"}, {"id": "s2"}],
			"class_roster_teachers": [{"id": "t1", "email": "t@example.com"}]
		}`))
	})

	c := NewClient(srv.URL)
	r, err := c.GetSchedule(context.Background(), "sched-1", "org-1", "token")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if gotPath != "/v1/schedules/sched-1" || gotOrg != "org-1" || gotCookie != "token" {
		t.Errorf("request path=%q org=%q cookie=%q", gotPath, gotOrg, gotCookie)
	}
	if students, teachers := r.Headcount(); students != 2 || teachers != 1 {
		t.Errorf("headcount = %d,%d, want 2,1", students, teachers)
	}
	if r.Students[0] != (model.Member{ID: "s1"}) {
		t.Errorf("member = %+v", r.Students[0])
	}
}

func TestClient_GetSchedule_missingListsAreEmpty(t *testing.T) {
	srv := newScheduleServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"class_roster_students": null}`))
	})

	r, err := NewClient(srv.URL).GetSchedule(context.Background(), "s", "o", "")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if r.Students == nil || r.Teachers == nil {
		t.Errorf("lists should be empty, not nil: %+v", r)
	}
}

func TestClient_GetSchedule_failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not found", http.StatusNotFound, `{}`},
		{"server error", http.StatusInternalServerError, `oops`},
		{"malformed body", http.StatusOK, `{"class_roster_students": [`},
		{"null body", http.StatusOK, `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newScheduleServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			c := NewClient(srv.URL, WithRetries(1, time.Millisecond))
			_, err := c.GetSchedule(context.Background(), "s", "o", "")
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrUpstreamUnavailable) {
				t.Errorf("error %v should match ErrUpstreamUnavailable", err)
			}
		})
	}
}

func TestClient_retriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newScheduleServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"class_roster_students": [{"id": "s1"}]}`))
	})

	c := NewClient(srv.URL, WithRetries(2, time.Millisecond))
	if _, err := c.GetSchedule(context.Background(), "s", "o", ""); err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestClient_doesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newScheduleServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})

	c := NewClient(srv.URL, WithRetries(3, time.Millisecond))
	_, err := c.GetSchedule(context.Background(), "s", "o", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected APIError 403, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

type countingSource struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (s *countingSource) GetSchedule(_ context.Context, _ model.ScheduleID, _ model.OrgID, _ string) (model.Roster, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return model.Roster{}, s.err
	}
	return Fixed{Students: 2, Teachers: 1}.GetSchedule(context.Background(), "", "", "")
}

func TestCache_servesFromMemoryUntilExpiry(t *testing.T) {
	src := &countingSource{}
	ttl := 150 * time.Millisecond
	c := NewCache(src, ttl, nil)
	t.Cleanup(c.Close)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		r, err := c.GetSchedule(ctx, "sched", "org", "cookie")
		if err != nil {
			t.Fatal(err)
		}
		if s, tc := r.Headcount(); s != 2 || tc != 1 {
			t.Fatalf("headcount = %d,%d", s, tc)
		}
	}
	if src.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", src.calls.Load())
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("entry was not evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if elapsed := time.Since(start); elapsed < ttl {
		t.Errorf("evicted after %v, before the %v TTL", elapsed, ttl)
	}

	if _, err := c.GetSchedule(ctx, "sched", "org", "cookie"); err != nil {
		t.Fatal(err)
	}
	if src.calls.Load() != 2 {
		t.Errorf("calls after expiry = %d, want 2", src.calls.Load())
	}
}

func TestCache_keysBySchedulePerOrg(t *testing.T) {
	src := &countingSource{}
	c := NewCache(src, time.Minute, nil)
	t.Cleanup(c.Close)
	ctx := context.Background()

	_, _ = c.GetSchedule(ctx, "sched", "org-a", "")
	_, _ = c.GetSchedule(ctx, "sched", "org-b", "")
	_, _ = c.GetSchedule(ctx, "sched", "org-a", "")
	if src.calls.Load() != 2 || c.Len() != 2 {
		t.Errorf("calls = %d, len = %d, want 2 and 2", src.calls.Load(), c.Len())
	}
}

func TestCache_doesNotCacheFailures(t *testing.T) {
	src := &countingSource{err: &UpstreamError{ScheduleID: "s", OrgID: "o", Err: errors.New("boom")}}
	c := NewCache(src, time.Minute, nil)
	t.Cleanup(c.Close)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.GetSchedule(ctx, "s", "o", ""); !errors.Is(err, ErrUpstreamUnavailable) {
			t.Fatalf("err = %v", err)
		}
	}
	if src.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", src.calls.Load())
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestCache_sharesConcurrentMisses(t *testing.T) {
	src := &countingSource{delay: 50 * time.Millisecond}
	c := NewCache(src, time.Minute, nil)
	t.Cleanup(c.Close)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.GetSchedule(context.Background(), "s", "o", "")
		}()
	}
	wg.Wait()

	if src.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", src.calls.Load())
	}
}

// gatedSource blocks every fetch until release is closed, then honors the
// fetch's own context.
type gatedSource struct {
	countingSource
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedSource) GetSchedule(ctx context.Context, id model.ScheduleID, org model.OrgID, cookie string) (model.Roster, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return model.Roster{}, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return model.Roster{}, err
	}
	return s.countingSource.GetSchedule(ctx, id, org, cookie)
}

func TestCache_sharedFetchOutlivesFirstCaller(t *testing.T) {
	src := &gatedSource{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCache(src, time.Minute, nil)
	t.Cleanup(c.Close)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetSchedule(ctx, "s", "o", "")
		firstErr <- err
	}()
	<-src.started

	type result struct {
		r   model.Roster
		err error
	}
	second := make(chan result, 1)
	go func() {
		r, err := c.GetSchedule(context.Background(), "s", "o", "")
		second <- result{r, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("first caller err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(src.release)
	select {
	case res := <-second:
		if res.err != nil {
			t.Fatalf("waiting caller err = %v", res.err)
		}
		if len(res.r.Students) != 2 {
			t.Errorf("roster = %+v", res.r)
		}
	case <-time.After(time.Second):
		t.Fatal("waiting caller never returned")
	}
	if src.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", src.calls.Load())
	}
}

func TestFixed(t *testing.T) {
	r, err := Fixed{Students: 3, Teachers: 0}.GetSchedule(context.Background(), "x", "y", "")
	if err != nil {
		t.Fatal(err)
	}
	if s, tc := r.Headcount(); s != 3 || tc != 0 {
		t.Errorf("headcount = %d,%d", s, tc)
	}
	if r.Teachers == nil {
		t.Error("teachers should be empty, not nil")
	}
}
