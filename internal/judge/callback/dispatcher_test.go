package callback_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codejudger/internal/judge/callback"
	"codejudger/internal/judge/model"
)

func fastConfig() callback.Config {
	return callback.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Timeout: time.Second}
}

func TestDeliverPutsPayload(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		got  model.CallbackPayload
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := callback.NewDispatcher(fastConfig(), srv.Client())
	finished := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	payload := model.FinalPayload("s-1", "tok", model.Verdict{Status: model.StatusAC, Score: 100, FinishedAt: finished})
	if err := d.Deliver(context.Background(), srv.URL, payload, 1); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.SubmissionID != "s-1" || got.Status != model.StatusAC || got.Score != 100 || got.CallbackToken != "tok" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Fatalf("finished_at lost")
	}
	if auth != "Bearer tok" {
		t.Fatalf("authorization = %q", auth)
	}
}

func TestDeliverRetriesServerErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := callback.NewDispatcher(fastConfig(), srv.Client())
	if err := d.Deliver(context.Background(), srv.URL, model.JudgingPayload("s", ""), 3); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDeliverGivesUpOnClientErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := callback.NewDispatcher(fastConfig(), srv.Client())
	if err := d.Deliver(context.Background(), srv.URL, model.JudgingPayload("s", ""), 3); err == nil {
		t.Fatalf("expected failure")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestSendRetriesOnlyTerminalPayloads(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := callback.NewDispatcher(fastConfig(), srv.Client())
	d.Send(context.Background(), srv.URL, model.JudgingPayload("s", ""))
	d.Send(context.Background(), srv.URL, model.FinalPayload("s", "", model.Verdict{Status: model.StatusWA}))
	d.Send(context.Background(), "", model.JudgingPayload("ignored", ""))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected 1 judging + 3 final attempts, got %d", calls.Load())
	}
}

func TestSendKeepsSubmissionOrder(t *testing.T) {
	t.Parallel()
	var (
		mu          sync.Mutex
		order       []model.Status
		judgingDone atomic.Bool
		overtaken   atomic.Bool
		closeFinal  sync.Once
	)
	finalSeen := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p model.CallbackPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		if p.Status == model.StatusJudging {
			// Hold the notice long enough for an unordered final to overtake it.
			select {
			case <-finalSeen:
			case <-time.After(200 * time.Millisecond):
			}
			judgingDone.Store(true)
		} else {
			if !judgingDone.Load() {
				overtaken.Store(true)
			}
			closeFinal.Do(func() { close(finalSeen) })
		}
		mu.Lock()
		order = append(order, p.Status)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := callback.NewDispatcher(fastConfig(), srv.Client())
	d.Send(context.Background(), srv.URL, model.JudgingPayload("s-7", ""))
	d.Send(context.Background(), srv.URL, model.FinalPayload("s-7", "", model.Verdict{Status: model.StatusCE}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if overtaken.Load() {
		t.Fatalf("final callback was sent while the judging notice was in flight")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != model.StatusJudging || order[1] != model.StatusCE {
		t.Fatalf("delivery order = %v", order)
	}
}

func TestSendDoesNotSerializeAcrossSubmissions(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var released atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p model.CallbackPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		if p.SubmissionID == "slow" {
			select {
			case <-release:
				released.Store(true)
			case <-time.After(2 * time.Second):
			}
		} else {
			close(release)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := callback.NewDispatcher(fastConfig(), srv.Client())
	d.Send(context.Background(), srv.URL, model.JudgingPayload("slow", ""))
	d.Send(context.Background(), srv.URL, model.JudgingPayload("fast", ""))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !released.Load() {
		t.Fatalf("callback for another submission waited behind a slow delivery")
	}
}
