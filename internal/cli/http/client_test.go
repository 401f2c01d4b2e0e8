package httpclient_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpclient "codejudger/internal/cli/http"
	"codejudger/internal/judge/model"

	"github.com/gorilla/websocket"
)

func writeEnvelope(w http.ResponseWriter, status, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message, "data": data, "trace_id": "t-1"})
}

func TestSubmitPostsJobAndDecodesAccepted(t *testing.T) {
	t.Parallel()
	var gotPath string
	var gotJob model.Job
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotJob)
		if r.Header.Get("X-Request-Id") == "" {
			t.Errorf("request id header missing")
		}
		writeEnvelope(w, http.StatusAccepted, 10000, "Accepted", map[string]string{"submission_id": "s-9", "status": "Pending"})
	}))
	defer srv.Close()

	client := httpclient.New(srv.URL+"/", time.Second)
	job := &model.Job{Language: model.LanguagePython, SourceCode: "print(1)", ProblemID: 7}
	acc, err := client.Submit(context.Background(), "", job)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if acc.SubmissionID != "s-9" || acc.Status != model.StatusPending {
		t.Fatalf("accepted = %+v", acc)
	}
	if gotPath != "/api/v1/judge/submissions" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotJob.SourceCode != "print(1)" || gotJob.ProblemID != 7 {
		t.Fatalf("job = %+v", gotJob)
	}

	if _, err := client.Submit(context.Background(), "mine", job); err != nil {
		t.Fatalf("submit with id: %v", err)
	}
	if gotPath != "/api/v1/judge/submissions/mine" {
		t.Fatalf("path = %s", gotPath)
	}
}

func TestErrorsCarryServerMessage(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, 60001, "submission not found", nil)
	}))
	defer srv.Close()

	client := httpclient.New(srv.URL, time.Second)
	_, err := client.Status(context.Background(), "missing")
	var apiErr *httpclient.APIError
	if !stderrors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != 60001 || apiErr.Message != "submission not found" || apiErr.TraceID != "t-1" {
		t.Fatalf("api error = %+v", apiErr)
	}
}

func TestStatusAndRejudge(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/judge/submissions/s-1", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, 10000, "Success", model.StatusRecord{SubmissionID: "s-1", Status: model.StatusWA, Score: 50})
	})
	mux.HandleFunc("/api/v1/judge/submissions/s-1/rejudge", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		writeEnvelope(w, http.StatusAccepted, 10000, "Accepted", map[string]string{"submission_id": "s-1", "status": "Pending"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := httpclient.New(srv.URL, time.Second)
	rec, err := client.Status(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rec.Status != model.StatusWA || rec.Score != 50 {
		t.Fatalf("record = %+v", rec)
	}
	acc, err := client.Rejudge(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("rejudge: %v", err)
	}
	if acc.Status != model.StatusPending {
		t.Fatalf("accepted = %+v", acc)
	}
}

func TestWatchStreamsUntilNormalClose(t *testing.T) {
	t.Parallel()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/judge/submissions/s-2/watch" {
			writeEnvelope(w, http.StatusNotFound, 60001, "submission not found", nil)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, st := range []model.Status{model.StatusPending, model.StatusJudging, model.StatusAC} {
			_ = conn.WriteJSON(model.StatusRecord{SubmissionID: "s-2", Status: st})
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "judged")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}))
	defer srv.Close()

	client := httpclient.New(srv.URL, time.Second)
	var seen []model.Status
	err := client.Watch(context.Background(), "s-2", func(rec model.StatusRecord) error {
		seen = append(seen, rec.Status)
		return nil
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(seen) != 3 || seen[2] != model.StatusAC {
		t.Fatalf("seen = %v", seen)
	}

	err = client.Watch(context.Background(), "other", func(model.StatusRecord) error { return nil })
	var apiErr *httpclient.APIError
	if !stderrors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
}
