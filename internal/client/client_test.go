package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/english-check/backend/internal/assessment"
)

const okBody = `{"output":{"assessment":{"Grammar":{"score":80}}},"weightedAverage":{"score":80}}`

func testSubmission() *assessment.Submission {
	return &assessment.Submission{
		Audio:      []byte("RIFF-fake-audio"),
		AudioName:  "answer.wav",
		AudioType:  "audio/wav",
		Question:   "Describe your favourite place.",
		StudyLevel: assessment.Level4Units,
	}
}

func TestSubmitReturnsOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/check-english" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Expected multipart body: %v", err)
		}
		if got := r.FormValue("studyLevel"); got != "4 Units" {
			t.Errorf("Expected studyLevel 4 Units, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(okBody))
	}))
	defer server.Close()

	c := New(Config{ServerURL: server.URL})
	result, err := c.Submit(context.Background(), testSubmission())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !result.HasOutput() || result.Output.Assessment["Grammar"].Score.Value != 80 {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestSubmitFallsBackOnceOnGatewayTimeout(t *testing.T) {
	var direct int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&direct, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[" + okBody + "]"))
	}))
	defer hook.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		w.Write([]byte(`{"error":"Webhook request timed out"}`))
	}))
	defer server.Close()

	c := New(Config{ServerURL: server.URL, WebhookURL: hook.URL})
	result, err := c.Submit(context.Background(), testSubmission())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !result.HasOutput() {
		t.Error("Expected unwrapped fallback output")
	}
	if n := atomic.LoadInt32(&direct); n != 1 {
		t.Errorf("Expected exactly one direct webhook call, got %d", n)
	}
}

func TestSubmitFallbackWithoutOutputFails(t *testing.T) {
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"Workflow was started"}`))
	}))
	defer hook.Close()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer server.Close()

	c := New(Config{ServerURL: server.URL, WebhookURL: hook.URL})
	_, err := c.Submit(context.Background(), testSubmission())
	var se *ServerError
	if !errors.As(err, &se) || se.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("Expected the original 504 error, got %v", err)
	}
}

func TestSubmitFallbackErrorIsWrapped(t *testing.T) {
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer hook.Close()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer server.Close()

	c := New(Config{ServerURL: server.URL, WebhookURL: hook.URL})
	_, err := c.Submit(context.Background(), testSubmission())
	var fe *FallbackError
	if !errors.As(err, &fe) {
		t.Errorf("Expected FallbackError, got %v", err)
	}
}

func TestSubmitServerErrorMessage(t *testing.T) {
	var direct int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&direct, 1)
	}))
	defer hook.Close()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"with error field", `{"error":"Only audio files are allowed"}`, "Only audio files are allowed"},
		{"without body", ``, "server error: 400 Bad Request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := New(Config{ServerURL: server.URL, WebhookURL: hook.URL})
			_, err := c.Submit(context.Background(), testSubmission())
			if err == nil || err.Error() != tt.want {
				t.Errorf("Expected %q, got %v", tt.want, err)
			}
		})
	}
	if n := atomic.LoadInt32(&direct); n != 0 {
		t.Errorf("Non-504 errors must not call the webhook, got %d calls", n)
	}
}

func TestSubmitUnexpectedShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hello":"world"}`))
	}))
	defer server.Close()

	c := New(Config{ServerURL: server.URL})
	if _, err := c.Submit(context.Background(), testSubmission()); !errors.Is(err, ErrUnexpectedResponse) {
		t.Errorf("Expected ErrUnexpectedResponse, got %v", err)
	}
}

func TestSubmitPollsUntilComplete(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/check-english", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Prefer") != "respond-async" {
			t.Errorf("Expected async preference header")
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"processing","requestId":"req-1"}`))
	})
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("requestId") != "req-1" {
			t.Errorf("Unexpected requestId %q", r.URL.Query().Get("requestId"))
		}
		switch atomic.AddInt32(&polls, 1) {
		case 1:
			w.WriteHeader(http.StatusInternalServerError)
		case 2:
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"status":"processing","requestId":"req-1"}`))
		default:
			w.Write([]byte(okBody))
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := New(Config{ServerURL: server.URL, Async: true, PollInterval: 10 * time.Millisecond, PollTimeout: 2 * time.Second})
	result, err := c.Submit(context.Background(), testSubmission())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !result.HasOutput() {
		t.Error("Expected output after polling")
	}
	if n := atomic.LoadInt32(&polls); n != 3 {
		t.Errorf("Expected 3 polls, got %d", n)
	}
}

func TestPollTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"processing","requestId":"req-2"}`))
	}))
	defer server.Close()

	c := New(Config{ServerURL: server.URL, PollInterval: 10 * time.Millisecond, PollTimeout: 60 * time.Millisecond})
	if _, err := c.Poll(context.Background(), "req-2"); !errors.Is(err, ErrPollTimeout) {
		t.Errorf("Expected ErrPollTimeout, got %v", err)
	}
}

func TestPollStopsOnFailedJob(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&polls, 1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"status":"failed","error":"Failed to forward request to webhook"}`))
	}))
	defer server.Close()

	c := New(Config{ServerURL: server.URL, PollInterval: 10 * time.Millisecond, PollTimeout: time.Second})
	_, err := c.Poll(context.Background(), "req-3")
	var se *ServerError
	if !errors.As(err, &se) || se.Message != "Failed to forward request to webhook" {
		t.Errorf("Expected failed job error, got %v", err)
	}
	if n := atomic.LoadInt32(&polls); n != 1 {
		t.Errorf("Expected polling to stop after the failure, got %d polls", n)
	}
}
