package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/english-check/backend/internal/assessment"
	"github.com/english-check/backend/pkg/circuitbreaker"
)

func testSubmission() *assessment.Submission {
	return &assessment.Submission{
		Audio:        []byte("fake-audio-bytes"),
		AudioName:    "answer.mp3",
		AudioType:    "audio/mpeg",
		Question:     "Tell me about yourself.",
		StudyLevel:   assessment.Level4Units,
		CriteriaJSON: `[ {"name":"Grammar","description":"g","weight":2} ]`,
	}
}

func TestForwardBuildsMultipartAndRelaysJSON(t *testing.T) {
	const reply = `[{"output":{"assessment":{"Grammar":{"score":80}}}}]`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
		}
		if got := r.FormValue("question"); got != "Tell me about yourself." {
			t.Errorf("Unexpected question %q", got)
		}
		if got := r.FormValue("studyLevel"); got != "4 Units" {
			t.Errorf("Unexpected studyLevel %q", got)
		}
		if got := r.FormValue("criteria"); got != `[{"name":"Grammar","description":"g","weight":2}]` {
			t.Errorf("Criteria should be compacted, got %q", got)
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Fatalf("Missing audio part: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "fake-audio-bytes" || header.Filename != "answer.mp3" {
			t.Errorf("Unexpected audio part %q %q", header.Filename, data)
		}
		if ct := header.Header.Get("Content-Type"); ct != "audio/mpeg" {
			t.Errorf("Expected audio/mpeg part, got %s", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reply)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, Timeout: 5 * time.Second})
	resp, err := client.Forward(context.Background(), testSubmission())
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if string(resp.Payload()) != reply {
		t.Errorf("JSON body must be relayed unchanged, got %s", resp.Payload())
	}
}

func TestForwardInvalidCriteriaPassesThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.FormValue("criteria"); got != "vocabulary only" {
			t.Errorf("Expected raw criteria, got %q", got)
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()

	sub := testSubmission()
	sub.CriteriaJSON = "vocabulary only"
	client := NewClient(Config{URL: server.URL})
	resp, err := client.Forward(context.Background(), sub)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if string(resp.Payload()) != `"ok"` {
		t.Errorf("Non-JSON body should be wrapped as a JSON string, got %s", resp.Payload())
	}
}

func TestForwardTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Forward(context.Background(), testSubmission())
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestForwardStatusErrorExcerpt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html><head><title>Bad Gateway</title></head><body><h1>Workflow   failed</h1></body></html>")
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL})
	_, err := client.Forward(context.Background(), testSubmission())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", se.StatusCode)
	}
	if se.Excerpt != "Bad Gateway: Workflow failed" {
		t.Errorf("Unexpected excerpt %q", se.Excerpt)
	}
}

func TestForwardCircuitOpens(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(Config{
		URL:            server.URL,
		BreakerEnabled: true,
		Breaker:        circuitbreaker.Config{FailureThreshold: 2, OpenTimeout: time.Minute},
	})
	for i := 0; i < 2; i++ {
		_, _ = client.Forward(context.Background(), testSubmission())
	}
	_, err := client.Forward(context.Background(), testSubmission())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected 2 upstream calls, got %d", got)
	}
	if client.BreakerState() != "open" {
		t.Errorf("Expected open breaker, got %s", client.BreakerState())
	}
}

func TestForwardRejectsMissingAudio(t *testing.T) {
	client := NewClient(Config{URL: "http://127.0.0.1:1"})
	_, err := client.Forward(context.Background(), &assessment.Submission{Question: "q"})
	if !errors.Is(err, assessment.ErrNoAudio) {
		t.Errorf("Expected ErrNoAudio, got %v", err)
	}
}

func TestExcerptJSONMessage(t *testing.T) {
	got := excerpt("application/json", []byte(`{"message":"Workflow could not be started!"}`))
	if !strings.Contains(got, "could not be started") {
		t.Errorf("Unexpected excerpt %q", got)
	}
}
