package qstash

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{URL: "", Destination: "https://x.test/hook"}); err == nil {
		t.Fatal("NewClient() error = nil for empty url")
	}
	if _, err := NewClient(Config{URL: "https://qstash.test", Destination: ""}); err == nil {
		t.Fatal("NewClient() error = nil for empty destination")
	}
	if _, err := NewClient(Config{URL: "https://qstash.test", Destination: "not a url"}); err == nil {
		t.Fatal("NewClient() error = nil for invalid destination")
	}
}

func TestPublish(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if !strings.HasPrefix(r.URL.Path, "/v2/publish/") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Upstash-Retries"); got != "2" {
			t.Errorf("Upstash-Retries = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var payload map[string]string
		if err := json.Unmarshal(body, &payload); err != nil || payload["event_type"] != "AGENT_FINAL_RESPONSE" {
			t.Errorf("body = %s", body)
		}
		_, _ = w.Write([]byte(`{"messageId":"msg_123"}`))
	}))
	defer server.Close()

	client := MustNew(Config{URL: server.URL, Token: "tok", Destination: "https://backend.test/telemetry/log_event", Retries: 2})
	resp, err := client.Publish(context.Background(), map[string]string{"event_type": "AGENT_FINAL_RESPONSE"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if resp.MessageID != "msg_123" {
		t.Fatalf("MessageID = %q", resp.MessageID)
	}
}

func TestPublishStatusError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := MustNew(Config{URL: server.URL, Token: "tok", Destination: "https://backend.test/hook"})
	if _, err := client.Publish(context.Background(), map[string]string{}); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("Publish() error = %v, want status 429", err)
	}
}
