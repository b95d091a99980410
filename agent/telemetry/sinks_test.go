package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	"github.com/tanpawarit/Chative-Policy-Harness/pkg/database"
	qstashx "github.com/tanpawarit/Chative-Policy-Harness/pkg/qstash"
)

func testEvent(t EventType) Event {
	return Event{
		EventType:      t,
		Timestamp:      time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		ConversationID: "conv-1",
		Variant:        "baseline",
		Persona:        "polite_canceller",
		Turn:           1,
		Step:           0,
		ToolCall: &contractx.ToolCall{
			Tool: contractx.ToolOrderCanceller,
			Args: map[string]any{"order_id": "ORD-0001"},
		},
		ToolResult: &contractx.ToolResult{Tool: contractx.ToolOrderCanceller, OrderID: "ORD-0001", Success: true},
	}
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	if err := testEvent(EventAgentToolExecuted).Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := testEvent("SOMETHING").Validate(); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("Validate(unknown type) error = %v, want ErrInvalidEvent", err)
	}
	ev := testEvent(EventUserQueryReceived)
	ev.ConversationID = ""
	if err := ev.Validate(); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("Validate(no conversation) error = %v, want ErrInvalidEvent", err)
	}
}

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))
	if err := sink.Emit(context.Background(), testEvent(EventAgentToolExecuted)); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not json: %v (%s)", err, buf.String())
	}
	if line["event_type"] != string(EventAgentToolExecuted) || line["tool"] != contractx.ToolOrderCanceller {
		t.Fatalf("unexpected log line: %v", line)
	}
	if line["tool_success"] != true {
		t.Fatalf("tool_success = %v, want true", line["tool_success"])
	}
}

func TestSQLSinkRoundTrip(t *testing.T) {
	t.Parallel()

	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sink, err := NewSQLSink(db)
	if err != nil {
		t.Fatalf("NewSQLSink() error = %v", err)
	}
	ctx := context.Background()
	if err := sink.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}

	for _, et := range []EventType{EventUserQueryReceived, EventAgentDecisionIntent, EventAgentToolExecuted} {
		if err := sink.Emit(ctx, testEvent(et)); err != nil {
			t.Fatalf("Emit(%s) error = %v", et, err)
		}
	}
	if err := sink.Emit(ctx, testEvent("BOGUS")); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("Emit(bogus) error = %v, want ErrInvalidEvent", err)
	}

	got, err := sink.Conversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Conversation() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(got))
	}
	if got[2].EventType != EventAgentToolExecuted || got[2].ToolCall.OrderID() != "ORD-0001" {
		t.Fatalf("unexpected last event: %+v", got[2])
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	bodies   [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, data)
	return nil
}

func TestNATSSinkSubjects(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	sink, err := NewNATSSink(pub, "")
	if err != nil {
		t.Fatalf("NewNATSSink() error = %v", err)
	}
	if err := sink.Emit(context.Background(), testEvent(EventTurnFailed)); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != "harness.telemetry.turn_failed" {
		t.Fatalf("subjects = %v", pub.subjects)
	}

	var ev Event
	if err := json.Unmarshal(pub.bodies[0], &ev); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if ev.ConversationID != "conv-1" {
		t.Fatalf("conversation_id = %q", ev.ConversationID)
	}

	custom, err := NewNATSSink(pub, "exp.events.")
	if err != nil {
		t.Fatalf("NewNATSSink() error = %v", err)
	}
	if got := custom.Subject(EventAgentFinalResponse); got != "exp.events.agent_final_response" {
		t.Fatalf("Subject() = %q", got)
	}

	pub.err = errors.New("disconnected")
	if err := sink.Emit(context.Background(), testEvent(EventTurnFailed)); err == nil {
		t.Fatal("Emit() error = nil, want publish error")
	}
	if _, err := NewNATSSink(nil, ""); err == nil {
		t.Fatal("NewNATSSink(nil) error = nil")
	}
}

func TestQStashSinkPublishes(t *testing.T) {
	t.Parallel()

	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		_, _ = w.Write([]byte(`{"messageId":"msg_1"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := qstashx.NewClient(qstashx.Config{
		URL:         srv.URL,
		Token:       "token",
		Destination: "https://harness.example.com/telemetry/log_event",
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	sink, err := NewQStashSink(client)
	if err != nil {
		t.Fatalf("NewQStashSink() error = %v", err)
	}
	if err := sink.Emit(context.Background(), testEvent(EventAgentFinalResponse)); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if !strings.HasPrefix(gotPath, "/v2/publish/") {
		t.Fatalf("path = %q", gotPath)
	}
	if !strings.Contains(gotBody, `"event_type":"AGENT_FINAL_RESPONSE"`) {
		t.Fatalf("body = %s", gotBody)
	}
}

type errSink struct{ err error }

func (s errSink) Emit(context.Context, Event) error { return s.err }

func TestMultiJoinsErrors(t *testing.T) {
	t.Parallel()

	first := errors.New("first")
	pub := &fakePublisher{}
	nsink, err := NewNATSSink(pub, "")
	if err != nil {
		t.Fatalf("NewNATSSink() error = %v", err)
	}
	m := Multi{errSink{err: first}, nil, nsink, Nop{}}

	err = m.Emit(context.Background(), testEvent(EventUserQueryReceived))
	if !errors.Is(err, first) {
		t.Fatalf("Emit() error = %v, want first", err)
	}
	if len(pub.subjects) != 1 {
		t.Fatalf("later sinks not reached: %v", pub.subjects)
	}
}
