package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestUpstashRunStoreRedisKey(t *testing.T) {
	t.Parallel()

	store := &UpstashRunStore{keyPrefix: defaultStoreKeyPrefix}
	got, err := store.redisKey("run-1")
	if err != nil {
		t.Fatalf("redisKey() error = %v", err)
	}
	if got != "harness:run:run-1" {
		t.Fatalf("redisKey() = %q, want %q", got, "harness:run:run-1")
	}

	if _, err := store.redisKey("   "); !errors.Is(err, ErrInvalidRun) {
		t.Fatalf("redisKey() error = %v, want ErrInvalidRun", err)
	}
}

func TestUpstashRunStoreSave(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Errorf("decode command: %v", err)
		}
		fmt.Fprint(w, `{"result":"OK"}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRunStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		WithHTTPClient(server.Client()),
		WithKeyPrefix("exp:"),
		WithTTL(90*time.Minute),
	)
	if err != nil {
		t.Fatalf("NewUpstashRunStore() error = %v", err)
	}

	run := NewExperimentRun("run-7", "smoke", RunConfig{MaxTurns: 6}, time.Now())
	if err := store.Save(context.Background(), run); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if gotAuth != "Bearer token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if len(gotCommand) != 5 {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
	if gotCommand[0] != "SET" || gotCommand[1] != "exp:run-7" || gotCommand[3] != "EX" {
		t.Fatalf("command = %#v", gotCommand[:4])
	}
	if gotCommand[4] != float64(5400) {
		t.Fatalf("ttl = %v, want 5400", gotCommand[4])
	}
}

func TestUpstashRunStoreLoad(t *testing.T) {
	t.Parallel()

	run := NewExperimentRun("run-8", "smoke", RunConfig{}, time.Now())
	conv := NewConversationRecord("conv-1", "baseline", "polite", 0, testOrder(), "2023-10-12", time.Now())
	conv.Seal(ReasonMaxTurns, nil, time.Now())
	run.Conversations = append(run.Conversations, conv)

	payload, err := json.Marshal(run)
	if err != nil {
		t.Fatalf("marshal run: %v", err)
	}
	encoded, err := json.Marshal(string(payload))
	if err != nil {
		t.Fatalf("marshal encoded run: %v", err)
	}

	var gotCommand []any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Errorf("decode command: %v", err)
		}
		if gotCommand[1] == "harness:run:missing" {
			fmt.Fprint(w, `{"result":null}`)
			return
		}
		fmt.Fprintf(w, `{"result":%s}`, encoded)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRunStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRunStore() error = %v", err)
	}

	got, err := store.Load(context.Background(), "run-8")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ID != "run-8" || len(got.Conversations) != 1 || got.Conversations[0].TerminationReason != ReasonMaxTurns {
		t.Fatalf("Load() = %+v", got)
	}
	if gotCommand[0] != "GET" {
		t.Fatalf("command[0] = %v, want GET", gotCommand[0])
	}

	if _, err := store.Load(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Load(missing) error = %v, want ErrRunNotFound", err)
	}
}

func TestUpstashRunStoreRedisError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"WRONGPASS invalid token"}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRunStore(UpstashRedisConfig{URL: server.URL, Token: "bad"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRunStore() error = %v", err)
	}
	err = store.Save(context.Background(), NewExperimentRun("run-9", "", RunConfig{}, time.Now()))
	if err == nil || err.Error() != "WRONGPASS invalid token" {
		t.Fatalf("Save() error = %v", err)
	}
}

func TestNewUpstashRunStoreValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewUpstashRunStore(UpstashRedisConfig{URL: "", Token: "t"}); err == nil {
		t.Fatal("NewUpstashRunStore() error = nil for empty url")
	}
	if _, err := NewUpstashRunStore(UpstashRedisConfig{URL: "https://redis.test", Token: " "}); err == nil {
		t.Fatal("NewUpstashRunStore() error = nil for empty token")
	}
	if _, err := NewUpstashRunStore(UpstashRedisConfig{URL: "https://redis.test", Token: "t"}, WithTTL(-time.Second)); err == nil {
		t.Fatal("NewUpstashRunStore() error = nil for negative ttl")
	}
}
