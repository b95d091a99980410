package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
)

func newTestHTTPStore(t *testing.T, handler http.HandlerFunc) *HTTPStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := NewHTTPStore(HTTPStoreConfig{URL: server.URL + "/"}, WithHTTPClient(server.Client()), WithToken("tok"))
	if err != nil {
		t.Fatalf("NewHTTPStore() error = %v", err)
	}
	return store
}

func TestNewHTTPStoreValidatesURL(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPStore(HTTPStoreConfig{URL: " "}); err == nil {
		t.Fatal("NewHTTPStore() error = nil for empty url")
	}
	if _, err := NewHTTPStore(HTTPStoreConfig{URL: "::bad"}); err == nil {
		t.Fatal("NewHTTPStore() error = nil for invalid url")
	}
}

func TestHTTPStoreGet(t *testing.T) {
	t.Parallel()

	store := newTestHTTPStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		switch r.URL.Path {
		case "/orders/A1":
			_ = json.NewEncoder(w).Encode(contractx.OrderSnapshot{OrderID: "A1", Status: contractx.StatusPending})
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"order not found"}`)
		}
	})

	snap, err := store.Get(context.Background(), "A1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.OrderID != "A1" || snap.Status != contractx.StatusPending {
		t.Fatalf("Get() = %+v", snap)
	}

	if _, err := store.Get(context.Background(), "B2"); !errors.Is(err, contractx.ErrNotFound) {
		t.Fatalf("Get(B2) error = %v, want ErrNotFound", err)
	}
}

func TestHTTPStoreCancel(t *testing.T) {
	t.Parallel()

	store := newTestHTTPStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		switch r.URL.Path {
		case "/orders/OK1/cancel":
			if body["cancellation_reason"] != "too slow" {
				t.Errorf("reason = %q", body["cancellation_reason"])
			}
			_ = json.NewEncoder(w).Encode(contractx.CancelOutcome{Success: true, Message: "cancelled"})
		case "/orders/DONE/cancel":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(contractx.CancelOutcome{Success: false, Message: "already delivered"})
		case "/orders/BOOM/cancel":
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"message":"db down"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"order not found"}`)
		}
	})

	ctx := context.Background()
	outcome, err := store.Cancel(ctx, "OK1", "too slow")
	if err != nil || !outcome.Success {
		t.Fatalf("Cancel(OK1) = %+v, %v", outcome, err)
	}

	outcome, err = store.Cancel(ctx, "DONE", "")
	if !errors.Is(err, contractx.ErrAlreadyTerminal) || outcome.Message != "already delivered" {
		t.Fatalf("Cancel(DONE) = %+v, %v", outcome, err)
	}

	if _, err := store.Cancel(ctx, "GONE", ""); !errors.Is(err, contractx.ErrNotFound) {
		t.Fatalf("Cancel(GONE) error = %v, want ErrNotFound", err)
	}

	_, err = store.Cancel(ctx, "BOOM", "")
	if err == nil || errors.Is(err, contractx.ErrNotFound) || errors.Is(err, contractx.ErrAlreadyTerminal) {
		t.Fatalf("Cancel(BOOM) error = %v, want transport error", err)
	}
}

func TestHTTPStoreSeedAndList(t *testing.T) {
	t.Parallel()

	var gotSeed contractx.SeedConfig
	store := newTestHTTPStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dev/reseed":
			_ = json.NewDecoder(r.Body).Decode(&gotSeed)
			_ = json.NewEncoder(w).Encode(contractx.SeedSummary{Orders: 3, Customers: 1, Seed: gotSeed.Seed})
		case "/dev/orders":
			_ = json.NewEncoder(w).Encode([]contractx.OrderSnapshot{{OrderID: "A"}, {OrderID: "B"}})
		}
	})

	summary, err := store.Seed(context.Background(), contractx.SeedConfig{Seed: 42, ReferenceDate: "2023-10-01"})
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if summary.Seed != 42 || gotSeed.ReferenceDate != "2023-10-01" {
		t.Fatalf("Seed() summary=%+v request=%+v", summary, gotSeed)
	}

	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List() len = %d", len(list))
	}
}

func TestHTTPStoreSeedFailure(t *testing.T) {
	t.Parallel()

	store := newTestHTTPStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"invalid configuration"}`)
	})

	if _, err := store.Seed(context.Background(), contractx.SeedConfig{}); !errors.Is(err, contractx.ErrSeedingFailure) {
		t.Fatalf("Seed() error = %v, want ErrSeedingFailure", err)
	}
}
