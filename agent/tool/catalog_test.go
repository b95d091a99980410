package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	statex "github.com/tanpawarit/Chative-Policy-Harness/agent/state"
)

func newTestStore(t *testing.T) *statex.MemoryStore {
	t.Helper()

	store := statex.NewMemoryStore()
	store.Load(statex.Dataset{
		Customers: []contractx.Customer{{ID: "CUST-0001", Name: "Ada", IsPremium: true}},
		Orders: []contractx.Order{
			{ID: "OPEN0001", OrderDate: "2023-10-01", Status: contractx.StatusPending, CustomerID: "CUST-0001"},
			{ID: "DONE0001", OrderDate: "2023-10-01", Status: contractx.StatusDelivered, CustomerID: "CUST-0001"},
		},
	})
	return store
}

func TestInfos(t *testing.T) {
	t.Parallel()

	infos := Infos()
	if len(infos) != 2 {
		t.Fatalf("expected 2 tool infos, got %d", len(infos))
	}
	if infos[0].Name != contractx.ToolOrderTracker {
		t.Fatalf("unexpected first tool: %s", infos[0].Name)
	}
	if infos[1].Name != contractx.ToolOrderCanceller {
		t.Fatalf("unexpected second tool: %s", infos[1].Name)
	}
	if !Known("order_tracker") || Known("math.evaluate") {
		t.Fatal("Known() disagrees with Infos()")
	}
}

func TestGatewayTrackOrder(t *testing.T) {
	t.Parallel()

	gw, err := NewGateway(newTestStore(t))
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}

	res, err := gw.Execute(context.Background(), contractx.ToolCall{ID: "c1", Tool: contractx.ToolOrderTracker, Args: map[string]any{"order_id": "open0001"}})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success || res.CallID != "c1" || res.OrderID != "OPEN0001" {
		t.Fatalf("unexpected result: %+v", res)
	}
	snap, ok := res.Result.(contractx.OrderSnapshot)
	if !ok || !snap.CustomerIsPremium {
		t.Fatalf("unexpected result payload: %#v", res.Result)
	}
}

func TestGatewayTrackUnknownOrderIsContent(t *testing.T) {
	t.Parallel()

	gw, err := NewGateway(newTestStore(t))
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}

	res, err := gw.Execute(context.Background(), contractx.ToolCall{Tool: contractx.ToolOrderTracker, Args: map[string]any{"order_id": "UNKNOWN"}})
	if err != nil {
		t.Fatalf("Execute() error = %v, want result content", err)
	}
	if res.Success || res.Error == "" {
		t.Fatalf("expected not-found content, got %+v", res)
	}
}

func TestGatewayCancel(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	gw, err := NewGateway(store)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}

	call := contractx.ToolCall{Tool: contractx.ToolOrderCanceller, Args: map[string]any{"order_id": "OPEN0001", "reason": "changed mind"}}
	res, err := gw.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	again, err := gw.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("Execute() second error = %v", err)
	}
	if again.Success || again.Error == "" {
		t.Fatalf("expected already-terminal content, got %+v", again)
	}

	snap, err := store.Get(context.Background(), "OPEN0001")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Status != contractx.StatusCancelled || snap.CancellationReason != "changed mind" {
		t.Fatalf("unexpected order after cancel: %+v", snap)
	}

	delivered, err := gw.Execute(context.Background(), contractx.ToolCall{Tool: contractx.ToolOrderCanceller, Args: map[string]any{"order_id": "DONE0001"}})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if delivered.Success {
		t.Fatalf("delivered order must not be cancelled: %+v", delivered)
	}
}

func TestGatewayArgumentAndToolErrors(t *testing.T) {
	t.Parallel()

	gw, err := NewGateway(newTestStore(t))
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}

	tests := []contractx.ToolCall{
		{Tool: contractx.ToolOrderTracker},
		{Tool: contractx.ToolOrderCanceller, Args: map[string]any{"order_id": 42}},
		{Tool: "refund_issuer", Args: map[string]any{"order_id": "OPEN0001"}},
	}
	for _, call := range tests {
		res, err := gw.Execute(context.Background(), call)
		if err != nil {
			t.Fatalf("Execute(%s) error = %v", call.Tool, err)
		}
		if res.Success || res.Error == "" {
			t.Fatalf("Execute(%s) expected error content, got %+v", call.Tool, res)
		}
	}
}

type slowStore struct {
	statex.MemoryStore
}

func (s *slowStore) Get(ctx context.Context, _ string) (contractx.OrderSnapshot, error) {
	<-ctx.Done()
	return contractx.OrderSnapshot{}, ctx.Err()
}

func TestGatewayTimeout(t *testing.T) {
	t.Parallel()

	gw, err := NewGateway(&slowStore{}, WithTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}

	_, err = gw.Execute(context.Background(), contractx.ToolCall{Tool: contractx.ToolOrderTracker, Args: map[string]any{"order_id": "OPEN0001"}})
	if !errors.Is(err, contractx.ErrToolTimeout) {
		t.Fatalf("Execute() error = %v, want ErrToolTimeout", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = gw.Execute(ctx, contractx.ToolCall{Tool: contractx.ToolOrderTracker, Args: map[string]any{"order_id": "OPEN0001"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
}

func TestNewGatewayRequiresStore(t *testing.T) {
	t.Parallel()

	if _, err := NewGateway(nil); err == nil {
		t.Fatal("NewGateway(nil) error = nil")
	}
}
