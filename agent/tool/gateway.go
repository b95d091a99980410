package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
)

const DefaultTimeout = 10 * time.Second

// Executor runs one tool against the order store.
type Executor func(ctx context.Context, args map[string]any) (contractx.ToolResult, error)

type Option func(*Gateway)

func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// Gateway exposes order_tracker and order_canceller over an OrderStore.
// Domain failures (unknown order, terminal status, bad arguments) come back
// as result content. Only timeouts and cancellation are Go errors.
type Gateway struct {
	store     contractx.OrderStore
	executors map[string]Executor
	timeout   time.Duration
	logger    zerolog.Logger
}

var _ contractx.ToolGateway = (*Gateway)(nil)

func NewGateway(store contractx.OrderStore, opts ...Option) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("order store is required")
	}
	g := &Gateway{
		store:   store,
		timeout: DefaultTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.executors = map[string]Executor{
		contractx.ToolOrderTracker:   g.trackOrder,
		contractx.ToolOrderCanceller: g.cancelOrder,
	}
	return g, nil
}

func (g *Gateway) Execute(ctx context.Context, call contractx.ToolCall) (contractx.ToolResult, error) {
	exec, ok := g.executors[call.Tool]
	if !ok {
		return contractx.ToolResult{
			Tool:   call.Tool,
			CallID: call.ID,
			Error:  fmt.Sprintf("%v: %q", contractx.ErrUnknownTool, call.Tool),
		}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	res, err := exec(callCtx, call.Args)
	res.Tool = call.Tool
	res.CallID = call.ID
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return res, fmt.Errorf("%w: %s after %s", contractx.ErrToolTimeout, call.Tool, g.timeout)
		}
		return res, err
	}

	g.logger.Debug().
		Str("tool", call.Tool).
		Str("order_id", res.OrderID).
		Bool("success", res.Success).
		Dur("elapsed", time.Since(start)).
		Msg("tool executed")
	return res, nil
}

func (g *Gateway) trackOrder(ctx context.Context, args map[string]any) (contractx.ToolResult, error) {
	orderID, ok := stringArg(args, "order_id")
	if !ok {
		return contractx.ToolResult{Error: "order_id is required"}, nil
	}

	snap, err := g.store.Get(ctx, orderID)
	switch {
	case err == nil:
		return contractx.ToolResult{OrderID: snap.OrderID, Success: true, Result: snap}, nil
	case errors.Is(err, contractx.ErrNotFound):
		return contractx.ToolResult{OrderID: orderID, Error: fmt.Sprintf("order %s not found", orderID)}, nil
	default:
		return contractx.ToolResult{OrderID: orderID}, err
	}
}

func (g *Gateway) cancelOrder(ctx context.Context, args map[string]any) (contractx.ToolResult, error) {
	orderID, ok := stringArg(args, "order_id")
	if !ok {
		return contractx.ToolResult{Error: "order_id is required"}, nil
	}
	reason, _ := stringArg(args, "reason")

	outcome, err := g.store.Cancel(ctx, orderID, reason)
	switch {
	case err == nil:
		return contractx.ToolResult{OrderID: outcome.Order.OrderID, Success: true, Result: outcome}, nil
	case errors.Is(err, contractx.ErrNotFound):
		return contractx.ToolResult{
			OrderID: orderID,
			Result:  contractx.CancelOutcome{Success: false, Message: fmt.Sprintf("order %s not found", orderID)},
			Error:   fmt.Sprintf("order %s not found", orderID),
		}, nil
	case errors.Is(err, contractx.ErrAlreadyTerminal):
		if outcome.Message == "" {
			outcome.Message = err.Error()
		}
		return contractx.ToolResult{OrderID: orderID, Result: outcome, Error: outcome.Message}, nil
	default:
		return contractx.ToolResult{OrderID: orderID}, err
	}
}

func stringArg(args map[string]any, key string) (string, bool) {
	raw, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
