package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	nodex "github.com/tanpawarit/Chative-Policy-Harness/agent/nodes"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/record"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/telemetry"
	metricsx "github.com/tanpawarit/Chative-Policy-Harness/pkg/metrics"
)

const (
	DefaultMinTurns            = 2
	DefaultMaxTurns            = 8
	DefaultMaxToolCallsPerTurn = 4
	DefaultAgentTimeout        = 60 * time.Second
	DefaultGreeting            = "Hello! I'm the order assistant. How can I help you with your order today?"
)

type Config struct {
	MinTurns            int           `mapstructure:"min_turns"`
	MaxTurns            int           `mapstructure:"max_turns"`
	MaxToolCallsPerTurn int           `mapstructure:"max_tool_calls_per_turn"`
	TurnDelay           time.Duration `mapstructure:"turn_delay"`
	MaxDuration         time.Duration `mapstructure:"max_duration"`
	AgentTimeout        time.Duration `mapstructure:"agent_timeout"`
	Greeting            string        `mapstructure:"greeting"`
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.MinTurns <= 0 {
		c.MinTurns = min(DefaultMinTurns, c.MaxTurns)
	}
	if c.MaxToolCallsPerTurn <= 0 {
		c.MaxToolCallsPerTurn = DefaultMaxToolCallsPerTurn
	}
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = DefaultAgentTimeout
	}
	if strings.TrimSpace(c.Greeting) == "" {
		c.Greeting = DefaultGreeting
	}
	return c
}

func (c Config) Validate() error {
	if c.MinTurns > c.MaxTurns {
		return fmt.Errorf("%w: min_turns %d exceeds max_turns %d", contractx.ErrInvalidConfig, c.MinTurns, c.MaxTurns)
	}
	if c.TurnDelay < 0 || c.MaxDuration < 0 {
		return fmt.Errorf("%w: negative pacing duration", contractx.ErrInvalidConfig)
	}
	return nil
}

// Conversation binds the participants of one simulated conversation.
type Conversation struct {
	ID            string
	RunID         string
	Variant       string
	Repeat        int
	Order         contractx.OrderSnapshot
	ReferenceDate string
	Agent         contractx.Responder
	Customer      contractx.CustomerAgent
}

func (c Conversation) validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return record.ErrEmptyConversation
	}
	if c.Agent == nil {
		return errors.New("order agent is required")
	}
	if c.Customer == nil {
		return errors.New("customer agent is required")
	}
	return nil
}

type Option func(*Orchestrator)

func WithSink(sink telemetry.Sink) Option {
	return func(o *Orchestrator) {
		if sink != nil {
			o.sink = sink
		}
	}
}

func WithMetrics(m *metricsx.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator drives conversations between a customer agent and the order
// agent under test. One Orchestrator may run many conversations concurrently;
// each Run owns its record exclusively.
type Orchestrator struct {
	tools   contractx.ToolGateway
	sink    telemetry.Sink
	metrics *metricsx.Metrics
	logger  zerolog.Logger

	stepRunner compose.Runnable[nodex.StepInput, nodex.StepOutput]

	cfg Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(tools contractx.ToolGateway, cfg Config, opts ...Option) (*Orchestrator, error) {
	if tools == nil {
		return nil, errors.New("tool gateway is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		tools:  tools,
		sink:   telemetry.Nop{},
		logger: log.Logger,
		cfg:    cfg,
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}

	stepRunner, err := o.compileStepGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.stepRunner = stepRunner

	return o, nil
}

func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Run plays one conversation to termination and returns its sealed record.
// Cancelling ctx stops the conversation at the next turn boundary; calls
// already in flight finish under their own timeouts.
func (o *Orchestrator) Run(ctx context.Context, conv Conversation) (*record.ConversationRecord, error) {
	if err := conv.validate(); err != nil {
		return nil, err
	}

	started := o.now()
	rec := record.NewConversationRecord(conv.ID, conv.Variant, conv.Customer.Persona(), conv.Repeat, conv.Order, conv.ReferenceDate, started)
	logger := o.logger.With().
		Str("conversation_id", conv.ID).
		Str("variant", conv.Variant).
		Str("persona", rec.Persona).
		Str("order_id", conv.Order.OrderID).
		Logger()

	_ = rec.Append(record.Turn{
		Index:   0,
		Actor:   contractx.ActorOrderAgent,
		Kind:    record.KindGreeting,
		RawText: o.cfg.Greeting,
		At:      started.UTC(),
	})

	// In-flight calls are detached from ctx cancellation.
	callCtx := context.WithoutCancel(ctx)

	for turn := 1; ; turn++ {
		if ctx.Err() != nil {
			o.seal(rec, record.ReasonCancelled, ctx.Err(), logger)
			break
		}
		if o.cfg.MaxDuration > 0 && o.now().Sub(started) >= o.cfg.MaxDuration {
			o.seal(rec, record.ReasonTimeBudget, nil, logger)
			break
		}

		utt, err := o.customerTurn(callCtx, rec, conv, turn)
		if err != nil {
			o.failTurn(callCtx, rec, conv, turn, 0, contractx.ActorCustomer, err, logger)
			break
		}
		if utt.EndConversation {
			o.seal(rec, record.ReasonCustomerEnded, nil, logger)
			break
		}

		obs, err := o.agentTurn(callCtx, rec, conv, turn, logger)
		if err != nil {
			o.failTurn(callCtx, rec, conv, turn, -1, contractx.ActorOrderAgent, err, logger)
			break
		}

		if conv.Customer.GoalAchieved(obs) {
			o.seal(rec, record.ReasonGoalAchieved, nil, logger)
			break
		}
		if turn >= o.cfg.MaxTurns {
			o.seal(rec, record.ReasonMaxTurns, nil, logger)
			break
		}
		if o.cfg.TurnDelay > 0 {
			if err := o.sleep(ctx, o.cfg.TurnDelay); err != nil {
				o.seal(rec, record.ReasonCancelled, err, logger)
				break
			}
		}
	}

	if o.metrics != nil {
		o.metrics.ConversationsTotal.WithLabelValues(string(rec.TerminationReason)).Inc()
	}
	return rec, nil
}

func (o *Orchestrator) customerTurn(ctx context.Context, rec *record.ConversationRecord, conv Conversation, turn int) (contractx.Utterance, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
	defer cancel()

	began := o.now()
	utt, err := conv.Customer.Respond(callCtx, rec.CustomerHistory())
	o.observeStep(contractx.ActorCustomer, o.now().Sub(began))
	if err != nil {
		if !errors.Is(err, contractx.ErrAgentCallFailure) {
			err = fmt.Errorf("%w: %v", contractx.ErrAgentCallFailure, err)
		}
		return contractx.Utterance{}, err
	}

	if err := rec.Append(record.Turn{
		Index:   turn,
		Actor:   contractx.ActorCustomer,
		Kind:    record.KindUtterance,
		RawText: utt.Text,
		At:      o.now().UTC(),
	}); err != nil {
		return contractx.Utterance{}, err
	}
	o.emit(ctx, conv, telemetry.Event{
		EventType: telemetry.EventUserQueryReceived,
		Turn:      turn,
		Message:   utt.Text,
	})

	if utt.EndConversation {
		return utt, nil
	}
	return utt, rec.Transition(record.StateAwaitingAgentTurn)
}

// agentTurn runs agent steps until the agent answers the customer, the tool
// budget runs out, or a step fails.
func (o *Orchestrator) agentTurn(ctx context.Context, rec *record.ConversationRecord, conv Conversation, turn int, logger zerolog.Logger) (contractx.Observation, error) {
	var obs contractx.Observation
	toolCalls := 0

	for step := 0; ; step++ {
		out, err := o.stepRunner.Invoke(ctx, nodex.StepInput{
			Record:       rec,
			Responder:    conv.Agent,
			Turn:         turn,
			Step:         step,
			ToolCalls:    toolCalls,
			MaxToolCalls: o.cfg.MaxToolCallsPerTurn,
			AgentTimeout: o.cfg.AgentTimeout,
		})
		if err != nil {
			return obs, fmt.Errorf("agent step %d.%d: %w", turn, step, err)
		}
		o.observeStep(contractx.ActorOrderAgent, out.Elapsed)

		if out.Turn.Kind != "" {
			if err := rec.Append(out.Turn); err != nil {
				return obs, err
			}
			o.recordStep(ctx, conv, out.Turn)
		}
		if out.Failure != nil {
			return obs, out.Failure
		}

		if out.Turn.ToolCall != nil {
			if out.Turn.ToolResult != nil {
				obs.ToolResults = append(obs.ToolResults, *out.Turn.ToolResult)
			}
			if err := rec.Transition(record.StateAwaitingAgentTurn); err != nil {
				return obs, err
			}
			if out.Continue {
				toolCalls++
				continue
			}
			logger.Warn().Int("turn", turn).Int("tool_calls", toolCalls).Msg("tool budget exhausted")
		} else {
			obs.AgentReply = out.Turn.Narrative
			if obs.AgentReply == "" {
				obs.AgentReply = out.Turn.RawText
			}
		}
		return obs, rec.Transition(record.StateAwaitingCustomerTurn)
	}
}

func (o *Orchestrator) recordStep(ctx context.Context, conv Conversation, t record.Turn) {
	o.emit(ctx, conv, telemetry.Event{
		EventType:       telemetry.EventAgentDecisionIntent,
		Turn:            t.Index,
		Step:            t.Step,
		TelemetryStatus: t.TelemetryStatus,
		Payload:         t.Telemetry,
		Violations:      t.Violations,
		Error:           t.TelemetryError,
	})

	if o.metrics != nil {
		for _, v := range t.Violations {
			o.metrics.ProtocolViolations.WithLabelValues(v.Code).Inc()
		}
		if t.TelemetryStatus == contractx.TelemetryMalformed {
			o.metrics.TelemetryParseErrors.Inc()
		}
	}

	switch {
	case t.ToolCall != nil && t.ToolResult != nil:
		o.emit(ctx, conv, telemetry.Event{
			EventType:  telemetry.EventAgentToolExecuted,
			Turn:       t.Index,
			Step:       t.Step,
			ToolCall:   t.ToolCall,
			ToolResult: t.ToolResult,
		})
		if o.metrics != nil {
			outcome := "success"
			if !t.ToolResult.Success {
				outcome = "error"
			}
			o.metrics.ToolCallsTotal.WithLabelValues(t.ToolCall.Tool, outcome).Inc()
		}
	case t.ToolCall == nil:
		o.emit(ctx, conv, telemetry.Event{
			EventType: telemetry.EventAgentFinalResponse,
			Turn:      t.Index,
			Step:      t.Step,
			Message:   t.Narrative,
		})
	}
}

func (o *Orchestrator) failTurn(ctx context.Context, rec *record.ConversationRecord, conv Conversation, turn, step int, actor contractx.Actor, cause error, logger zerolog.Logger) {
	if step < 0 {
		step = 0
		for _, t := range rec.Turns {
			if t.Index == turn && t.Actor == contractx.ActorOrderAgent {
				step = t.Step + 1
			}
		}
	}
	_ = rec.Append(record.Turn{
		Index:   turn,
		Step:    step,
		Actor:   actor,
		Kind:    record.KindTurnFailed,
		Failure: cause.Error(),
		At:      o.now().UTC(),
	})
	o.emit(ctx, conv, telemetry.Event{
		EventType: telemetry.EventTurnFailed,
		Turn:      turn,
		Step:      step,
		Error:     cause.Error(),
	})
	if o.metrics != nil && errors.Is(cause, contractx.ErrToolTimeout) {
		o.metrics.ToolCallsTotal.WithLabelValues(lastTool(rec), "timeout").Inc()
	}
	o.seal(rec, record.ReasonTurnFailed, cause, logger)
}

func (o *Orchestrator) seal(rec *record.ConversationRecord, reason record.TerminationReason, cause error, logger zerolog.Logger) {
	rec.Seal(reason, cause, o.now())

	entry := logger.Info()
	if cause != nil && reason == record.ReasonTurnFailed {
		entry = logger.Warn().Err(cause)
	}
	entry.
		Str("reason", string(reason)).
		Int("turns", len(rec.Turns)).
		Int("violations", rec.ViolationCount()).
		Msg("conversation finished")
}

func (o *Orchestrator) emit(ctx context.Context, conv Conversation, ev telemetry.Event) {
	ev.RunID = conv.RunID
	ev.ConversationID = conv.ID
	ev.Variant = conv.Variant
	ev.Persona = conv.Customer.Persona()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = o.now().UTC()
	}
	if err := o.sink.Emit(ctx, ev); err != nil {
		o.logger.Warn().Err(err).
			Str("conversation_id", conv.ID).
			Str("event_type", string(ev.EventType)).
			Msg("telemetry sink failed")
	}
}

func (o *Orchestrator) observeStep(actor contractx.Actor, d time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.StepDuration.WithLabelValues(string(actor)).Observe(d.Seconds())
}

func lastTool(rec *record.ConversationRecord) string {
	for i := len(rec.Turns) - 1; i >= 0; i-- {
		if call := rec.Turns[i].ToolCall; call != nil {
			return call.Tool
		}
	}
	return "unknown"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
