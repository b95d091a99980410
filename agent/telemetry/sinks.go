package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	qstashx "github.com/tanpawarit/Chative-Policy-Harness/pkg/qstash"
)

/* --------------------------------- log ---------------------------------- */

type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, ev Event) error {
	entry := s.logger.Info()
	if ev.EventType == EventTurnFailed {
		entry = s.logger.Warn()
	}
	entry = entry.
		Str("event_type", string(ev.EventType)).
		Str("conversation_id", ev.ConversationID).
		Str("variant", ev.Variant).
		Str("persona", ev.Persona).
		Int("turn", ev.Turn).
		Int("step", ev.Step)
	if ev.TelemetryStatus != "" {
		entry = entry.Str("telemetry_status", string(ev.TelemetryStatus))
	}
	if ev.Payload != nil {
		entry = entry.
			Str("action", string(ev.Payload.ActionUnderConsideration)).
			Str("next_step", string(ev.Payload.IntendedNextStep))
	}
	if ev.ToolCall != nil {
		entry = entry.Str("tool", ev.ToolCall.Tool)
	}
	if ev.ToolResult != nil {
		entry = entry.Bool("tool_success", ev.ToolResult.Success)
	}
	if n := len(ev.Violations); n > 0 {
		entry = entry.Int("violations", n)
	}
	if ev.Error != "" {
		entry = entry.Str("error", ev.Error)
	}
	entry.Msg("telemetry event")
	return nil
}

/* --------------------------------- SQL ---------------------------------- */

type eventRow struct {
	bun.BaseModel `bun:"table:telemetry_events,alias:te"`

	ID             int64     `bun:"id,pk,autoincrement"`
	EventType      string    `bun:"event_type,notnull"`
	RunID          string    `bun:"run_id"`
	ConversationID string    `bun:"conversation_id,notnull"`
	Variant        string    `bun:"variant"`
	Persona        string    `bun:"persona"`
	Turn           int       `bun:"turn,notnull"`
	Step           int       `bun:"step,notnull"`
	Body           string    `bun:"body,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

// SQLSink appends events to the telemetry_events table.
type SQLSink struct {
	db *bun.DB
}

func NewSQLSink(db *bun.DB) (*SQLSink, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	return &SQLSink{db: db}, nil
}

func (s *SQLSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*eventRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create telemetry_events: %w", err)
	}
	return nil
}

func (s *SQLSink) Emit(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	row := &eventRow{
		EventType:      string(ev.EventType),
		RunID:          ev.RunID,
		ConversationID: ev.ConversationID,
		Variant:        ev.Variant,
		Persona:        ev.Persona,
		Turn:           ev.Turn,
		Step:           ev.Step,
		Body:           string(body),
		CreatedAt:      ev.Timestamp.UTC(),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("insert telemetry event: %w", err)
	}
	return nil
}

// Conversation returns the events of one conversation in insertion order.
func (s *SQLSink) Conversation(ctx context.Context, conversationID string) ([]Event, error) {
	var rows []eventRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("conversation_id = ?", conversationID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select telemetry events: %w", err)
	}

	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		var ev Event
		if err := json.Unmarshal([]byte(row.Body), &ev); err != nil {
			return nil, fmt.Errorf("decode telemetry event %d: %w", row.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

/* --------------------------------- NATS --------------------------------- */

const DefaultSubjectPrefix = "harness.telemetry"

type NATSConfig struct {
	URL           string        `split_words:"true" default:"nats://127.0.0.1:4222"`
	SubjectPrefix string        `split_words:"true" default:"harness.telemetry"`
	Timeout       time.Duration `split_words:"true" default:"5s"`
}

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type NATSSink struct {
	pub    Publisher
	prefix string
}

func NewNATSSink(pub Publisher, subjectPrefix string) (*NATSSink, error) {
	if pub == nil {
		return nil, errors.New("nats publisher is required")
	}
	prefix := strings.Trim(strings.TrimSpace(subjectPrefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: prefix}, nil
}

// DialNATS connects with reconnects enabled, named after the harness.
func DialNATS(cfg NATSConfig) (*nats.Conn, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("policy-harness"),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

func (s *NATSSink) Subject(t EventType) string {
	return s.prefix + "." + strings.ToLower(string(t))
}

func (s *NATSSink) Emit(_ context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.pub.Publish(s.Subject(ev.EventType), body); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

/* -------------------------------- QStash -------------------------------- */

type QStashPublisher interface {
	Publish(ctx context.Context, body any) (qstashx.PublishResponse, error)
}

// QStashSink forwards events through QStash to the configured destination,
// typically the mock backend's /telemetry/log_event route.
type QStashSink struct {
	client QStashPublisher
}

func NewQStashSink(client QStashPublisher) (*QStashSink, error) {
	if client == nil {
		return nil, errors.New("qstash client is required")
	}
	return &QStashSink{client: client}, nil
}

func (s *QStashSink) Emit(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if _, err := s.client.Publish(ctx, ev); err != nil {
		return fmt.Errorf("qstash publish: %w", err)
	}
	return nil
}
