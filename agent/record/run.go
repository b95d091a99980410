package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
)

var (
	ErrRunNotFound = errors.New("experiment run not found")
	ErrNilRun      = errors.New("experiment run is nil")
	ErrInvalidRun  = errors.New("experiment run id is empty")
)

// RunConfig is the configuration snapshot stored with every run.
type RunConfig struct {
	Seed                        contractx.SeedConfig `json:"seed"`
	Reseed                      bool                 `json:"reseed"`
	ConversationsPerPermutation int                  `json:"conversations_per_permutation"`
	MinTurns                    int                  `json:"min_turns"`
	MaxTurns                    int                  `json:"max_turns"`
	MaxToolCallsPerTurn         int                  `json:"max_tool_calls_per_turn"`
	TurnDelay                   time.Duration        `json:"turn_delay"`
	MaxDuration                 time.Duration        `json:"max_duration,omitempty"`
	AgentTimeout                time.Duration        `json:"agent_timeout"`
	ToolTimeout                 time.Duration        `json:"tool_timeout"`
	Parallelism                 int                  `json:"parallelism"`
	ReferenceDate               string               `json:"reference_date"`
	Variants                    []string             `json:"variants"`
	Personas                    []string             `json:"personas"`
}

type ExperimentRun struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Config        RunConfig              `json:"config"`
	SeedSummary   *contractx.SeedSummary `json:"seed_summary,omitempty"`
	Conversations []*ConversationRecord  `json:"conversations"`
	Partial       bool                   `json:"partial"`
	StartedAt     time.Time              `json:"started_at"`
	EndedAt       time.Time              `json:"ended_at,omitempty"`
}

func NewExperimentRun(id, name string, cfg RunConfig, now time.Time) *ExperimentRun {
	return &ExperimentRun{
		ID:            id,
		Name:          name,
		Config:        cfg,
		Conversations: make([]*ConversationRecord, 0),
		StartedAt:     now.UTC(),
	}
}

// Finish sorts conversations by permutation and repeat and stamps the end time.
func (r *ExperimentRun) Finish(partial bool, now time.Time) {
	sort.SliceStable(r.Conversations, func(i, j int) bool {
		a, b := r.Conversations[i], r.Conversations[j]
		if a.Variant != b.Variant {
			return a.Variant < b.Variant
		}
		if a.Persona != b.Persona {
			return a.Persona < b.Persona
		}
		if a.Repeat != b.Repeat {
			return a.Repeat < b.Repeat
		}
		return a.ConversationID < b.ConversationID
	})
	r.Partial = partial
	r.EndedAt = now.UTC()
}

/* ------------------------------ Run stores ------------------------------ */

// RunStore persists finished experiment runs.
type RunStore interface {
	Save(ctx context.Context, run *ExperimentRun) error
	Load(ctx context.Context, runID string) (*ExperimentRun, error)
}

// FileStore writes one indented JSON document per run into a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

func (s *FileStore) Save(_ context.Context, run *ExperimentRun) error {
	if run == nil {
		return ErrNilRun
	}
	if strings.TrimSpace(run.ID) == "" {
		return ErrInvalidRun
	}

	payload, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal experiment run: %w", err)
	}

	// Write then rename so readers never observe a half-written file.
	tmp, err := os.CreateTemp(s.dir, run.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write experiment run: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.Path(run.ID))
}

func (s *FileStore) Load(_ context.Context, runID string) (*ExperimentRun, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, ErrInvalidRun
	}
	return LoadFile(s.Path(runID))
}

// LoadFile reads a run document written by FileStore.
func LoadFile(path string) (*ExperimentRun, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, path)
		}
		return nil, err
	}
	var run ExperimentRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("decode experiment run: %w", err)
	}
	return &run, nil
}

// MultiStore saves to every store and loads from the first that has the run.
type MultiStore []RunStore

func (m MultiStore) Save(ctx context.Context, run *ExperimentRun) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiStore) Load(ctx context.Context, runID string) (*ExperimentRun, error) {
	for _, s := range m {
		run, err := s.Load(ctx, runID)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, ErrRunNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}
