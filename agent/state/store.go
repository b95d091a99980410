package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
)

var _ contractx.OrderStore = (*HTTPStore)(nil)

const maxResponseSizeBytes = 2 << 20

// StoreOption customizes HTTPStore.
type StoreOption func(*HTTPStore)

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *HTTPStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

func WithToken(token string) StoreOption {
	return func(s *HTTPStore) {
		s.token = strings.TrimSpace(token)
	}
}

type HTTPStoreConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// HTTPStore talks to the mock order backend over REST.
type HTTPStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type errorBody struct {
	Message string `json:"message"`
}

func NewHTTPStore(cfg HTTPStoreConfig, opts ...StoreOption) (*HTTPStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("order backend url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid order backend url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &HTTPStore{
		baseURL: baseURL,
		token:   strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *HTTPStore) Seed(ctx context.Context, cfg contractx.SeedConfig) (contractx.SeedSummary, error) {
	var out contractx.SeedSummary
	status, raw, err := s.do(ctx, http.MethodPost, "/dev/reseed", cfg)
	if err != nil {
		return out, fmt.Errorf("%w: %w", contractx.ErrSeedingFailure, err)
	}
	if status != http.StatusOK {
		return out, fmt.Errorf("%w: backend status=%d: %s", contractx.ErrSeedingFailure, status, errorMessage(raw))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: decode seed summary: %w", contractx.ErrSeedingFailure, err)
	}
	return out, nil
}

func (s *HTTPStore) Get(ctx context.Context, orderID string) (contractx.OrderSnapshot, error) {
	var out contractx.OrderSnapshot
	id := strings.TrimSpace(orderID)
	if id == "" {
		return out, fmt.Errorf("%w: empty order id", contractx.ErrNotFound)
	}

	status, raw, err := s.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil)
	if err != nil {
		return out, err
	}
	switch status {
	case http.StatusOK:
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, fmt.Errorf("decode order: %w", err)
		}
		return out, nil
	case http.StatusNotFound:
		return out, fmt.Errorf("%w: %q", contractx.ErrNotFound, orderID)
	default:
		return out, fmt.Errorf("order backend status=%d: %s", status, errorMessage(raw))
	}
}

func (s *HTTPStore) Cancel(ctx context.Context, orderID, reason string) (contractx.CancelOutcome, error) {
	var out contractx.CancelOutcome
	id := strings.TrimSpace(orderID)
	if id == "" {
		return out, fmt.Errorf("%w: empty order id", contractx.ErrNotFound)
	}

	body := map[string]string{"cancellation_reason": reason}
	status, raw, err := s.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(id)+"/cancel", body)
	if err != nil {
		return out, err
	}
	switch status {
	case http.StatusOK:
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, fmt.Errorf("decode cancel outcome: %w", err)
		}
		return out, nil
	case http.StatusNotFound:
		out.Message = errorMessage(raw)
		return out, fmt.Errorf("%w: %q", contractx.ErrNotFound, orderID)
	case http.StatusConflict:
		if err := json.Unmarshal(raw, &out); err != nil {
			out.Message = errorMessage(raw)
		}
		return out, fmt.Errorf("%w: %s", contractx.ErrAlreadyTerminal, out.Message)
	default:
		return out, fmt.Errorf("order backend status=%d: %s", status, errorMessage(raw))
	}
}

func (s *HTTPStore) List(ctx context.Context) ([]contractx.OrderSnapshot, error) {
	status, raw, err := s.do(ctx, http.MethodGet, "/dev/orders", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("order backend status=%d: %s", status, errorMessage(raw))
	}
	var out []contractx.OrderSnapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return out, nil
}

func (s *HTTPStore) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	if s == nil {
		return 0, nil, errors.New("nil store")
	}

	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func errorMessage(raw []byte) string {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(raw))
}
