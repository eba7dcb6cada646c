package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/casaflow/chatcore/internal/model"
)

// wireMessage is the history entry shape the completion endpoint accepts.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completeRequest struct {
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// HTTPService talks to a completion endpoint over HTTP with retry. Transient
// failures (network errors, 5xx) are retried with exponential backoff; 4xx
// responses are terminal.
type HTTPService struct {
	client  *resty.Client
	log     zerolog.Logger
	retries uint64
}

// HTTPOption configures an HTTPService.
type HTTPOption func(*HTTPService)

// WithRetries overrides the retry budget for transient failures.
func WithRetries(n uint64) HTTPOption {
	return func(s *HTTPService) { s.retries = n }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) HTTPOption {
	return func(s *HTTPService) { s.log = log }
}

// NewHTTPService creates a service pointed at baseURL.
func NewHTTPService(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPService {
	s := &HTTPService{
		client:  resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		log:     zerolog.Nop(),
		retries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HealthPing probes the endpoint's health route.
func (s *HTTPService) HealthPing(ctx context.Context) error {
	resp, err := s.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("completion service health: status %d", resp.StatusCode())
	}
	return nil
}

func toWire(history []model.Message) []wireMessage {
	out := make([]wireMessage, 0, len(history))
	for _, m := range history {
		out = append(out, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// terminalError marks a non-retryable failure for the backoff loop.
type terminalError struct{ err error }

func (t terminalError) Error() string { return t.err.Error() }
func (t terminalError) Unwrap() error { return t.err }

// Complete implements Service.
func (s *HTTPService) Complete(ctx context.Context, history []model.Message) (*Result, error) {
	body := completeRequest{Messages: toWire(history)}

	var out Result
	operation := func() error {
		resp, err := s.client.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&out).
			Post("/v1/complete")
		if err != nil {
			return err
		}
		if resp.IsError() {
			err := fmt.Errorf("completion service: status %d", resp.StatusCode())
			if resp.StatusCode() < 500 {
				return backoff.Permanent(terminalError{err: err})
			}
			return err
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.retries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		s.log.Error().Stack().Err(err).Int("history", len(history)).Msg("completion call failed")
		return nil, err
	}
	return &out, nil
}

// StreamComplete implements Streamer using newline-delimited JSON chunks.
// The call is not retried: a stream that breaks mid-way surfaces its error
// on the channel.
func (s *HTTPService) StreamComplete(ctx context.Context, history []model.Message) (<-chan Chunk, error) {
	body, err := json.Marshal(completeRequest{Messages: toWire(history), Stream: true})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.BaseURL+"/v1/complete", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.GetClient().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("completion service: status %d", resp.StatusCode)
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer func() { _ = resp.Body.Close() }()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			var chunk Chunk
			if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
				continue // skip malformed keep-alive lines
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case ch <- Chunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}
