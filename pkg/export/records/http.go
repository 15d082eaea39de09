package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"mercator-hq/exporter/pkg/export"
)

// HTTPConfig configures the detection store client.
type HTTPConfig struct {
	// BaseURL of the detection store API; records are read from
	// {BaseURL}/records/{id}.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// MaxRetries is the number of attempts for transient failures.
	MaxRetries int

	// BreakerFailureRatio trips the breaker once at least BreakerMinRequests
	// requests have been seen in the current interval.
	BreakerFailureRatio float64
	BreakerMinRequests  uint32
	BreakerOpenTimeout  time.Duration
}

// DefaultHTTPConfig returns the default client configuration.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		Timeout:             10 * time.Second,
		MaxRetries:          3,
		BreakerFailureRatio: 0.6,
		BreakerMinRequests:  5,
		BreakerOpenTimeout:  30 * time.Second,
	}
}

// HTTPSource fetches records from the detection store over HTTP. Transient
// failures are retried with exponential backoff; sustained failures open a
// circuit breaker so that jobs fail fast instead of piling up.
type HTTPSource struct {
	client  *http.Client
	config  *HTTPConfig
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewHTTPSource creates a new detection store client.
func NewHTTPSource(config *HTTPConfig) (*HTTPSource, error) {
	if config == nil || config.BaseURL == "" {
		return nil, fmt.Errorf("records base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid records base URL: %w", err)
	}

	logger := slog.Default().With("component", "export.records.http")

	s := &HTTPSource{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
		logger: logger,
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "record-source",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     config.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.BreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			// A missing record is a valid answer from a healthy store.
			return err == nil || errors.Is(err, export.ErrRecordNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("record source circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return s, nil
}

// Fetch implements export.RecordSource.
func (s *HTTPSource) Fetch(ctx context.Context, id string) (*export.Record, error) {
	tries := s.config.MaxRetries
	if tries < 1 {
		tries = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	record, err := backoff.Retry(ctx, func() (*export.Record, error) {
		result, err := s.breaker.Execute(func() (interface{}, error) {
			return s.get(ctx, id)
		})
		if err != nil {
			if errors.Is(err, export.ErrRecordNotFound) ||
				errors.Is(err, gobreaker.ErrOpenState) ||
				errors.Is(err, context.Canceled) {
				return nil, backoff.Permanent(err)
			}
			s.logger.Debug("record fetch attempt failed", "record_id", id, "error", err)
			return nil, err
		}
		return result.(*export.Record), nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(tries)))

	if err != nil {
		return nil, export.NewRetrievalError(id, err)
	}
	return record, nil
}

// get performs a single request.
func (s *HTTPSource) get(ctx context.Context, id string) (*export.Record, error) {
	endpoint := strings.TrimRight(s.config.BaseURL, "/") + "/records/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("record source unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, export.ErrRecordNotFound
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("record source returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var record export.Record
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if record.ID == "" {
		record.ID = id
	}
	return &record, nil
}

// State reports the circuit breaker state, used by readiness checks.
func (s *HTTPSource) State() gobreaker.State {
	return s.breaker.State()
}
