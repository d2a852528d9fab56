package tenantconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lexiqai/callbridge/internal/observability"
	"github.com/lexiqai/callbridge/internal/resilience"
)

// Store is the read-only tabular source consumed for tenant prompt,
// reservation fields, and notification settings. HTTPStore speaks HTTP/JSON
// to the tenant-config service, wrapped with the same circuit-breaker and
// retry resilience used around other external calls in this service.
type Store interface {
	PromptRow(ctx context.Context, tenantID string) (PromptRow, error)
	Fields(ctx context.Context, tenantID string) ([]Field, error)
	NotificationSettings(ctx context.Context, tenantID string) (NotificationSettings, error)
	HealthCheck(ctx context.Context) (bool, error)
}

// HTTPStore is the production Store backed by a tenant-config HTTP service.
type HTTPStore struct {
	baseURL        string
	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
}

// NewHTTPStore creates a store client wrapped with a circuit breaker and
// retry.
func NewHTTPStore(baseURL string, timeout time.Duration, maxFailures int, resetTimeout time.Duration, retryMaxAttempts int, retryInitialBackoff time.Duration) *HTTPStore {
	return &HTTPStore{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: timeout},
		circuitBreaker: resilience.NewCircuitBreaker("tenant_config_store", maxFailures, resetTimeout),
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       retryMaxAttempts,
			InitialBackoff:    retryInitialBackoff,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	}
}

func (s *HTTPStore) getJSON(ctx context.Context, path string, out interface{}) error {
	err := s.circuitBreaker.Call(func() error {
		return resilience.Retry(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
			if err != nil {
				return fmt.Errorf("tenant config store: build request: %w", err)
			}

			resp, err := s.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("tenant config store: request %s: %w", path, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound {
				return errNotFound
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("tenant config store: %s returned status %d", path, resp.StatusCode)
			}

			return json.NewDecoder(resp.Body).Decode(out)
		}, s.retryConfig, resilience.IsRetryableNetworkError)
	})

	observability.UpdateCircuitBreakerState("tenant_config_store", int(s.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("tenant_config_store")
	}

	return err
}

var errNotFound = fmt.Errorf("tenant config store: not found")

// PromptRow fetches the tenant's system prompt and metadata.
func (s *HTTPStore) PromptRow(ctx context.Context, tenantID string) (PromptRow, error) {
	var row PromptRow
	err := s.getJSON(ctx, fmt.Sprintf("/tenants/%s/prompt", tenantID), &row)
	if err == errNotFound {
		return PromptRow{}, errNotFound
	}
	return row, err
}

// Fields fetches the tenant's reservation form field list.
func (s *HTTPStore) Fields(ctx context.Context, tenantID string) ([]Field, error) {
	var fields []Field
	err := s.getJSON(ctx, fmt.Sprintf("/tenants/%s/fields", tenantID), &fields)
	if err == errNotFound {
		return nil, nil
	}
	return fields, err
}

// NotificationSettings fetches the tenant's notification routing.
func (s *HTTPStore) NotificationSettings(ctx context.Context, tenantID string) (NotificationSettings, error) {
	var settings NotificationSettings
	err := s.getJSON(ctx, fmt.Sprintf("/tenants/%s/notification-settings", tenantID), &settings)
	if err == errNotFound {
		return NotificationSettings{}, nil
	}
	return settings, err
}

// HealthCheck reports whether the store is reachable, used by the /ready endpoint.
func (s *HTTPStore) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/healthz", nil)
	if err != nil {
		return false, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}
