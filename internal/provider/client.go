// Package provider talks to the subscription billing provider's JSON:API.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/techmajster/time8-product-sub008/pkg/circuitbreaker"
	"github.com/techmajster/time8-product-sub008/pkg/correlation"
	"github.com/techmajster/time8-product-sub008/pkg/logger"
	"github.com/techmajster/time8-product-sub008/pkg/metrics"
)

// API is the provider surface the seat engine depends on.
type API interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	UpdateSubscriptionItem(ctx context.Context, itemID string, update ItemUpdate) (int, error)
	CreateUsageRecord(ctx context.Context, itemID string, quantity int, action UsageAction) (*UsageRecord, error)
}

type Config struct {
	BaseURL         string
	APIKey          string
	StoreID         string
	Timeout         time.Duration
	BreakerFailures int
	BreakerTimeout  time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewClient(cfg Config, log *logger.Logger, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "billing-provider",
			MaxFailures: cfg.BreakerFailures,
			Timeout:     cfg.BreakerTimeout,
			IsFailure:   countsAsFailure,
		}),
		log:     log,
		metrics: m,
	}
}

func (c *Client) configured() error {
	if c.cfg.APIKey == "" || c.cfg.StoreID == "" {
		return ErrNotConfigured
	}
	return nil
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var doc document[SubscriptionAttributes]
	if err := c.do(ctx, "get_subscription", http.MethodGet, "/v1/subscriptions/"+subscriptionID, nil, &doc); err != nil {
		return nil, err
	}
	return doc.Data.Attributes.toSubscription(doc.Data.ID), nil
}

// UpdateSubscriptionItem sets the item quantity and returns the quantity the
// provider acknowledged.
func (c *Client) UpdateSubscriptionItem(ctx context.Context, itemID string, update ItemUpdate) (int, error) {
	body := document[ItemUpdate]{Data: resource[ItemUpdate]{
		Type:       "subscription-items",
		ID:         ID(itemID),
		Attributes: update,
	}}
	var doc document[itemAttributes]
	if err := c.do(ctx, "update_subscription_item", http.MethodPatch, "/v1/subscription-items/"+itemID, body, &doc); err != nil {
		return 0, err
	}
	return doc.Data.Attributes.Quantity, nil
}

func (c *Client) CreateUsageRecord(ctx context.Context, itemID string, quantity int, action UsageAction) (*UsageRecord, error) {
	body := document[usageRecordAttributes]{Data: resource[usageRecordAttributes]{
		Type:          "usage-records",
		Attributes:    usageRecordAttributes{Quantity: quantity, Action: action},
		Relationships: itemRef(itemID),
	}}
	var doc document[usageRecordAttributes]
	if err := c.do(ctx, "create_usage_record", http.MethodPost, "/v1/usage-records", body, &doc); err != nil {
		return nil, err
	}
	return &UsageRecord{
		ID:       doc.Data.ID.String(),
		Quantity: doc.Data.Attributes.Quantity,
		Action:   doc.Data.Attributes.Action,
	}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	if err := c.configured(); err != nil {
		return err
	}

	start := time.Now()
	err := c.breaker.Execute(func() error {
		return c.send(ctx, op, method, path, body, out)
	})
	c.metrics.ProviderLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	c.metrics.ProviderRequests.WithLabelValues(op, requestStatus(err)).Inc()

	if err != nil {
		c.log.Error(err, "provider request failed",
			"operation", op,
			"path", path,
			"correlation_id", correlation.FromContext(ctx),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	}

	c.log.Debug("provider request completed",
		"operation", op,
		"path", path,
		"correlation_id", correlation.FromContext(ctx),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (c *Client) send(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", mediaType)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", mediaType)
	}
	if id := correlation.FromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %s: %v", ErrUnknownOutcome, op, err)
		}
		return fmt.Errorf("provider %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %s: %v", ErrUnknownOutcome, op, err)
		}
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Operation: op, StatusCode: resp.StatusCode, Detail: errorDetail(raw)}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func errorDetail(raw []byte) string {
	var doc errorDocument
	if err := json.Unmarshal(raw, &doc); err == nil && len(doc.Errors) > 0 {
		e := doc.Errors[0]
		if e.Detail != "" {
			return e.Detail
		}
		return e.Title
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return strings.TrimSpace(string(raw))
}

func requestStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrUnknownOutcome):
		return "unknown"
	default:
		return "error"
	}
}
