package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/discovery"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	InventoryService = "inventory-service"
	PaymentService   = "payment-service"
)

// baseClient resolves the target on every call so Consul changes are
// picked up without a restart.
type baseClient struct {
	resolver   discovery.Resolver
	service    string
	httpClient *http.Client
}

func newBaseClient(resolver discovery.Resolver, service string, timeout time.Duration, tlsConfig *tls.Config) baseClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}
	return baseClient{
		resolver: resolver,
		service:  service,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// do sends the request. Transport and discovery failures come back as
// ErrUpstreamUnavailable, status handling is left to the caller.
func (c *baseClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	baseURL, err := c.resolver.Resolve(ctx, c.service)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", domain.ErrUpstreamUnavailable, c.service, err)
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s: %v", domain.ErrUpstreamUnavailable, c.service, err)
	}
	return resp, nil
}

func decodeJSON(resp *http.Response, v any) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", domain.ErrUpstreamUnavailable, err)
	}
	return nil
}

func unexpectedStatus(service string, resp *http.Response) error {
	return fmt.Errorf("%w: %s returned status %d", domain.ErrUpstreamUnavailable, service, resp.StatusCode)
}
