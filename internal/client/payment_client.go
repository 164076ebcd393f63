package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/discovery"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
)

type PaymentClient struct {
	baseClient
}

func NewPaymentClient(resolver discovery.Resolver, timeout time.Duration, tlsConfig *tls.Config) *PaymentClient {
	return &PaymentClient{baseClient: newBaseClient(resolver, PaymentService, timeout, tlsConfig)}
}

type paymentStatusResponse struct {
	Status string `json:"status"`
}

// GetPaymentStatus asks the payment service for the order's payment status.
// Anything but a 200 with a status is ErrUpstreamUnavailable.
func (c *PaymentClient) GetPaymentStatus(ctx context.Context, orderID string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/payments/orders/%s/status", url.PathEscape(orderID)), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", unexpectedStatus(c.service, resp)
	}

	var body paymentStatusResponse
	if err := decodeJSON(resp, &body); err != nil {
		return "", err
	}
	if body.Status == "" {
		return "", fmt.Errorf("%w: empty payment status", domain.ErrUpstreamUnavailable)
	}
	return body.Status, nil
}
