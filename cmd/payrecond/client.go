package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/zoryamarket/payrecon/provider"
)

// newInvoiceStatusClient builds the status-poll client used by the stale
// active sweep. The deployment wires the real provider API through
// PROVIDER_API_URL; without it the sweep still runs but every poll fails,
// which only produces warnings.
func newInvoiceStatusClient() provider.InvoiceStatusClient {
	baseURL := os.Getenv("PROVIDER_API_URL")
	if baseURL == "" {
		return &disabledInvoiceStatusClient{}
	}
	return &httpInvoiceStatusClient{
		baseURL: baseURL,
		token:   os.Getenv("PROVIDER_API_TOKEN"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type disabledInvoiceStatusClient struct{}

func (c *disabledInvoiceStatusClient) GetInvoiceStatus(ctx context.Context, invoiceID string) (*provider.InvoiceStatus, error) {
	return nil, errors.New("provider API is not configured")
}

type httpInvoiceStatusClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func (c *httpInvoiceStatusClient) GetInvoiceStatus(ctx context.Context, invoiceID string) (*provider.InvoiceStatus, error) {
	url := fmt.Sprintf("%s/api/merchant/invoice/status?invoiceId=%s", c.baseURL, invoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("X-Token", c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider status request failed: %s", resp.Status)
	}

	var payload struct {
		InvoiceID    string `json:"invoiceId"`
		Status       string `json:"status"`
		Amount       int64  `json:"amount"`
		Ccy          int    `json:"ccy"`
		Reference    string `json:"reference"`
		ModifiedDate string `json:"modifiedDate"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	status := &provider.InvoiceStatus{
		InvoiceID: payload.InvoiceID,
		Status:    payload.Status,
		Amount:    payload.Amount,
		Currency:  payload.Ccy,
		Reference: payload.Reference,
		Raw:       body,
	}
	if payload.ModifiedDate != "" {
		if t, err := time.Parse(time.RFC3339, payload.ModifiedDate); err == nil {
			status.ModifiedAt = &t
		}
	}
	return status, nil
}
