/**
 * @description
 * This package provides a client for the payment gateway used to charge
 * customers and pay out providers. It encapsulates authenticated HTTP calls,
 * request body construction, and response parsing.
 *
 * @notes
 * - Gateway failures are split into two kinds the caller must treat
 *   differently: a DeclinedError is user-correctable (the payment stays
 *   retryable), while an UnavailableError is a system failure (the payment is
 *   marked failed with a reason). Callers match them with errors.As.
 * - The client never sees raw card numbers; requests carry an opaque
 *   tokenized method reference plus the masked descriptor.
 */
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Client is a client for the payment gateway API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new gateway client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// DeclinedError is a user-correctable rejection (bad card, insufficient
// customer funds). The payment remains pending and may be retried.
type DeclinedError struct {
	Code    string
	Message string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("gateway declined charge: %s (%s)", e.Message, e.Code)
}

// UnavailableError is a transient or systemic gateway failure. The payment is
// surfaced as failed with the reason attached.
type UnavailableError struct {
	Status  int
	Message string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("gateway unavailable: %s (http %d)", e.Message, e.Status)
}

// MethodRef is the tokenized payment method sent with a charge.
type MethodRef struct {
	Token string `json:"token"`
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

// ChargeRequest is the payload for charging a customer.
type ChargeRequest struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Method    MethodRef       `json:"method"`
}

// PayoutRequest is the payload for paying out one provider line.
type PayoutRequest struct {
	Reference  string          `json:"reference"`
	ProviderID string          `json:"provider_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
}

// RefundRequest is the payload for refunding part of a completed charge.
type RefundRequest struct {
	Reference             string          `json:"reference"`
	OriginalTransactionID string          `json:"original_transaction_id"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
}

// Result is the gateway's answer to a charge, payout, or refund call.
type Result struct {
	Data struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Response string `json:"response"`
	} `json:"data"`
}

// errorResponse is the gateway's error envelope.
type errorResponse struct {
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// Charge submits a customer charge to the gateway.
func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*Result, error) {
	return c.post(ctx, "/v1/charges", req)
}

// Payout submits a provider payout to the gateway.
func (c *Client) Payout(ctx context.Context, req PayoutRequest) (*Result, error) {
	return c.post(ctx, "/v1/payouts", req)
}

// Refund submits a refund against an existing gateway transaction.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	return c.post(ctx, "/v1/refunds", req)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		// Network errors and client timeouts count as the gateway being down.
		return nil, &UnavailableError{Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{Status: resp.StatusCode, Message: "unreadable gateway response"}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result Result
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("parse gateway response: %w", err)
		}
		return &result, nil
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		var envelope errorResponse
		declined := &DeclinedError{Code: "declined", Message: "charge declined"}
		if err := json.Unmarshal(respBody, &envelope); err == nil && len(envelope.Errors) > 0 {
			declined.Code = envelope.Errors[0].Code
			declined.Message = envelope.Errors[0].Detail
		}
		return nil, declined
	default:
		var envelope errorResponse
		msg := fmt.Sprintf("unexpected gateway status %d", resp.StatusCode)
		if err := json.Unmarshal(respBody, &envelope); err == nil && len(envelope.Errors) > 0 {
			msg = envelope.Errors[0].Detail
		}
		return nil, &UnavailableError{Status: resp.StatusCode, Message: msg}
	}
}
