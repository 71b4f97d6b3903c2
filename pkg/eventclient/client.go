/**
 * @description
 * This package provides a client for communicating with the events service.
 * The settlement service reads an event's provider booking list through it;
 * event state is never mutated from here.
 */
package eventclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wedloop/settlement-service/internal/domain"
)

// Client is a client for the events service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new events service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// providerChargesResponse is the events service's listing envelope.
type providerChargesResponse struct {
	EventID string                  `json:"event_id"`
	Charges []domain.ProviderCharge `json:"provider_charges"`
}

// ListProviderCharges fetches all provider charges booked on an event,
// regardless of status. The caller filters for settlement eligibility.
func (c *Client) ListProviderCharges(ctx context.Context, eventID uuid.UUID) ([]domain.ProviderCharge, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("events service base url is empty")
	}

	url := fmt.Sprintf("%s/internal/events/%s/provider-charges", c.baseURL, eventID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to events service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("event %s not found", eventID)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("events service returned error status %d", resp.StatusCode)
	}

	var response providerChargesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return response.Charges, nil
}
