package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPGateway talks to the hosted messaging provider's REST API.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPGateway creates a gateway client. Returns nil when baseURL is
// empty so callers can treat the gateway as unconfigured.
func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	if strings.TrimSpace(baseURL) == "" {
		return nil
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

func (g *HTTPGateway) SendText(ctx context.Context, channelKey, counterparty, text string) (string, error) {
	return g.post(ctx, "/message/sendText/"+channelKey, map[string]any{
		"number": counterparty,
		"text":   text,
	})
}

func (g *HTTPGateway) SendMedia(ctx context.Context, channelKey, counterparty string, payload MediaPayload) (string, error) {
	return g.post(ctx, "/message/sendMedia/"+channelKey, map[string]any{
		"number":    counterparty,
		"media":     payload.Data,
		"caption":   payload.Caption,
		"mediatype": string(payload.Kind),
	})
}

func (g *HTTPGateway) post(ctx context.Context, path string, body map[string]any) (string, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("apikey", g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("gateway returned %s", resp.Status)
	}

	var parsed sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// Some deployments return an empty body on success; the provider
		// id is optional for our record.
		return "", nil
	}
	return parsed.Key.ID, nil
}
