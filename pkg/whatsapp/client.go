package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/pkg/whatsapp/types"
)

// GatewayClient talks to the messaging gateway's per-session REST API.
type GatewayClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(cfg types.ClientConfig) types.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GatewayClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *GatewayClient) SendText(ctx context.Context, session, phone, text string) (*types.SendMessageResponse, error) {
	payload := map[string]interface{}{
		"session": session,
		"phone":   phone,
		"text":    text,
	}

	var result types.SendMessageResponse
	if err := c.post(ctx, "/api/sendText", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *GatewayClient) SendButtons(ctx context.Context, session, phone, body string, buttons []types.Button) (*types.SendMessageResponse, error) {
	if len(buttons) == 0 || len(buttons) > 3 {
		return nil, fmt.Errorf("button prompt requires 1-3 options, got %d", len(buttons))
	}

	payload := map[string]interface{}{
		"session": session,
		"phone":   phone,
		"body":    body,
		"buttons": buttons,
	}

	var result types.SendMessageResponse
	if err := c.post(ctx, "/api/sendButtons", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *GatewayClient) SendList(ctx context.Context, session, phone, body, buttonText string, sections []types.ListSection) (*types.SendMessageResponse, error) {
	if len(sections) == 0 {
		return nil, fmt.Errorf("list prompt requires at least one section")
	}

	payload := map[string]interface{}{
		"session":    session,
		"phone":      phone,
		"body":       body,
		"buttonText": buttonText,
		"sections":   sections,
	}

	var result types.SendMessageResponse
	if err := c.post(ctx, "/api/sendList", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RehostMedia asks the gateway to download an inbound media reference and
// re-host it at a stable URL usable in a later status post.
func (c *GatewayClient) RehostMedia(ctx context.Context, session, mediaID string) (string, error) {
	payload := map[string]interface{}{
		"session": session,
		"mediaId": mediaID,
	}

	var result types.RehostResponse
	if err := c.post(ctx, "/api/media/rehost", payload, &result); err != nil {
		return "", err
	}
	if result.URL == "" {
		return "", fmt.Errorf("gateway returned empty media URL")
	}
	return result.URL, nil
}

// RequestMessageID asks the gateway for a fresh message identifier so a
// retried post can reconcile instead of duplicating.
func (c *GatewayClient) RequestMessageID(ctx context.Context, session string) (string, error) {
	payload := map[string]interface{}{"session": session}

	var result types.MessageIDResponse
	if err := c.post(ctx, "/api/status/newMessageId", payload, &result); err != nil {
		return "", err
	}
	if result.MessageID == "" {
		return "", fmt.Errorf("gateway returned empty message id")
	}
	return result.MessageID, nil
}

func (c *GatewayClient) PostStatus(ctx context.Context, session string, post types.StatusPost) (*types.PostStatusResponse, error) {
	var endpoint string
	switch post.Type {
	case "text":
		endpoint = "/api/status/text"
	case "image":
		endpoint = "/api/status/image"
	case "video":
		endpoint = "/api/status/video"
	case "voice":
		endpoint = "/api/status/voice"
	default:
		return nil, fmt.Errorf("unsupported status type %q", post.Type)
	}

	payload := map[string]interface{}{
		"session": session,
		"status":  post,
	}

	var result types.PostStatusResponse
	if err := c.post(ctx, endpoint, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *GatewayClient) DeleteStatus(ctx context.Context, session, messageID string) error {
	payload := map[string]interface{}{
		"session":   session,
		"messageId": messageID,
	}

	var result types.SendMessageResponse
	return c.post(ctx, "/api/status/delete", payload, &result)
}

func (c *GatewayClient) MarkRead(ctx context.Context, session, phone, messageID string) error {
	payload := map[string]interface{}{
		"session":   session,
		"phone":     phone,
		"messageId": messageID,
	}

	var result types.SendMessageResponse
	return c.post(ctx, "/api/sendSeen", payload, &result)
}

func (c *GatewayClient) post(ctx context.Context, endpoint string, payload interface{}, result interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s failed with status %d", endpoint, resp.StatusCode)
	}

	return nil
}
