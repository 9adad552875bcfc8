package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultURL is the public Expo push endpoint.
const DefaultURL = "https://exp.host/--/api/v2/push/send"

// Message is one Expo push message.
type Message struct {
	To    string      `json:"to"`
	Sound string      `json:"sound"`
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Data  MessageData `json:"data"`
}

type MessageData struct {
	CaseID string `json:"caseId"`
}

// Client posts message batches to the Expo push API.
type Client struct {
	url         string
	accessToken string
	httpClient  *http.Client
}

// NewClient returns a client for url. An empty url means DefaultURL.
func NewClient(url, accessToken string, httpClient *http.Client) *Client {
	if url == "" {
		url = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{url: url, accessToken: accessToken, httpClient: httpClient}
}

// Send posts all messages in one request and returns the decoded Expo response body.
func (c *Client) Send(ctx context.Context, messages []Message) (json.RawMessage, error) {
	body, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("push: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("push: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push: request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("push: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("push: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("push: invalid json response")
	}
	return json.RawMessage(raw), nil
}
