package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SendResult is the transport's verdict on one outbound message. Success
// false with a populated Error means the provider refused the message; the
// message id is opaque and used to correlate later delivery-status updates.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Client talks to the external SMS transport.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Send submits one message. A network-level error and a provider-reported
// failure are distinguishable: the former returns err, the latter a result
// with Success=false. Callers treat both as a failed dispatch; the
// distinction only matters for logging, since a timed-out call may still
// have gone out.
func (c *Client) Send(ctx context.Context, to, body string) (SendResult, error) {
	payload, err := json.Marshal(sendRequest{To: to, Body: body})
	if err != nil {
		return SendResult{}, fmt.Errorf("marshaling send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("calling transport: %w", err)
	}
	defer resp.Body.Close()

	var result SendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return SendResult{}, fmt.Errorf("decoding transport response: %w", err)
	}

	if resp.StatusCode >= 400 && result.Error == "" {
		result.Success = false
		result.Error = resp.Status
	}

	return result, nil
}
