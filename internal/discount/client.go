package discount

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CreateCodeRequest registers a percent-off code with the discount system.
type CreateCodeRequest struct {
	Code      string    `json:"code"`
	Percent   int       `json:"percent"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	SingleUse bool      `json:"single_use"`
}

// CreateCodeResult is the discount system's response.
type CreateCodeResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Client talks to the external discount-issuing API.
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
			Timeout: 10 * time.Second,
		},
	}
}

// CreateCode registers the code and returns the external identifier. A
// transport-level failure or an unsuccessful response both come back as
// errors: the caller must treat either as "code not issued" and unwind.
func (c *Client) CreateCode(ctx context.Context, req CreateCodeRequest) (CreateCodeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return CreateCodeResult{}, fmt.Errorf("marshaling create-code request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/discount_codes", bytes.NewReader(body))
	if err != nil {
		return CreateCodeResult{}, fmt.Errorf("building create-code request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CreateCodeResult{}, fmt.Errorf("calling discount API: %w", err)
	}
	defer resp.Body.Close()

	var result CreateCodeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return CreateCodeResult{}, fmt.Errorf("decoding discount API response: %w", err)
	}

	if resp.StatusCode >= 400 || !result.Success {
		msg := result.Error
		if msg == "" {
			msg = resp.Status
		}
		return result, fmt.Errorf("discount API rejected code %s: %s", req.Code, msg)
	}

	return result, nil
}
