// Package messenger wraps the Facebook Messenger Send API.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://graph.facebook.com"

// RemoteError carries the error message the Send API returned.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "messenger: " + e.Message
}

// Client issues Send API calls on behalf of a page.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// NewClient builds a Send API client. An empty baseURL selects the production
// Graph API endpoint; tests point it at a local server.
func NewClient(baseURL, accessToken string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

type sendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

type sendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Send delivers a text reply to the given recipient. Delivery is best effort:
// callers log failures and keep the conversation going.
func (c *Client) Send(ctx context.Context, recipientID, text string) error {
	var payload sendRequest
	payload.Recipient.ID = recipientID
	payload.Message.Text = text

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("messenger: encode request: %w", err)
	}

	endpoint := c.baseURL + "/me/messages?access_token=" + url.QueryEscape(c.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("messenger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("messenger: send request: %w", err)
	}
	defer resp.Body.Close()

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("messenger: decode response: %w", err)
	}

	if decoded.Error != nil && decoded.Error.Message != "" {
		return &RemoteError{Message: decoded.Error.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("messenger: unexpected status %d", resp.StatusCode)
	}
	return nil
}
