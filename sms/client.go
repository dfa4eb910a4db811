// Package sms delivers text messages through the SMS gateway.
package sms

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/apex/log"
)

// Client sends messages through a Mobizon-compatible gateway. A client with
// an empty API key is disabled: messages are logged instead of sent, which is
// the local development mode.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a new SMS gateway client.
func NewClient(apiKey, endpoint string) *Client {
	return &Client{
		apiKey:   apiKey,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Enabled reports whether the client will actually reach the gateway.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Send delivers a message to a phone number.
func (c *Client) Send(phone, message string) error {
	if !c.Enabled() {
		log.Infof("SMS gateway disabled, message for %s: %s", phone, message)
		return nil
	}

	data := url.Values{}
	data.Set("apiKey", c.apiKey)
	data.Set("recipient", phone)
	data.Set("text", message)

	resp, err := c.httpClient.PostForm(c.endpoint, data)
	if err != nil {
		return fmt.Errorf("failed to send SMS request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read SMS gateway response: %w", err)
	}

	var result struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse SMS gateway response: %w", err)
	}
	if result.Code != 0 {
		return fmt.Errorf("SMS gateway error: %s (code %d)", result.Message, result.Code)
	}

	return nil
}
