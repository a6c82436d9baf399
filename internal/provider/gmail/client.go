package gmail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
)

// DefaultBaseURL is the production Gmail REST API root.
const DefaultBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// Client is a thin HTTP client for the Gmail REST API. The bearer
// token is passed per call because the refresh engine may rotate it
// between calls.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Gmail HTTP client. baseURL is overridable
// so tests can point it at a local server.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Get performs an HTTP GET request and unmarshals the JSON response.
func (c *Client) Get(ctx context.Context, token, path string, result interface{}) error {
	return c.do(ctx, token, http.MethodGet, path, nil, result)
}

// Post performs an HTTP POST request with a JSON body and unmarshals
// the JSON response.
func (c *Client) Post(ctx context.Context, token, path string, body, result interface{}) error {
	return c.do(ctx, token, http.MethodPost, path, body, result)
}

// Delete performs an HTTP DELETE request.
func (c *Client) Delete(ctx context.Context, token, path string) error {
	return c.do(ctx, token, http.MethodDelete, path, nil, nil)
}

// do is the core HTTP method: builds the request, attaches the bearer
// token, classifies failures into the provider error taxonomy, and
// handles JSON (de)serialization.
func (c *Client) do(
	ctx context.Context,
	token, method, path string,
	body, result interface{},
) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &provider.TransientError{
			Provider: model.ProviderGmail,
			Message:  fmt.Sprintf("%s %s: %v", method, path, err),
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden:
		return &provider.AuthError{
			Provider: model.ProviderGmail,
			Message: fmt.Sprintf(
				"unauthorized (%d) on %s %s", resp.StatusCode, method, path,
			),
		}

	case resp.StatusCode >= 500:
		return &provider.TransientError{
			Provider: model.ProviderGmail,
			Message: fmt.Sprintf(
				"server error (%d) on %s %s: %s",
				resp.StatusCode, method, path, apiErrorDetail(respBody),
			),
		}

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf(
			"gmail API error (%d) on %s %s: %s",
			resp.StatusCode, method, path, apiErrorDetail(respBody),
		)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
	}

	return nil
}

// apiErrorDetail pulls the message out of a Gmail error envelope,
// falling back to the raw body.
func apiErrorDetail(body []byte) string {
	var envelope ErrorResponse
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return string(body)
}
