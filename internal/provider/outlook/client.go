package outlook

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

// DefaultBaseURL is the production Microsoft Graph mail root.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0/me"

// Client is a thin HTTP client for the Graph mail API. The bearer
// token is passed per call because the refresh engine may rotate it
// between calls.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Graph HTTP client. baseURL is overridable
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

// Patch performs an HTTP PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, token, path string, body interface{}) error {
	return c.do(ctx, token, http.MethodPatch, path, body, nil)
}

// Delete performs an HTTP DELETE request.
func (c *Client) Delete(ctx context.Context, token, path string) error {
	return c.do(ctx, token, http.MethodDelete, path, nil, nil)
}

// GetURL follows an absolute @odata.nextLink. Only links under the
// client's own base are followed.
func (c *Client) GetURL(ctx context.Context, token, fullURL string, result interface{}) error {
	if !strings.HasPrefix(fullURL, c.baseURL) {
		return fmt.Errorf("refusing to follow link outside API base: %s", fullURL)
	}
	return c.do(ctx, token, http.MethodGet, strings.TrimPrefix(fullURL, c.baseURL), nil, result)
}

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
			Provider: model.ProviderOutlook,
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
			Provider: model.ProviderOutlook,
			Message: fmt.Sprintf(
				"unauthorized (%d) on %s %s", resp.StatusCode, method, path,
			),
		}

	case resp.StatusCode >= 500:
		return &provider.TransientError{
			Provider: model.ProviderOutlook,
			Message: fmt.Sprintf(
				"server error (%d) on %s %s: %s",
				resp.StatusCode, method, path, graphErrorDetail(respBody),
			),
		}

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf(
			"graph API error (%d) on %s %s: %s",
			resp.StatusCode, method, path, graphErrorDetail(respBody),
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

// graphErrorDetail pulls the message out of a Graph error envelope,
// falling back to the raw body.
func graphErrorDetail(body []byte) string {
	var envelope ErrorResponse
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return string(body)
}
