package biometric

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

// maxResponseBytes bounds how much of a service response is read.
const maxResponseBytes = 1 << 20

// Client talks to the external fingerprint service over HTTP. It implements
// both Capturer and Matcher.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client. Timeouts are applied per call by the Adapter.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type captureResponse struct {
	Success  bool   `json:"success"`
	Template string `json:"template"`
}

type verifyRequest struct {
	Template  string `json:"template"`
	Reference string `json:"reference,omitempty"`
}

type verifyResponse struct {
	Success bool `json:"success"`
}

// Capture asks the scanner service for a fresh template.
func (c *Client) Capture(ctx context.Context) (Template, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/capture", nil)
	if err != nil {
		return nil, newServiceError(ErrorInternal, "capture", "build request", err)
	}
	var resp captureResponse
	if err := c.do(req, "capture", &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Template == "" {
		return nil, newServiceError(ErrorBadData, "capture", "scanner reported no template", nil)
	}
	tpl, err := base64.StdEncoding.DecodeString(resp.Template)
	if err != nil {
		return nil, newServiceError(ErrorBadData, "capture", "template is not base64", err)
	}
	return Template(tpl), nil
}

// Match submits the probe, with the stored template as reference, to the verify endpoint.
func (c *Client) Match(ctx context.Context, stored, probe Template) (bool, error) {
	body, err := json.Marshal(verifyRequest{
		Template:  base64.StdEncoding.EncodeToString(probe),
		Reference: base64.StdEncoding.EncodeToString(stored),
	})
	if err != nil {
		return false, newServiceError(ErrorInternal, "verify", "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return false, newServiceError(ErrorInternal, "verify", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	var resp verifyResponse
	if err := c.do(req, "verify", &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			return newServiceError(ErrorTimeout, op, "request timed out", err)
		}
		return newServiceError(ErrorProviderOutage, op, "service unreachable", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 500:
		return newServiceError(ErrorProviderOutage, op, "service returned "+res.Status, nil)
	case res.StatusCode != http.StatusOK:
		return newServiceError(ErrorContractMismatch, op, "unexpected status "+res.Status, nil)
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(out); err != nil {
		return newServiceError(ErrorBadData, op, "decode response", err)
	}
	return nil
}
