package deep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"kylo/internal/audit"
	"kylo/internal/core/errors"
)

// SourceTag identifies findings merged from the external provider.
const SourceTag = "gemini"

const tokenHeader = "X-Kylo-Token"

type analyzeRequest struct {
	Code    string  `json:"code"`
	Context Context `json:"context"`
}

type analyzeResponse struct {
	Issues []audit.Issue `json:"issues"`
}

// Client calls the relay's analyze endpoint over HTTP. Every call carries a
// hard timeout so a slow collaborator cannot stall file processing.
type Client struct {
	endpoint string
	token    string
	timeout  time.Duration
	http     *http.Client
}

func NewClient(endpoint, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		token:    token,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) Analyze(ctx context.Context, source []byte, scanCtx Context) ([]audit.Issue, error) {
	body, err := json.Marshal(analyzeRequest{Code: string(source), Context: scanCtx})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "encode analyze request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "build analyze request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(tokenHeader, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "deep analysis unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.CodeUnavailable, fmt.Sprintf("deep analysis returned status %d", resp.StatusCode))
	}

	var parsed analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "malformed deep analysis response")
	}
	return parsed.Issues, nil
}
