package relay

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

// Provider forwards a code snippet to the external analysis backend and
// returns Issue-shaped records.
type Provider interface {
	Analyze(ctx context.Context, code string, goals []string, file string) ([]audit.Issue, error)
}

// HTTPProvider talks to an analysis backend over JSON HTTP. The response may
// use either our field names or the provider's looser naming; records are
// normalized before they leave this package.
type HTTPProvider struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
}

func NewHTTPProvider(endpoint, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
	}
}

type providerRequest struct {
	Code    string   `json:"code"`
	Goals   []string `json:"goals,omitempty"`
	File    string   `json:"file,omitempty"`
}

type providerIssue struct {
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	Description string `json:"description"`
	File        string `json:"file"`
	FilePath    string `json:"file_path"`
	Line        int    `json:"line"`
	Suggestion  string `json:"suggestion"`
}

type providerResponse struct {
	Issues []providerIssue `json:"issues"`
}

func (p *HTTPProvider) Analyze(ctx context.Context, code string, goals []string, file string) ([]audit.Issue, error) {
	if p.endpoint == "" {
		return nil, errors.New(errors.CodeUnavailable, "no provider endpoint configured")
	}

	body, err := json.Marshal(providerRequest{Code: code, Goals: goals, File: file})
	if err != nil {
		return nil, fmt.Errorf("encode provider request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.CodeUnavailable, fmt.Sprintf("provider returned status %d", resp.StatusCode))
	}

	var parsed providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "malformed provider response")
	}
	return normalizeIssues(parsed.Issues, file), nil
}

// normalizeIssues maps loose provider records onto the Issue shape. Records
// with no usable message are dropped; missing severities default to medium.
func normalizeIssues(raw []providerIssue, fallbackFile string) []audit.Issue {
	out := make([]audit.Issue, 0, len(raw))
	for _, r := range raw {
		message := r.Message
		if message == "" {
			message = r.Description
		}
		if message == "" {
			continue
		}

		severity := audit.Severity(r.Severity)
		switch severity {
		case audit.SeverityError, audit.SeverityMedium, audit.SeverityHigh, audit.SeverityCritical:
		default:
			severity = audit.SeverityMedium
		}

		file := r.File
		if file == "" {
			file = r.FilePath
		}
		if file == "" {
			file = fallbackFile
		}

		line := r.Line
		if line < 0 {
			line = 0
		}

		out = append(out, audit.Issue{
			File:       file,
			Line:       line,
			Severity:   severity,
			Message:    message,
			Suggestion: r.Suggestion,
		})
	}
	return out
}
