// Package deep defines the optional deep-analysis collaborator boundary.
// The scan pipeline holds an Analyzer as an injected capability; absence is
// the no-op implementation, not a feature flag scattered through the
// pipeline. A failing analyzer never blocks a scan.
package deep

import (
	"context"

	"kylo/internal/audit"
)

// Context carries the scan-side information handed to the collaborator.
type Context struct {
	Goals []string `json:"goals"`
	File  string   `json:"file"`
}

type Analyzer interface {
	Analyze(ctx context.Context, source []byte, scanCtx Context) ([]audit.Issue, error)
}

// NopAnalyzer is the absence value for the deep-analysis capability.
type NopAnalyzer struct{}

func (NopAnalyzer) Analyze(context.Context, []byte, Context) ([]audit.Issue, error) {
	return nil, nil
}
