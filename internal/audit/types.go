package audit

import "time"

type Severity string

const (
	SeverityError    Severity = "error"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Issue is one finding reported against a source file. Line is absent for
// file-level findings such as parse failures and alignment warnings. Source
// is empty for the local rule engine and carries a provider tag for findings
// merged from the deep-analysis collaborator.
type Issue struct {
	File       string         `json:"file"`
	Line       int            `json:"line,omitempty"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Source     string         `json:"source,omitempty"`
}

// ScanRecord is one file's latest scan result. Issues keep detection order:
// analyzer issues first, then the alignment issue, then merged deep-analysis
// issues.
type ScanRecord struct {
	LastScanned int64   `json:"last_scanned"`
	Issues      []Issue `json:"issues"`
}

// ProjectState maps absolute file paths to their latest ScanRecord. Entries
// are overwritten on rescan and never pruned for files that disappear.
type ProjectState struct {
	Files     map[string]ScanRecord `json:"files"`
	Generated int64                 `json:"generated"`
}

func NewProjectState() *ProjectState {
	return &ProjectState{
		Files:     make(map[string]ScanRecord),
		Generated: time.Now().Unix(),
	}
}

type FileSummary struct {
	File        string `json:"file"`
	IssuesCount int    `json:"issues_count"`
}

type Summary struct {
	Files  int `json:"files"`
	Issues int `json:"issues"`
}

// Report is the aggregate result of one scan invocation.
type Report struct {
	Scanned []FileSummary `json:"scanned"`
	Summary Summary       `json:"summary"`
}
