package scan

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"kylo/internal/audit"
	"kylo/internal/core/errors"
	"kylo/internal/deep"
	"kylo/internal/state"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "README.md"), "Inventory service tracking warehouse stock levels")
	return root
}

func newOrchestrator(t *testing.T, root string, deepAnalyzer deep.Analyzer) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(Options{
		ProjectRoot: root,
		ExcludeDirs: []string{".git", "__pycache__"},
		Workers:     2,
		Deep:        deepAnalyzer,
	})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestRunDirectoryScan(t *testing.T) {
	root := newProject(t)
	// inventory/warehouse/stock keywords present so alignment stays quiet.
	writeFile(t, filepath.Join(root, "src", "clean.py"),
		"# inventory service tracking warehouse stock levels\nx = 1\n")
	writeFile(t, filepath.Join(root, "src", "risky.py"),
		"# inventory service tracking warehouse stock levels\neval(data)\n")
	writeFile(t, filepath.Join(root, "src", "__pycache__", "cached.py"), "eval(x)\n")
	writeFile(t, filepath.Join(root, "src", "notes.txt"), "not python")

	o := newOrchestrator(t, root, nil)
	report, err := o.Run(context.Background(), filepath.Join(root, "src"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Summary.Files != 2 {
		t.Errorf("expected 2 files scanned, got %d", report.Summary.Files)
	}
	if report.Summary.Issues != 1 {
		t.Errorf("expected 1 issue, got %d", report.Summary.Issues)
	}

	total := 0
	for _, f := range report.Scanned {
		total += f.IssuesCount
	}
	if total != report.Summary.Issues {
		t.Errorf("summary issues %d != sum of per-file counts %d", report.Summary.Issues, total)
	}

	st := state.NewStore(root).Load()
	if len(st.Files) != 2 {
		t.Errorf("expected 2 scan records, got %d", len(st.Files))
	}
	if st.Generated == 0 {
		t.Error("generated timestamp must be set")
	}
}

func TestRunSingleFileTarget(t *testing.T) {
	root := newProject(t)
	target := filepath.Join(root, "app.py")
	writeFile(t, target, "# inventory warehouse stock service tracking levels\ncursor.execute(f\"SELECT {x}\")\n")

	o := newOrchestrator(t, root, nil)
	report, err := o.Run(context.Background(), target)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Summary.Files != 1 || report.Summary.Issues != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	rec := state.NewStore(root).Load().Files[mustAbs(t, target)]
	if len(rec.Issues) != 1 || rec.Issues[0].Severity != audit.SeverityCritical {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestRunIssueOrderAnalyzerThenAlignment(t *testing.T) {
	root := newProject(t)
	target := filepath.Join(root, "app.py")
	// No intent keywords appear in the file, so alignment fires after the
	// analyzer issue.
	writeFile(t, target, "eval(data)\n")

	o := newOrchestrator(t, root, nil)
	if _, err := o.Run(context.Background(), target); err != nil {
		t.Fatal(err)
	}

	rec := state.NewStore(root).Load().Files[mustAbs(t, target)]
	if len(rec.Issues) != 2 {
		t.Fatalf("expected analyzer + alignment issues, got %v", rec.Issues)
	}
	if rec.Issues[0].Severity != audit.SeverityHigh {
		t.Errorf("analyzer issue must come first, got %s", rec.Issues[0].Severity)
	}
	if rec.Issues[1].Severity != audit.SeverityMedium {
		t.Errorf("alignment issue must come second, got %s", rec.Issues[1].Severity)
	}
}

func TestRunParseFailureDoesNotAbort(t *testing.T) {
	root := newProject(t)
	writeFile(t, filepath.Join(root, "src", "broken.py"), "def broken(:\n")
	writeFile(t, filepath.Join(root, "src", "fine.py"),
		"# inventory service tracking warehouse stock levels\ny = 2\n")

	o := newOrchestrator(t, root, nil)
	report, err := o.Run(context.Background(), filepath.Join(root, "src"))
	if err != nil {
		t.Fatalf("per-file parse failures must not abort the scan: %v", err)
	}
	if report.Summary.Files != 2 {
		t.Errorf("expected both files scanned, got %d", report.Summary.Files)
	}

	rec := state.NewStore(root).Load().Files[mustAbs(t, filepath.Join(root, "src", "broken.py"))]
	if len(rec.Issues) == 0 || rec.Issues[0].Severity != audit.SeverityError {
		t.Errorf("parse failure should surface as an error issue, got %v", rec.Issues)
	}
}

func TestRunMissingTargetFatal(t *testing.T) {
	root := newProject(t)
	o := newOrchestrator(t, root, nil)
	_, err := o.Run(context.Background(), filepath.Join(root, "nope"))
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("expected CodeNotFound, got %v", err)
	}
}

func TestRunIdempotentIssues(t *testing.T) {
	root := newProject(t)
	target := filepath.Join(root, "app.py")
	writeFile(t, target, "eval(a)\ncursor.execute(f\"SELECT {b}\")\n")

	o := newOrchestrator(t, root, nil)
	if _, err := o.Run(context.Background(), target); err != nil {
		t.Fatal(err)
	}
	first := state.NewStore(root).Load().Files[mustAbs(t, target)]

	if _, err := o.Run(context.Background(), target); err != nil {
		t.Fatal(err)
	}
	second := state.NewStore(root).Load().Files[mustAbs(t, target)]

	if !reflect.DeepEqual(normalizeIssues(first.Issues), normalizeIssues(second.Issues)) {
		t.Errorf("rescan of unchanged file must reproduce identical issues:\n%v\n%v", first.Issues, second.Issues)
	}
}

type stubDeep struct {
	issues []audit.Issue
	err    error
	panics bool
}

func (s *stubDeep) Analyze(_ context.Context, _ []byte, _ deep.Context) ([]audit.Issue, error) {
	if s.panics {
		panic("provider exploded")
	}
	return s.issues, s.err
}

func TestRunMergesDeepIssues(t *testing.T) {
	root := newProject(t)
	target := filepath.Join(root, "app.py")
	writeFile(t, target, "# inventory warehouse stock service tracking levels\neval(x)\n")

	hook := &stubDeep{issues: []audit.Issue{{Severity: audit.SeverityHigh, Message: "weak crypto"}}}
	o := newOrchestrator(t, root, hook)
	if _, err := o.Run(context.Background(), target); err != nil {
		t.Fatal(err)
	}

	rec := state.NewStore(root).Load().Files[mustAbs(t, target)]
	if len(rec.Issues) != 2 {
		t.Fatalf("expected local + deep issues, got %v", rec.Issues)
	}
	merged := rec.Issues[1]
	if merged.Source != deep.SourceTag {
		t.Errorf("merged issue must carry the provider source tag, got %q", merged.Source)
	}
	if merged.File != mustAbs(t, target) {
		t.Errorf("merged issue must be assigned the file path, got %q", merged.File)
	}
	if rec.Issues[0].Source != "" {
		t.Errorf("local issues carry no source tag, got %q", rec.Issues[0].Source)
	}
}

func TestRunDeepFailureIsSwallowed(t *testing.T) {
	root := newProject(t)
	target := filepath.Join(root, "app.py")
	writeFile(t, target, "# inventory warehouse stock service tracking levels\neval(x)\n")

	hook := &stubDeep{err: errors.New(errors.CodeUnavailable, "provider down")}
	o := newOrchestrator(t, root, hook)
	report, err := o.Run(context.Background(), target)
	if err != nil {
		t.Fatalf("hook failure must not surface: %v", err)
	}
	if report.Summary.Issues != 1 {
		t.Errorf("local issues must be unaffected, got %d", report.Summary.Issues)
	}
}

func TestRunDeepPanicIsContained(t *testing.T) {
	root := newProject(t)
	target := filepath.Join(root, "app.py")
	writeFile(t, target, "# inventory warehouse stock service tracking levels\neval(x)\n")

	o := newOrchestrator(t, root, &stubDeep{panics: true})
	report, err := o.Run(context.Background(), target)
	if err != nil {
		t.Fatalf("hook panic must not cross the orchestrator boundary: %v", err)
	}
	if report.Summary.Issues != 1 {
		t.Errorf("local issues must be unaffected, got %d", report.Summary.Issues)
	}
}

func TestRunCancelledContext(t *testing.T) {
	root := newProject(t)
	writeFile(t, filepath.Join(root, "src", "a.py"), "x = 1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newOrchestrator(t, root, nil)
	if _, err := o.Run(ctx, filepath.Join(root, "src")); err == nil {
		t.Error("expected context error from cancelled scan")
	}
}

func mustAbs(t *testing.T, path string) string {
	t.Helper()
	abs, err := filepath.Abs(path)
	if err != nil {
		t.Fatal(err)
	}
	return abs
}

// normalizeIssues strips nothing today; it exists so the idempotence check
// compares issue content rather than slice identity.
func normalizeIssues(issues []audit.Issue) []audit.Issue {
	out := make([]audit.Issue, len(issues))
	copy(out, issues)
	return out
}
