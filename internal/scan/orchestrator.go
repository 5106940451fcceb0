package scan

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"kylo/internal/audit"
	"kylo/internal/core/errors"
	"kylo/internal/deep"
	"kylo/internal/history"
	"kylo/internal/intent"
	"kylo/internal/shared/observability"
	"kylo/internal/state"
)

const readmeName = "README.md"

// Options configures an Orchestrator. Deep is the optional deep-analysis
// capability; leaving it nil disables the hook entirely.
type Options struct {
	ProjectRoot  string
	ExcludeDirs  []string
	ExcludeFiles []string
	Workers      int
	Deep         deep.Analyzer
	History      *history.Store
}

// Orchestrator walks a target, runs the per-file pipeline (rules, alignment,
// optional deep analysis), updates the persisted project state, and produces
// an aggregate report. It owns the ProjectState exclusively for the duration
// of one Run.
type Orchestrator struct {
	projectRoot  string
	readmePath   string
	analyzer     *audit.Analyzer
	stateStore   *state.Store
	deep         deep.Analyzer
	deepEnabled  bool
	history      *history.Store
	excludeDirs  []glob.Glob
	excludeFiles []glob.Glob
	workers      int
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	root, err := filepath.Abs(opts.ProjectRoot)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "resolve project root")
	}

	dirGlobs := make([]glob.Glob, 0, len(opts.ExcludeDirs))
	for _, pattern := range opts.ExcludeDirs {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude dir pattern %q: %w", pattern, err)
		}
		dirGlobs = append(dirGlobs, g)
	}

	fileGlobs := make([]glob.Glob, 0, len(opts.ExcludeFiles))
	for _, pattern := range opts.ExcludeFiles {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude file pattern %q: %w", pattern, err)
		}
		fileGlobs = append(fileGlobs, g)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	deepAnalyzer := opts.Deep
	enabled := deepAnalyzer != nil
	if deepAnalyzer == nil {
		deepAnalyzer = deep.NopAnalyzer{}
	}

	return &Orchestrator{
		projectRoot:  root,
		readmePath:   filepath.Join(root, readmeName),
		analyzer:     audit.NewAnalyzer(),
		stateStore:   state.NewStore(root),
		deep:         deepAnalyzer,
		deepEnabled:  enabled,
		history:      opts.History,
		excludeDirs:  dirGlobs,
		excludeFiles: fileGlobs,
		workers:      workers,
	}, nil
}

// Run scans the target path. Failures local to one file degrade to
// error-severity issues for that file; only a failure to enumerate targets
// is fatal. Issue content and order per file are pure functions of file
// content, keyword set, and hook availability, so re-running with unchanged
// inputs reproduces the same issues.
func (o *Orchestrator) Run(ctx context.Context, target string) (*audit.Report, error) {
	ctx, span := observability.Tracer.Start(ctx, "orchestrator.Run")
	defer span.End()
	start := time.Now()

	targets, err := o.enumerate(target)
	if err != nil {
		return nil, err
	}

	keywords, err := intent.ExtractKeywords(o.readmePath)
	if err != nil {
		slog.Warn("failed to read project intent document", "path", o.readmePath, "error", err)
		keywords = nil
	}

	st := o.stateStore.Load()
	records := o.processAll(ctx, targets, keywords)

	report := &audit.Report{Scanned: make([]audit.FileSummary, 0, len(targets))}
	for _, path := range targets {
		rec, ok := records[path]
		if !ok {
			// Cancelled before this file was picked up.
			continue
		}
		st.Files[path] = rec
		report.Scanned = append(report.Scanned, audit.FileSummary{File: path, IssuesCount: len(rec.Issues)})
		report.Summary.Files++
		report.Summary.Issues += len(rec.Issues)
	}

	st.Generated = time.Now().Unix()
	if err := o.stateStore.Save(st); err != nil {
		if ctx.Err() != nil {
			slog.Warn("best-effort state persist after cancellation failed", "error", err)
		} else {
			return nil, errors.Wrap(err, errors.CodeInternal, "persist project state")
		}
	}

	o.recordSnapshot(records, report)
	observability.ScanDuration.Observe(time.Since(start).Seconds())

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// processAll runs the per-file pipeline across a bounded worker pool. Each
// file is an independently schedulable unit; record writes are serialized
// under the results mutex and persistence happens once, after all units
// complete.
func (o *Orchestrator) processAll(ctx context.Context, targets []string, keywords []string) map[string]audit.ScanRecord {
	records := make(map[string]audit.ScanRecord, len(targets))
	if len(targets) == 0 {
		return records
	}

	workers := o.workers
	if workers > len(targets) {
		workers = len(targets)
	}

	jobs := make(chan string)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				issues := o.auditFile(ctx, path, keywords)
				rec := audit.ScanRecord{LastScanned: time.Now().Unix(), Issues: issues}
				mu.Lock()
				records[path] = rec
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, path := range targets {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- path:
		}
	}
	close(jobs)
	wg.Wait()

	return records
}

// auditFile runs one file through the fixed pipeline: rule analysis, then
// alignment, then the deep-analysis hook. Issues concatenate in that order.
func (o *Orchestrator) auditFile(ctx context.Context, path string, keywords []string) []audit.Issue {
	start := time.Now()
	defer func() {
		observability.FileAuditDuration.Observe(time.Since(start).Seconds())
		observability.FilesScannedTotal.Inc()
	}()

	source, err := os.ReadFile(path)
	if err != nil {
		return []audit.Issue{{
			File:     path,
			Severity: audit.SeverityError,
			Message:  fmt.Sprintf("Failed to read: %v", err),
		}}
	}

	issues := o.analyzer.Audit(path, source)
	issues = append(issues, intent.CheckAlignment(path, source, keywords)...)

	if o.deepEnabled {
		merged, err := o.callDeep(ctx, path, source, keywords)
		if err != nil {
			// Strictly additive collaborator: failures never block the scan.
			observability.DeepCallsTotal.WithLabelValues("error").Inc()
			slog.Debug("deep analysis skipped", "path", path, "error", err)
		} else {
			observability.DeepCallsTotal.WithLabelValues("ok").Inc()
			issues = append(issues, merged...)
		}
	}

	for _, issue := range issues {
		observability.IssuesFoundTotal.WithLabelValues(string(issue.Severity)).Inc()
	}
	return issues
}

func (o *Orchestrator) callDeep(ctx context.Context, path string, source []byte, keywords []string) (issues []audit.Issue, err error) {
	defer func() {
		if r := recover(); r != nil {
			issues = nil
			err = fmt.Errorf("deep analyzer panicked: %v", r)
		}
	}()

	issues, err = o.deep.Analyze(ctx, source, deep.Context{Goals: keywords, File: path})
	if err != nil {
		return nil, err
	}
	for i := range issues {
		issues[i].Source = deep.SourceTag
		if issues[i].File == "" {
			issues[i].File = path
		}
	}
	return issues, nil
}

// enumerate resolves the target set: the target itself when it is a matching
// source file, otherwise every matching file under it in lexical walk order.
func (o *Orchestrator) enumerate(target string) ([]string, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "resolve target path")
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.AddContext(
			errors.Wrap(err, errors.CodeNotFound, "target path not found"),
			errors.CtxTarget, target)
	}

	if !info.IsDir() {
		if o.analyzer.IsSupportedPath(abs) {
			return []string{abs}, nil
		}
		return nil, nil
	}

	var files []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		base := filepath.Base(path)
		if d.IsDir() {
			for _, g := range o.excludeDirs {
				if g.Match(base) {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if !o.analyzer.IsSupportedPath(path) {
			return nil
		}
		for _, g := range o.excludeFiles {
			if g.Match(base) {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "enumerate targets")
	}
	return files, nil
}

func (o *Orchestrator) recordSnapshot(records map[string]audit.ScanRecord, report *audit.Report) {
	if o.history == nil {
		return
	}

	snapshot := history.Snapshot{
		Timestamp:  time.Now().UTC(),
		FileCount:  report.Summary.Files,
		IssueCount: report.Summary.Issues,
	}
	for _, rec := range records {
		for _, issue := range rec.Issues {
			switch issue.Severity {
			case audit.SeverityCritical:
				snapshot.CriticalCount++
			case audit.SeverityHigh:
				snapshot.HighCount++
			case audit.SeverityMedium:
				snapshot.MediumCount++
			case audit.SeverityError:
				snapshot.ErrorCount++
			}
		}
	}

	if err := o.history.SaveSnapshot(o.projectRoot, snapshot); err != nil {
		slog.Warn("failed to record scan snapshot", "error", err)
	}
}

// StatePath exposes where the orchestrator persists its project state.
func (o *Orchestrator) StatePath() string {
	return o.stateStore.Path()
}
