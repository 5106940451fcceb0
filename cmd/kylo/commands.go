package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"kylo/internal/audit"
	"kylo/internal/config"
	"kylo/internal/deep"
	"kylo/internal/history"
	"kylo/internal/project"
	"kylo/internal/relay"
	"kylo/internal/scan"
	"kylo/internal/state"
	"kylo/internal/usage"
	"kylo/internal/vault"
	"kylo/internal/watcher"
)

const historyFileName = "history.db"

func runInit(cfg *config.Config) error {
	if err := project.Init(cfg.ProjectRoot); err != nil {
		return err
	}
	fmt.Printf("Initialized kylo workspace in %s\n", filepath.Join(cfg.ProjectRoot, ".kylo"))
	return nil
}

func newTracker(cfg *config.Config) *usage.Tracker {
	return usage.NewTracker(cfg.ProjectRoot, map[string]int{
		usage.OpAudit:        cfg.Limits.Audit,
		usage.OpSecurityScan: cfg.Limits.SecurityScan,
		usage.OpDeepAnalysis: cfg.Limits.DeepAnalysis,
	})
}

// meteredDeep charges each deep-analysis call against the hourly budget
// before it leaves the process.
type meteredDeep struct {
	inner   deep.Analyzer
	tracker *usage.Tracker
}

func (m *meteredDeep) Analyze(ctx context.Context, source []byte, scanCtx deep.Context) ([]audit.Issue, error) {
	if !m.tracker.Allow(usage.OpDeepAnalysis) {
		return nil, fmt.Errorf("hourly deep analysis budget exhausted")
	}
	issues, err := m.inner.Analyze(ctx, source, scanCtx)
	if err == nil {
		if recordErr := m.tracker.Record(usage.OpDeepAnalysis); recordErr != nil {
			slog.Warn("failed to persist usage counters", "error", recordErr)
		}
	}
	return issues, err
}

// newOrchestrator assembles the scan pipeline from config: exclude globs,
// worker pool size, the optional deep-analysis client and the history store.
// A broken history store degrades to scanning without trend recording.
func newOrchestrator(cfg *config.Config) (*scan.Orchestrator, *history.Store, error) {
	var deepAnalyzer deep.Analyzer
	if cfg.Deep.Enabled {
		deepAnalyzer = &meteredDeep{
			inner:   deep.NewClient(cfg.Deep.Endpoint, cfg.Deep.Token, cfg.Deep.Timeout),
			tracker: newTracker(cfg),
		}
	}

	var hist *history.Store
	historyPath := filepath.Join(cfg.ProjectRoot, ".kylo", historyFileName)
	if _, err := os.Stat(filepath.Dir(historyPath)); err == nil {
		hist, err = history.Open(historyPath)
		if err != nil {
			slog.Warn("history store unavailable, trends disabled", "path", historyPath, "error", err)
			hist = nil
		}
	}

	orchestrator, err := scan.NewOrchestrator(scan.Options{
		ProjectRoot:  cfg.ProjectRoot,
		ExcludeDirs:  cfg.Scan.ExcludeDirs,
		ExcludeFiles: cfg.Scan.ExcludeFiles,
		Workers:      cfg.Scan.Workers,
		Deep:         deepAnalyzer,
		History:      hist,
	})
	if err != nil {
		if hist != nil {
			hist.Close()
		}
		return nil, nil, err
	}
	return orchestrator, hist, nil
}

func runAudit(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	watch := fs.Bool("watch", false, "Keep running and re-audit on file changes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	target := cfg.ProjectRoot
	if fs.NArg() > 0 {
		target = fs.Arg(0)
	}

	tracker := newTracker(cfg)
	if !tracker.Allow(usage.OpAudit) {
		return fmt.Errorf("hourly audit budget exhausted, try again later")
	}

	orchestrator, hist, err := newOrchestrator(cfg)
	if err != nil {
		return err
	}
	if hist != nil {
		defer hist.Close()
	}

	report, err := orchestrator.Run(ctx, target)
	if err != nil {
		return err
	}
	if err := tracker.Record(usage.OpAudit); err != nil {
		slog.Warn("failed to persist usage counters", "error", err)
	}
	if err := printJSON(report); err != nil {
		return err
	}

	if !*watch {
		return nil
	}
	return watchAndRescan(ctx, cfg, orchestrator, tracker, target)
}

// watchAndRescan blocks until interrupted, re-running the audit whenever a
// batch of source changes settles. Each rescan covers the whole target so the
// printed report stays a complete picture, not a delta.
func watchAndRescan(ctx context.Context, cfg *config.Config, orchestrator *scan.Orchestrator, tracker *usage.Tracker, target string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := watcher.New(cfg.Watch.Debounce, cfg.Scan.ExcludeDirs, func(paths []string) {
		slog.Info("source changes detected", "files", len(paths))
		if !tracker.Allow(usage.OpAudit) {
			slog.Warn("hourly audit budget exhausted, skipping rescan")
			return
		}
		report, err := orchestrator.Run(ctx, target)
		if err != nil {
			slog.Error("rescan failed", "error", err)
			return
		}
		if err := tracker.Record(usage.OpAudit); err != nil {
			slog.Warn("failed to persist usage counters", "error", err)
		}
		if err := printJSON(report); err != nil {
			slog.Error("failed to print report", "error", err)
		}
	})
	if err != nil {
		return err
	}
	defer w.Close()

	watchRoot := target
	if info, statErr := os.Stat(target); statErr == nil && !info.IsDir() {
		watchRoot = filepath.Dir(target)
	}
	if err := w.Watch(watchRoot); err != nil {
		return err
	}

	slog.Info("watching for changes", "path", watchRoot, "debounce", cfg.Watch.Debounce)
	<-ctx.Done()
	return nil
}

func runSecure(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kylo secure <target>")
	}
	target := args[0]

	tracker := newTracker(cfg)
	if !tracker.Allow(usage.OpSecurityScan) {
		return fmt.Errorf("hourly security scan budget exhausted, try again later")
	}

	orchestrator, hist, err := newOrchestrator(cfg)
	if err != nil {
		return err
	}
	if hist != nil {
		defer hist.Close()
	}

	report, err := orchestrator.Run(ctx, target)
	if err != nil {
		return err
	}
	if err := tracker.Record(usage.OpSecurityScan); err != nil {
		slog.Warn("failed to persist usage counters", "error", err)
	}

	st := state.NewStore(cfg.ProjectRoot).Load()
	printSecuritySummary(report, st)
	return nil
}

func printSecuritySummary(report *audit.Report, st *audit.ProjectState) {
	fmt.Printf("Scanned %d file(s), %d issue(s) found\n", report.Summary.Files, report.Summary.Issues)

	for _, entry := range report.Scanned {
		if entry.IssuesCount == 0 {
			continue
		}
		rec, ok := st.Files[entry.File]
		if !ok {
			continue
		}
		fmt.Printf("\n%s\n", entry.File)
		for _, issue := range rec.Issues {
			location := "file"
			if issue.Line > 0 {
				location = fmt.Sprintf("line %d", issue.Line)
			}
			fmt.Printf("  [%s] %s: %s\n", issue.Severity, location, issue.Message)
			if issue.Suggestion != "" {
				fmt.Printf("      suggestion: %s\n", issue.Suggestion)
			}
		}
	}

	if report.Summary.Issues == 0 {
		fmt.Println("No issues detected.")
	}
}

func runStats(cfg *config.Config) error {
	tracker := newTracker(cfg)
	usageReport := tracker.Report()

	fmt.Println("Usage")
	fmt.Printf("  audits:          %d\n", usageReport.Audits)
	fmt.Printf("  security scans:  %d\n", usageReport.SecurityScans)
	fmt.Printf("  deep calls:      %d\n", usageReport.DeepCalls)
	fmt.Printf("  active days:     %d\n", usageReport.ActiveDays)

	limits := make([]string, 0, len(usageReport.HourlyLimits))
	for op := range usageReport.HourlyLimits {
		limits = append(limits, op)
	}
	sort.Strings(limits)
	for _, op := range limits {
		fmt.Printf("  limit %-15s %d/hour\n", op+":", usageReport.HourlyLimits[op])
	}

	historyPath := filepath.Join(cfg.ProjectRoot, ".kylo", historyFileName)
	if _, err := os.Stat(historyPath); err != nil {
		return nil
	}
	hist, err := history.Open(historyPath)
	if err != nil {
		slog.Warn("history store unavailable", "path", historyPath, "error", err)
		return nil
	}
	defer hist.Close()

	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return err
	}
	snapshots, err := hist.LoadSnapshots(root, time.Now().AddDate(0, 0, -30))
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return nil
	}

	fmt.Println("\nRecent scans")
	for _, snap := range snapshots {
		fmt.Printf("  %s  files=%d issues=%d (critical=%d high=%d medium=%d error=%d)\n",
			snap.Timestamp.Format(time.RFC3339), snap.FileCount, snap.IssueCount,
			snap.CriticalCount, snap.HighCount, snap.MediumCount, snap.ErrorCount)
	}
	return nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	v := vault.New(cfg.ProjectRoot)

	providerKey := os.Getenv("KYLO_PROVIDER_KEY")
	if providerKey == "" {
		key, err := v.GetAPIKey("gemini")
		if err == nil {
			providerKey = key
		} else {
			slog.Warn("no provider API key configured, relay will reject analysis requests", "error", err)
		}
	}

	provider := relay.NewHTTPProvider(cfg.Relay.ProviderEndpoint, providerKey, cfg.Relay.ProviderTimeout)
	server := relay.NewServer(relay.Config{
		Listen:      cfg.Relay.Listen,
		Token:       cfg.Relay.Token,
		RatePerHour: cfg.Relay.RatePerHour,
	}, provider)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return err
	}
	slog.Info("relay listening", "addr", cfg.Relay.Listen)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

func requireAdmin(v *vault.Vault) error {
	token := os.Getenv("KYLO_ADMIN_TOKEN")
	if token == "" {
		return fmt.Errorf("KYLO_ADMIN_TOKEN must be set for key management")
	}
	if !v.VerifyAdminToken(token) {
		return fmt.Errorf("admin token rejected")
	}
	return nil
}

func runKeys(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: kylo keys <set|list|remove> [arguments]")
	}

	v := vault.New(cfg.ProjectRoot)
	if !v.AdminExists() {
		return fmt.Errorf("no admin token set, run 'kylo admin-token <token>' first")
	}
	if err := requireAdmin(v); err != nil {
		return err
	}

	switch args[0] {
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: kylo keys set <service> <key>")
		}
		if err := v.StoreAPIKey(args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("Stored key for %s\n", args[1])
		return nil
	case "list":
		services, err := v.ListKeys()
		if err != nil {
			return err
		}
		if len(services) == 0 {
			fmt.Println("No keys stored.")
			return nil
		}
		for _, service := range services {
			fmt.Println(service)
		}
		return nil
	case "remove":
		if len(args) != 2 {
			return fmt.Errorf("usage: kylo keys remove <service>")
		}
		removed, err := v.RemoveAPIKey(args[1])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no key stored for %s", args[1])
		}
		fmt.Printf("Removed key for %s\n", args[1])
		return nil
	default:
		return fmt.Errorf("unknown keys subcommand %q", args[0])
	}
}

func runAdminToken(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kylo admin-token <token>")
	}

	v := vault.New(cfg.ProjectRoot)
	if v.AdminExists() {
		// Rotation requires proving knowledge of the current token.
		if err := requireAdmin(v); err != nil {
			return err
		}
	}
	if err := v.SetAdminToken(args[0]); err != nil {
		return err
	}
	fmt.Println("Admin token set.")
	return nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
