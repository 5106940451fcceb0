// # cmd/kylo/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"kylo/internal/config"
	"kylo/internal/shared/observability"
)

const VERSION = "1.0.0"

var (
	configPath = flag.String("config", "./kylo.toml", "Path to config file")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	version    = flag.Bool("version", false, "Print version and exit")
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `kylo - local security audit engine

Usage:
  kylo [flags] <command> [arguments]

Commands:
  init                     Prepare the project workspace (.kylo directory, README stub)
  audit [target]           Audit a file or directory and print the JSON report
  secure <target>          Audit a target and print a human-readable security summary
  stats                    Print usage counters and recent scan history
  serve                    Run the analysis relay server
  keys <set|list|remove>   Manage provider API keys (requires admin token)
  admin-token <token>      Set the admin token guarding key management

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if *version {
		fmt.Printf("kylo v%s\n", VERSION)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if os.IsNotExist(err) && *configPath == "./kylo.toml" {
			cfg = config.Default()
		} else {
			slog.Error("failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	if endpoint := os.Getenv("KYLO_OTLP_ENDPOINT"); endpoint != "" {
		shutdown, err := observability.InitTracing(ctx, endpoint)
		if err != nil {
			slog.Warn("tracing disabled", "error", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					slog.Warn("tracing shutdown failed", "error", err)
				}
			}()
		}
	}

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(2)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var cmdErr error
	switch command {
	case "init":
		cmdErr = runInit(cfg)
	case "audit":
		cmdErr = runAudit(ctx, cfg, args)
	case "secure":
		cmdErr = runSecure(ctx, cfg, args)
	case "stats":
		cmdErr = runStats(cfg)
	case "serve":
		cmdErr = runServe(ctx, cfg)
	case "keys":
		cmdErr = runKeys(cfg, args)
	case "admin-token":
		cmdErr = runAdminToken(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		printUsage()
		os.Exit(2)
	}

	if cmdErr != nil {
		slog.Error("command failed", "command", command, "error", cmdErr)
		os.Exit(1)
	}
}
