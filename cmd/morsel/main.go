package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hpungsan/morsel/internal/catalog"
	"github.com/hpungsan/morsel/internal/config"
	"github.com/hpungsan/morsel/internal/db"
	"github.com/hpungsan/morsel/internal/gateway"
	"github.com/hpungsan/morsel/internal/label"
	"github.com/hpungsan/morsel/internal/logging"
	"github.com/hpungsan/morsel/internal/mcp"
	"github.com/hpungsan/morsel/internal/ops"
	"github.com/hpungsan/morsel/internal/session"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"analyze": true, "extract": true, "search": true,
	"history": true, "profile": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
  morsel - ingredient verdicts for packaged food

  Usage: morsel <command> [options]
         morsel --help

  MCP server mode requires piped input.`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if !isCLIMode() && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'morsel --help' for usage.\n")
		os.Exit(1)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatal("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".morsel")

	if err := config.LoadEnv(".env", filepath.Join(baseDir, ".env")); err != nil {
		fatal("failed to load .env: %v", err)
	}
	cwd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	config.ApplyEnv(cfg, os.LookupEnv)

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fatal("%v", err)
	}
	defer func() { _ = log.Sync() }()

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		log.Warn("unknown tools in disabled_tools", zap.Strings("tools", unknown))
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		log.Warn("unknown types in disabled_types", zap.Strings("types", unknown))
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fatal("failed to initialize database: %v", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	gw := gateway.New(gateway.Config{
		URL:     cfg.GatewayURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: cfg.RequestTimeout(),
	}, log)
	if cfg.APIKey == "" {
		log.Warn("MORSEL_API_KEY is not set; analyses will fail with SERVICE_UNAVAILABLE")
	}

	d := &deps{
		db:       database,
		cfg:      cfg,
		baseDir:  baseDir,
		log:      log,
		gw:       gw,
		products: catalog.Default(),
	}

	if isCLIMode() {
		if err := newCLIApp(d).Run(os.Args); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// MCP server mode (default)
	ctrl := session.New(gw, session.WithLogger(log), session.WithRecorder(ops.NewHistoryRecorder(database)))
	h := mcp.NewHandlers(database, cfg, ctrl, label.New(gw, log), d.products)
	if err := mcp.Run(h, Version); err != nil {
		fatal("%v", err)
	}
}
