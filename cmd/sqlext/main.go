package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tomyedwab/sqlext/database"
	"github.com/tomyedwab/sqlext/database/querylog"
)

type paramFlag database.Params

func (p paramFlag) String() string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (p paramFlag) Set(value string) error {
	name, v, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("expected name=value, got %q", value)
	}
	p[strings.TrimSpace(name)] = v
	return nil
}

type argFlag struct {
	args database.Args
}

func (a *argFlag) String() string {
	return fmt.Sprint([]any(a.args))
}

func (a *argFlag) Set(value string) error {
	a.args = append(a.args, value)
	return nil
}

func main() {
	params := paramFlag{}
	args := &argFlag{}

	var configPath = flag.String("config", os.Getenv("SQLEXT_CONFIG"), "Path to a YAML config file")
	var query = flag.String("query", "", "Statement to run")
	var execMode = flag.Bool("exec", false, "Run the statement as an exec and report affected rows")
	var dryRun = flag.Bool("dry-run", false, "Route the statement through an in-process proxy instead of the configured database")
	var recent = flag.Int("recent", 0, "Print the N most recent query log entries and exit")
	var prune = flag.Duration("prune", 0, "Delete query log entries older than this and exit")
	flag.Var(params, "param", "Named parameter as name=value (repeatable)")
	flag.Var(args, "arg", "Positional parameter (repeatable)")
	flag.Parse()

	// 1. Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := database.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	cfg.Logger = logger

	// 2. Query log, when configured
	var queryLog *querylog.Logger
	if cfg.QueryLog != "" {
		queryLog, err = querylog.Open(cfg.QueryLog, logger)
		if err != nil {
			logger.Error("Failed to open query log", "path", cfg.QueryLog, "error", err)
			os.Exit(1)
		}
		defer queryLog.Close()
		cfg.Observer = queryLog
	}

	if *recent > 0 || *prune > 0 {
		if queryLog == nil {
			logger.Error("No query log configured")
			os.Exit(1)
		}
		if err := maintainQueryLog(ctx, queryLog, *recent, *prune); err != nil {
			logger.Error("Query log maintenance failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if strings.TrimSpace(*query) == "" {
		fmt.Fprintln(os.Stderr, "usage: sqlext -query SQL [-param name=value]... [-arg value]...")
		flag.PrintDefaults()
		os.Exit(2)
	}
	var bindings database.Bindings
	switch {
	case len(params) > 0 && len(args.args) > 0:
		logger.Error("Use either -param or -arg, not both")
		os.Exit(2)
	case len(params) > 0:
		bindings = database.Params(params)
	case len(args.args) > 0:
		bindings = args.args
	}

	// 3. Connect
	var proxy *dryRunHost
	if *dryRun {
		proxy, err = startDryRun(cfg, *query)
		if err != nil {
			logger.Error("Failed to start dry run", "error", err)
			os.Exit(1)
		}
		defer proxy.Close()
		cfg = proxy.Config(cfg)
	}

	conn, err := database.Open(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect", "driver", cfg.Driver, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	// 4. Run
	ok := run(ctx, conn, *query, bindings, *execMode)

	if proxy != nil {
		for _, stmt := range proxy.Statements() {
			logger.Info("Dry run statement", "sql", stmt)
		}
	}
	stats := conn.Stats()
	logger.Info("Statistics", "count", stats.Count, "time", stats.Time.String())
	if !ok {
		os.Exit(1)
	}
}

func run(ctx context.Context, conn *database.Conn, query string, bindings database.Bindings, execMode bool) bool {
	s, err := conn.Prepare(ctx, query)
	if err != nil {
		return false
	}
	defer s.Close()
	s.BindValueList(bindings)
	slog.Info("Running statement", "stmt_id", s.ID(), "sql", s.ReconstructSQL(nil))

	if execMode {
		if !s.Exec(ctx, nil).IsExecuted() {
			return false
		}
		slog.Info("Statement executed", "rows_affected", s.RowsAffected())
		return true
	}

	if !s.Execute(ctx, nil).IsExecuted() {
		return false
	}
	enc := json.NewEncoder(os.Stdout)
	for _, row := range s.FetchAll() {
		if err := enc.Encode(row); err != nil {
			slog.Error("Failed to write row", "error", err)
			return false
		}
	}
	return true
}

func maintainQueryLog(ctx context.Context, queryLog *querylog.Logger, recent int, prune time.Duration) error {
	if prune > 0 {
		n, err := queryLog.Prune(ctx, prune)
		if err != nil {
			return err
		}
		slog.Info("Query log pruned", "deleted", n)
	}
	if recent > 0 {
		entries, err := queryLog.Recent(ctx, recent)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return level
}
