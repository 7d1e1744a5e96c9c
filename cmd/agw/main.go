// Package main is the entry point for the Antigravity gateway core. It runs
// the core with a terminal monitor, headless, or prints usage charts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"

	"github.com/j-veylop/antigravity-gateway/internal/app"
	"github.com/j-veylop/antigravity-gateway/internal/config"
	"github.com/j-veylop/antigravity-gateway/internal/decimal"
	"github.com/j-veylop/antigravity-gateway/internal/logger"
	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/services"
	"github.com/j-veylop/antigravity-gateway/internal/ui/tabs/accounts"
	"github.com/j-veylop/antigravity-gateway/internal/ui/tabs/dashboard"
	"github.com/j-veylop/antigravity-gateway/internal/ui/tabs/info"
	"github.com/j-veylop/antigravity-gateway/internal/ui/tabs/usage"
	"github.com/j-veylop/antigravity-gateway/internal/version"
)

func main() {
	args := os.Args[1:]

	if len(args) > 0 && (args[0] == "-v" || args[0] == "--version") {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch {
	case len(args) == 0:
		err = runMonitor()
	case args[0] == "headless":
		err = runHeadless()
	case args[0] == "usage":
		err = runUsage(args[1:], os.Stdout)
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", args[0])
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and initializes logging. The returned closer
// releases the log file, if any.
func setup(fallback io.Writer) (*config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	w, closeLog := fallback, func() {}
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closeLog = f, func() { _ = f.Close() }
	}
	logger.Init(cfg.LogLevel, w)
	return cfg, closeLog, nil
}

// startManager builds the service manager and starts the core.
func startManager(ctx context.Context, cfg *config.Config) (*services.Manager, error) {
	mgr, err := services.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	if err := mgr.Start(ctx); err != nil {
		_ = mgr.Close()
		return nil, err
	}
	return mgr, nil
}

func closeManager(mgr *services.Manager) {
	if err := mgr.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: error closing services: %v\n", err)
	}
}

// runMonitor runs the core under the terminal monitor.
func runMonitor() error {
	// The monitor owns the terminal, so logs go to LOG_PATH or nowhere.
	cfg, closeLog, err := setup(io.Discard)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr, err := startManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeManager(mgr)

	model := app.NewModel(mgr, nil)
	state := model.GetState()
	model.SetTabs([]app.Tab{
		dashboard.New(state),
		accounts.New(state),
		usage.New(state, mgr),
		info.New(state, cfg),
	})

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		if _, ok := <-sigChan; ok {
			p.Send(tea.Quit())
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}

// runHeadless runs the core until SIGINT or SIGTERM.
func runHeadless() error {
	cfg, closeLog, err := setup(os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr, err := startManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeManager(mgr)

	events, _ := mgr.Subscribe()
	defer mgr.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			logEvent(ev)
		}
	}
}

func logEvent(ev services.ServiceEvent) {
	switch e := ev.(type) {
	case services.PoolChangedEvent:
		logger.Info("credential event", "type", e.Event.Type, "credential", e.Event.CredentialID, "detail", e.Event.Detail)
	case services.ErrorEvent:
		logger.Warn("service error", "service", e.Service, "error", e.Error)
	case services.StatsEvent:
		logger.Debug("pool stats", "active", e.Active, "stored", e.Stored, "strategy", e.Strategy)
	}
}

// runUsage prints the recorded usage of one credential as ASCII charts.
func runUsage(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("usage", flag.ContinueOnError)
	mode := fs.String("mode", string(models.ModeDefault), "sampling mode: default or precise")
	window := fs.Duration("window", 0, "only show samples newer than this (0 for all)")
	height := fs.Int("height", 10, "chart height in rows")
	width := fs.Int("width", 70, "chart width in columns")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, closeLog, err := setup(os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	mgr, err := services.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer closeManager(mgr)

	if err := mgr.Tracker().Restore(); err != nil {
		return fmt.Errorf("failed to restore usage history: %w", err)
	}

	views, err := mgr.ListCredentials()
	if err != nil {
		return err
	}
	if fs.NArg() == 0 {
		printCredentials(out, views)
		return nil
	}

	view, err := findCredential(views, fs.Arg(0))
	if err != nil {
		return err
	}

	report := mgr.Usage(view.ID, models.UsageQuery{
		Mode:   models.ParseSamplingMode(*mode),
		Window: *window,
	})
	return printReport(out, view, report, *width, *height)
}

// findCredential matches an id, an id prefix or an email.
func findCredential(views []models.CredentialView, query string) (models.CredentialView, error) {
	var matches []models.CredentialView
	for _, v := range views {
		if v.ID == query || v.Email == query {
			return v, nil
		}
		if strings.HasPrefix(v.ID, query) {
			matches = append(matches, v)
		}
	}
	switch len(matches) {
	case 0:
		return models.CredentialView{}, fmt.Errorf("%w: %s", models.ErrNoCredential, query)
	case 1:
		return matches[0], nil
	default:
		return models.CredentialView{}, errors.New("ambiguous credential prefix " + query)
	}
}

func printCredentials(out io.Writer, views []models.CredentialView) {
	if len(views) == 0 {
		fmt.Fprintln(out, "No credentials configured.")
		return
	}
	fmt.Fprintf(out, "%-16s  %-32s  %-8s  %s\n", "ID", "EMAIL", "ENABLED", "AVAILABILITY")
	for _, v := range views {
		id := v.ID
		if len(id) > 16 {
			id = id[:16]
		}
		fmt.Fprintf(out, "%-16s  %-32s  %-8t  %s\n", id, v.Email, v.Enable, v.Availability)
	}
	fmt.Fprintln(out, "\nRun 'agw usage <id|email>' to chart a credential.")
}

func printReport(out io.Writer, view models.CredentialView, report models.UsageReport, width, height int) error {
	label := view.Email
	if label == "" {
		label = view.ID
	}
	fmt.Fprintf(out, "Usage for %s (mode %s", label, report.Mode)
	if report.Window > 0 {
		fmt.Fprintf(out, ", last %s", report.Window)
	}
	fmt.Fprintln(out, ")")

	names := make([]string, 0, len(report.Models))
	for name := range report.Models {
		names = append(names, name)
	}
	slices.Sort(names)

	if len(names) == 0 {
		fmt.Fprintln(out, "\nNo usage samples recorded.")
		return nil
	}

	for _, name := range names {
		u := report.Models[name]
		values := make([]float64, 0, len(u.Points))
		for _, p := range u.Points {
			if v, err := decimal.Parse(p.ConsumedPercent); err == nil {
				values = append(values, v.Float64())
			}
		}

		fmt.Fprintf(out, "\n%s\n", name)
		if len(values) == 0 {
			fmt.Fprintln(out, "  no samples")
			continue
		}
		fmt.Fprintln(out, asciigraph.Plot(values,
			asciigraph.Height(height),
			asciigraph.Width(width),
			asciigraph.Offset(4),
			asciigraph.Caption("consumed % per request"),
		))

		callsLeft := "unknown"
		if u.Stats.CallsLeft != nil {
			callsLeft = fmt.Sprintf("~%d", *u.Stats.CallsLeft)
		}
		fmt.Fprintf(out, "  samples %d  median %s%%  min %s%%  max %s%%  remaining %s%%  calls left %s\n",
			u.Stats.Count, orDash(u.Stats.Median), orDash(u.Stats.Min), orDash(u.Stats.Max),
			orDash(u.RemainingPercent), callsLeft)
	}
	fmt.Fprintf(out, "\nGenerated %s\n", report.Now.Local().Format(time.DateTime))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// printUsage prints the command-line usage information.
func printUsage() {
	fmt.Println(`Antigravity Gateway - credential rotation, quota tracking and streaming relay core

Usage:
  agw [flags]                 Run the core with the terminal monitor
  agw headless                Run the core without a UI until interrupted
  agw usage [id|email]        List credentials, or chart a credential's usage
        -mode default|precise   Sampling series to show (default "default")
        -window 6h              Only show recent samples
        -width, -height         Chart size

Flags:
  -h, --help      Show this help message
  -v, --version   Show version information

Monitor keys:
  1-4             Switch tabs (Dashboard, Accounts, Usage, Info)
  Tab/Shift+Tab   Next/previous tab
  j/k, Up/Down    Select credential
  f               Fetch quota for the selected credential
  e, d, t, n      Enable/disable, delete, refresh token, add (Accounts)
  s               Cycle rotation strategy (Accounts)
  m, w            Toggle sampling mode, cycle window (Usage)
  r               Reload
  ?               Toggle help
  q, Ctrl+C       Quit

Environment Variables:
  CREDENTIALS_PATH        Credential store (JSON)
  DATABASE_PATH           SQLite usage database
  LOG_PATH, LOG_LEVEL     Log destination and verbosity
  ROTATION_STRATEGY       round_robin, quota_exhausted or request_count
  GOOGLE_CLIENT_ID        OAuth client used for token refresh
  GOOGLE_CLIENT_SECRET

Configuration:
  .env files are read from the current directory,
  ~/.config/antigravity-gateway/.env and ~/.antigravity/.env`)
}
