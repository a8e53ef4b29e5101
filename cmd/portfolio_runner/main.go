package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"microcap_portfolio/internal/ai"
	"microcap_portfolio/internal/config"
	"microcap_portfolio/internal/cycle"
	"microcap_portfolio/internal/engine"
	"microcap_portfolio/internal/journal"
	"microcap_portfolio/internal/logger"
	"microcap_portfolio/internal/market"
	"microcap_portfolio/internal/market/alpaca"
	"microcap_portfolio/internal/storage"
	"microcap_portfolio/internal/telegram"
)

const VersionFile = "version.latest"

const usage = `Usage: portfolio_runner <command> [flags]

Commands:
  run       evaluate every position and write today's suggested orders
  status    stops, take-profit progress and event windows
  targets   take-profit ladder to place as GTC limit orders
  plan      size a one-off order: plan TICKER --entry X --stop Y [--cash Z]
  history   journaled cycles, or one day's orders with --date
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	// 1. Initialization
	cfg := config.Load()
	cfg.Version = readVersion()
	logger.Setup(cfg.LogFile, cfg.MaxLogSizeMB, cfg.MaxLogBackups, cfg.LogLevel)
	config.LogEnvFile()

	portfolio, err := config.LoadPortfolio(cfg.PortfolioFile)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			log.Fatalf("ERROR: %v", verr)
		}
		log.Fatalf("ERROR: Could not load portfolio: %v", err)
	}

	// Cancel the cycle on Ctrl-C; the state is only written at the end.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Println("WARNING: Signal received, aborting.")
		cancel()
	}()

	// 2. Dependencies
	deps := cycle.Deps{Store: storage.NewStore(cfg.StatePath())}
	if cmd != "targets" && cmd != "history" {
		deps.Provider, deps.Account = marketProviders(cfg)
	}

	if cfg.TelegramEnabled() {
		deps.Notifier = telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	}
	deps.Reviewer = ai.NewClient(cfg.ReviewWithAI, cfg.GeminiAPIKey, cfg.GeminiModel)

	var j *journal.Journal
	if cmd == "run" || cmd == "history" {
		j, err = journal.Open(cfg.JournalPath())
		if err != nil {
			if cmd == "history" {
				log.Fatalf("ERROR: %v", err)
			}
			log.Printf("WARNING: Journal unavailable, continuing without it: %v", err)
		} else {
			defer j.Close()
			deps.Journal = j
		}
	}

	r := cycle.New(cfg, portfolio, deps)
	log.Printf("Portfolio runner %s: %s (%d positions)", cfg.Version, cmd, len(portfolio.Positions))

	// 3. Dispatch
	switch cmd {
	case "run":
		err = runCmd(ctx, r, cfg, portfolio, args)
	case "status":
		err = statusCmd(ctx, r)
	case "targets":
		err = targetsCmd(r)
	case "plan":
		err = planCmd(ctx, r, args)
	case "history":
		err = historyCmd(ctx, j, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Printf("ERROR: %s failed: %v", cmd, err)
		os.Exit(1)
	}
}

// marketProviders wires Alpaca, overlaid with the snapshot file when one is
// configured. Without credentials the file alone is used.
func marketProviders(cfg *config.Config) (market.SnapshotProvider, market.AccountProvider) {
	credsErr := config.RequireMarketData()
	if credsErr != nil && cfg.MarketSnapshotFile == "" {
		log.Fatalf("ERROR: %v", credsErr)
	}

	var base market.SnapshotProvider
	var account market.AccountProvider
	if credsErr == nil {
		p := alpaca.NewProvider(cfg.MarketDataFeed, config.NyLoc)
		base, account = p, p
	} else {
		log.Printf("WARNING: %v; using %s only", credsErr, cfg.MarketSnapshotFile)
	}

	if cfg.MarketSnapshotFile == "" {
		return base, account
	}
	static, err := market.LoadStatic(cfg.MarketSnapshotFile, base)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	return static, account
}

func runCmd(ctx context.Context, r *cycle.Runner, cfg *config.Config, p config.Portfolio, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	capital := fs.Float64("capital", 0, "override capital for sizing")
	assumeFills := fs.Bool("assume-fills", cfg.AssumeFills || p.AssumeFills, "book every suggestion as filled (paper mode)")
	fromBroker := fs.Bool("capital-from-broker", false, "use the broker account equity as capital")
	fs.Parse(args)

	opts := cycle.RunOptions{AssumeFills: *assumeFills, CapitalFromBroker: *fromBroker}
	if *capital > 0 {
		opts.Capital = capital
	}

	rep, err := r.Run(ctx, opts)
	if rep != nil {
		rep.Render(r.Out)
	}
	return err
}

func statusCmd(ctx context.Context, r *cycle.Runner) error {
	rep, err := r.Status(ctx)
	if rep != nil {
		rep.Render(r.Out)
	}
	return err
}

func targetsCmd(r *cycle.Runner) error {
	rows, err := r.Targets()
	if err != nil {
		return err
	}
	cycle.RenderTargets(r.Out, r.Today().Format(engine.DateLayout), rows)
	return nil
}

func planCmd(ctx context.Context, r *cycle.Runner, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return errors.New("usage: plan TICKER --entry X --stop Y [--cash Z]")
	}
	ticker := strings.ToUpper(args[0])

	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	entry := fs.Float64("entry", 0, "entry price")
	stop := fs.Float64("stop", 0, "stop price")
	cash := fs.Float64("cash", -1, "available cash (default: broker cash, else capital minus invested)")
	fs.Parse(args[1:])

	req := cycle.PlanRequest{Ticker: ticker, Entry: *entry, Stop: *stop}
	if *cash >= 0 {
		req.Cash = cash
	}
	plan, err := r.Plan(ctx, req)
	if err != nil {
		return err
	}
	plan.Render(r.Out)
	return nil
}

func historyCmd(ctx context.Context, j *journal.Journal, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	date := fs.String("date", "", "show the orders of one run date (YYYY-MM-DD)")
	limit := fs.Int("limit", 20, "number of cycles to list")
	fs.Parse(args)

	if *date != "" {
		rows, err := j.OrdersForDate(ctx, *date)
		if err != nil {
			return err
		}
		cycle.RenderOrders(os.Stdout, *date, rows)
		return nil
	}
	runs, err := j.RecentRuns(ctx, *limit)
	if err != nil {
		return err
	}
	cycle.RenderRuns(os.Stdout, runs)
	return nil
}

func readVersion() string {
	version, err := os.ReadFile(VersionFile)
	if err != nil {
		return "v0.0.0-dev"
	}
	return strings.TrimSpace(string(version))
}
