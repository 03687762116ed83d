package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"perpguard/internal/cycle"
	"perpguard/internal/execution"
	"perpguard/internal/funding"
	"perpguard/internal/notify"
	"perpguard/internal/obs"
	"perpguard/internal/ops"
	"perpguard/internal/risk"
	"perpguard/internal/store"
	"perpguard/internal/venue"
	"perpguard/internal/venue/binance"
	"perpguard/internal/venue/paper"
	"perpguard/pkg/conn"
	"perpguard/pkg/exception"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("trader: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", ops.DefaultConfigPath, "YAML config path")
	envPath := flag.String("env", ops.DefaultEnvPath, ".env path")
	once := flag.Bool("once", false, "run a single cycle and exit")
	interval := flag.Duration("interval", 0, "cycle interval (default: one timeframe bar)")
	freeze := flag.String("freeze", "", "freeze trading with the given reason and exit")
	unfreeze := flag.Bool("unfreeze", false, "clear the freeze state and exit")
	cancelAll := flag.Bool("cancel-all", false, "cancel every persisted order of the symbol and exit")
	paperMode := flag.Bool("paper", false, "trade against the in-memory paper venue")
	flag.Parse()

	cfg, err := ops.Load(*configPath, *envPath)
	if err != nil {
		return err
	}
	if *paperMode {
		cfg.Paper.Enabled = true
	}

	if addr := cfg.Monitoring.PyroscopeAddr; addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "perpguard.trader",
			ServerAddress:   addr,
			Tags:            map[string]string{"symbol": cfg.Trading.Symbol},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	if cfg.Store.Driver == conn.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return err
		}
	}
	db, err := conn.New(cfg.ConnOption())
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()
	st, err := store.NewGormStore(db.DB())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		logs.Info("shutdown signal received")
		cancel()
	}()

	guard, err := risk.NewGuard(cfg.Risk(), st)
	if err != nil {
		return err
	}
	switch {
	case *freeze != "":
		return guard.Freeze(ctx, risk.Reason(strings.TrimSpace(*freeze)))
	case *unfreeze:
		return guard.Unfreeze(ctx)
	}

	metrics := obs.NewMetrics()
	client, err := newVenue(cfg)
	if err != nil {
		return err
	}
	engine, err := execution.NewEngine(execution.Config{
		LadderLevels:      cfg.Trading.Order.LadderLevels,
		PostOnly:          cfg.Trading.Order.PostOnly,
		Leverage:          cfg.Trading.Leverage,
		MarginMode:        venue.MarginMode(cfg.Trading.MarginMode),
		MarketType:        cfg.Venue.MarketType,
		ProtectiveTrigger: venue.Trigger(cfg.Trading.Order.Trigger),
	}, client, st, execution.WithMetrics(metrics))
	if err != nil {
		return err
	}

	if *cancelAll {
		n, err := engine.CancelAll(ctx, cfg.Trading.Symbol)
		logs.Infof("evt=cancel_all symbol=%s canceled=%d", cfg.Trading.Symbol, n)
		return err
	}

	if n, err := engine.RecoverProtection(ctx); err != nil {
		return err
	} else if n > 0 {
		logs.Warnf("evt=protection_recovered positions=%d", n)
	}

	tg := notify.NewTelegram(notify.Option{
		Token:       cfg.Monitoring.Telegram.Token,
		ChatID:      cfg.Monitoring.Telegram.ChatID,
		MaxFailures: cfg.Monitoring.Telegram.MaxFailures,
	}, nil)
	opts := []cycle.Option{cycle.WithMetrics(metrics)}
	if cfg.Monitoring.Telegram.Enabled {
		opts = append(opts, cycle.WithNotifier(tg))
	}

	runner, err := cycle.NewRunner(cycle.Config{
		Symbol:        cfg.Trading.Symbol,
		OrderTTL:      cfg.OrderTTL(),
		FundingWindow: cfg.Trading.Funding.HoursWindow,
		FundingMethod: funding.ParseMethod(cfg.Trading.Funding.Method),
		FundingClamp:  cfg.Trading.Funding.Clamp,
	}, client, engine, guard, st, cycle.FileSignalSource{Path: cfg.Trading.SignalPath}, opts...)
	if err != nil {
		return err
	}

	if addr := cfg.Monitoring.MetricsAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux(metrics), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logs.Errorf("evt=metrics_server_error addr=%s err: %+v", addr, err)
			}
		}()
		defer func() {
			_ = srv.Close()
		}()
	}

	if *once {
		_, err := runner.RunOnce(ctx)
		return err
	}

	every := *interval
	if every <= 0 {
		every = cfg.TimeframeDuration()
	}
	logs.Infof("evt=trader_start symbol=%s venue=%s interval=%s paper=%v", cfg.Trading.Symbol, client.Name(), every, cfg.Paper.Enabled)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		// a failed cycle is logged by the runner; the next bar retries
		_, _ = runner.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func newVenue(cfg ops.Config) (venue.Client, error) {
	if cfg.Paper.Enabled {
		return paper.New(paper.Option{
			InitialBalance: cfg.Paper.InitialBalance,
			QuoteAsset:     cfg.Paper.QuoteAsset,
			Markets:        cfg.PaperMarkets(),
			FundingRate:    cfg.Paper.FundingRate,
			IntervalHours:  cfg.Trading.Funding.HoursWindow,
			MakerFeeBp:     cfg.Paper.MakerFeeBp,
			TakerFeeBp:     cfg.Paper.TakerFeeBp,
		}), nil
	}

	switch strings.ToLower(cfg.Venue.Name) {
	case "binance", "binanceusdm":
	default:
		return nil, errors.Wrap(exception.ErrVenueUnsupported, cfg.Venue.Name)
	}
	return binance.NewClient(binance.Option{
		BaseURL:    cfg.Venue.BaseURL,
		Testnet:    cfg.Venue.Testnet,
		APIKey:     cfg.Venue.APIKey,
		APISecret:  cfg.Venue.APISecret,
		RecvWindow: time.Duration(cfg.Venue.RecvWindowMs) * time.Millisecond,
	}, nil), nil
}

func metricsMux(m *obs.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}
