package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"chain-screening/internal/alerting"
	"chain-screening/internal/config"
	"chain-screening/internal/metrics"
	"chain-screening/internal/overrides"
	"chain-screening/internal/patterns"
	"chain-screening/internal/provider"
	"chain-screening/internal/sanctions"
	"chain-screening/internal/scheduler"
	"chain-screening/internal/screening"
	"chain-screening/internal/service"
	"chain-screening/internal/storage"
	"chain-screening/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newProviders() ([]provider.Provider, error) {
	pc := a.Config.Providers
	var out []provider.Provider

	if pc.Oracle.Enabled {
		out = append(out, provider.NewOracle(provider.OracleOptions{
			Name:            pc.Oracle.Name,
			RPCURL:          pc.Oracle.RPCURL,
			ContractAddress: pc.Oracle.ContractAddress,
			Chains:          pc.Oracle.Chains,
			Timeout:         pc.Oracle.RequestTimeout,
		}, a.Logger))
	}

	if pc.Vendor.Enabled {
		userAgent := pc.Vendor.UserAgent
		if userAgent == "" {
			userAgent = version.UserAgent()
		}
		out = append(out, provider.NewVendor(provider.VendorOptions{
			Name:               pc.Vendor.Name,
			BaseURL:            pc.Vendor.BaseURL,
			APIKey:             pc.Vendor.APIKey,
			Timeout:            pc.Vendor.RequestTimeout,
			UserAgent:          userAgent,
			Chains:             pc.Vendor.Chains,
			BreakerMaxFailures: pc.Vendor.BreakerMaxFailures,
			BreakerTimeout:     pc.Vendor.BreakerTimeout,
		}, a.Logger))
	}

	if pc.List.Enabled {
		addresses, err := provider.LoadAddressList(pc.List.Path)
		if err != nil {
			return nil, err
		}
		out = append(out, provider.NewListMatcher(pc.List.Name, pc.List.Path, addresses, pc.List.Chains))
		a.Logger.Info().Str("path", pc.List.Path).Int("addresses", len(addresses)).Msg("static address list loaded")
	}

	if pc.Reference.Enabled {
		ds := sanctions.DefaultDataset()
		if pc.Reference.DatasetPath != "" {
			loaded, err := sanctions.LoadDataset(pc.Reference.DatasetPath)
			if err != nil {
				return nil, err
			}
			ds = loaded
		}
		index := sanctions.NewIndex(ds)
		analyzer := patterns.NewAnalyzer(patterns.Options{
			Mixers:             index.MixerSet(),
			ReportingThreshold: decimal.NewFromFloat(pc.Reference.ReportingThreshold),
		})
		out = append(out, provider.NewReference(index, analyzer, provider.ReferenceOptions{
			Name:               pc.Reference.Name,
			FuzzyThreshold:     pc.Reference.FuzzyThreshold,
			OwnershipThreshold: pc.Reference.OwnershipThreshold,
		}, a.Logger))
	}

	return out, nil
}

// newOverrides builds the override manager from seed files and, when a store is open,
// the persisted rows. The tier gate error is returned wrapped with its config keys.
func (a *App) newOverrides(ctx context.Context, store storage.OverrideStore) (*overrides.Manager, error) {
	oc := a.Config.Overrides
	var opts []overrides.Option
	if oc.MinimumTier != "" {
		opts = append(opts, overrides.WithMinimumTier(overrides.Tier(oc.MinimumTier)))
	}
	mgr, err := overrides.NewManager(overrides.Tier(oc.Tier), opts...)
	if err != nil {
		return nil, fmt.Errorf("overrides.tier: %w", err)
	}

	seeds := []struct {
		list overrides.List
		path string
	}{
		{overrides.Blocklist, oc.BlocklistFile},
		{overrides.Allowlist, oc.AllowlistFile},
	}
	for _, seed := range seeds {
		if seed.path == "" {
			continue
		}
		entries, err := overrides.ReadFile(seed.path)
		if errors.Is(err, fs.ErrNotExist) {
			a.Logger.Warn().Str("path", seed.path).Msg("override seed file missing; starting empty")
			continue
		}
		if err != nil {
			return nil, err
		}
		n, err := mgr.Import(seed.list, entries)
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", seed.path, err)
		}
		a.Logger.Info().Str("list", string(seed.list)).Str("path", seed.path).Int("entries", n).Msg("override seed loaded")
	}

	if store != nil {
		for _, list := range []overrides.List{overrides.Blocklist, overrides.Allowlist} {
			entries, err := store.ListOverrides(ctx, list)
			if err != nil {
				return nil, err
			}
			if _, err := mgr.Import(list, entries); err != nil {
				return nil, fmt.Errorf("load stored %s: %w", list, err)
			}
		}
	}
	return mgr, nil
}

func (a *App) screeningConfig() screening.Config {
	sc := a.Config.Screening
	return screening.Config{
		BlockThreshold:     sc.BlockThreshold,
		ReviewThreshold:    sc.ReviewThreshold,
		ProviderTimeout:    sc.ProviderTimeout,
		MinProviderSuccess: sc.MinProviderSuccess,
		AllowlistPriority:  sc.AllowlistPriority,
		Weights:            a.Config.ProviderWeights(),
	}
}

// newAggregator wires providers and override lists. A tier below the override
// minimum is a configuration error and aborts setup.
func (a *App) newAggregator(ctx context.Context, store storage.OverrideStore, recorder screening.Recorder) (*screening.Aggregator, error) {
	providers, err := a.newProviders()
	if err != nil {
		return nil, err
	}
	registry, err := provider.NewRegistry(providers...)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		a.Logger.Warn().Msg("no screening providers enabled; every screening will be REVIEW")
	}

	mgr, err := a.newOverrides(ctx, store)
	if err != nil {
		return nil, err
	}
	opts := []screening.Option{screening.WithOverrides(mgr)}
	if recorder != nil {
		opts = append(opts, screening.WithRecorder(recorder))
	}

	return screening.New(registry, a.screeningConfig(), a.Logger, opts...), nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// overrideStore avoids handing out a typed nil inside the interface.
func overrideStore(store *storage.Store) storage.OverrideStore {
	if store == nil {
		return nil
	}
	return store
}

func (a *App) serveMetrics(ctx context.Context, reg *prometheus.Registry) {
	addr := a.Config.Metrics.ListenAddr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		a.Logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}

// Run executes the long-running watchlist monitor.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; override persistence and advisory locking disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	agg, err := a.newAggregator(ctx, overrideStore(store), metrics.New(reg))
	if err != nil {
		return err
	}
	a.serveMetrics(ctx, reg)

	mc := a.Config.Monitor
	sched, err := scheduler.New(scheduler.Options{
		Interval:     mc.Interval,
		AlignToStart: mc.AlignToBucket,
		StartupDelay: mc.StartupDelay,
		Immediate:    true,
	}, a.Logger)
	if err != nil {
		return err
	}

	deps := service.Deps{Scheduler: sched, Screener: agg, Notifier: a.newNotifier()}
	if deps.Notifier == nil {
		deps.Notifier = alerting.NewLogNotifier(a.Logger)
	}
	if store != nil {
		deps.Locker = store
	}
	monitor := service.New(mc, deps, a.Logger)

	a.Logger.Info().Int("watchlist", len(mc.Watchlist)).Strs("providers", agg.Providers()).Msg("starting watchlist monitor")
	err = monitor.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitor terminated with error")
		return err
	}

	a.Logger.Info().Msg("watchlist monitor stopped")
	return nil
}
