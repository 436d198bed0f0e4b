package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/oschwald/maxminddb-golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sudorandom/traffic-globe/pkg/config"
	"github.com/sudorandom/traffic-globe/pkg/feed"
	"github.com/sudorandom/traffic-globe/pkg/geoip"
	"github.com/sudorandom/traffic-globe/pkg/hub"
	"github.com/sudorandom/traffic-globe/pkg/server"
	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
	"github.com/sudorandom/traffic-globe/pkg/utils"
)

var cli struct {
	Config   string `short:"c" type:"path" help:"Path to the YAML config file."`
	LogLevel string `help:"Override the configured log level." enum:",debug,info,warn,error" default:""`
	NoGen    bool   `name:"no-generator" help:"Disable the synthetic traffic generator."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("traffic-server"),
		kong.Description("Serves the live traffic scene over websocket and HTTP."),
	)
	_ = godotenv.Load()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		_, _ = os.Stderr.WriteString("loading config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if cli.LogLevel != "" {
		cfg.Logger.Level = cli.LogLevel
	}
	if cli.NoGen {
		cfg.Generator.Enabled = false
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		_, _ = os.Stderr.WriteString("building logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := trafficengine.New(cfg.Engine.Config,
		trafficengine.WithLogger(logger),
		trafficengine.WithMetrics(trafficengine.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}

	var counters *utils.CounterStore
	if cfg.Storage.CounterPath != "" {
		counters, err = utils.OpenCounterStore(cfg.Storage.CounterPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := counters.Close(); err != nil {
				logger.Error("closing counter store", zap.Error(err))
			}
		}()
		total, suspicious, err := counters.Load()
		if err != nil {
			return err
		}
		engine.Seed(total, suspicious)
		logger.Info("restored counters", zap.Uint64("total", total), zap.Uint64("suspicious", suspicious))
	}

	resolver, closeResolver, err := buildResolver(ctx, cfg.GeoIP, logger)
	if err != nil {
		return err
	}
	defer closeResolver()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
	}

	// Workers stop before the stores above are closed.
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if counters != nil {
		wg.Go(func() {
			counters.Run(ctx, cfg.Storage.SaveInterval, func() (uint64, uint64) {
				st := engine.Stats()
				return st.TotalPackets, st.SuspiciousPackets
			}, logger)
		})
	}

	watchlist := feed.NewWatchlist(cfg.Watchlist)
	ingest := watchlist.Wrap(func(ev trafficengine.TrafficEvent) {
		if _, err := engine.Ingest(ev); err != nil {
			logger.Debug("event rejected", zap.Error(err))
		}
	})

	gen := feed.NewGenerator(cfg.Generator.Rate, cfg.Generator.SuspiciousRate, cfg.Generator.Seed, ingest, logger)
	h := hub.New(engine,
		hub.WithLogger(logger),
		hub.WithMetrics(hub.NewMetrics(reg)),
		hub.WithGenerator(gen),
		hub.WithStatsInterval(cfg.Hub.StatsInterval),
	)

	if cfg.Generator.Enabled {
		wg.Go(func() { gen.Run(ctx) })
	}

	if cfg.Upstream.URL != "" {
		up := feed.NewUpstream(cfg.Upstream.URL, ingest, engine.ApplyServerTotals, logger)
		wg.Go(func() {
			if err := up.Listen(ctx); err != nil {
				logger.Error("upstream stopped", zap.Error(err))
			}
		})
	}

	if rdb != nil {
		sub := feed.NewRedisSubscriber(rdb, cfg.Redis.EventsChannel, cfg.Redis.StatsChannel, ingest, engine.ApplyServerTotals, logger)
		wg.Go(func() { sub.Listen(ctx) })
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithGatherer(reg),
		server.WithClassifier(watchlist),
		server.WithSensor(trafficengine.Endpoint{
			Name:      cfg.Sensor.Name,
			Latitude:  cfg.Sensor.Latitude,
			Longitude: cfg.Sensor.Longitude,
		}, cfg.Sensor.Protocol),
	}
	if resolver != nil {
		opts = append(opts, server.WithResolver(resolver))
	}
	srv := server.New(engine, h, opts...)

	wg.Go(func() { engine.Run(ctx, cfg.Engine.TickInterval) })
	wg.Go(func() { h.Run(ctx) })

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildResolver wires the IP geolocation used by /receive. It returns a nil resolver when
// neither a MaxMind database nor cloud ranges are configured.
func buildResolver(ctx context.Context, cfg config.GeoIPConfig, logger *zap.Logger) (*geoip.Resolver, func(), error) {
	noop := func() {}
	if cfg.MMDBPath == "" && !cfg.CloudRanges {
		return nil, noop, nil
	}

	var trie *geoip.CloudTrie
	if cfg.CloudRanges {
		trie = geoip.LoadCloudTrie(ctx, utils.NewFetcher(cfg.CacheDir, logger), logger)
	}

	var mmdb *maxminddb.Reader
	if cfg.MMDBPath != "" {
		r, err := geoip.OpenMMDB(cfg.MMDBPath)
		if err != nil {
			return nil, noop, err
		}
		mmdb = r
	}

	closer := func() {
		if mmdb != nil {
			if err := mmdb.Close(); err != nil {
				logger.Warn("closing geoip database", zap.Error(err))
			}
		}
	}
	return geoip.NewResolver(trie, mmdb, logger), closer, nil
}
