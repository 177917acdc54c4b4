package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oriys/fabrickv/internal/cache"
	"github.com/oriys/fabrickv/internal/config"
	"github.com/oriys/fabrickv/internal/fabric/vsockfabric"
	"github.com/oriys/fabrickv/internal/logging"
	"github.com/oriys/fabrickv/internal/metrics"
	"github.com/oriys/fabrickv/internal/poolmgr"
	"github.com/oriys/fabrickv/internal/server"
)

func daemonCmd() *cobra.Command {
	var (
		vsockPort uint32
		backend   string
		pgDSN     string
		httpAddr  string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the pool server daemon",
		Long:  "Accept vsock connections and serve pool lifecycle and IO requests against the configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			} else {
				cfg = config.DefaultConfig()
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("vsock-port") {
				cfg.Vsock.Port = vsockPort
			}
			if cmd.Flags().Changed("backend") {
				cfg.PoolManager.Backend = backend
			}
			if cmd.Flags().Changed("pg-dsn") {
				cfg.PoolManager.Postgres.DSN = pgDSN
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}

			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)
			logging.SetLevelFromString(cfg.Daemon.LogLevel)

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			mgr, shutdownMgr, err := buildPoolManager(cfg)
			if err != nil {
				return fmt.Errorf("build pool manager: %w", err)
			}
			defer shutdownMgr()

			idx := server.NewIndex()

			var httpServer *http.Server
			if httpAddr != "" {
				httpServer = startMetricsServer(httpAddr)
				logging.Op().Info("metrics server started", "addr", httpAddr)
			}

			listener, err := vsockfabric.Listen(cfg.Vsock.Port)
			if err != nil {
				return fmt.Errorf("vsock listen: %w", err)
			}
			logging.Op().Info("fabricd started",
				"vsock_port", cfg.Vsock.Port,
				"backend", cfg.PoolManager.Backend,
				"max_message_mb", cfg.Vsock.MaxMessageMB,
			)

			ctx, cancel := context.WithCancel(context.Background())
			var wg sync.WaitGroup
			wg.Add(1)
			go acceptLoop(ctx, &wg, listener, cfg, mgr, idx)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Op().Info("shutdown signal received")

			cancel()
			listener.Close()
			if httpServer != nil {
				ctx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
				httpServer.Shutdown(ctx)
				httpCancel()
			}
			wg.Wait()
			return nil
		},
	}

	cmd.Flags().Uint32Var(&vsockPort, "vsock-port", 9090, "vsock listen port")
	cmd.Flags().StringVar(&backend, "backend", "", "pool backend (memory, persistent, hashindexed, rediscache)")
	cmd.Flags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN for the hashindexed backend")
	cmd.Flags().StringVar(&httpAddr, "http", "", "metrics/health HTTP address (e.g. :8090); unset disables it")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

// buildPoolManager constructs the configured poolmgr.PoolManager, special-
// casing hashindexed to wire a tiered read cache in front of Postgres when
// Redis is reachable — the registry-based poolmgr.New path has no room for
// a second dependency like a cache.Cache, so this bypasses it for that one
// backend.
func buildPoolManager(cfg *config.Config) (poolmgr.PoolManager, func(), error) {
	switch cfg.PoolManager.Backend {
	case "hashindexed":
		var c cache.Cache
		var invalidator *cache.CacheInvalidator
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.PoolManager.Redis.Addr,
			Password: cfg.PoolManager.Redis.Password,
			DB:       cfg.PoolManager.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logging.Op().Warn("redis unavailable, hashindexed running without a read cache", "error", err)
			rdb.Close()
		} else {
			l1 := cache.NewInMemoryCache()
			l2 := cache.NewRedisCacheFromClient(rdb, "")
			c = cache.NewTieredCache(l1, l2, 10*time.Second)
			invalidator = cache.NewCacheInvalidator(l1, rdb)
			go invalidator.Start(context.Background())
		}

		h, err := poolmgr.NewHashIndexedWithCache(context.Background(), cfg.PoolManager.Postgres.DSN, c)
		if err != nil {
			if invalidator != nil {
				invalidator.Close()
			}
			return nil, nil, err
		}
		return h, func() {
			h.Shutdown()
			if invalidator != nil {
				invalidator.Close()
			}
		}, nil

	default:
		backendCfg := map[string]string{
			"dsn":      cfg.PoolManager.Postgres.DSN,
			"addr":     cfg.PoolManager.Redis.Addr,
			"password": cfg.PoolManager.Redis.Password,
		}
		mgr, err := poolmgr.New(cfg.PoolManager.Backend, backendCfg)
		if err != nil {
			return nil, nil, err
		}
		return mgr, func() {}, nil
	}
}

// acceptLoop accepts vsock connections until ctx is done, serving each on
// its own goroutine, no worker-pool indirection since a Responder's own
// blocking PostRecv is already the throttle.
func acceptLoop(ctx context.Context, wg *sync.WaitGroup, listener net.Listener, cfg *config.Config, mgr poolmgr.PoolManager, idx *server.Index) {
	defer wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logging.Op().Error("accept failed", "error", err)
				return
			}
		}
		metrics.Global().RecordConnectionOpened()
		go serveConn(ctx, conn, cfg, mgr, idx)
	}
}

func serveConn(ctx context.Context, conn net.Conn, cfg *config.Config, mgr poolmgr.PoolManager, idx *server.Index) {
	connID := uuid.New().String()
	defer metrics.Global().RecordConnectionClosed()
	transport := vsockfabric.Accept(conn, cfg.Vsock.MaxMessageMB<<20, cfg.Vsock.MaxInjectBytes)
	defer transport.Close()

	logging.Op().Debug("connection accepted", "conn_id", connID, "remote", conn.RemoteAddr())
	responder := server.NewResponder(transport, mgr, idx, cfg.Daemon.AuthID, cfg.Vsock.MaxMessageMB<<20)
	if err := responder.Serve(ctx); err != nil {
		logging.Op().Debug("connection ended", "conn_id", connID, "error", err)
	}
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("GET /stats", metrics.Global().JSONHandler())
	mux.Handle("GET /stats/timeseries", metrics.Global().TimeSeriesHandler())
	mux.Handle("GET /metrics", metrics.PrometheusHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("metrics server error", "error", err)
		}
	}()
	return srv
}
