// File: cmd/wordrush/main.go
// License: Apache-2.0
//
// wordrush runs the game API and the WebSocket broadcast server.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"github.com/wordrush/wsreactor/control"
	"github.com/wordrush/wsreactor/game"
	"github.com/wordrush/wsreactor/internal/concurrency"
	"github.com/wordrush/wsreactor/router"
	"github.com/wordrush/wsreactor/server"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultEnvFile = ".env"

func main() {
	// Flags read their env sources while parsing, so the env file has to be
	// in the environment before the command runs.
	if err := control.LoadEnvFile(envFileFromArgs(os.Args[1:])); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "wordrush:", err)
		os.Exit(1)
	}
}

func envFileFromArgs(args []string) string {
	for i, a := range args {
		switch {
		case strings.HasPrefix(a, "--env-file="):
			return strings.TrimPrefix(a, "--env-file=")
		case a == "--env-file" && i+1 < len(args):
			return args[i+1]
		}
	}
	if v, ok := os.LookupEnv(control.EnvPrefix + "ENV_FILE"); ok {
		return v
	}
	return defaultEnvFile
}

func env(name string) cli.ValueSourceChain {
	return cli.EnvVars(control.EnvPrefix + name)
}

func newCommand() *cli.Command {
	d := control.DefaultConfig()
	return &cli.Command{
		Name:  "wordrush",
		Usage: "multiplayer elimination word game server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: defaultEnvFile, Usage: "dotenv file loaded at start and on SIGHUP", Sources: env("ENV_FILE")},
			&cli.StringFlag{Name: "address", Value: d.Address, Usage: "bind address", Sources: env("ADDRESS")},
			&cli.IntFlag{Name: "http-port", Value: d.HTTPPort, Usage: "HTTP API port", Sources: env("HTTP_PORT")},
			&cli.IntFlag{Name: "ws-port", Value: d.WebSocketPort, Usage: "WebSocket port", Sources: env("WEBSOCKET_PORT")},
			&cli.IntFlag{Name: "workers", Value: d.Workers, Usage: "worker goroutines per server", Sources: env("WORKERS")},
			&cli.DurationFlag{Name: "http-idle-timeout", Value: d.HTTPIdleTimeout, Usage: "close idle HTTP connections after", Sources: env("HTTP_IDLE_TIMEOUT")},
			&cli.DurationFlag{Name: "ws-idle-timeout", Value: d.WSIdleTimeout, Usage: "close idle WebSocket connections after, 0 never", Sources: env("WS_IDLE_TIMEOUT")},
			&cli.StringFlag{Name: "allowed-origin", Value: d.AllowedOrigin, Usage: "Access-Control-Allow-Origin value", Sources: env("ALLOWED_ORIGIN")},
			&cli.DurationFlag{Name: "round-duration", Value: d.RoundDuration, Usage: "time limit of one round", Sources: env("ROUND_DURATION")},
			&cli.DurationFlag{Name: "vote-duration", Value: d.VoteDuration, Usage: "time limit of one vote", Sources: env("VOTE_DURATION")},
			&cli.IntFlag{Name: "max-players", Value: d.MaxPlayers, Usage: "lobby capacity", Sources: env("MAX_PLAYERS")},
			&cli.FloatFlag{Name: "rate-limit", Value: d.RateLimit, Usage: "inbound WebSocket messages per second per client, 0 disables", Sources: env("RATE_LIMIT")},
			&cli.IntFlag{Name: "rate-burst", Value: d.RateBurst, Usage: "inbound WebSocket burst per client", Sources: env("RATE_BURST")},
			&cli.StringFlag{Name: "log-level", Value: d.LogLevel, Usage: "debug, info, warn or error", Sources: env("LOG_LEVEL")},
			&cli.StringFlag{Name: "log-format", Value: d.LogFormat, Usage: "json or console", Sources: env("LOG_FORMAT")},
			&cli.StringFlag{Name: "metrics-address", Value: d.MetricsAddress, Usage: "host:port serving /metrics, empty disables", Sources: env("METRICS_ADDRESS")},
		},
		Action: run,
	}
}

func configFrom(cmd *cli.Command) *control.Config {
	return &control.Config{
		Address:         cmd.String("address"),
		HTTPPort:        int(cmd.Int("http-port")),
		WebSocketPort:   int(cmd.Int("ws-port")),
		Workers:         int(cmd.Int("workers")),
		HTTPIdleTimeout: cmd.Duration("http-idle-timeout"),
		WSIdleTimeout:   cmd.Duration("ws-idle-timeout"),
		AllowedOrigin:   cmd.String("allowed-origin"),
		RoundDuration:   cmd.Duration("round-duration"),
		VoteDuration:    cmd.Duration("vote-duration"),
		MaxPlayers:      int(cmd.Int("max-players")),
		RateLimit:       cmd.Float("rate-limit"),
		RateBurst:       int(cmd.Int("rate-burst")),
		LogLevel:        cmd.String("log-level"),
		LogFormat:       cmd.String("log-format"),
		MetricsAddress:  cmd.String("metrics-address"),
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg := configFrom(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := control.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	metrics := control.NewMetrics()
	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)

	store := control.NewConfigStore()
	store.SetConfig(cfg.Dynamic())
	store.OnReload(func() {
		log.Info("allowed origin in effect", zap.String("origin", store.GetString(control.KeyAllowedOrigin, "*")))
	})
	reloader := control.NewReloader(cmd.String("env-file"), store, log.Named("reload"))

	cron := concurrency.NewCron(concurrency.DefaultCronTick, log.Named("cron"))
	pool := server.NewPool(log.Named("pool"), metrics)
	g := game.New(game.Config{
		MaxPlayers:    cfg.MaxPlayers,
		RoundDuration: cfg.RoundDuration,
		VoteDuration:  cfg.VoteDuration,
	}, game.WithScheduler(cron), game.WithLogger(log.Named("game")))
	svc := game.NewService(g, pool, log.Named("game"))
	if err := svc.RegisterJobs(cron); err != nil {
		return err
	}

	rt := router.New(
		router.WithLogger(log.Named("http")),
		router.WithMetrics(metrics),
		router.WithConfigStore(store),
		router.WithDebugProbes(probes),
	)
	svc.Register(rt)
	probes.RegisterProbe("game", func() any { return g.Stats() })
	probes.RegisterProbe("pool.size", func() any { return pool.Len() })

	common := []server.ServerOption{
		server.WithLogger(log),
		server.WithMetrics(metrics),
		server.WithPool(pool),
		server.WithDebugProbes(probes),
		server.WithRateLimit(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
	httpSrv, wsSrv := newServers(cfg, rt, pool, log, common...)

	if err := httpSrv.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	defer httpSrv.Shutdown()
	if err := wsSrv.Start(); err != nil {
		return fmt.Errorf("start websocket server: %w", err)
	}
	defer wsSrv.Shutdown()
	rt.LogRoutes()

	if cfg.MetricsAddress != "" {
		ms := &http.Server{Addr: cfg.MetricsAddress, Handler: metricsMux(metrics), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			ms.Shutdown(sctx)
		}()
		log.Info("metrics listening", zap.String("address", cfg.MetricsAddress))
	}

	cron.Start()
	defer cron.Stop()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go reloader.Watch(ctx)

	log.Info("wordrush running",
		zap.Int("http_port", httpSrv.Port()),
		zap.Int("ws_port", wsSrv.Port()),
	)
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func metricsMux(m *control.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// newServers builds the HTTP and WebSocket listeners. Both serve the router
// and relay WebSocket messages, so an upgrade on either port behaves alike.
func newServers(cfg *control.Config, rt *router.Router, pool *server.Pool, log *zap.Logger, opts ...server.ServerOption) (httpSrv, wsSrv *server.Server) {
	handler := server.HandlerFuncs{HTTP: rt.HandleHTTP, Message: game.Relay(pool, log.Named("relay"))}

	httpCfg := server.DefaultConfig()
	httpCfg.Name = "http"
	httpCfg.Address = cfg.Address
	httpCfg.Port = cfg.HTTPPort
	httpCfg.Workers = cfg.Workers
	httpCfg.IdleTimeout = cfg.HTTPIdleTimeout

	wsCfg := *httpCfg
	wsCfg.Name = "ws"
	wsCfg.Port = cfg.WebSocketPort
	wsCfg.IdleTimeout = cfg.WSIdleTimeout
	return server.New(httpCfg, handler, opts...), server.New(&wsCfg, handler, opts...)
}
