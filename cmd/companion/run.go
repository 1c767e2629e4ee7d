package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/gateway-companion/internal/config"
	"github.com/rickgao/gateway-companion/internal/connection"
	"github.com/rickgao/gateway-companion/internal/database"
	"github.com/rickgao/gateway-companion/internal/health"
	"github.com/rickgao/gateway-companion/internal/logging"
	"github.com/rickgao/gateway-companion/internal/recorder"
	"github.com/rickgao/gateway-companion/internal/statusserver"
	"github.com/rickgao/gateway-companion/internal/version"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the gateway and serve status until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "companion.yaml", "path to config file")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the gateway section when the config file changes")
	return cmd
}

func run(parent context.Context, configPath string, watch bool) error {
	if parent == nil {
		parent = context.Background()
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return err
	}

	// Set up structured logging
	logger, logCloser, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting companion",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
	)

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport := connection.NewWSTransport(transportConfig(cfg), logger)

	// The recorder needs the manager as its status source, so the manager
	// gets a sink that forwards to whatever is attached before Connect.
	var sinks connection.MultiSink
	sinks = append(sinks, logSink(logger))
	manager := connection.NewManager(managerConfig(cfg), transport,
		connection.EventSinkFunc(func(e connection.Event) { sinks.Emit(e) }),
		connection.WithLogger(logger),
	)

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		db := cfg.Recorder.Database
		logger.Info("connecting to database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)
		pool, err := database.Connect(ctx, db)
		if err != nil {
			return fmt.Errorf("connect recorder database: %w", err)
		}
		defer pool.Close()

		store := recorder.NewPgStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		rec = recorder.New(recorderConfig(cfg), store, manager, logger)
		sinks = append(sinks, rec)
		logger.Info("database connected")
	}

	gw := &gatewayState{current: gatewayConfig(cfg)}

	g, gctx := errgroup.WithContext(ctx)

	// The control loop outlives gctx so Destroy can run during shutdown.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	g.Go(func() error {
		if err := manager.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("connection manager: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		manager.Destroy()
		stopLoop()
		return nil
	})

	if rec != nil {
		if err := rec.Start(gctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := rec.Stop(stopCtx); err != nil {
				logger.Warn("recorder stop", "error", err)
			}
		}()
	}

	if cfg.Status.Enabled {
		srv := statusserver.New(cfg.Status.Addr, manager,
			statusserver.ReconnectorFunc(func() {
				current := gw.get()
				manager.ForceReconnect(&current)
			}),
			logger,
		)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if watch {
		watcher, err := config.NewWatcher(configPath, 0, logger, func(next *config.CompanionConfig) {
			if !gw.update(next) {
				logger.Info("config reloaded, gateway unchanged; other settings apply on restart")
				return
			}
			current := gw.get()
			logger.Info("gateway changed, reconnecting", "url", current.URL)
			manager.ForceReconnect(&current)
		})
		if err != nil {
			logger.Warn("config watcher disabled", "error", err)
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	manager.Connect(gw.get())
	logger.Info("companion running",
		"instance_id", manager.InstanceID(),
		"gateway", cfg.Gateway.URL,
		"status_addr", cfg.Status.Addr,
	)

	err = g.Wait()
	logger.Info("companion stopped")
	return err
}

// gatewayState holds the gateway section currently in effect.
type gatewayState struct {
	mu      sync.Mutex
	current connection.GatewayConfig
}

func (s *gatewayState) get() connection.GatewayConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// update stores next's gateway and reports whether it changed.
func (s *gatewayState) update(next *config.CompanionConfig) bool {
	gw := gatewayConfig(next)
	s.mu.Lock()
	defer s.mu.Unlock()
	if gw == s.current {
		return false
	}
	s.current = gw
	return true
}

func gatewayConfig(cfg *config.CompanionConfig) connection.GatewayConfig {
	return connection.GatewayConfig{URL: cfg.Gateway.URL, Token: cfg.Gateway.Token}
}

func managerConfig(cfg *config.CompanionConfig) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()

	mc.MinProtocol = cfg.Client.MinProtocol
	mc.MaxProtocol = cfg.Client.MaxProtocol
	mc.ClientID = cfg.Client.ID
	mc.DisplayName = cfg.Client.DisplayName
	mc.Role = cfg.Client.Role
	mc.Scopes = append([]string(nil), cfg.Client.Scopes...)

	mc.StateMethods = append([]string(nil), cfg.Methods.State...)
	mc.ResetMethods = append([]string(nil), cfg.Methods.Reset...)

	c := cfg.Connection
	mc.PollInterval = c.PollInterval
	mc.MinPollGap = c.MinPollGap
	mc.RequestTimeout = c.RequestTimeout
	mc.StaleAfter = c.StaleAfter
	mc.StaleCheckInterval = c.StaleCheckInterval
	mc.ReconnectBaseWait = c.ReconnectBaseWait
	mc.ReconnectMaxWait = c.ReconnectMaxWait
	mc.ReconnectJitter = c.ReconnectJitter

	mc.LatencyWindow = cfg.Latency.Window
	mc.TrendThreshold = cfg.Latency.TrendThreshold

	mc.Health = health.Thresholds{
		GoodBelow:    cfg.Health.GoodBelow,
		FairBelow:    cfg.Health.FairBelow,
		MaxErrorRate: cfg.Health.MaxErrorRate,
		MinRequests:  cfg.Health.MinRequests,
	}
	return mc
}

func transportConfig(cfg *config.CompanionConfig) connection.TransportConfig {
	return connection.TransportConfig{
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		WriteTimeout:     cfg.Connection.WriteTimeout,
		PingInterval:     cfg.Connection.PingInterval,
	}
}

func recorderConfig(cfg *config.CompanionConfig) recorder.Config {
	return recorder.Config{
		BatchSize:        cfg.Recorder.BatchSize,
		BufferSize:       cfg.Recorder.BufferSize,
		FlushInterval:    cfg.Recorder.FlushInterval,
		SnapshotInterval: cfg.Recorder.SnapshotInterval,
	}
}

// logSink logs manager events. Countdown ticks and plugin payloads are
// logged at debug.
func logSink(logger *slog.Logger) connection.EventSink {
	logger = logger.With("component", "events")
	return connection.EventSinkFunc(func(e connection.Event) {
		switch e.Kind {
		case connection.EventStateChange:
			logger.Info("connection state", "phase", e.Phase)
		case connection.EventHandshake:
			if e.OK {
				logger.Info("handshake accepted")
			} else {
				logger.Error("handshake rejected", "reason", e.Reason)
			}
		case connection.EventDisconnect:
			logger.Warn("disconnected", "code", e.Close.Code, "reason", e.Close.Reason)
		case connection.EventFatalClose:
			logger.Error("fatal close, not reconnecting", "code", e.Close.Code, "reason", e.Close.Reason)
		case connection.EventError:
			logger.Warn("connection error", "error", e.Err)
		case connection.EventPluginReset:
			logger.Info("plugin reset", "ok", e.OK, "method", e.Method, "reason", e.Reason)
		default:
			logger.Debug("event", "kind", e.Kind, "method", e.Method, "name", e.Name, "seconds", e.Seconds)
		}
	})
}
