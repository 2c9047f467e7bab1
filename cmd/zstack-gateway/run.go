package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"zstack-gateway/internal/convert"
	"zstack-gateway/internal/coordinator"
	"zstack-gateway/internal/store"
	"zstack-gateway/internal/web"
	"zstack-gateway/internal/znp"
)

var configPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gateway",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), configPath)
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")
	rootCmd.AddCommand(runCmd)
}

// gatewayRef lets sinks built before the gateway submit actions to it.
type gatewayRef struct {
	gw atomic.Pointer[coordinator.Gateway]
}

func (r *gatewayRef) Submit(kind coordinator.ActionKind, target string, payload coordinator.Document) bool {
	gw := r.gw.Load()
	if gw == nil {
		return false
	}
	return gw.Submit(kind, target, payload)
}

func run(parent context.Context, cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	gwCfg, err := cfg.gatewayConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("zstack-gateway starting", "version", version)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	port, err := znp.OpenSerial(znp.SerialConfig{
		Port:        cfg.Serial.Port,
		BaudRate:    cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout,
		DTR:         cfg.Serial.DTR,
		RTS:         cfg.Serial.RTS,
	})
	if err != nil {
		return err
	}
	defer port.Close()
	logger.Info("serial port open", "port", cfg.Serial.Port, "baud", cfg.Serial.Baud)

	var decOpts []znp.DecoderOption
	if cfg.Serial.Reassemble {
		decOpts = append(decOpts, znp.WithReassembly())
	}
	link := coordinator.NewLink(port, znp.NewDecoder(decOpts...), nil, logger.With("component", "link"))

	ref := &gatewayRef{}
	feed := web.NewFeed(logger)
	sinks := coordinator.MultiSink{feed}
	mqtt := initMQTT(ref, cfg, logger)
	if mqtt.sink() != nil {
		sinks = append(sinks, mqtt.sink())
	}
	defer mqtt.Stop()

	gw := coordinator.New(gwCfg, link, db, convert.New(), sinks, logger.With("component", "gateway"))
	ref.gw.Store(gw)

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webServer := web.NewServer(gw, db, feed, logger, webOpts...)
	defer webServer.Stop()

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Run(ctx)
	})
	g.Go(func() error {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("goodbye")
	return err
}
