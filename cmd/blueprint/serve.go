package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ormasoftchile/blueprint/pkg/config"
	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/mode"
	"github.com/ormasoftchile/blueprint/pkg/orchestrator"
	"github.com/ormasoftchile/blueprint/pkg/serve"
	"github.com/ormasoftchile/blueprint/pkg/store"
	"github.com/ormasoftchile/blueprint/pkg/workflow"
)

var (
	serveStdio bool
	serveAddr  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve blueprint execution over HTTP or stdio JSON-RPC",
	Long: `Start an execution server.

By default an HTTP server is started. It accepts delegated runs on
POST /execute and, backed by the store directory, submits stored
blueprints on POST /orgs/{org}/blueprints/{id}/runs with run records at
GET /runs/{id} and cancellation at POST /runs/{id}/cancel.

With --stdio a JSON-RPC 2.0 server reads newline-delimited messages on
stdin and streams step events on stdout.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	resolver, err := cfg.Resolver()
	if err != nil {
		return err
	}

	// Served runs always execute here; the configured mode only decides
	// how stored blueprints submitted over HTTP are scheduled.
	direct := cfg.ModeConfig(nil, resolver, nil, log)
	direct.Mode = mode.Direct
	if direct.Direct.Factory == nil {
		return fmt.Errorf("serve: %w (set provider.command)", mode.ErrNoFactory)
	}

	if serveStdio {
		s := serve.New(func(obs engine.Observer) serve.RunFunc {
			withObs := direct
			withObs.Direct.Observer = obs
			return mode.NewSelector(withObs, log).RunDirect
		}, log)
		return s.Run()
	}
	return serveHTTP(cfg, direct, log)
}

func serveHTTP(cfg *config.Config, direct mode.Config, log *zap.SugaredLogger) error {
	run := mode.NewSelector(direct, log).RunDirect

	wf, err := workflow.New(workflow.Config{
		Run:         run,
		StateDir:    cfg.Execution.Workflow.StateDir,
		MaxParallel: cfg.Execution.Workflow.MaxParallel,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	modeCfg := direct
	modeCfg.Mode = mode.Mode(cfg.Execution.Mode)
	modeCfg.Workflow.Engine = wf

	svc := &orchestrator.Service{
		Blueprints: store.DirBlueprints{Root: filepath.Join(cfg.Store.Dir, "blueprints")},
		Runs:       store.NewDirRuns(filepath.Join(cfg.Store.Dir, "runs")),
		Selector:   mode.NewSelector(modeCfg, log),
		Logger:     log,
	}

	addr := cfg.Serve.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           serve.NewHandler(run, serve.HTTPOptions{Token: cfg.Serve.Token, Logger: log, Service: svc}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Infow("serving", "addr", addr, "mode", modeCfg.Mode, "store", cfg.Store.Dir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown", "error", err)
	}
	if err := wf.Shutdown(shutdownCtx); err != nil {
		log.Warnw("workflow shutdown", "error", err)
	}
	return nil
}

func init() {
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "Serve JSON-RPC over stdin/stdout instead of HTTP")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: serve.addr from config)")
	rootCmd.AddCommand(serveCmd)
}
