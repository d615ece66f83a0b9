// Command tokenswallet is a terminal wallet for a single token: it watches the
// balance of the logged-in account live from a chain node and submits
// transfers through the wallet backend.
//
// Usage:
//
//	tokenswallet --setup                 write a config with the wizard
//	tokenswallet login [google]          sign in (or print the OAuth url)
//	tokenswallet logout
//	tokenswallet balance                 balance as seen by the backend
//	tokenswallet watch                   live balance card
//	tokenswallet transfer [to amount]    send tokens (interactive without args)
//	tokenswallet serve                   balance page, SSE stream and metrics over HTTP
//
// All commands accept --config wallet.yaml and the flags listed by --help.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokenswallet/config"
	"github.com/vadiminshakov/tokenswallet/internal/monitor"
	"github.com/vadiminshakov/tokenswallet/internal/setup"
	"github.com/vadiminshakov/tokenswallet/pkg/logger"
)

func main() {
	inv, err := config.Get()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(start(inv, prometheus.DefaultRegisterer))
}

// start runs the invocation and returns the exit code; deferred cleanup,
// including the log file flush, happens before main exits.
func start(inv config.Invocation, reg prometheus.Registerer) int {
	if inv.Setup {
		path, err := setup.RunTUI(inv.ConfigPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		cfg, err := config.Load(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		inv.Config = cfg
		if inv.Command == "" {
			return 0
		}
	}

	log, err := logger.New(logger.Config{Level: inv.Config.LogLevel, File: inv.Config.LogFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer log.Close()

	if err := monitor.Register(reg); err != nil {
		log.Error("failed to register metrics", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, inv, log.Logger); err != nil && ctx.Err() == nil {
		log.Error("command failed", zap.String("command", inv.Command), zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func run(ctx context.Context, inv config.Invocation, logger *zap.Logger) error {
	app, err := newApp(inv.Config, logger)
	if err != nil {
		return err
	}
	defer app.close()

	switch inv.Command {
	case "", "watch":
		return app.watch(ctx)
	case "login":
		return app.login(ctx, inv.Args)
	case "logout":
		return app.logout(ctx)
	case "balance":
		return app.balance(ctx)
	case "transfer":
		return app.transfer(ctx, inv.Args)
	case "serve":
		return app.serve(ctx)
	default:
		return fmt.Errorf("unknown command %q (watch, login, logout, balance, transfer, serve)", inv.Command)
	}
}
