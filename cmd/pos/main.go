// Command pos is a line-oriented point-of-sale terminal. It drives the
// checkout core against the backing service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xenking/retail-pos/internal/client"
	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/cart"
	"github.com/xenking/retail-pos/internal/domain/loyalty"
	"github.com/xenking/retail-pos/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pos:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	tax, points, err := cfg.rates()
	if err != nil {
		return err
	}

	logCfg := zap.NewProductionConfig()
	logCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if cfg.Debug {
		logCfg = zap.NewDevelopmentConfig()
	}
	lg, err := logCfg.Build()
	if err != nil {
		return err
	}
	defer func() { _ = lg.Sync() }()

	remote, err := client.New(client.Config{BaseURL: cfg.ServerURL, Timeout: cfg.Timeout})
	if err != nil {
		return err
	}
	s := session.New(remote, authz.NewAuthorizer(authz.DefaultTable()), session.Config{
		Tax:     cart.PolicyFor(tax),
		Accrual: loyalty.AccrualPolicy{PointsPerUnit: points},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	lg.Debug("Terminal started", zap.String("server", cfg.ServerURL))
	return NewTerminal(s, os.Stdout).Run(ctx, os.Stdin)
}
