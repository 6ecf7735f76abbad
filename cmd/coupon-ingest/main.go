// Command coupon-ingest bulk-loads gzipped CSV coupon batches. Codes that
// occur more than once across the batches are rejected and reported.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/retail-pos/internal/storage/postgres"
)

func main() {
	var (
		pattern     string
		databaseURL string
		opts        Options
		dryRun      bool
	)

	flag.StringVar(&pattern, "batches", "data/coupons-*.csv.gz", "glob matching the gzipped CSV batches")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&opts.Capacity, "capacity", 1_000_000, "expected codes per batch")
	flag.Float64Var(&opts.FPRate, "fp-rate", 0.001, "bloom filter false-positive rate")
	flag.IntVar(&opts.Chunk, "chunk", 1000, "coupons per upsert transaction")
	flag.BoolVar(&dryRun, "dry-run", false, "report duplicates without writing")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, lg, pattern, databaseURL, opts, dryRun); err != nil {
		lg.Fatal("Coupon ingest failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, pattern, databaseURL string, opts Options, dryRun bool) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, "match batches")
	}
	if len(files) == 0 {
		return errors.Errorf("no batches match %q", pattern)
	}
	slices.Sort(files)
	lg.Info("Ingesting batches", zap.Strings("files", files))

	var store Upserter = discard{}
	if !dryRun {
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		store = postgres.NewCouponRepository(pool)
	}

	report, err := Ingest(ctx, files, opts, store)
	if err != nil {
		return err
	}
	if len(report.Duplicates) > 0 {
		lg.Warn("Duplicate codes rejected",
			zap.Int("count", len(report.Duplicates)),
			zap.Strings("codes", report.Duplicates),
		)
	}
	lg.Info("Coupon ingest completed",
		zap.Int("rows", report.Rows),
		zap.Int("upserted", report.Upserted),
		zap.Bool("dry_run", dryRun),
	)
	return nil
}
