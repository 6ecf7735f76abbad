package main

import (
	"context"
	"encoding/csv"
	"io"
	"math/bits"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/retail-pos/internal/domain/coupon"
)

// Columns of a batch row. The header row is optional.
const (
	colCode = iota
	colType
	colValue
	colMinPurchase
	colMaxDiscount
	colValidFrom
	colValidUntil
	colClientID
	numCols
)

const maxBatches = 64

// Options bound the bloom filters and the upsert chunks.
type Options struct {
	// Capacity is the expected number of codes per batch.
	Capacity uint
	// FPRate is the bloom filter false-positive rate.
	FPRate float64
	// Chunk is the number of coupons upserted per transaction.
	Chunk int
}

// Upserter persists coupon rules.
type Upserter interface {
	Upsert(ctx context.Context, rules []coupon.Rule) error
}

// Report summarises an ingest run.
type Report struct {
	Rows       int
	Upserted   int
	Duplicates []string
}

// parseRecord turns one CSV row into a rule. Empty optional columns take
// their zero value.
func parseRecord(rec []string) (coupon.Rule, error) {
	if len(rec) < numCols {
		return coupon.Rule{}, errors.Errorf("want %d columns, got %d", numCols, len(rec))
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}

	r := coupon.Rule{
		Code:         coupon.NormalizeCode(rec[colCode]),
		DiscountType: coupon.DiscountType(strings.ToLower(rec[colType])),
		ClientID:     rec[colClientID],
		Active:       true,
	}
	if r.Code == "" {
		return coupon.Rule{}, errors.New("empty code")
	}
	switch r.DiscountType {
	case coupon.DiscountPercentage, coupon.DiscountFixed:
	default:
		return coupon.Rule{}, errors.Errorf("unknown discount type %q", rec[colType])
	}

	var err error
	if r.Value, err = parseAmount(rec[colValue]); err != nil {
		return coupon.Rule{}, errors.Wrap(err, "value")
	}
	if r.MinPurchase, err = parseAmount(rec[colMinPurchase]); err != nil {
		return coupon.Rule{}, errors.Wrap(err, "min_purchase")
	}
	if r.MaxDiscount, err = parseAmount(rec[colMaxDiscount]); err != nil {
		return coupon.Rule{}, errors.Wrap(err, "max_discount")
	}
	if r.ValidFrom, err = parseTime(rec[colValidFrom]); err != nil {
		return coupon.Rule{}, errors.Wrap(err, "valid_from")
	}
	if r.ValidUntil, err = parseTime(rec[colValidUntil]); err != nil {
		return coupon.Rule{}, errors.Wrap(err, "valid_until")
	}
	if r.ValidFrom != nil && r.ValidUntil != nil && r.ValidUntil.Before(*r.ValidFrom) {
		return coupon.Rule{}, errors.New("valid_until before valid_from")
	}
	return r, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Errorf("negative amount %s", s)
	}
	return d, nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// streamBatch calls fn for each parsed row of a gzipped CSV batch. A header
// row is skipped; malformed rows fail the batch with their line number.
func streamBatch(ctx context.Context, path string, fn func(r coupon.Rule) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	cr := csv.NewReader(gz)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[colCode]), "code") {
			continue
		}
		r, err := parseRecord(rec)
		if err != nil {
			return errors.Wrapf(err, "%s:%d", path, line)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}

// Ingest loads every batch and upserts the coupons whose code occurs exactly
// once across all of them. Codes seen more than once are reported and not
// written.
func Ingest(ctx context.Context, files []string, opts Options, store Upserter) (*Report, error) {
	if len(files) == 0 {
		return &Report{}, nil
	}
	if len(files) > maxBatches {
		return nil, errors.Errorf("at most %d batches per run, got %d", maxBatches, len(files))
	}
	if opts.Chunk <= 0 {
		opts.Chunk = 1000
	}
	if opts.Capacity == 0 {
		opts.Capacity = 1_000_000
	}
	if opts.FPRate <= 0 || opts.FPRate >= 1 {
		opts.FPRate = 0.001
	}

	// Pass 1: one filter per batch. A code already present in its own filter
	// is a suspected in-batch duplicate.
	filters, suspects, err := buildFilters(ctx, files, opts)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: exact occurrence masks for every suspected code.
	dups, err := confirmDuplicates(ctx, files, filters, suspects)
	if err != nil {
		return nil, errors.Wrap(err, "confirm duplicates")
	}

	// Pass 3: write everything else.
	report := &Report{Duplicates: sortedKeys(dups)}
	chunk := make([]coupon.Rule, 0, opts.Chunk)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := store.Upsert(ctx, chunk); err != nil {
			return err
		}
		report.Upserted += len(chunk)
		chunk = chunk[:0]
		return nil
	}
	for _, path := range files {
		err := streamBatch(ctx, path, func(r coupon.Rule) error {
			report.Rows++
			if _, dup := dups[r.Code]; dup {
				return nil
			}
			chunk = append(chunk, r)
			if len(chunk) == opts.Chunk {
				return flush()
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "write coupons")
		}
	}
	if err := flush(); err != nil {
		return nil, errors.Wrap(err, "write coupons")
	}
	return report, nil
}

func buildFilters(ctx context.Context, files []string, opts Options) ([]*bloom.BloomFilter, []map[string]struct{}, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	suspects := make([]map[string]struct{}, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.Capacity, opts.FPRate)
			own := make(map[string]struct{})
			var count int
			err := streamBatch(ctx, path, func(r coupon.Rule) error {
				count++
				if filter.TestAndAddString(r.Code) {
					own[r.Code] = struct{}{}
				}
				return nil
			})
			if err != nil {
				return err
			}
			zctx.From(ctx).Info("Batch indexed",
				zap.String("file", path),
				zap.Int("codes", count),
				zap.Int("suspects", len(own)),
			)
			filters[i] = filter
			suspects[i] = own
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return filters, suspects, nil
}

// confirmDuplicates re-reads every batch and counts exact occurrences of
// codes that are either in-batch suspects or test positive in another
// batch's filter. A bloom false positive never survives this count.
func confirmDuplicates(
	ctx context.Context,
	files []string,
	filters []*bloom.BloomFilter,
	suspects []map[string]struct{},
) (map[string]struct{}, error) {
	type seen struct {
		mask  uint64
		count int
	}
	results := make([]map[string]seen, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			bit := uint64(1) << uint(i)
			found := make(map[string]seen)
			err := streamBatch(ctx, path, func(r coupon.Rule) error {
				if _, ok := suspects[i][r.Code]; !ok && !inOther(filters, i, r.Code) {
					return nil
				}
				s := found[r.Code]
				s.mask |= bit
				s.count++
				found[r.Code] = s
				return nil
			})
			if err != nil {
				return err
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]seen)
	for _, found := range results {
		for code, s := range found {
			m := merged[code]
			m.mask |= s.mask
			m.count += s.count
			merged[code] = m
		}
	}
	dups := make(map[string]struct{})
	for code, s := range merged {
		if bits.OnesCount64(s.mask) > 1 || s.count > 1 {
			dups[code] = struct{}{}
		}
	}
	return dups, nil
}

func inOther(filters []*bloom.BloomFilter, idx int, code string) bool {
	for j, f := range filters {
		if j != idx && f.TestString(code) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

type discard struct{}

func (discard) Upsert(context.Context, []coupon.Rule) error { return nil }
