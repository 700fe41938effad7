// Command coupon-ingest loads bulk promo code dumps into the coupons table.
//
// The provider ships three gzipped files of newline-separated codes; a code
// counts as valid when it appears in at least two of them. The dumps are too
// large to hold in memory, so membership is decided in two streaming passes
// with one bloom filter per file.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/nileshop/storefront-api/internal/domain/coupon"
	"github.com/nileshop/storefront-api/internal/storage/postgres"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	dumpCount     = 3
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
)

// codeRule is the discount rule attached to a known promo code.
type codeRule struct {
	discountType coupon.Type
	value        string
	minOrder     string
}

var codeRules = map[string]codeRule{
	"FIFTYOFF": {discountType: coupon.TypePercentage, value: "50"},
	"SIXTYOFF": {discountType: coupon.TypePercentage, value: "60"},
	"GNULINUX": {discountType: coupon.TypePercentage, value: "15"},
	"OVER9000": {discountType: coupon.TypeFixed, value: "9"},
	"HAPPYHRS": {discountType: coupon.TypePercentage, value: "18"},
	"BIGSPEND": {discountType: coupon.TypeFixed, value: "25", minOrder: "200"},
}

// Codes without an explicit rule get a flat 10% off.
var defaultRule = codeRule{
	discountType: coupon.TypePercentage,
	value:        "10",
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)
	flag.StringVar(&dataDir, "data-dir", "data", "directory containing couponbaseN.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("coupon ingest done")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	ing := &ingest{dumps: make([]string, dumpCount)}
	for i := range ing.dumps {
		ing.dumps[i] = filepath.Join(dataDir, fmt.Sprintf("couponbase%d.gz", i+1))
	}
	for _, path := range ing.dumps {
		if _, err := os.Stat(path); err != nil {
			return errors.Wrap(err, "locate dump")
		}
	}

	slog.Info("pass 1: building bloom filters", slog.Int("dumps", dumpCount))
	if err := ing.buildFilters(ctx); err != nil {
		return errors.Wrap(err, "pass 1")
	}

	slog.Info("pass 2: cross-checking dumps")
	codes, err := ing.validCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "pass 2")
	}

	slog.Info("valid codes found", slog.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return storeCodes(ctx, postgres.NewCouponRepository(pool), codes)
}

// ingest carries state shared between the two passes.
type ingest struct {
	dumps   []string
	filters []*bloom.BloomFilter
}

// buildFilters streams every dump once, concurrently, and records each
// well-formed code in that dump's bloom filter.
func (ing *ingest) buildFilters(ctx context.Context) error {
	ing.filters = make([]*bloom.BloomFilter, len(ing.dumps))

	g, ctx := errgroup.WithContext(ctx)
	for i := range ing.dumps {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var seen uint64

			err := streamDump(ctx, ing.dumps[i], func(code string) {
				filter.AddString(code)
				if seen++; seen%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("dump", i+1), slog.Uint64("codes", seen))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "dump %d", i+1)
			}

			slog.Info("pass 1 dump done", slog.Int("dump", i+1), slog.Uint64("codes", seen))
			ing.filters[i] = filter
			return nil
		})
	}
	return g.Wait()
}

// validCodes streams every dump a second time. A code from dump i becomes a
// candidate when some other dump's filter also claims it; candidates are
// tracked as per-dump bitmasks and merged, and codes present in two or more
// dumps win. Bloom false positives can only over-admit here, never drop a
// genuinely valid code.
func (ing *ingest) validCodes(ctx context.Context) ([]string, error) {
	masks := make([]map[string]uint, len(ing.dumps))

	g, ctx := errgroup.WithContext(ctx)
	for i := range ing.dumps {
		g.Go(func() error {
			candidates := make(map[string]uint)
			bit := uint(1) << uint(i)
			var seen uint64

			err := streamDump(ctx, ing.dumps[i], func(code string) {
				if seen++; seen%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.Int("dump", i+1), slog.Uint64("codes", seen))
				}
				for j, f := range ing.filters {
					if j != i && f.TestString(code) {
						candidates[code] |= bit
						break
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "dump %d", i+1)
			}

			slog.Info("pass 2 dump done",
				slog.Int("dump", i+1),
				slog.Uint64("codes", seen),
				slog.Int("candidates", len(candidates)),
			)
			masks[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, m := range masks {
		for code, mask := range m {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			valid = append(valid, code)
		}
	}
	return valid, nil
}

// streamDump reads a gzipped dump line by line, calling fn for every code of
// plausible length.
func streamDump(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := scanner.Text()
		if len(code) >= minCodeLen && len(code) <= maxCodeLen {
			fn(code)
		}
	}
	return errors.Wrap(scanner.Err(), "scan")
}

// storeCodes upserts every valid code with its rule.
func storeCodes(ctx context.Context, repo *postgres.CouponRepository, codes []string) error {
	slog.Info("writing coupons", slog.Int("count", len(codes)))

	for i, code := range codes {
		rule, ok := codeRules[code]
		if !ok {
			rule = defaultRule
		}

		value, err := decimal.NewFromString(rule.value)
		if err != nil {
			return errors.Wrapf(err, "rule value for %s", code)
		}
		minOrder := decimal.Zero
		if rule.minOrder != "" {
			if minOrder, err = decimal.NewFromString(rule.minOrder); err != nil {
				return errors.Wrapf(err, "rule min order for %s", code)
			}
		}

		err = repo.UpsertByCode(ctx, &coupon.Coupon{
			ID:             "promo-" + code,
			Code:           code,
			Type:           rule.discountType,
			Value:          value,
			MinOrderAmount: minOrder,
			Enabled:        true,
		})
		if err != nil {
			return errors.Wrapf(err, "upsert %s", code)
		}

		if (i+1)%100 == 0 || i+1 == len(codes) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(codes)))
		}
	}
	return nil
}
