package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-shop/internal/domain/coupon"
	"github.com/xenking/kart-shop/internal/repository"
)

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing gzip CSV coupon files")
	flag.StringVar(&pattern, "pattern", "*.csv.gz", "glob of coupon files inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and report without writing to the database")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, filepath.Join(dataDir, pattern), databaseURL, dryRun); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, glob, databaseURL string, dryRun bool) error {
	files, err := filepath.Glob(glob)
	if err != nil {
		return errors.Wrapf(err, "glob %s", glob)
	}
	if len(files) == 0 {
		return errors.Errorf("no coupon files match %s", glob)
	}
	if len(files) > maxFiles {
		return errors.Errorf("too many coupon files: %d (max %d)", len(files), maxFiles)
	}
	slices.Sort(files)

	res, err := scan(ctx, files)
	if err != nil {
		return err
	}

	for _, code := range res.Duplicates {
		slog.Warn("code appears in more than one file, skipped", slog.String("code", code))
	}
	slog.Info("scan complete",
		slog.Int("files", len(files)),
		slog.Int("rules", len(res.Rules)),
		slog.Int("duplicates", len(res.Duplicates)),
		slog.Int("invalid_rows", res.Invalid),
	)

	if dryRun || len(res.Rules) == 0 {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeCoupons(ctx, repository.NewCouponRepository(pool), res.Rules); err != nil {
		return errors.Wrap(err, "write coupons to database")
	}

	return nil
}

// writeCoupons upserts every rule, keeping existing use counters.
func writeCoupons(ctx context.Context, repo coupon.Repository, rules []coupon.Rule) error {
	slog.Info("writing coupons to database", slog.Int("count", len(rules)))

	for i := range rules {
		if err := repo.Upsert(ctx, &rules[i]); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", rules[i].Code)
		}

		if (i+1)%100 == 0 || i+1 == len(rules) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(rules)))
		}
	}

	return nil
}
