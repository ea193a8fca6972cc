package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-checkout/internal/repository"
)

func main() {
	var (
		databaseURL string
		dryRun      bool
		expected    uint
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "validate files and report duplicates without writing")
	flag.UintVar(&expected, "expected-rows", defaultExpectedRows, "expected rows per file, sizes the bloom filters")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: catalog-import [flags] catalog1.csv.gz [catalog2.csv.gz ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, files, databaseURL, dryRun, expected); err != nil {
		slog.Error("catalog import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog import completed successfully")
}

func run(ctx context.Context, files []string, databaseURL string, dryRun bool, expected uint) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	dups, err := findDuplicateCodes(ctx, files, expected)
	if err != nil {
		return errors.Wrap(err, "find duplicate codes")
	}
	if len(dups) > 0 {
		sample := make([]string, 0, 10)
		for code := range dups {
			if len(sample) == cap(sample) {
				break
			}
			sample = append(sample, code)
		}
		slog.Warn("duplicate codes will be skipped",
			slog.Int("count", len(dups)),
			slog.String("sample", strings.Join(sample, ",")),
		)
	}

	var upsert upsertFunc
	if !dryRun {
		slog.Info("connecting to database")

		pool, err := repository.NewPool(ctx, databaseURL, 4)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()

		if err := repository.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		upsert = repository.NewProductRepository(pool).Upsert
	}

	stats, err := importFiles(ctx, files, dups, upsert)
	if err != nil {
		return errors.Wrap(err, "import products")
	}

	slog.Info("import summary",
		slog.Int("imported", stats.imported),
		slog.Int("invalid", stats.invalid),
		slog.Int("duplicates", stats.duplicates),
		slog.Bool("dry_run", dryRun),
	)
	return nil
}
