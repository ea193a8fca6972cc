package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pos-checkout/internal/domain/product"
)

const (
	defaultExpectedRows = 1_000_000
	bloomFPR            = 0.001
	progressEvery       = 100_000
	maxCodeLen          = 64
)

// Columns: code,name,price,stock[,image_path]. A first row starting with
// "code" is a header.
const (
	colCode = iota
	colName
	colPrice
	colStock
	colImagePath
)

type upsertFunc func(ctx context.Context, p *product.Product) error

// position locates a CSV record. Quoted fields may span lines, so the
// record number and the line it starts on can differ.
type position struct {
	record int
	line   int
}

type importStats struct {
	imported   int
	invalid    int
	duplicates int
}

// findDuplicateCodes returns every code that occurs more than once across
// files. Pass 1 builds one bloom filter per file; pass 2 re-streams each
// file and counts exact occurrences of codes the filters flag, so only
// candidates are held in memory.
func findDuplicateCodes(ctx context.Context, files []string, expected uint) (map[string]struct{}, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	repeated := make([]map[string]struct{}, len(files))

	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(max(expected, 1), bloomFPR)
			seen := make(map[string]struct{})
			var rows int
			err := streamCodes(gctx, path, func(code string) {
				rows++
				if filter.TestOrAddString(code) {
					seen[code] = struct{}{}
				}
				if rows%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", path), slog.Int("rows", rows))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			filters[i], repeated[i] = filter, seen
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := make(map[string]struct{})
	for _, seen := range repeated {
		for code := range seen {
			candidates[code] = struct{}{}
		}
	}

	slog.Info("pass 2: counting candidate codes")
	counts := make([]map[string]int, len(files))
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			local := make(map[string]int)
			err := streamCodes(gctx, path, func(code string) {
				if _, ok := candidates[code]; ok || inOtherFilter(filters, i, code) {
					local[code]++
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s for candidates", path)
			}
			counts[i] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := make(map[string]int)
	for _, local := range counts {
		for code, n := range local {
			total[code] += n
		}
	}
	dups := make(map[string]struct{})
	for code, n := range total {
		if n > 1 {
			dups[code] = struct{}{}
		}
	}
	return dups, nil
}

func inOtherFilter(filters []*bloom.BloomFilter, self int, code string) bool {
	for j, f := range filters {
		if j != self && f.TestString(code) {
			return true
		}
	}
	return false
}

// importFiles validates every row and upserts the valid ones whose code is
// not in dups. A nil upsert only validates.
func importFiles(ctx context.Context, files []string, dups map[string]struct{}, upsert upsertFunc) (importStats, error) {
	var stats importStats
	for _, path := range files {
		err := streamRecords(ctx, path, func(pos position, rec []string) error {
			p, err := parseProduct(rec)
			if err != nil {
				stats.invalid++
				slog.Warn("skipping invalid record",
					slog.String("file", path),
					slog.Int("record", pos.record),
					slog.Int("line", pos.line),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if _, ok := dups[p.Code]; ok {
				stats.duplicates++
				return nil
			}
			if upsert != nil {
				if err := upsert(ctx, &p); err != nil {
					return errors.Wrapf(err, "%s:%d", path, pos.line)
				}
			}
			stats.imported++
			if stats.imported%progressEvery == 0 {
				slog.Info("import progress", slog.Int("imported", stats.imported))
			}
			return nil
		})
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// parseProduct validates one CSV record.
func parseProduct(rec []string) (product.Product, error) {
	if len(rec) < colImagePath {
		return product.Product{}, errors.Errorf("expected at least 4 columns, got %d", len(rec))
	}

	p := product.Product{
		Code: strings.TrimSpace(rec[colCode]),
		Name: strings.TrimSpace(rec[colName]),
	}
	if len(rec) > colImagePath {
		p.ImagePath = strings.TrimSpace(rec[colImagePath])
	}

	switch {
	case p.Code == "":
		return p, errors.New("code is required")
	case len(p.Code) > maxCodeLen:
		return p, errors.Errorf("code longer than %d characters", maxCodeLen)
	case p.Name == "":
		return p, errors.New("name is required")
	}

	price, err := decimal.NewFromString(strings.TrimSpace(rec[colPrice]))
	if err != nil {
		return p, errors.Wrap(err, "price")
	}
	if price.IsNegative() {
		return p, errors.New("price must not be negative")
	}
	if !price.Equal(price.Round(2)) {
		return p, errors.New("price has more than two decimals")
	}
	p.Price = price

	stock, err := strconv.Atoi(strings.TrimSpace(rec[colStock]))
	if err != nil {
		return p, errors.Wrap(err, "stock")
	}
	if stock < 0 {
		return p, errors.New("stock must not be negative")
	}
	p.Stock = stock

	return p, nil
}

// streamCodes calls fn with the code of every record that would import.
// Invalid records never claim a code.
func streamCodes(ctx context.Context, path string, fn func(code string)) error {
	return streamRecords(ctx, path, func(_ position, rec []string) error {
		if p, err := parseProduct(rec); err == nil {
			fn(p.Code)
		}
		return nil
	})
}

// streamRecords opens a gzip-compressed CSV file and calls fn for each data
// record with its 1-based record number and starting line. The record
// slice is reused.
func streamRecords(ctx context.Context, path string, fn func(pos position, rec []string) error) error {
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

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	for record := 1; ; record++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		if record == 1 && strings.EqualFold(strings.TrimSpace(rec[colCode]), "code") {
			continue
		}
		line, _ := r.FieldPos(colCode)
		if err := fn(position{record: record, line: line}, rec); err != nil {
			return err
		}
	}
}
