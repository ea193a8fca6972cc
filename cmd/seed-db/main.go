package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/db"
	"github.com/xenking/pos-checkout/internal/domain/customer"
	"github.com/xenking/pos-checkout/internal/domain/product"
	"github.com/xenking/pos-checkout/internal/repository"
)

type catalogJSON struct {
	Customers []struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customers"`
	Products []struct {
		Code      string          `json:"code"`
		Name      string          `json:"name"`
		Price     decimal.Decimal `json:"price"`
		Stock     int             `json:"stock"`
		ImagePath string          `json:"image_path"`
	} `json:"products"`
}

func main() {
	var (
		databaseURL string
		catalogFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "path to a catalog JSON file (defaults to the embedded demo catalog)")
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

	if err := run(ctx, databaseURL, catalogFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string) error {
	data := db.SeedCatalog
	if catalogFile != "" {
		slog.Info("reading catalog file", slog.String("path", catalogFile))
		b, err := os.ReadFile(catalogFile)
		if err != nil {
			return errors.Wrap(err, "read catalog file")
		}
		data = b
	}

	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL, 4)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCustomers(ctx, repository.NewCustomerRepository(pool), catalog); err != nil {
		return errors.Wrap(err, "seed customers")
	}
	if err := seedProducts(ctx, repository.NewProductRepository(pool), catalog); err != nil {
		return errors.Wrap(err, "seed products")
	}

	return nil
}

func seedCustomers(ctx context.Context, repo *repository.CustomerRepository, catalog catalogJSON) error {
	slog.Info("upserting customers", slog.Int("count", len(catalog.Customers)))

	for _, c := range catalog.Customers {
		cust := customer.Customer{Name: c.Name, Email: c.Email, Phone: c.Phone}
		if err := repo.Upsert(ctx, &cust); err != nil {
			return err
		}
		slog.Info("upserted customer", slog.Int64("id", cust.ID), slog.String("name", cust.Name))
	}
	return nil
}

// seedProducts upserts by code. Existing products get their stock reset to
// the catalog value.
func seedProducts(ctx context.Context, repo *repository.ProductRepository, catalog catalogJSON) error {
	slog.Info("upserting products", slog.Int("count", len(catalog.Products)))

	for _, p := range catalog.Products {
		prod := product.Product{
			Code:      p.Code,
			Name:      p.Name,
			Price:     p.Price,
			Stock:     p.Stock,
			ImagePath: p.ImagePath,
		}
		if err := repo.Upsert(ctx, &prod); err != nil {
			return err
		}
		slog.Info("upserted product",
			slog.Int64("id", prod.ID),
			slog.String("code", prod.Code),
			slog.Int("stock", prod.Stock),
		)
	}
	return nil
}
