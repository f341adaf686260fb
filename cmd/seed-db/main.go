package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-shop/internal/domain/auth"
	"github.com/xenking/kart-shop/internal/domain/coupon"
	"github.com/xenking/kart-shop/internal/domain/product"
	"github.com/xenking/kart-shop/internal/handler"
	"github.com/xenking/kart-shop/internal/repository"
)

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Category string          `json:"category"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		staffKey     string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "customer API key to seed (or KART_SEED_API_KEY env)")
	flag.StringVar(&staffKey, "staff-api-key", "", "staff API key to seed (or KART_SEED_STAFF_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("KART_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or KART_SEED_API_KEY")
		os.Exit(1)
	}
	if staffKey == "" {
		staffKey = os.Getenv("KART_SEED_STAFF_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("KART_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	keys := []seedKey{{
		key: apiKey,
		info: auth.APIKeyInfo{
			ID:     "default",
			Name:   "Default customer key",
			UserID: "customer-1",
			Email:  "cliente@example.com",
		},
	}}
	if staffKey != "" {
		keys = append(keys, seedKey{
			key: staffKey,
			info: auth.APIKeyInfo{
				ID:     "staff",
				Name:   "Staff key",
				UserID: "staff-1",
				Email:  "loja@example.com",
				Scopes: []string{auth.ScopeStaff},
			},
		})
	}

	if err := run(ctx, databaseURL, productsFile, apiKeyPepper, keys); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

type seedKey struct {
	key  string
	info auth.APIKeyInfo
}

func run(ctx context.Context, databaseURL, productsFile, pepper string, keys []seedKey) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, repository.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedCoupons(ctx, repository.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	apikeys := repository.NewAPIKeyRepository(pool)
	for _, k := range keys {
		if err := seedAPIKey(ctx, apikeys, k, pepper); err != nil {
			return errors.Wrapf(err, "seed api key %s", k.info.ID)
		}
	}

	return nil
}

func seedProducts(ctx context.Context, repo *repository.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, &product.Product{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price,
			Stock:    p.Stock,
			Category: p.Category,
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func defaultCoupons(now time.Time) []coupon.Rule {
	until := now.AddDate(1, 0, 0)
	firstOrderUses := 1000
	return []coupon.Rule{
		{
			Code:         "BEMVINDO10",
			Description:  "10% off your first order, up to R$ 20",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			MaxDiscount:  decimal.NewNullDecimal(decimal.NewFromInt(20)),
			MaxUses:      &firstOrderUses,
			ValidUntil:   &until,
			Active:       true,
		},
		{
			Code:         "FRETE15",
			Description:  "R$ 15 off orders above R$ 50",
			DiscountType: coupon.DiscountFixed,
			Value:        decimal.NewFromInt(15),
			MinPurchase:  decimal.NewFromInt(50),
			Active:       true,
		},
		{
			Code:         "WAFFLE20",
			Description:  "20% off when the cart has a waffle",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(20),
			Categories:   []string{"Waffle"},
			Active:       true,
		},
	}
}

func seedCoupons(ctx context.Context, repo *repository.CouponRepository) error {
	slog.Info("seeding default coupons")

	for _, c := range defaultCoupons(time.Now()) {
		if err := repo.Upsert(ctx, &c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *repository.APIKeyRepository, k seedKey, pepper string) error {
	info := k.info
	info.KeyHash = handler.HashKey([]byte(pepper), k.key)

	if err := repo.Upsert(ctx, &info); err != nil {
		return errors.Wrap(err, "upsert API key")
	}

	slog.Info("upserted API key",
		slog.String("id", info.ID),
		slog.String("user_id", info.UserID),
		slog.Any("scopes", info.Scopes),
	)

	return nil
}
