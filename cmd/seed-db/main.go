// Command seed-db loads the catalog, a few starter coupons, and the admin
// and storefront API keys into the database.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nileshop/storefront-api/internal/domain/auth"
	"github.com/nileshop/storefront-api/internal/domain/catalog"
	"github.com/nileshop/storefront-api/internal/domain/coupon"
	"github.com/nileshop/storefront-api/internal/storage/postgres"
)

type productJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Image       struct {
		Thumbnail string `json:"thumbnail"`
		Mobile    string `json:"mobile"`
		Tablet    string `json:"tablet"`
		Desktop   string `json:"desktop"`
	} `json:"image"`
}

func main() {
	var (
		databaseURL   string
		productsFile  string
		storefrontKey string
		adminKey      string
		apiKeyPepper  string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&storefrontKey, "storefront-key", "", "storefront API key to seed (or SHOP_SEED_STOREFRONT_KEY env)")
	flag.StringVar(&adminKey, "admin-key", "", "admin API key to seed (or SHOP_SEED_ADMIN_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if storefrontKey == "" {
		storefrontKey = os.Getenv("SHOP_SEED_STOREFRONT_KEY")
	}
	if adminKey == "" {
		adminKey = os.Getenv("SHOP_SEED_ADMIN_KEY")
	}
	if storefrontKey == "" && adminKey == "" {
		slog.Error("at least one API key is required: set --storefront-key or --admin-key")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, storefrontKey, adminKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, storefrontKey, adminKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, postgres.NewCatalogRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if storefrontKey != "" {
		if err := seedAPIKey(ctx, pool, "storefront", storefrontKey, pepper, []string{auth.ScopeStorefront}); err != nil {
			return errors.Wrap(err, "seed storefront api key")
		}
	}
	if adminKey != "" {
		if err := seedAPIKey(ctx, pool, "admin", adminKey, pepper, []string{auth.ScopeStorefront, auth.ScopeAdmin}); err != nil {
			return errors.Wrap(err, "seed admin api key")
		}
	}

	return nil
}

func seedCatalog(ctx context.Context, repo *postgres.CatalogRepository, productsFile string) error {
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

	seen := make(map[string]bool)
	for _, p := range products {
		if !seen[p.Category] {
			if err := repo.UpsertCategory(ctx, &catalog.Category{
				ID:   p.Category,
				Name: p.Category,
				Slug: p.Category,
			}); err != nil {
				return errors.Wrapf(err, "upsert category %s", p.Category)
			}
			seen[p.Category] = true
		}

		if err := repo.Upsert(ctx, &catalog.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price,
			CategoryID:  p.Category,
			Image: catalog.Image{
				Thumbnail: p.Image.Thumbnail,
				Mobile:    p.Image.Mobile,
				Tablet:    p.Image.Tablet,
				Desktop:   p.Image.Desktop,
			},
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository) error {
	slog.Info("seeding starter coupons")

	coupons := []coupon.Coupon{
		{
			ID:      "seed-happyhours",
			Code:    "HAPPYHOURS",
			Type:    coupon.TypePercentage,
			Value:   decimal.NewFromInt(18),
			Enabled: true,
		},
		{
			ID:             "seed-tenoff",
			Code:           "TENOFF",
			Type:           coupon.TypeFixed,
			Value:          decimal.NewFromInt(10),
			MinOrderAmount: decimal.NewFromInt(50),
			Enabled:        true,
		},
	}

	for i := range coupons {
		if err := repo.UpsertByCode(ctx, &coupons[i]); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", coupons[i].Code)
		}
		slog.Info("upserted coupon", slog.String("code", coupons[i].Code))
	}

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, id, key, pepper string, scopes []string) error {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(key))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	const upsertKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash, scopes = EXCLUDED.scopes, active = TRUE`

	if _, err := pool.Exec(ctx, upsertKeySQL, id, keyHash, id+" key", scopes); err != nil {
		return errors.Wrapf(err, "upsert api key %s", id)
	}

	slog.Info("upserted API key", slog.String("id", id))
	return nil
}
