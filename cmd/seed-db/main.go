// Command seed-db prepares a database for local development and tests:
// it runs migrations, loads the catalog, creates a few demo discount
// codes, and registers an admin API key.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/edulane/promo-engine/internal/domain/catalog"
	"github.com/edulane/promo-engine/internal/domain/promo"
	"github.com/edulane/promo-engine/internal/handler"
	"github.com/edulane/promo-engine/internal/storage/postgres"
)

type catalogItemJSON struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Name        string          `json:"name"`
	UnitAmount  decimal.Decimal `json:"unit_amount"`
	CategoryIDs []string        `json:"category_ids"`
	OwnerID     string          `json:"owner_id"`
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or PROMO_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PROMO_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("PROMO_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or PROMO_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("PROMO_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, apiKey, pepper string) error {
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

	if err := seedCatalog(ctx, pool, catalogFile); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if err := seedCodes(ctx, pool); err != nil {
		return errors.Wrap(err, "seed codes")
	}

	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, catalogFile string) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}

	var raw []catalogItemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	items := make([]catalog.Item, len(raw))
	for i, r := range raw {
		items[i] = catalog.Item{
			ID:          r.ID,
			Kind:        catalog.ItemKind(r.Kind),
			Name:        r.Name,
			UnitAmount:  r.UnitAmount,
			CategoryIDs: r.CategoryIDs,
			OwnerID:     r.OwnerID,
		}
	}

	slog.Info("upserting catalog items", slog.Int("count", len(items)))
	return postgres.NewCatalogRepository(pool).Upsert(ctx, items)
}

func seedCodes(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo discount codes")

	amount := func(s string) *decimal.Decimal {
		d := decimal.RequireFromString(s)
		return &d
	}

	codes := []*promo.Code{
		{
			Code:          "SAVE10",
			Title:         "10% off everything",
			Description:   "Site-wide 10% discount, capped at 50.00 per order",
			Kind:          promo.KindPercent,
			Value:         decimal.NewFromInt(10),
			Scope:         promo.ScopeAll,
			AppliesTo:     promo.AppliesBoth,
			MaximumAmount: amount("50.00"),
			Limit:         promo.Unlimited(),
			Active:        true,
			AuthorID:      "seed",
			AuthorScope:   promo.AuthorAdmin,
		},
		{
			Code:        "WELCOME",
			Title:       "First purchase discount",
			Description: "15% off the first order",
			Kind:        promo.KindPercent,
			Value:       decimal.NewFromInt(15),
			Scope:       promo.ScopeFirstPurchase,
			AppliesTo:   promo.AppliesBoth,
			Limit:       promo.OncePerUser(),
			Active:      true,
			AuthorID:    "seed",
			AuthorScope: promo.AuthorAdmin,
		},
		{
			Code:          "BIGCART",
			Title:         "Spend 100, save 20",
			Description:   "Fixed 20.00 off orders of 100.00 or more",
			Kind:          promo.KindFixed,
			Value:         decimal.NewFromInt(20),
			Scope:         promo.ScopeMinimumAmount,
			AppliesTo:     promo.AppliesBoth,
			MinimumAmount: amount("100.00"),
			Limit:         promo.Unlimited(),
			Active:        true,
			AuthorID:      "seed",
			AuthorScope:   promo.AuthorAdmin,
		},
	}

	repo := postgres.NewCodeRepository(pool)
	for _, c := range codes {
		c.ID = uuid.New().String()
		err := repo.Create(ctx, c)
		if errors.Is(err, promo.ErrCodeExists) {
			err = repo.Update(ctx, c)
		}
		if err != nil {
			return errors.Wrapf(err, "seed code %s", c.Code)
		}
		slog.Info("seeded code", slog.String("code", c.Code), slog.String("title", c.Title))
	}

	return nil
}

const upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes, author_id, active)
	VALUES ($1, $2, $3, $4, $5, TRUE)
	ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name,
		scopes = EXCLUDED.scopes, author_id = EXCLUDED.author_id, active = TRUE`

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	keyHash := handler.HashAPIKey(apiKey, pepper)
	_, err := pool.Exec(ctx, upsertAPIKeySQL,
		"default", keyHash, "Default admin key", []string{"codes:admin"}, "seed",
	)
	if err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"))
	return nil
}
