package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-grocery/internal/app"
	"github.com/noah-isme/backend-grocery/internal/auth"
	"github.com/noah-isme/backend-grocery/internal/catalog"
	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/config"
	"github.com/noah-isme/backend-grocery/internal/obs"
	"github.com/noah-isme/backend-grocery/internal/pricing"
	"github.com/noah-isme/backend-grocery/internal/store"
)

type seedUser struct {
	Name     string
	Email    string
	Password string
	Admin    bool
}

type seedProduct struct {
	Name        string
	Description string
	Price       int64
	Category    string
	Rules       []pricing.DiscountRule
}

var categories = []string{"Vegetables", "Fruits", "Dairy & Eggs", "Staples", "Beverages", "Snacks"}

var products = []seedProduct{
	{"Spinach", "Fresh spinach, one bunch", 5000, "Vegetables", []pricing.DiscountRule{pricing.Rule(5, 10)}},
	{"Carrot 1kg", "Local carrots", 18000, "Vegetables", nil},
	{"Shallots 250g", "Red shallots", 12000, "Vegetables", []pricing.DiscountRule{pricing.Rule(4, 5)}},
	{"Banana Cavendish", "One hand, about 1.2kg", 25000, "Fruits", nil},
	{"Red Apple 1kg", "Imported fuji apples", 42000, "Fruits", []pricing.DiscountRule{pricing.Rule(2, 5), pricing.Rule(5, 12)}},
	{"Chicken Eggs 10pcs", "Free-range eggs", 28000, "Dairy & Eggs", []pricing.DiscountRule{pricing.Rule(3, 10)}},
	{"Fresh Milk 1L", "Full cream pasteurised milk", 21000, "Dairy & Eggs", nil},
	{"Rice 5kg", "Premium long grain rice", 75000, "Staples", []pricing.DiscountRule{pricing.Rule(2, 5), pricing.Rule(4, 10)}},
	{"Cooking Oil 2L", "Palm cooking oil", 36000, "Staples", nil},
	{"Granulated Sugar 1kg", "White sugar", 16500, "Staples", []pricing.DiscountRule{pricing.Rule(6, 8)}},
	{"Jasmine Tea 25s", "Tea bags", 9500, "Beverages", nil},
	{"Mineral Water 600ml", "Bottled water", 4000, "Beverages", []pricing.DiscountRule{pricing.Rule(12, 15)}},
	{"Potato Chips", "Salted potato chips 68g", 11000, "Snacks", nil},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(envOrDefault("OBS_LOG_FORMAT", "console"), envOrDefault("OBS_LOG_LEVEL", "info")).
		With().Str("component", "seeder").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Migrate(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}
	pool, err := app.OpenPostgres(ctx, cfg, "grocery-seeder", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer pool.Close()
	db := store.NewStore(pool)

	authService, err := auth.NewService(auth.Config{Store: db, Secret: cfg.JWTSecret})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	catalogService, err := catalog.NewService(catalog.ServiceConfig{Store: db, Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}

	users := []seedUser{
		{"Store Admin", envOrDefault("SEED_ADMIN_EMAIL", "admin@grocery.local"), envOrDefault("SEED_ADMIN_PASSWORD", "admin12345"), true},
		{"Budi Santoso", "budi@example.com", "password123", false},
		{"Siti Aminah", "siti@example.com", "password123", false},
	}
	seedUsers(ctx, logger, authService, db, users)

	categoryIDs, err := seedCategories(ctx, logger, catalogService)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed categories")
	}
	seedProducts(ctx, logger, catalogService, categoryIDs)

	logger.Info().Msg("seeding completed")
}

func seedUsers(ctx context.Context, logger zerolog.Logger, svc *auth.Service, db *store.Store, users []seedUser) {
	for _, u := range users {
		created, err := svc.Register(ctx, u.Name, u.Email, u.Password)
		var id string
		var appErr *common.AppError
		switch {
		case err == nil:
			id = created.ID
		case errors.As(err, &appErr) && appErr.Code == "EMAIL_ALREADY_USED":
			existing, lookupErr := db.GetUserByEmail(ctx, strings.ToLower(u.Email))
			if lookupErr != nil {
				logger.Error().Err(lookupErr).Str("email", u.Email).Msg("load existing user")
				continue
			}
			id = store.UUIDString(existing.ID)
		default:
			logger.Error().Err(err).Str("email", u.Email).Msg("seed user")
			continue
		}
		if u.Admin {
			uid, err := store.ParseUUID(id)
			if err != nil {
				logger.Error().Err(err).Str("email", u.Email).Msg("parse user id")
				continue
			}
			if _, err := db.SetUserRoles(ctx, uid, []string{common.RoleUser, common.RoleAdmin}); err != nil {
				logger.Error().Err(err).Str("email", u.Email).Msg("grant admin role")
				continue
			}
		}
		logger.Info().Str("email", u.Email).Bool("admin", u.Admin).Msg("user ready")
	}
}

func seedCategories(ctx context.Context, logger zerolog.Logger, svc *catalog.Service) (map[string]string, error) {
	ids := make(map[string]string, len(categories))
	for _, name := range categories {
		created, err := svc.CreateCategory(ctx, name)
		switch {
		case err == nil:
			ids[name] = created.ID
		case errors.Is(err, catalog.ErrCategoryExists):
		default:
			return nil, err
		}
	}
	existing, err := svc.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range existing {
		ids[c.Name] = c.ID
	}
	logger.Info().Int("count", len(ids)).Msg("categories ready")
	return ids, nil
}

func seedProducts(ctx context.Context, logger zerolog.Logger, svc *catalog.Service, categoryIDs map[string]string) {
	for _, p := range products {
		in := catalog.ProductInput{
			Name:        &p.Name,
			Description: &p.Description,
			Price:       &p.Price,
			DiscRules:   p.Rules,
			HasRules:    true,
		}
		if id, ok := categoryIDs[p.Category]; ok {
			in.CategoryID = &id
		}
		_, err := svc.CreateProduct(ctx, in)
		switch {
		case err == nil:
			logger.Info().Str("product", p.Name).Msg("product created")
		case errors.Is(err, catalog.ErrProductExists):
			logger.Debug().Str("product", p.Name).Msg("product exists")
		default:
			logger.Error().Err(err).Str("product", p.Name).Msg("seed product")
		}
	}
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
