package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/coupon"
	"github.com/xenking/retail-pos/internal/domain/loyalty"
	"github.com/xenking/retail-pos/internal/domain/product"
	"github.com/xenking/retail-pos/internal/domain/user"
	"github.com/xenking/retail-pos/internal/storage/postgres"
)

type seedFile struct {
	Products []product.Product `json:"products"`
	Coupons  []couponJSON      `json:"coupons"`
	Clients  []loyalty.Client  `json:"clients"`
	Users    []userJSON        `json:"users"`
}

type couponJSON struct {
	Code         string          `json:"code"`
	DiscountType string          `json:"discount_type"`
	Value        decimal.Decimal `json:"value"`
	MinPurchase  decimal.Decimal `json:"min_purchase"`
	MaxDiscount  decimal.Decimal `json:"max_discount"`
	ClientID     string          `json:"client_id"`
	Description  string          `json:"description"`
	ValidFrom    *time.Time      `json:"valid_from"`
	ValidUntil   *time.Time      `json:"valid_until"`
	MaxUses      int             `json:"max_uses"`
	Active       bool            `json:"active"`
}

type userJSON struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/seed.json", "path to the seed JSON file")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, seedPath); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, seedPath string) error {
	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed file")
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products := postgres.NewProductRepository(pool)
	for _, p := range seed.Products {
		if err := products.Upsert(ctx, p); err != nil {
			return err
		}
	}
	lg.Info("Upserted products", zap.Int("count", len(seed.Products)))

	rules := make([]coupon.Rule, 0, len(seed.Coupons))
	for _, c := range seed.Coupons {
		rules = append(rules, coupon.Rule{
			Code:         c.Code,
			DiscountType: coupon.DiscountType(c.DiscountType),
			Value:        c.Value,
			MinPurchase:  c.MinPurchase,
			MaxDiscount:  c.MaxDiscount,
			ClientID:     c.ClientID,
			Description:  c.Description,
			ValidFrom:    c.ValidFrom,
			ValidUntil:   c.ValidUntil,
			MaxUses:      c.MaxUses,
			Active:       c.Active,
		})
	}
	if err := postgres.NewCouponRepository(pool).Upsert(ctx, rules); err != nil {
		return err
	}
	lg.Info("Upserted coupons", zap.Int("count", len(rules)))

	clients := postgres.NewClientRepository(pool)
	for _, c := range seed.Clients {
		if err := clients.Upsert(ctx, c); err != nil {
			return err
		}
	}
	lg.Info("Upserted clients", zap.Int("count", len(seed.Clients)))

	users := postgres.NewUserRepository(pool)
	for _, u := range seed.Users {
		role, err := authz.ParseRole(u.Role)
		if err != nil {
			return errors.Wrapf(err, "user %q", u.Username)
		}
		hash, err := user.HashPassword(u.Password)
		if err != nil {
			return err
		}
		if err := users.Upsert(ctx, user.User{
			ID:           u.ID,
			Username:     u.Username,
			Name:         u.Name,
			Role:         role,
			Level:        role.Level(),
			Active:       true,
			PasswordHash: hash,
			CreatedAt:    time.Now().UTC(),
		}); err != nil {
			return err
		}
		lg.Info("Upserted user", zap.String("username", u.Username), zap.Stringer("role", role))
	}
	return nil
}
