//go:build integration

package app

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	red "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/retail-pos/internal/client"
	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/cart"
	"github.com/xenking/retail-pos/internal/domain/checkout"
	"github.com/xenking/retail-pos/internal/domain/loyalty"
	"github.com/xenking/retail-pos/internal/domain/product"
	"github.com/xenking/retail-pos/internal/domain/sale"
	"github.com/xenking/retail-pos/internal/domain/user"
	"github.com/xenking/retail-pos/internal/session"
	"github.com/xenking/retail-pos/internal/storage/postgres"
	"github.com/xenking/retail-pos/pkg/httpmiddleware"
)

type stack struct {
	url     string
	product *postgres.ProductRepository
	clients *postgres.ClientRepository
}

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "pos",
				"POSTGRES_PASSWORD": "pos",
				"POSTGRES_DB":       "pos",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://pos:pos@%s:%s/pos?sslmode=disable", host, port.Port())
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, startPostgres(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.RunMigrations(ctx, pool))

	mr := miniredis.RunT(t)
	rdb := red.NewClient(&red.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &Config{
		TokenPepper: "integration-pepper",
		TokenTTL:    time.Hour,
		Redis:       RedisConfig{IdempotencyTTL: time.Hour},
	}
	api, err := NewServer(cfg, Deps{
		DB:     pool,
		Redis:  rdb,
		Tax:    cart.NoTax{},
		Meters: noop.NewMeterProvider(),
	})
	require.NoError(t, err)

	root := chi.NewRouter()
	root.Mount("/", api)
	srv := httptest.NewServer(httpmiddleware.Wrap(root,
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zaptest.NewLogger(t)),
		httpmiddleware.RouteContext(),
		httpmiddleware.LogRequests(),
	))
	t.Cleanup(srv.Close)

	products := postgres.NewProductRepository(pool)
	require.NoError(t, products.Upsert(ctx, product.Product{
		ID: "p1", Name: "Widget", Price: decimal.RequireFromString("43.75"), Stock: 3, Unit: "unit", Category: "tools",
	}))
	clients := postgres.NewClientRepository(pool)
	require.NoError(t, clients.Upsert(ctx, loyalty.Client{ID: "c1", Name: "Bo", Points: 10}))

	users := postgres.NewUserRepository(pool)
	for _, u := range []struct {
		id, name string
		role     authz.Role
	}{
		{"u-cash", "cashier", authz.RoleCashier},
		{"u-super", "super", authz.RoleSupervisor},
	} {
		hash, err := user.HashPassword("secret")
		require.NoError(t, err)
		require.NoError(t, users.Upsert(ctx, user.User{
			ID: u.id, Username: u.name, Name: u.name, Role: u.role, Level: u.role.Level(),
			Active: true, PasswordHash: hash, CreatedAt: time.Now().UTC(),
		}))
	}

	return &stack{url: srv.URL, product: products, clients: clients}
}

func newSession(t *testing.T, st *stack, username string) (*session.Session, *client.Client) {
	t.Helper()
	c, err := client.New(client.Config{BaseURL: st.url, Timeout: 5 * time.Second})
	require.NoError(t, err)
	s := session.New(c, authz.NewAuthorizer(authz.DefaultTable()), session.Config{
		Accrual: loyalty.DefaultAccrual(),
	})
	_, err = s.Login(context.Background(), username, "secret")
	require.NoError(t, err)
	return s, c
}

func TestCheckoutEndToEnd(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	s, c := newSession(t, st, "cashier")

	require.NoError(t, s.AddProduct(ctx, "p1", 2))
	o := s.Checkout()
	sctx := s.Context(ctx)
	require.NoError(t, o.Begin(sctx))

	// A cashier cannot apply a manual discount without a grant.
	_, err := o.Quote(sctx, checkout.Adjustments{ClientID: "c1", ManualDiscount: "10"})
	require.ErrorIs(t, err, authz.ErrDenied)

	sup, _ := newSession(t, st, "super")
	_, err = sup.Grant(ctx, "u-cash", authz.PermDiscountsApply, 30*time.Minute)
	require.ErrorIs(t, err, authz.ErrDenied, "supervisors cannot grant")

	q, err := o.Quote(sctx, checkout.Adjustments{ClientID: "c1"})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("87.50").Equal(q.Total))

	res, err := o.Confirm(sctx, checkout.Payment{Method: "cash", Tendered: "90"})
	require.NoError(t, err)
	require.NoError(t, res.AccrualErr)
	assert.True(t, decimal.RequireFromString("2.50").Equal(res.Change))
	assert.Equal(t, int64(87), res.PointsEarned)

	p, err := st.product.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)

	cl, err := st.clients.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(97), cl.Points)

	// Replaying the same key returns the recorded sale without a second
	// stock decrement.
	replay, err := c.CreateSale(ctx, sale.CheckoutRequest{
		IdempotencyKey: o.IdempotencyKey(),
		Items:          []sale.LineRequest{{ProductID: "p1", Quantity: 2}},
		ClientID:       "c1",
		PaymentMethod:  "cash",
		PaymentAmount:  "90",
	})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, res.Receipt.Sale.ID, replay.Sale.ID)

	p, err = st.product.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	const terminals = 3
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		refused int
	)
	for range terminals {
		s, _ := newSession(t, st, "cashier")
		require.NoError(t, s.AddProduct(ctx, "p1", 2))
		require.NoError(t, s.Checkout().Begin(s.Context(ctx)))
		_, err := s.Checkout().Quote(s.Context(ctx), checkout.Adjustments{})
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Checkout().Confirm(s.Context(ctx), checkout.Payment{Method: "card", Tendered: "87.50"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, cart.ErrInsufficientStock):
				refused++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, terminals-1, refused)

	p, err := st.product.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)
}
