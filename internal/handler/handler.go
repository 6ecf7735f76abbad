package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/unrolled/secure"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/coupon"
	"github.com/xenking/retail-pos/internal/domain/loyalty"
	"github.com/xenking/retail-pos/internal/domain/product"
	"github.com/xenking/retail-pos/internal/domain/sale"
	"github.com/xenking/retail-pos/internal/domain/user"
	"github.com/xenking/retail-pos/internal/wire"
)

// UserService authenticates operators and administers roles and grants.
type UserService interface {
	Login(ctx context.Context, username, password string) (string, *authz.Principal, error)
	Authenticate(ctx context.Context, raw string) (*authz.Principal, error)
	Logout(ctx context.Context, raw string) error
	GrantTemporary(ctx context.Context, userID, permission string, duration time.Duration) (*authz.TemporaryGrant, error)
	List(ctx context.Context, f user.Filter) ([]user.User, error)
	UpdateRole(ctx context.Context, id string, role authz.Role) (*user.User, error)
}

// SaleService records and reads sales.
type SaleService interface {
	Checkout(ctx context.Context, req sale.CheckoutRequest) (*sale.Receipt, error)
	Get(ctx context.Context, id string) (*sale.Sale, error)
	List(ctx context.Context, f sale.Filter) ([]sale.Sale, error)
}

// LoyaltyService reads and adjusts client balances.
type LoyaltyService interface {
	Get(ctx context.Context, clientID string) (*loyalty.Client, error)
	Adjust(ctx context.Context, clientID string, delta int64, reason string) (*loyalty.Client, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// RateLimit is the number of requests allowed per RateWindow for one
	// token, or one IP before login. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
	// SSLRedirect enables the HTTPS redirect of the security headers
	// middleware.
	SSLRedirect bool
}

// Handler serves the POS backing API.
type Handler struct {
	users    UserService
	sales    SaleService
	loyalty  LoyaltyService
	products product.Repository
	coupons  coupon.Validator
	auth     *authz.Authorizer
	validate *validator.Validate
	cfg      Config

	salesCreated     metric.Int64Counter
	checkoutRejected metric.Int64Counter
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	users UserService,
	sales SaleService,
	ledger LoyaltyService,
	products product.Repository,
	coupons coupon.Validator,
	auth *authz.Authorizer,
	meter metric.Meter,
) (*Handler, error) {
	salesCreated, err := meter.Int64Counter("pos.sales.created",
		metric.WithDescription("Sales recorded by checkout"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "sales counter")
	}
	checkoutRejected, err := meter.Int64Counter("pos.checkout.rejected",
		metric.WithDescription("Checkouts refused by validation or policy"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "rejections counter")
	}
	return &Handler{
		users:            users,
		sales:            sales,
		loyalty:          ledger,
		products:         products,
		coupons:          coupons,
		auth:             auth,
		validate:         validator.New(),
		cfg:              cfg,
		salesCreated:     salesCreated,
		checkoutRejected: checkoutRejected,
	}, nil
}

// Routes returns the API router. Everything except login requires a bearer
// token.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	headers := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "no-referrer",
		SSLRedirect:        h.cfg.SSLRedirect,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})
	r.Use(headers.Handler)

	limit := func(next http.Handler) http.Handler { return next }
	if h.cfg.RateLimit > 0 {
		limit = httprate.Limit(h.cfg.RateLimit, h.cfg.RateWindow,
			httprate.WithKeyFuncs(rateLimitKey),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusTooManyRequests, &wire.Error{Code: wire.CodeRateLimited, Message: "rate limit exceeded"})
			}),
		)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, errNoRoute)
	})

	r.With(limit).Post("/auth/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate, limit)

		r.Post("/auth/logout", h.logout)
		r.Get("/me", h.me)

		r.Get("/products", h.listProducts)
		r.Get("/products/{id}", h.getProduct)
		r.Get("/coupons/validate/{code}", h.validateCoupon)

		r.Post("/sales/checkout", h.checkout)
		r.Get("/sales", h.listSales)
		r.Get("/sales/{id}", h.getSale)

		r.Get("/clients/{id}", h.getClient)
		r.Post("/clients/{id}/points", h.adjustPoints)

		r.Get("/users", h.listUsers)
		r.Put("/users/{id}/role", h.updateRole)
		r.Post("/users/{id}/temporary-permissions", h.grantPermission)
	})
	return r
}
