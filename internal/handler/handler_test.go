package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/cart"
	"github.com/xenking/retail-pos/internal/domain/coupon"
	"github.com/xenking/retail-pos/internal/domain/loyalty"
	"github.com/xenking/retail-pos/internal/domain/product"
	"github.com/xenking/retail-pos/internal/domain/sale"
	"github.com/xenking/retail-pos/internal/domain/user"
	"github.com/xenking/retail-pos/internal/wire"
)

// --- Mock implementations ---

type mockUsers struct {
	principals map[string]*authz.Principal
	loginErr   error

	grantPerm     string
	grantDuration time.Duration
	loggedOut     string
	listFilter    user.Filter
}

func (m *mockUsers) Login(_ context.Context, username, password string) (string, *authz.Principal, error) {
	if m.loginErr != nil {
		return "", nil, m.loginErr
	}
	if password != "secret" {
		return "", nil, user.ErrInvalidCredentials
	}
	for token, p := range m.principals {
		if p.ID == username {
			return token, p, nil
		}
	}
	return "", nil, user.ErrInvalidCredentials
}

func (m *mockUsers) Authenticate(_ context.Context, raw string) (*authz.Principal, error) {
	p, ok := m.principals[raw]
	if !ok {
		return nil, user.ErrInvalidToken
	}
	return p, nil
}

func (m *mockUsers) Logout(_ context.Context, raw string) error {
	m.loggedOut = raw
	return nil
}

func (m *mockUsers) GrantTemporary(_ context.Context, userID, permission string, d time.Duration) (*authz.TemporaryGrant, error) {
	m.grantPerm = permission
	m.grantDuration = d
	return &authz.TemporaryGrant{
		ID:          "g1",
		PrincipalID: userID,
		Permission:  permission,
		ExpiresAt:   time.Date(2025, 6, 15, 13, 0, 0, 0, time.UTC),
	}, nil
}

func (m *mockUsers) List(_ context.Context, f user.Filter) ([]user.User, error) {
	m.listFilter = f
	return []user.User{{ID: "u1", Username: "ana", Role: authz.RoleCashier, Level: 1, Active: true}}, nil
}

func (m *mockUsers) UpdateRole(_ context.Context, id string, role authz.Role) (*user.User, error) {
	return &user.User{ID: id, Username: "bob", Role: role, Level: role.Level(), Active: true}, nil
}

type mockSales struct {
	receipt *sale.Receipt
	err     error
	gotReq  sale.CheckoutRequest
}

func (m *mockSales) Checkout(_ context.Context, req sale.CheckoutRequest) (*sale.Receipt, error) {
	m.gotReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.receipt, nil
}

func (m *mockSales) Get(_ context.Context, id string) (*sale.Sale, error) {
	if m.receipt == nil || m.receipt.Sale.ID != id {
		return nil, sale.ErrNotFound
	}
	return m.receipt.Sale, nil
}

func (m *mockSales) List(context.Context, sale.Filter) ([]sale.Sale, error) {
	if m.receipt == nil {
		return nil, nil
	}
	return []sale.Sale{*m.receipt.Sale}, nil
}

type mockLoyalty struct {
	clients map[string]*loyalty.Client
}

func (m *mockLoyalty) Get(_ context.Context, id string) (*loyalty.Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, loyalty.ErrClientNotFound
	}
	return c, nil
}

func (m *mockLoyalty) Adjust(_ context.Context, id string, delta int64, reason string) (*loyalty.Client, error) {
	if reason == "" {
		return nil, loyalty.ErrReasonRequired
	}
	c, ok := m.clients[id]
	if !ok {
		return nil, errors.Wrap(loyalty.ErrClientNotFound, "adjust points")
	}
	c.Points = loyalty.ApplyDelta(c.Points, delta)
	return c, nil
}

type mockProducts struct {
	products []product.Product
}

func (m *mockProducts) List(context.Context) ([]product.Product, error) { return m.products, nil }

func (m *mockProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	for _, p := range m.products {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, product.ErrNotFound
}

func (m *mockProducts) GetByIDs(context.Context, []string) ([]product.Product, error) {
	return m.products, nil
}

type mockCoupons struct {
	code     string
	clientID string
	purchase decimal.Decimal
}

func (m *mockCoupons) Validate(_ context.Context, code, clientID string, purchase decimal.Decimal) (*coupon.Validation, error) {
	m.code, m.clientID, m.purchase = code, clientID, purchase
	if code != "SAVE10" {
		return &coupon.Validation{Code: code, Issues: []string{"coupon not found"}}, nil
	}
	return &coupon.Validation{Code: code, Valid: true, Amount: purchase.Div(decimal.NewFromInt(10))}, nil
}

// --- Helpers ---

type fixture struct {
	users   *mockUsers
	sales   *mockSales
	loyalty *mockLoyalty
	coupons *mockCoupons
	router  http.Handler
}

func principal(id string, role authz.Role) *authz.Principal {
	return &authz.Principal{ID: id, Name: id, Role: role, Level: role.Level(), Active: true}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		users: &mockUsers{principals: map[string]*authz.Principal{
			"cashier-token": principal("cashier", authz.RoleCashier),
			"manager-token": principal("manager", authz.RoleManager),
		}},
		sales: &mockSales{},
		loyalty: &mockLoyalty{clients: map[string]*loyalty.Client{
			"c1": {ID: "c1", Name: "Ana", Points: 100},
		}},
		coupons: &mockCoupons{},
	}
	products := &mockProducts{products: []product.Product{
		{ID: "p1", Name: "Widget", Price: decimal.RequireFromString("43.75"), Stock: 10},
	}}
	h, err := New(cfg, f.users, f.sales, f.loyalty, products, f.coupons,
		authz.NewAuthorizer(authz.DefaultTable()), noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	f.router = h.Routes()
	return f
}

func (f *fixture) do(method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) wire.Error {
	t.Helper()
	var e wire.Error
	require.NoError(t, wire.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func testReceipt() *sale.Receipt {
	return &sale.Receipt{Sale: &sale.Sale{
		ID:            "s1",
		Items:         []sale.Item{{ProductID: "p1", Name: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("43.75")}},
		Subtotal:      decimal.RequireFromString("87.50"),
		Total:         decimal.RequireFromString("87.50"),
		PaymentMethod: "cash",
		Tendered:      decimal.NewFromInt(90),
		Change:        decimal.RequireFromString("2.50"),
		CreatedAt:     time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}}
}

// --- Tests ---

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, Config{})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic cashier-token", wantStatus: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer cashier-token", wantStatus: http.StatusOK},
		{name: "scheme is case insensitive", header: "bearer cashier-token", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, wire.CodeUnauthenticated, errorBody(t, rec).Code)
				return
			}
			var p wire.Principal
			require.NoError(t, wire.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, "cashier", p.ID)
			assert.Equal(t, "cashier", p.Role)
		})
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(http.MethodPost, "/auth/login", "", `{"username":"manager","password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp wire.LoginResponse
	require.NoError(t, wire.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "manager-token", resp.Token)
	assert.Equal(t, "manager", resp.Principal.Role)

	rec = f.do(http.MethodPost, "/auth/login", "", `{"username":"manager","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, wire.CodeUnauthenticated, errorBody(t, rec).Code)

	rec = f.do(http.MethodPost, "/auth/login", "", `{"password":"secret"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := errorBody(t, rec)
	assert.Equal(t, wire.CodeValidation, e.Code)
	assert.Equal(t, "username", e.Field)

	rec = f.do(http.MethodPost, "/auth/login", "", `{"username":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "body", errorBody(t, rec).Field)
}

func TestLogin_ServiceFailureIsInternal(t *testing.T) {
	f := newFixture(t, Config{})
	f.users.loginErr = errors.New("connection refused")

	rec := f.do(http.MethodPost, "/auth/login", "", `{"username":"manager","password":"secret"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	e := errorBody(t, rec)
	assert.Equal(t, wire.CodeInternal, e.Code)
	assert.NotContains(t, e.Message, "connection refused")
}

func TestLogout(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(http.MethodPost, "/auth/logout", "cashier-token", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "cashier-token", f.users.loggedOut)
}

func TestProducts(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(http.MethodGet, "/products", "cashier-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ps wire.Products
	require.NoError(t, wire.Unmarshal(rec.Body.Bytes(), &ps))
	require.Len(t, ps, 1)
	assert.True(t, decimal.RequireFromString("43.75").Equal(ps[0].Price))
	assert.Contains(t, rec.Body.String(), `"price":"43.75"`)

	rec = f.do(http.MethodGet, "/products/p1", "cashier-token", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/products/nope", "cashier-token", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, wire.CodeNotFound, errorBody(t, rec).Code)
}

func TestValidateCoupon(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(http.MethodGet, "/coupons/validate/save10?client_id=c1&purchase_amount=200", "cashier-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v wire.CouponValidation
	require.NoError(t, wire.Unmarshal(rec.Body.Bytes(), &v))
	assert.True(t, v.IsValid)
	assert.True(t, decimal.NewFromInt(20).Equal(v.DiscountAmount))
	assert.Equal(t, "SAVE10", f.coupons.code)
	assert.Equal(t, "c1", f.coupons.clientID)

	rec = f.do(http.MethodGet, "/coupons/validate/BOGUS?purchase_amount=50", "cashier-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	v = wire.CouponValidation{}
	require.NoError(t, wire.Unmarshal(rec.Body.Bytes(), &v))
	assert.False(t, v.IsValid)
	assert.Equal(t, []string{"coupon not found"}, v.Issues)

	rec = f.do(http.MethodGet, "/coupons/validate/SAVE10", "cashier-token", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "purchase_amount", errorBody(t, rec).Field)
}

func TestCheckout(t *testing.T) {
	f := newFixture(t, Config{})
	f.sales.receipt = testReceipt()

	body := `{"items":[{"product_id":"p1","quantity":2}],"payment_method":"cash","payment_amount":"90.00"}`
	rec := f.do(http.MethodPost, "/sales/checkout", "cashier-token", body, IdempotencyHeader, "key-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "key-1", f.sales.gotReq.IdempotencyKey)
	assert.Equal(t, "90.00", f.sales.gotReq.PaymentAmount)
	require.Len(t, f.sales.gotReq.Items, 1)

	var r wire.Receipt
	require.NoError(t, wire.Unmarshal(rec.Body.Bytes(), &r))
	assert.Equal(t, "s1", r.Sale.ID)
	assert.False(t, r.Replayed)
	assert.Contains(t, rec.Body.String(), `"change":"2.50"`)

	f.sales.receipt.Replayed = true
	rec = f.do(http.MethodPost, "/sales/checkout", "cashier-token", body, IdempotencyHeader, "key-1")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckout_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantField  string
		wantIssues []string
	}{
		{
			name:       "insufficient stock",
			err:        &cart.InsufficientStockError{ProductID: "p1", Requested: 5, Available: 2},
			wantStatus: http.StatusConflict,
			wantCode:   wire.CodeInsufficientStock,
		},
		{
			name:       "invalid coupon",
			err:        &coupon.InvalidCouponError{Code: "OLD", Issues: []string{"coupon has expired"}},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   wire.CodeInvalidCoupon,
			wantIssues: []string{"coupon has expired"},
		},
		{
			name:       "insufficient payment",
			err:        &sale.InsufficientPaymentError{Total: decimal.RequireFromString("87.50"), Tendered: decimal.NewFromInt(80)},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   wire.CodeInsufficientPayment,
		},
		{
			name:       "validation",
			err:        &sale.ValidationError{Field: "payment_method", Reason: "required"},
			wantStatus: http.StatusBadRequest,
			wantCode:   wire.CodeValidation,
			wantField:  "payment_method",
		},
		{
			name:       "denied",
			err:        &authz.DeniedError{Requirement: authz.Require(authz.Permission(authz.PermDiscountsApply))},
			wantStatus: http.StatusForbidden,
			wantCode:   wire.CodeAuthorizationDenied,
		},
		{
			name:       "unknown product",
			err:        &sale.ProductNotFoundError{ProductID: "p9"},
			wantStatus: http.StatusNotFound,
			wantCode:   wire.CodeNotFound,
		},
		{
			name:       "key in progress",
			err:        errors.Wrap(sale.ErrInProgress, "reserve idempotency key"),
			wantStatus: http.StatusConflict,
			wantCode:   wire.CodeConflict,
		},
		{
			name:       "storage failure",
			err:        errors.New("create sale: deadlock"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   wire.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.sales.err = tt.err

			rec := f.do(http.MethodPost, "/sales/checkout", "cashier-token",
				`{"items":[{"product_id":"p1","quantity":1}],"payment_method":"cash","payment_amount":"1"}`)
			require.Equal(t, tt.wantStatus, rec.Code)
			e := errorBody(t, rec)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.wantField, e.Field)
			assert.Equal(t, tt.wantIssues, e.Issues)
		})
	}
}

func TestSales_Get(t *testing.T) {
	f := newFixture(t, Config{})
	f.sales.receipt = testReceipt()

	rec := f.do(http.MethodGet, "/sales/s1", "cashier-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var s wire.Sale
	require.NoError(t, wire.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, "s1", s.ID)

	rec = f.do(http.MethodGet, "/sales/s2", "cashier-token", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/sales?limit=10", "cashier-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ss wire.Sales
	require.NoError(t, wire.Unmarshal(rec.Body.Bytes(), &ss))
	assert.Len(t, ss, 1)
}

func TestClients(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		body       string
		wantStatus int
		wantPoints int64
	}{
		{name: "cashier accrues", token: "cashier-token", body: `{"delta":50,"reason":"sale s1"}`, wantStatus: http.StatusOK, wantPoints: 150},
		{name: "cashier cannot deduct", token: "cashier-token", body: `{"delta":-50,"reason":"fix"}`, wantStatus: http.StatusForbidden},
		{name: "manager deducts", token: "manager-token", body: `{"delta":-50,"reason":"fix"}`, wantStatus: http.StatusOK, wantPoints: 50},
		{name: "deduction floors at zero", token: "manager-token", body: `{"delta":-500,"reason":"fix"}`, wantStatus: http.StatusOK, wantPoints: 0},
		{name: "reason required", token: "cashier-token", body: `{"delta":5}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			rec := f.do(http.MethodPost, "/clients/c1/points", tt.token, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			var c wire.Client
			require.NoError(t, wire.Unmarshal(rec.Body.Bytes(), &c))
			assert.Equal(t, tt.wantPoints, c.Points)
		})
	}

	f := newFixture(t, Config{})
	rec := f.do(http.MethodGet, "/clients/c1", "cashier-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tier":{"name":"bronze"`)

	rec = f.do(http.MethodGet, "/clients/c9", "cashier-token", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/clients/c9/points", "cashier-token", `{"delta":1,"reason":"x"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsers(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(http.MethodGet, "/users?role=cashier&active=true&limit=20&offset=5", "manager-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, authz.RoleCashier, f.users.listFilter.Role)
	require.NotNil(t, f.users.listFilter.Active)
	assert.True(t, *f.users.listFilter.Active)
	assert.Equal(t, 20, f.users.listFilter.Limit)
	assert.Equal(t, 5, f.users.listFilter.Offset)

	rec = f.do(http.MethodGet, "/users?role=overlord", "manager-token", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "role", errorBody(t, rec).Field)

	rec = f.do(http.MethodPut, "/users/u2/role", "manager-token", `{"role":"supervisor"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var u wire.User
	require.NoError(t, wire.Unmarshal(rec.Body.Bytes(), &u))
	assert.Equal(t, "supervisor", u.Role)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestGrantPermission(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(http.MethodPost, "/users/u2/temporary-permissions", "manager-token",
		`{"permission":"discounts:apply","duration_minutes":30}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "discounts:apply", f.users.grantPerm)
	assert.Equal(t, 30*time.Minute, f.users.grantDuration)

	var g wire.Grant
	require.NoError(t, wire.Unmarshal(rec.Body.Bytes(), &g))
	assert.Equal(t, "u2", g.UserID)

	rec = f.do(http.MethodPost, "/users/u2/temporary-permissions", "manager-token",
		`{"permission":"discounts:apply","duration_minutes":0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "duration_minutes", errorBody(t, rec).Field)

	rec = f.do(http.MethodPost, "/users/u2/temporary-permissions", "manager-token",
		`{"permission":"discounts:apply","duration_minutes":1441}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 2, RateWindow: time.Minute})

	for i := range 2 {
		rec := f.do(http.MethodGet, "/me", "cashier-token", "")
		require.Equal(t, http.StatusOK, rec.Code, "request %d should pass", i+1)
	}
	rec := f.do(http.MethodGet, "/me", "cashier-token", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, wire.CodeRateLimited, errorBody(t, rec).Code)

	// Buckets are per principal.
	rec = f.do(http.MethodGet, "/me", "manager-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeadersAndUnknownRoute(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(http.MethodGet, "/nope", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, wire.CodeNotFound, errorBody(t, rec).Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "duration_minutes", snakeCase("DurationMinutes"))
	assert.Equal(t, "username", snakeCase("Username"))
}
