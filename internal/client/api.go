package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/checkout"
	"github.com/xenking/retail-pos/internal/domain/coupon"
	"github.com/xenking/retail-pos/internal/domain/loyalty"
	"github.com/xenking/retail-pos/internal/domain/product"
	"github.com/xenking/retail-pos/internal/domain/sale"
	"github.com/xenking/retail-pos/internal/domain/user"
	"github.com/xenking/retail-pos/internal/wire"
)

var (
	_ coupon.Validator      = (*Client)(nil)
	_ checkout.SaleCreator  = (*Client)(nil)
	_ checkout.ClientLookup = (*Client)(nil)
	_ loyalty.PointsAccruer = (*Client)(nil)
)

// Login exchanges credentials for a token and stores it on the client.
func (c *Client) Login(ctx context.Context, username, password string) (*authz.Principal, error) {
	var resp wire.LoginResponse
	err := c.do(ctx, call{
		op:        "login",
		method:    http.MethodPost,
		path:      "/auth/login",
		body:      &wire.LoginRequest{Username: username, Password: password},
		out:       &resp,
		anonymous: true,
	})
	if err != nil {
		return nil, err
	}
	p, err := resp.Principal.Domain()
	if err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return p, nil
}

// Me returns the principal of the current token, including active grants.
func (c *Client) Me(ctx context.Context) (*authz.Principal, error) {
	var resp wire.Principal
	if err := c.do(ctx, call{op: "me", method: http.MethodGet, path: "/me", out: &resp}); err != nil {
		return nil, err
	}
	return resp.Domain()
}

// Logout revokes the current token and forgets it.
func (c *Client) Logout(ctx context.Context) error {
	defer c.SetToken("")
	return c.do(ctx, call{op: "logout", method: http.MethodPost, path: "/auth/logout"})
}

// Products lists the catalog.
func (c *Client) Products(ctx context.Context) ([]product.Product, error) {
	var resp wire.Products
	if err := c.do(ctx, call{op: "list products", method: http.MethodGet, path: "/products", out: &resp}); err != nil {
		return nil, err
	}
	return resp, nil
}

// Product fetches a fresh product snapshot.
func (c *Client) Product(ctx context.Context, id string) (*product.Product, error) {
	var resp wire.Product
	err := c.do(ctx, call{
		op:       "get product",
		method:   http.MethodGet,
		path:     "/products/" + url.PathEscape(id),
		out:      &resp,
		notFound: product.ErrNotFound,
	})
	if err != nil {
		return nil, err
	}
	return &resp.Product, nil
}

// Validate checks a coupon against a purchase amount.
func (c *Client) Validate(ctx context.Context, code, clientID string, purchase decimal.Decimal) (*coupon.Validation, error) {
	q := url.Values{}
	q.Set("purchase_amount", purchase.String())
	if clientID != "" {
		q.Set("client_id", clientID)
	}
	var resp wire.CouponValidation
	err := c.do(ctx, call{
		op:     "validate coupon",
		method: http.MethodGet,
		path:   "/coupons/validate/" + url.PathEscape(code),
		query:  q,
		out:    &resp,
	})
	if err != nil {
		return nil, err
	}
	v := resp.Domain()
	if v.Code == "" {
		v.Code = code
	}
	return v, nil
}

// CreateSale submits a checkout. The idempotency key travels in a header so
// a retried submission is applied at most once.
func (c *Client) CreateSale(ctx context.Context, req sale.CheckoutRequest) (*sale.Receipt, error) {
	body := wire.CheckoutRequestFrom(req)
	header := http.Header{}
	if req.IdempotencyKey != "" {
		header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	var resp wire.Receipt
	err := c.do(ctx, call{
		op:       "create sale",
		method:   http.MethodPost,
		path:     "/sales/checkout",
		header:   header,
		body:     &body,
		out:      &resp,
		notFound: product.ErrNotFound,
	})
	if err != nil {
		return nil, err
	}
	return resp.Domain(), nil
}

// Sale fetches a recorded sale.
func (c *Client) Sale(ctx context.Context, id string) (*sale.Sale, error) {
	var resp wire.Sale
	err := c.do(ctx, call{
		op:       "get sale",
		method:   http.MethodGet,
		path:     "/sales/" + url.PathEscape(id),
		out:      &resp,
		notFound: sale.ErrNotFound,
	})
	if err != nil {
		return nil, err
	}
	return &resp.Sale, nil
}

// GetClient looks up a loyalty client.
func (c *Client) GetClient(ctx context.Context, id string) (*loyalty.Client, error) {
	var resp wire.Client
	err := c.do(ctx, call{
		op:       "get client",
		method:   http.MethodGet,
		path:     "/clients/" + url.PathEscape(id),
		out:      &resp,
		notFound: loyalty.ErrClientNotFound,
	})
	if err != nil {
		return nil, err
	}
	return &resp.Client, nil
}

// Adjust applies a signed points delta to a client.
func (c *Client) Adjust(ctx context.Context, clientID string, delta int64, reason string) (*loyalty.Client, error) {
	var resp wire.Client
	err := c.do(ctx, call{
		op:       "adjust points",
		method:   http.MethodPost,
		path:     "/clients/" + url.PathEscape(clientID) + "/points",
		body:     &wire.PointsAdjustment{Delta: delta, Reason: reason},
		out:      &resp,
		notFound: loyalty.ErrClientNotFound,
	})
	if err != nil {
		return nil, err
	}
	return &resp.Client, nil
}

// GrantTemporary grants userID a permission for duration, rounded down to
// whole minutes.
func (c *Client) GrantTemporary(ctx context.Context, userID, permission string, duration time.Duration) (*authz.TemporaryGrant, error) {
	var resp wire.Grant
	err := c.do(ctx, call{
		op:     "grant permission",
		method: http.MethodPost,
		path:   "/users/" + url.PathEscape(userID) + "/temporary-permissions",
		body: &wire.GrantRequest{
			Permission:      permission,
			DurationMinutes: int(duration / time.Minute),
		},
		out:      &resp,
		notFound: user.ErrNotFound,
	})
	if err != nil {
		return nil, err
	}
	g := resp.Domain()
	return &g, nil
}

// Users lists operators.
func (c *Client) Users(ctx context.Context, limit, offset int) ([]user.User, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var resp wire.Users
	if err := c.do(ctx, call{op: "list users", method: http.MethodGet, path: "/users", query: q, out: &resp}); err != nil {
		return nil, err
	}
	out := make([]user.User, 0, len(resp))
	for _, u := range resp {
		role, err := authz.ParseRole(u.Role)
		if err != nil {
			return nil, err
		}
		out = append(out, user.User{
			ID:       u.ID,
			Username: u.Username,
			Name:     u.Name,
			Role:     role,
			Level:    authz.Level(u.Level),
			Active:   u.Active,
		})
	}
	return out, nil
}
