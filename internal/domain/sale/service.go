package sale

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/cart"
	"github.com/xenking/retail-pos/internal/domain/coupon"
	"github.com/xenking/retail-pos/internal/domain/loyalty"
	"github.com/xenking/retail-pos/internal/domain/product"
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return "product " + e.ProductID + " not found"
}

func (e *ProductNotFoundError) Is(target error) bool { return target == product.ErrNotFound }

// Service creates sales on the backing service. It re-derives every amount
// from the catalog instead of trusting the terminal's figures.
type Service struct {
	auth     *authz.Authorizer
	products product.Repository
	resolver *coupon.Resolver
	sales    Repository
	idem     IdempotencyStore
	tax      cart.TaxPolicy
	now      func() time.Time

	retryDelay time.Duration
}

const completeAttempts = 3

// NewService creates a sale Service. idem may be nil, in which case
// idempotency keys are ignored.
func NewService(
	auth *authz.Authorizer,
	products product.Repository,
	resolver *coupon.Resolver,
	sales Repository,
	idem IdempotencyStore,
	tax cart.TaxPolicy,
) *Service {
	return &Service{
		auth:     auth,
		products: products,
		resolver: resolver,
		sales:    sales,
		idem:     idem,
		tax:      tax,
		now:      time.Now,

		retryDelay: 50 * time.Millisecond,
	}
}

// Checkout validates req, prices it from the catalog, resolves the discount,
// checks the tender and persists the sale.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (_ *Receipt, rerr error) {
	if err := s.auth.AuthorizeContext(ctx, authz.Require(authz.Permission(authz.PermSalesCreate))); err != nil {
		return nil, err
	}

	if len(req.Items) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "required"}
	}
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		return nil, &ValidationError{Field: "payment_method", Reason: "required"}
	}
	tendered, err := ParseAmount("payment_amount", req.PaymentAmount)
	if err != nil {
		return nil, err
	}
	manual, err := coupon.ParseManual(req.DiscountAmount)
	if err != nil {
		return nil, &ValidationError{Field: "discount_amount", Reason: err.Error()}
	}
	if manual.IsPositive() {
		if err := s.auth.AuthorizeContext(ctx, authz.Require(authz.Permission(authz.PermDiscountsApply))); err != nil {
			return nil, err
		}
	}

	if s.idem != nil && req.IdempotencyKey != "" {
		existing, err := s.idem.Reserve(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, errors.Wrap(err, "reserve idempotency key")
		}
		if existing != "" {
			sl, err := s.sales.Get(ctx, existing)
			if err != nil {
				return nil, errors.Wrap(err, "load replayed sale")
			}
			return &Receipt{Sale: sl, Replayed: true}, nil
		}
		defer func() {
			if rerr == nil {
				return
			}
			if err := s.idem.Release(context.WithoutCancel(ctx), req.IdempotencyKey); err != nil {
				zctx.From(ctx).Warn("Release idempotency key",
					zap.String("key", req.IdempotencyKey),
					zap.Error(err),
				)
			}
		}()
	}

	c, err := s.buildCart(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	summary := c.Summary()

	var client *loyalty.Client
	if req.ClientID != "" {
		client = &loyalty.Client{ID: req.ClientID}
	}
	res, err := s.resolver.Resolve(ctx, coupon.ResolveRequest{
		Subtotal:   summary.Subtotal,
		Manual:     req.DiscountAmount,
		CouponCode: req.CouponCode,
		Client:     client,
	})
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	amounts := Totals(summary.Subtotal, res.Effective, summary.Tax)
	change, err := Change(amounts.Total, tendered)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, c.Len())
	for _, it := range c.Items() {
		items = append(items, Item{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	cashierID := ""
	if p := authz.PrincipalFrom(ctx); p != nil {
		cashierID = p.ID
	}
	couponCode := ""
	if res.Source == coupon.SourceCoupon {
		couponCode = res.CouponCode
	}

	sl := &Sale{
		ID:            uuid.New().String(),
		Items:         items,
		Subtotal:      amounts.Subtotal,
		Discount:      amounts.Discount,
		Tax:           amounts.Tax,
		Total:         amounts.Total,
		PaymentMethod: method,
		Tendered:      tendered,
		Change:        change,
		ClientID:      req.ClientID,
		CouponCode:    couponCode,
		Notes:         strings.TrimSpace(req.Notes),
		CashierID:     cashierID,
		CreatedAt:     s.now(),
	}
	if err := s.sales.Create(ctx, sl); err != nil {
		return nil, errors.Wrap(err, "create sale")
	}

	if s.idem != nil && req.IdempotencyKey != "" {
		s.complete(ctx, req.IdempotencyKey, sl.ID)
	}

	return &Receipt{Sale: sl}, nil
}

// complete records the sale for key, retrying past a canceled request. If
// every attempt fails the key stays pending only until the store's pending
// TTL, after which a resubmission creates a second sale.
func (s *Service) complete(ctx context.Context, key, saleID string) {
	ctx = context.WithoutCancel(ctx)
	var err error
	for i := range completeAttempts {
		if i > 0 {
			time.Sleep(time.Duration(i) * s.retryDelay)
		}
		if err = s.idem.Complete(ctx, key, saleID); err == nil {
			return
		}
	}
	zctx.From(ctx).Error("Complete idempotency key",
		zap.String("key", key),
		zap.String("sale_id", saleID),
		zap.Error(err),
	)
}

// buildCart fetches products in a single batch and adds every line through
// the cart so stock bounds are enforced the same way as on the terminal.
func (s *Service) buildCart(ctx context.Context, lines []LineRequest) (*cart.Cart, error) {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Quantity < 1 {
			return nil, &ValidationError{Field: "items", Reason: "quantity must be at least 1 for product " + l.ProductID}
		}
		ids = append(ids, l.ProductID)
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	c := cart.New(s.tax)
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		if err := c.AddItem(p, l.Quantity); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Get returns a recorded sale.
func (s *Service) Get(ctx context.Context, id string) (*Sale, error) {
	if err := s.auth.AuthorizeContext(ctx, authz.Require(authz.Permission(authz.PermSalesView))); err != nil {
		return nil, err
	}
	return s.sales.Get(ctx, id)
}

// List returns recorded sales matching f, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Sale, error) {
	if err := s.auth.AuthorizeContext(ctx, authz.Require(authz.Permission(authz.PermSalesView))); err != nil {
		return nil, err
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	return s.sales.List(ctx, f)
}
