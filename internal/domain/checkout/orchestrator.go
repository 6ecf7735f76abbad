// Package checkout turns a cart plus payment input into a persisted sale or
// a rejected attempt.
package checkout

import (
	"context"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/cart"
	"github.com/xenking/retail-pos/internal/domain/coupon"
	"github.com/xenking/retail-pos/internal/domain/loyalty"
	"github.com/xenking/retail-pos/internal/domain/product"
	"github.com/xenking/retail-pos/internal/domain/sale"
)

// Deps are the collaborators of an Orchestrator. Clients and Loyalty are
// optional.
type Deps struct {
	Authorizer *authz.Authorizer
	Resolver   *coupon.Resolver
	Sales      SaleCreator
	Clients    ClientLookup
	Loyalty    loyalty.PointsAccruer
	Accrual    loyalty.AccrualPolicy
	// NewKey generates attempt idempotency keys. Defaults to UUIDv4.
	NewKey func() string
}

var (
	checkoutRequirement = authz.Require(authz.Permission(authz.PermSalesCreate))
	discountRequirement = authz.Require(authz.Permission(authz.PermDiscountsApply))
	cartRequirement     = authz.Require(authz.Permission(authz.PermCartManage))
)

// Orchestrator is the checkout state machine of one session. All methods
// are safe for concurrent use; the lock is not held across boundary calls,
// and at most one boundary call per attempt is in flight.
type Orchestrator struct {
	deps Deps

	mu        sync.Mutex
	cart      *cart.Cart
	state     State
	key       string
	unsettled string
	adj       Adjustments
	quote     Quote
	payment   *Payment
	pending   bool
	attempt   uint64
	canceled  bool
	cancel    context.CancelFunc
	rejection error
	result    *Result
}

// New creates an Orchestrator in Building over c.
func New(c *cart.Cart, deps Deps) *Orchestrator {
	if deps.NewKey == nil {
		deps.NewKey = func() string { return uuid.New().String() }
	}
	return &Orchestrator{deps: deps, cart: c, state: Building}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Summary returns the cart summary.
func (o *Orchestrator) Summary() cart.Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cart.Summary()
}

// Items returns a copy of the cart lines.
func (o *Orchestrator) Items() []cart.Item {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cart.Items()
}

// CurrentQuote returns the current quote of the attempt.
func (o *Orchestrator) CurrentQuote() Quote {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.quote
}

// LastPayment returns the tender of the last confirmation, preserved after
// a failed submission.
func (o *Orchestrator) LastPayment() (Payment, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.payment == nil {
		return Payment{}, false
	}
	return *o.payment, true
}

// LastRejection returns the error of the most recent rejected attempt.
func (o *Orchestrator) LastRejection() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rejection
}

// IdempotencyKey returns the key of the open attempt.
func (o *Orchestrator) IdempotencyKey() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.key
}

// Result returns the outcome of a confirmed attempt.
func (o *Orchestrator) Result() (*Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result, o.result != nil
}

// AddItem adds qty of p to the cart while Building.
func (o *Orchestrator) AddItem(ctx context.Context, p product.Product, qty int) error {
	return o.mutate(ctx, func(c *cart.Cart) error { return c.AddItem(p, qty) })
}

// SetQuantity changes a line quantity while Building.
func (o *Orchestrator) SetQuantity(ctx context.Context, productID string, qty int) error {
	return o.mutate(ctx, func(c *cart.Cart) error { return c.SetQuantity(productID, qty) })
}

// Refresh replaces a line's stock snapshot while Building.
func (o *Orchestrator) Refresh(ctx context.Context, p product.Product) error {
	return o.mutate(ctx, func(c *cart.Cart) error { return c.Refresh(p) })
}

// RemoveItem removes a line while Building.
func (o *Orchestrator) RemoveItem(ctx context.Context, productID string) error {
	return o.mutate(ctx, func(c *cart.Cart) error { return c.RemoveItem(productID) })
}

// ClearCart empties the cart while Building.
func (o *Orchestrator) ClearCart(ctx context.Context) error {
	return o.mutate(ctx, func(c *cart.Cart) error {
		c.Clear()
		return nil
	})
}

func (o *Orchestrator) mutate(ctx context.Context, fn func(c *cart.Cart) error) error {
	if err := o.deps.Authorizer.AuthorizeContext(ctx, cartRequirement); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending {
		return ErrCheckoutInProgress
	}
	if o.state != Building {
		return ErrInvalidState
	}
	return fn(o.cart)
}

// Begin moves Building to AwaitingPayment. A denied principal leaves the
// state machine where it is.
func (o *Orchestrator) Begin(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case AwaitingPayment:
		if o.pending {
			return ErrCheckoutInProgress
		}
		return ErrInvalidState
	case Confirmed:
		return ErrAlreadyConfirmed
	}
	if err := o.deps.Authorizer.AuthorizeContext(ctx, checkoutRequirement); err != nil {
		return err
	}
	if o.cart.Len() == 0 {
		return &sale.ValidationError{Field: "items", Reason: "cart is empty"}
	}

	summary := o.cart.Summary()
	amounts := sale.Totals(summary.Subtotal, decimal.Zero, summary.Tax)
	// A submission whose outcome is unknown may have been recorded; reusing
	// its key lets the service replay it instead of creating a second sale.
	if o.unsettled != "" {
		o.key = o.unsettled
	} else {
		o.key = o.deps.NewKey()
	}
	o.adj = Adjustments{}
	o.payment = nil
	o.canceled = false
	o.quote = Quote{
		Subtotal: amounts.Subtotal,
		Discount: amounts.Discount,
		Tax:      amounts.Tax,
		Total:    amounts.Total,
		Source:   coupon.SourceNone,
	}
	o.transition(ctx, AwaitingPayment)
	return nil
}

// Quote prices the attempt with adj. An invalid coupon or malformed input
// rejects the attempt; a boundary failure keeps it in AwaitingPayment.
func (o *Orchestrator) Quote(ctx context.Context, adj Adjustments) (Quote, error) {
	o.mu.Lock()
	if err := o.awaitingLocked(); err != nil {
		o.mu.Unlock()
		return Quote{}, err
	}
	if strings.TrimSpace(adj.CouponCode) != "" {
		if err := o.deps.Authorizer.AuthorizeContext(ctx, authz.Require(authz.Permission(authz.PermCouponsApply))); err != nil {
			o.mu.Unlock()
			return Quote{}, err
		}
	}
	summary := o.cart.Summary()
	o.pending = true
	attempt := o.attempt
	o.mu.Unlock()

	q, err := o.price(ctx, summary, adj)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = false
	if o.attempt != attempt || o.canceled {
		o.finishCancelLocked(ctx)
		return Quote{}, ErrCanceled
	}
	if err != nil {
		var re *RetryableError
		switch {
		case errors.Is(err, authz.ErrDenied), errors.As(err, &re):
			return Quote{}, err
		default:
			return Quote{}, o.rejectLocked(ctx, err)
		}
	}
	o.adj = adj
	o.quote = q
	return q, nil
}

// price runs outside the lock. It returns *RetryableError for boundary
// failures and domain errors for input the operator must correct.
func (o *Orchestrator) price(ctx context.Context, summary cart.Summary, adj Adjustments) (Quote, error) {
	var client *loyalty.Client
	if id := strings.TrimSpace(adj.ClientID); id != "" {
		if o.deps.Clients == nil {
			client = &loyalty.Client{ID: id}
		} else {
			c, err := o.deps.Clients.GetClient(ctx, id)
			switch {
			case errors.Is(err, loyalty.ErrClientNotFound):
				return Quote{}, &sale.ValidationError{Field: "client_id", Reason: "client " + id + " not found"}
			case err != nil:
				return Quote{}, &RetryableError{Op: "lookup client", Err: err}
			}
			client = c
		}
	}

	manual := adj.ManualDiscount
	if strings.TrimSpace(manual) == "" && adj.UseTierDiscount && client != nil {
		manual = client.Tier().Discount(summary.Subtotal).String()
	}
	m, err := coupon.ParseManual(manual)
	if err != nil {
		return Quote{}, &sale.ValidationError{Field: "discount_amount", Reason: err.Error()}
	}
	if m.IsPositive() {
		if err := o.deps.Authorizer.AuthorizeContext(ctx, discountRequirement); err != nil {
			return Quote{}, err
		}
	}

	res, err := o.deps.Resolver.Resolve(ctx, coupon.ResolveRequest{
		Subtotal:   summary.Subtotal,
		Manual:     manual,
		CouponCode: adj.CouponCode,
		Client:     client,
	})
	if err != nil {
		return Quote{}, &RetryableError{Op: "resolve discount", Err: err}
	}
	if err := res.Err(); err != nil {
		return Quote{}, err
	}

	amounts := sale.Totals(summary.Subtotal, res.Effective, summary.Tax)
	return Quote{
		Subtotal: amounts.Subtotal,
		Discount: amounts.Discount,
		Tax:      amounts.Tax,
		Total:    amounts.Total,
		Source:   res.Source,
		Issues:   res.Issues,
		Client:   client,
	}, nil
}

// Confirm submits the attempt with pay. It is at-most-once: a second call
// while the first is pending is refused, and a confirmed attempt is never
// submitted again.
func (o *Orchestrator) Confirm(ctx context.Context, pay Payment) (*Result, error) {
	o.mu.Lock()
	switch o.state {
	case Confirmed:
		o.mu.Unlock()
		return nil, ErrAlreadyConfirmed
	case Building:
		o.mu.Unlock()
		return nil, ErrInvalidState
	}
	if o.pending {
		o.mu.Unlock()
		return nil, ErrCheckoutInProgress
	}
	if err := o.deps.Authorizer.AuthorizeContext(ctx, checkoutRequirement); err != nil {
		o.mu.Unlock()
		return nil, err
	}

	p := pay
	o.payment = &p
	req, change, err := o.requestLocked(pay)
	if err != nil {
		err = o.rejectLocked(ctx, err)
		o.mu.Unlock()
		return nil, err
	}

	submitCtx, cancel := context.WithCancel(ctx)
	o.pending = true
	o.cancel = cancel
	attempt := o.attempt
	total := o.quote.Total
	client := o.quote.Client
	o.mu.Unlock()

	lg := zctx.From(ctx).With(zap.String("idempotency_key", req.IdempotencyKey))
	lg.Info("Submitting sale", zap.Stringer("total", total))

	receipt, err := o.deps.Sales.CreateSale(submitCtx, req)
	cancel()

	o.mu.Lock()
	o.pending = false
	o.cancel = nil
	if err != nil {
		defer o.mu.Unlock()
		if rejectable(err) {
			o.unsettled = ""
			if o.attempt != attempt || o.canceled {
				o.finishCancelLocked(ctx)
				return nil, ErrCanceled
			}
			return nil, o.rejectLocked(ctx, err)
		}
		if !errors.Is(err, authz.ErrDenied) {
			o.unsettled = req.IdempotencyKey
		}
		if o.attempt != attempt || o.canceled {
			o.finishCancelLocked(ctx)
			return nil, ErrCanceled
		}
		lg.Warn("Sale submission failed", zap.Error(err))
		if errors.Is(err, authz.ErrDenied) {
			return nil, err
		}
		return nil, &RetryableError{Op: "create sale", Err: err}
	}

	// The sale is recorded; a cancel that raced the submission cannot
	// undo it.
	o.cart.Clear()
	o.canceled = false
	o.unsettled = ""
	o.transition(ctx, Confirmed)
	res := &Result{Receipt: receipt, Change: change, Client: client}
	if receipt != nil && receipt.Sale != nil {
		res.Change = receipt.Sale.Change
		total = receipt.Sale.Total
	}
	o.result = res
	o.mu.Unlock()

	lg.Info("Sale confirmed", zap.String("sale_id", saleID(receipt)))
	o.accrue(ctx, res, total)
	return res, nil
}

// requestLocked validates the tender against the quote and builds the
// boundary request.
func (o *Orchestrator) requestLocked(pay Payment) (sale.CheckoutRequest, decimal.Decimal, error) {
	method := strings.TrimSpace(pay.Method)
	if method == "" {
		return sale.CheckoutRequest{}, decimal.Zero, &sale.ValidationError{Field: "payment_method", Reason: "required"}
	}
	tendered, err := sale.ParseAmount("payment_amount", pay.Tendered)
	if err != nil {
		return sale.CheckoutRequest{}, decimal.Zero, err
	}
	change, err := sale.Change(o.quote.Total, tendered)
	if err != nil {
		return sale.CheckoutRequest{}, decimal.Zero, err
	}

	items := o.cart.Items()
	lines := make([]sale.LineRequest, len(items))
	for i, it := range items {
		lines[i] = sale.LineRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	manual := ""
	if o.quote.Source == coupon.SourceManual {
		manual = o.quote.Discount.String()
	}
	clientID := ""
	if o.quote.Client != nil {
		clientID = o.quote.Client.ID
	}
	couponCode := ""
	if o.quote.Source == coupon.SourceCoupon {
		couponCode = coupon.NormalizeCode(o.adj.CouponCode)
	}

	return sale.CheckoutRequest{
		IdempotencyKey: o.key,
		Items:          lines,
		ClientID:       clientID,
		PaymentMethod:  method,
		PaymentAmount:  tendered.String(),
		DiscountAmount: manual,
		CouponCode:     couponCode,
		Notes:          strings.TrimSpace(o.adj.Notes),
	}, change, nil
}

func (o *Orchestrator) accrue(ctx context.Context, res *Result, total decimal.Decimal) {
	if res.Client == nil || o.deps.Loyalty == nil {
		return
	}
	points := o.deps.Accrual.Points(total)
	if points <= 0 {
		return
	}
	reason := "sale " + saleID(res.Receipt)
	c, err := o.deps.Loyalty.Adjust(ctx, res.Client.ID, points, reason)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		res.AccrualErr = errors.Wrap(err, "accrue points")
		zctx.From(ctx).Warn("Point accrual failed",
			zap.String("client_id", res.Client.ID),
			zap.Int64("points", points),
			zap.Error(err),
		)
		return
	}
	res.PointsEarned = points
	res.Client = c
}

// Cancel discards the open attempt. With no submission pending it returns
// to Building at once; a pending submission is aborted and the state
// settles when it returns. The key of a submission that may have been
// recorded is kept for the next Begin.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != AwaitingPayment {
		return ErrInvalidState
	}
	if o.pending {
		o.canceled = true
		if o.cancel != nil {
			o.cancel()
		}
		return nil
	}
	o.finishCancelLocked(ctx)
	return nil
}

func (o *Orchestrator) finishCancelLocked(ctx context.Context) {
	if o.state != AwaitingPayment {
		return
	}
	o.attempt++
	o.canceled = false
	o.key = ""
	o.payment = nil
	o.adj = Adjustments{}
	o.quote = Quote{}
	o.transition(ctx, Building)
}

// NewSale leaves Confirmed for a fresh Building state.
func (o *Orchestrator) NewSale(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Confirmed {
		return ErrInvalidState
	}
	o.attempt++
	o.key = ""
	o.payment = nil
	o.adj = Adjustments{}
	o.quote = Quote{}
	o.result = nil
	o.transition(ctx, Building)
	return nil
}

func (o *Orchestrator) awaitingLocked() error {
	switch {
	case o.pending:
		return ErrCheckoutInProgress
	case o.state == Confirmed:
		return ErrAlreadyConfirmed
	case o.state != AwaitingPayment:
		return ErrInvalidState
	}
	return nil
}

// rejectLocked records err as a rejection and returns to Building with the
// cart unchanged.
func (o *Orchestrator) rejectLocked(ctx context.Context, err error) error {
	o.rejection = err
	o.attempt++
	o.key = ""
	o.transition(ctx, Rejected)
	o.transition(ctx, Building)
	return err
}

func (o *Orchestrator) transition(ctx context.Context, to State) {
	from := o.state
	o.state = to
	fields := []zap.Field{zap.Stringer("from", from), zap.Stringer("to", to)}
	if to == Rejected && o.rejection != nil {
		fields = append(fields, zap.Error(o.rejection))
	}
	zctx.From(ctx).Debug("Checkout transition", fields...)
}

// rejectable reports whether a boundary error means the input was refused
// rather than the submission failing.
func rejectable(err error) bool {
	for _, target := range []error{
		sale.ErrValidation,
		sale.ErrInsufficientPayment,
		coupon.ErrInvalidCoupon,
		cart.ErrInsufficientStock,
		product.ErrNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func saleID(r *sale.Receipt) string {
	if r == nil || r.Sale == nil {
		return ""
	}
	return r.Sale.ID
}
