package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/retail-pos/internal/domain/coupon"
	"github.com/xenking/retail-pos/internal/domain/loyalty"
	"github.com/xenking/retail-pos/internal/domain/sale"
)

// State is a checkout pipeline state.
type State uint8

const (
	Building State = iota
	AwaitingPayment
	Confirmed
	// Rejected is transient: a rejected attempt is recorded and control
	// returns to Building with the cart unchanged.
	Rejected
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case AwaitingPayment:
		return "awaiting_payment"
	case Confirmed:
		return "confirmed"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidState is returned for operations not allowed in the current state.
	ErrInvalidState = errors.New("operation not allowed in current checkout state")
	// ErrCheckoutInProgress is returned while a boundary call of the attempt is pending.
	ErrCheckoutInProgress = errors.New("checkout already in progress")
	// ErrAlreadyConfirmed is returned when the attempt already produced a sale.
	ErrAlreadyConfirmed = errors.New("checkout already confirmed")
	// ErrCanceled is returned to a call whose attempt was canceled meanwhile.
	ErrCanceled = errors.New("checkout attempt canceled")
)

// RetryableError wraps a boundary failure after which the attempt is still
// in AwaitingPayment and may be submitted again by the operator.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err leaves the attempt open for a retry.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// SaleCreator persists a sale across the service boundary.
type SaleCreator interface {
	CreateSale(ctx context.Context, req sale.CheckoutRequest) (*sale.Receipt, error)
}

// ClientLookup loads a loyalty client.
type ClientLookup interface {
	GetClient(ctx context.Context, id string) (*loyalty.Client, error)
}

// Adjustments are the operator inputs of the AwaitingPayment step.
type Adjustments struct {
	ClientID       string
	ManualDiscount string
	CouponCode     string
	Notes          string
	// UseTierDiscount uses the client's tier percentage as the manual
	// discount when ManualDiscount is empty.
	UseTierDiscount bool
}

// Quote is the priced attempt shown to the operator before payment.
type Quote struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
	Source   coupon.Source
	Issues   []string
	Client   *loyalty.Client
}

// Payment is the tender entered by the operator.
type Payment struct {
	Method   string
	Tendered string
}

// Result describes a confirmed attempt. AccrualErr is set when the sale was
// recorded but the point accrual failed; the sale stands regardless.
type Result struct {
	Receipt      *sale.Receipt
	Change       decimal.Decimal
	PointsEarned int64
	Client       *loyalty.Client
	AccrualErr   error
}
