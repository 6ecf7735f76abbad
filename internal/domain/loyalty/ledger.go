package loyalty

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrClientNotFound is returned when the client does not exist.
	ErrClientNotFound = errors.New("client not found")
	// ErrReasonRequired is returned when an adjustment has no audit reason.
	ErrReasonRequired = errors.New("adjustment reason required")
)

// Client is the loyalty subject. Points are never negative.
type Client struct {
	ID     string
	Name   string
	Points int64
}

// Tier derives the client's tier from its points.
func (c Client) Tier() Tier { return TierFor(c.Points) }

// Entry is the audit record of one adjustment. Delta is the change actually
// applied after flooring the balance at zero.
type Entry struct {
	ClientID  string
	Requested int64
	Delta     int64
	Balance   int64
	Reason    string
	CreatedAt time.Time
}

// ApplyDelta returns max(0, points+delta), saturating at math.MaxInt64.
func ApplyDelta(points, delta int64) int64 {
	if delta > 0 && points > math.MaxInt64-delta {
		return math.MaxInt64
	}
	next := points + delta
	if next < 0 {
		return 0
	}
	return next
}

// Repository persists client balances. Update must run fn and store its
// result atomically with respect to other updates of the same client.
type Repository interface {
	Get(ctx context.Context, id string) (*Client, error)
	Update(ctx context.Context, id string, fn func(c *Client) (Entry, error)) (*Client, error)
}

// PointsAccruer adjusts a client's points. Both the in-process Ledger and the
// remote boundary client implement it.
type PointsAccruer interface {
	Adjust(ctx context.Context, clientID string, delta int64, reason string) (*Client, error)
}

var _ PointsAccruer = (*Ledger)(nil)

// Ledger applies point adjustments. Sale accruals and manual corrections
// share Adjust; only the reason differs.
type Ledger struct {
	repo Repository
	now  func() time.Time
}

// NewLedger creates a Ledger backed by repo.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Get returns the client with its current balance.
func (l *Ledger) Get(ctx context.Context, clientID string) (*Client, error) {
	return l.repo.Get(ctx, clientID)
}

// Adjust applies delta to the client's points, flooring the result at zero,
// and records reason as an uninterpreted audit string.
func (l *Ledger) Adjust(ctx context.Context, clientID string, delta int64, reason string) (*Client, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	c, err := l.repo.Update(ctx, clientID, func(c *Client) (Entry, error) {
		next := ApplyDelta(c.Points, delta)
		e := Entry{
			ClientID:  c.ID,
			Requested: delta,
			Delta:     next - c.Points,
			Balance:   next,
			Reason:    reason,
			CreatedAt: l.now(),
		}
		c.Points = next
		return e, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "adjust points")
	}
	return c, nil
}

// AccrualPolicy converts a sale total into points.
type AccrualPolicy struct {
	PointsPerUnit decimal.Decimal
}

// DefaultAccrual earns one point per whole currency unit spent.
func DefaultAccrual() AccrualPolicy {
	return AccrualPolicy{PointsPerUnit: decimal.NewFromInt(1)}
}

// Points returns floor(total * rate), never negative.
func (p AccrualPolicy) Points(total decimal.Decimal) int64 {
	if !total.IsPositive() || !p.PointsPerUnit.IsPositive() {
		return 0
	}
	return total.Mul(p.PointsPerUnit).Floor().IntPart()
}
