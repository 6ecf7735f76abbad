package loyalty

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu      sync.Mutex
	clients map[string]*Client
	entries []Entry
}

func newMemRepo(clients ...Client) *memRepo {
	r := &memRepo{clients: make(map[string]*Client)}
	for i := range clients {
		c := clients[i]
		r.clients[c.ID] = &c
	}
	return r
}

func (r *memRepo) Get(_ context.Context, id string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) Update(_ context.Context, id string, fn func(c *Client) (Entry, error)) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	cp := *c
	e, err := fn(&cp)
	if err != nil {
		return nil, err
	}
	*c = cp
	r.entries = append(r.entries, e)
	return &cp, nil
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		points int64
		want   string
	}{
		{points: -10, want: "bronze"},
		{points: 0, want: "bronze"},
		{points: 499, want: "bronze"},
		{points: 500, want: "silver"},
		{points: 1499, want: "silver"},
		{points: 1500, want: "gold"},
		{points: 1600, want: "gold"},
		{points: 4999, want: "gold"},
		{points: 5000, want: "platinum"},
		{points: 1 << 40, want: "platinum"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.points).Name, "points=%d", tt.points)
	}
	assert.Equal(t, BaseTier(), TierFor(0))
}

func TestLedger_AdjustScenario(t *testing.T) {
	repo := newMemRepo(Client{ID: "c1", Name: "Ana"})
	ledger := NewLedger(repo)
	ctx := context.Background()

	c, err := ledger.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, BaseTier(), c.Tier())

	c, err = ledger.Adjust(ctx, "c1", 1600, "sale")
	require.NoError(t, err)
	assert.EqualValues(t, 1600, c.Points)
	assert.Equal(t, "gold", c.Tier().Name)

	c, err = ledger.Adjust(ctx, "c1", -5000, "correction")
	require.NoError(t, err)
	assert.EqualValues(t, 0, c.Points)
	assert.Equal(t, BaseTier(), c.Tier())

	require.Len(t, repo.entries, 2)
	assert.EqualValues(t, -5000, repo.entries[1].Requested)
	assert.EqualValues(t, -1600, repo.entries[1].Delta)
	assert.EqualValues(t, 0, repo.entries[1].Balance)
	assert.Equal(t, "correction", repo.entries[1].Reason)
}

func TestLedger_AdjustErrors(t *testing.T) {
	ledger := NewLedger(newMemRepo(Client{ID: "c1"}))

	_, err := ledger.Adjust(context.Background(), "c1", 10, "  ")
	require.ErrorIs(t, err, ErrReasonRequired)

	_, err = ledger.Adjust(context.Background(), "missing", 10, "sale")
	require.ErrorIs(t, err, ErrClientNotFound)
}

func TestLedger_RecordsClock(t *testing.T) {
	repo := newMemRepo(Client{ID: "c1", Points: 10})
	ledger := NewLedger(repo)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	ledger.now = func() time.Time { return fixed }

	_, err := ledger.Adjust(context.Background(), "c1", 5, "bonus")
	require.NoError(t, err)
	assert.Equal(t, fixed, repo.entries[0].CreatedAt)
}

func TestApplyDelta(t *testing.T) {
	assert.EqualValues(t, 15, ApplyDelta(10, 5))
	assert.EqualValues(t, 0, ApplyDelta(10, -10))
	assert.EqualValues(t, 0, ApplyDelta(10, -11))
	assert.EqualValues(t, 0, ApplyDelta(0, -1))
	assert.EqualValues(t, int64(math.MaxInt64), ApplyDelta(2000, math.MaxInt64))
	assert.EqualValues(t, int64(math.MaxInt64), ApplyDelta(math.MaxInt64, 1))
	assert.EqualValues(t, 0, ApplyDelta(2000, math.MinInt64))
}

func TestAccrualPolicy(t *testing.T) {
	p := DefaultAccrual()
	assert.EqualValues(t, 87, p.Points(decimal.RequireFromString("87.99")))
	assert.EqualValues(t, 0, p.Points(decimal.Zero))
	assert.EqualValues(t, 0, p.Points(decimal.RequireFromString("-5")))

	double := AccrualPolicy{PointsPerUnit: decimal.NewFromInt(2)}
	assert.EqualValues(t, 175, double.Points(decimal.RequireFromString("87.50")))
}

func TestTierDiscount(t *testing.T) {
	gold := TierFor(1500)
	assert.True(t, decimal.RequireFromString("8.75").Equal(gold.Discount(decimal.RequireFromString("87.50"))))
	assert.True(t, BaseTier().Discount(decimal.NewFromInt(100)).IsZero())
	assert.True(t, gold.Discount(decimal.Zero).IsZero())
}

func TestLedger_RepositoryErrorWrapped(t *testing.T) {
	ledger := NewLedger(failingRepo{err: errors.New("db down")})
	_, err := ledger.Adjust(context.Background(), "c1", 1, "sale")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adjust points")
}

type failingRepo struct{ err error }

func (f failingRepo) Get(context.Context, string) (*Client, error) { return nil, f.err }

func (f failingRepo) Update(context.Context, string, func(*Client) (Entry, error)) (*Client, error) {
	return nil, f.err
}
