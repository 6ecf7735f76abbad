// Package session holds the state of one POS terminal: the logged-in
// principal, its cart and the checkout orchestrator driving it.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/retail-pos/internal/client"
	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/cart"
	"github.com/xenking/retail-pos/internal/domain/checkout"
	"github.com/xenking/retail-pos/internal/domain/coupon"
	"github.com/xenking/retail-pos/internal/domain/loyalty"
	"github.com/xenking/retail-pos/internal/domain/product"
)

// ErrNotLoggedIn is returned by operations that need a principal.
var ErrNotLoggedIn = errors.New("not logged in")

// Remote is the backing service as seen by a terminal.
type Remote interface {
	checkout.SaleCreator
	checkout.ClientLookup
	coupon.Validator
	loyalty.PointsAccruer

	Login(ctx context.Context, username, password string) (*authz.Principal, error)
	Me(ctx context.Context) (*authz.Principal, error)
	Logout(ctx context.Context) error
	Product(ctx context.Context, id string) (*product.Product, error)
	GrantTemporary(ctx context.Context, userID, permission string, duration time.Duration) (*authz.TemporaryGrant, error)
}

// Config holds terminal pricing settings.
type Config struct {
	Tax     cart.TaxPolicy
	Accrual loyalty.AccrualPolicy
	// NewKey overrides idempotency key generation.
	NewKey func() string
}

// Session is one terminal. The principal is replaced on login and dropped
// when the service stops accepting its token.
type Session struct {
	remote Remote
	auth   *authz.Authorizer
	cfg    Config

	mu        sync.RWMutex
	principal *authz.Principal
	checkout  *checkout.Orchestrator
}

// New creates a logged-out Session.
func New(remote Remote, auth *authz.Authorizer, cfg Config) *Session {
	if cfg.Tax == nil {
		cfg.Tax = cart.NoTax{}
	}
	s := &Session{remote: remote, auth: auth, cfg: cfg}
	s.checkout = s.newOrchestrator()
	return s
}

func (s *Session) newOrchestrator() *checkout.Orchestrator {
	return checkout.New(cart.New(s.cfg.Tax), checkout.Deps{
		Authorizer: s.auth,
		Resolver:   coupon.NewResolver(s.remote),
		Sales:      s.remote,
		Clients:    s.remote,
		Loyalty:    s.remote,
		Accrual:    s.cfg.Accrual,
		NewKey:     s.cfg.NewKey,
	})
}

// Login authenticates and loads the principal with its active grants.
func (s *Session) Login(ctx context.Context, username, password string) (*authz.Principal, error) {
	if _, err := s.remote.Login(ctx, username, password); err != nil {
		return nil, err
	}
	p, err := s.remote.Me(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load principal")
	}

	s.mu.Lock()
	s.principal = p
	s.checkout = s.newOrchestrator()
	s.mu.Unlock()

	zctx.From(ctx).Info("Logged in",
		zap.String("user_id", p.ID),
		zap.Stringer("role", p.Role),
	)
	return p, nil
}

// Logout revokes the token and discards the cart.
func (s *Session) Logout(ctx context.Context) error {
	err := s.remote.Logout(ctx)

	s.mu.Lock()
	s.principal = nil
	s.checkout = s.newOrchestrator()
	s.mu.Unlock()

	if err != nil && !errors.Is(err, client.ErrUnauthenticated) {
		return errors.Wrap(err, "logout")
	}
	return nil
}

// Principal returns the current principal, or nil when logged out.
func (s *Session) Principal() *authz.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal
}

// Checkout returns the orchestrator of the current cart.
func (s *Session) Checkout() *checkout.Orchestrator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkout
}

// Context attaches the current principal to ctx. A logged-out session
// yields an unauthenticated context, which every check denies.
func (s *Session) Context(ctx context.Context) context.Context {
	return authz.WithPrincipal(ctx, s.Principal())
}

// Do runs fn with the principal attached. If the service rejects the token
// the principal collapses and later checks deny.
func (s *Session) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(s.Context(ctx))
	if errors.Is(err, client.ErrUnauthenticated) {
		s.mu.Lock()
		had := s.principal != nil
		s.principal = nil
		s.mu.Unlock()
		if had {
			zctx.From(ctx).Warn("Session token rejected, principal dropped")
		}
	}
	return err
}

// Refresh reloads the principal, picking up grants issued since login.
func (s *Session) Refresh(ctx context.Context) error {
	return s.Do(ctx, func(ctx context.Context) error {
		if authz.PrincipalFrom(ctx) == nil {
			return ErrNotLoggedIn
		}
		p, err := s.remote.Me(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.principal = p
		s.mu.Unlock()
		return nil
	})
}

// AddProduct fetches a fresh snapshot of the product and adds qty of it.
func (s *Session) AddProduct(ctx context.Context, productID string, qty int) error {
	return s.Do(ctx, func(ctx context.Context) error {
		p, err := s.remote.Product(ctx, productID)
		if err != nil {
			return err
		}
		return s.Checkout().AddItem(ctx, *p, qty)
	})
}

// RefreshProduct re-reads a product's stock for its cart line. The line's
// unit price does not change.
func (s *Session) RefreshProduct(ctx context.Context, productID string) error {
	return s.Do(ctx, func(ctx context.Context) error {
		p, err := s.remote.Product(ctx, productID)
		if err != nil {
			return err
		}
		return s.Checkout().Refresh(ctx, *p)
	})
}

// Grant issues a temporary permission to another user.
func (s *Session) Grant(ctx context.Context, userID, permission string, d time.Duration) (*authz.TemporaryGrant, error) {
	var g *authz.TemporaryGrant
	err := s.Do(ctx, func(ctx context.Context) error {
		var err error
		g, err = s.remote.GrantTemporary(ctx, userID, permission, d)
		return err
	})
	return g, err
}
