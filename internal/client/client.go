// Package client talks to the POS backing service over HTTP. It implements
// the ports the checkout core depends on, so the terminal runs the same
// orchestrator against the remote service as the tests run against fakes.
package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/cart"
	"github.com/xenking/retail-pos/internal/domain/coupon"
	"github.com/xenking/retail-pos/internal/domain/sale"
	"github.com/xenking/retail-pos/internal/wire"
)

var (
	// ErrServiceUnavailable is matched by every *UnavailableError.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrUnauthenticated is returned when the service rejects the session
	// token or none is set.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// UnavailableError reports a transport failure or a 5xx response. The
// request may or may not have been applied.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string { return e.Op + ": service unavailable: " + e.Err.Error() }

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrServiceUnavailable }

// Config holds client settings.
type Config struct {
	// BaseURL is the service root, e.g. http://localhost:8080.
	BaseURL string
	// Timeout bounds every call. Zero means 10s.
	Timeout time.Duration
	// Transport overrides the base round tripper. It is wrapped with
	// otelhttp either way.
	Transport http.RoundTripper
}

// Client is safe for concurrent use. The token is shared by all calls.
type Client struct {
	base *url.URL
	http *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rt := cfg.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &Client{
		base: base,
		http: &http.Client{
			Transport: otelhttp.NewTransport(rt),
			Timeout:   timeout,
		},
	}, nil
}

// SetToken sets the bearer token used for subsequent calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type call struct {
	op        string
	method    string
	path      string
	query     url.Values
	header    http.Header
	body      wire.Encodable
	out       wire.Decodable
	notFound  error
	anonymous bool
}

// do performs one request and maps error bodies back to domain errors.
func (c *Client) do(ctx context.Context, cl call) error {
	u := *c.base
	u.Path += cl.path
	u.RawQuery = cl.query.Encode()

	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(wire.Marshal(cl.body))
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u.String(), body)
	if err != nil {
		return errors.Wrap(err, cl.op)
	}
	for k, vs := range cl.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if !cl.anonymous {
		token := c.Token()
		if token == "" {
			return errors.Wrap(ErrUnauthenticated, cl.op)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Wrap(ctxErr, cl.op)
		}
		return &UnavailableError{Op: cl.op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if cl.out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := wire.Read(resp.Body, cl.out); err != nil {
			return &UnavailableError{Op: cl.op, Err: errors.Wrap(err, "decode response")}
		}
		return nil
	}
	return responseError(cl, resp)
}

func responseError(cl call, resp *http.Response) error {
	var e wire.Error
	if err := wire.Read(resp.Body, &e); err != nil || e.Code == "" {
		e = wire.Error{Message: http.StatusText(resp.StatusCode)}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return &UnavailableError{Op: cl.op, Err: &e}
	}

	switch e.Code {
	case wire.CodeUnauthenticated:
		return errors.Wrap(ErrUnauthenticated, cl.op)
	case wire.CodeAuthorizationDenied:
		return errors.Wrap(authz.ErrDenied, e.Message)
	case wire.CodeInsufficientStock:
		return errors.Wrap(cart.ErrInsufficientStock, e.Message)
	case wire.CodeInvalidCoupon:
		return &coupon.InvalidCouponError{Issues: e.Issues}
	case wire.CodeInsufficientPayment:
		return errors.Wrap(sale.ErrInsufficientPayment, e.Message)
	case wire.CodeValidation:
		return &sale.ValidationError{
			Field:  e.Field,
			Reason: strings.TrimPrefix(e.Message, "invalid "+e.Field+": "),
		}
	case wire.CodeNotFound:
		if cl.notFound != nil {
			return errors.Wrap(cl.notFound, e.Message)
		}
	case wire.CodeConflict:
		return errors.Wrap(sale.ErrInProgress, cl.op)
	case wire.CodeServiceUnavailable, wire.CodeRateLimited:
		return &UnavailableError{Op: cl.op, Err: &e}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return errors.Wrap(ErrUnauthenticated, cl.op)
	}
	return errors.Wrapf(&e, "%s: status %d", cl.op, resp.StatusCode)
}
