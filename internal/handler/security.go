package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/httprate"
	"github.com/go-faster/errors"

	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/user"
)

type tokenKey struct{}

// bearerToken extracts the raw token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// authenticate resolves the bearer token to a principal and attaches both to
// the request context. Tokens are matched by their peppered HMAC only.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			h.writeError(w, r, errUnauthenticated)
			return
		}
		p, err := h.users.Authenticate(r.Context(), raw)
		if err != nil {
			if !errors.Is(err, user.ErrInvalidToken) {
				h.writeError(w, r, err)
				return
			}
			h.writeError(w, r, errUnauthenticated)
			return
		}
		ctx := authz.WithPrincipal(r.Context(), p)
		ctx = context.WithValue(ctx, tokenKey{}, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFrom(ctx context.Context) string {
	raw, _ := ctx.Value(tokenKey{}).(string)
	return raw
}

// rateLimitKey buckets authenticated requests per principal and anonymous
// ones per client IP.
func rateLimitKey(r *http.Request) (string, error) {
	if p := authz.PrincipalFrom(r.Context()); p != nil && p.ID != "" {
		return "user:" + p.ID, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
