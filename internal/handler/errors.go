package handler

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/cart"
	"github.com/xenking/retail-pos/internal/domain/coupon"
	"github.com/xenking/retail-pos/internal/domain/loyalty"
	"github.com/xenking/retail-pos/internal/domain/product"
	"github.com/xenking/retail-pos/internal/domain/sale"
	"github.com/xenking/retail-pos/internal/domain/user"
	"github.com/xenking/retail-pos/internal/wire"
)

const maxBodyBytes = 1 << 20

var (
	errNoRoute         = errors.New("no such route")
	errUnauthenticated = errors.New("missing or invalid bearer token")
)

// mapError converts domain errors to a status and wire body.
func mapError(err error) (int, *wire.Error) {
	var (
		validation *sale.ValidationError
		invalid    *coupon.InvalidCouponError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, &wire.Error{
			Code:    wire.CodeValidation,
			Message: validation.Error(),
			Field:   validation.Field,
		}
	case errors.Is(err, errUnauthenticated),
		errors.Is(err, user.ErrInvalidToken),
		errors.Is(err, user.ErrInvalidCredentials):
		return http.StatusUnauthorized, &wire.Error{Code: wire.CodeUnauthenticated, Message: err.Error()}
	case errors.Is(err, authz.ErrDenied), errors.Is(err, user.ErrSelfRoleChange):
		return http.StatusForbidden, &wire.Error{Code: wire.CodeAuthorizationDenied, Message: err.Error()}
	case errors.Is(err, cart.ErrInsufficientStock):
		return http.StatusConflict, &wire.Error{Code: wire.CodeInsufficientStock, Message: err.Error()}
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity, &wire.Error{
			Code:    wire.CodeInvalidCoupon,
			Message: "invalid coupon code",
			Issues:  invalid.Issues,
		}
	case errors.Is(err, sale.ErrInsufficientPayment):
		return http.StatusUnprocessableEntity, &wire.Error{Code: wire.CodeInsufficientPayment, Message: err.Error()}
	case errors.Is(err, sale.ErrInProgress):
		return http.StatusConflict, &wire.Error{Code: wire.CodeConflict, Message: err.Error()}
	case errors.Is(err, cart.ErrInvalidQuantity):
		return invalidField("quantity", err)
	case errors.Is(err, coupon.ErrInvalidManualDiscount):
		return invalidField("discount_amount", err)
	case errors.Is(err, loyalty.ErrReasonRequired):
		return invalidField("reason", err)
	case errors.Is(err, user.ErrInvalidDuration):
		return invalidField("duration_minutes", err)
	case errors.Is(err, user.ErrInvalidPermission):
		return invalidField("permission", err)
	case errors.Is(err, authz.ErrUnknownRole):
		return invalidField("role", err)
	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, sale.ErrNotFound),
		errors.Is(err, loyalty.ErrClientNotFound),
		errors.Is(err, user.ErrNotFound),
		errors.Is(err, errNoRoute):
		return http.StatusNotFound, &wire.Error{Code: wire.CodeNotFound, Message: err.Error()}
	default:
		return http.StatusInternalServerError, &wire.Error{Code: wire.CodeInternal, Message: "internal error"}
	}
}

func invalidField(field string, err error) (int, *wire.Error) {
	return http.StatusBadRequest, &wire.Error{Code: wire.CodeValidation, Message: err.Error(), Field: field}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := mapError(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v wire.Encodable) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(wire.Marshal(v))
}

// decode reads and validates a JSON request body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v wire.Decodable) error {
	if err := wire.Read(http.MaxBytesReader(w, r.Body, maxBodyBytes), v); err != nil {
		return &sale.ValidationError{Field: "body", Reason: err.Error()}
	}
	if err := h.validate.Struct(v); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			f := fields[0]
			return &sale.ValidationError{Field: snakeCase(f.Field()), Reason: "failed " + f.Tag()}
		}
		return errors.Wrap(err, "validate")
	}
	return nil
}

// snakeCase converts a Go field name to its wire key.
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
