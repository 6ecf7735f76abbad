package wire

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Machine-readable error codes.
const (
	CodeAuthorizationDenied = "authorization_denied"
	CodeInsufficientStock   = "insufficient_stock"
	CodeInvalidCoupon       = "invalid_coupon"
	CodeInsufficientPayment = "insufficient_payment"
	CodeValidation          = "validation_error"
	CodeServiceUnavailable  = "service_unavailable"
	CodeUnauthenticated     = "unauthenticated"
	CodeNotFound            = "not_found"
	CodeConflict            = "conflict"
	CodeRateLimited         = "rate_limited"
	CodeInternal            = "internal"
)

// Error is the body of every non-2xx response. Field is set for validation
// errors.
type Error struct {
	Code    string
	Message string
	Field   string
	Issues  []string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func (e *Error) Encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("code")
	enc.Str(e.Code)
	enc.FieldStart("message")
	enc.Str(e.Message)
	encodeOptStr(enc, "field", e.Field)
	if len(e.Issues) > 0 {
		encodeStrings(enc, "issues", e.Issues)
	}
	enc.ObjEnd()
}

func (e *Error) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			e.Code, err = d.Str()
		case "message":
			e.Message, err = d.Str()
		case "field":
			e.Field, err = decodeOptStr(d)
		case "issues":
			e.Issues, err = decodeStrings(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}
