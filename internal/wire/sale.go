package wire

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/retail-pos/internal/domain/sale"
)

// CheckoutRequest is the body of POST /sales/checkout. Amounts stay textual
// so the service reports malformed input as a validation error.
type CheckoutRequest struct {
	Items          []sale.LineRequest
	ClientID       string
	PaymentMethod  string
	PaymentAmount  string
	DiscountAmount string
	CouponCode     string
	Notes          string
}

// CheckoutRequestFrom converts a domain request. The idempotency key travels
// in a header.
func CheckoutRequestFrom(r sale.CheckoutRequest) CheckoutRequest {
	return CheckoutRequest{
		Items:          r.Items,
		ClientID:       r.ClientID,
		PaymentMethod:  r.PaymentMethod,
		PaymentAmount:  r.PaymentAmount,
		DiscountAmount: r.DiscountAmount,
		CouponCode:     r.CouponCode,
		Notes:          r.Notes,
	}
}

// Domain converts r to a domain request carrying key.
func (r CheckoutRequest) Domain(key string) sale.CheckoutRequest {
	return sale.CheckoutRequest{
		IdempotencyKey: key,
		Items:          r.Items,
		ClientID:       r.ClientID,
		PaymentMethod:  r.PaymentMethod,
		PaymentAmount:  r.PaymentAmount,
		DiscountAmount: r.DiscountAmount,
		CouponCode:     r.CouponCode,
		Notes:          r.Notes,
	}
}

func (r *CheckoutRequest) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range r.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	encodeOptStr(e, "client_id", r.ClientID)
	e.FieldStart("payment_method")
	e.Str(r.PaymentMethod)
	e.FieldStart("payment_amount")
	e.Str(r.PaymentAmount)
	encodeOptStr(e, "discount_amount", r.DiscountAmount)
	encodeOptStr(e, "coupon_code", r.CouponCode)
	encodeOptStr(e, "notes", r.Notes)
	e.ObjEnd()
}

func (r *CheckoutRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				var it sale.LineRequest
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "product_id":
						it.ProductID, err = d.Str()
					case "quantity":
						it.Quantity, err = d.Int()
					default:
						err = d.Skip()
					}
					if err != nil {
						return errors.Wrap(err, key)
					}
					return nil
				}); err != nil {
					return err
				}
				r.Items = append(r.Items, it)
				return nil
			})
		case "client_id":
			r.ClientID, err = decodeOptStr(d)
		case "payment_method":
			r.PaymentMethod, err = decodeOptStr(d)
		case "payment_amount":
			r.PaymentAmount, err = decodeAmountString(d)
		case "discount_amount":
			r.DiscountAmount, err = decodeAmountString(d)
		case "coupon_code":
			r.CouponCode, err = decodeOptStr(d)
		case "notes":
			r.Notes, err = decodeOptStr(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

// Receipt is a created or replayed sale.
type Receipt struct {
	Sale     sale.Sale
	Replayed bool
}

// ReceiptFrom converts a domain receipt.
func ReceiptFrom(r *sale.Receipt) Receipt {
	return Receipt{Sale: *r.Sale, Replayed: r.Replayed}
}

// Domain converts r back to a domain receipt.
func (r Receipt) Domain() *sale.Receipt {
	s := r.Sale
	return &sale.Receipt{Sale: &s, Replayed: r.Replayed}
}

func (r *Receipt) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("sale_id")
	e.Str(r.Sale.ID)
	e.FieldStart("replayed")
	e.Bool(r.Replayed)
	e.FieldStart("sale")
	encodeSale(e, &r.Sale)
	e.ObjEnd()
}

func (r *Receipt) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "replayed":
			r.Replayed, err = d.Bool()
		case "sale":
			err = decodeSale(d, &r.Sale)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

// Sale is a recorded sale.
type Sale struct {
	sale.Sale
}

func (s *Sale) Encode(e *jx.Encoder) { encodeSale(e, &s.Sale) }

func (s *Sale) Decode(d *jx.Decoder) error { return decodeSale(d, &s.Sale) }

// Sales is a sale listing.
type Sales []sale.Sale

func (ss *Sales) Encode(e *jx.Encoder) {
	e.ArrStart()
	for i := range *ss {
		encodeSale(e, &(*ss)[i])
	}
	e.ArrEnd()
}

func (ss *Sales) Decode(d *jx.Decoder) error {
	return d.Arr(func(d *jx.Decoder) error {
		var s sale.Sale
		if err := decodeSale(d, &s); err != nil {
			return err
		}
		*ss = append(*ss, s)
		return nil
	})
}

func encodeSale(e *jx.Encoder, s *sale.Sale) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(s.ID)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range s.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		encodeMoney(e, "unit_price", it.UnitPrice)
		encodeMoney(e, "subtotal", it.Subtotal())
		e.ObjEnd()
	}
	e.ArrEnd()
	encodeMoney(e, "subtotal", s.Subtotal)
	encodeMoney(e, "discount", s.Discount)
	encodeMoney(e, "tax", s.Tax)
	encodeMoney(e, "total", s.Total)
	e.FieldStart("payment_method")
	e.Str(s.PaymentMethod)
	encodeMoney(e, "tendered", s.Tendered)
	encodeMoney(e, "change", s.Change)
	encodeOptStr(e, "client_id", s.ClientID)
	encodeOptStr(e, "coupon_code", s.CouponCode)
	encodeOptStr(e, "notes", s.Notes)
	encodeOptStr(e, "cashier_id", s.CashierID)
	encodeTime(e, "created_at", s.CreatedAt)
	e.ObjEnd()
}

func decodeSale(d *jx.Decoder, s *sale.Sale) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			s.ID, err = d.Str()
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				var it sale.Item
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "product_id":
						it.ProductID, err = d.Str()
					case "name":
						it.Name, err = decodeOptStr(d)
					case "quantity":
						it.Quantity, err = d.Int()
					case "unit_price":
						it.UnitPrice, err = decodeMoney(d)
					default:
						err = d.Skip()
					}
					if err != nil {
						return errors.Wrap(err, key)
					}
					return nil
				}); err != nil {
					return err
				}
				s.Items = append(s.Items, it)
				return nil
			})
		case "subtotal":
			s.Subtotal, err = decodeMoney(d)
		case "discount":
			s.Discount, err = decodeMoney(d)
		case "tax":
			s.Tax, err = decodeMoney(d)
		case "total":
			s.Total, err = decodeMoney(d)
		case "payment_method":
			s.PaymentMethod, err = d.Str()
		case "tendered":
			s.Tendered, err = decodeMoney(d)
		case "change":
			s.Change, err = decodeMoney(d)
		case "client_id":
			s.ClientID, err = decodeOptStr(d)
		case "coupon_code":
			s.CouponCode, err = decodeOptStr(d)
		case "notes":
			s.Notes, err = decodeOptStr(d)
		case "cashier_id":
			s.CashierID, err = decodeOptStr(d)
		case "created_at":
			s.CreatedAt, err = decodeTime(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}
