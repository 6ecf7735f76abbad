package wire

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/retail-pos/internal/domain/coupon"
	"github.com/xenking/retail-pos/internal/domain/product"
)

// Product is a catalog snapshot.
type Product struct {
	product.Product
}

func (p *Product) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	encodeMoney(e, "price", p.Price)
	e.FieldStart("stock")
	e.Int(p.Stock)
	encodeOptStr(e, "unit", p.Unit)
	encodeOptStr(e, "category", p.Category)
	e.ObjEnd()
}

func (p *Product) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = decodeMoney(d)
		case "stock":
			p.Stock, err = d.Int()
		case "unit":
			p.Unit, err = decodeOptStr(d)
		case "category":
			p.Category, err = decodeOptStr(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

// Products is a product listing.
type Products []product.Product

func (ps *Products) Encode(e *jx.Encoder) {
	e.ArrStart()
	for _, p := range *ps {
		w := Product{Product: p}
		w.Encode(e)
	}
	e.ArrEnd()
}

func (ps *Products) Decode(d *jx.Decoder) error {
	return d.Arr(func(d *jx.Decoder) error {
		var p Product
		if err := p.Decode(d); err != nil {
			return err
		}
		*ps = append(*ps, p.Product)
		return nil
	})
}

// CouponValidation is the response of GET /coupons/validate/{code}.
type CouponValidation struct {
	Code           string
	IsValid        bool
	DiscountAmount decimal.Decimal
	Description    string
	Issues         []string
}

// CouponValidationFrom converts a domain validation.
func CouponValidationFrom(v *coupon.Validation) CouponValidation {
	return CouponValidation{
		Code:           v.Code,
		IsValid:        v.Valid,
		DiscountAmount: v.Amount,
		Description:    v.Description,
		Issues:         v.Issues,
	}
}

// Domain converts v back to a domain validation.
func (v CouponValidation) Domain() *coupon.Validation {
	return &coupon.Validation{
		Code:        v.Code,
		Valid:       v.IsValid,
		Amount:      v.DiscountAmount,
		Description: v.Description,
		Issues:      v.Issues,
	}
}

func (v *CouponValidation) Encode(e *jx.Encoder) {
	e.ObjStart()
	encodeOptStr(e, "code", v.Code)
	e.FieldStart("is_valid")
	e.Bool(v.IsValid)
	encodeMoney(e, "discount_amount", v.DiscountAmount)
	encodeOptStr(e, "description", v.Description)
	encodeStrings(e, "issues", v.Issues)
	e.ObjEnd()
}

func (v *CouponValidation) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			v.Code, err = decodeOptStr(d)
		case "is_valid":
			v.IsValid, err = d.Bool()
		case "discount_amount":
			v.DiscountAmount, err = decodeMoney(d)
		case "description":
			v.Description, err = decodeOptStr(d)
		case "issues":
			v.Issues, err = decodeStrings(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}
