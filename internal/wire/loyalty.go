package wire

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/retail-pos/internal/domain/loyalty"
)

// Client is a loyalty client with its derived tier.
type Client struct {
	loyalty.Client
}

func (c *Client) Encode(e *jx.Encoder) {
	t := c.Tier()
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("name")
	e.Str(c.Name)
	e.FieldStart("points")
	e.Int64(c.Points)
	e.FieldStart("tier")
	e.ObjStart()
	e.FieldStart("name")
	e.Str(t.Name)
	e.FieldStart("threshold")
	e.Int64(t.Threshold)
	e.FieldStart("discount_percent")
	e.Str(t.DiscountPercent.String())
	e.ObjEnd()
	e.ObjEnd()
}

// Decode reads a client. The tier is derived from points and not decoded.
func (c *Client) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = d.Str()
		case "name":
			c.Name, err = decodeOptStr(d)
		case "points":
			c.Points, err = d.Int64()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

// PointsAdjustment is the body of POST /clients/{id}/points.
type PointsAdjustment struct {
	Delta  int64
	Reason string `validate:"required,max=256"`
}

func (a *PointsAdjustment) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("delta")
	e.Int64(a.Delta)
	e.FieldStart("reason")
	e.Str(a.Reason)
	e.ObjEnd()
}

func (a *PointsAdjustment) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "delta":
			a.Delta, err = d.Int64()
		case "reason":
			a.Reason, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}
