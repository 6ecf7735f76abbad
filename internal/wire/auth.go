package wire

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/retail-pos/internal/domain/authz"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `validate:"required,max=64"`
	Password string `validate:"required,max=128"`
}

func (r *LoginRequest) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("username")
	e.Str(r.Username)
	e.FieldStart("password")
	e.Str(r.Password)
	e.ObjEnd()
}

func (r *LoginRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "username":
			r.Username, err = d.Str()
		case "password":
			r.Password, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

// Grant is a temporary permission grant.
type Grant struct {
	ID         string
	UserID     string
	Permission string
	ExpiresAt  time.Time
}

// GrantFrom converts a domain grant.
func GrantFrom(g authz.TemporaryGrant) Grant {
	return Grant{ID: g.ID, UserID: g.PrincipalID, Permission: g.Permission, ExpiresAt: g.ExpiresAt}
}

// Domain converts g back to a domain grant.
func (g Grant) Domain() authz.TemporaryGrant {
	return authz.TemporaryGrant{ID: g.ID, PrincipalID: g.UserID, Permission: g.Permission, ExpiresAt: g.ExpiresAt}
}

func (g *Grant) Encode(e *jx.Encoder) {
	e.ObjStart()
	encodeOptStr(e, "id", g.ID)
	e.FieldStart("user_id")
	e.Str(g.UserID)
	e.FieldStart("permission")
	e.Str(g.Permission)
	encodeTime(e, "expires_at", g.ExpiresAt)
	e.ObjEnd()
}

func (g *Grant) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			g.ID, err = decodeOptStr(d)
		case "user_id":
			g.UserID, err = d.Str()
		case "permission":
			g.Permission, err = d.Str()
		case "expires_at":
			g.ExpiresAt, err = decodeTime(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

// Principal is the authenticated user as seen by the terminal.
type Principal struct {
	ID     string
	Name   string
	Role   string
	Level  int
	Active bool
	Grants []Grant
}

// PrincipalFrom converts a domain principal.
func PrincipalFrom(p *authz.Principal) Principal {
	out := Principal{
		ID:     p.ID,
		Name:   p.Name,
		Role:   p.Role.String(),
		Level:  int(p.Level),
		Active: p.Active,
	}
	for _, g := range p.Grants {
		out.Grants = append(out.Grants, GrantFrom(g))
	}
	return out
}

// Domain converts p back to a domain principal.
func (p Principal) Domain() (*authz.Principal, error) {
	role, err := authz.ParseRole(p.Role)
	if err != nil {
		return nil, err
	}
	out := &authz.Principal{
		ID:     p.ID,
		Name:   p.Name,
		Role:   role,
		Level:  authz.Level(p.Level),
		Active: p.Active,
	}
	for _, g := range p.Grants {
		out.Grants = append(out.Grants, g.Domain())
	}
	return out, nil
}

func (p *Principal) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("role")
	e.Str(p.Role)
	e.FieldStart("level")
	e.Int(p.Level)
	e.FieldStart("active")
	e.Bool(p.Active)
	e.FieldStart("grants")
	e.ArrStart()
	for i := range p.Grants {
		p.Grants[i].Encode(e)
	}
	e.ArrEnd()
	e.ObjEnd()
}

func (p *Principal) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "role":
			p.Role, err = d.Str()
		case "level":
			p.Level, err = d.Int()
		case "active":
			p.Active, err = d.Bool()
		case "grants":
			err = d.Arr(func(d *jx.Decoder) error {
				var g Grant
				if err := g.Decode(d); err != nil {
					return err
				}
				p.Grants = append(p.Grants, g)
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

// LoginResponse carries the raw session token and the principal.
type LoginResponse struct {
	Token     string
	Principal Principal
}

func (r *LoginResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("token")
	e.Str(r.Token)
	e.FieldStart("principal")
	r.Principal.Encode(e)
	e.ObjEnd()
}

func (r *LoginResponse) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "token":
			r.Token, err = d.Str()
		case "principal":
			err = r.Principal.Decode(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

// GrantRequest is the body of POST /users/{id}/temporary-permissions.
type GrantRequest struct {
	Permission      string `validate:"required,max=64"`
	DurationMinutes int    `validate:"min=1,max=1440"`
}

func (r *GrantRequest) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("permission")
	e.Str(r.Permission)
	e.FieldStart("duration_minutes")
	e.Int(r.DurationMinutes)
	e.ObjEnd()
}

func (r *GrantRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "permission":
			r.Permission, err = d.Str()
		case "duration_minutes":
			r.DurationMinutes, err = d.Int()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}
