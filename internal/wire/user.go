package wire

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/user"
)

// User is a POS operator without credentials.
type User struct {
	ID       string
	Username string
	Name     string
	Role     string
	Level    int
	Active   bool
}

// UserFrom converts a domain user.
func UserFrom(u *user.User) User {
	return User{
		ID:       u.ID,
		Username: u.Username,
		Name:     u.Name,
		Role:     u.Role.String(),
		Level:    int(u.Level),
		Active:   u.Active,
	}
}

func (u *User) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(u.ID)
	e.FieldStart("username")
	e.Str(u.Username)
	e.FieldStart("name")
	e.Str(u.Name)
	e.FieldStart("role")
	e.Str(u.Role)
	e.FieldStart("level")
	e.Int(u.Level)
	e.FieldStart("active")
	e.Bool(u.Active)
	e.ObjEnd()
}

func (u *User) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			u.ID, err = d.Str()
		case "username":
			u.Username, err = d.Str()
		case "name":
			u.Name, err = decodeOptStr(d)
		case "role":
			u.Role, err = d.Str()
		case "level":
			u.Level, err = d.Int()
		case "active":
			u.Active, err = d.Bool()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

// Users is a user listing.
type Users []User

func (us *Users) Encode(e *jx.Encoder) {
	e.ArrStart()
	for i := range *us {
		(*us)[i].Encode(e)
	}
	e.ArrEnd()
}

func (us *Users) Decode(d *jx.Decoder) error {
	return d.Arr(func(d *jx.Decoder) error {
		var u User
		if err := u.Decode(d); err != nil {
			return err
		}
		*us = append(*us, u)
		return nil
	})
}

// RoleUpdate is the body of PUT /users/{id}/role.
type RoleUpdate struct {
	Role string `validate:"required"`
}

// Domain parses the role name.
func (r RoleUpdate) Domain() (authz.Role, error) {
	return authz.ParseRole(r.Role)
}

func (r *RoleUpdate) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("role")
	e.Str(r.Role)
	e.ObjEnd()
}

func (r *RoleUpdate) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "role":
			r.Role, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}
