package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/user"
	"github.com/xenking/retail-pos/internal/wire"
)

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req wire.LoginRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	token, p, err := h.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &wire.LoginResponse{Token: token, Principal: wire.PrincipalFrom(p)})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Logout(r.Context(), tokenFrom(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p := wire.PrincipalFrom(authz.PrincipalFrom(r.Context()))
	writeJSON(w, http.StatusOK, &p)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := user.Filter{
		Search: q.Get("search"),
		Limit:  queryInt(q.Get("limit")),
		Offset: queryInt(q.Get("offset")),
	}
	if name := q.Get("role"); name != "" {
		role, err := authz.ParseRole(name)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		f.Role = role
	}
	if v := q.Get("active"); v == "true" || v == "false" {
		active := v == "true"
		f.Active = &active
	}

	users, err := h.users.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make(wire.Users, 0, len(users))
	for i := range users {
		out = append(out, wire.UserFrom(&users[i]))
	}
	writeJSON(w, http.StatusOK, &out)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	var req wire.RoleUpdate
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	role, err := req.Domain()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.users.UpdateRole(r.Context(), chi.URLParam(r, "id"), role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := wire.UserFrom(u)
	writeJSON(w, http.StatusOK, &out)
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	var req wire.GrantRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	g, err := h.users.GrantTemporary(r.Context(), chi.URLParam(r, "id"), req.Permission,
		time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := wire.GrantFrom(*g)
	writeJSON(w, http.StatusCreated, &out)
}
