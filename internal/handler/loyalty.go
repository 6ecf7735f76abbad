package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/wire"
)

func (h *Handler) getClient(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.AuthorizeContext(r.Context(), authz.Require(authz.Permission(authz.PermClientsView))); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.loyalty.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &wire.Client{Client: *c})
}

// adjustPoints applies a signed delta. Earning needs loyalty:accrue and
// deducting needs loyalty:adjust.
func (h *Handler) adjustPoints(w http.ResponseWriter, r *http.Request) {
	var req wire.PointsAdjustment
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	perm := authz.PermLoyaltyAccrue
	if req.Delta < 0 {
		perm = authz.PermLoyaltyAdjust
	}
	if err := h.auth.AuthorizeContext(r.Context(), authz.Require(authz.Permission(perm))); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.loyalty.Adjust(r.Context(), chi.URLParam(r, "id"), req.Delta, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &wire.Client{Client: *c})
}
