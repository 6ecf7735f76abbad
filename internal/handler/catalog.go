package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/coupon"
	"github.com/xenking/retail-pos/internal/domain/sale"
	"github.com/xenking/retail-pos/internal/wire"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.AuthorizeContext(r.Context(), authz.Require(authz.Permission(authz.PermProductsView))); err != nil {
		h.writeError(w, r, err)
		return
	}
	products, err := h.products.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := wire.Products(products)
	writeJSON(w, http.StatusOK, &out)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.AuthorizeContext(r.Context(), authz.Require(authz.Permission(authz.PermProductsView))); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &wire.Product{Product: *p})
}

// validateCoupon reports whether a code applies to a purchase. An invalid
// coupon is a 200 with is_valid=false and the issues found.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.AuthorizeContext(r.Context(), authz.Require(authz.Permission(authz.PermCouponsApply))); err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	purchase, err := sale.ParseAmount("purchase_amount", q.Get("purchase_amount"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	code := coupon.NormalizeCode(chi.URLParam(r, "code"))
	v, err := h.coupons.Validate(r.Context(), code, strings.TrimSpace(q.Get("client_id")), purchase)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := wire.CouponValidationFrom(v)
	writeJSON(w, http.StatusOK, &out)
}
