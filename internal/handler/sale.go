package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/retail-pos/internal/domain/sale"
	"github.com/xenking/retail-pos/internal/wire"
)

// IdempotencyHeader carries the key that makes a checkout at-most-once.
const IdempotencyHeader = "Idempotency-Key"

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req wire.CheckoutRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))

	receipt, err := h.sales.Checkout(ctx, req.Domain(key))
	if err != nil {
		status, body := mapError(err)
		if status < http.StatusInternalServerError {
			h.checkoutRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("code", body.Code)))
		}
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	} else {
		h.salesCreated.Add(ctx, 1, metric.WithAttributes(
			attribute.String("payment_method", receipt.Sale.PaymentMethod),
		))
		zctx.From(ctx).Info("Sale recorded",
			zap.String("sale_id", receipt.Sale.ID),
			zap.String("total", receipt.Sale.Total.StringFixed(2)),
		)
	}
	out := wire.ReceiptFrom(receipt)
	writeJSON(w, status, &out)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	s, err := h.sales.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &wire.Sale{Sale: *s})
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sales, err := h.sales.List(r.Context(), sale.Filter{
		CashierID: q.Get("cashier_id"),
		ClientID:  q.Get("client_id"),
		Limit:     queryInt(q.Get("limit")),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := wire.Sales(sales)
	writeJSON(w, http.StatusOK, &out)
}

// queryInt parses a non-negative integer parameter, treating garbage as
// unset.
func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
