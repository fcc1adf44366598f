package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	appcommission "github.com/partshub/fulfillment/internal/application/commission"
	appinventory "github.com/partshub/fulfillment/internal/application/inventory"
	apporder "github.com/partshub/fulfillment/internal/application/order"
	apppayout "github.com/partshub/fulfillment/internal/application/payout"
	domrate "github.com/partshub/fulfillment/internal/domain/commission"
	dominventory "github.com/partshub/fulfillment/internal/domain/inventory"
	domorder "github.com/partshub/fulfillment/internal/domain/order"
	dompayout "github.com/partshub/fulfillment/internal/domain/payout"
	"github.com/partshub/fulfillment/internal/observability"
	"github.com/partshub/fulfillment/internal/observability/logctx"
)

type Handler struct {
	orders    *apporder.SubmitOrderUseCase
	inventory *appinventory.Service
	rates     *appcommission.Resolver
	payouts   *apppayout.BuildPayoutUseCase
	log       observability.Logger
	tel       observability.Observability
}

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
)

func NewHandler(
	orders *apporder.SubmitOrderUseCase,
	inventory *appinventory.Service,
	rates *appcommission.Resolver,
	payouts *apppayout.BuildPayoutUseCase,
	tel observability.Observability,
) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		orders:    orders,
		inventory: inventory,
		rates:     rates,
		payouts:   payouts,
		log:       tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:       tel,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Wire each route with middlewares:
	// Trace → ObservabilityMiddleware (request logger) → Access log → Handler
	h.muxHandle(mux, http.MethodPost, "/orders", h.handleSubmitOrder)
	h.muxHandle(mux, http.MethodGet, "/orders/{id}", h.handleGetOrder)

	h.muxHandle(mux, http.MethodPut, "/skus/{id}", h.handleUpsertSKU)
	h.muxHandle(mux, http.MethodGet, "/skus/{id}/availability", h.handleAvailability)
	h.muxHandle(mux, http.MethodPost, "/skus/{id}/restock", h.handleRestock)

	h.muxHandle(mux, http.MethodPost, "/rates", h.handleAddRate)

	h.muxHandle(mux, http.MethodPost, "/payouts", h.handleBuildPayout)
	h.muxHandle(mux, http.MethodGet, "/payouts/{id}", h.handleGetPayout)
	h.muxHandle(mux, http.MethodPost, "/payouts/{id}/approve", h.handleApprovePayout)
	h.muxHandle(mux, http.MethodPost, "/payouts/{id}/paid", h.handleMarkPayoutPaid)

	h.muxHandle(mux, http.MethodGet, "/health", h.handleHealth)

	return mux
}

func (h *Handler) muxHandle(mux *http.ServeMux, method, route string, handler http.HandlerFunc) {
	mux.HandleFunc(method+" "+route, func(w http.ResponseWriter, r *http.Request) {
		// Store the stable route template for low-cardinality labels.
		ctx := contextWithRoute(r.Context(), route)
		r = r.WithContext(ctx)

		wrapped := h.withTrace(
			ObservabilityMiddleware(
				logctx.FromOr(ctx, h.log),
				func(r *http.Request) string {
					return r.Header.Get(headerRequestID)
				},
				h.tel,
			)(
				h.withAccessLog(handler),
			),
		)
		wrapped.ServeHTTP(w, r)
	})
}

type submitOrderLine struct {
	SKUID          string `json:"sku_id"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type submitOrderRequest struct {
	CustomerID       string            `json:"customer_id"`
	MethodRef        string            `json:"method_ref"`
	OnPartialFailure string            `json:"on_partial_failure"`
	Lines            []submitOrderLine `json:"lines"`
}

type lineOutcomeResponse struct {
	LineIndex        int    `json:"line_index"`
	SKUID            string `json:"sku_id"`
	VendorID         string `json:"vendor_id,omitempty"`
	Quantity         int64  `json:"quantity"`
	Reserved         bool   `json:"reserved"`
	Released         bool   `json:"released,omitempty"`
	ReservationToken string `json:"reservation_token,omitempty"`
	FailureReason    string `json:"failure_reason,omitempty"`
}

type submitOrderResponse struct {
	OrderID     string                `json:"order_id"`
	Status      domorder.Status       `json:"status"`
	SubOrderIDs []string              `json:"sub_order_ids"`
	Lines       []lineOutcomeResponse `json:"lines"`
}

func (h *Handler) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	lines := make([]apporder.LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, apporder.LineInput{
			SKUID:          l.SKUID,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
		})
	}

	result, err := h.orders.Execute(r.Context(), apporder.SubmitOrderInput{
		CustomerID:       req.CustomerID,
		MethodRef:        req.MethodRef,
		Lines:            lines,
		OnPartialFailure: apporder.PartialFailurePolicy(req.OnPartialFailure),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSubmitOrderResponse(result))
}

func toSubmitOrderResponse(result *apporder.SubmitOrderResult) submitOrderResponse {
	lines := make([]lineOutcomeResponse, 0, len(result.Lines))
	for _, l := range result.Lines {
		lines = append(lines, lineOutcomeResponse{
			LineIndex:        l.LineIndex,
			SKUID:            l.SKUID,
			VendorID:         l.VendorID,
			Quantity:         l.Quantity,
			Reserved:         l.Reserved,
			Released:         l.Released,
			ReservationToken: l.ReservationToken,
			FailureReason:    l.FailureReason,
		})
	}
	return submitOrderResponse{
		OrderID:     result.OrderID,
		Status:      result.Status,
		SubOrderIDs: result.SubOrderIDs,
		Lines:       lines,
	}
}

type subOrderResponse struct {
	ID         string                  `json:"id"`
	VendorID   string                  `json:"vendor_id"`
	Status     domorder.SubOrderStatus `json:"status"`
	GrossCents int64                   `json:"gross_cents"`
	LineCount  int                     `json:"line_count"`
}

type getOrderResponse struct {
	OrderID       string             `json:"order_id"`
	CustomerID    string             `json:"customer_id"`
	Status        domorder.Status    `json:"status"`
	FailureReason string             `json:"failure_reason,omitempty"`
	SubOrders     []subOrderResponse `json:"sub_orders"`
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	entity, subOrders, err := h.orders.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	subs := make([]subOrderResponse, 0, len(subOrders))
	for _, s := range subOrders {
		subs = append(subs, subOrderResponse{
			ID:         s.ID,
			VendorID:   s.VendorID,
			Status:     s.Status,
			GrossCents: s.GrossCents(),
			LineCount:  len(s.Lines),
		})
	}

	writeJSON(w, http.StatusOK, getOrderResponse{
		OrderID:       entity.ID,
		CustomerID:    entity.CustomerID,
		Status:        entity.Status,
		FailureReason: entity.FailureReason,
		SubOrders:     subs,
	})
}

type upsertSKURequest struct {
	VendorID         string `json:"vendor_id"`
	CategoryID       string `json:"category_id"`
	OnHand           int64  `json:"on_hand"`
	ReorderThreshold int64  `json:"reorder_threshold"`
}

func (h *Handler) handleUpsertSKU(w http.ResponseWriter, r *http.Request) {
	var req upsertSKURequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := dominventory.NewRecord(r.PathValue("id"), req.VendorID, req.CategoryID, req.OnHand, req.ReorderThreshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.inventory.Upsert(r.Context(), rec); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sku_id": rec.SKUID})
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	skuID := r.PathValue("id")
	available, err := h.inventory.Availability(r.Context(), skuID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sku_id":    skuID,
		"available": available,
	})
}

type restockRequest struct {
	Quantity int64 `json:"quantity"`
}

func (h *Handler) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	skuID := r.PathValue("id")
	onHand, err := h.inventory.Restock(r.Context(), skuID, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sku_id":  skuID,
		"on_hand": onHand,
	})
}

type addRateRequest struct {
	ID             string  `json:"id"`
	VendorID       *string `json:"vendor_id"`
	CategoryID     *string `json:"category_id"`
	RatePercent    string  `json:"rate_percent"`
	FixedFeeCents  int64   `json:"fixed_fee_cents"`
	EffectiveFrom  string  `json:"effective_from"`
	EffectiveUntil string  `json:"effective_until"`
}

func (h *Handler) handleAddRate(w http.ResponseWriter, r *http.Request) {
	var req addRateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	pct, err := decimal.NewFromString(req.RatePercent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, err := time.Parse(time.RFC3339, req.EffectiveFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var until *time.Time
	if req.EffectiveUntil != "" {
		t, err := time.Parse(time.RFC3339, req.EffectiveUntil)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		until = &t
	}

	rate, err := domrate.NewRate(req.ID, req.VendorID, req.CategoryID, pct, req.FixedFeeCents, from, until)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.rates.AddRate(r.Context(), rate); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"rate_id": rate.ID})
}

type buildPayoutRequest struct {
	VendorID    string `json:"vendor_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

type payoutResponse struct {
	PayoutID             string           `json:"payout_id"`
	VendorID             string           `json:"vendor_id"`
	PeriodStart          time.Time        `json:"period_start"`
	PeriodEnd            time.Time        `json:"period_end"`
	TotalGrossCents      int64            `json:"total_gross_cents"`
	TotalCommissionCents int64            `json:"total_commission_cents"`
	TotalNetCents        int64            `json:"total_net_cents"`
	PaymentCount         int              `json:"payment_count"`
	Status               dompayout.Status `json:"status"`
}

func toPayoutResponse(p *dompayout.Payout) payoutResponse {
	return payoutResponse{
		PayoutID:             p.ID,
		VendorID:             p.VendorID,
		PeriodStart:          p.PeriodStart,
		PeriodEnd:            p.PeriodEnd,
		TotalGrossCents:      p.TotalGrossCents,
		TotalCommissionCents: p.TotalCommissionCents,
		TotalNetCents:        p.TotalNetCents,
		PaymentCount:         p.PaymentCount,
		Status:               p.Status,
	}
}

func (h *Handler) handleBuildPayout(w http.ResponseWriter, r *http.Request) {
	var req buildPayoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	start, err := time.Parse(time.RFC3339, req.PeriodStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	end, err := time.Parse(time.RFC3339, req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := h.payouts.Execute(r.Context(), apppayout.BuildPayoutInput{
		VendorID:    req.VendorID,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayoutResponse(p))
}

func (h *Handler) handleGetPayout(w http.ResponseWriter, r *http.Request) {
	p, err := h.payouts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutResponse(p))
}

func (h *Handler) handleApprovePayout(w http.ResponseWriter, r *http.Request) {
	p, err := h.payouts.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutResponse(p))
}

func (h *Handler) handleMarkPayoutPaid(w http.ResponseWriter, r *http.Request) {
	p, err := h.payouts.MarkPaid(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutResponse(p))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withAccessLog writes a single access log after the handler completes. It
// relies on the request-scoped logger injected by ObservabilityMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("fulfillment.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		spanName := r.Method + " " + route
		if route == "unknown" {
			spanName = r.Method + " " + r.URL.Path
		}

		ctxWithSpan, span := tracer.Start(parentCtx,
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctxWithSpan))
	})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domorder.ErrNotFound),
		errors.Is(err, domorder.ErrSubOrderNotFound),
		errors.Is(err, dominventory.ErrNotFound),
		errors.Is(err, dompayout.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, dompayout.ErrNoSettledPayments):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, dompayout.ErrImmutable),
		errors.Is(err, dompayout.ErrInvalidStateTransition),
		errors.Is(err, domorder.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, dominventory.ErrInvalidQuantity),
		errors.Is(err, dominventory.ErrInsufficientStock),
		errors.Is(err, domorder.ErrInvalidQuantity),
		errors.Is(err, domorder.ErrInvalidPrice),
		errors.Is(err, domorder.ErrNoLineItems),
		errors.Is(err, domrate.ErrInvalidRate),
		errors.Is(err, domrate.ErrInvalidInterval),
		errors.Is(err, dompayout.ErrInvalidPeriod),
		strings.HasPrefix(err.Error(), "validation:"):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so
// downstream metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
