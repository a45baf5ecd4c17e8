package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
)

// httpServer обслуживает публичный API: заказы, checkout, callback'и шлюзов
// и административные триггеры reaper'а.
type httpServer struct {
	deps   *Dependencies
	logger *log.Entry
}

// newRouter собирает маршруты HTTP API.
func newRouter(deps *Dependencies) http.Handler {
	s := &httpServer{
		deps:   deps,
		logger: deps.Logger.WithField("layer", "http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", s.handleCreateOrder)
	mux.HandleFunc("GET /orders/{id}", s.handleGetOrder)
	mux.HandleFunc("POST /orders/{orderNumber}/payment", s.handleCreatePayment)
	mux.HandleFunc("POST /orders/{id}/status", s.handleTransitionStatus)
	mux.HandleFunc("GET /payments/callback/{gateway}", s.handleCallback)
	mux.HandleFunc("POST /payments/callback/{gateway}", s.handleCallback)
	mux.HandleFunc("POST /products", s.handleCreateProduct)
	mux.HandleFunc("GET /products/{id}", s.handleGetProduct)
	mux.HandleFunc("POST /admin/reaper/expire", s.handleExpireNow)
	mux.HandleFunc("GET /admin/reaper/expirable", s.handleExpirableCount)
	return mux
}

type orderItemPayload struct {
	ProductID string          `json:"product_id"`
	Qty       int32           `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type createOrderRequest struct {
	OrderNumber string             `json:"order_number"`
	CustomerID  string             `json:"customer_id"`
	Currency    string             `json:"currency"`
	Total       decimal.Decimal    `json:"total"`
	Items       []orderItemPayload `json:"items"`
}

type orderResponse struct {
	ID            string             `json:"id"`
	OrderNumber   string             `json:"order_number"`
	CustomerID    string             `json:"customer_id"`
	Status        string             `json:"status"`
	PaymentStatus string             `json:"payment_status"`
	Currency      string             `json:"currency"`
	Total         decimal.Decimal    `json:"total"`
	Gateway       string             `json:"gateway,omitempty"`
	TransactionID string             `json:"transaction_id,omitempty"`
	Items         []orderItemPayload `json:"items"`
	Version       int64              `json:"version"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	DeliveredAt   *time.Time         `json:"delivered_at,omitempty"`
	ReceivedAt    *time.Time         `json:"received_at,omitempty"`
}

type auditEntryResponse struct {
	ID            string    `json:"id"`
	Gateway       string    `json:"gateway"`
	Kind          string    `json:"kind"`
	TransactionID string    `json:"transaction_id,omitempty"`
	ResponseCode  string    `json:"response_code,omitempty"`
	Occurred      time.Time `json:"occurred"`
}

type checkoutResponse struct {
	Kind        string            `json:"kind"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	CheckoutURL string            `json:"checkout_url,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

func (s *httpServer) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order := domain.Order{
		OrderNumber: req.OrderNumber,
		CustomerID:  req.CustomerID,
		Currency:    req.Currency,
		Total:       req.Total,
	}
	for _, item := range req.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice,
		})
	}

	created, err := s.deps.Ledger.CreateOrder(order)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(created))
}

func (s *httpServer) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Ledger.GetOrder(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	audit, err := s.deps.Ledger.ListAudit(order.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	entries := make([]auditEntryResponse, 0, len(audit))
	for _, entry := range audit {
		entries = append(entries, auditEntryResponse{
			ID:            entry.ID,
			Gateway:       entry.Gateway,
			Kind:          entry.Kind,
			TransactionID: entry.TransactionID,
			ResponseCode:  entry.ResponseCode,
			Occurred:      entry.Occurred,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order": toOrderResponse(order),
		"audit": entries,
	})
}

func (s *httpServer) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	gatewayName := r.URL.Query().Get("gateway")
	if gatewayName == "" {
		writeError(w, http.StatusBadRequest, domain.ErrPaymentProviderRequired.Error())
		return
	}

	payload, err := s.deps.Processor.BuildCheckout(r.PathValue("orderNumber"), gatewayName)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		Kind:        string(payload.Kind),
		RedirectURL: payload.RedirectURL,
		CheckoutURL: payload.CheckoutURL,
		Fields:      payload.Fields,
	})
}

func (s *httpServer) handleTransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
		Actor  string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	actor := domain.Actor(req.Actor)
	if actor == "" {
		actor = domain.ActorStaff
	}

	order, err := s.deps.Ledger.TransitionStatus(r.PathValue("id"), domain.OrderStatus(req.Status), actor)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// handleCallback принимает callback шлюза. Бизнес-исходы, включая невалидную
// подпись, выражаются redirect'ом на витрину; 500 остаётся за сбоями хранилища.
func (s *httpServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed callback payload")
		return
	}
	params := make(map[string]string, len(r.Form))
	for key, values := range r.Form {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	target, err := s.deps.Processor.Process(r.PathValue("gateway"), params)
	if err != nil {
		s.logger.WithError(err).Error("callback processing failed")
		writeError(w, http.StatusInternalServerError, "callback processing failed")
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

func (s *httpServer) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    string          `json:"id"`
		SKU   string          `json:"sku"`
		Name  string          `json:"name"`
		Price decimal.Decimal `json:"price"`
		Stock int32           `json:"stock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := time.Now().UTC()
	product := domain.Product{
		ID:        req.ID,
		SKU:       req.SKU,
		Name:      req.Name,
		Price:     req.Price,
		Stock:     req.Stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if errs := product.Validate(); len(errs) > 0 {
		writeError(w, http.StatusBadRequest, errors.Join(errs...).Error())
		return
	}

	if err := s.deps.Products.Create(product); err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, product)
}

func (s *httpServer) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.deps.Products.Get(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *httpServer) handleExpireNow(w http.ResponseWriter, r *http.Request) {
	cancelled := s.deps.Reaper.SweepExpired(r.Context(), time.Now().UTC())
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": cancelled})
}

func (s *httpServer) handleExpirableCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.deps.Reaper.CountExpirable()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expirable": count})
}

func (s *httpServer) writeDomainError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// statusForError переводит доменную ошибку в HTTP-статус.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyPaid),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrOrderVersionConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrUnknownGateway),
		errors.Is(err, domain.ErrAmountInvalid),
		errors.Is(err, domain.ErrOrderNumberTooLong),
		errors.Is(err, domain.ErrOrderNumberRequired),
		errors.Is(err, domain.ErrCustomerRequired),
		errors.Is(err, domain.ErrCurrencyRequired),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrItemPriceInvalid),
		errors.Is(err, domain.ErrAmountNegative),
		errors.Is(err, domain.ErrAmountMismatch),
		errors.Is(err, domain.ErrProductSKURequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice,
		})
	}
	return orderResponse{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerID:    order.CustomerID,
		Status:        string(order.Status),
		PaymentStatus: string(order.Payment),
		Currency:      order.Currency,
		Total:         order.Total,
		Gateway:       order.Gateway,
		TransactionID: order.TransactionID,
		Items:         items,
		Version:       order.Version,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
		DeliveredAt:   order.DeliveredAt,
		ReceivedAt:    order.ReceivedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
