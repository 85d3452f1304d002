package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	storefrontv1 "github.com/vladislavdragonenkov/storefront/api/storefront/v1"
	"github.com/vladislavdragonenkov/storefront/internal/basket"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
)

// maxBodyBytes ограничивает размер тела запроса.
const maxBodyBytes = 1 << 20

// Handler обслуживает /orders и /items.
type Handler struct {
	checkout *checkout.Service
	query    *orders.Query
	catalog  domain.CatalogRepository
	logger   *log.Entry
}

// NewHandler создаёт обработчик REST API.
func NewHandler(checkoutSvc *checkout.Service, query *orders.Query, catalog domain.CatalogRepository, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{
		checkout: checkoutSvc,
		query:    query,
		catalog:  catalog,
		logger:   logger,
	}
}

// Register вешает маршруты на роутер.
func (h *Handler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.placeOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
	})
	r.Route("/items", func(r chi.Router) {
		r.Get("/{id}", h.getItem)
		r.Put("/{id}", h.putItem)
	})
}

// envelope — формат всех ответов API.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Object  any    `json:"object,omitempty"`
	// Детали отказа резервирования.
	ItemID    string `json:"itemId,omitempty"`
	Requested int32  `json:"requested,omitempty"`
	Available *int32 `json:"available,omitempty"`
	Line      *int   `json:"line,omitempty"`
	Replayed  bool   `json:"replayed,omitempty"`
}

type placeOrderRequest struct {
	Products []productLine `json:"products"`
}

type productLine struct {
	ProductID string      `json:"productId"`
	Quantity  json.Number `json:"quantity"`
}

type putItemRequest struct {
	Name  string `json:"name"`
	Price string `json:"price"`
	Stock *int32 `json:"stock"`
}

type orderLineView struct {
	ItemID    string `json:"itemId"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

type orderView struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"ownerId"`
	Lines      []orderLineView `json:"lines"`
	TotalPrice string          `json:"totalPrice"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type itemView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	Stock     int32     `json:"stock"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req placeOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "invalid json: " + err.Error()})
		return
	}

	raw := make([]basket.RawLine, 0, len(req.Products))
	for _, p := range req.Products {
		raw = append(raw, basket.RawLine{ItemID: p.ProductID, Quantity: p.Quantity})
	}

	result, err := h.checkout.PlaceOrder(r.Context(), ownerID, r.Header.Get(HeaderIdempotencyKey), raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	code := http.StatusCreated
	if result.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, envelope{
		Success:  true,
		Message:  "Order placed successfully",
		Object:   toOrderView(result.Order),
		Replayed: result.Replayed,
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, envelope{Message: "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	list, err := h.query.ListOrders(r.Context(), ownerID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	views := make([]orderView, 0, len(list))
	for _, order := range list {
		views = append(views, toOrderView(order))
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Orders retrieved successfully", Object: views})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	order, err := h.query.GetOrder(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Order retrieved successfully", Object: toOrderView(order)})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Item retrieved successfully", Object: toItemView(item)})
}

func (h *Handler) putItem(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireOwner(w, r); !ok {
		return
	}
	if strings.TrimSpace(r.Header.Get(HeaderOwnerRole)) != storefrontv1.RoleAdmin {
		writeJSON(w, http.StatusForbidden, envelope{Message: "admin role is required"})
		return
	}

	var req putItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "invalid json: " + err.Error()})
		return
	}
	price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "price must be a decimal number"})
		return
	}
	if req.Stock == nil {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "stock is required"})
		return
	}

	item, err := h.catalog.PutItem(r.Context(), domain.StockItem{
		ID:    chi.URLParam(r, "id"),
		Name:  req.Name,
		Price: price,
		Stock: *req.Stock,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Item stored successfully", Object: toItemView(item)})
}

// writeError переводит доменную ошибку в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		insufficient *domain.InsufficientStockError
		notFound     *domain.ItemNotFoundError
		malformed    *domain.MalformedLineError
	)

	switch {
	case errors.As(err, &insufficient):
		available := insufficient.Available
		writeJSON(w, http.StatusConflict, envelope{
			Message:   insufficient.Error(),
			ItemID:    insufficient.ItemID,
			Requested: insufficient.Requested,
			Available: &available,
		})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, envelope{Message: notFound.Error(), ItemID: notFound.ItemID})
	case errors.As(err, &malformed):
		index := malformed.Index
		writeJSON(w, http.StatusBadRequest, envelope{Message: malformed.Error(), Line: &index})
	case errors.Is(err, domain.ErrEmptyBasket),
		errors.Is(err, domain.ErrItemIDRequired),
		errors.Is(err, domain.ErrItemPriceInvalid),
		errors.Is(err, domain.ErrStockNegative):
		writeJSON(w, http.StatusBadRequest, envelope{Message: err.Error()})
	case errors.Is(err, domain.ErrOwnerRequired):
		writeJSON(w, http.StatusUnauthorized, envelope{Message: err.Error()})
	case errors.Is(err, domain.ErrItemNotFound), errors.Is(err, domain.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, envelope{Message: err.Error()})
	case errors.Is(err, domain.ErrIdempotencyHashMismatch), errors.Is(err, domain.ErrIdempotencyInProgress):
		writeJSON(w, http.StatusConflict, envelope{Message: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, envelope{Message: "request timed out"})
	case errors.Is(err, domain.ErrTransactionFailed):
		h.logger.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Warn("transaction failed")
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, envelope{Message: "transaction failed, retry later"})
	default:
		h.logger.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error("unexpected error")
		writeJSON(w, http.StatusInternalServerError, envelope{Message: "internal error"})
	}
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := strings.TrimSpace(r.Header.Get(HeaderOwnerID))
	if ownerID == "" {
		writeJSON(w, http.StatusUnauthorized, envelope{Message: HeaderOwnerID + " header is required"})
		return "", false
	}
	return ownerID, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func toOrderView(order domain.Order) orderView {
	lines := make([]orderLineView, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineView{
			ItemID:    line.ItemID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(2),
		})
	}
	return orderView{
		ID:         order.ID,
		OwnerID:    order.OwnerID,
		Lines:      lines,
		TotalPrice: order.TotalPrice.StringFixed(2),
		Status:     string(order.Status),
		CreatedAt:  order.CreatedAt,
	}
}

func toItemView(item domain.StockItem) itemView {
	return itemView{
		ID:        item.ID,
		Name:      item.Name,
		Price:     item.Price.StringFixed(2),
		Stock:     item.Stock,
		Version:   item.Version,
		UpdatedAt: item.UpdatedAt,
	}
}
