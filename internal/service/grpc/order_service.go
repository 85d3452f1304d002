// Package grpcsvc реализует gRPC API витрины поверх сервисов размещения и чтения заказов.
package grpcsvc

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	storefrontv1 "github.com/vladislavdragonenkov/storefront/api/storefront/v1"
	"github.com/vladislavdragonenkov/storefront/internal/basket"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
)

// OrderService реализует storefrontv1.StorefrontServiceServer.
type OrderService struct {
	storefrontv1.UnimplementedStorefrontServiceServer

	checkout *checkout.Service
	query    *orders.Query
	catalog  domain.CatalogRepository
	logger   *log.Entry
}

// NewOrderService конструирует сервис с зависимостями.
func NewOrderService(
	checkoutSvc *checkout.Service,
	query *orders.Query,
	catalog domain.CatalogRepository,
	logger *log.Entry,
) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	return &OrderService{
		checkout: checkoutSvc,
		query:    query,
		catalog:  catalog,
		logger:   logger,
	}
}

// PlaceOrder резервирует товары корзины и создаёт заказ.
// Владелец берётся из metadata x-owner-id, необязательный ключ идемпотентности из idempotency-key.
func (s *OrderService) PlaceOrder(ctx context.Context, req *storefrontv1.PlaceOrderRequest) (*storefrontv1.PlaceOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	ownerID, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}

	raw := make([]basket.RawLine, 0, len(req.GetLines()))
	for _, line := range req.GetLines() {
		if line == nil {
			// nil-строка превращается в пустую и отклоняется валидатором с её индексом.
			raw = append(raw, basket.RawLine{})
			continue
		}
		raw = append(raw, basket.RawLine{ItemID: line.ItemId, Quantity: line.Quantity})
	}

	result, err := s.checkout.PlaceOrder(ctx, ownerID, metadataValue(ctx, storefrontv1.MetadataIdempotencyKey), raw)
	if err != nil {
		return nil, s.toStatus(err, "place order")
	}

	return &storefrontv1.PlaceOrderResponse{
		Order:    toWireOrder(result.Order),
		Replayed: result.Replayed,
	}, nil
}

// GetOrder возвращает заказ вызывающего владельца.
func (s *OrderService) GetOrder(ctx context.Context, req *storefrontv1.GetOrderRequest) (*storefrontv1.GetOrderResponse, error) {
	orderID := strings.TrimSpace(req.GetOrderId())
	if orderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	ownerID, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}

	order, err := s.query.GetOrder(ctx, ownerID, orderID)
	if err != nil {
		return nil, s.toStatus(err, "get order")
	}
	return &storefrontv1.GetOrderResponse{Order: toWireOrder(order)}, nil
}

// ListOrders возвращает заказы владельца, новые первыми.
func (s *OrderService) ListOrders(ctx context.Context, req *storefrontv1.ListOrdersRequest) (*storefrontv1.ListOrdersResponse, error) {
	ownerID, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}

	list, err := s.query.ListOrders(ctx, ownerID, int(req.GetLimit()))
	if err != nil {
		return nil, s.toStatus(err, "list orders")
	}

	resp := &storefrontv1.ListOrdersResponse{Orders: make([]*storefrontv1.Order, 0, len(list))}
	for _, order := range list {
		resp.Orders = append(resp.Orders, toWireOrder(order))
	}
	return resp, nil
}

// GetItem возвращает текущее состояние товара каталога.
func (s *OrderService) GetItem(ctx context.Context, req *storefrontv1.GetItemRequest) (*storefrontv1.GetItemResponse, error) {
	itemID := strings.TrimSpace(req.GetItemId())
	if itemID == "" {
		return nil, status.Error(codes.InvalidArgument, "item_id is required")
	}

	item, err := s.catalog.GetItem(ctx, itemID)
	if err != nil {
		return nil, s.toStatus(err, "get item")
	}
	return &storefrontv1.GetItemResponse{Item: toWireItem(item)}, nil
}

// PutItem создаёт или заменяет товар. Доступно только роли admin.
func (s *OrderService) PutItem(ctx context.Context, req *storefrontv1.PutItemRequest) (*storefrontv1.PutItemResponse, error) {
	if _, err := requireOwner(ctx); err != nil {
		return nil, err
	}
	if metadataValue(ctx, storefrontv1.MetadataOwnerRole) != storefrontv1.RoleAdmin {
		return nil, status.Error(codes.PermissionDenied, "admin role is required")
	}

	wire := req.GetItem()
	if wire == nil {
		return nil, status.Error(codes.InvalidArgument, "item is required")
	}
	price, err := decimal.NewFromString(strings.TrimSpace(wire.Price))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "item.price is invalid: %v", err)
	}

	item, err := s.catalog.PutItem(ctx, domain.StockItem{
		ID:    strings.TrimSpace(wire.Id),
		Name:  wire.Name,
		Price: price,
		Stock: wire.Stock,
	})
	if err != nil {
		return nil, s.toStatus(err, "put item")
	}

	s.logger.WithFields(log.Fields{
		"item_id": item.ID,
		"stock":   item.Stock,
		"version": item.Version,
	}).Info("catalog item stored")

	return &storefrontv1.PutItemResponse{Item: toWireItem(item)}, nil
}

// toStatus переводит доменную ошибку в gRPC-статус. Неожиданные ошибки логируются и скрываются.
func (s *OrderService) toStatus(err error, operation string) error {
	var (
		insufficient *domain.InsufficientStockError
		malformed    *domain.MalformedLineError
	)

	switch {
	case errors.As(err, &insufficient):
		return status.Error(codes.FailedPrecondition, insufficient.Error())
	case errors.As(err, &malformed):
		return status.Error(codes.InvalidArgument, malformed.Error())
	case errors.Is(err, domain.ErrEmptyBasket),
		errors.Is(err, domain.ErrItemIDRequired),
		errors.Is(err, domain.ErrItemPriceInvalid),
		errors.Is(err, domain.ErrStockNegative):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrOwnerRequired):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, domain.ErrItemNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(err, domain.ErrIdempotencyInProgress):
		return status.Error(codes.Aborted, "request with the same idempotency key is already processing")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, domain.ErrTransactionFailed):
		s.logger.WithError(err).WithField("operation", operation).Warn("transaction failed")
		return status.Error(codes.Unavailable, "transaction failed, retry later")
	default:
		s.logger.WithError(err).WithField("operation", operation).Error("unexpected error")
		return status.Errorf(codes.Internal, "failed to %s", operation)
	}
}

func requireOwner(ctx context.Context) (string, error) {
	ownerID := metadataValue(ctx, storefrontv1.MetadataOwnerID)
	if ownerID == "" {
		return "", status.Error(codes.Unauthenticated, "x-owner-id metadata is required")
	}
	return ownerID, nil
}

func metadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func toWireOrder(order domain.Order) *storefrontv1.Order {
	lines := make([]*storefrontv1.OrderLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, &storefrontv1.OrderLine{
			ItemId:    line.ItemID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(2),
		})
	}
	return &storefrontv1.Order{
		Id:         order.ID,
		OwnerId:    order.OwnerID,
		Lines:      lines,
		TotalPrice: order.TotalPrice.StringFixed(2),
		Status:     string(order.Status),
		CreatedAt:  order.CreatedAt,
	}
}

func toWireItem(item domain.StockItem) *storefrontv1.Item {
	return &storefrontv1.Item{
		Id:        item.ID,
		Name:      item.Name,
		Price:     item.Price.StringFixed(2),
		Stock:     item.Stock,
		Version:   item.Version,
		UpdatedAt: item.UpdatedAt,
	}
}
