// Package storefrontv1 описывает gRPC API сервиса витрины: сообщения, сервис и JSON-кодек.
package storefrontv1

import (
	"encoding/json"
	"time"
)

// Ключи gRPC metadata.
const (
	MetadataOwnerID        = "x-owner-id"
	MetadataOwnerRole      = "x-owner-role"
	MetadataIdempotencyKey = "idempotency-key"
)

// RoleAdmin — роль, которой разрешено управлять каталогом.
const RoleAdmin = "admin"

// BasketLine — строка корзины в запросе. Quantity передаётся как JSON-число без потери точности,
// чтобы сервер сам отличал дробные и слишком большие значения.
type BasketLine struct {
	ItemId   string      `json:"itemId"`
	Quantity json.Number `json:"quantity"`
}

// OrderLine — позиция созданного заказа.
type OrderLine struct {
	ItemId    string `json:"itemId"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

// Order — заказ в ответах API.
type Order struct {
	Id         string       `json:"id"`
	OwnerId    string       `json:"ownerId"`
	Lines      []*OrderLine `json:"lines"`
	TotalPrice string       `json:"totalPrice"`
	Status     string       `json:"status"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Item — товар каталога.
type Item struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	Stock     int32     `json:"stock"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type PlaceOrderRequest struct {
	Lines []*BasketLine `json:"lines"`
}

type PlaceOrderResponse struct {
	Order *Order `json:"order"`
	// Replayed — ответ восстановлен по idempotency-key без повторного списания.
	Replayed bool `json:"replayed,omitempty"`
}

type GetOrderRequest struct {
	OrderId string `json:"orderId"`
}

type GetOrderResponse struct {
	Order *Order `json:"order"`
}

type ListOrdersRequest struct {
	Limit int32 `json:"limit,omitempty"`
}

type ListOrdersResponse struct {
	Orders []*Order `json:"orders"`
}

type GetItemRequest struct {
	ItemId string `json:"itemId"`
}

type GetItemResponse struct {
	Item *Item `json:"item"`
}

type PutItemRequest struct {
	Item *Item `json:"item"`
}

type PutItemResponse struct {
	Item *Item `json:"item"`
}

func (x *PlaceOrderRequest) GetLines() []*BasketLine {
	if x == nil {
		return nil
	}
	return x.Lines
}

func (x *GetOrderRequest) GetOrderId() string {
	if x == nil {
		return ""
	}
	return x.OrderId
}

func (x *ListOrdersRequest) GetLimit() int32 {
	if x == nil {
		return 0
	}
	return x.Limit
}

func (x *GetItemRequest) GetItemId() string {
	if x == nil {
		return ""
	}
	return x.ItemId
}

func (x *PutItemRequest) GetItem() *Item {
	if x == nil {
		return nil
	}
	return x.Item
}

func (x *PlaceOrderResponse) GetOrder() *Order {
	if x == nil {
		return nil
	}
	return x.Order
}

func (x *GetItemResponse) GetItem() *Item {
	if x == nil {
		return nil
	}
	return x.Item
}

func (x *PutItemResponse) GetItem() *Item {
	if x == nil {
		return nil
	}
	return x.Item
}

func (x *Item) GetStock() int32 {
	if x == nil {
		return 0
	}
	return x.Stock
}

func (x *PlaceOrderResponse) GetReplayed() bool {
	if x == nil {
		return false
	}
	return x.Replayed
}

func (x *GetOrderResponse) GetOrder() *Order {
	if x == nil {
		return nil
	}
	return x.Order
}

func (x *ListOrdersResponse) GetOrders() []*Order {
	if x == nil {
		return nil
	}
	return x.Orders
}

func (x *BasketLine) GetItemId() string {
	if x == nil {
		return ""
	}
	return x.ItemId
}

func (x *BasketLine) GetQuantity() json.Number {
	if x == nil {
		return ""
	}
	return x.Quantity
}

func (x *OrderLine) GetItemId() string {
	if x == nil {
		return ""
	}
	return x.ItemId
}

func (x *OrderLine) GetQuantity() int32 {
	if x == nil {
		return 0
	}
	return x.Quantity
}

func (x *OrderLine) GetUnitPrice() string {
	if x == nil {
		return ""
	}
	return x.UnitPrice
}

func (x *Order) GetId() string {
	if x == nil {
		return ""
	}
	return x.Id
}

func (x *Order) GetOwnerId() string {
	if x == nil {
		return ""
	}
	return x.OwnerId
}

func (x *Order) GetLines() []*OrderLine {
	if x == nil {
		return nil
	}
	return x.Lines
}

func (x *Order) GetTotalPrice() string {
	if x == nil {
		return ""
	}
	return x.TotalPrice
}

func (x *Order) GetStatus() string {
	if x == nil {
		return ""
	}
	return x.Status
}

func (x *Order) GetCreatedAt() time.Time {
	if x == nil {
		return time.Time{}
	}
	return x.CreatedAt
}

func (x *Item) GetId() string {
	if x == nil {
		return ""
	}
	return x.Id
}

func (x *Item) GetName() string {
	if x == nil {
		return ""
	}
	return x.Name
}

func (x *Item) GetPrice() string {
	if x == nil {
		return ""
	}
	return x.Price
}

func (x *Item) GetVersion() int64 {
	if x == nil {
		return 0
	}
	return x.Version
}

func (x *Item) GetUpdatedAt() time.Time {
	if x == nil {
		return time.Time{}
	}
	return x.UpdatedAt
}
