package storefrontv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	StorefrontService_PlaceOrder_FullMethodName = "/storefront.v1.StorefrontService/PlaceOrder"
	StorefrontService_GetOrder_FullMethodName   = "/storefront.v1.StorefrontService/GetOrder"
	StorefrontService_ListOrders_FullMethodName = "/storefront.v1.StorefrontService/ListOrders"
	StorefrontService_GetItem_FullMethodName    = "/storefront.v1.StorefrontService/GetItem"
	StorefrontService_PutItem_FullMethodName    = "/storefront.v1.StorefrontService/PutItem"
)

// StorefrontServiceClient — клиент API витрины.
type StorefrontServiceClient interface {
	PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*PlaceOrderResponse, error)
	GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error)
	ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error)
	GetItem(ctx context.Context, in *GetItemRequest, opts ...grpc.CallOption) (*GetItemResponse, error)
	PutItem(ctx context.Context, in *PutItemRequest, opts ...grpc.CallOption) (*PutItemResponse, error)
}

type storefrontServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewStorefrontServiceClient создаёт клиента. Все вызовы идут с content-subtype json.
func NewStorefrontServiceClient(cc grpc.ClientConnInterface) StorefrontServiceClient {
	return &storefrontServiceClient{cc: cc}
}

func (c *storefrontServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, callOpts...)
}

func (c *storefrontServiceClient) PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*PlaceOrderResponse, error) {
	out := new(PlaceOrderResponse)
	if err := c.invoke(ctx, StorefrontService_PlaceOrder_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storefrontServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	out := new(GetOrderResponse)
	if err := c.invoke(ctx, StorefrontService_GetOrder_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storefrontServiceClient) ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	out := new(ListOrdersResponse)
	if err := c.invoke(ctx, StorefrontService_ListOrders_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storefrontServiceClient) GetItem(ctx context.Context, in *GetItemRequest, opts ...grpc.CallOption) (*GetItemResponse, error) {
	out := new(GetItemResponse)
	if err := c.invoke(ctx, StorefrontService_GetItem_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storefrontServiceClient) PutItem(ctx context.Context, in *PutItemRequest, opts ...grpc.CallOption) (*PutItemResponse, error) {
	out := new(PutItemResponse)
	if err := c.invoke(ctx, StorefrontService_PutItem_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// StorefrontServiceServer — серверная часть API витрины.
// Реализации должны встраивать UnimplementedStorefrontServiceServer.
type StorefrontServiceServer interface {
	PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	GetItem(context.Context, *GetItemRequest) (*GetItemResponse, error)
	PutItem(context.Context, *PutItemRequest) (*PutItemResponse, error)
	mustEmbedUnimplementedStorefrontServiceServer()
}

// UnimplementedStorefrontServiceServer возвращает Unimplemented для всех методов.
type UnimplementedStorefrontServiceServer struct{}

func (UnimplementedStorefrontServiceServer) PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method PlaceOrder not implemented")
}
func (UnimplementedStorefrontServiceServer) GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetOrder not implemented")
}
func (UnimplementedStorefrontServiceServer) ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListOrders not implemented")
}
func (UnimplementedStorefrontServiceServer) GetItem(context.Context, *GetItemRequest) (*GetItemResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetItem not implemented")
}
func (UnimplementedStorefrontServiceServer) PutItem(context.Context, *PutItemRequest) (*PutItemResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method PutItem not implemented")
}
func (UnimplementedStorefrontServiceServer) mustEmbedUnimplementedStorefrontServiceServer() {}

// RegisterStorefrontServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterStorefrontServiceServer(s grpc.ServiceRegistrar, srv StorefrontServiceServer) {
	s.RegisterService(&StorefrontService_ServiceDesc, srv)
}

func _StorefrontService_PlaceOrder_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PlaceOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorefrontServiceServer).PlaceOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorefrontService_PlaceOrder_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StorefrontServiceServer).PlaceOrder(ctx, req.(*PlaceOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorefrontService_GetOrder_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorefrontServiceServer).GetOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorefrontService_GetOrder_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StorefrontServiceServer).GetOrder(ctx, req.(*GetOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorefrontService_ListOrders_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListOrdersRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorefrontServiceServer).ListOrders(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorefrontService_ListOrders_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StorefrontServiceServer).ListOrders(ctx, req.(*ListOrdersRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorefrontService_GetItem_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetItemRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorefrontServiceServer).GetItem(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorefrontService_GetItem_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StorefrontServiceServer).GetItem(ctx, req.(*GetItemRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorefrontService_PutItem_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PutItemRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorefrontServiceServer).PutItem(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorefrontService_PutItem_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StorefrontServiceServer).PutItem(ctx, req.(*PutItemRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// StorefrontService_ServiceDesc — описание сервиса для grpc.ServiceRegistrar.
var StorefrontService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "storefront.v1.StorefrontService",
	HandlerType: (*StorefrontServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: _StorefrontService_PlaceOrder_Handler},
		{MethodName: "GetOrder", Handler: _StorefrontService_GetOrder_Handler},
		{MethodName: "ListOrders", Handler: _StorefrontService_ListOrders_Handler},
		{MethodName: "GetItem", Handler: _StorefrontService_GetItem_Handler},
		{MethodName: "PutItem", Handler: _StorefrontService_PutItem_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/storefront/v1/service.go",
}
