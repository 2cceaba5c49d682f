// ABOUTME: Service descriptor and client for rowstore.v1.RowStore
// ABOUTME: Messages are well-known protobuf types, so no generated code is needed

package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "rowstore.v1.RowStore"

// RowStoreServer is the server API for the RowStore service
type RowStoreServer interface {
	ListTables(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	ListRows(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	GetRow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PutRow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteRow(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var _ RowStoreServer = (*Server)(nil)

// ServiceDesc describes the RowStore service for grpc.ServiceRegistrar
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RowStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListTables", Handler: unaryHandler[emptypb.Empty]("ListTables", RowStoreServer.ListTables)},
		{MethodName: "ListRows", Handler: unaryHandler[structpb.Struct]("ListRows", RowStoreServer.ListRows)},
		{MethodName: "GetRow", Handler: unaryHandler[structpb.Struct]("GetRow", RowStoreServer.GetRow)},
		{MethodName: "PutRow", Handler: unaryHandler[structpb.Struct]("PutRow", RowStoreServer.PutRow)},
		{MethodName: "DeleteRow", Handler: unaryHandler[structpb.Struct]("DeleteRow", RowStoreServer.DeleteRow)},
		{MethodName: "Stats", Handler: unaryHandler[emptypb.Empty]("Stats", RowStoreServer.Stats)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rowstore/v1/rowstore.proto",
}

func unaryHandler[Req any, PReq interface {
	*Req
	proto.Message
}, Resp proto.Message](method string, call func(RowStoreServer, context.Context, PReq) (Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RowStoreServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RowStoreServer), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Register installs the RowStore service, the standard health service and
// server reflection on gs. Both health entries start SERVING.
func Register(gs *grpc.Server, srv RowStoreServer) *health.Server {
	gs.RegisterService(&ServiceDesc, srv)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	reflection.Register(gs)
	return hs
}

// Client calls the RowStore service
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) ListTables(ctx context.Context) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	return out, c.invoke(ctx, "ListTables", &emptypb.Empty{}, out)
}

func (c *Client) ListRows(ctx context.Context, table string) (*structpb.ListValue, error) {
	in, err := structpb.NewStruct(map[string]any{"table": table})
	if err != nil {
		return nil, err
	}
	out := new(structpb.ListValue)
	return out, c.invoke(ctx, "ListRows", in, out)
}

func (c *Client) GetRow(ctx context.Context, table string, row int64) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"table": table, "row": row})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "GetRow", in, out)
}

// PutRow creates a row when row is negative and updates it otherwise
func (c *Client) PutRow(ctx context.Context, table string, row int64, fields map[string]any) (*structpb.Struct, error) {
	req := map[string]any{"table": table, "fields": fields}
	if row >= 0 {
		req["row"] = row
	}
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "PutRow", in, out)
}

func (c *Client) DeleteRow(ctx context.Context, table string, row int64) error {
	in, err := structpb.NewStruct(map[string]any{"table": table, "row": row})
	if err != nil {
		return err
	}
	return c.invoke(ctx, "DeleteRow", in, &emptypb.Empty{})
}

func (c *Client) Stats(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "Stats", &emptypb.Empty{}, out)
}

func (c *Client) invoke(ctx context.Context, method string, in, out proto.Message) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out)
}
