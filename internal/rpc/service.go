package rpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "partrecon.Node"
	// codecName is the content-subtype used on the wire.
	codecName = "json"
)

// NodeService is the RPC surface of a data node. The server implements it and
// clients expose it, so an in-process node can stand in for a remote one.
type NodeService interface {
	Put(ctx context.Context, req *PutRequest) (*PutResponse, error)
	Get(ctx context.Context, req *GetRequest) (*GetResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)
	ReplicaPut(ctx context.Context, req *ReplicaPutRequest) (*ReplicaPutResponse, error)
	ScanPartition(ctx context.Context, req *ScanRequest) (*ScanResponse, error)
	ReadVersions(ctx context.Context, req *VersionsRequest) (*VersionsResponse, error)
	ReadEntry(ctx context.Context, req *ReadEntryRequest) (*ReadEntryResponse, error)
	RepairEntry(ctx context.Context, req *RepairRequest) (*RepairResponse, error)
}

// Dialer returns a client for a node by ID.
type Dialer interface {
	Client(nodeID string) (NodeService, error)
}

// jsonCodec encodes messages as JSON. It is selected per call through the
// "json" content-subtype.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NodeService)(nil),
	Methods: []grpc.MethodDesc{
		unary("Put", NodeService.Put),
		unary("Get", NodeService.Get),
		unary("Delete", NodeService.Delete),
		unary("ReplicaPut", NodeService.ReplicaPut),
		unary("ScanPartition", NodeService.ScanPartition),
		unary("ReadVersions", NodeService.ReadVersions),
		unary("ReadEntry", NodeService.ReadEntry),
		unary("RepairEntry", NodeService.RepairEntry),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "partrecon/node",
}

// RegisterNodeService registers the node service on a gRPC server.
func RegisterNodeService(s grpc.ServiceRegistrar, srv NodeService) {
	s.RegisterService(&serviceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// unary builds the method descriptor for one request/response call.
func unary[Req, Resp any](method string, call func(NodeService, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				resp, err := call(srv.(NodeService), ctx, req.(*Req))
				if err != nil {
					return nil, err
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			return interceptor(ctx, in, info, handler)
		},
	}
}
