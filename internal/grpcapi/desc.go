// Package grpcapi exposes the scanner-facing operations over gRPC. Messages
// are google.protobuf.Struct values shaped like the JSON API bodies, so no
// generated code is needed on either side.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "campusid.v1.Scanner"

	validateMethod      = "/" + ServiceName + "/Validate"
	syncAttemptsMethod  = "/" + ServiceName + "/SyncAttempts"
	fetchSnapshotMethod = "/" + ServiceName + "/FetchSnapshot"
)

// ScannerServer is implemented by Server.
type ScannerServer interface {
	Validate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SyncAttempts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	FetchSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv ScannerServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ScannerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ScannerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var scannerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ScannerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Validate",
			Handler: unaryHandler(validateMethod, func(srv ScannerServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.Validate(ctx, in)
			}),
		},
		{
			MethodName: "SyncAttempts",
			Handler: unaryHandler(syncAttemptsMethod, func(srv ScannerServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.SyncAttempts(ctx, in)
			}),
		},
		{
			MethodName: "FetchSnapshot",
			Handler: unaryHandler(fetchSnapshotMethod, func(srv ScannerServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.FetchSnapshot(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "campusid/v1/scanner.proto",
}

// RegisterScannerServer registers srv on s.
func RegisterScannerServer(s grpc.ServiceRegistrar, srv ScannerServer) {
	s.RegisterService(&scannerServiceDesc, srv)
}
