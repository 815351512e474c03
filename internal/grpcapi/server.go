package grpcapi

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/campusid/internal/campusid/service"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	"github.com/BrandonDHaskell/campusid/internal/logging"
	"github.com/BrandonDHaskell/campusid/internal/wire"
)

type Dependencies struct {
	Logger     *zap.Logger
	Validation *service.ValidationService
	Snapshots  *service.SnapshotBuilder
	Reconciler *service.SyncReconciler
}

type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *zap.Logger
	validation *service.ValidationService
	snapshots  *service.SnapshotBuilder
	reconciler *service.SyncReconciler
}

// syncRequest and snapshotRequest mirror the HTTP bodies.
type syncRequest struct {
	Attempts []types.AccessAttempt `json:"attempts"`
}

type snapshotRequest struct {
	FacilityIDs []string `json:"facilityIds,omitempty"`
}

func NewServer(d Dependencies, opts ...grpc.ServerOption) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	s := &Server{
		health:     health.NewServer(),
		logger:     d.Logger,
		validation: d.Validation,
		snapshots:  d.Snapshots,
		reconciler: d.Reconciler,
	}

	opts = append(opts, grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	s.grpcServer = grpc.NewServer(opts...)
	RegisterScannerServer(s.grpcServer, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop flips health to NOT_SERVING and drains in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

func (s *Server) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now().UTC()
	reqLog := s.logger.With(zap.String("method", info.FullMethod))
	resp, err := handler(logging.ToContext(ctx, reqLog), req)
	reqLog.Info("grpc request",
		zap.String("code", status.Code(err).String()),
		zap.Duration("dur", time.Since(start)),
	)
	return resp, err
}

func (s *Server) Validate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.ValidationRequest
	if err := wire.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "bad_request")
	}
	resp, err := s.validation.Validate(ctx, req)
	if err != nil {
		logging.From(ctx, s.logger).Warn("validate failed", zap.Error(err))
		return nil, toStatus(err)
	}
	return encode(resp)
}

func (s *Server) SyncAttempts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req syncRequest
	if err := wire.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "bad_request")
	}
	if len(req.Attempts) == 0 {
		return nil, status.Error(codes.InvalidArgument, "invalid_request")
	}
	return encode(s.reconciler.Merge(ctx, req.Attempts))
}

func (s *Server) FetchSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req snapshotRequest
	if err := wire.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "bad_request")
	}
	snap, err := s.snapshots.BuildSnapshot(ctx, req.FacilityIDs)
	if err != nil {
		logging.From(ctx, s.logger).Error("snapshot build failed", zap.Error(err))
		return nil, toStatus(err)
	}
	return encode(snap)
}

func encode(v any) (*structpb.Struct, error) {
	out, err := wire.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode_failed")
	}
	return out, nil
}
