package grpcapi

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

var kindCodes = map[types.ErrorKind]codes.Code{
	types.KindValidation:       codes.InvalidArgument,
	types.KindDecryption:       codes.Unauthenticated,
	types.KindNotFound:         codes.NotFound,
	types.KindConflict:         codes.AlreadyExists,
	types.KindExpired:          codes.FailedPrecondition,
	types.KindLockout:          codes.ResourceExhausted,
	types.KindPermissionDenied: codes.PermissionDenied,
	types.KindSystem:           codes.Unavailable,
}

// toStatus converts a domain error to a gRPC status. The reason code is
// carried as the status message.
func toStatus(err error) error {
	var de *types.Error
	if !errors.As(err, &de) {
		return status.Error(codes.Internal, "unexpected server error")
	}
	code, ok := kindCodes[de.Kind]
	if !ok {
		code = codes.Internal
	}
	reason := de.Reason
	if reason == "" {
		reason = string(de.Kind)
	}
	return status.Error(code, reason)
}

// fromStatus restores the domain error kind on the client side. Transport
// failures surface as KindSystem.
func fromStatus(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return types.NewError(types.KindSystem, op, "transport", err)
	}
	for kind, code := range kindCodes {
		if code == st.Code() {
			return types.NewError(kind, op, st.Message(), err)
		}
	}
	return types.NewError(types.KindSystem, op, st.Code().String(), err)
}
