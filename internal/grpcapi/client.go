package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	"github.com/BrandonDHaskell/campusid/internal/wire"
)

// Client is the scanner-side stub. It satisfies service.SyncClient, so a
// QueueDrainer can push its offline queue through it.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, op, method string, req, out any) error {
	in, err := wire.ToStruct(req)
	if err != nil {
		return types.NewError(types.KindValidation, op, "encode_failed", err)
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, resp); err != nil {
		return fromStatus(op, err)
	}
	if err := wire.FromStruct(resp, out); err != nil {
		return types.NewError(types.KindSystem, op, "decode_failed", err)
	}
	return nil
}

func (c *Client) Validate(ctx context.Context, req types.ValidationRequest) (types.ValidationResponse, error) {
	var out types.ValidationResponse
	err := c.invoke(ctx, "Validate", validateMethod, req, &out)
	return out, err
}

func (c *Client) Sync(ctx context.Context, attempts []types.AccessAttempt) (types.SyncResult, error) {
	var out types.SyncResult
	err := c.invoke(ctx, "SyncAttempts", syncAttemptsMethod, syncRequest{Attempts: attempts}, &out)
	return out, err
}

func (c *Client) FetchSnapshot(ctx context.Context, facilityIDs []string) (types.OfflineSnapshot, error) {
	var out types.OfflineSnapshot
	err := c.invoke(ctx, "FetchSnapshot", fetchSnapshotMethod, snapshotRequest{FacilityIDs: facilityIDs}, &out)
	return out, err
}
