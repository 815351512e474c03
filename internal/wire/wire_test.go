package wire_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	"github.com/BrandonDHaskell/campusid/internal/wire"
)

func TestStruct_ValidationRequest(t *testing.T) {
	in := types.ValidationRequest{
		QRPayload:  "aa:bb:cc",
		FacilityID: "gym",
		Device:     types.DeviceInfo{ScannerType: "turnstile", SessionID: "s-1"},
	}
	s, err := wire.ToStruct(in)
	require.NoError(t, err)
	assert.Equal(t, "gym", s.Fields["facilityId"].GetStringValue())

	var out types.ValidationRequest
	require.NoError(t, wire.FromStruct(s, &out))
	assert.Equal(t, in, out)
}

func TestStruct_TimesSurvive(t *testing.T) {
	at := time.Date(2026, 3, 2, 8, 0, 0, 123000000, time.UTC)
	in := types.AccessAttempt{ID: "a1", SubjectID: "s1", FacilityID: "gym", OccurredAt: at, Result: types.ResultDenied, Reason: types.ReasonExpired}

	s, err := wire.ToStruct(in)
	require.NoError(t, err)
	var out types.AccessAttempt
	require.NoError(t, wire.FromStruct(s, &out))
	assert.True(t, at.Equal(out.OccurredAt))
	assert.Equal(t, in.DedupKey(), out.DedupKey())
}

func TestStruct_RejectsNonObject(t *testing.T) {
	_, err := wire.ToStruct([]string{"a"})
	assert.Error(t, err)

	var out types.ValidationRequest
	require.NoError(t, wire.FromStruct(nil, &out))
	assert.Empty(t, out.FacilityID)
}

func TestList_RoundTrip(t *testing.T) {
	in := []types.AccessAttempt{{ID: "a1"}, {ID: "a2"}}
	l, err := wire.ToList(in)
	require.NoError(t, err)
	require.Len(t, l.Values, 2)

	out, err := wire.FromList[types.AccessAttempt](l)
	require.NoError(t, err)
	assert.Equal(t, "a2", out[1].ID)

	bad := &structpb.ListValue{Values: []*structpb.Value{structpb.NewStringValue("x")}}
	_, err = wire.FromList[types.AccessAttempt](bad)
	assert.Error(t, err)
}
