package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/service"
	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

func queuedAttempt(subject string, at time.Time) types.AccessAttempt {
	return types.AccessAttempt{
		ID:         "a-" + subject,
		SubjectID:  subject,
		FacilityID: "gym",
		Result:     types.ResultGranted,
		Reason:     types.ReasonGranted,
		Device:     types.DeviceInfo{ScannerID: "scanner-1", SessionID: "sess-1"},
		OccurredAt: at,
		Offline:    true,
	}
}

// ── Merge ───────────────────────────────────────────────────────────────────

func TestMerge_DuplicateReportedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := queuedAttempt("s1", monday)

	first := f.reconciler.Merge(ctx, []types.AccessAttempt{a})
	assert.Len(t, first.Successful, 1)
	assert.Empty(t, first.Failed)

	a.ID = "a-resent"
	second := f.reconciler.Merge(ctx, []types.AccessAttempt{a})
	assert.Empty(t, second.Successful)
	require.Len(t, second.Failed, 1)
	assert.Equal(t, service.SyncDuplicate, second.Failed[0].Reason)

	assert.Len(t, f.accessLog.Events(), 1)
}

func TestMerge_MalformedDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t)

	noSession := queuedAttempt("s2", monday)
	noSession.Device.SessionID = ""
	noFacility := queuedAttempt("s3", monday)
	noFacility.FacilityID = ""
	badResult := queuedAttempt("s4", monday)
	badResult.Result = "maybe"
	noSubject := queuedAttempt("", monday)
	noSubject.Result, noSubject.Reason = types.ResultDenied, types.ReasonNoPermission
	unreadable := queuedAttempt("", monday.Add(time.Second))
	unreadable.ID = ""
	unreadable.Result, unreadable.Reason = types.ResultDenied, types.ReasonInvalidQR

	res := f.reconciler.Merge(context.Background(), []types.AccessAttempt{
		queuedAttempt("s1", monday),
		noSession,
		noFacility,
		badResult,
		noSubject,
		unreadable,
	})

	require.Len(t, res.Successful, 2)
	assert.Equal(t, 0, res.Successful[0].Index)
	assert.Equal(t, 5, res.Successful[1].Index)
	assert.NotEmpty(t, res.Successful[1].AttemptID, "missing ids are assigned")

	require.Len(t, res.Failed, 4)
	for _, fe := range res.Failed {
		assert.Equal(t, service.SyncMalformed, fe.Reason)
	}
}

func TestMerge_EscalatesTamper(t *testing.T) {
	f := newFixture(t)
	a := queuedAttempt("s1", monday)
	a.Result, a.Reason = types.ResultDenied, types.ReasonTamperDetected
	a.SecurityFlags = []types.SecurityFlag{types.FlagOffline, types.FlagTamperDetected}

	res := f.reconciler.Merge(context.Background(), []types.AccessAttempt{a})
	require.Len(t, res.Successful, 1)

	sigs := f.sink.Signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, types.SignalSecurityIncident, sigs[0].Kind)
	assert.True(t, sigs[0].Offline)

	// A duplicate is not escalated again.
	f.reconciler.Merge(context.Background(), []types.AccessAttempt{a})
	assert.Len(t, f.sink.Signals(), 1)
}

func TestMerge_CountsOfflineDenials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch := make([]types.AccessAttempt, 0, 5)
	for i := 0; i < 5; i++ {
		a := queuedAttempt("s1", monday.Add(time.Duration(i)*time.Second))
		a.ID = ""
		a.FacilityID = "research-lab"
		a.Result, a.Reason = types.ResultDenied, types.ReasonNoPermission
		batch = append(batch, a)
	}
	res := f.reconciler.Merge(ctx, batch)
	require.Len(t, res.Successful, 5)

	st, err := f.guard.CheckLockout(ctx, "s1", "research-lab", monday.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, st.LockedOut)
	assert.Equal(t, 1, signalsOf(f.sink, types.SignalSecurityIncident, types.CauseLockout))

	// Resending the batch is deduplicated and not counted again.
	again := f.reconciler.Merge(ctx, batch)
	assert.Len(t, again.Failed, 5)
	assert.Equal(t, 1, signalsOf(f.sink, types.SignalSecurityIncident, types.CauseLockout))
}

func TestMerge_KeepsLiveDecisionsLive(t *testing.T) {
	f := newFixture(t)
	live := queuedAttempt("s1", monday)
	live.Offline = false

	res := f.reconciler.Merge(context.Background(), []types.AccessAttempt{live})
	require.Len(t, res.Successful, 1)

	events := f.accessLog.Events()
	require.Len(t, events, 1)
	assert.False(t, events[0].Offline)
}

type flakyLog struct {
	store.AccessLogStore
	failSubject string
}

func (l flakyLog) AppendIfAbsent(ctx context.Context, a types.AccessAttempt) (bool, error) {
	if a.SubjectID == l.failSubject {
		return false, errors.New("timeout")
	}
	return l.AccessLogStore.AppendIfAbsent(ctx, a)
}

func TestMerge_StoreErrorIsPerEntry(t *testing.T) {
	f := newFixture(t)
	r := service.NewSyncReconciler(flakyLog{AccessLogStore: f.accessLog, failSubject: "s2"}, f.guard, service.RetryPolicy{}, nil, zap.NewNop())

	res := r.Merge(context.Background(), []types.AccessAttempt{
		queuedAttempt("s1", monday),
		queuedAttempt("s2", monday),
		queuedAttempt("s3", monday),
	})
	assert.Len(t, res.Successful, 2)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 1, res.Failed[0].Index)
	assert.Equal(t, service.SyncStoreError, res.Failed[0].Reason)
}

// ── QueueDrainer ────────────────────────────────────────────────────────────

func TestQueueDrainer_DrainOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Already merged by another path.
	dup := queuedAttempt("s1", monday)
	_, err := f.accessLog.AppendIfAbsent(ctx, dup)
	require.NoError(t, err)

	bad := queuedAttempt("s3", monday)
	bad.Device.SessionID = ""
	for _, a := range []types.AccessAttempt{dup, queuedAttempt("s2", monday), bad} {
		_, err := f.queue.Append(ctx, a)
		require.NoError(t, err)
	}

	d := service.NewQueueDrainer(f.queue, service.ReconcilerClient{Reconciler: f.reconciler}, service.DrainerConfig{}, nil, zap.NewNop())
	n, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	depth, err := f.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	statuses := map[string]store.QueueStatus{}
	for _, e := range f.queue.Entries() {
		statuses[e.Attempt.SubjectID] = e.Status
	}
	assert.Equal(t, store.QueueSynced, statuses["s1"])
	assert.Equal(t, store.QueueSynced, statuses["s2"])
	assert.Equal(t, store.QueueRejected, statuses["s3"])

	n, err = d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type downClient struct{}

func (downClient) Sync(context.Context, []types.AccessAttempt) (types.SyncResult, error) {
	return types.SyncResult{}, errors.New("unreachable")
}

func TestQueueDrainer_KeepsEntriesWhenUnreachable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.queue.Append(ctx, queuedAttempt("s1", monday))
	require.NoError(t, err)

	d := service.NewQueueDrainer(f.queue, downClient{}, service.DrainerConfig{}, nil, zap.NewNop())
	_, err = d.DrainOnce(ctx)
	assert.Error(t, err)

	depth, err := f.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestQueueDrainer_StartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.queue.Append(ctx, queuedAttempt("s1", monday))
	require.NoError(t, err)

	d := service.NewQueueDrainer(f.queue, service.ReconcilerClient{Reconciler: f.reconciler},
		service.DrainerConfig{Interval: 10 * time.Millisecond}, nil, zap.NewNop())
	d.Start(ctx)

	require.Eventually(t, func() bool {
		n, err := f.queue.Depth(ctx)
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)

	d.Stop()
	d.Stop()
}
