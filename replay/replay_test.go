package replay

import (
	"context"
	"errors"
	"testing"

	"github.com/flowrelay/flowrelay/cache"
	"github.com/flowrelay/flowrelay/model"
	"github.com/flowrelay/flowrelay/network"
	"github.com/flowrelay/flowrelay/persistence/memory"
	"github.com/flowrelay/flowrelay/reconcile"
	"github.com/flowrelay/flowrelay/service"
	"github.com/flowrelay/flowrelay/util"
	"github.com/stretchr/testify/require"
)

type scriptedCall struct {
	resp *model.InvokeResponse
	err  error
}

type fakeEngine struct {
	calls     []scriptedCall
	invoked   []model.InvokeRequest
	uploaded  []model.InvokeRequest
	joinCalls int
}

func (f *fakeEngine) next() scriptedCall {
	if len(f.calls) == 0 {
		return scriptedCall{resp: &model.InvokeResponse{InvokeType: model.RESPONSE_FORWARD}}
	}
	call := f.calls[0]
	f.calls = f.calls[1:]
	return call
}

func (f *fakeEngine) Invoke(ctx context.Context, req *model.InvokeRequest, auth service.Auth) (*model.InvokeResponse, error) {
	f.invoked = append(f.invoked, *req)
	call := f.next()
	return call.resp, call.err
}

func (f *fakeEngine) UploadFiles(ctx context.Context, files []model.FileUpload, req *model.InvokeRequest, auth service.Auth, onProgress service.ProgressFunc) (*model.InvokeResponse, error) {
	f.uploaded = append(f.uploaded, *req)
	if onProgress != nil {
		onProgress(100)
	}
	call := f.next()
	return call.resp, call.err
}

func (f *fakeEngine) JoinWithRetry(ctx context.Context, stateId string, auth service.Auth) (*model.InvokeResponse, error) {
	f.joinCalls++
	return &model.InvokeResponse{InvokeType: model.RESPONSE_FORWARD, StateId: stateId}, nil
}

type fakeStateValues struct{}

func (fakeStateValues) GetStateValues(ctx context.Context, stateId string, valueId string, auth service.Auth) (*model.StateValuesResponse, error) {
	return &model.StateValuesResponse{}, nil
}

func forward(stateId string, token string) scriptedCall {
	return scriptedCall{resp: &model.InvokeResponse{
		InvokeType: model.RESPONSE_FORWARD, StateId: stateId, StateToken: token,
	}}
}

func notAllowed() scriptedCall {
	return scriptedCall{resp: &model.InvokeResponse{InvokeType: model.RESPONSE_NOT_ALLOWED}}
}

func newFixture(engine *fakeEngine, hooks Hooks) (*Replayer, *cache.FlowCache, *network.Store) {
	store := memory.NewMemoryStore(util.NewJsonEncoderDecoder[model.FlowCacheRecord]())
	fc := cache.New(model.FlowIdentity{
		TenantId: "tenant-1", FlowId: "f1", FlowVersionId: "v1", StateId: "s1",
	}, store)
	netStore := network.NewStore()
	rec := reconcile.NewReconciler(fc, fakeStateValues{})
	return NewReplayer(fc, engine, rec, netStore, hooks), fc, netStore
}

func queuedInvoke(id string) model.QueuedRequest {
	return model.QueuedRequest{
		Id:      id,
		Request: model.InvokeRequest{InvokeType: model.INVOKE_TYPE_INVOKE},
	}
}

func TestReplayAllDrainsQueueInOrder(t *testing.T) {
	engine := &fakeEngine{calls: []scriptedCall{forward("s2", "t2"), forward("s3", "t3")}}
	var done []string
	replayer, fc, netStore := newFixture(engine, Hooks{
		OnReplayDone: func(req model.QueuedRequest, resp *model.InvokeResponse) {
			done = append(done, req.Id)
		},
	})
	fc.AppendRequest(queuedInvoke("a"))
	fc.AppendRequest(queuedInvoke("b"))

	require.NoError(t, replayer.ReplayAll(context.Background(), service.Auth{}))
	require.Empty(t, fc.GetRequests())
	require.Equal(t, []string{"a", "b"}, done)
	require.Equal(t, "s3", fc.ServerState().StateId)
	require.Equal(t, "t3", fc.ServerState().StateToken)
	require.False(t, netStore.State().IsReplaying)
}

func TestReplayUsesLatestServerState(t *testing.T) {
	engine := &fakeEngine{calls: []scriptedCall{forward("s2", "t2"), forward("s3", "t3")}}
	replayer, fc, _ := newFixture(engine, Hooks{})
	fc.SetServerState("s1", "t1")
	fc.AppendRequest(queuedInvoke("a"))
	fc.AppendRequest(queuedInvoke("b"))

	require.NoError(t, replayer.ReplayAll(context.Background(), service.Auth{}))
	require.Len(t, engine.invoked, 2)
	require.Equal(t, "s1", engine.invoked[0].StateId)
	// the second submit carries the state the first reply moved us to
	require.Equal(t, "s2", engine.invoked[1].StateId)
	require.Equal(t, "t2", engine.invoked[1].StateToken)
}

func TestNotAllowedCancelsPassAndKeepsQueue(t *testing.T) {
	engine := &fakeEngine{calls: []scriptedCall{notAllowed()}}
	var cancelled error
	replayer, fc, _ := newFixture(engine, Hooks{
		OnCancelReplay: func(reason error) { cancelled = reason },
	})
	fc.AppendRequest(queuedInvoke("a"))

	err := replayer.ReplayAll(context.Background(), service.Auth{})
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorIs(t, cancelled, ErrUnauthorized)
	require.Len(t, fc.GetRequests(), 1, "queue must be preserved intact")
	require.Equal(t, 1, engine.joinCalls, "a session rejoin must be triggered")
}

func TestFailedRequestStaysQueued(t *testing.T) {
	engine := &fakeEngine{calls: []scriptedCall{{err: errors.New("connection refused")}}}
	var failed []string
	replayer, fc, _ := newFixture(engine, Hooks{
		OnRequestFailed: func(req model.QueuedRequest, err error) { failed = append(failed, req.Id) },
	})
	fc.AppendRequest(queuedInvoke("a"))
	fc.AppendRequest(queuedInvoke("b"))

	err := replayer.ReplayAll(context.Background(), service.Auth{})
	require.Error(t, err)
	require.Equal(t, []string{"a"}, failed)
	require.Len(t, fc.GetRequests(), 2)
}

func TestFileRequestsGoThroughUploadPath(t *testing.T) {
	engine := &fakeEngine{calls: []scriptedCall{forward("s2", "t2")}}
	var progress int
	replayer, fc, _ := newFixture(engine, Hooks{
		OnUploadProgress: func(percent int) { progress = percent },
	})
	fc.AppendRequest(model.QueuedRequest{
		Id: "file-1",
		Request: model.InvokeRequest{
			InvokeType: model.INVOKE_TYPE_FILE_DATA,
			Files:      []model.FileUpload{{Name: "report.pdf", Content: []byte("x")}},
		},
	})

	require.NoError(t, replayer.ReplayAll(context.Background(), service.Auth{}))
	require.Empty(t, engine.invoked)
	require.Len(t, engine.uploaded, 1)
	require.Equal(t, 100, progress)
}

func TestReconciliationCompletesBeforeRemoval(t *testing.T) {
	engine := &fakeEngine{calls: []scriptedCall{forward("s2", "t2")}}
	replayer, fc, _ := newFixture(engine, Hooks{})

	queued := queuedInvoke("a")
	queued.AssocData = &model.AssocData{OfflineId: "off-1", ValueId: "v", TypeElementId: "t"}
	fc.AppendRequest(queued)

	checker := &queuePresenceChecker{fc: fc, wantId: "a"}
	replayer.reconciler = reconcile.NewReconciler(fc, checker)

	require.NoError(t, replayer.ReplayAll(context.Background(), service.Auth{}))
	require.True(t, checker.sawQueued, "the completed request must still be queued while reconciling")
	require.Empty(t, fc.GetRequests())
}

type queuePresenceChecker struct {
	fc        *cache.FlowCache
	wantId    string
	sawQueued bool
}

func (q *queuePresenceChecker) GetStateValues(ctx context.Context, stateId string, valueId string, auth service.Auth) (*model.StateValuesResponse, error) {
	queue := q.fc.GetRequests()
	if len(queue) > 0 && queue[0].Id == q.wantId {
		q.sawQueued = true
	}
	return &model.StateValuesResponse{}, nil
}

func TestConcurrentPassIsRejected(t *testing.T) {
	engine := &fakeEngine{}
	replayer, fc, _ := newFixture(engine, Hooks{})
	fc.AppendRequest(queuedInvoke("a"))

	replayer.inProgress.Store(true)
	err := replayer.ReplayAll(context.Background(), service.Auth{})
	require.ErrorIs(t, err, ErrReplayInProgress)
	require.Len(t, fc.GetRequests(), 1)
}

func TestCancellationLeavesQueueUntouched(t *testing.T) {
	engine := &fakeEngine{}
	replayer, fc, _ := newFixture(engine, Hooks{})
	fc.AppendRequest(queuedInvoke("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := replayer.ReplayAll(ctx, service.Auth{})
	require.ErrorIs(t, err, ErrCancelled)
	require.Len(t, fc.GetRequests(), 1)
	require.Empty(t, engine.invoked)
}

func TestEmptyQueueIsANoop(t *testing.T) {
	engine := &fakeEngine{}
	replayer, _, _ := newFixture(engine, Hooks{})
	require.NoError(t, replayer.ReplayAll(context.Background(), service.Auth{}))
	require.Empty(t, engine.invoked)
}
