package memory

import (
	"context"
	"testing"
	"time"

	"github.com/flowrelay/flowrelay/model"
	"github.com/flowrelay/flowrelay/util"
	"github.com/stretchr/testify/require"
)

func newStore() *memoryStore {
	return NewMemoryStore(util.NewJsonEncoderDecoder[model.FlowCacheRecord]())
}

func record(stateId string, flowId string, versionId string, queued ...model.QueuedRequest) *model.FlowCacheRecord {
	return &model.FlowCacheRecord{
		Identity: model.FlowIdentity{
			TenantId:      "tenant-1",
			FlowId:        flowId,
			FlowVersionId: versionId,
			StateId:       stateId,
		},
		QueuedRequests: queued,
	}
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	require.NoError(t, store.Save(ctx, record("s1", "f1", "v1")))

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, "f1", loaded.Identity.FlowId)

	missing, err := store.Load(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, store.Remove(ctx, "s1"))
	loaded, err = store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestCleanSaveRemovesStaleSiblings(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	require.NoError(t, store.Save(ctx, record("old-state", "f1", "v1")))
	require.NoError(t, store.Save(ctx, record("other-flow", "f2", "v1")))

	// a clean record for the same flow version evicts the stale sibling
	require.NoError(t, store.Save(ctx, record("new-state", "f1", "v1")))

	stale, err := store.Load(ctx, "old-state")
	require.NoError(t, err)
	require.Nil(t, stale)

	kept, err := store.Load(ctx, "other-flow")
	require.NoError(t, err)
	require.NotNil(t, kept)
}

func TestCleanupNeverDeletesQueuedWork(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	withWork := record("busy-state", "f1", "v1", model.QueuedRequest{Id: "pending"})
	require.NoError(t, store.Save(ctx, withWork))

	require.NoError(t, store.Save(ctx, record("new-state", "f1", "v1")))

	kept, err := store.Load(ctx, "busy-state")
	require.NoError(t, err)
	require.NotNil(t, kept)
	require.Len(t, kept.QueuedRequests, 1)
}

func TestQueuedSaveDoesNotRunCleanup(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	require.NoError(t, store.Save(ctx, record("old-state", "f1", "v1")))
	require.NoError(t, store.Save(ctx, record("new-state", "f1", "v1", model.QueuedRequest{Id: "q1"})))

	kept, err := store.Load(ctx, "old-state")
	require.NoError(t, err)
	require.NotNil(t, kept)
}

func TestSaveMergesConcurrentlyAppendedEntries(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	// stored copy saw an extra entry appended after the snapshot was taken
	stored := record("s1", "f1", "v1",
		model.QueuedRequest{Id: "a"}, model.QueuedRequest{Id: "b"}, model.QueuedRequest{Id: "c"})
	require.NoError(t, store.Save(ctx, stored))

	snapshot := record("s1", "f1", "v1",
		model.QueuedRequest{Id: "a"}, model.QueuedRequest{Id: "b"})
	require.NoError(t, store.Save(ctx, snapshot))

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, loaded.QueuedRequests, 3)
	require.Equal(t, "c", loaded.QueuedRequests[2].Id)
}

func TestLoadLatestForFlow(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	require.NoError(t, store.Save(ctx, record("s1", "f1", "v1", model.QueuedRequest{Id: "q1"})))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, store.Save(ctx, record("s2", "f1", "v1", model.QueuedRequest{Id: "q2"})))
	require.NoError(t, store.Save(ctx, record("s3", "f2", "v1")))

	latest, err := store.LoadLatestForFlow(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, "s2", latest.Identity.StateId)

	none, err := store.LoadLatestForFlow(ctx, "unknown")
	require.NoError(t, err)
	require.Nil(t, none)
}
