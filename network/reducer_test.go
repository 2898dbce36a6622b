package network

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReduceTransitions(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"losing network enters offline":        testHasNoNetwork,
		"regaining network keeps offline mode": testHasNetworkKeepsOffline,
		"deliberate offline keeps payload":     testIsOfflinePayload,
		"online clears offline":                testIsOnline,
		"replaying flag follows payload":       testIsReplaying,
		"cache progress is recorded":           testCacheProgress,
	} {
		t.Run(scenario, fn)
	}
}

func testHasNoNetwork(t *testing.T) {
	before := State{HasNetwork: true, IsOffline: false}
	after := Reduce(before, HasNoNetworkAction())
	require.Equal(t, State{HasNetwork: false, IsOffline: true}, after)
}

func testHasNetworkKeepsOffline(t *testing.T) {
	before := State{HasNetwork: false, IsOffline: true}
	after := Reduce(before, HasNetworkAction())
	require.True(t, after.HasNetwork)
	// cached work may still be pending, so offline persists until an
	// explicit IS_ONLINE
	require.True(t, after.IsOffline)
}

func testIsOfflinePayload(t *testing.T) {
	after := Reduce(State{HasNetwork: true}, IsOfflineAction(true))
	require.True(t, after.IsOffline)
	require.True(t, after.HasNetwork)

	after = Reduce(State{HasNetwork: true}, IsOfflineAction(false))
	require.True(t, after.IsOffline)
	require.False(t, after.HasNetwork)
}

func testIsOnline(t *testing.T) {
	after := Reduce(State{HasNetwork: false, IsOffline: true}, IsOnlineAction())
	require.Equal(t, State{HasNetwork: true, IsOffline: false}, after)
}

func testIsReplaying(t *testing.T) {
	after := Reduce(State{}, IsReplayingAction(true))
	require.True(t, after.IsReplaying)
	after = Reduce(after, IsReplayingAction(false))
	require.False(t, after.IsReplaying)
}

func testCacheProgress(t *testing.T) {
	after := Reduce(State{}, CacheProgressAction(42))
	require.Equal(t, 42, after.CachingProgress)
}

func TestReduceIsPure(t *testing.T) {
	input := State{HasNetwork: true, IsOffline: true, CachingProgress: 10}
	snapshot := input
	actions := []Action{
		HasNetworkAction(), HasNoNetworkAction(), IsOfflineAction(true),
		IsOnlineAction(), IsReplayingAction(true), CacheProgressAction(99),
	}
	for _, action := range actions {
		first := Reduce(input, action)
		second := Reduce(input, action)
		require.Equal(t, first, second)
		require.Equal(t, snapshot, input, "reducer must not mutate its input")
	}
}

func TestStoreDispatchNotifiesSubscribers(t *testing.T) {
	store := NewStore()
	var seen []State
	store.Subscribe(func(s State) {
		seen = append(seen, s)
	})

	store.Dispatch(HasNoNetworkAction())
	store.Dispatch(HasNoNetworkAction()) // no change, no notification
	store.Dispatch(IsReplayingAction(true))

	require.Len(t, seen, 2)
	require.True(t, seen[0].IsOffline)
	require.True(t, seen[1].IsReplaying)
	require.True(t, store.State().IsOffline)
}
