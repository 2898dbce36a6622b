package network

// State is the ephemeral network/offline status consumed by presentational
// layers. It is never persisted.
type State struct {
	HasNetwork      bool `json:"hasNetwork"`
	IsOffline       bool `json:"isOffline"`
	IsReplaying     bool `json:"isReplaying"`
	CachingProgress int  `json:"cachingProgress"`
}

type ActionType string

const HAS_NETWORK ActionType = "HAS_NETWORK"
const HAS_NO_NETWORK ActionType = "HAS_NO_NETWORK"
const IS_OFFLINE ActionType = "IS_OFFLINE"
const IS_ONLINE ActionType = "IS_ONLINE"
const IS_REPLAYING ActionType = "IS_REPLAYING"
const CACHE_PROGRESS ActionType = "CACHE_PROGRESS"

type Action struct {
	Type ActionType
	// HasNetwork is the payload of IS_OFFLINE: connectivity at the moment
	// of deliberately entering offline mode.
	HasNetwork bool
	Replaying  bool
	Progress   int
}

func HasNetworkAction() Action {
	return Action{Type: HAS_NETWORK}
}

func HasNoNetworkAction() Action {
	return Action{Type: HAS_NO_NETWORK}
}

func IsOfflineAction(hasNetwork bool) Action {
	return Action{Type: IS_OFFLINE, HasNetwork: hasNetwork}
}

func IsOnlineAction() Action {
	return Action{Type: IS_ONLINE}
}

func IsReplayingAction(replaying bool) Action {
	return Action{Type: IS_REPLAYING, Replaying: replaying}
}

func CacheProgressAction(progress int) Action {
	return Action{Type: CACHE_PROGRESS, Progress: progress}
}

// Reduce is a pure transition function. Regaining network does not by
// itself clear offline mode: cached work may still be pending, so offline
// persists until an explicit IS_ONLINE once the queue is confirmed empty.
func Reduce(state State, action Action) State {
	next := state
	switch action.Type {
	case HAS_NETWORK:
		next.HasNetwork = true
	case HAS_NO_NETWORK:
		next.HasNetwork = false
		next.IsOffline = true
	case IS_OFFLINE:
		next.IsOffline = true
		next.HasNetwork = action.HasNetwork
	case IS_ONLINE:
		next.IsOffline = false
		next.HasNetwork = true
	case IS_REPLAYING:
		next.IsReplaying = action.Replaying
	case CACHE_PROGRESS:
		next.CachingProgress = action.Progress
	}
	return next
}
