package persistence

import (
	"context"
	"fmt"

	"github.com/flowrelay/flowrelay/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

const KEY_PREFIX string = "offline-"

func Key(stateId string) string {
	return KEY_PREFIX + stateId
}

// Store persists one FlowCacheRecord per active flow state.
//
// Save semantics: a record with no queued work is written wholesale and
// triggers a best-effort cleanup of stale sibling records for the same
// flowId+flowVersionId. A record that still holds queued work is upserted
// so that queue entries appended after the snapshot was taken are never
// clobbered (see MergeQueues).
type Store interface {
	// Load returns nil, nil on a cache miss.
	Load(ctx context.Context, stateId string) (*model.FlowCacheRecord, error)

	// LoadLatestForFlow scans all stored records and returns the most
	// recently saved one for the flow, or nil. Supports resuming an
	// offline session across a hard reload before the new state id is
	// known. O(n) in stored flows, which stays small on one device.
	LoadLatestForFlow(ctx context.Context, flowId string) (*model.FlowCacheRecord, error)

	Save(ctx context.Context, record *model.FlowCacheRecord) error

	Remove(ctx context.Context, stateId string) error
}

// MergeQueues resolves a concurrent append racing an asynchronous save.
// When the incoming snapshot's queue is a strict prefix of the stored
// queue (matched by entry id), entries were appended after the snapshot
// was taken and the stored, longer queue wins. In every other case the
// incoming queue is the newer truth (entries were replayed, removed or
// rewritten) and replaces the stored one.
func MergeQueues(stored []model.QueuedRequest, incoming []model.QueuedRequest) []model.QueuedRequest {
	if len(incoming) == 0 || len(stored) <= len(incoming) {
		return incoming
	}
	for i := range incoming {
		if stored[i].Id != incoming[i].Id {
			return incoming
		}
	}
	merged := make([]model.QueuedRequest, 0, len(stored))
	merged = append(merged, incoming...)
	merged = append(merged, stored[len(incoming):]...)
	return merged
}
