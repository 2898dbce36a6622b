package cache

import (
	"context"
	"sync"

	"github.com/flowrelay/flowrelay/logger"
	"github.com/flowrelay/flowrelay/model"
	"github.com/flowrelay/flowrelay/persistence"
	"go.uber.org/zap"
)

// FlowCache holds one flow's queued requests and object-data caches in
// memory. It is a session-scoped controller: each active flow gets its own
// instance, and the instance is the single writer for its record.
type FlowCache struct {
	mu          sync.Mutex
	identity    model.FlowIdentity
	serverState model.ServerState
	queue       []model.QueuedRequest
	objectData  map[string][]model.CachedObjectDataItem
	store       persistence.Store
}

func New(identity model.FlowIdentity, store persistence.Store) *FlowCache {
	return &FlowCache{
		identity:   identity,
		objectData: make(map[string][]model.CachedObjectDataItem),
		store:      store,
		serverState: model.ServerState{
			StateId: identity.StateId,
		},
	}
}

// Initialize seeds the cache from a previously persisted record, or leaves
// it empty for a brand-new flow.
func (fc *FlowCache) Initialize(record *model.FlowCacheRecord) {
	if record == nil {
		return
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	clone := record.Clone()
	fc.identity = clone.Identity
	fc.serverState = clone.ServerState
	fc.queue = clone.QueuedRequests
	if clone.ObjectDataCache != nil {
		fc.objectData = clone.ObjectDataCache
	}
}

func (fc *FlowCache) Identity() model.FlowIdentity {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.identity
}

func (fc *FlowCache) ServerState() model.ServerState {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.serverState
}

func (fc *FlowCache) SetServerState(stateId string, stateToken string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.serverState = model.ServerState{StateId: stateId, StateToken: stateToken}
	fc.identity.StateId = stateId
}

// CacheObjectData replaces the whole cached slice for a type element.
// A full dataset refresh supersedes prior contents, so last writer wins at
// type-element granularity.
func (fc *FlowCache) CacheObjectData(records []model.CachedObjectDataItem, typeElementId string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	cloned := make([]model.CachedObjectDataItem, 0, len(records))
	for _, r := range records {
		cloned = append(cloned, *r.Clone())
	}
	fc.objectData[typeElementId] = cloned
}

func (fc *FlowCache) GetObjectData(typeElementId string) []model.CachedObjectDataItem {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return cloneItems(fc.objectData[typeElementId])
}

// PatchObjectDataCache replaces the entry whose objectData.internalId
// matches the update. Records are located by internal id, never by
// external id, and a miss leaves the cache untouched: the patch is
// targeted, not an insert.
func (fc *FlowCache) PatchObjectDataCache(updated model.CachedObjectDataItem, typeElementId string) []model.CachedObjectDataItem {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	items := fc.objectData[typeElementId]
	for i := range items {
		if items[i].ObjectData.InternalId == updated.ObjectData.InternalId {
			items[i] = *updated.Clone()
			break
		}
	}
	return cloneItems(items)
}

// SetCurrentRequestOfflineId links the most recently appended request to an
// object created offline. Only the request that just triggered the offline
// creation awaits reconciliation; earlier entries already have, or never
// need, this linkage.
func (fc *FlowCache) SetCurrentRequestOfflineId(offlineId string, valueId string, typeElementId string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.queue) == 0 {
		logger.Warn("no queued request to associate offline id with", zap.String("offlineId", offlineId))
		return
	}
	fc.queue[len(fc.queue)-1].AssocData = &model.AssocData{
		OfflineId:     offlineId,
		ValueId:       valueId,
		TypeElementId: typeElementId,
	}
}

func (fc *FlowCache) GetRequests() []model.QueuedRequest {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := make([]model.QueuedRequest, 0, len(fc.queue))
	for _, q := range fc.queue {
		out = append(out, *q.Clone())
	}
	return out
}

// AppendRequest pushes to the tail. It is the only mutator that grows the
// queue, which keeps the FIFO contract structural.
func (fc *FlowCache) AppendRequest(req model.QueuedRequest) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.queue = append(fc.queue, *req.Clone())
}

// RemoveRequest drops the entry with the given id, after a successful
// replay or an explicit user delete. Order of the remaining entries is
// preserved.
func (fc *FlowCache) RemoveRequest(id string) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for i := range fc.queue {
		if fc.queue[i].Id == id {
			fc.queue = append(fc.queue[:i], fc.queue[i+1:]...)
			return true
		}
	}
	return false
}

// ReplaceRequests swaps in a rewritten queue, used after reconciliation.
// It must never change queue length.
func (fc *FlowCache) ReplaceRequests(queue []model.QueuedRequest) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(queue) != len(fc.queue) {
		logger.Error("refusing queue replacement of different length",
			zap.Int("current", len(fc.queue)), zap.Int("replacement", len(queue)))
		return
	}
	replaced := make([]model.QueuedRequest, 0, len(queue))
	for _, q := range queue {
		replaced = append(replaced, *q.Clone())
	}
	fc.queue = replaced
}

// Record snapshots the cache as its durable form.
func (fc *FlowCache) Record() *model.FlowCacheRecord {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	record := &model.FlowCacheRecord{
		Identity:        fc.identity,
		ServerState:     fc.serverState,
		QueuedRequests:  fc.queue,
		ObjectDataCache: fc.objectData,
	}
	return record.Clone()
}

// Persist writes the current snapshot through to the durable store.
// Storage failures are logged and reported but must be treated as a cache
// miss by callers; durability is best effort.
func (fc *FlowCache) Persist(ctx context.Context) error {
	record := fc.Record()
	if err := fc.store.Save(ctx, record); err != nil {
		logger.Error("error persisting flow cache record",
			zap.String("stateId", record.Identity.StateId), zap.Error(err))
		return err
	}
	return nil
}

func cloneItems(items []model.CachedObjectDataItem) []model.CachedObjectDataItem {
	out := make([]model.CachedObjectDataItem, 0, len(items))
	for _, it := range items {
		out = append(out, *it.Clone())
	}
	return out
}
