package memory

import (
	"context"
	"strings"
	"time"

	"github.com/flowrelay/flowrelay/logger"
	"github.com/flowrelay/flowrelay/model"
	"github.com/flowrelay/flowrelay/persistence"
	"github.com/flowrelay/flowrelay/util"
	c "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

var _ persistence.Store = new(memoryStore)

// memoryStore keeps cache records in process memory. It is the driver for
// tests and demos and for hosts that accept losing the queue on restart.
type memoryStore struct {
	cache          *c.Cache
	encoderDecoder util.EncoderDecoder[model.FlowCacheRecord]
}

func NewMemoryStore(encoderDecoder util.EncoderDecoder[model.FlowCacheRecord]) *memoryStore {
	return &memoryStore{
		cache:          c.New(c.NoExpiration, 10*time.Minute),
		encoderDecoder: encoderDecoder,
	}
}

func (ms *memoryStore) Load(ctx context.Context, stateId string) (*model.FlowCacheRecord, error) {
	raw, found := ms.cache.Get(persistence.Key(stateId))
	if !found {
		return nil, nil
	}
	record, err := ms.decode(raw)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return record, nil
}

func (ms *memoryStore) LoadLatestForFlow(ctx context.Context, flowId string) (*model.FlowCacheRecord, error) {
	var latest *model.FlowCacheRecord
	for key, item := range ms.cache.Items() {
		if !strings.HasPrefix(key, persistence.KEY_PREFIX) {
			continue
		}
		record, err := ms.decode(item.Object)
		if err != nil {
			logger.Error("skipping undecodable cache record", zap.String("key", key), zap.Error(err))
			continue
		}
		if record.Identity.FlowId != flowId {
			continue
		}
		if latest == nil || record.CachedAtMillis > latest.CachedAtMillis {
			latest = record
		}
	}
	return latest, nil
}

func (ms *memoryStore) Save(ctx context.Context, record *model.FlowCacheRecord) error {
	toWrite := record.Clone()
	toWrite.CachedAtMillis = time.Now().UnixMilli()
	if toWrite.HasQueuedWork() {
		if existing, err := ms.Load(ctx, toWrite.Identity.StateId); err == nil && existing != nil {
			toWrite.QueuedRequests = persistence.MergeQueues(existing.QueuedRequests, toWrite.QueuedRequests)
		}
	} else {
		ms.cleanupStaleRecords(ctx, toWrite)
	}
	data, err := ms.encoderDecoder.Encode(*toWrite)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	ms.cache.Set(persistence.Key(toWrite.Identity.StateId), data, c.NoExpiration)
	return nil
}

func (ms *memoryStore) Remove(ctx context.Context, stateId string) error {
	ms.cache.Delete(persistence.Key(stateId))
	return nil
}

// cleanupStaleRecords drops prior sessions of the same flow version.
// Records that still hold undelivered work are never deleted. Failures are
// best-effort: a record that cannot be inspected is left alone.
func (ms *memoryStore) cleanupStaleRecords(ctx context.Context, record *model.FlowCacheRecord) {
	for key, item := range ms.cache.Items() {
		if !strings.HasPrefix(key, persistence.KEY_PREFIX) || key == persistence.Key(record.Identity.StateId) {
			continue
		}
		other, err := ms.decode(item.Object)
		if err != nil {
			continue
		}
		if other.Identity.FlowId != record.Identity.FlowId ||
			other.Identity.FlowVersionId != record.Identity.FlowVersionId {
			continue
		}
		if other.HasQueuedWork() {
			continue
		}
		ms.cache.Delete(key)
		logger.Debug("removed stale cache record", zap.String("stateId", other.Identity.StateId))
	}
}

func (ms *memoryStore) decode(raw any) (*model.FlowCacheRecord, error) {
	data, ok := raw.([]byte)
	if !ok {
		return nil, persistence.StorageLayerError{Message: "unexpected cache item type"}
	}
	return ms.encoderDecoder.Decode(data)
}
