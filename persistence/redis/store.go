package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowrelay/flowrelay/logger"
	"github.com/flowrelay/flowrelay/model"
	"github.com/flowrelay/flowrelay/persistence"
	"github.com/flowrelay/flowrelay/util"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

var _ persistence.Store = new(redisStore)

type redisStore struct {
	redisClient    rd.UniversalClient
	namespace      string
	encoderDecoder util.EncoderDecoder[model.FlowCacheRecord]
}

func NewRedisStore(conf Config, encoderDecoder util.EncoderDecoder[model.FlowCacheRecord]) *redisStore {
	redisClient := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:    conf.Addrs,
		PoolSize: conf.PoolSize,
		Password: conf.Password,
	})
	return &redisStore{
		redisClient:    redisClient,
		namespace:      conf.Namespace,
		encoderDecoder: encoderDecoder,
	}
}

func (rs *redisStore) getNamespaceKey(args ...string) string {
	return fmt.Sprintf("%s:%s", rs.namespace, strings.Join(args, ":"))
}

func (rs *redisStore) Load(ctx context.Context, stateId string) (*model.FlowCacheRecord, error) {
	key := rs.getNamespaceKey(persistence.Key(stateId))
	data, err := rs.redisClient.Get(ctx, key).Result()
	if errors.Is(err, rd.Nil) {
		return nil, nil
	}
	if err != nil {
		logger.Error("error in loading cache record", zap.String("stateId", stateId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	record, err := rs.encoderDecoder.Decode([]byte(data))
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return record, nil
}

func (rs *redisStore) LoadLatestForFlow(ctx context.Context, flowId string) (*model.FlowCacheRecord, error) {
	var latest *model.FlowCacheRecord
	err := rs.iterate(ctx, func(record *model.FlowCacheRecord) {
		if record.Identity.FlowId != flowId {
			return
		}
		if latest == nil || record.CachedAtMillis > latest.CachedAtMillis {
			latest = record
		}
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

func (rs *redisStore) Save(ctx context.Context, record *model.FlowCacheRecord) error {
	toWrite := record.Clone()
	toWrite.CachedAtMillis = time.Now().UnixMilli()
	if toWrite.HasQueuedWork() {
		if existing, err := rs.Load(ctx, toWrite.Identity.StateId); err == nil && existing != nil {
			toWrite.QueuedRequests = persistence.MergeQueues(existing.QueuedRequests, toWrite.QueuedRequests)
		}
	} else {
		rs.cleanupStaleRecords(ctx, toWrite)
	}
	data, err := rs.encoderDecoder.Encode(*toWrite)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	key := rs.getNamespaceKey(persistence.Key(toWrite.Identity.StateId))
	if err := rs.redisClient.Set(ctx, key, string(data), 0).Err(); err != nil {
		logger.Error("error in saving cache record", zap.String("stateId", toWrite.Identity.StateId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rs *redisStore) Remove(ctx context.Context, stateId string) error {
	key := rs.getNamespaceKey(persistence.Key(stateId))
	if err := rs.redisClient.Del(ctx, key).Err(); err != nil {
		logger.Error("error in removing cache record", zap.String("stateId", stateId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

// cleanupStaleRecords drops prior sessions of the same flow version before
// a clean record is written. Deletion failures are logged and skipped; the
// save itself must not be blocked by cleanup.
func (rs *redisStore) cleanupStaleRecords(ctx context.Context, record *model.FlowCacheRecord) {
	err := rs.iterate(ctx, func(other *model.FlowCacheRecord) {
		if other.Identity.StateId == record.Identity.StateId {
			return
		}
		if other.Identity.FlowId != record.Identity.FlowId ||
			other.Identity.FlowVersionId != record.Identity.FlowVersionId {
			return
		}
		if other.HasQueuedWork() {
			return
		}
		key := rs.getNamespaceKey(persistence.Key(other.Identity.StateId))
		if err := rs.redisClient.Del(ctx, key).Err(); err != nil {
			logger.Error("error in deleting stale cache record", zap.String("stateId", other.Identity.StateId), zap.Error(err))
		}
	})
	if err != nil {
		logger.Error("stale record cleanup scan failed", zap.Error(err))
	}
}

func (rs *redisStore) iterate(ctx context.Context, visit func(*model.FlowCacheRecord)) error {
	pattern := rs.getNamespaceKey(persistence.KEY_PREFIX + "*")
	iter := rs.redisClient.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		data, err := rs.redisClient.Get(ctx, iter.Val()).Result()
		if errors.Is(err, rd.Nil) {
			continue
		}
		if err != nil {
			logger.Error("error in reading cache record during scan", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		record, err := rs.encoderDecoder.Decode([]byte(data))
		if err != nil {
			logger.Error("skipping undecodable cache record", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		visit(record)
	}
	if err := iter.Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
