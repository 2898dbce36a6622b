package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flowrelay/flowrelay/cache"
	"github.com/flowrelay/flowrelay/config"
	"github.com/flowrelay/flowrelay/logger"
	"github.com/flowrelay/flowrelay/metrics"
	"github.com/flowrelay/flowrelay/model"
	"github.com/flowrelay/flowrelay/network"
	"github.com/flowrelay/flowrelay/persistence"
	"github.com/flowrelay/flowrelay/persistence/memory"
	rd "github.com/flowrelay/flowrelay/persistence/redis"
	"github.com/flowrelay/flowrelay/reconcile"
	"github.com/flowrelay/flowrelay/replay"
	"github.com/flowrelay/flowrelay/service"
	"github.com/flowrelay/flowrelay/util"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrNoNetwork = errors.New("no network connectivity, sync is not possible")

// Core is the session-scoped controller tying the durable store, flow
// cache, replayer and network state together. One Core drives one active
// flow at a time; the explicit instance replaces any module-global flow
// context so multiple flows can be tested side by side.
type Core struct {
	Config config.Config

	store      persistence.Store
	flowCache  *cache.FlowCache
	client     *service.Client
	reconciler *reconcile.Reconciler
	replayer   *replay.Replayer
	netStore   *network.Store
	monitor    *network.Monitor
	persister  *util.Worker[*model.FlowCacheRecord]
	auth       service.Auth
	hooks      replay.Hooks
	wg         sync.WaitGroup

	cancelMu   sync.Mutex
	cancelSync context.CancelFunc
}

func New(conf config.Config, hooks replay.Hooks) (*Core, error) {
	c := &Core{
		Config: conf,
		hooks:  hooks,
		auth:   service.Auth{TenantId: conf.TenantId},
	}
	setup := []func() error{
		c.setupStore,
		c.setupClient,
		c.setupNetwork,
		c.setupPersister,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Core) setupStore() error {
	encDec := util.NewJsonEncoderDecoder[model.FlowCacheRecord]()
	switch c.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		c.store = rd.NewRedisStore(rd.Config{
			Addrs:     c.Config.RedisConfig.Addrs,
			Namespace: c.Config.RedisConfig.Namespace,
		}, encDec)
	default:
		c.store = memory.NewMemoryStore(encDec)
	}
	return nil
}

func (c *Core) setupClient() error {
	c.client = service.NewClient(service.Config{
		BaseUrl:      c.Config.EngineUrl,
		WaitInterval: time.Duration(c.Config.WaitIntervalSeconds) * time.Second,
		JoinInterval: time.Duration(c.Config.JoinIntervalSeconds) * time.Second,
	})
	return nil
}

func (c *Core) setupNetwork() error {
	c.netStore = network.NewStore()
	interval := time.Duration(c.Config.ProbeIntervalSeconds) * time.Second
	if interval == 0 {
		interval = 10 * time.Second
	}
	c.monitor = network.NewMonitor(c.netStore, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return c.client.Ping(ctx)
	}, interval, &c.wg)
	return nil
}

func (c *Core) setupPersister() error {
	capacity := c.Config.PersistWorkerCap
	if capacity == 0 {
		capacity = 64
	}
	c.persister = util.NewWorker[*model.FlowCacheRecord]("persist", &c.wg, func(record *model.FlowCacheRecord) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.store.Save(ctx, record); err != nil {
			metrics.StorageErrors.Inc()
			return err
		}
		return nil
	}, capacity)
	return nil
}

func (c *Core) Start() {
	c.persister.Start()
	c.monitor.Start()
}

func (c *Core) Shutdown() {
	c.monitor.Stop()
	c.persister.Stop()
	c.wg.Wait()
}

func (c *Core) NetworkStore() *network.Store {
	return c.netStore
}

func (c *Core) FlowCache() *cache.FlowCache {
	return c.flowCache
}

// QueuedRequests is safe to call before FlowInit; it answers an empty
// queue until a session exists.
func (c *Core) QueuedRequests() []model.QueuedRequest {
	if c.flowCache == nil {
		return nil
	}
	return c.flowCache.GetRequests()
}

func (c *Core) Client() *service.Client {
	return c.client
}

func (c *Core) Store() persistence.Store {
	return c.store
}

// FlowInit establishes the active flow session. A persisted record for the
// state id is adopted when present; when the state id is not yet known
// (hard reload), the most recent record for the flow id is scanned for.
// With a clean slate, the configured reference data is bulk-cached so the
// flow stays usable offline, reporting CACHE_PROGRESS as it loads.
func (c *Core) FlowInit(ctx context.Context, identity model.FlowIdentity, authToken string) error {
	c.auth = service.Auth{TenantId: identity.TenantId, AuthToken: authToken}
	c.flowCache = cache.New(identity, c.store)
	c.reconciler = reconcile.NewReconciler(c.flowCache, c.client)
	c.replayer = replay.NewReplayer(c.flowCache, c.client, c.reconciler, c.netStore, c.hooks)

	var record *model.FlowCacheRecord
	var err error
	if identity.StateId != "" {
		record, err = c.store.Load(ctx, identity.StateId)
	} else {
		record, err = c.store.LoadLatestForFlow(ctx, identity.FlowId)
	}
	if err != nil {
		// Treated as a cache miss: the device keeps working, durability
		// is best effort.
		metrics.StorageErrors.Inc()
		logger.Error("error loading cached flow record", zap.Error(err))
	}
	if record != nil {
		c.flowCache.Initialize(record)
		logger.Info("resumed cached flow session",
			zap.String("stateId", record.Identity.StateId),
			zap.Int("queuedRequests", len(record.QueuedRequests)))
		return nil
	}
	return c.primeObjectDataCache(ctx)
}

func (c *Core) primeObjectDataCache(ctx context.Context) error {
	types := c.Config.CachedTypeElements
	if len(types) == 0 {
		c.netStore.Dispatch(network.CacheProgressAction(100))
		return nil
	}
	for i, typeElementId := range types {
		resp, err := c.client.ObjectDataRequest(ctx, &model.ObjectDataRequest{TypeElementId: typeElementId}, c.auth)
		if err != nil {
			logger.Error("error caching reference data", zap.String("typeElementId", typeElementId), zap.Error(err))
			return err
		}
		items := make([]model.CachedObjectDataItem, 0, len(resp.ObjectData))
		for _, od := range resp.ObjectData {
			items = append(items, model.CachedObjectDataItem{ObjectData: od})
		}
		c.flowCache.CacheObjectData(items, typeElementId)
		progress := (i + 1) * 100 / len(types)
		c.netStore.Dispatch(network.CacheProgressAction(progress))
		metrics.CachingProgress.Set(float64(progress))
	}
	c.persistAsync()
	return nil
}

// Dispatch sends a user action to the engine, or queues it when the
// session is offline. A network failure on the live path flips the
// session offline and queues the request rather than losing it.
func (c *Core) Dispatch(ctx context.Context, req *model.InvokeRequest) (*model.InvokeResponse, bool, error) {
	state := c.netStore.State()
	if state.IsOffline {
		c.queueRequest(req)
		return nil, true, nil
	}

	resp, err := c.client.InvokeAndWait(ctx, req, c.auth)
	if err != nil {
		if isNetworkFailure(err) {
			logger.Warn("engine unreachable, entering offline mode", zap.Error(err))
			c.netStore.Dispatch(network.HasNoNetworkAction())
			c.queueRequest(req)
			return nil, true, nil
		}
		return nil, false, err
	}
	c.flowCache.SetServerState(resp.StateId, resp.StateToken)
	c.persistAsync()
	return resp, false, nil
}

func (c *Core) queueRequest(req *model.InvokeRequest) {
	queued := model.QueuedRequest{
		Id:      uuid.New().String(),
		Request: *req.Clone(),
	}
	c.flowCache.AppendRequest(queued)
	metrics.RequestsQueued.Inc()
	metrics.QueueDepth.Set(float64(len(c.flowCache.GetRequests())))
	c.persistAsync()
}

// CacheObjectData, GetObjectData, PatchObjectDataCache and
// SetCurrentRequestOfflineId pass through to the flow cache so hosts only
// hold a Core.

func (c *Core) CacheObjectData(records []model.CachedObjectDataItem, typeElementId string) {
	c.flowCache.CacheObjectData(records, typeElementId)
	c.persistAsync()
}

func (c *Core) GetObjectData(typeElementId string) []model.CachedObjectDataItem {
	return c.flowCache.GetObjectData(typeElementId)
}

func (c *Core) PatchObjectDataCache(updated model.CachedObjectDataItem, typeElementId string) []model.CachedObjectDataItem {
	snapshot := c.flowCache.PatchObjectDataCache(updated, typeElementId)
	c.persistAsync()
	return snapshot
}

func (c *Core) SetCurrentRequestOfflineId(offlineId string, valueId string, typeElementId string) {
	c.flowCache.SetCurrentRequestOfflineId(offlineId, valueId, typeElementId)
	c.persistAsync()
}

// GoOffline deliberately enters offline mode, remembering whether the
// device still had connectivity at the time.
func (c *Core) GoOffline() {
	state := c.netStore.State()
	c.netStore.Dispatch(network.IsOfflineAction(state.HasNetwork))
}

// GoOnline leaves offline mode directly when nothing is queued. With
// queued work pending, Sync is the only way back online.
func (c *Core) GoOnline() bool {
	if len(c.flowCache.GetRequests()) > 0 {
		return false
	}
	c.netStore.Dispatch(network.IsOnlineAction())
	return true
}

// Sync replays the queue and, once it is confirmed empty, flips the
// session back online.
func (c *Core) Sync(ctx context.Context) error {
	state := c.netStore.State()
	if !state.HasNetwork {
		return ErrNoNetwork
	}
	syncCtx, cancel := context.WithCancel(ctx)
	c.cancelMu.Lock()
	c.cancelSync = cancel
	c.cancelMu.Unlock()
	defer cancel()

	err := c.replayer.ReplayAll(syncCtx, c.auth)
	if err != nil {
		return err
	}
	if len(c.flowCache.GetRequests()) == 0 {
		c.netStore.Dispatch(network.IsOnlineAction())
		c.persistAsync()
	}
	return nil
}

// CancelSync stops the running replay pass between requests. The
// in-flight request finishes naturally; unconfirmed requests stay queued.
func (c *Core) CancelSync() {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	if c.cancelSync != nil {
		c.cancelSync()
	}
}

// Rejoin re-establishes the engine session after an authorization
// failure, leaving the queue intact for the next sync.
func (c *Core) Rejoin(ctx context.Context) error {
	resp, err := c.client.JoinWithRetry(ctx, c.flowCache.ServerState().StateId, c.auth)
	if err != nil {
		return err
	}
	c.flowCache.SetServerState(resp.StateId, resp.StateToken)
	c.persistAsync()
	return nil
}

// DeleteQueuedRequest drops one entry on explicit user request.
func (c *Core) DeleteQueuedRequest(id string) bool {
	removed := c.flowCache.RemoveRequest(id)
	if removed {
		metrics.QueueDepth.Set(float64(len(c.flowCache.GetRequests())))
		c.persistAsync()
	}
	return removed
}

func (c *Core) persistAsync() {
	if c.flowCache == nil {
		return
	}
	select {
	case c.persister.Sender() <- c.flowCache.Record():
	default:
		logger.Warn("persist queue full, dropping snapshot write")
	}
}

func isNetworkFailure(err error) bool {
	var apiErr *service.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	// Transport-level errors (connection refused, timeouts) arrive as
	// url.Error values; treat anything that is not an engine reply as a
	// connectivity problem.
	return true
}
