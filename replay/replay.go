package replay

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/flowrelay/flowrelay/cache"
	"github.com/flowrelay/flowrelay/logger"
	"github.com/flowrelay/flowrelay/metrics"
	"github.com/flowrelay/flowrelay/model"
	"github.com/flowrelay/flowrelay/network"
	"github.com/flowrelay/flowrelay/reconcile"
	"github.com/flowrelay/flowrelay/service"
	"go.uber.org/zap"
)

// RequestStatus tracks one request through a replay attempt.
type RequestStatus string

const STATUS_PENDING RequestStatus = "PENDING"
const STATUS_SUBMITTING RequestStatus = "SUBMITTING"
const STATUS_SUCCEEDED RequestStatus = "SUCCEEDED"
const STATUS_UNAUTHORIZED RequestStatus = "UNAUTHORIZED"
const STATUS_FAILED RequestStatus = "FAILED"

var ErrReplayInProgress = errors.New("a replay pass is already running")
var ErrUnauthorized = errors.New("replay cancelled: engine session no longer authorized")
var ErrCancelled = errors.New("replay cancelled by caller")

// Engine is the slice of the service client replay needs.
type Engine interface {
	Invoke(ctx context.Context, req *model.InvokeRequest, auth service.Auth) (*model.InvokeResponse, error)
	UploadFiles(ctx context.Context, files []model.FileUpload, req *model.InvokeRequest, auth service.Auth, onProgress service.ProgressFunc) (*model.InvokeResponse, error)
	JoinWithRetry(ctx context.Context, stateId string, auth service.Auth) (*model.InvokeResponse, error)
}

// Hooks let the host surface per-request outcomes. All are optional.
type Hooks struct {
	OnReplayDone     func(req model.QueuedRequest, resp *model.InvokeResponse)
	OnRequestFailed  func(req model.QueuedRequest, err error)
	OnCancelReplay   func(reason error)
	OnUploadProgress func(percent int)
}

// Replayer drives sequential replay of the queued requests. Concurrent
// passes for the same flow are disallowed: later requests may depend on
// identifiers resolved by earlier ones, so consistency wins over
// throughput.
type Replayer struct {
	cache      *cache.FlowCache
	svc        Engine
	reconciler *reconcile.Reconciler
	netStore   *network.Store
	hooks      Hooks
	inProgress atomic.Bool
}

func NewReplayer(flowCache *cache.FlowCache, svc Engine, reconciler *reconcile.Reconciler, netStore *network.Store, hooks Hooks) *Replayer {
	return &Replayer{
		cache:      flowCache,
		svc:        svc,
		reconciler: reconciler,
		netStore:   netStore,
		hooks:      hooks,
	}
}

// ReplayAll replays the queue head-first until it empties, a request
// fails, authorization is lost, or the context is cancelled. Cancellation
// takes effect between requests; the in-flight request finishes naturally
// and any request not confirmed successful stays queued.
func (r *Replayer) ReplayAll(ctx context.Context, auth service.Auth) error {
	if !r.inProgress.CompareAndSwap(false, true) {
		return ErrReplayInProgress
	}
	defer r.inProgress.Store(false)

	r.netStore.Dispatch(network.IsReplayingAction(true))
	defer r.netStore.Dispatch(network.IsReplayingAction(false))

	for {
		queue := r.cache.GetRequests()
		metrics.QueueDepth.Set(float64(len(queue)))
		if len(queue) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			logger.Info("replay pass cancelled", zap.Int("remaining", len(queue)))
			return ErrCancelled
		}
		head := queue[0]

		resp, err := r.Replay(ctx, head, auth)
		if err != nil {
			metrics.ReplaysFailed.Inc()
			logger.Error("replay of queued request failed",
				zap.String("requestId", head.Id), zap.Error(err))
			if r.hooks.OnRequestFailed != nil {
				r.hooks.OnRequestFailed(head, err)
			}
			// The head stays queued; later requests may depend on it, so
			// the pass stops rather than skipping ahead.
			return err
		}

		if resp.InvokeType == model.RESPONSE_NOT_ALLOWED {
			metrics.ReplaysUnauthorized.Inc()
			logger.Warn("engine rejected replay as not allowed, rejoining session",
				zap.String("requestId", head.Id))
			if r.hooks.OnCancelReplay != nil {
				r.hooks.OnCancelReplay(ErrUnauthorized)
			}
			if _, joinErr := r.svc.JoinWithRetry(ctx, r.cache.ServerState().StateId, auth); joinErr != nil {
				logger.Error("session rejoin failed", zap.Error(joinErr))
			}
			return ErrUnauthorized
		}

		// Reconciliation must finish before the next request is
		// submitted; its correctness depends on the rewritten queue.
		if err := r.reconciler.ExtractExternalId(ctx, head, auth); err != nil {
			metrics.ReplaysFailed.Inc()
			if r.hooks.OnRequestFailed != nil {
				r.hooks.OnRequestFailed(head, err)
			}
			return err
		}

		r.cache.RemoveRequest(head.Id)
		r.cache.SetServerState(resp.StateId, resp.StateToken)
		if err := r.cache.Persist(ctx); err != nil {
			metrics.StorageErrors.Inc()
		}
		metrics.ReplaysSucceeded.Inc()
		metrics.QueueDepth.Set(float64(len(queue) - 1))
		if r.hooks.OnReplayDone != nil {
			r.hooks.OnReplayDone(head, resp)
		}
	}
}

// Replay submits one queued request. File-bearing requests go through the
// multipart upload path, everything else through the generic invoke.
func (r *Replayer) Replay(ctx context.Context, queued model.QueuedRequest, auth service.Auth) (*model.InvokeResponse, error) {
	status := STATUS_PENDING
	logger.Debug("replaying queued request", zap.String("requestId", queued.Id),
		zap.String("invokeType", string(queued.Request.InvokeType)), zap.String("status", string(status)))

	status = STATUS_SUBMITTING
	req := queued.Request.Clone()
	serverState := r.cache.ServerState()
	req.StateId = serverState.StateId
	req.StateToken = serverState.StateToken

	var resp *model.InvokeResponse
	var err error
	if req.InvokeType == model.INVOKE_TYPE_FILE_DATA {
		resp, err = r.svc.UploadFiles(ctx, req.Files, req, auth, r.hooks.OnUploadProgress)
	} else {
		resp, err = r.svc.Invoke(ctx, req, auth)
	}
	if err != nil {
		status = STATUS_FAILED
		logger.Debug("replay attempt finished", zap.String("requestId", queued.Id), zap.String("status", string(status)))
		return nil, err
	}
	if resp.InvokeType == model.RESPONSE_NOT_ALLOWED {
		status = STATUS_UNAUTHORIZED
	} else {
		status = STATUS_SUCCEEDED
	}
	logger.Debug("replay attempt finished", zap.String("requestId", queued.Id), zap.String("status", string(status)))
	return resp, nil
}

// InProgress reports whether a replay pass is currently running.
func (r *Replayer) InProgress() bool {
	return r.inProgress.Load()
}
