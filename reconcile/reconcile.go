package reconcile

import (
	"context"
	"fmt"

	"github.com/flowrelay/flowrelay/cache"
	"github.com/flowrelay/flowrelay/logger"
	"github.com/flowrelay/flowrelay/metrics"
	"github.com/flowrelay/flowrelay/model"
	"github.com/flowrelay/flowrelay/service"
	"go.uber.org/zap"
)

// StateValuesFetcher is the single engine read reconciliation needs.
type StateValuesFetcher interface {
	GetStateValues(ctx context.Context, stateId string, valueId string, auth service.Auth) (*model.StateValuesResponse, error)
}

// Reconciler rewrites placeholder offline ids to server-assigned external
// ids after a queued request has been replayed.
type Reconciler struct {
	cache *cache.FlowCache
	svc   StateValuesFetcher
}

func NewReconciler(flowCache *cache.FlowCache, svc StateValuesFetcher) *Reconciler {
	return &Reconciler{
		cache: flowCache,
		svc:   svc,
	}
}

// ExtractExternalId resolves the external id for the object the completed
// request created, then rewrites every remaining queued request that still
// references the placeholder. A request without assocData has nothing to
// reconcile and returns immediately, with no network call.
func (r *Reconciler) ExtractExternalId(ctx context.Context, completed model.QueuedRequest, auth service.Auth) error {
	if completed.AssocData == nil {
		return nil
	}
	assoc := *completed.AssocData
	stateId := r.cache.ServerState().StateId
	values, err := r.svc.GetStateValues(ctx, stateId, assoc.ValueId, auth)
	if err != nil {
		return fmt.Errorf("fetching state value %s: %w", assoc.ValueId, err)
	}
	externalId := firstExternalId(values.ObjectData)
	if externalId == "" {
		logger.Warn("state value carries no external id yet",
			zap.String("valueId", assoc.ValueId), zap.String("offlineId", assoc.OfflineId))
		return nil
	}
	rewritten := r.checkForRequests(assoc, externalId, completed.Id)
	r.cache.ReplaceRequests(rewritten)
	r.patchCachedObjectData(assoc, values.ObjectData)
	if err := r.cache.Persist(ctx); err != nil {
		logger.Error("error persisting reconciled queue", zap.Error(err))
	}
	metrics.Reconciliations.Inc()
	return nil
}

// CheckForRequestsThatNeedAnExternalId walks the queued requests and sets
// the nested externalId wherever the cached object data for the assoc's
// type element links the same offline id to a matching internal id. A
// non-match stays nil, never guessed, so a later pass can still find and
// fix it. The rewrite returns fresh structures; caller payloads are never
// aliased. Rewriting an already-rewritten field to the same value is a
// no-op, so the pass is idempotent.
func (r *Reconciler) CheckForRequestsThatNeedAnExternalId(assoc model.AssocData, externalId string) []model.QueuedRequest {
	return r.checkForRequests(assoc, externalId, "")
}

// checkForRequests rewrites every queued request except the one just
// completed, which is about to leave the queue anyway.
func (r *Reconciler) checkForRequests(assoc model.AssocData, externalId string, skipId string) []model.QueuedRequest {
	cached := r.cache.GetObjectData(assoc.TypeElementId)
	queue := r.cache.GetRequests()
	rewritten := make([]model.QueuedRequest, 0, len(queue))
	for _, queued := range queue {
		clone := queued.Clone()
		if skipId == "" || clone.Id != skipId {
			rewriteRequest(clone, cached, assoc, externalId)
		}
		rewritten = append(rewritten, *clone)
	}
	return rewritten
}

func rewriteRequest(queued *model.QueuedRequest, cached []model.CachedObjectDataItem, assoc model.AssocData, externalId string) {
	mei := queued.Request.MapElementInvokeRequest
	if mei == nil || mei.PageRequest == nil {
		return
	}
	for ri := range mei.PageRequest.PageComponentInputResponses {
		objectData := mei.PageRequest.PageComponentInputResponses[ri].ObjectData
		for oi := range objectData {
			if matchesOfflineObject(objectData[oi].InternalId, cached, assoc) {
				ext := externalId
				objectData[oi].ExternalId = &ext
			}
		}
	}
}

// matchesOfflineObject requires both links to hold: the cached entry was
// created by the resolved offline id AND its internal id equals the one
// referenced by the request payload. Matching is by internal id only;
// external ids may not exist yet.
func matchesOfflineObject(internalId string, cached []model.CachedObjectDataItem, assoc model.AssocData) bool {
	if internalId == "" {
		return false
	}
	for i := range cached {
		if cached[i].AssocData == nil || cached[i].AssocData.OfflineId != assoc.OfflineId {
			continue
		}
		if cached[i].ObjectData.InternalId == internalId {
			return true
		}
	}
	return false
}

// patchCachedObjectData carries the server-assigned ids into the cache.
// Entries are located by internal id, and only entries created by the
// resolved offline id are touched.
func (r *Reconciler) patchCachedObjectData(assoc model.AssocData, authoritative []model.ObjectDataItem) {
	cached := r.cache.GetObjectData(assoc.TypeElementId)
	for _, serverItem := range authoritative {
		if serverItem.ExternalId == nil || serverItem.InternalId == "" {
			continue
		}
		for i := range cached {
			if cached[i].AssocData == nil || cached[i].AssocData.OfflineId != assoc.OfflineId {
				continue
			}
			if cached[i].ObjectData.InternalId != serverItem.InternalId {
				continue
			}
			updated := *cached[i].Clone()
			ext := *serverItem.ExternalId
			updated.ObjectData.ExternalId = &ext
			r.cache.PatchObjectDataCache(updated, assoc.TypeElementId)
		}
	}
}

func firstExternalId(objectData []model.ObjectDataItem) string {
	for i := range objectData {
		if objectData[i].ExternalId != nil && *objectData[i].ExternalId != "" {
			return *objectData[i].ExternalId
		}
	}
	return ""
}
