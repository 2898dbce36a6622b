package model

// FlowIdentity is the composite key of one flow state. StateId is the
// primary lookup key; FlowId and FlowVersionId are used for recovery scans.
type FlowIdentity struct {
	TenantId      string `json:"tenantId"`
	FlowId        string `json:"flowId"`
	FlowVersionId string `json:"flowVersionId"`
	StateId       string `json:"stateId"`
}

// ServerState is the latest known server-side continuation token. It is
// updated after every successful replay.
type ServerState struct {
	StateId    string `json:"stateId"`
	StateToken string `json:"stateToken"`
}

// FlowCacheRecord is the unit of durable persistence, one per active flow
// state.
type FlowCacheRecord struct {
	Identity        FlowIdentity                      `json:"flowIdentity"`
	ServerState     ServerState                       `json:"serverState"`
	QueuedRequests  []QueuedRequest                   `json:"queuedRequests"`
	ObjectDataCache map[string][]CachedObjectDataItem `json:"objectDataCache"`
	CachedAtMillis  int64                             `json:"cachedAtMillis"`
}

// HasQueuedWork reports whether the record still holds undelivered requests.
// A record without queued work is eligible for stale-record cleanup once a
// newer record for the same flow version exists.
func (r *FlowCacheRecord) HasQueuedWork() bool {
	return len(r.QueuedRequests) > 0
}

func (r *FlowCacheRecord) Clone() *FlowCacheRecord {
	if r == nil {
		return nil
	}
	out := &FlowCacheRecord{
		Identity:       r.Identity,
		ServerState:    r.ServerState,
		CachedAtMillis: r.CachedAtMillis,
	}
	if r.QueuedRequests != nil {
		out.QueuedRequests = make([]QueuedRequest, 0, len(r.QueuedRequests))
		for _, qr := range r.QueuedRequests {
			out.QueuedRequests = append(out.QueuedRequests, *qr.Clone())
		}
	}
	if r.ObjectDataCache != nil {
		out.ObjectDataCache = make(map[string][]CachedObjectDataItem, len(r.ObjectDataCache))
		for k, items := range r.ObjectDataCache {
			cloned := make([]CachedObjectDataItem, 0, len(items))
			for _, it := range items {
				cloned = append(cloned, *it.Clone())
			}
			out.ObjectDataCache[k] = cloned
		}
	}
	return out
}
