package model

type InvokeType string

const INVOKE_TYPE_INVOKE InvokeType = "invoke"
const INVOKE_TYPE_NAVIGATION InvokeType = "navigation"
const INVOKE_TYPE_FILE_DATA InvokeType = "fileData"
const INVOKE_TYPE_JOIN InvokeType = "join"
const INVOKE_TYPE_INITIALIZATION InvokeType = "initialization"

// Response invoke types returned by the flow engine.
const RESPONSE_FORWARD InvokeType = "FORWARD"
const RESPONSE_WAIT InvokeType = "WAIT"
const RESPONSE_NOT_ALLOWED InvokeType = "NOT_ALLOWED"

// AssocData links a request or cached record to an object created offline,
// carrying the placeholder identifier that must later be rewritten to a
// server-assigned external id.
type AssocData struct {
	OfflineId     string `json:"offlineId"`
	ValueId       string `json:"valueId"`
	TypeElementId string `json:"typeElementId"`
}

// QueuedRequest is one user action captured while offline or in flight.
// Id is assigned at append time and is stable for the life of the entry;
// the durable store uses it to recognise queue prefixes on upsert.
type QueuedRequest struct {
	Id        string        `json:"id"`
	Request   InvokeRequest `json:"request"`
	AssocData *AssocData    `json:"assocData"`
}

func (q *QueuedRequest) Clone() *QueuedRequest {
	if q == nil {
		return nil
	}
	out := &QueuedRequest{
		Id:      q.Id,
		Request: *q.Request.Clone(),
	}
	if q.AssocData != nil {
		assoc := *q.AssocData
		out.AssocData = &assoc
	}
	return out
}

// InvokeRequest is the payload sent to the flow engine. The shape is the
// engine's fixed contract; this runtime never changes it on the wire, it
// only rewrites nested externalId fields during reconciliation.
type InvokeRequest struct {
	InvokeType              InvokeType               `json:"invokeType"`
	StateId                 string                   `json:"stateId"`
	StateToken              string                   `json:"stateToken,omitempty"`
	CurrentMapElementId     string                   `json:"currentMapElementId,omitempty"`
	NavigationElementId     string                   `json:"navigationElementId,omitempty"`
	MapElementInvokeRequest *MapElementInvokeRequest `json:"mapElementInvokeRequest,omitempty"`
	Files                   []FileUpload             `json:"files,omitempty"`
}

func (r *InvokeRequest) Clone() *InvokeRequest {
	if r == nil {
		return nil
	}
	out := &InvokeRequest{
		InvokeType:          r.InvokeType,
		StateId:             r.StateId,
		StateToken:          r.StateToken,
		CurrentMapElementId: r.CurrentMapElementId,
		NavigationElementId: r.NavigationElementId,
	}
	out.MapElementInvokeRequest = r.MapElementInvokeRequest.Clone()
	if r.Files != nil {
		out.Files = make([]FileUpload, len(r.Files))
		copy(out.Files, r.Files)
	}
	return out
}

type MapElementInvokeRequest struct {
	SelectedOutcomeId string       `json:"selectedOutcomeId,omitempty"`
	PageRequest       *PageRequest `json:"pageRequest,omitempty"`
}

func (m *MapElementInvokeRequest) Clone() *MapElementInvokeRequest {
	if m == nil {
		return nil
	}
	return &MapElementInvokeRequest{
		SelectedOutcomeId: m.SelectedOutcomeId,
		PageRequest:       m.PageRequest.Clone(),
	}
}

type PageRequest struct {
	PageComponentInputResponses []PageComponentInputResponse `json:"pageComponentInputResponses"`
}

func (p *PageRequest) Clone() *PageRequest {
	if p == nil {
		return nil
	}
	out := &PageRequest{}
	if p.PageComponentInputResponses != nil {
		out.PageComponentInputResponses = make([]PageComponentInputResponse, 0, len(p.PageComponentInputResponses))
		for _, resp := range p.PageComponentInputResponses {
			out.PageComponentInputResponses = append(out.PageComponentInputResponses, *resp.Clone())
		}
	}
	return out
}

type PageComponentInputResponse struct {
	PageComponentId string           `json:"pageComponentId"`
	ContentValue    string           `json:"contentValue,omitempty"`
	ObjectData      []ObjectDataItem `json:"objectData,omitempty"`
}

func (p *PageComponentInputResponse) Clone() *PageComponentInputResponse {
	if p == nil {
		return nil
	}
	out := &PageComponentInputResponse{
		PageComponentId: p.PageComponentId,
		ContentValue:    p.ContentValue,
	}
	if p.ObjectData != nil {
		out.ObjectData = make([]ObjectDataItem, 0, len(p.ObjectData))
		for _, od := range p.ObjectData {
			out.ObjectData = append(out.ObjectData, *od.Clone())
		}
	}
	return out
}

type FileUpload struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
}

// InvokeResponse is the engine's reply to an invoke, join or file request.
type InvokeResponse struct {
	InvokeType          InvokeType `json:"invokeType"`
	StateId             string     `json:"stateId"`
	StateToken          string     `json:"stateToken"`
	CurrentMapElementId string     `json:"currentMapElementId,omitempty"`
	WaitMessage         string     `json:"waitMessage,omitempty"`
	RootFaults          []string   `json:"rootFaults,omitempty"`
}

// ObjectDataRequest asks the engine for the records bound to one type
// element, used to pre-cache reference data before going offline.
type ObjectDataRequest struct {
	TypeElementId string      `json:"typeElementId"`
	ListFilter    *ListFilter `json:"listFilter,omitempty"`
}

type ListFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type ObjectDataResponse struct {
	ObjectData     []ObjectDataItem `json:"objectData"`
	HasMoreResults bool             `json:"hasMoreResults"`
}

// StateValuesResponse carries the committed value of one state value,
// including the server-assigned external id of an offline-created object.
type StateValuesResponse struct {
	ValueId    string           `json:"valueId"`
	ObjectData []ObjectDataItem `json:"objectData"`
}
