package model

// ObjectDataItem is one structured record bound to a type element.
// InternalId is the client-locally-stable key; ExternalId stays nil until
// the server assigns an authoritative id on sync.
type ObjectDataItem struct {
	InternalId    string     `json:"internalId"`
	ExternalId    *string    `json:"externalId"`
	DeveloperName string     `json:"developerName,omitempty"`
	Properties    []Property `json:"properties,omitempty"`
}

func (o *ObjectDataItem) Clone() *ObjectDataItem {
	if o == nil {
		return nil
	}
	out := &ObjectDataItem{
		InternalId:    o.InternalId,
		DeveloperName: o.DeveloperName,
	}
	if o.ExternalId != nil {
		ext := *o.ExternalId
		out.ExternalId = &ext
	}
	if o.Properties != nil {
		out.Properties = make([]Property, len(o.Properties))
		copy(out.Properties, o.Properties)
	}
	return out
}

type Property struct {
	TypeElementPropertyId string `json:"typeElementPropertyId"`
	DeveloperName         string `json:"developerName,omitempty"`
	ContentValue          string `json:"contentValue"`
}

// CachedObjectDataItem is one entry in a flow's object-data cache.
// AssocData, when set, links the record back to the queued request that
// created it offline.
type CachedObjectDataItem struct {
	ObjectData ObjectDataItem `json:"objectData"`
	AssocData  *AssocData     `json:"assocData,omitempty"`
}

func (c *CachedObjectDataItem) Clone() *CachedObjectDataItem {
	if c == nil {
		return nil
	}
	out := &CachedObjectDataItem{
		ObjectData: *c.ObjectData.Clone(),
	}
	if c.AssocData != nil {
		assoc := *c.AssocData
		out.AssocData = &assoc
	}
	return out
}
