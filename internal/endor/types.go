package endor

// Finding is the subset of an Endor Labs finding object retag reads and writes.
type Finding struct {
	UUID       string     `json:"uuid"`
	Meta       Meta       `json:"meta"`
	TenantMeta TenantMeta `json:"tenant_meta"`
	Spec       struct {
		ProjectUUID string `json:"project_uuid,omitempty"`
	} `json:"spec"`
	Context struct {
		Type string `json:"type,omitempty"`
		ID   string `json:"id,omitempty"`
	} `json:"context"`
}

// Meta carries the object name and tags.
type Meta struct {
	Name string   `json:"name,omitempty"`
	Tags []string `json:"tags"`
}

// TenantMeta names the namespace an object lives in.
type TenantMeta struct {
	Namespace string `json:"namespace"`
}

type project struct {
	UUID       string     `json:"uuid"`
	TenantMeta TenantMeta `json:"tenant_meta"`
}

// listResponse is the envelope every list endpoint returns.
type listResponse[T any] struct {
	List struct {
		Objects  []T `json:"objects"`
		Response struct {
			NextPageToken string `json:"next_page_token"`
		} `json:"response"`
	} `json:"list"`
}

type authRequest struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type authResponse struct {
	Token string `json:"token"`
}

type updateRequest struct {
	Request struct {
		UpdateMask string `json:"update_mask"`
	} `json:"request"`
	Object struct {
		UUID string `json:"uuid"`
		Meta struct {
			Tags []string `json:"tags"`
		} `json:"meta"`
	} `json:"object"`
}
