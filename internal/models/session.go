package models

// Origin keys written when a viewing session is requested.
const (
	OriginIPAddress        = "ipAddress"
	OriginHostName         = "hostName"
	OriginSourceDocument   = "sourceDocument"
	OriginDocumentMarkupID = "documentMarkupId"
)

// ViewingSessionProperties mirrors the imaging service's session resource.
// It is built locally for the create call and re-fetched whenever a handler
// needs the markup id or attachment index; it is never cached.
type ViewingSessionProperties struct {
	ViewingSessionID   string            `json:"viewingSessionId,omitempty"`
	TenantID           string            `json:"tenantId,omitempty"`
	DocumentExtension  string            `json:"documentExtension,omitempty"`
	Password           string            `json:"password,omitempty"`
	ExternalID         string            `json:"externalId,omitempty"`
	AttachmentIndex    int               `json:"attachmentIndex"`
	CountOfAttachments int               `json:"countOfAttachments,omitempty"`
	Origin             map[string]string `json:"origin,omitempty"`
	Render             *RenderOptions    `json:"render,omitempty"`
}

// DocumentMarkupID returns the correlation key stored in the origin map.
func (p *ViewingSessionProperties) DocumentMarkupID() string {
	if p == nil || p.Origin == nil {
		return ""
	}
	return p.Origin[OriginDocumentMarkupID]
}

// RenderOptions carries rasterization preferences for the two legacy
// client profiles.
type RenderOptions struct {
	Flash *FlashRenderOptions `json:"flash,omitempty"`
	HTML5 *HTML5RenderOptions `json:"html5,omitempty"`
}

type FlashRenderOptions struct {
	OptimizationLevel int `json:"optimizationLevel"`
}

type HTML5RenderOptions struct {
	AlwaysUseRaster bool `json:"alwaysUseRaster"`
}

// DefaultRenderOptions are sent with every new session.
func DefaultRenderOptions() *RenderOptions {
	return &RenderOptions{
		Flash: &FlashRenderOptions{OptimizationLevel: 1},
		HTML5: &HTML5RenderOptions{AlwaysUseRaster: false},
	}
}

type CreateSessionResponse struct {
	ViewingSessionID string `json:"viewingSessionId"`
}

type SessionStartedNotification struct {
	Viewer string `json:"viewer"`
}

type SessionStoppedNotification struct {
	EndUserMessage string `json:"endUserMessage"`
	HTTPStatus     int    `json:"httpStatus"`
}
