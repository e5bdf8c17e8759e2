package models

// LayerRecordSummary is one entry of a layer-record listing.
type LayerRecordSummary struct {
	LayerRecordID   string `json:"layerRecordId"`
	Name            string `json:"name"`
	OriginalXMLName string `json:"originalXmlName"`
}

type LayerRecordCreated struct {
	LayerRecordID string `json:"layerRecordId"`
}

// StorageErrorBody is returned for every layer-record failure.
type StorageErrorBody struct {
	ErrorCode    string `json:"errorCode"`
	ResourceID   string `json:"resourceId,omitempty"`
	ErrorDetails string `json:"errorDetails"`
}

type MarkupList struct {
	Annotations []string `json:"annotations"`
}

type ImageStamp struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type ImageStampList struct {
	ImageStamps []ImageStamp `json:"imageStamps"`
}

type ImageStampData struct {
	DataURL string `json:"dataUrl"`
}

// ContentConversionRequest is the body of POST {baseV2}/contentConverters.
type ContentConversionRequest struct {
	Input ContentConversionInput `json:"input"`
}

type ContentConversionInput struct {
	Src  ContentConversionSource `json:"src"`
	Dest ContentConversionDest   `json:"dest"`
}

type ContentConversionSource struct {
	FileID string `json:"fileId"`
}

type ContentConversionDest struct {
	Format string `json:"format"`
}

// ExportRequest is what the viewer posts to start a conversion.
type ExportRequest struct {
	FileID string `json:"fileId"`
	Format string `json:"format"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
