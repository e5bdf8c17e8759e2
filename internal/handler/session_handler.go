package handler

import (
	"context"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"path"
	"strings"

	"github.com/gorilla/mux"

	"viewer-backend/internal/config"
	"viewer-backend/internal/idcodec"
	"viewer-backend/internal/models"
	"viewer-backend/internal/service"
	"viewer-backend/internal/validation"
)

const maxMultipartMemory = 32 << 20

// SessionCreator starts viewing sessions.
type SessionCreator interface {
	CreateFromLocalFile(ctx context.Context, name string, client service.ClientInfo) (string, error)
	CreateFromStream(ctx context.Context, r io.Reader, documentID, ext string, client service.ClientInfo) (string, error)
}

// SourceFiles reads session metadata and the original document back from the
// imaging service.
type SourceFiles interface {
	GetViewingSession(ctx context.Context, id string) (*models.ViewingSessionProperties, error)
	GetSourceFile(ctx context.Context, id string) (*http.Response, error)
}

type SessionHandler struct {
	Config   config.Source
	Sessions SessionCreator
	Sources  SourceFiles
}

func (h *SessionHandler) Routes() []Route {
	return []Route{
		{Name: "CreateSession", Methods: []string{http.MethodGet, http.MethodPost}, Path: "/ViewingSession", Handler: h.CreateSession},
		{Name: "CreateSessionFromSegment", Methods: []string{http.MethodGet, http.MethodPost}, Path: "/ViewingSession/Document/{documentId}", Handler: h.CreateSessionFromSegment},
		{Name: "UploadDocument", Methods: []string{http.MethodPost}, Path: "/ViewingSession/Upload", Handler: h.UploadDocument},
		{Name: "PutDocument", Methods: []string{http.MethodPut}, Path: "/ViewingSession/Upload", Handler: h.PutDocument},
		{Name: "SourceFile", Methods: []string{http.MethodGet}, Path: "/ViewingSession/{viewingSessionId}/SourceFile", Handler: h.SourceFile},
	}
}

// CreateSession starts a session for ?document=, a name under the document
// root or a URL.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	document := r.URL.Query().Get("document")
	if document == "" {
		writeError(w, r, validation.ErrMissingParameter)
		return
	}
	h.createFromDocument(w, r, document)
}

// CreateSessionFromSegment is CreateSession for identifiers carried in a path
// segment with an e (encoded) or u (raw) prefix.
func (h *SessionHandler) CreateSessionFromSegment(w http.ResponseWriter, r *http.Request) {
	document, err := idcodec.ExtractDocumentID(mux.Vars(r)["documentId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.createFromDocument(w, r, document)
}

func (h *SessionHandler) createFromDocument(w http.ResponseWriter, r *http.Request, document string) {
	id, err := h.Sessions.CreateFromLocalFile(r.Context(), document, clientInfo(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.CreateSessionResponse{ViewingSessionID: id})
}

// UploadDocument starts a session from a multipart "file" part.
func (h *SessionHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, r, validation.ErrEmptyFile)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, validation.ErrMissingParameter)
		return
	}
	defer file.Close()

	if err := validation.ValidateUpload(header, h.Config.Current().Validation.DocumentExtensions); err != nil {
		writeError(w, r, err)
		return
	}

	h.createFromStream(w, r, file, header)
}

func (h *SessionHandler) createFromStream(w http.ResponseWriter, r *http.Request, file multipart.File, header *multipart.FileHeader) {
	id, err := h.Sessions.CreateFromStream(r.Context(), file, header.Filename, validation.FileExtension(header.Filename), clientInfo(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.CreateSessionResponse{ViewingSessionID: id})
}

// PutDocument starts a session from a raw request body named by ?fileName=.
func (h *SessionHandler) PutDocument(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("fileName")
	if err := validation.ValidateFileName(name, false); err != nil {
		writeError(w, r, err)
		return
	}
	ext := validation.FileExtension(name)
	if err := validation.ValidateExtension(ext, h.Config.Current().Validation.DocumentExtensions); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := h.Sessions.CreateFromStream(r.Context(), r.Body, name, ext, clientInfo(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.CreateSessionResponse{ViewingSessionID: id})
}

// SourceFile downloads the original document as an attachment.
func (h *SessionHandler) SourceFile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["viewingSessionId"]

	props, err := h.Sources.GetViewingSession(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.Sources.GetSourceFile(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+downloadName(id, props)+`"`)
	w.WriteHeader(http.StatusOK)

	buf := make([]byte, 32<<10)
	_, _ = io.CopyBuffer(w, resp.Body, buf)
}

// downloadName picks the file name offered to the browser.
func downloadName(id string, props *models.ViewingSessionProperties) string {
	name := ""
	if props.Origin != nil {
		name = path.Base(strings.ReplaceAll(props.Origin[models.OriginSourceDocument], `\`, "/"))
	}
	if name == "" || name == "." || name == "/" {
		name = id
		if props.DocumentExtension != "" {
			name += "." + props.DocumentExtension
		}
	}
	return strings.NewReplacer(`"`, "", "\r", "", "\n", "").Replace(name)
}

// clientInfo describes the caller. RemoteAddr has already been rewritten by
// handlers.ProxyHeaders when the service runs behind a proxy.
func clientInfo(r *http.Request) service.ClientInfo {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return service.ClientInfo{
		IPAddress: host,
		HostName:  host,
		UserAgent: r.UserAgent(),
	}
}
