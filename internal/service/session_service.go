package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"viewer-backend/internal/config"
	"viewer-backend/internal/idcodec"
	"viewer-backend/internal/imaging"
	"viewer-backend/internal/logging"
	"viewer-backend/internal/metrics"
	"viewer-backend/internal/models"
	"viewer-backend/internal/storage"
	"viewer-backend/internal/validation"
)

// TenantID is sent with every new session.
const TenantID = "My User Id"

// SessionClient is the part of the imaging service API the lifecycle uses.
type SessionClient interface {
	CreateViewingSession(ctx context.Context, props *models.ViewingSessionProperties, affinityHint string) (string, error)
	GetViewingSession(ctx context.Context, id string) (*models.ViewingSessionProperties, error)
	UploadSourceFile(ctx context.Context, id, extension string, body io.Reader, size int64) error
	NotifySessionStarted(ctx context.Context, id, userAgent string) error
	NotifySessionStopped(ctx context.Context, id, message string) error
}

// ClientInfo describes the viewer that asked for a session.
type ClientInfo struct {
	IPAddress string
	HostName  string
	UserAgent string
}

// RemoteFetchError means a document named by URL could not be downloaded.
type RemoteFetchError struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *RemoteFetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Cause)
	}
	return fmt.Sprintf("failed to fetch %s: status %d", e.URL, e.StatusCode)
}

func (e *RemoteFetchError) Unwrap() error { return e.Cause }

// SessionService creates viewing sessions. The synchronous part registers the
// session upstream; uploading the bytes and announcing the session happen on
// the background pool.
type SessionService struct {
	cfg    config.Source
	client SessionClient
	pool   *Pool
	fetch  *http.Client
}

// NewSessionService wires the lifecycle. fetch downloads documents named by
// URL; nil uses a client bounded by the imaging request timeout.
func NewSessionService(src config.Source, client SessionClient, pool *Pool, fetch *http.Client) *SessionService {
	if fetch == nil {
		fetch = &http.Client{Timeout: src.Current().Imaging.RequestTimeout}
	}
	return &SessionService{cfg: src, client: client, pool: pool, fetch: fetch}
}

// CreateFromLocalFile starts a session for a document under the configured
// document root, or for a document addressed by an http, https or ftp URL.
func (s *SessionService) CreateFromLocalFile(ctx context.Context, name string, client ClientInfo) (string, error) {
	cfg := s.cfg.Current()

	if idcodec.IsRemoteURL(name) {
		return s.createFromRemote(ctx, name, client)
	}

	root, err := config.RequirePath("storage.documents_path", cfg.Storage.DocumentsPath)
	if err != nil {
		return "", err
	}
	p, err := validation.SafeJoin(root, name, true)
	if err != nil {
		return "", err
	}
	ext := validation.FileExtension(name)
	if err := validation.ValidateExtension(ext, cfg.Validation.DocumentExtensions); err != nil {
		return "", err
	}

	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("document %q: %w", name, storage.ErrNotFound)
	}
	if err != nil {
		return "", &storage.Error{Code: storage.CodeReadFailed, ResourceID: name, Cause: err}
	}
	defer f.Close()

	return s.CreateFromStream(ctx, f, name, ext, client)
}

func (s *SessionService) createFromRemote(ctx context.Context, rawURL string, client ClientInfo) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", validation.ErrInvalidFileName, err)
	}
	ext := validation.FileExtension(path.Base(u.Path))
	if err := validation.ValidateExtension(ext, s.cfg.Current().Validation.DocumentExtensions); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &RemoteFetchError{URL: rawURL, Cause: err}
	}
	resp, err := s.fetch.Do(req)
	if err != nil {
		return "", &RemoteFetchError{URL: rawURL, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &RemoteFetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	return s.CreateFromStream(ctx, resp.Body, rawURL, ext, client)
}

// CreateFromStream registers a session for the document read from r and
// returns its id before the bytes have been uploaded. The whole document is
// held in memory until the background upload ends. When r is an io.Seeker it
// is rewound to where it started.
func (s *SessionService) CreateFromStream(ctx context.Context, r io.Reader, documentID, ext string, client ClientInfo) (string, error) {
	cfg := s.cfg.Current()
	log := logging.Ctx(ctx)

	data, err := readAllRewind(r)
	if err != nil {
		return "", &storage.Error{Code: storage.CodeReadFailed, ResourceID: documentID, Cause: err}
	}
	if len(data) == 0 {
		return "", validation.ErrEmptyFile
	}

	markupID := idcodec.Hash(documentID)
	props := &models.ViewingSessionProperties{
		TenantID:          TenantID,
		DocumentExtension: ext,
		Origin: map[string]string{
			models.OriginIPAddress:        client.IPAddress,
			models.OriginHostName:         client.HostName,
			models.OriginSourceDocument:   documentID,
			models.OriginDocumentMarkupID: markupID,
		},
		Render: models.DefaultRenderOptions(),
	}

	id, err := s.client.CreateViewingSession(ctx, props, markupID)
	if err != nil {
		return "", err
	}

	log.Info().
		Str("session_id", id).
		Str("document", documentID).
		Bool("remote", idcodec.IsRemoteURL(documentID)).
		Int("bytes", len(data)).
		Msg("viewing session created")

	userAgent := client.UserAgent
	notifyTimeout := cfg.Background.NotificationTimeout

	err = s.pool.Submit(Task{
		Name:      "upload-source",
		SessionID: id,
		Run: func(taskCtx context.Context) error {
			return s.prepare(taskCtx, id, ext, data, userAgent, notifyTimeout)
		},
	})
	if err != nil {
		s.stop(id, "The server is too busy to prepare this document.", notifyTimeout)
		return "", err
	}
	return id, nil
}

// prepare uploads the document and announces the session. On failure the
// session is stopped so the viewer does not wait for it.
func (s *SessionService) prepare(ctx context.Context, id, ext string, data []byte, userAgent string, notifyTimeout time.Duration) error {
	err := s.client.UploadSourceFile(ctx, id, ext, bytes.NewReader(data), int64(len(data)))
	if err == nil {
		err = s.client.NotifySessionStarted(ctx, id, userAgent)
	}
	if err != nil {
		metrics.BackgroundTasks.WithLabelValues("stopped").Inc()
		s.stop(id, err.Error(), notifyTimeout)
		return err
	}
	metrics.BackgroundTasks.WithLabelValues("started").Inc()
	return nil
}

// stop sends SessionStopped with its own timeout, retrying once. The outcome
// is only logged.
func (s *SessionService) stop(id, message string, timeout time.Duration) {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err = s.client.NotifySessionStopped(ctx, id, message)
		cancel()
		if err == nil {
			return
		}
		logging.Warn().Err(err).Str("session_id", id).Int("attempt", attempt).Msg("session stopped notification failed")
	}
	logging.Error().Err(err).Str("session_id", id).Msg("giving up on session stopped notification")
}

// Resolve returns the markup id and attachment index of a session. Any
// failure is reported as the imaging service being unavailable.
func (s *SessionService) Resolve(ctx context.Context, sessionID string) (string, int, error) {
	const op = "ResolveSession"

	props, err := s.client.GetViewingSession(ctx, sessionID)
	if err != nil {
		var uErr *imaging.UnavailableError
		if errors.As(err, &uErr) {
			return "", 0, err
		}
		return "", 0, &imaging.UnavailableError{Op: op, Category: imaging.CategoryUpstreamStatus, Cause: err}
	}

	markupID := props.DocumentMarkupID()
	if markupID == "" {
		return "", 0, &imaging.UnavailableError{
			Op:       op,
			Category: imaging.CategoryInvalidResponse,
			Cause:    fmt.Errorf("session %s has no %s", sessionID, models.OriginDocumentMarkupID),
		}
	}
	return markupID, props.AttachmentIndex, nil
}

func readAllRewind(r io.Reader) ([]byte, error) {
	seeker, ok := r.(io.Seeker)
	var start int64
	if ok {
		pos, err := seeker.Seek(0, io.SeekCurrent)
		if err != nil {
			ok = false
		}
		start = pos
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if ok {
		if _, err := seeker.Seek(start, io.SeekStart); err != nil {
			return nil, err
		}
	}
	return data, nil
}
