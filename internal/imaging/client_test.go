package imaging

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewer-backend/internal/config"
	"viewer-backend/internal/models"
)

func testConfig(t *testing.T, serverURL string) *config.Config {
	t.Helper()

	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Imaging.Host = u.Hostname()
	cfg.Imaging.Port = port
	cfg.Imaging.APIKey = "test-key"
	cfg.Imaging.RequestTimeout = 2 * time.Second
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.OpenTimeout = time.Minute
	return cfg
}

func TestCreateViewingSession(t *testing.T) {
	var got models.ViewingSessionProperties
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/PCCIS/V1/ViewingSession", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get(APIKeyHeader))
		assert.Equal(t, "ABC-DEF", r.Header.Get(AffinityHintHeader))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"viewingSessionId":"vs-1"}`))
	}))
	defer srv.Close()

	client := NewClient(config.NewStatic(testConfig(t, srv.URL)))
	props := &models.ViewingSessionProperties{
		Origin: map[string]string{models.OriginDocumentMarkupID: "ABC-DEF"},
		Render: models.DefaultRenderOptions(),
	}

	id, err := client.CreateViewingSession(context.Background(), props, "ABC-DEF")
	require.NoError(t, err)
	assert.Equal(t, "vs-1", id)
	assert.Equal(t, "ABC-DEF", got.DocumentMarkupID())
	require.NotNil(t, got.Render)
	assert.Equal(t, 1, got.Render.Flash.OptimizationLevel)
}

func TestGetViewingSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/PCCIS/V1/ViewingSession/uvs-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"viewingSessionId":"vs-1","attachmentIndex":2,"origin":{"documentMarkupId":"AB-CD"}}`))
	}))
	defer srv.Close()

	client := NewClient(config.NewStatic(testConfig(t, srv.URL)))
	props, err := client.GetViewingSession(context.Background(), "vs-1")
	require.NoError(t, err)
	assert.Equal(t, 2, props.AttachmentIndex)
	assert.Equal(t, "AB-CD", props.DocumentMarkupID())
}

func TestUploadAndNotify(t *testing.T) {
	var (
		uploaded  string
		ext       string
		started   models.SessionStartedNotification
		stopped   models.SessionStoppedNotification
		userAgent string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/PCCIS/V1/ViewingSession/uvs-1/SourceFile":
			assert.Equal(t, http.MethodPut, r.Method)
			ext = r.URL.Query().Get("FileExtension")
			b, _ := io.ReadAll(r.Body)
			uploaded = string(b)
		case "/PCCIS/V1/ViewingSession/uvs-1/Notification/SessionStarted":
			userAgent = r.UserAgent()
			_ = json.NewDecoder(r.Body).Decode(&started)
		case "/PCCIS/V1/ViewingSession/uvs-1/Notification/SessionStopped":
			_ = json.NewDecoder(r.Body).Decode(&stopped)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(config.NewStatic(testConfig(t, srv.URL)))
	ctx := context.Background()

	require.NoError(t, client.UploadSourceFile(ctx, "vs-1", "pdf", strings.NewReader("%PDF-1.4"), 8))
	assert.Equal(t, "%PDF-1.4", uploaded)
	assert.Equal(t, "pdf", ext)

	require.NoError(t, client.NotifySessionStarted(ctx, "vs-1", "viewer-test/1.0"))
	assert.Equal(t, "HTML5", started.Viewer)
	assert.Equal(t, "viewer-test/1.0", userAgent)

	require.NoError(t, client.NotifySessionStopped(ctx, "vs-1", "upload failed"))
	assert.Equal(t, "upload failed", stopped.EndUserMessage)
	assert.Equal(t, http.StatusGatewayTimeout, stopped.HTTPStatus)
}

func TestProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errorCode":"NoSuchSession"}`))
	}))
	defer srv.Close()

	client := NewClient(config.NewStatic(testConfig(t, srv.URL)))
	_, err := client.GetViewingSession(context.Background(), "missing")

	var pErr *ProtocolError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, http.StatusNotFound, pErr.StatusCode)
	assert.Equal(t, "Not Found", pErr.Status)
	assert.JSONEq(t, `{"errorCode":"NoSuchSession"}`, string(pErr.Body))
	assert.Equal(t, "closed", client.BreakerState())
}

func TestUnavailableOpensBreaker(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := testConfig(t, srv.URL)
	srv.Close()

	client := NewClient(config.NewStatic(cfg))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.GetViewingSession(ctx, "vs-1")
		var uErr *UnavailableError
		require.True(t, errors.As(err, &uErr))
		assert.Equal(t, CategoryConnectionRefused, uErr.Category)
	}

	_, err := client.GetViewingSession(ctx, "vs-1")
	var uErr *UnavailableError
	require.True(t, errors.As(err, &uErr))
	assert.Equal(t, CategoryCircuitOpen, uErr.Category)
	assert.Equal(t, "open", client.BreakerState())
}

func TestConvertContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/contentConverters", r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get(AffinityTokenHeader))

		var req models.ContentConversionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "file-9", req.Input.Src.FileID)
		assert.Equal(t, "pdf", req.Input.Dest.Format)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"processId":"p-1","state":"processing"}`))
	}))
	defer srv.Close()

	client := NewClient(config.NewStatic(testConfig(t, srv.URL)))
	status, body, err := client.ConvertContent(context.Background(), "file-9", "pdf", "tok")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.JSONEq(t, `{"processId":"p-1","state":"processing"}`, string(body))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, CategoryTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, CategoryCanceled, Classify(context.Canceled))
	assert.Equal(t, CategoryTransport, Classify(errors.New("boom")))
}

func TestCallerAbortsDoNotOpenBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/uslow") {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(`{"viewingSessionId":"vs-1","origin":{"documentMarkupId":"M"}}`))
	}))
	defer srv.Close()

	client := NewClient(config.NewStatic(testConfig(t, srv.URL)))

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		_, err := client.GetViewingSession(canceled, "vs-1")
		var uErr *UnavailableError
		require.True(t, errors.As(err, &uErr))
		assert.Equal(t, CategoryCanceled, uErr.Category)
	}

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := client.GetViewingSession(ctx, "slow")
		cancel()
		var uErr *UnavailableError
		require.True(t, errors.As(err, &uErr))
		assert.Equal(t, CategoryTimeout, uErr.Category)
	}

	assert.Equal(t, "closed", client.BreakerState())
	props, err := client.GetViewingSession(context.Background(), "vs-1")
	require.NoError(t, err)
	assert.Equal(t, "M", props.DocumentMarkupID())
}

func TestSessionStoppedBypassesOpenBreaker(t *testing.T) {
	var broken atomic.Bool
	broken.Store(true)
	var stopped atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if broken.Load() {
			conn, _, err := w.(http.Hijacker).Hijack()
			if assert.NoError(t, err) {
				_ = conn.Close()
			}
			return
		}
		if strings.HasSuffix(r.URL.Path, "/Notification/SessionStopped") {
			stopped.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(config.NewStatic(testConfig(t, srv.URL)))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.GetViewingSession(ctx, "vs-1")
		require.Error(t, err)
	}
	require.Equal(t, "open", client.BreakerState())

	broken.Store(false)
	err := client.NotifySessionStarted(ctx, "vs-1", "")
	var uErr *UnavailableError
	require.True(t, errors.As(err, &uErr))
	assert.Equal(t, CategoryCircuitOpen, uErr.Category)

	require.NoError(t, client.NotifySessionStopped(ctx, "vs-1", "gone"))
	assert.Equal(t, int32(1), stopped.Load())
}

func TestProtocolErrorKeepsReasonPhrase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		_, _ = buf.WriteString("HTTP/1.1 480 Document Still Converting\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
		_ = buf.Flush()
	}))
	defer srv.Close()

	client := NewClient(config.NewStatic(testConfig(t, srv.URL)))
	_, err := client.GetViewingSession(context.Background(), "vs-1")

	var pErr *ProtocolError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, 480, pErr.StatusCode)
	assert.Equal(t, "Document Still Converting", pErr.Status)
}

func TestReasonPhraseFallsBackToStatusText(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusNotFound, Status: "404"}
	assert.Equal(t, "Not Found", ReasonPhrase(resp))
}
