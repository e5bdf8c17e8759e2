// Package proxy relays viewer requests to the imaging service through
// allow-lists of methods, query parameters and headers.
package proxy

import (
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"viewer-backend/internal/config"
	"viewer-backend/internal/imaging"
	"viewer-backend/internal/logging"
	"viewer-backend/internal/metrics"
)

// BufferSize bounds each read from the upstream body.
const BufferSize = 32 << 10

// Base selects which imaging service API root a request is sent to.
type Base int

const (
	BaseV1 Base = iota
	BaseV2
)

// Options describe one proxied route. Nil allow-lists copy nothing.
type Options struct {
	// Route labels metrics and log lines.
	Route string

	// Path is the decoded path appended to the base URI. Each segment is
	// escaped on the way out. A leading slash is optional.
	Path string
	Base Base

	// AllowedMethods defaults to GET and POST.
	AllowedMethods         []string
	AllowedQueryParams     []string
	AllowedRequestHeaders  []string
	AllowedResponseHeaders []string

	// Extra headers are set after the allow-listed ones and win on conflict.
	ExtraRequestHeaders  http.Header
	ExtraResponseHeaders http.Header
}

var defaultMethods = []string{http.MethodGet, http.MethodPost}

// Forwarder sends requests to the imaging service. It never retries.
type Forwarder struct {
	cfg    config.Source
	client *http.Client
}

// NewForwarder uses client for upstream calls; pass the imaging client's
// streaming client to share its connection pool.
func NewForwarder(src config.Source, client *http.Client) *Forwarder {
	if client == nil {
		client = &http.Client{}
	}
	return &Forwarder{cfg: src, client: client}
}

// Forward relays r and writes the upstream answer to w.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, opts Options) {
	log := logging.Ctx(r.Context())

	methods := opts.AllowedMethods
	if len(methods) == 0 {
		methods = defaultMethods
	}
	method := strings.ToUpper(r.Method)
	if !slices.Contains(methods, method) {
		f.record(opts.Route, http.StatusBadRequest)
		http.Error(w, "Method "+r.Method+" is not supported", http.StatusBadRequest)
		return
	}

	target := f.targetURL(opts, r.URL.Query())

	var body io.Reader
	if method == http.MethodPost || method == http.MethodPut {
		body = r.Body
	}
	req, err := http.NewRequestWithContext(r.Context(), method, target, body)
	if err != nil {
		f.record(opts.Route, http.StatusInternalServerError)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if body != nil {
		req.ContentLength = r.ContentLength
	}

	copyHeaders(req.Header, r.Header, opts.AllowedRequestHeaders)
	for k, v := range opts.ExtraRequestHeaders {
		req.Header[http.CanonicalHeaderKey(k)] = slices.Clone(v)
	}
	req.Header.Set(imaging.APIKeyHeader, f.cfg.Current().Imaging.APIKey)

	resp, err := f.client.Do(req)
	if err != nil {
		category := imaging.Classify(err)
		log.Error().Err(err).Str("route", opts.Route).Str("category", category).Msg("proxy request failed")
		f.record(opts.Route, http.StatusInternalServerError)
		http.Error(w, "imaging service request failed: "+category, http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	copyHeaders(w.Header(), resp.Header, opts.AllowedResponseHeaders)
	for k, v := range opts.ExtraResponseHeaders {
		w.Header()[http.CanonicalHeaderKey(k)] = slices.Clone(v)
	}
	f.record(opts.Route, status)

	switch {
	case status == http.StatusOK:
		w.WriteHeader(status)
		if err := stream(w, resp.Body); err != nil {
			log.Warn().Err(err).Str("route", opts.Route).Msg("proxy body copy aborted")
		}
	case status >= http.StatusBadRequest:
		w.Header().Del("Content-Length")
		if !hasHeader(opts.ExtraResponseHeaders, "Content-Type") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, imaging.ReasonPhrase(resp))
	default:
		w.Header().Del("Content-Length")
		w.WriteHeader(status)
	}
}

func (f *Forwarder) targetURL(opts Options, query url.Values) string {
	cfg := f.cfg.Current()
	base := cfg.Imaging.BaseURL()
	if opts.Base == BaseV2 {
		base = cfg.Imaging.BaseURLV2()
	}

	target := base
	if p := strings.TrimPrefix(opts.Path, "/"); p != "" {
		target += "/" + escapePath(p)
	}

	filtered := url.Values{}
	for key, values := range query {
		if containsFold(opts.AllowedQueryParams, key) {
			filtered[key] = values
		}
	}
	if len(filtered) > 0 {
		target += "?" + filtered.Encode()
	}
	return target
}

// escapePath escapes each segment of a decoded path so characters such as
// '?' and '#' stay part of the path.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

func (f *Forwarder) record(route string, status int) {
	metrics.ProxyRequests.WithLabelValues(route, metrics.StatusClass(status)).Inc()
}

// stream copies src to w in BufferSize chunks, flushing after each one.
func stream(w http.ResponseWriter, src io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, BufferSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func copyHeaders(dst, src http.Header, allowed []string) {
	for _, name := range allowed {
		if values := src.Values(name); len(values) > 0 {
			dst[http.CanonicalHeaderKey(name)] = slices.Clone(values)
		}
	}
}

func hasHeader(h http.Header, name string) bool {
	for k := range h {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(v string) bool {
		return strings.EqualFold(v, s)
	})
}
