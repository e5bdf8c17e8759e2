// Package config loads the backend's settings and publishes them as an
// immutable snapshot that can be swapped while requests are being served.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is one complete, validated configuration snapshot. A snapshot is
// never modified after it has been published; reloads replace it whole.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Imaging    ImagingConfig    `koanf:"imaging"`
	Storage    StorageConfig    `koanf:"storage"`
	Validation ValidationConfig `koanf:"validation"`
	Proxy      ProxyConfig      `koanf:"proxy"`
	Background BackgroundConfig `koanf:"background"`
	Breaker    BreakerConfig    `koanf:"breaker"`
	Logging    LoggingConfig    `koanf:"logging"`
}

type ServerConfig struct {
	ListenAddress   string        `koanf:"listen_address" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	Environment     string        `koanf:"environment" validate:"oneof=development production test"`
}

// ImagingConfig locates the imaging service. Path is the V1 REST root
// (e.g. /PCCIS/V1) and V2Path the root of the newer process APIs.
type ImagingConfig struct {
	Scheme         string        `koanf:"scheme" validate:"required,oneof=http https"`
	Host           string        `koanf:"host" validate:"required"`
	Port           int           `koanf:"port" validate:"min=0,max=65535"`
	Path           string        `koanf:"path"`
	V2Path         string        `koanf:"v2_path"`
	APIKey         string        `koanf:"api_key"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// BaseURL returns the V1 base URI without a trailing slash.
func (c ImagingConfig) BaseURL() string {
	return c.origin() + trimPath(c.Path)
}

// BaseURLV2 returns the V2 base URI without a trailing slash.
func (c ImagingConfig) BaseURLV2() string {
	return c.origin() + trimPath(c.V2Path)
}

func (c ImagingConfig) origin() string {
	if c.Port == 0 {
		return fmt.Sprintf("%s://%s", c.Scheme, c.Host)
	}
	return fmt.Sprintf("%s://%s:%s", c.Scheme, c.Host, strconv.Itoa(c.Port))
}

func trimPath(p string) string {
	p = strings.TrimRight(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// StorageConfig holds one directory per local resource family. Empty values
// are allowed at load time; the owning handler reports them with MissingError.
type StorageConfig struct {
	DocumentsPath    string `koanf:"documents_path"`
	MarkupPath       string `koanf:"markup_path"`
	LayerRecordsPath string `koanf:"layer_records_path"`
	ImageStampsPath  string `koanf:"image_stamps_path"`
	SearchTermsPath  string `koanf:"search_terms_path"`
}

type ValidationConfig struct {
	DocumentExtensions   []string `koanf:"document_extensions"`
	ImageStampExtensions []string `koanf:"image_stamp_extensions"`
}

// ProxyConfig holds the allow-lists used by the generic pass-through route.
type ProxyConfig struct {
	AllowedQueryParams     []string `koanf:"allowed_query_params"`
	AllowedRequestHeaders  []string `koanf:"allowed_request_headers"`
	AllowedResponseHeaders []string `koanf:"allowed_response_headers"`
}

type BackgroundConfig struct {
	Workers             int           `koanf:"workers" validate:"min=1"`
	QueueSize           int           `koanf:"queue_size" validate:"min=1"`
	TaskTimeout         time.Duration `koanf:"task_timeout" validate:"gt=0"`
	NotificationTimeout time.Duration `koanf:"notification_timeout" validate:"gt=0"`
}

type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
	OpenTimeout      time.Duration `koanf:"open_timeout" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Default returns the built-in settings that files and environment variables
// are layered over.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   ":8083",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    5 * time.Minute, // document downloads stream through here
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173"},
			Environment:     "development",
		},
		Imaging: ImagingConfig{
			Scheme:         "http",
			Host:           "localhost",
			Port:           18681,
			Path:           "/PCCIS/V1",
			V2Path:         "/v2",
			RequestTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			DocumentsPath:    "Documents",
			MarkupPath:       "Markup",
			LayerRecordsPath: "MarkupLayerRecords",
			ImageStampsPath:  "ImageStamps",
		},
		Validation: ValidationConfig{
			ImageStampExtensions: []string{"png", "jpg", "jpeg", "gif"},
		},
		Proxy: ProxyConfig{
			AllowedQueryParams: []string{
				"iv", "p", "ContentType", "Scale", "Quality", "pageNumber",
				"start", "end", "Format", "ContentDispositionFilename",
			},
			AllowedRequestHeaders:  []string{"Content-Type", "Accusoft-Affinity-Token"},
			AllowedResponseHeaders: []string{"Content-Type", "Content-Length", "Cache-Control", "ETag", "Last-Modified", "Content-Disposition"},
		},
		Background: BackgroundConfig{
			Workers:             4,
			QueueSize:           64,
			TaskTimeout:         5 * time.Minute,
			NotificationTimeout: 10 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// MissingError reports a configuration value a request needs but the
// snapshot does not carry.
type MissingError struct {
	Key string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("configuration value %q is not set", e.Key)
}

// RequirePath returns value, or a MissingError naming key when it is empty.
func RequirePath(key, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", &MissingError{Key: key}
	}
	return value, nil
}
