package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix scopes environment overrides. Nested keys are separated by a
// double underscore: VIEWER_IMAGING__API_KEY -> imaging.api_key.
const EnvPrefix = "VIEWER_"

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// sliceKeys are split on commas when they arrive as plain strings from the
// environment.
var sliceKeys = []string{
	"server.allowed_origins",
	"validation.document_extensions",
	"validation.image_stamp_extensions",
	"proxy.allowed_query_params",
	"proxy.allowed_request_headers",
	"proxy.allowed_response_headers",
}

// Load builds a snapshot from defaults, the YAML file at path (optional when
// path is empty) and VIEWER_ environment variables, in that order of
// precedence. ${VAR} placeholders are expanded and relative storage paths are
// resolved against the directory holding the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	baseDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to determine working directory: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %s: %w", path, err)
		}
		baseDir = filepath.Dir(abs)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitSliceKeys(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	expandPlaceholders(cfg)
	resolvePaths(cfg, baseDir)
	normalizeExtensions(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks struct-level constraints on a snapshot.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate.Struct(cfg)
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func splitSliceKeys(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		raw, ok := k.Get(key).(string)
		if !ok {
			continue
		}

		parts := strings.Split(raw, ",")
		values := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				values = append(values, p)
			}
		}
		if err := k.Set(key, values); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

func expandPlaceholders(cfg *Config) {
	for _, s := range []*string{
		&cfg.Imaging.Host,
		&cfg.Imaging.APIKey,
		&cfg.Imaging.Path,
		&cfg.Imaging.V2Path,
		&cfg.Storage.DocumentsPath,
		&cfg.Storage.MarkupPath,
		&cfg.Storage.LayerRecordsPath,
		&cfg.Storage.ImageStampsPath,
		&cfg.Storage.SearchTermsPath,
	} {
		*s = os.ExpandEnv(*s)
	}
}

func resolvePaths(cfg *Config, baseDir string) {
	for _, p := range []*string{
		&cfg.Storage.DocumentsPath,
		&cfg.Storage.MarkupPath,
		&cfg.Storage.LayerRecordsPath,
		&cfg.Storage.ImageStampsPath,
		&cfg.Storage.SearchTermsPath,
	} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		*p = filepath.Join(baseDir, *p)
	}
}

// normalizeExtensions lowercases extension lists and drops leading dots so
// "PDF", ".pdf" and "pdf" compare equal.
func normalizeExtensions(cfg *Config) {
	for _, list := range []*[]string{
		&cfg.Validation.DocumentExtensions,
		&cfg.Validation.ImageStampExtensions,
	} {
		out := make([]string, 0, len(*list))
		for _, ext := range *list {
			ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
			if ext != "" {
				out = append(out, ext)
			}
		}
		*list = out
	}
}
