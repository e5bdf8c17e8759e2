package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "viewer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8083", cfg.Server.ListenAddress)
	assert.Equal(t, "http://localhost:18681/PCCIS/V1", cfg.Imaging.BaseURL())
	assert.Equal(t, "http://localhost:18681/v2", cfg.Imaging.BaseURLV2())
	assert.Equal(t, []string{"png", "jpg", "jpeg", "gif"}, cfg.Validation.ImageStampExtensions)
	assert.True(t, filepath.IsAbs(cfg.Storage.DocumentsPath))
	assert.Empty(t, cfg.Storage.SearchTermsPath)
}

func TestLoad_FileEnvAndPlaceholders(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PCC_TEST_KEY", "secret-key")
	t.Setenv("VIEWER_IMAGING__PORT", "9000")
	t.Setenv("VIEWER_VALIDATION__DOCUMENT_EXTENSIONS", "PDF, .docx ,tif")

	path := writeConfig(t, dir, `
imaging:
  scheme: https
  host: imaging.internal
  path: PCCIS/V1/
  api_key: ${PCC_TEST_KEY}
  request_timeout: 15s
storage:
  documents_path: docs
  search_terms_path: /var/lib/viewer/search
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://imaging.internal:9000/PCCIS/V1", cfg.Imaging.BaseURL())
	assert.Equal(t, "secret-key", cfg.Imaging.APIKey)
	assert.Equal(t, 15*time.Second, cfg.Imaging.RequestTimeout)
	assert.Equal(t, filepath.Join(dir, "docs"), cfg.Storage.DocumentsPath)
	assert.Equal(t, "/var/lib/viewer/search", cfg.Storage.SearchTermsPath)
	assert.Equal(t, []string{"pdf", "docx", "tif"}, cfg.Validation.DocumentExtensions)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
imaging:
  scheme: gopher
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestProvider_ReloadKeepsSnapshotOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "imaging:\n  host: first\n")

	p, err := NewProvider(path)
	require.NoError(t, err)
	before := p.Current()
	assert.Equal(t, "first", before.Imaging.Host)

	var notified *Config
	p.OnReload(func(c *Config) { notified = c })

	writeConfig(t, dir, "imaging:\n  host: second\n")
	require.NoError(t, p.Reload())
	assert.Equal(t, "second", p.Current().Imaging.Host)
	assert.Same(t, p.Current(), notified)
	assert.Equal(t, "first", before.Imaging.Host, "published snapshots are never mutated")

	writeConfig(t, dir, "imaging:\n  scheme: gopher\n")
	require.Error(t, p.Reload())
	assert.Equal(t, "second", p.Current().Imaging.Host)
}

func TestProvider_WatchPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "imaging:\n  host: first\n")

	p, err := NewProvider(path)
	require.NoError(t, err)
	p.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx) }()

	assert.Eventually(t, func() bool {
		// Rewrite until the watcher is registered and sees the change.
		_ = os.WriteFile(path, []byte("imaging:\n  host: watched\n"), 0o644)
		return p.Current().Imaging.Host == "watched"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRequirePath(t *testing.T) {
	v, err := RequirePath("storage.search_terms_path", "/srv/terms")
	require.NoError(t, err)
	assert.Equal(t, "/srv/terms", v)

	_, err = RequirePath("storage.search_terms_path", " ")
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "storage.search_terms_path", missing.Key)
}
