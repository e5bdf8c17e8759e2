package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewer-backend/internal/idcodec"
	"viewer-backend/internal/validation"
)

const markupID = "A9-99-3E-36"

func TestLayerRecordLifecycle(t *testing.T) {
	store := NewLocalLayerStore(filepath.Join(t.TempDir(), "layers"))

	body := []byte(`{"name":"Review","originalXmlName":"review.xml","layer":[1,2]}`)
	id, err := store.Create(markupID, 0, body)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	other, err := store.Create(markupID, 0, body)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	got, err := store.Get(markupID, 0, id)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	updated := []byte(`{"name":"Final"}`)
	require.NoError(t, store.Replace(markupID, 0, id, updated))
	got, err = store.Get(markupID, 0, id)
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	require.NoError(t, store.Delete(markupID, 0, id))
	_, err = store.Get(markupID, 0, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLayerRecordNoUpsert(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalLayerStore(dir)
	unknown := "0b1f3c52-8d57-4b8e-a3a4-62f7d6f0f0aa"

	assert.ErrorIs(t, store.Replace(markupID, 0, unknown, []byte(`{}`)), ErrNotFound)
	assert.ErrorIs(t, store.Delete(markupID, 0, unknown), ErrNotFound)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLayerRecordList(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalLayerStore(dir)

	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write(markupID+"_0_aaa.json", `{"name":"First","originalXmlName":"first.xml"}`)
	write(markupID+"_0_bbb.json", `{"other":true}`)
	write(markupID+"_0_broken.json", `{not json`)
	write(markupID+"_1_ccc.json", `{"name":"Attachment"}`)
	write("FF-FF_0_ddd.json", `{"name":"Other document"}`)
	write(markupID+"_0_notes.xml", `<xml/>`)

	summaries, err := store.List(markupID, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "aaa", summaries[0].LayerRecordID)
	assert.Equal(t, "First", summaries[0].Name)
	assert.Equal(t, "first.xml", summaries[0].OriginalXMLName)

	assert.Equal(t, "bbb", summaries[1].LayerRecordID)
	assert.Equal(t, "", summaries[1].Name)
	assert.Equal(t, "", summaries[1].OriginalXMLName)

	empty, err := NewLocalLayerStore(filepath.Join(dir, "missing")).List(markupID, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLayerRecordListSkipsVanishedFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalLayerStore(dir)
	prefix := layerPrefix(markupID, 0)
	require.NoError(t, os.WriteFile(filepath.Join(dir, prefix+"aaa.json"), []byte(`{"name":"Kept"}`), 0o644))

	summaries, err := store.summarize(prefix, []string{prefix + "aaa.json", prefix + "deleted.json"})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "aaa", summaries[0].LayerRecordID)
}

func TestLayerRecordRejectsTraversal(t *testing.T) {
	store := NewLocalLayerStore(t.TempDir())

	_, err := store.Get(markupID, 0, "../../etc/passwd")
	var vErr *validation.Error
	assert.True(t, errors.As(err, &vErr))

	_, err = store.Create("../up", 0, []byte(`{}`))
	assert.True(t, errors.As(err, &vErr))
}

func TestStorageErrorOnWriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	// The store directory is a regular file, so creating records fails.
	store := NewLocalLayerStore(blocker)
	_, err := store.Create(markupID, 0, []byte(`{}`))

	var sErr *Error
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, CodeWriteFailed, sErr.Code)
	assert.NotEmpty(t, sErr.ResourceID)
	assert.NotEmpty(t, sErr.Details())
}

func TestMarkupStore(t *testing.T) {
	store := NewMarkupStore(t.TempDir())

	require.NoError(t, store.Save(markupID, 0, "Review Notes", []byte("<markup/>")))
	require.NoError(t, store.Save(markupID, 0, "Approved", []byte("<a/>")))
	require.NoError(t, store.Save(markupID, 1, "Attachment", []byte("<b/>")))
	require.NoError(t, store.Save(markupID, 0, "Approved", []byte("<a2/>")))

	require.NoError(t, os.WriteFile(filepath.Join(store.Dir, markupID+"_0_Upper.XML"), []byte("<c/>"), 0o644))

	labels, err := store.Labels(markupID, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Approved", "Review Notes"}, labels)
	for _, label := range labels {
		_, err := store.Load(markupID, 0, label)
		assert.NoError(t, err)
	}

	data, err := store.Load(markupID, 0, "Approved")
	require.NoError(t, err)
	assert.Equal(t, "<a2/>", string(data))

	_, err = store.Load(markupID, 0, "Missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImageStampStore(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"Approved.PNG", "draft.gif", "notes.txt", "logo.bmp", "bad\xff.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	store := NewImageStampStore(dir, []string{"png", "jpg", "jpeg", "gif"})

	stamps, err := store.List()
	require.NoError(t, err)
	require.Len(t, stamps, 2)
	assert.Equal(t, "Approved.PNG", stamps[0].DisplayName)
	assert.Equal(t, idcodec.Encode("Approved.PNG"), stamps[0].ID)

	stamp, err := store.Read(stamps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "image/png", stamp.MimeType)
	assert.Equal(t, []byte("Approved.PNG"), stamp.Data)

	_, err = store.Read(idcodec.Encode("logo.bmp"))
	assert.ErrorIs(t, err, validation.ErrInvalidImageType)

	_, err = store.Read(idcodec.Encode("../secret.png"))
	assert.ErrorIs(t, err, validation.ErrInvalidFileName)

	_, err = store.Read(idcodec.Encode("missing.gif"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Read("!!")
	assert.ErrorIs(t, err, idcodec.ErrInvalidToken)
}

func TestSearchTermsStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "legal.json"), []byte(`{"terms":[]}`), 0o644))
	store := NewSearchTermsStore(dir)

	data, err := store.Get("legal")
	require.NoError(t, err)
	assert.JSONEq(t, `{"terms":[]}`, string(data))

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get("../legal")
	assert.ErrorIs(t, err, validation.ErrInvalidResourceID)
}
