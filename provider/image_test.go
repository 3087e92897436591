package provider

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"agentcore/model"
)

func TestInlineLocalImageReadsLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pic.png")
	require.NoError(t, os.WriteFile(path, []byte("pngbytes"), 0o600))

	data, mediaType, ok, err := InlineLocalImage("gemini", path, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("pngbytes"), data)
	require.Equal(t, "image/png", mediaType)
}

func TestInlineLocalImageMissingFileIsInvalidRequest(t *testing.T) {
	_, _, ok, err := InlineLocalImage("gemini", "/no/such/path.png", "")
	require.False(t, ok)
	require.Error(t, err)
	require.True(t, model.IsCode(err, model.ErrorCodeInvalidRequest))
}

func TestInlineLocalImagePassesThroughRemoteURL(t *testing.T) {
	data, mediaType, ok, err := InlineLocalImage("gemini", "https://example.com/pic.png", "image/png")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, data)
	require.Empty(t, mediaType)
}

func TestInlineLocalImagePassesThroughDataURI(t *testing.T) {
	_, _, ok, err := InlineLocalImage("gemini", "data:image/png;base64,Zm9v", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEncodeLocalImageBase64EncodesLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pic.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpgbytes"), 0o600))

	b64, mediaType, ok, err := EncodeLocalImageBase64("anthropic", path, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "image/jpeg", mediaType)
	require.NotEmpty(t, b64)
}
