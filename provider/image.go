package provider

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"agentcore/model"
)

// InlineLocalImage resolves ref (an ImageURLPart.URL) into raw bytes + media
// type when it names a local filesystem path, per ImageURLPart's own
// contract: "adapters that cannot address images by URL inline the bytes
// themselves (reading local paths as needed)". Remote URLs and data URIs
// are left alone (ok=false) so callers pass them straight through to
// whichever wire field natively accepts them. A local path that cannot be
// read returns InvalidRequest, matching spec.md's "missing file ->
// InvalidRequest" boundary behaviour.
func InlineLocalImage(providerName, ref, mediaType string) (data []byte, resolvedMediaType string, ok bool, err error) {
	if ref == "" || isRemoteOrDataRef(ref) {
		return nil, "", false, nil
	}
	path := strings.TrimPrefix(ref, "file://")
	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, "", false, model.NewSdkError(model.ErrorCodeInvalidRequest, providerName,
			fmt.Sprintf("local image path %q could not be read: %v", ref, readErr), 0, nil)
	}
	resolved := mediaType
	if resolved == "" {
		resolved = mime.TypeByExtension(filepath.Ext(path))
	}
	if resolved == "" {
		resolved = "application/octet-stream"
	}
	return raw, resolved, true, nil
}

// EncodeLocalImageBase64 wraps InlineLocalImage for adapters (Anthropic)
// whose wire format wants a base64 string rather than raw bytes.
func EncodeLocalImageBase64(providerName, ref, mediaType string) (b64, resolvedMediaType string, ok bool, err error) {
	raw, resolved, ok, err := InlineLocalImage(providerName, ref, mediaType)
	if err != nil || !ok {
		return "", "", ok, err
	}
	return base64.StdEncoding.EncodeToString(raw), resolved, true, nil
}

// isRemoteOrDataRef reports whether ref already names something an
// HTTP-based API can fetch itself: a data URI, or a URL with a scheme other
// than the empty scheme or "file".
func isRemoteOrDataRef(ref string) bool {
	if strings.HasPrefix(ref, "data:") {
		return true
	}
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Scheme != "file"
}
