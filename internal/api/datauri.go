package api

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

var dataURIPrefix = regexp.MustCompile(`^data:(image/(?:png|jpeg|jpg));base64,`)

// NormalizeReference accepts either raw image bytes or a base64 data URI and
// returns the raw bytes with their MIME type. The MIME type is empty when it
// cannot be determined.
func NormalizeReference(ref []byte) ([]byte, string, error) {
	if bytes.HasPrefix(ref, []byte("data:")) {
		return DecodeDataURI(string(ref))
	}
	return ref, sniffImageType(ref), nil
}

// DecodeDataURI strips a data:image/...;base64, prefix and decodes the payload
func DecodeDataURI(uri string) ([]byte, string, error) {
	m := dataURIPrefix.FindStringSubmatch(uri)
	if m == nil {
		return nil, "", fmt.Errorf("unsupported data URI")
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(uri[len(m[0]):]))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode data URI: %w", err)
	}

	mimeType := m[1]
	if mimeType == "image/jpg" {
		mimeType = "image/jpeg"
	}
	return data, mimeType, nil
}

// EncodeDataURI renders image bytes as a data URI for display clients
func EncodeDataURI(data []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = sniffImageType(data)
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func sniffImageType(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if ct := http.DetectContentType(data); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return ""
}
