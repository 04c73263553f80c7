package studio

import (
	"encoding/base64"
	"net/http"
	"strings"
)

const MaxUploadBytes = 10 << 20

// EncodeUpload validates an uploaded image and returns it as a data URI.
// The sniffed content type wins over the declared one.
func EncodeUpload(data []byte, declared string) (string, error) {
	if len(data) == 0 {
		return "", ErrMissingImage
	}
	if len(data) > MaxUploadBytes {
		return "", ErrImageTooLarge
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		declared = strings.ToLower(strings.TrimSpace(declared))
		if !strings.HasPrefix(declared, "image/") {
			return "", ErrNotAnImage
		}
		mime = declared
	}

	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// checkDataURI accepts an already encoded upload.
func checkDataURI(uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return ErrMissingImage
	}
	header, payload, ok := strings.Cut(uri, ",")
	if !ok || !strings.HasPrefix(header, "data:image/") || !strings.HasSuffix(header, ";base64") {
		return ErrNotAnImage
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxUploadBytes+2 {
		return ErrImageTooLarge
	}
	return nil
}
