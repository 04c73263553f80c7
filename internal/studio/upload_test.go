package studio

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeUpload(t *testing.T) {
	uri, err := EncodeUpload(pngBytes, "image/jpeg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"), "sniffed type wins")

	uri, err = EncodeUpload([]byte("ftypheic payload"), "IMAGE/HEIC")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:image/heic;base64,"))

	_, err = EncodeUpload([]byte("plain text"), "")
	assert.ErrorIs(t, err, ErrNotAnImage)

	_, err = EncodeUpload(nil, "image/png")
	assert.ErrorIs(t, err, ErrMissingImage)

	_, err = EncodeUpload(make([]byte, MaxUploadBytes+1), "image/png")
	assert.ErrorIs(t, err, ErrImageTooLarge)

	_, err = EncodeUpload(make([]byte, MaxUploadBytes), "image/png")
	assert.NoError(t, err, "exactly 10MB is accepted")
}

func TestCheckDataURI(t *testing.T) {
	assert.NoError(t, checkDataURI(" data:image/webp;base64,UklGRg== "))
	assert.ErrorIs(t, checkDataURI(""), ErrMissingImage)
	assert.ErrorIs(t, checkDataURI("https://example.com/a.png"), ErrNotAnImage)
	assert.ErrorIs(t, checkDataURI("data:image/png,raw"), ErrNotAnImage)
}
