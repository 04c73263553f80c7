package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeImageRequestShape(t *testing.T) {
	var got generateContentRequest
	var path, key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"{\"age_range\":"},{"text":"\"30s\"}"}]}}]}`)
	}))
	defer srv.Close()

	c := New(Options{APIKey: "g-key", BaseURL: srv.URL, HTTPClient: srv.Client()})
	text, err := c.DescribeImage(context.Background(), "describe", ImageInput{DataBase64: "data:image/png;base64,QUJD", MimeType: "image/png"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"age_range":"30s"}`, text)
	assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", path)
	assert.Equal(t, "g-key", key)
	assert.Equal(t, "application/json", got.GenerationConfig.ResponseMimeType)
	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 2)
	assert.Equal(t, "describe", got.Contents[0].Parts[0].Text)
	assert.Equal(t, "QUJD", got.Contents[0].Parts[1].InlineData.Data)
}

func TestDescribeImageStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Options{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := c.DescribeImage(context.Background(), "x", ImageInput{DataBase64: "QUJD", MimeType: "image/jpeg"})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Contains(t, se.Body, "quota")
}

func TestDescribeImageRequiresKey(t *testing.T) {
	c := New(Options{HTTPClient: http.DefaultClient})

	_, err := c.DescribeImage(context.Background(), "x", ImageInput{DataBase64: "QUJD"})

	assert.ErrorContains(t, err, "api key")
}

func TestImageFromDataURL(t *testing.T) {
	img, ok := ImageFromDataURL("data:image/webp;base64,AAAA")
	require.True(t, ok)
	assert.Equal(t, ImageInput{DataBase64: "AAAA", MimeType: "image/webp"}, img)

	_, ok = ImageFromDataURL("https://cdn.test/a.png")
	assert.False(t, ok)

	_, ok = ImageFromDataURL("data:image/png;base64,")
	assert.False(t, ok)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}
