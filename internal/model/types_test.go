package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCloneIsDeep(t *testing.T) {
	done := time.Now()
	job := &GenerationJob{
		ID:                   "job-1",
		ImageAnalysis:        &Profile{Clothing: "red dress"},
		ImageSlots:           []ImageSlot{{Index: 0, Status: SlotSuccess, URL: "a"}},
		RegeneratedImageURLs: []string{"a"},
		SelectedImageURLs:    []string{},
		Videos:               []GeneratedVideo{{ID: "video-1"}},
		CompletedAt:          &done,
	}

	c := job.Clone()
	c.ImageAnalysis.Clothing = "jeans"
	c.ImageSlots[0].URL = "b"
	c.RegeneratedImageURLs[0] = "b"
	c.Videos[0].ID = "video-2"
	*c.CompletedAt = done.Add(time.Hour)

	assert.Equal(t, "red dress", job.ImageAnalysis.Clothing)
	assert.Equal(t, "a", job.ImageSlots[0].URL)
	assert.Equal(t, []string{"a"}, job.RegeneratedImageURLs)
	assert.Equal(t, "video-1", job.Videos[0].ID)
	assert.Equal(t, done, *job.CompletedAt)
	assert.NotNil(t, c.SelectedImageURLs, "empty slices stay empty, not null")
	assert.Nil(t, (*GenerationJob)(nil).Clone())
}

func TestSelectionHelpers(t *testing.T) {
	job := &GenerationJob{RegeneratedImageURLs: []string{"a", "b"}, SelectedImageURLs: []string{"b"}}

	assert.True(t, job.HasImage("a"))
	assert.False(t, job.HasImage("c"))
	assert.True(t, job.IsSelected("b"))
	assert.False(t, job.IsSelected("a"))

	assert.False(t, job.IsDone())
	job.Status = StatusFailed
	assert.True(t, job.IsDone())
}

func TestMaskedKeys(t *testing.T) {
	k := APIKeys{Kie: "abcdefghijkl", Analysis: "short", N8NWebhook: "https://hook", FacebookAccessToken: ""}.Masked()

	assert.Equal(t, "****ijkl", k.Kie)
	assert.Equal(t, "****", k.Analysis)
	assert.Equal(t, "https://hook", k.N8NWebhook)
	assert.Equal(t, "", k.FacebookAccessToken)
}
