package studio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingRecorder struct {
	slots, videos, jobs []string
}

func (r *countingRecorder) SlotFinished(s string)  { r.slots = append(r.slots, s) }
func (r *countingRecorder) VideoFinished(s string) { r.videos = append(r.videos, s) }
func (r *countingRecorder) JobFinished(s string)   { r.jobs = append(r.jobs, s) }

func TestMetricsObserver(t *testing.T) {
	rec := &countingRecorder{}
	obs := Observers{nil, MetricsObserver(rec)}

	for _, k := range []EventKind{
		EventJobUpdated, EventSlotStarted, EventSlotSucceeded, EventSlotFailed, EventImagesReady,
		EventVideoStarted, EventVideoCompleted, EventVideoFailed, EventJobFailed, EventJobCompleted,
	} {
		obs.Notify(Event{Kind: k, Index: -1})
	}

	assert.Equal(t, []string{"success", "failed"}, rec.slots)
	assert.Equal(t, []string{"completed", "failed"}, rec.videos)
	assert.Equal(t, []string{"image-ready", "failed", "completed"}, rec.jobs)
}

func TestSlotFailuresErrorMessage(t *testing.T) {
	err := &SlotFailuresError{Failures: []SlotFailure{{Index: 0, Message: "a"}, {Index: 1, Message: "b"}}}
	assert.Equal(t, "all 2 image generations failed: image 1: a; image 2: b", err.Error())
}
