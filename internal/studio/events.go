package studio

import (
	"dance-studio/internal/model"
)

type EventKind string

const (
	EventJobUpdated     EventKind = "job.updated"
	EventSlotStarted    EventKind = "slot.started"
	EventSlotSucceeded  EventKind = "slot.succeeded"
	EventSlotFailed     EventKind = "slot.failed"
	EventImagesReady    EventKind = "images.ready"
	EventVideoStarted   EventKind = "video.started"
	EventVideoCompleted EventKind = "video.completed"
	EventVideoFailed    EventKind = "video.failed"
	EventJobCompleted   EventKind = "job.completed"
	EventJobFailed      EventKind = "job.failed"
)

// Event is one progress notification. Job is a snapshot the receiver may
// keep. Index is the slot or video position, -1 when not applicable.
type Event struct {
	Kind  EventKind
	Job   *model.GenerationJob
	Index int
	Total int
	Err   error
}

// Observer receives events synchronously, in order, on the goroutine that
// drives the pipeline. Implementations must not block for long.
type Observer interface {
	Notify(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

// Observers fans an event out to each observer in order.
type Observers []Observer

func (obs Observers) Notify(e Event) {
	for _, o := range obs {
		if o != nil {
			o.Notify(e)
		}
	}
}

// Recorder is the subset of the metrics API the pipeline reports to.
type Recorder interface {
	SlotFinished(status string)
	VideoFinished(status string)
	JobFinished(status string)
}

// MetricsObserver translates pipeline events into counter updates.
func MetricsObserver(r Recorder) Observer {
	return ObserverFunc(func(e Event) {
		switch e.Kind {
		case EventSlotSucceeded:
			r.SlotFinished(string(model.SlotSuccess))
		case EventSlotFailed:
			r.SlotFinished(string(model.SlotFailed))
		case EventVideoCompleted:
			r.VideoFinished(string(model.VideoCompleted))
		case EventVideoFailed:
			r.VideoFinished(string(model.VideoFailed))
		case EventImagesReady:
			r.JobFinished(string(model.StatusImageReady))
		case EventJobCompleted:
			r.JobFinished(string(model.StatusCompleted))
		case EventJobFailed:
			r.JobFinished(string(model.StatusFailed))
		}
	})
}
