package inventory

import (
	"time"

	"evalgo.org/inventory/internal/storage"
	"evalgo.org/inventory/models"
)

// EventType names an image lifecycle event.
type EventType string

const (
	EventImageAdded        EventType = "IMAGE_ADDED"
	EventImageStored       EventType = "IMAGE_STORED"
	EventImageRemoved      EventType = "IMAGE_REMOVED"
	EventImageStateChanged EventType = "IMAGE_STATE_CHANGED"
)

// Event is published whenever an image is added, updated, removed or
// changes its lifecycle state.
type Event struct {
	Type          EventType         `json:"type"`
	ImageID       string            `json:"image_id"`
	ImageName     string            `json:"image_name"`
	ImageType     string            `json:"image_type,omitempty"`
	ImageVersion  models.Version    `json:"image_version"`
	ImageState    models.ImageState `json:"image_state,omitempty"`
	PreviousState models.ImageState `json:"previous_state,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// EventSink receives image events. Publish must not block.
type EventSink interface {
	Publish(event Event)
}

func newImageEvent(t EventType, img *models.Image) Event {
	return Event{
		Type:         t,
		ImageID:      img.ID,
		ImageName:    img.Name,
		ImageType:    img.ImageType,
		ImageVersion: img.Version,
		ImageState:   img.State,
		Timestamp:    time.Now().UTC(),
	}
}

// ChangeEvent converts an image change observed in the store into an event.
func ChangeEvent(change storage.ImageChange) Event {
	t := EventImageStored
	switch change.Type {
	case storage.ChangeTypeCreated:
		t = EventImageAdded
	case storage.ChangeTypeDeleted:
		t = EventImageRemoved
	}
	return newImageEvent(t, change.Image)
}
