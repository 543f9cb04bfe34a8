package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"eve.evalgo.org/db"
	"go.uber.org/zap"

	"evalgo.org/inventory/models"
)

// ChangeType represents the type of change that occurred.
type ChangeType string

const (
	ChangeTypeCreated ChangeType = "created"
	ChangeTypeUpdated ChangeType = "updated"
	ChangeTypeDeleted ChangeType = "deleted"
)

// ImageChange represents a change to an image document.
type ImageChange struct {
	Type     ChangeType
	Image    *models.Image
	Sequence string
}

// ImageChangeHandler handles image changes.
type ImageChangeHandler func(change ImageChange)

// ChangeWatcher is implemented by stores that can stream image changes
// made by other writers.
type ChangeWatcher interface {
	WatchImageChanges(handler ImageChangeHandler) error
}

// WatchImageChanges listens for image changes in real-time. It blocks until
// the changes feed fails.
func (s *CouchStore) WatchImageChanges(handler ImageChangeHandler) error {
	opts := db.ChangesFeedOptions{
		Since:       "now",
		Feed:        "continuous",
		IncludeDocs: true,
		Heartbeat:   30000, // 30 seconds
		Selector: map[string]interface{}{
			"@type": typeImage,
		},
	}

	s.logger.Info("watching image changes", zap.String("database", s.database))

	return s.service.ListenChanges(opts, func(change db.Change) {
		imageChange := processImageChange(change)
		if imageChange != nil {
			handler(*imageChange)
		}
	})
}

// processImageChange converts a db.Change to an ImageChange. It returns nil
// for documents that are not images.
func processImageChange(change db.Change) *ImageChange {
	if change.Deleted {
		id, ok := strings.CutPrefix(change.ID, "image:")
		if !ok {
			return nil
		}
		return &ImageChange{
			Type:     ChangeTypeDeleted,
			Image:    &models.Image{ID: id},
			Sequence: change.Seq,
		}
	}

	var doc imageDoc
	if err := json.Unmarshal(change.Doc, &doc); err != nil || doc.Type != typeImage {
		return nil
	}

	// CouchDB does not flag creations; a first revision is one
	changeType := ChangeTypeUpdated
	if strings.HasPrefix(doc.Rev, "1-") {
		changeType = ChangeTypeCreated
	}

	return &ImageChange{
		Type:     changeType,
		Image:    docToImage(&doc),
		Sequence: change.Seq,
	}
}

// String returns a formatted string representation of the image change.
func (c *ImageChange) String() string {
	if c.Type == ChangeTypeDeleted {
		return fmt.Sprintf("[%s] Image deleted: %s", c.Type, c.Image.ID)
	}
	return fmt.Sprintf("[%s] Image: %s (%s) - State: %s",
		c.Type,
		c.Image.Name,
		c.Image.ID,
		c.Image.State,
	)
}
