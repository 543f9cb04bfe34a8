// Package storage provides the persistence layer of the image inventory.
//
// Three backends implement the Store interface:
//   - CouchDB (default) through the eve.evalgo.org/db library
//   - PostgreSQL through jackc/pgx, using the legacy single-letter state codes
//   - an in-memory store for development and tests
//
// Backends return ErrNotFound for missing records and ErrDuplicate when a
// unique name is already taken. Persisted image states are decoded with
// models.DecodeImageStateOrDefault, so an unreadable state never fails a
// read; it turns into REVOKED.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"evalgo.org/inventory/internal/config"
	"evalgo.org/inventory/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique name is already in use.
	ErrDuplicate = errors.New("duplicate record")
)

// Store is the persistence interface used by the inventory service.
type Store interface {
	// SaveImage inserts or replaces the image with img.ID.
	SaveImage(ctx context.Context, img *models.Image) error
	GetImage(ctx context.Context, id string) (*models.Image, error)
	GetImageByName(ctx context.Context, name string) (*models.Image, error)
	ListImages(ctx context.Context, q models.ImageQuery) ([]*models.Image, error)
	DeleteImage(ctx context.Context, id string) error

	// SaveRelease inserts or replaces the release with rel.ID.
	SaveRelease(ctx context.Context, rel *models.Release) error
	GetRelease(ctx context.Context, id string) (*models.Release, error)
	GetReleaseByName(ctx context.Context, name string) (*models.Release, error)
	// ListReleases returns releases whose name contains filter (case-insensitive).
	ListReleases(ctx context.Context, filter string) ([]*models.Release, error)
	DeleteRelease(ctx context.Context, id string) error
	// ReleasesReferencingImage returns the IDs of the releases containing imageID.
	ReleasesReferencingImage(ctx context.Context, imageID string) ([]string, error)

	SaveElement(ctx context.Context, el *models.Element) error
	GetElement(ctx context.Context, id string) (*models.Element, error)
	ListElements(ctx context.Context) ([]*models.Element, error)

	// ListElementImages returns the images installed on one element.
	ListElementImages(ctx context.Context, elementID string) ([]models.ElementInstalledImage, error)
	// ListInstalledImages returns the installation rows of one image, or of
	// all images when imageID is empty.
	ListInstalledImages(ctx context.Context, imageID string) ([]models.ElementInstalledImage, error)
	SaveElementImage(ctx context.Context, row models.ElementInstalledImage) error
	DeleteElementImage(ctx context.Context, elementID, imageID string) error

	// Info reports backend statistics for health checks.
	Info(ctx context.Context) (*Info, error)
	Close() error
}

// Info describes the state of a storage backend.
type Info struct {
	Backend   string `json:"backend"`
	Database  string `json:"database"`
	Documents int64  `json:"documents"`
	Deleted   int64  `json:"deleted,omitempty"`
}

// New creates the store selected by cfg.Storage.Backend.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case "", "couchdb":
		return NewCouchStore(cfg, logger)
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, cfg.Postgres)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

// MatchImage reports whether img satisfies the filters of q. Role and
// chipset filters treat an unset image role or chipset as a wildcard.
func MatchImage(img *models.Image, q models.ImageQuery) bool {
	if q.ElementRole != "" && img.ElementRole != "" && img.ElementRole != q.ElementRole {
		return false
	}
	if q.PlatformChipset != "" && img.PlatformChipset != "" && img.PlatformChipset != q.PlatformChipset {
		return false
	}
	if q.ImageType != "" && img.ImageType != q.ImageType {
		return false
	}
	if q.ImageState != "" && img.State != q.ImageState {
		return false
	}
	if q.ImageVersion != "" && img.Version.String() != q.ImageVersion {
		return false
	}
	if q.Filter != "" && !strings.Contains(strings.ToLower(img.Name), strings.ToLower(q.Filter)) {
		return false
	}
	return true
}

func applyLimit(images []*models.Image, limit int) []*models.Image {
	if limit > 0 && len(images) > limit {
		return images[:limit]
	}
	return images
}

func matchReleaseName(name, filter string) bool {
	return filter == "" || strings.Contains(strings.ToLower(name), strings.ToLower(filter))
}
