package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"evalgo.org/inventory/internal/storage"
	"evalgo.org/inventory/models"
)

// Releases lists the releases whose name contains filter.
func (s *Service) Releases(ctx context.Context, filter string) ([]models.ReleaseRef, error) {
	releases, err := s.store.ListReleases(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	refs := make([]models.ReleaseRef, 0, len(releases))
	for _, rel := range releases {
		refs = append(refs, rel.Ref())
	}
	return refs, nil
}

// Release returns a release by ID or name.
func (s *Service) Release(ctx context.Context, key string) (*models.Release, error) {
	rel, err := s.store.GetRelease(ctx, key)
	if err == nil {
		return rel, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load release %s: %w", key, err)
	}
	rel, err = s.store.GetReleaseByName(ctx, key)
	if err != nil {
		return nil, notFound(err, "release", key)
	}
	return rel, nil
}

// StoreRelease adds or updates a release. All images must exist and no
// role/chipset pair may be served by two images. It reports whether the
// release was created.
func (s *Service) StoreRelease(ctx context.Context, rel *models.Release) (bool, error) {
	if err := firstValidationError(s.validator.ValidateRelease(rel)); err != nil {
		return false, err
	}

	images := make([]*models.Image, 0, len(rel.Images))
	for i := range rel.Images {
		img, err := s.getImage(ctx, rel.Images[i].ImageID)
		if err != nil {
			return false, err
		}
		images = append(images, img)
	}
	if err := NewCatalog(images, nil).ValidateRelease(rel); err != nil {
		return false, err
	}
	for i, img := range images {
		ri := &rel.Images[i]
		ri.ImageName = img.Name
		ri.ImageType = img.ImageType
		ri.ImageVersion = img.Version
		ri.ImageState = img.State
		ri.PlatformChipset = img.PlatformChipset
	}

	created := false
	if rel.ID == "" {
		rel.ID = models.NewID()
		created = true
	} else if _, err := s.store.GetRelease(ctx, rel.ID); errors.Is(err, storage.ErrNotFound) {
		created = true
	} else if err != nil {
		return false, fmt.Errorf("load release %s: %w", rel.ID, err)
	}
	if rel.State == "" {
		rel.State = models.ImageStateNew
	}

	other, err := s.store.GetReleaseByName(ctx, rel.Name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("load release %s: %w", rel.Name, err)
	case other.ID != rel.ID:
		return false, &UniqueConstraintError{Kind: "release", Name: rel.Name}
	}

	if err := s.store.SaveRelease(ctx, rel); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return false, &UniqueConstraintError{Kind: "release", Name: rel.Name}
		}
		return false, fmt.Errorf("save release %s: %w", rel.Name, err)
	}

	s.logger.Info("release stored",
		zap.String("release_id", rel.ID),
		zap.String("release_name", rel.Name),
		zap.Int("images", len(rel.Images)),
		zap.Bool("created", created))
	return created, nil
}

// RemoveRelease removes a release by ID or name.
func (s *Service) RemoveRelease(ctx context.Context, key string) (*models.Release, error) {
	rel, err := s.Release(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteRelease(ctx, rel.ID); err != nil {
		return nil, notFound(err, "release", key)
	}
	s.logger.Info("release removed", zap.String("release_id", rel.ID), zap.String("release_name", rel.Name))
	return rel, nil
}

// ReleaseRoleImages lists the images of a release that serve role, highest
// version first.
func (s *Service) ReleaseRoleImages(ctx context.Context, key, role string) ([]*models.Image, error) {
	rel, err := s.Release(ctx, key)
	if err != nil {
		return nil, err
	}
	catalog, err := s.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.ReleaseImages(rel.ID, role)
}
