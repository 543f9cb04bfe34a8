package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"evalgo.org/inventory/internal/storage"
	"evalgo.org/inventory/models"
)

// StoreImage adds a new image or updates an existing one. An image without
// ID is new and gets a fresh UUID. It reports whether the image was created.
//
// A new image without state starts as NEW. For an existing image a missing
// state keeps the current one, and a different state is applied through
// UpdateImageState.
func (s *Service) StoreImage(ctx context.Context, img *models.Image) (bool, error) {
	if err := firstValidationError(s.validator.ValidateImage(img)); err != nil {
		return false, err
	}

	var existing *models.Image
	if img.ID == "" {
		img.ID = models.NewID()
	} else {
		current, err := s.store.GetImage(ctx, img.ID)
		switch {
		case err == nil:
			existing = current
		case !errors.Is(err, storage.ErrNotFound):
			return false, fmt.Errorf("load image %s: %w", img.ID, err)
		}
	}

	if err := s.checkImageName(ctx, img); err != nil {
		return false, err
	}

	requested := img.State
	if existing == nil {
		if requested == "" {
			img.State = models.ImageStateNew
		}
	} else {
		img.State = existing.State
	}

	if err := s.store.SaveImage(ctx, img); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return false, &UniqueConstraintError{Kind: "image", Name: img.Name}
		}
		return false, fmt.Errorf("save image %s: %w", img.Name, err)
	}

	if existing == nil {
		s.logger.Info("image added",
			zap.String("image_id", img.ID),
			zap.String("image_name", img.Name),
			zap.String("image_version", img.Version.String()))
		s.publish(EventImageAdded, img, "")
		return true, nil
	}

	s.logger.Info("image stored",
		zap.String("image_id", img.ID),
		zap.String("image_name", img.Name))
	s.publish(EventImageStored, img, "")

	if requested != "" && requested != existing.State {
		updated, err := s.UpdateImageState(ctx, img.ID, requested)
		if err != nil {
			return false, err
		}
		*img = *updated
	}
	return false, nil
}

// checkImageName rejects img when another image already owns its name.
func (s *Service) checkImageName(ctx context.Context, img *models.Image) error {
	other, err := s.store.GetImageByName(ctx, img.Name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("load image %s: %w", img.Name, err)
	case other.ID != img.ID:
		return &UniqueConstraintError{Kind: "image", Name: img.Name}
	}
	return nil
}

// GetImage returns the image with the given ID.
func (s *Service) GetImage(ctx context.Context, id string) (*models.Image, error) {
	return s.getImage(ctx, id)
}

// FindImages lists the images matching q. Revoked images are included
// unless q filters by state.
func (s *Service) FindImages(ctx context.Context, q models.ImageQuery) ([]*models.Image, error) {
	images, err := s.store.ListImages(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return images, nil
}

// ApplicableImages lists the non-revoked images an element with the given
// role and chipset can run, highest version first.
func (s *Service) ApplicableImages(ctx context.Context, q ApplicabilityQuery) ([]*models.Image, error) {
	images, err := s.store.ListImages(ctx, models.ImageQuery{ImageType: q.ImageType})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return FindApplicableImages(images, q), nil
}

// RoleImages lists the non-revoked images applicable to role.
func (s *Service) RoleImages(ctx context.Context, role string) ([]*models.Image, error) {
	images, err := s.store.ListImages(ctx, models.ImageQuery{ElementRole: role})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return NewCatalog(images, nil).RoleImages(role), nil
}

// ImageTypes returns the distinct image types in alphabetical order.
func (s *Service) ImageTypes(ctx context.Context) ([]string, error) {
	images, err := s.store.ListImages(ctx, models.ImageQuery{})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	seen := make(map[string]struct{})
	types := make([]string, 0)
	for _, img := range images {
		if _, ok := seen[img.ImageType]; ok {
			continue
		}
		seen[img.ImageType] = struct{}{}
		types = append(types, img.ImageType)
	}
	sort.Strings(types)
	return types, nil
}

// ImageVersions returns the distinct versions per image type, highest first.
// An empty imageType selects all types.
func (s *Service) ImageVersions(ctx context.Context, imageType string) ([]models.ImageTypeVersions, error) {
	images, err := s.store.ListImages(ctx, models.ImageQuery{ImageType: imageType})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	byType := make(map[string][]models.Version)
	for _, img := range images {
		if !img.Version.IsValid() {
			continue
		}
		known := false
		for _, v := range byType[img.ImageType] {
			if v.Equal(img.Version) {
				known = true
				break
			}
		}
		if !known {
			byType[img.ImageType] = append(byType[img.ImageType], img.Version)
		}
	}

	result := make([]models.ImageTypeVersions, 0, len(byType))
	for t, versions := range byType {
		sort.SliceStable(versions, func(i, j int) bool {
			return versions[i].Compare(versions[j]) > 0
		})
		result = append(result, models.ImageTypeVersions{ImageType: t, Versions: versions})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ImageType < result[j].ImageType })
	return result, nil
}

// RemoveImage removes an image that is neither part of a release nor
// installed on an element.
func (s *Service) RemoveImage(ctx context.Context, id string) (*models.Image, error) {
	img, err := s.getImage(ctx, id)
	if err != nil {
		return nil, err
	}

	releases, err := s.store.ReleasesReferencingImage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find releases of image %s: %w", id, err)
	}
	if len(releases) > 0 {
		return nil, conflictErrorf("image %s is part of release(s) %s", img.Name, strings.Join(releases, ", "))
	}

	rows, err := s.store.ListInstalledImages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find installations of image %s: %w", id, err)
	}
	if len(rows) > 0 {
		return nil, conflictErrorf("image %s is installed on %d element(s)", img.Name, len(rows))
	}

	if err := s.store.DeleteImage(ctx, id); err != nil {
		return nil, notFound(err, "image", id)
	}

	s.logger.Info("image removed", zap.String("image_id", id), zap.String("image_name", img.Name))
	s.publish(EventImageRemoved, img, "")
	return img, nil
}

// UpdateImageState moves an image to state.
//
// Setting the current state is a no-op. SUPERSEDED cannot be set
// explicitly. Releasing an image marks all older non-revoked images of the
// same type, role and chipset as SUPERSEDED and all newer ones as CANDIDATE.
func (s *Service) UpdateImageState(ctx context.Context, id string, state models.ImageState) (*models.Image, error) {
	if !state.IsValid() {
		return nil, validationErrorf("image_state", "unknown image state %q", state)
	}
	if state == models.ImageStateSuperseded {
		return nil, validationErrorf("image_state", "%s cannot be set explicitly; release a newer image instead", state)
	}

	img, err := s.getImage(ctx, id)
	if err != nil {
		return nil, err
	}
	if img.State == state {
		return img, nil
	}

	if err := s.setState(ctx, img, state); err != nil {
		return nil, err
	}

	if state == models.ImageStateRelease {
		if err := s.rebaseLineage(ctx, img); err != nil {
			return nil, err
		}
	}
	return img, nil
}

func (s *Service) setState(ctx context.Context, img *models.Image, state models.ImageState) error {
	previous := img.State
	img.State = state
	if err := s.store.SaveImage(ctx, img); err != nil {
		img.State = previous
		return fmt.Errorf("update state of image %s: %w", img.Name, err)
	}

	stateTransitions.WithLabelValues(string(previous), string(state)).Inc()
	s.logger.Info("image state changed",
		zap.String("image_id", img.ID),
		zap.String("image_name", img.Name),
		zap.String("from", string(previous)),
		zap.String("to", string(state)))
	s.publish(EventImageStateChanged, img, previous)
	return nil
}

// rebaseLineage supersedes the older and demotes the newer images of the
// lineage of a released image.
func (s *Service) rebaseLineage(ctx context.Context, released *models.Image) error {
	siblings, err := s.store.ListImages(ctx, models.ImageQuery{ImageType: released.ImageType})
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}

	for _, other := range siblings {
		if other.ID == released.ID || !released.SameLineage(other) {
			continue
		}
		if other.State == models.ImageStateRevoked || !other.Version.IsValid() {
			continue
		}

		var target models.ImageState
		switch cmp := other.Version.Compare(released.Version); {
		case cmp < 0:
			target = models.ImageStateSuperseded
		case cmp > 0:
			target = models.ImageStateCandidate
		default:
			continue
		}
		if other.State == target {
			continue
		}
		if err := s.setState(ctx, other, target); err != nil {
			return err
		}
	}
	return nil
}
