package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"evalgo.org/inventory/internal/storage"
	"evalgo.org/inventory/models"
)

// RegisterElement creates or updates the element view used for
// applicability checks and group statistics.
func (s *Service) RegisterElement(ctx context.Context, el *models.Element) error {
	if err := firstValidationError(s.validator.ValidateElement(el)); err != nil {
		return err
	}
	if err := s.store.SaveElement(ctx, el); err != nil {
		return fmt.Errorf("save element %s: %w", el.ID, err)
	}
	s.logger.Debug("element registered",
		zap.String("element_id", el.ID),
		zap.String("element_role", el.Role),
		zap.String("group_id", el.GroupID))
	return nil
}

// GetElement returns the registered element view.
func (s *Service) GetElement(ctx context.Context, id string) (*models.Element, error) {
	return s.getElement(ctx, id)
}

// StoreElementImages records the images reported by an element. Active
// references are stored as ACTIVE, all others as CACHED. Unknown images are
// skipped.
//
// With replace set, installed images missing from refs are removed; images
// waiting to be pulled by zero-touch provisioning are kept. Without replace,
// refs are merged into the installed images and a newly active image
// demotes the previously active image of the same type to CACHED.
func (s *Service) StoreElementImages(ctx context.Context, elementID string, refs []models.ElementImageReference, replace bool) error {
	if err := firstValidationError(s.validator.ValidateElementImages(refs)); err != nil {
		return err
	}
	el, err := s.getElement(ctx, elementID)
	if err != nil {
		return err
	}

	rows, err := s.store.ListElementImages(ctx, elementID)
	if err != nil {
		return fmt.Errorf("list images of element %s: %w", elementID, err)
	}
	current := make(map[string]models.ElementInstalledImage, len(rows))
	for _, row := range rows {
		current[row.ImageID] = row
	}

	now := time.Now().UTC()
	reported := make(map[string]bool, len(refs))
	activeTypes := make(map[string]bool)

	for _, ref := range refs {
		img, err := s.store.GetImage(ctx, ref.ImageID)
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("element reported unknown image",
				zap.String("element_id", el.ID),
				zap.String("image_id", ref.ImageID),
				zap.String("image_name", ref.ImageName))
			continue
		}
		if err != nil {
			return fmt.Errorf("load image %s: %w", ref.ImageID, err)
		}

		row, known := current[img.ID]
		if !known {
			row = models.ElementInstalledImage{ElementID: el.ID, ImageID: img.ID, DateInstalled: &now}
		}
		row.State = models.ElementImageCached
		if ref.Active {
			row.State = models.ElementImageActive
			activeTypes[img.ImageType] = true
		}
		if err := s.store.SaveElementImage(ctx, row); err != nil {
			return fmt.Errorf("save image %s of element %s: %w", img.ID, el.ID, err)
		}
		reported[img.ID] = true
	}

	for _, row := range rows {
		if reported[row.ImageID] || row.State == models.ElementImagePull {
			continue
		}
		if replace {
			if err := s.store.DeleteElementImage(ctx, el.ID, row.ImageID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("remove image %s of element %s: %w", row.ImageID, el.ID, err)
			}
			continue
		}
		if !row.IsActive() || len(activeTypes) == 0 {
			continue
		}
		img, err := s.store.GetImage(ctx, row.ImageID)
		if err != nil {
			continue
		}
		if activeTypes[img.ImageType] {
			row.State = models.ElementImageCached
			if err := s.store.SaveElementImage(ctx, row); err != nil {
				return fmt.Errorf("save image %s of element %s: %w", row.ImageID, el.ID, err)
			}
		}
	}

	s.logger.Info("element images stored",
		zap.String("element_id", el.ID),
		zap.Int("reported", len(refs)),
		zap.Int("stored", len(reported)),
		zap.Bool("replace", replace))
	return nil
}

// RemoveElementImage removes a cached image from an element. Removing an
// image that is not installed is a no-op; removing the active image is a
// conflict.
func (s *Service) RemoveElementImage(ctx context.Context, elementID, imageID string) error {
	if _, err := s.getElement(ctx, elementID); err != nil {
		return err
	}
	row, err := s.installedImage(ctx, elementID, imageID)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}
	if row.IsActive() {
		return conflictErrorf("image %s is active on element %s and cannot be removed", imageID, elementID)
	}
	if err := s.store.DeleteElementImage(ctx, elementID, imageID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("remove image %s of element %s: %w", imageID, elementID, err)
	}
	return nil
}

func (s *Service) installedImage(ctx context.Context, elementID, imageID string) (*models.ElementInstalledImage, error) {
	rows, err := s.store.ListElementImages(ctx, elementID)
	if err != nil {
		return nil, fmt.Errorf("list images of element %s: %w", elementID, err)
	}
	for i := range rows {
		if rows[i].ImageID == imageID {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// ElementImages returns the images installed on an element together with
// the upgrades available for each of them.
func (s *Service) ElementImages(ctx context.Context, elementID string) (*models.ElementImages, error) {
	el, err := s.getElement(ctx, elementID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListElementImages(ctx, elementID)
	if err != nil {
		return nil, fmt.Errorf("list images of element %s: %w", elementID, err)
	}
	catalog, err := s.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}

	result := &models.ElementImages{
		ElementID:   el.ID,
		ElementName: el.Name,
		ElementRole: el.Role,
		GroupID:     el.GroupID,
		GroupName:   el.GroupName,
		Images:      make([]models.ElementImage, 0, len(rows)),
	}
	for _, row := range rows {
		img, ok := catalog.Image(row.ImageID)
		if !ok {
			s.logger.Warn("installed image missing from catalog",
				zap.String("element_id", el.ID),
				zap.String("image_id", row.ImageID))
			continue
		}
		result.Images = append(result.Images, s.elementImage(el, img, row, catalog))
	}
	return result, nil
}

// ElementImage returns one installed image of an element with its upgrades.
func (s *Service) ElementImage(ctx context.Context, elementID, imageID string) (*models.ElementImage, error) {
	el, err := s.getElement(ctx, elementID)
	if err != nil {
		return nil, err
	}
	row, err := s.installedImage(ctx, elementID, imageID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, &NotFoundError{Kind: "element image", ID: elementID + "/" + imageID}
	}
	catalog, err := s.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	img, ok := catalog.Image(imageID)
	if !ok {
		return nil, &NotFoundError{Kind: "image", ID: imageID}
	}
	ei := s.elementImage(el, img, *row, catalog)
	return &ei, nil
}

// elementImage combines an installed image with its available upgrades. An
// image that is not applicable to the element or has no valid version has
// no upgrades.
func (s *Service) elementImage(el *models.Element, img *models.Image, row models.ElementInstalledImage, catalog *Catalog) models.ElementImage {
	upgrades, err := PlanUpgrades(el, img, catalog)
	if err != nil {
		upgradeComputations.WithLabelValues("rejected").Inc()
		s.logger.Debug("no upgrades computed",
			zap.String("element_id", el.ID),
			zap.String("image_id", img.ID),
			zap.Error(err))
		upgrades = []models.AvailableUpgrade{}
	} else {
		upgradeComputations.WithLabelValues("ok").Inc()
		upgradesFound.Observe(float64(len(upgrades)))
	}
	return models.ElementImage{
		Image:             *img,
		ElementImageState: row.State,
		Ztp:               row.Ztp,
		DateInstalled:     row.DateInstalled,
		AvailableUpgrades: upgrades,
	}
}

// ZtpImage returns the image an element boots by zero-touch provisioning.
func (s *Service) ZtpImage(ctx context.Context, elementID string) (*models.ElementImage, error) {
	if _, err := s.getElement(ctx, elementID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListElementImages(ctx, elementID)
	if err != nil {
		return nil, fmt.Errorf("list images of element %s: %w", elementID, err)
	}
	for _, row := range rows {
		if !row.Ztp {
			continue
		}
		img, err := s.getImage(ctx, row.ImageID)
		if err != nil {
			return nil, err
		}
		return &models.ElementImage{
			Image:             *img,
			ElementImageState: row.State,
			Ztp:               true,
			DateInstalled:     row.DateInstalled,
			AvailableUpgrades: []models.AvailableUpgrade{},
		}, nil
	}
	return nil, &NotFoundError{Kind: "zero-touch provisioning image", ID: elementID}
}

// SetZtpImage selects the image an element boots by zero-touch
// provisioning. The previous selection is cleared; a previous selection
// that was never installed is removed. An image not yet installed on the
// element is recorded in state PULL.
func (s *Service) SetZtpImage(ctx context.Context, elementID, imageID string) error {
	el, err := s.getElement(ctx, elementID)
	if err != nil {
		return err
	}
	img, err := s.getImage(ctx, imageID)
	if err != nil {
		return err
	}
	if img.State == models.ImageStateRevoked {
		return conflictErrorf("image %s is revoked", img.Name)
	}
	if !img.AppliesTo(el.Role, el.PlatformChipset) {
		return conflictErrorf("image %s is not applicable to element %s", img.Name, el.Name)
	}

	rows, err := s.store.ListElementImages(ctx, elementID)
	if err != nil {
		return fmt.Errorf("list images of element %s: %w", elementID, err)
	}

	var target *models.ElementInstalledImage
	for i := range rows {
		row := rows[i]
		if row.ImageID == imageID {
			target = &rows[i]
			continue
		}
		if err := s.clearZtp(ctx, row); err != nil {
			return err
		}
	}

	if target == nil {
		target = &models.ElementInstalledImage{
			ElementID: el.ID,
			ImageID:   img.ID,
			State:     models.ElementImagePull,
		}
	}
	target.Ztp = true
	if err := s.store.SaveElementImage(ctx, *target); err != nil {
		return fmt.Errorf("save image %s of element %s: %w", img.ID, el.ID, err)
	}
	s.logger.Info("zero-touch provisioning image set",
		zap.String("element_id", el.ID),
		zap.String("image_id", img.ID),
		zap.String("element_image_state", string(target.State)))
	return nil
}

// ResetZtpImage clears the zero-touch provisioning selection of an element.
func (s *Service) ResetZtpImage(ctx context.Context, elementID string) error {
	if _, err := s.getElement(ctx, elementID); err != nil {
		return err
	}
	rows, err := s.store.ListElementImages(ctx, elementID)
	if err != nil {
		return fmt.Errorf("list images of element %s: %w", elementID, err)
	}
	for _, row := range rows {
		if err := s.clearZtp(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) clearZtp(ctx context.Context, row models.ElementInstalledImage) error {
	if !row.Ztp {
		return nil
	}
	if row.State == models.ElementImagePull {
		if err := s.store.DeleteElementImage(ctx, row.ElementID, row.ImageID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("remove image %s of element %s: %w", row.ImageID, row.ElementID, err)
		}
		return nil
	}
	row.Ztp = false
	if err := s.store.SaveElementImage(ctx, row); err != nil {
		return fmt.Errorf("save image %s of element %s: %w", row.ImageID, row.ElementID, err)
	}
	return nil
}
