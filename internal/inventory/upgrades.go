package inventory

import (
	"sort"

	"evalgo.org/inventory/models"
)

// ComputeAvailableUpgrades returns the candidates that are newer than the
// installed image, highest version first.
//
// Revoked candidates, candidates without a valid version and the installed
// image itself (matched by ID when it has one) are skipped. An upgrade is MAJOR when the major level
// differs and MINOR otherwise. Candidates with equal versions keep their
// input order.
func ComputeAvailableUpgrades(installed *models.Image, candidates []*models.Image) ([]models.AvailableUpgrade, error) {
	if installed == nil {
		return nil, validationErrorf("image", "installed image is required")
	}
	if !installed.Version.IsValid() {
		return nil, validationErrorf("image_version", "installed image %s has no valid version", installed.Name)
	}

	newer := make([]*models.Image, 0, len(candidates))
	for _, c := range candidates {
		if c == nil || (installed.ID != "" && c.ID == installed.ID) {
			continue
		}
		if c.State == models.ImageStateRevoked || !c.Version.IsValid() {
			continue
		}
		if c.Version.Compare(installed.Version) <= 0 {
			continue
		}
		newer = append(newer, c)
	}
	sort.SliceStable(newer, func(i, j int) bool {
		return newer[i].Version.Compare(newer[j].Version) > 0
	})

	upgrades := make([]models.AvailableUpgrade, 0, len(newer))
	for _, c := range newer {
		upgrades = append(upgrades, models.AvailableUpgrade{
			ImageID:      c.ID,
			ImageName:    c.Name,
			ImageState:   c.State,
			ImageVersion: c.Version,
			BuildDate:    c.BuildDate,
			UpgradeType:  classifyUpgrade(installed.Version, c.Version),
		})
	}
	return upgrades, nil
}

func classifyUpgrade(from, to models.Version) models.UpgradeType {
	if to.Major() != from.Major() {
		return models.UpgradeMajor
	}
	return models.UpgradeMinor
}

// PlanUpgrades computes the upgrades available for an image installed on
// element. The installed image must be applicable to the element; the
// candidates are the catalog images of the same type that apply to the
// element's role and chipset.
func PlanUpgrades(element *models.Element, installed *models.Image, catalog *Catalog) ([]models.AvailableUpgrade, error) {
	if element == nil {
		return nil, validationErrorf("element", "element is required")
	}
	if installed == nil {
		return nil, validationErrorf("image", "installed image is required")
	}
	if !installed.AppliesTo(element.Role, element.PlatformChipset) {
		return nil, conflictErrorf("image %s is not applicable to element %s (role %s, chipset %s)",
			installed.Name, element.Name, element.Role, element.PlatformChipset)
	}

	candidates := FindApplicableImages(catalog.Images(), ApplicabilityQuery{
		Role:      element.Role,
		Chipset:   element.PlatformChipset,
		ImageType: installed.ImageType,
	})
	return ComputeAvailableUpgrades(installed, candidates)
}
