// Package inventory implements the image lifecycle of the network inventory:
// image applicability per element role and chipset, release composition,
// upgrade planning and deployment statistics.
//
// The functions in catalog.go, upgrades.go and statistics.go are pure and
// operate on values loaded by the caller. The Service ties them to a
// storage.Store.
package inventory

import (
	"sort"

	"evalgo.org/inventory/models"
)

// ApplicabilityQuery selects the images an element can run.
type ApplicabilityQuery struct {
	// Role is the element role. Images without role match every role.
	Role string

	// Chipset is the platform chipset. Images without chipset match every chipset.
	Chipset string

	// ImageType restricts the result to one image type (optional).
	ImageType string

	// After restricts the result to versions strictly greater than After
	// (optional, ignored when invalid).
	After models.Version
}

// FindApplicableImages returns the images matching q, highest version first.
// Revoked images are never returned. Images with equal versions keep their
// input order.
func FindApplicableImages(images []*models.Image, q ApplicabilityQuery) []*models.Image {
	result := make([]*models.Image, 0, len(images))
	for _, img := range images {
		if img == nil || img.State == models.ImageStateRevoked {
			continue
		}
		if !img.AppliesTo(q.Role, q.Chipset) {
			continue
		}
		if q.ImageType != "" && img.ImageType != q.ImageType {
			continue
		}
		if q.After.IsValid() && img.Version.Compare(q.After) <= 0 {
			continue
		}
		result = append(result, img)
	}
	sortByVersionDesc(result)
	return result
}

func sortByVersionDesc(images []*models.Image) {
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Version.Compare(images[j].Version) > 0
	})
}

// Catalog is a read projection of images and releases.
type Catalog struct {
	images   []*models.Image
	byID     map[string]*models.Image
	releases map[string]*models.Release
}

// NewCatalog builds a catalog over the given images and releases.
func NewCatalog(images []*models.Image, releases []*models.Release) *Catalog {
	c := &Catalog{
		images:   images,
		byID:     make(map[string]*models.Image, len(images)),
		releases: make(map[string]*models.Release, len(releases)),
	}
	for _, img := range images {
		c.byID[img.ID] = img
	}
	for _, rel := range releases {
		c.releases[rel.ID] = rel
	}
	return c
}

// Image returns the image with the given ID.
func (c *Catalog) Image(id string) (*models.Image, bool) {
	img, ok := c.byID[id]
	return img, ok
}

// Images returns all images of the catalog.
func (c *Catalog) Images() []*models.Image {
	return c.images
}

// RoleImages returns the non-revoked images applicable to role, highest
// version first.
func (c *Catalog) RoleImages(role string) []*models.Image {
	result := make([]*models.Image, 0)
	for _, img := range c.images {
		if img.State == models.ImageStateRevoked {
			continue
		}
		if img.ElementRole != "" && img.ElementRole != role {
			continue
		}
		result = append(result, img)
	}
	sortByVersionDesc(result)
	return result
}

// ReleaseImages returns the images of a release that serve role, highest
// version first. An unknown release yields a NotFoundError.
func (c *Catalog) ReleaseImages(releaseID, role string) ([]*models.Image, error) {
	rel, ok := c.releases[releaseID]
	if !ok {
		return nil, &NotFoundError{Kind: "release", ID: releaseID}
	}
	result := make([]*models.Image, 0, len(rel.Images))
	for i := range rel.Images {
		ri := &rel.Images[i]
		if !ri.ServesRole(role) {
			continue
		}
		img, ok := c.byID[ri.ImageID]
		if !ok {
			return nil, &NotFoundError{Kind: "image", ID: ri.ImageID}
		}
		result = append(result, img)
	}
	sortByVersionDesc(result)
	return result, nil
}

// ValidateRelease checks that every image of rel is known to the catalog and
// that no role/chipset pair is served by two images.
func (c *Catalog) ValidateRelease(rel *models.Release) error {
	type slot struct{ role, chipset string }
	owners := make(map[slot]string)

	for i := range rel.Images {
		ri := &rel.Images[i]
		img, ok := c.byID[ri.ImageID]
		if !ok {
			return &NotFoundError{Kind: "image", ID: ri.ImageID}
		}
		if len(ri.ElementRoles) == 0 {
			return validationErrorf("element_roles", "image %s must serve at least one element role", img.Name)
		}
		for _, role := range ri.ElementRoles {
			key := slot{role: role, chipset: img.PlatformChipset}
			if other, taken := owners[key]; taken && other != img.ID {
				return conflictErrorf("release %s contains more than one image for role %s and chipset %s",
					rel.Name, role, img.PlatformChipset)
			}
			owners[key] = img.ID
		}
	}
	return nil
}
