package inventory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/inventory/models"
)

func image(id, version string, state models.ImageState, role, chipset string) *models.Image {
	return &models.Image{
		ID:              id,
		Name:            "img-" + id,
		ImageType:       "LXC",
		Version:         models.MustParseVersion(version),
		State:           state,
		ElementRole:     role,
		PlatformChipset: chipset,
	}
}

func ids(images []*models.Image) []string {
	out := make([]string, 0, len(images))
	for _, img := range images {
		out = append(out, img.ID)
	}
	return out
}

func TestFindApplicableImages(t *testing.T) {
	images := []*models.Image{
		image("a", "1.0.0", models.ImageStateRelease, "LEAF", "TH3"),
		image("b", "2.0.0", models.ImageStateCandidate, "LEAF", ""),
		image("c", "3.0.0", models.ImageStateRevoked, "LEAF", "TH3"),
		image("d", "1.5.0", models.ImageStateNew, "", ""),
		image("e", "4.0.0", models.ImageStateRelease, "SPINE", "TH3"),
		image("f", "2.5.0", models.ImageStateRelease, "LEAF", "TD2"),
		nil,
	}

	tests := []struct {
		name string
		q    ApplicabilityQuery
		want []string
	}{
		{
			name: "role and chipset with wildcards",
			q:    ApplicabilityQuery{Role: "LEAF", Chipset: "TH3"},
			want: []string{"b", "d", "a"},
		},
		{
			name: "other chipset",
			q:    ApplicabilityQuery{Role: "LEAF", Chipset: "TD2"},
			want: []string{"f", "b", "d"},
		},
		{
			name: "unknown role only gets wildcard images",
			q:    ApplicabilityQuery{Role: "BORDER", Chipset: "TH3"},
			want: []string{"d"},
		},
		{
			name: "after installed version",
			q:    ApplicabilityQuery{Role: "LEAF", Chipset: "TH3", After: models.MustParseVersion("1.5.0")},
			want: []string{"b"},
		},
		{
			name: "image type filter",
			q:    ApplicabilityQuery{Role: "LEAF", Chipset: "TH3", ImageType: "ONIE"},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(FindApplicableImages(images, tt.q)))
		})
	}
}

func TestFindApplicableImages_StableForEqualVersions(t *testing.T) {
	images := []*models.Image{
		image("x", "1.0.0", models.ImageStateNew, "", ""),
		image("y", "1.0.0", models.ImageStateNew, "", ""),
		image("z", "1.0.0", models.ImageStateNew, "", ""),
	}
	assert.Equal(t, []string{"x", "y", "z"}, ids(FindApplicableImages(images, ApplicabilityQuery{Role: "LEAF"})))
}

func TestCatalogRoleImages(t *testing.T) {
	catalog := NewCatalog([]*models.Image{
		image("a", "1.0.0", models.ImageStateRelease, "LEAF", "TH3"),
		image("b", "1.1.0-rc1", models.ImageStateCandidate, "LEAF", "TD2"),
		image("c", "1.1.0", models.ImageStateRevoked, "LEAF", ""),
		image("d", "0.9.0", models.ImageStateNew, "", ""),
		image("e", "5.0.0", models.ImageStateNew, "SPINE", ""),
	}, nil)

	assert.Equal(t, []string{"b", "a", "d"}, ids(catalog.RoleImages("LEAF")))
	assert.Equal(t, []string{"e", "d"}, ids(catalog.RoleImages("SPINE")))
}

func TestCatalogReleaseImages(t *testing.T) {
	leaf := image("a", "1.0.0", models.ImageStateRelease, "LEAF", "TH3")
	spine := image("b", "2.0.0", models.ImageStateRelease, "SPINE", "TH3")
	shared := image("c", "3.0.0", models.ImageStateRelease, "", "")
	rel := &models.Release{
		ID:   "r1",
		Name: "2024.1",
		Images: []models.ReleaseImage{
			{ImageID: "a", ElementRoles: []string{"LEAF"}},
			{ImageID: "b", ElementRoles: []string{"SPINE"}},
			{ImageID: "c", ElementRoles: []string{"LEAF", "SPINE"}},
		},
	}
	catalog := NewCatalog([]*models.Image{leaf, spine, shared}, []*models.Release{rel})

	images, err := catalog.ReleaseImages("r1", "LEAF")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids(images))

	_, err = catalog.ReleaseImages("missing", "LEAF")
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "release", nf.Kind)
}

func TestCatalogValidateRelease(t *testing.T) {
	catalog := NewCatalog([]*models.Image{
		image("a", "1.0.0", models.ImageStateRelease, "LEAF", "TH3"),
		image("b", "1.1.0", models.ImageStateRelease, "LEAF", "TH3"),
		image("c", "1.1.0", models.ImageStateRelease, "LEAF", "TD2"),
	}, nil)

	t.Run("valid", func(t *testing.T) {
		rel := &models.Release{Name: "r", Images: []models.ReleaseImage{
			{ImageID: "a", ElementRoles: []string{"LEAF"}},
			{ImageID: "c", ElementRoles: []string{"LEAF"}},
		}}
		assert.NoError(t, catalog.ValidateRelease(rel))
	})

	t.Run("ambiguous role and chipset", func(t *testing.T) {
		rel := &models.Release{Name: "r", Images: []models.ReleaseImage{
			{ImageID: "a", ElementRoles: []string{"LEAF"}},
			{ImageID: "b", ElementRoles: []string{"LEAF"}},
		}}
		var conflict *ConflictError
		assert.True(t, errors.As(catalog.ValidateRelease(rel), &conflict))
	})

	t.Run("unknown image", func(t *testing.T) {
		rel := &models.Release{Name: "r", Images: []models.ReleaseImage{
			{ImageID: "zzz", ElementRoles: []string{"LEAF"}},
		}}
		var nf *NotFoundError
		assert.True(t, errors.As(catalog.ValidateRelease(rel), &nf))
	})

	t.Run("no roles", func(t *testing.T) {
		rel := &models.Release{Name: "r", Images: []models.ReleaseImage{{ImageID: "a"}}}
		var ve *ValidationError
		assert.True(t, errors.As(catalog.ValidateRelease(rel), &ve))
	})
}
