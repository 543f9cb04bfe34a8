package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/inventory/internal/storage"
	"evalgo.org/inventory/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestService(t *testing.T) (*Service, *storage.MemoryStore, *recordingSink) {
	t.Helper()
	store := storage.NewMemoryStore()
	sink := &recordingSink{}
	return NewService(store, WithEvents(sink)), store, sink
}

func addImage(t *testing.T, svc *Service, name, version, role, chipset string) *models.Image {
	t.Helper()
	img := &models.Image{
		Name:            name,
		ImageType:       "LXC",
		Version:         models.MustParseVersion(version),
		ElementRole:     role,
		PlatformChipset: chipset,
	}
	created, err := svc.StoreImage(context.Background(), img)
	require.NoError(t, err)
	require.True(t, created)
	return img
}

func TestStoreImage(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	img := addImage(t, svc, "leaf-1.0.0", "1.0.0", "LEAF", "TH3")
	assert.True(t, models.IsUUID(img.ID))
	assert.Equal(t, models.ImageStateNew, img.State)

	got, err := svc.GetImage(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, "leaf-1.0.0", got.Name)

	t.Run("duplicate name", func(t *testing.T) {
		_, err := svc.StoreImage(ctx, &models.Image{Name: "leaf-1.0.0", ImageType: "LXC", Version: models.MustParseVersion("1.0.1")})
		var uc *UniqueConstraintError
		require.True(t, errors.As(err, &uc))
		assert.Equal(t, "leaf-1.0.0", uc.Name)
	})

	t.Run("missing version", func(t *testing.T) {
		_, err := svc.StoreImage(ctx, &models.Image{Name: "x", ImageType: "LXC"})
		var ve *ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "image_version", ve.Field)
	})

	t.Run("update keeps state and applies requested state", func(t *testing.T) {
		update := *got
		update.Organization = "net.example"
		update.State = models.ImageStateCandidate
		created, err := svc.StoreImage(ctx, &update)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, models.ImageStateCandidate, update.State)

		stored, err := svc.GetImage(ctx, img.ID)
		require.NoError(t, err)
		assert.Equal(t, "net.example", stored.Organization)
		assert.Equal(t, models.ImageStateCandidate, stored.State)
	})

	assert.Equal(t, []EventType{EventImageAdded, EventImageStored, EventImageStateChanged}, sink.types())
}

func TestGetImage_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.GetImage(context.Background(), "missing")
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "image", nf.Kind)
}

func TestUpdateImageState(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	v1 := addImage(t, svc, "leaf-1", "1.0.0", "LEAF", "TH3")
	v2 := addImage(t, svc, "leaf-2", "2.0.0", "LEAF", "TH3")
	v3 := addImage(t, svc, "leaf-3", "3.0.0", "LEAF", "TH3")
	other := addImage(t, svc, "leaf-td2", "0.5.0", "LEAF", "TD2")
	revoked := addImage(t, svc, "leaf-0", "0.1.0", "LEAF", "TH3")

	_, err := svc.UpdateImageState(ctx, v1.ID, models.ImageStateRelease)
	require.NoError(t, err)
	_, err = svc.UpdateImageState(ctx, v3.ID, models.ImageStateRelease)
	require.NoError(t, err)
	_, err = svc.UpdateImageState(ctx, revoked.ID, models.ImageStateRevoked)
	require.NoError(t, err)

	_, err = svc.UpdateImageState(ctx, v2.ID, models.ImageStateRelease)
	require.NoError(t, err)

	state := func(id string) models.ImageState {
		img, err := svc.GetImage(ctx, id)
		require.NoError(t, err)
		return img.State
	}
	assert.Equal(t, models.ImageStateSuperseded, state(v1.ID))
	assert.Equal(t, models.ImageStateRelease, state(v2.ID))
	assert.Equal(t, models.ImageStateCandidate, state(v3.ID))
	assert.Equal(t, models.ImageStateNew, state(other.ID))
	assert.Equal(t, models.ImageStateRevoked, state(revoked.ID))

	t.Run("superseded cannot be set", func(t *testing.T) {
		_, err := svc.UpdateImageState(ctx, v3.ID, models.ImageStateSuperseded)
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("same state is a no-op", func(t *testing.T) {
		img, err := svc.UpdateImageState(ctx, v2.ID, models.ImageStateRelease)
		require.NoError(t, err)
		assert.Equal(t, models.ImageStateRelease, img.State)
	})

	t.Run("unknown image", func(t *testing.T) {
		_, err := svc.UpdateImageState(ctx, "missing", models.ImageStateCandidate)
		var nf *NotFoundError
		assert.True(t, errors.As(err, &nf))
	})
}

func TestImageTypesAndVersions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	addImage(t, svc, "a", "1.0.0", "", "")
	addImage(t, svc, "b", "2.0.0", "", "")
	addImage(t, svc, "c", "2.0.0", "LEAF", "")
	_, err := svc.StoreImage(ctx, &models.Image{Name: "onie", ImageType: "ONIE", Version: models.MustParseVersion("0.1.0")})
	require.NoError(t, err)

	types, err := svc.ImageTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"LXC", "ONIE"}, types)

	versions, err := svc.ImageVersions(ctx, "LXC")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Len(t, versions[0].Versions, 2)
	assert.Equal(t, "2.0.0", versions[0].Versions[0].String())
	assert.Equal(t, "1.0.0", versions[0].Versions[1].String())
}

func TestRemoveImage(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	inRelease := addImage(t, svc, "in-release", "1.0.0", "LEAF", "")
	installed := addImage(t, svc, "installed", "1.1.0", "LEAF", "")
	unused := addImage(t, svc, "unused", "1.2.0", "LEAF", "")

	_, err := svc.StoreRelease(ctx, &models.Release{
		Name:   "2024.1",
		Images: []models.ReleaseImage{{ImageID: inRelease.ID, ElementRoles: []string{"LEAF"}}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.RegisterElement(ctx, &models.Element{ID: "leaf-01", Name: "leaf-01", Role: "LEAF"}))
	require.NoError(t, svc.StoreElementImages(ctx, "leaf-01", []models.ElementImageReference{
		{ImageID: installed.ID, Active: true},
	}, true))

	var conflict *ConflictError
	_, err = svc.RemoveImage(ctx, inRelease.ID)
	assert.True(t, errors.As(err, &conflict))
	_, err = svc.RemoveImage(ctx, installed.ID)
	assert.True(t, errors.As(err, &conflict))

	removed, err := svc.RemoveImage(ctx, unused.ID)
	require.NoError(t, err)
	assert.Equal(t, "unused", removed.Name)
	assert.Contains(t, sink.types(), EventImageRemoved)

	_, err = svc.RemoveImage(ctx, unused.ID)
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestApplicableAndRoleImages(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	addImage(t, svc, "leaf-th3", "1.0.0", "LEAF", "TH3")
	addImage(t, svc, "generic", "2.0.0", "", "")
	spine := addImage(t, svc, "spine", "3.0.0", "SPINE", "")
	revoked := addImage(t, svc, "leaf-revoked", "4.0.0", "LEAF", "")
	_, err := svc.UpdateImageState(ctx, revoked.ID, models.ImageStateRevoked)
	require.NoError(t, err)

	images, err := svc.ApplicableImages(ctx, ApplicabilityQuery{Role: "LEAF", Chipset: "TH3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"generic", "leaf-th3"}, names(images))

	images, err = svc.RoleImages(ctx, "SPINE")
	require.NoError(t, err)
	assert.Equal(t, []string{spine.Name, "generic"}, names(images))

	all, err := svc.FindImages(ctx, models.ImageQuery{ElementRole: "LEAF"})
	require.NoError(t, err)
	assert.Contains(t, names(all), "leaf-revoked")
}

func names(images []*models.Image) []string {
	out := make([]string, 0, len(images))
	for _, img := range images {
		out = append(out, img.Name)
	}
	return out
}

func TestElementImages(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	current := addImage(t, svc, "leaf-1", "1.0.0", "LEAF", "TH3")
	cached := addImage(t, svc, "leaf-2", "2.0.0", "LEAF", "TH3")
	addImage(t, svc, "leaf-3", "2.1.0", "LEAF", "TH3")

	require.NoError(t, svc.RegisterElement(ctx, &models.Element{
		ID: "leaf-01", Name: "leaf-01", Role: "LEAF", PlatformChipset: "TH3", GroupID: "pod-1", GroupName: "Pod 1",
	}))

	err := svc.StoreElementImages(ctx, "leaf-01", []models.ElementImageReference{
		{ImageID: current.ID, Active: true},
		{ImageID: cached.ID},
		{ImageID: "unknown-image"},
	}, true)
	require.NoError(t, err)

	result, err := svc.ElementImages(ctx, "leaf-01")
	require.NoError(t, err)
	assert.Equal(t, "pod-1", result.GroupID)
	require.Len(t, result.Images, 2)

	byName := make(map[string]models.ElementImage)
	for _, ei := range result.Images {
		byName[ei.Name] = ei
	}
	active := byName["leaf-1"]
	assert.Equal(t, models.ElementImageActive, active.ElementImageState)
	require.Len(t, active.AvailableUpgrades, 2)
	assert.Equal(t, "leaf-3", active.AvailableUpgrades[0].ImageName)
	assert.Equal(t, models.UpgradeMajor, active.AvailableUpgrades[0].UpgradeType)
	assert.Equal(t, models.ElementImageCached, byName["leaf-2"].ElementImageState)

	one, err := svc.ElementImage(ctx, "leaf-01", cached.ID)
	require.NoError(t, err)
	require.Len(t, one.AvailableUpgrades, 1)
	assert.Equal(t, models.UpgradeMinor, one.AvailableUpgrades[0].UpgradeType)

	_, err = svc.ElementImage(ctx, "leaf-01", "not-installed")
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))

	t.Run("replace drops unreported images", func(t *testing.T) {
		require.NoError(t, svc.StoreElementImages(ctx, "leaf-01", []models.ElementImageReference{
			{ImageID: cached.ID, Active: true},
		}, true))
		result, err := svc.ElementImages(ctx, "leaf-01")
		require.NoError(t, err)
		require.Len(t, result.Images, 1)
		assert.Equal(t, models.ElementImageActive, result.Images[0].ElementImageState)
	})

	t.Run("merge demotes previous active image", func(t *testing.T) {
		require.NoError(t, svc.StoreElementImages(ctx, "leaf-01", []models.ElementImageReference{
			{ImageID: current.ID, Active: true},
		}, false))
		row, err := svc.ElementImage(ctx, "leaf-01", cached.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ElementImageCached, row.ElementImageState)
	})

	t.Run("unknown element", func(t *testing.T) {
		err := svc.StoreElementImages(ctx, "nope", nil, true)
		assert.True(t, errors.As(err, &nf))
	})
}

func TestRemoveElementImage(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	active := addImage(t, svc, "a", "1.0.0", "", "")
	cached := addImage(t, svc, "b", "0.9.0", "", "")
	require.NoError(t, svc.RegisterElement(ctx, &models.Element{ID: "e1", Name: "e1", Role: "LEAF"}))
	require.NoError(t, svc.StoreElementImages(ctx, "e1", []models.ElementImageReference{
		{ImageID: active.ID, Active: true},
		{ImageID: cached.ID},
	}, true))

	var conflict *ConflictError
	assert.True(t, errors.As(svc.RemoveElementImage(ctx, "e1", active.ID), &conflict))
	assert.NoError(t, svc.RemoveElementImage(ctx, "e1", cached.ID))
	assert.NoError(t, svc.RemoveElementImage(ctx, "e1", cached.ID))

	result, err := svc.ElementImages(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, result.Images, 1)
}

func TestZtpImage(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	installed := addImage(t, svc, "a", "1.0.0", "LEAF", "")
	pulled := addImage(t, svc, "b", "2.0.0", "LEAF", "")
	spine := addImage(t, svc, "c", "3.0.0", "SPINE", "")
	require.NoError(t, svc.RegisterElement(ctx, &models.Element{ID: "e1", Name: "e1", Role: "LEAF"}))
	require.NoError(t, svc.StoreElementImages(ctx, "e1", []models.ElementImageReference{
		{ImageID: installed.ID, Active: true},
	}, true))

	var nf *NotFoundError
	_, err := svc.ZtpImage(ctx, "e1")
	require.True(t, errors.As(err, &nf))

	require.NoError(t, svc.SetZtpImage(ctx, "e1", pulled.ID))
	ztp, err := svc.ZtpImage(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, pulled.ID, ztp.ID)
	assert.Equal(t, models.ElementImagePull, ztp.ElementImageState)

	require.NoError(t, svc.SetZtpImage(ctx, "e1", installed.ID))
	ztp, err = svc.ZtpImage(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, installed.ID, ztp.ID)

	rows, err := store.ListElementImages(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, rows, 1, "the pulled image was never installed and is dropped")

	var conflict *ConflictError
	assert.True(t, errors.As(svc.SetZtpImage(ctx, "e1", spine.ID), &conflict))

	require.NoError(t, svc.ResetZtpImage(ctx, "e1"))
	_, err = svc.ZtpImage(ctx, "e1")
	assert.True(t, errors.As(err, &nf))
}

func TestStatistics(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	img := addImage(t, svc, "a", "1.0.0", "", "")
	other := addImage(t, svc, "b", "1.1.0", "", "")

	elements := []models.Element{
		{ID: "e1", Name: "leaf-01", Role: "LEAF", GroupID: "g1", GroupName: "Pod A"},
		{ID: "e2", Name: "leaf-02", Role: "LEAF", GroupID: "g1", GroupName: "Pod A"},
		{ID: "e3", Name: "spine-01", Role: "SPINE", GroupID: "g2", GroupName: "Core"},
		{ID: "e4", Name: "loose", Role: "LEAF"},
	}
	for i := range elements {
		require.NoError(t, svc.RegisterElement(ctx, &elements[i]))
	}
	report := map[string][]models.ElementImageReference{
		"e1": {{ImageID: img.ID, Active: true}, {ImageID: other.ID}},
		"e2": {{ImageID: img.ID}},
		"e3": {{ImageID: img.ID, Active: true}},
		"e4": {{ImageID: img.ID, Active: true}},
	}
	for id, refs := range report {
		require.NoError(t, svc.StoreElementImages(ctx, id, refs, true))
	}

	stats, err := svc.ImageStatistics(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.GroupImageStatistics{
		{GroupID: "g2", GroupName: "Core", Active: 1},
		{GroupID: "g1", GroupName: "Pod A", Active: 1, Cached: 1},
	}, stats.Groups)

	group, err := svc.GroupImageElements(ctx, img.ID, "g1")
	require.NoError(t, err)
	require.Len(t, group.Elements, 2)
	assert.Equal(t, "leaf-01", group.Elements[0].ElementName)
	assert.Equal(t, models.ElementImageCached, group.Elements[1].State)

	_, err = svc.GroupImageElements(ctx, img.ID, "nope")
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))

	counts, err := svc.DeploymentStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.ImageDeploymentCount{
		{ImageID: img.ID, GroupID: "g1", Count: 2},
		{ImageID: img.ID, GroupID: "g2", Count: 1},
		{ImageID: other.ID, GroupID: "g1", Count: 1},
	}, sortCounts(counts, img.ID))
}

// sortCounts puts the rows of first before all others; Flatten orders by
// image ID, which is random here.
func sortCounts(counts []models.ImageDeploymentCount, first string) []models.ImageDeploymentCount {
	out := make([]models.ImageDeploymentCount, 0, len(counts))
	for _, c := range counts {
		if c.ImageID == first {
			out = append(out, c)
		}
	}
	for _, c := range counts {
		if c.ImageID != first {
			out = append(out, c)
		}
	}
	return out
}

func TestReleases(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	leaf := addImage(t, svc, "leaf", "1.0.0", "LEAF", "TH3")
	leaf2 := addImage(t, svc, "leaf-b", "1.1.0", "LEAF", "TH3")
	spine := addImage(t, svc, "spine", "2.0.0", "SPINE", "TH3")

	rel := &models.Release{
		Name: "2024.1",
		Images: []models.ReleaseImage{
			{ImageID: leaf.ID, ElementRoles: []string{"LEAF"}},
			{ImageID: spine.ID, ElementRoles: []string{"SPINE"}},
		},
	}
	created, err := svc.StoreRelease(ctx, rel)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.ImageStateNew, rel.State)
	assert.Equal(t, "leaf", rel.Images[0].ImageName)

	byName, err := svc.Release(ctx, "2024.1")
	require.NoError(t, err)
	assert.Equal(t, rel.ID, byName.ID)

	refs, err := svc.Releases(ctx, "2024")
	require.NoError(t, err)
	require.Len(t, refs, 1)

	images, err := svc.ReleaseRoleImages(ctx, "2024.1", "SPINE")
	require.NoError(t, err)
	assert.Equal(t, []string{"spine"}, names(images))

	t.Run("ambiguous release", func(t *testing.T) {
		_, err := svc.StoreRelease(ctx, &models.Release{
			Name: "bad",
			Images: []models.ReleaseImage{
				{ImageID: leaf.ID, ElementRoles: []string{"LEAF"}},
				{ImageID: leaf2.ID, ElementRoles: []string{"LEAF"}},
			},
		})
		var conflict *ConflictError
		assert.True(t, errors.As(err, &conflict))
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := svc.StoreRelease(ctx, &models.Release{
			Name:   "2024.1",
			Images: []models.ReleaseImage{{ImageID: leaf2.ID, ElementRoles: []string{"LEAF"}}},
		})
		var uc *UniqueConstraintError
		assert.True(t, errors.As(err, &uc))
	})

	t.Run("unknown image", func(t *testing.T) {
		_, err := svc.StoreRelease(ctx, &models.Release{
			Name:   "2024.2",
			Images: []models.ReleaseImage{{ImageID: "missing", ElementRoles: []string{"LEAF"}}},
		})
		var nf *NotFoundError
		assert.True(t, errors.As(err, &nf))
	})

	removed, err := svc.RemoveRelease(ctx, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024.1", removed.Name)
	_, err = svc.Release(ctx, "2024.1")
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
}
