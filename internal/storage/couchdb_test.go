package storage

import (
	"encoding/json"
	"testing"
	"time"

	"eve.evalgo.org/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/inventory/models"
)

func TestImageDocConversion(t *testing.T) {
	built := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	img := testImage("i1", "leaf-1", "1.2.3-beta", "LEAF")
	img.State = models.ImageStateRelease
	img.BuildDate = &built

	doc := imageToDoc(img)
	assert.Equal(t, "image:i1", doc.ID)
	assert.Equal(t, typeImage, doc.Type)
	assert.Equal(t, "1.2.3-beta", doc.Version)
	assert.Equal(t, "RELEASE", doc.State)

	back := docToImage(doc)
	assert.Equal(t, img, back)
}

func TestDocToImage_LegacyState(t *testing.T) {
	img := docToImage(&imageDoc{ImageID: "i1", Version: "1.0.0", State: "S"})
	assert.Equal(t, models.ImageStateSuperseded, img.State)

	img = docToImage(&imageDoc{ImageID: "i1", Version: "1.0", State: ""})
	assert.Equal(t, models.ImageStateRevoked, img.State)
	assert.False(t, img.Version.IsValid())
}

func TestDocToImage_UndecodableStateListedAsRevoked(t *testing.T) {
	revoked := models.ImageQuery{ImageState: models.ImageStateRevoked}
	for _, state := range []string{"", "LEGACY", "?"} {
		img := docToImage(&imageDoc{ImageID: "i1", Name: "leaf-os", Version: "1.0.0", State: state})
		assert.True(t, MatchImage(img, revoked), "state %q", state)
		assert.False(t, MatchImage(img, models.ImageQuery{ImageState: models.ImageStateNew}), "state %q", state)
	}

	img := docToImage(&imageDoc{ImageID: "i2", Name: "leaf-os", Version: "1.0.0", State: "N"})
	assert.False(t, MatchImage(img, revoked))
}

func TestReleaseDocConversion(t *testing.T) {
	rel := &models.Release{
		ID:    "r1",
		Name:  "2024.1",
		State: models.ImageStateCandidate,
		Images: []models.ReleaseImage{
			{
				ImageID:      "i1",
				ImageName:    "leaf-1",
				ImageType:    "LXC",
				ImageVersion: models.MustParseVersion("1.0.0"),
				ImageState:   models.ImageStateRelease,
				ElementRoles: []string{"LEAF", "SPINE"},
			},
		},
	}

	doc := releaseToDoc(rel)
	assert.Equal(t, "release:r1", doc.ID)
	require.Len(t, doc.Images, 1)
	assert.Equal(t, "1.0.0", doc.Images[0].ImageVersion)

	assert.Equal(t, rel, docToRelease(doc))
}

func TestProcessImageChange(t *testing.T) {
	doc := imageToDoc(testImage("i1", "leaf-1", "1.0.0", "LEAF"))
	doc.Rev = "1-abc"
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	change := processImageChange(db.Change{ID: doc.ID, Seq: "1", Doc: data})
	require.NotNil(t, change)
	assert.Equal(t, ChangeTypeCreated, change.Type)
	assert.Equal(t, "leaf-1", change.Image.Name)

	doc.Rev = "2-def"
	data, err = json.Marshal(doc)
	require.NoError(t, err)
	change = processImageChange(db.Change{ID: doc.ID, Seq: "2", Doc: data})
	require.NotNil(t, change)
	assert.Equal(t, ChangeTypeUpdated, change.Type)

	change = processImageChange(db.Change{ID: "image:i1", Seq: "3", Deleted: true})
	require.NotNil(t, change)
	assert.Equal(t, ChangeTypeDeleted, change.Type)
	assert.Equal(t, "i1", change.Image.ID)
	assert.Contains(t, change.String(), "deleted")

	assert.Nil(t, processImageChange(db.Change{ID: "release:r1", Deleted: true}))

	other, err := json.Marshal(releaseToDoc(&models.Release{ID: "r1", Name: "x"}))
	require.NoError(t, err)
	assert.Nil(t, processImageChange(db.Change{ID: "release:r1", Doc: other}))
}
