package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/inventory/internal/api"
	"evalgo.org/inventory/internal/config"
	"evalgo.org/inventory/internal/storage"
	"evalgo.org/inventory/models"
	"evalgo.org/inventory/pkg/client"
)

func newClient(t *testing.T, store storage.Store) *client.Client {
	t.Helper()

	cfg := &config.Config{
		Server:  config.ServerConfig{Host: "localhost", Port: 8080},
		Storage: config.StorageConfig{Backend: "memory"},
	}
	server := api.New(cfg, store, nil)
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
		_ = server.Shutdown(context.Background())
	})

	c, err := client.New(ts.URL + "/")
	require.NoError(t, err)
	return c
}

func seedImage(t *testing.T, store storage.Store, name, version, role string) *models.Image {
	t.Helper()
	img := &models.Image{
		ID:          models.NewID(),
		Name:        name,
		ImageType:   "LXC",
		Version:     models.MustParseVersion(version),
		State:       models.ImageStateRelease,
		ElementRole: role,
	}
	require.NoError(t, store.SaveImage(context.Background(), img))
	return img
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := client.New("")
	assert.Error(t, err)
}

func TestClient_Images(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	leaf := seedImage(t, store, "leaf-os-1.0.0", "1.0.0", "LEAF")
	seedImage(t, store, "spine-os-1.0.0", "1.0.0", "SPINE")
	c := newClient(t, store)

	images, err := c.ListImages(ctx, client.Query{Role: "LEAF"})
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, leaf.ID, images[0].ID)

	img, err := c.GetImage(ctx, leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", img.Version.String())

	_, err = c.GetImage(ctx, models.NewID())
	assert.True(t, client.IsNotFound(err), "got %v", err)
}

func TestClient_ElementImages(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	old := seedImage(t, store, "leaf-os-1.0.0", "1.0.0", "LEAF")
	next := seedImage(t, store, "leaf-os-2.0.0", "2.0.0", "LEAF")
	require.NoError(t, store.SaveElement(ctx, &models.Element{ID: "leaf-01", Name: "leaf-01", Role: "LEAF"}))
	require.NoError(t, store.SaveElementImage(ctx, models.ElementInstalledImage{
		ElementID: "leaf-01",
		ImageID:   old.ID,
		State:     models.ElementImageActive,
	}))
	c := newClient(t, store)

	images, err := c.ElementImages(ctx, "leaf-01")
	require.NoError(t, err)
	require.Len(t, images.Images, 1)
	require.Len(t, images.Images[0].AvailableUpgrades, 1)
	assert.Equal(t, next.ID, images.Images[0].AvailableUpgrades[0].ImageID)
	assert.Equal(t, models.UpgradeMajor, images.Images[0].AvailableUpgrades[0].UpgradeType)

	_, err = c.ElementImages(ctx, "missing")
	assert.True(t, client.IsNotFound(err))
}

func TestClient_ValidateImage(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, storage.NewMemoryStore())

	result, err := c.ValidateImage(ctx, []byte(`{"image_name":"a","image_type":"LXC","image_version":"1.0.0"}`))
	require.NoError(t, err)
	assert.True(t, result.Valid)

	result, err = c.ValidateImage(ctx, []byte(`{"image_type":"LXC","image_version":"1.0.0"}`))
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestClient_ErrorMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":500,"message":"boom"}`))
	}))
	defer ts.Close()

	c, err := client.New(ts.URL)
	require.NoError(t, err)

	_, err = c.GetImage(context.Background(), "x")
	var apiErr *client.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Message)
}
