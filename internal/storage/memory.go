package storage

import (
	"context"
	"sort"
	"sync"

	"evalgo.org/inventory/models"
)

// MemoryStore keeps all records in process memory. It is used by the
// "memory" backend and by tests.
type MemoryStore struct {
	mu            sync.RWMutex
	images        map[string]models.Image
	releases      map[string]models.Release
	elements      map[string]models.Element
	elementImages map[string]map[string]models.ElementInstalledImage // element ID -> image ID -> row
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		images:        make(map[string]models.Image),
		releases:      make(map[string]models.Release),
		elements:      make(map[string]models.Element),
		elementImages: make(map[string]map[string]models.ElementInstalledImage),
	}
}

func (m *MemoryStore) SaveImage(_ context.Context, img *models.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, other := range m.images {
		if id != img.ID && other.Name == img.Name {
			return ErrDuplicate
		}
	}
	m.images[img.ID] = copyImage(img)
	return nil
}

func (m *MemoryStore) GetImage(_ context.Context, id string) (*models.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	img, ok := m.images[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := copyImage(&img)
	return &c, nil
}

func (m *MemoryStore) GetImageByName(_ context.Context, name string) (*models.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, img := range m.images {
		if img.Name == name {
			c := copyImage(&img)
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListImages(_ context.Context, q models.ImageQuery) ([]*models.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*models.Image, 0, len(m.images))
	for _, img := range m.images {
		if !MatchImage(&img, q) {
			continue
		}
		c := copyImage(&img)
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return applyLimit(result, q.Limit), nil
}

func (m *MemoryStore) DeleteImage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.images[id]; !ok {
		return ErrNotFound
	}
	delete(m.images, id)
	return nil
}

func (m *MemoryStore) SaveRelease(_ context.Context, rel *models.Release) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, other := range m.releases {
		if id != rel.ID && other.Name == rel.Name {
			return ErrDuplicate
		}
	}
	m.releases[rel.ID] = copyRelease(rel)
	return nil
}

func (m *MemoryStore) GetRelease(_ context.Context, id string) (*models.Release, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rel, ok := m.releases[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := copyRelease(&rel)
	return &c, nil
}

func (m *MemoryStore) GetReleaseByName(_ context.Context, name string) (*models.Release, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rel := range m.releases {
		if rel.Name == name {
			c := copyRelease(&rel)
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListReleases(_ context.Context, filter string) ([]*models.Release, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*models.Release, 0, len(m.releases))
	for _, rel := range m.releases {
		if !matchReleaseName(rel.Name, filter) {
			continue
		}
		c := copyRelease(&rel)
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *MemoryStore) DeleteRelease(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.releases[id]; !ok {
		return ErrNotFound
	}
	delete(m.releases, id)
	return nil
}

func (m *MemoryStore) ReleasesReferencingImage(_ context.Context, imageID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0)
	for id, rel := range m.releases {
		for _, ri := range rel.Images {
			if ri.ImageID == imageID {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) SaveElement(_ context.Context, el *models.Element) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.elements[el.ID] = *el
	return nil
}

func (m *MemoryStore) GetElement(_ context.Context, id string) (*models.Element, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	el, ok := m.elements[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &el, nil
}

func (m *MemoryStore) ListElements(_ context.Context) ([]*models.Element, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*models.Element, 0, len(m.elements))
	for _, el := range m.elements {
		el := el
		result = append(result, &el)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *MemoryStore) ListElementImages(_ context.Context, elementID string) ([]models.ElementInstalledImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := make([]models.ElementInstalledImage, 0, len(m.elementImages[elementID]))
	for _, row := range m.elementImages[elementID] {
		rows = append(rows, row)
	}
	sortRows(rows)
	return rows, nil
}

func (m *MemoryStore) ListInstalledImages(_ context.Context, imageID string) ([]models.ElementInstalledImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := make([]models.ElementInstalledImage, 0)
	for _, perElement := range m.elementImages {
		for id, row := range perElement {
			if imageID == "" || id == imageID {
				rows = append(rows, row)
			}
		}
	}
	sortRows(rows)
	return rows, nil
}

func (m *MemoryStore) SaveElementImage(_ context.Context, row models.ElementInstalledImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	perElement, ok := m.elementImages[row.ElementID]
	if !ok {
		perElement = make(map[string]models.ElementInstalledImage)
		m.elementImages[row.ElementID] = perElement
	}
	perElement[row.ImageID] = row
	return nil
}

func (m *MemoryStore) DeleteElementImage(_ context.Context, elementID, imageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	perElement, ok := m.elementImages[elementID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := perElement[imageID]; !ok {
		return ErrNotFound
	}
	delete(perElement, imageID)
	return nil
}

func (m *MemoryStore) Info(_ context.Context) (*Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := len(m.images) + len(m.releases) + len(m.elements)
	for _, perElement := range m.elementImages {
		docs += len(perElement)
	}
	return &Info{Backend: "memory", Database: "memory", Documents: int64(docs)}, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func copyImage(img *models.Image) models.Image {
	c := *img
	if img.Checksums != nil {
		c.Checksums = make(map[string]string, len(img.Checksums))
		for k, v := range img.Checksums {
			c.Checksums[k] = v
		}
	}
	if img.BuildDate != nil {
		d := *img.BuildDate
		c.BuildDate = &d
	}
	return c
}

func copyRelease(rel *models.Release) models.Release {
	c := *rel
	c.Images = make([]models.ReleaseImage, len(rel.Images))
	for i, ri := range rel.Images {
		ri.ElementRoles = append([]string(nil), ri.ElementRoles...)
		c.Images[i] = ri
	}
	return c
}

func sortRows(rows []models.ElementInstalledImage) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ElementID != rows[j].ElementID {
			return rows[i].ElementID < rows[j].ElementID
		}
		return rows[i].ImageID < rows[j].ImageID
	})
}
