package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"eve.evalgo.org/db"
	"go.uber.org/zap"

	"evalgo.org/inventory/internal/config"
	"evalgo.org/inventory/models"
)

// JSON-LD document types stored in CouchDB.
const (
	jsonLDContext = "https://schema.org"

	typeImage        = "inventory:Image"
	typeRelease      = "inventory:Release"
	typeElement      = "inventory:Element"
	typeElementImage = "inventory:ElementImage"

	designDoc = "inventory"
)

// CouchStore stores inventory documents in CouchDB.
// Image states are stored by name and decoded with
// models.DecodeImageStateOrDefault.
type CouchStore struct {
	service  *db.CouchDBService
	database string
	logger   *zap.Logger
}

type imageDoc struct {
	Context         string            `json:"@context"`
	Type            string            `json:"@type"`
	ID              string            `json:"@id" couchdb:"_id"`
	Rev             string            `json:"_rev,omitempty" couchdb:"_rev"`
	ImageID         string            `json:"image_id"`
	Name            string            `json:"image_name"`
	ImageType       string            `json:"image_type"`
	Version         string            `json:"image_version"`
	State           string            `json:"image_state"`
	ElementRole     string            `json:"element_role,omitempty"`
	PlatformChipset string            `json:"platform_chipset,omitempty"`
	Organization    string            `json:"organization,omitempty"`
	Extension       string            `json:"image_extension,omitempty"`
	Category        string            `json:"category,omitempty"`
	BuildID         string            `json:"build_id,omitempty"`
	BuildDate       *time.Time        `json:"build_date,omitempty"`
	Checksums       map[string]string `json:"checksums,omitempty"`
}

type releaseImageDoc struct {
	ImageID         string   `json:"image_id"`
	ImageName       string   `json:"image_name,omitempty"`
	ImageType       string   `json:"image_type,omitempty"`
	ImageVersion    string   `json:"image_version,omitempty"`
	ImageState      string   `json:"image_state,omitempty"`
	PlatformChipset string   `json:"platform_chipset,omitempty"`
	ElementRoles    []string `json:"element_roles"`
}

type releaseDoc struct {
	Context     string            `json:"@context"`
	Type        string            `json:"@type"`
	ID          string            `json:"@id" couchdb:"_id"`
	Rev         string            `json:"_rev,omitempty" couchdb:"_rev"`
	ReleaseID   string            `json:"release_id"`
	Name        string            `json:"release_name"`
	State       string            `json:"release_state"`
	Description string            `json:"description,omitempty"`
	Images      []releaseImageDoc `json:"images"`
}

type elementDoc struct {
	Context string `json:"@context"`
	Type    string `json:"@type"`
	ID      string `json:"@id" couchdb:"_id"`
	Rev     string `json:"_rev,omitempty" couchdb:"_rev"`
	models.Element
}

type elementImageDoc struct {
	Context string `json:"@context"`
	Type    string `json:"@type"`
	ID      string `json:"@id" couchdb:"_id"`
	Rev     string `json:"_rev,omitempty" couchdb:"_rev"`
	models.ElementInstalledImage
}

// NewCouchStore connects to CouchDB and ensures indexes and views exist.
func NewCouchStore(cfg *config.Config, logger *zap.Logger) (*CouchStore, error) {
	couchConfig := db.CouchDBConfig{
		URL:             cfg.CouchDB.URL,
		Database:        cfg.CouchDB.Database,
		Username:        cfg.CouchDB.Username,
		Password:        cfg.CouchDB.Password,
		CreateIfMissing: true,
	}

	service, err := db.NewCouchDBServiceFromConfig(couchConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create CouchDB service: %w", err)
	}

	s := &CouchStore{
		service:  service,
		database: cfg.CouchDB.Database,
		logger:   logger.Named("couchdb"),
	}

	if err := s.initializeSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return s, nil
}

// initializeSchema creates the indexes and views used by the inventory queries.
func (s *CouchStore) initializeSchema() error {
	indexes := []db.Index{
		{
			Name:   "images-type-role-chipset",
			Fields: []string{"@type", "image_type", "element_role", "platform_chipset"},
			Type:   "json",
		},
		{
			Name:   "images-name",
			Fields: []string{"@type", "image_name"},
			Type:   "json",
		},
		{
			Name:   "releases-name",
			Fields: []string{"@type", "release_name"},
			Type:   "json",
		},
	}

	for _, index := range indexes {
		if err := s.service.CreateIndex(index); err != nil {
			// index might already exist
			s.logger.Warn("failed to create index", zap.String("index", index.Name), zap.Error(err))
		}
	}

	design := db.DesignDoc{
		ID:       "_design/" + designDoc,
		Language: "javascript",
		Views: map[string]db.View{
			"element_images_by_element": {
				Map: `function(doc) {
					if (doc['@type'] === 'inventory:ElementImage' && doc.element_id) {
						emit(doc.element_id, null);
					}
				}`,
			},
			"element_images_by_image": {
				Map: `function(doc) {
					if (doc['@type'] === 'inventory:ElementImage' && doc.image_id) {
						emit(doc.image_id, null);
					}
				}`,
			},
			"releases_by_image": {
				Map: `function(doc) {
					if (doc['@type'] === 'inventory:Release' && doc.images) {
						doc.images.forEach(function(img) { emit(img.image_id, null); });
					}
				}`,
			},
		},
	}
	if err := s.service.CreateDesignDoc(design); err != nil {
		return fmt.Errorf("failed to create views: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	couchErr, ok := err.(*db.CouchDBError)
	return ok && couchErr.IsNotFound()
}

func isConflict(err error) bool {
	couchErr, ok := err.(*db.CouchDBError)
	return ok && couchErr.IsConflict()
}

// saveDocument saves doc and retries once with the current revision when
// CouchDB reports a conflict.
func (s *CouchStore) saveDocument(id string, doc interface{}, setRev func(string)) error {
	_, err := s.service.SaveGenericDocument(doc)
	if err != nil && isConflict(err) {
		var existing struct {
			Rev string `json:"_rev"`
		}
		if getErr := s.service.GetGenericDocument(id, &existing); getErr == nil {
			setRev(existing.Rev)
			_, err = s.service.SaveGenericDocument(doc)
		}
	}
	return err
}

func (s *CouchStore) deleteDocument(id string) error {
	var existing struct {
		Rev string `json:"_rev"`
	}
	if err := s.service.GetGenericDocument(id, &existing); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return err
	}
	return s.service.DeleteDocument(id, existing.Rev)
}

func imageToDoc(img *models.Image) *imageDoc {
	return &imageDoc{
		Context:         jsonLDContext,
		Type:            typeImage,
		ID:              models.DocumentID("image", img.ID),
		ImageID:         img.ID,
		Name:            img.Name,
		ImageType:       img.ImageType,
		Version:         img.Version.String(),
		State:           string(img.State),
		ElementRole:     img.ElementRole,
		PlatformChipset: img.PlatformChipset,
		Organization:    img.Organization,
		Extension:       img.Extension,
		Category:        img.Category,
		BuildID:         img.BuildID,
		BuildDate:       img.BuildDate,
		Checksums:       img.Checksums,
	}
}

func docToImage(doc *imageDoc) *models.Image {
	// an unparsable persisted version leaves the version unset
	version, _ := models.ParseVersion(doc.Version)
	return &models.Image{
		ID:              doc.ImageID,
		Name:            doc.Name,
		ImageType:       doc.ImageType,
		Version:         version,
		State:           models.DecodeImageStateOrDefault(doc.State),
		ElementRole:     doc.ElementRole,
		PlatformChipset: doc.PlatformChipset,
		Organization:    doc.Organization,
		Extension:       doc.Extension,
		Category:        doc.Category,
		BuildID:         doc.BuildID,
		BuildDate:       doc.BuildDate,
		Checksums:       doc.Checksums,
	}
}

func releaseToDoc(rel *models.Release) *releaseDoc {
	doc := &releaseDoc{
		Context:     jsonLDContext,
		Type:        typeRelease,
		ID:          models.DocumentID("release", rel.ID),
		ReleaseID:   rel.ID,
		Name:        rel.Name,
		State:       string(rel.State),
		Description: rel.Description,
		Images:      make([]releaseImageDoc, 0, len(rel.Images)),
	}
	for _, ri := range rel.Images {
		doc.Images = append(doc.Images, releaseImageDoc{
			ImageID:         ri.ImageID,
			ImageName:       ri.ImageName,
			ImageType:       ri.ImageType,
			ImageVersion:    ri.ImageVersion.String(),
			ImageState:      string(ri.ImageState),
			PlatformChipset: ri.PlatformChipset,
			ElementRoles:    ri.ElementRoles,
		})
	}
	return doc
}

func docToRelease(doc *releaseDoc) *models.Release {
	rel := &models.Release{
		ID:          doc.ReleaseID,
		Name:        doc.Name,
		State:       models.DecodeImageStateOrDefault(doc.State),
		Description: doc.Description,
		Images:      make([]models.ReleaseImage, 0, len(doc.Images)),
	}
	for _, ri := range doc.Images {
		version, _ := models.ParseVersion(ri.ImageVersion)
		rel.Images = append(rel.Images, models.ReleaseImage{
			ImageID:         ri.ImageID,
			ImageName:       ri.ImageName,
			ImageType:       ri.ImageType,
			ImageVersion:    version,
			ImageState:      models.DecodeImageStateOrDefault(ri.ImageState),
			PlatformChipset: ri.PlatformChipset,
			ElementRoles:    ri.ElementRoles,
		})
	}
	return rel
}

func (s *CouchStore) SaveImage(_ context.Context, img *models.Image) error {
	existing, err := s.findImageDocs(db.NewQueryBuilder().
		Where("@type", "$eq", typeImage).
		And().Where("image_name", "$eq", img.Name).
		Build())
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.ImageID != img.ID {
			return ErrDuplicate
		}
	}

	doc := imageToDoc(img)
	if err := s.saveDocument(doc.ID, doc, func(rev string) { doc.Rev = rev }); err != nil {
		return fmt.Errorf("failed to save image %s: %w", img.ID, err)
	}
	s.logger.Debug("image saved", zap.String("image_id", img.ID), zap.String("image_state", doc.State))
	return nil
}

func (s *CouchStore) GetImage(_ context.Context, id string) (*models.Image, error) {
	var doc imageDoc
	if err := s.service.GetGenericDocument(models.DocumentID("image", id), &doc); err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return docToImage(&doc), nil
}

func (s *CouchStore) GetImageByName(_ context.Context, name string) (*models.Image, error) {
	docs, err := s.findImageDocs(db.NewQueryBuilder().
		Where("@type", "$eq", typeImage).
		And().Where("image_name", "$eq", name).
		Build())
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docToImage(&docs[0]), nil
}

func (s *CouchStore) ListImages(_ context.Context, q models.ImageQuery) ([]*models.Image, error) {
	qb := db.NewQueryBuilder().
		Where("@type", "$eq", typeImage)
	if q.ImageType != "" {
		qb = qb.And().Where("image_type", "$eq", q.ImageType)
	}

	docs, err := s.findImageDocs(qb.Build())
	if err != nil {
		return nil, err
	}

	// role, chipset, state and name filters are applied after decoding; a
	// missing or unknown persisted state decodes to REVOKED
	images := make([]*models.Image, 0, len(docs))
	for i := range docs {
		img := docToImage(&docs[i])
		if MatchImage(img, q) {
			images = append(images, img)
		}
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })
	return applyLimit(images, q.Limit), nil
}

func (s *CouchStore) findImageDocs(query db.MangoQuery) ([]imageDoc, error) {
	docs, err := db.FindTyped[imageDoc](s.service, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	return docs, nil
}

func (s *CouchStore) DeleteImage(_ context.Context, id string) error {
	return s.deleteDocument(models.DocumentID("image", id))
}

func (s *CouchStore) SaveRelease(_ context.Context, rel *models.Release) error {
	existing, err := db.FindTyped[releaseDoc](s.service, db.NewQueryBuilder().
		Where("@type", "$eq", typeRelease).
		And().Where("release_name", "$eq", rel.Name).
		Build())
	if err != nil {
		return fmt.Errorf("failed to query releases: %w", err)
	}
	for _, other := range existing {
		if other.ReleaseID != rel.ID {
			return ErrDuplicate
		}
	}

	doc := releaseToDoc(rel)
	if err := s.saveDocument(doc.ID, doc, func(rev string) { doc.Rev = rev }); err != nil {
		return fmt.Errorf("failed to save release %s: %w", rel.ID, err)
	}
	return nil
}

func (s *CouchStore) GetRelease(_ context.Context, id string) (*models.Release, error) {
	var doc releaseDoc
	if err := s.service.GetGenericDocument(models.DocumentID("release", id), &doc); err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return docToRelease(&doc), nil
}

func (s *CouchStore) GetReleaseByName(_ context.Context, name string) (*models.Release, error) {
	docs, err := db.FindTyped[releaseDoc](s.service, db.NewQueryBuilder().
		Where("@type", "$eq", typeRelease).
		And().Where("release_name", "$eq", name).
		Build())
	if err != nil {
		return nil, fmt.Errorf("failed to query releases: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docToRelease(&docs[0]), nil
}

func (s *CouchStore) ListReleases(_ context.Context, filter string) ([]*models.Release, error) {
	docs, err := db.FindTyped[releaseDoc](s.service, db.NewQueryBuilder().
		Where("@type", "$eq", typeRelease).
		Build())
	if err != nil {
		return nil, fmt.Errorf("failed to query releases: %w", err)
	}
	releases := make([]*models.Release, 0, len(docs))
	for i := range docs {
		if matchReleaseName(docs[i].Name, filter) {
			releases = append(releases, docToRelease(&docs[i]))
		}
	}
	sort.Slice(releases, func(i, j int) bool { return releases[i].Name < releases[j].Name })
	return releases, nil
}

func (s *CouchStore) DeleteRelease(_ context.Context, id string) error {
	return s.deleteDocument(models.DocumentID("release", id))
}

func (s *CouchStore) SaveElement(_ context.Context, el *models.Element) error {
	doc := &elementDoc{
		Context: jsonLDContext,
		Type:    typeElement,
		ID:      models.DocumentID("element", el.ID),
		Element: *el,
	}
	return s.saveDocument(doc.ID, doc, func(rev string) { doc.Rev = rev })
}

func (s *CouchStore) GetElement(_ context.Context, id string) (*models.Element, error) {
	var doc elementDoc
	if err := s.service.GetGenericDocument(models.DocumentID("element", id), &doc); err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc.Element, nil
}

func (s *CouchStore) ListElements(_ context.Context) ([]*models.Element, error) {
	docs, err := db.FindTyped[elementDoc](s.service, db.NewQueryBuilder().
		Where("@type", "$eq", typeElement).
		Build())
	if err != nil {
		return nil, fmt.Errorf("failed to query elements: %w", err)
	}
	elements := make([]*models.Element, 0, len(docs))
	for i := range docs {
		elements = append(elements, &docs[i].Element)
	}
	sort.Slice(elements, func(i, j int) bool { return elements[i].Name < elements[j].Name })
	return elements, nil
}

func (s *CouchStore) ListElementImages(_ context.Context, elementID string) ([]models.ElementInstalledImage, error) {
	return s.queryElementImages("element_images_by_element", elementID)
}

func (s *CouchStore) ListInstalledImages(_ context.Context, imageID string) ([]models.ElementInstalledImage, error) {
	if imageID != "" {
		return s.queryElementImages("element_images_by_image", imageID)
	}
	docs, err := db.FindTyped[elementImageDoc](s.service, db.NewQueryBuilder().
		Where("@type", "$eq", typeElementImage).
		Build())
	if err != nil {
		return nil, fmt.Errorf("failed to query element images: %w", err)
	}
	rows := make([]models.ElementInstalledImage, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, doc.ElementInstalledImage)
	}
	sortRows(rows)
	return rows, nil
}

func (s *CouchStore) queryElementImages(view, key string) ([]models.ElementInstalledImage, error) {
	result, err := s.service.QueryView(designDoc, view, db.ViewOptions{
		Key:         key,
		IncludeDocs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query view %s: %w", view, err)
	}

	rows := make([]models.ElementInstalledImage, 0, len(result.Rows))
	for _, row := range result.Rows {
		var doc elementImageDoc
		if err := json.Unmarshal(row.Doc, &doc); err != nil {
			s.logger.Warn("skipping unreadable element image", zap.String("view", view), zap.Error(err))
			continue
		}
		rows = append(rows, doc.ElementInstalledImage)
	}
	sortRows(rows)
	return rows, nil
}

func (s *CouchStore) SaveElementImage(_ context.Context, row models.ElementInstalledImage) error {
	doc := &elementImageDoc{
		Context:               jsonLDContext,
		Type:                  typeElementImage,
		ID:                    models.DocumentID("element-image", row.ElementID, row.ImageID),
		ElementInstalledImage: row,
	}
	return s.saveDocument(doc.ID, doc, func(rev string) { doc.Rev = rev })
}

func (s *CouchStore) DeleteElementImage(_ context.Context, elementID, imageID string) error {
	return s.deleteDocument(models.DocumentID("element-image", elementID, imageID))
}

func (s *CouchStore) ReleasesReferencingImage(_ context.Context, imageID string) ([]string, error) {
	result, err := s.service.QueryView(designDoc, "releases_by_image", db.ViewOptions{
		Key:         imageID,
		IncludeDocs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query view releases_by_image: %w", err)
	}
	ids := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		var doc releaseDoc
		if err := json.Unmarshal(row.Doc, &doc); err != nil {
			continue
		}
		ids = append(ids, doc.ReleaseID)
	}
	return ids, nil
}

func (s *CouchStore) Info(_ context.Context) (*Info, error) {
	info, err := s.service.GetDatabaseInfo()
	if err != nil {
		return nil, err
	}
	return &Info{
		Backend:   "couchdb",
		Database:  info.DBName,
		Documents: int64(info.DocCount),
		Deleted:   int64(info.DocDelCount),
	}, nil
}

func (s *CouchStore) Close() error {
	return s.service.Close()
}
