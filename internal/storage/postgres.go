package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"evalgo.org/inventory/internal/config"
	"evalgo.org/inventory/models"
)

// schema of the relational backend. Image and release states use the
// single-letter codes of models.EncodeImageState.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS inventory_image (
	uuid             varchar(36)  PRIMARY KEY,
	name             varchar(256) NOT NULL UNIQUE,
	type             varchar(64)  NOT NULL,
	major            integer      NOT NULL CHECK (major >= 0),
	minor            integer      NOT NULL CHECK (minor >= 0),
	patch            integer      NOT NULL CHECK (patch >= 0),
	prerelease       varchar(64),
	state            char(1)      NOT NULL,
	element_role     varchar(64),
	chipset          varchar(64),
	organization     varchar(128),
	extension        varchar(16),
	category         varchar(64),
	build_id         varchar(64),
	build_date       timestamptz,
	checksums        jsonb
);
CREATE INDEX IF NOT EXISTS inventory_image_lineage ON inventory_image (type, element_role, chipset);

CREATE TABLE IF NOT EXISTS inventory_release (
	uuid             varchar(36)  PRIMARY KEY,
	name             varchar(128) NOT NULL UNIQUE,
	state            char(1)      NOT NULL,
	description      varchar(1024),
	images           jsonb        NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS inventory_element (
	id               varchar(64)  PRIMARY KEY,
	name             varchar(128) NOT NULL,
	role             varchar(64)  NOT NULL,
	chipset          varchar(64),
	group_id         varchar(64),
	group_name       varchar(128)
);

CREATE TABLE IF NOT EXISTS inventory_element_image (
	element_id       varchar(64)  NOT NULL,
	image_uuid       varchar(36)  NOT NULL,
	state            varchar(8)   NOT NULL,
	ztp              boolean      NOT NULL DEFAULT false,
	date_installed   timestamptz,
	PRIMARY KEY (element_id, image_uuid)
);
CREATE INDEX IF NOT EXISTS inventory_element_image_image ON inventory_element_image (image_uuid);
`

const imageColumns = `uuid, name, type, major, minor, patch, prerelease, state, element_role, chipset,
	organization, extension, category, build_id, build_date, checksums`

// DB is the subset of *sql.DB used by PostgresStore.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore stores the inventory in PostgreSQL.
type PostgresStore struct {
	db     DB
	closer func() error
	name   string
}

// OpenPostgres opens a connection pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return db, nil
}

// NewPostgresStore opens the database and creates the schema when
// cfg.AutoMigrate is set.
func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	db, err := OpenPostgres(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := &PostgresStore{db: db, closer: db.Close, name: databaseName(cfg.URL)}
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewPostgresStoreFromDB wraps an existing connection.
func NewPostgresStoreFromDB(db DB) *PostgresStore {
	return &PostgresStore{db: db, closer: func() error { return nil }, name: "postgres"}
}

// Migrate creates the inventory tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func databaseName(url string) string {
	url = strings.SplitN(url, "?", 2)[0]
	if i := strings.LastIndex(url, "/"); i >= 0 && i < len(url)-1 {
		return url[i+1:]
	}
	return "postgres"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*models.Image, error) {
	var (
		img                     models.Image
		major, minor, patch     int64
		prerelease, state       sql.NullString
		role, chipset, org, ext sql.NullString
		category, buildID       sql.NullString
		buildDate               sql.NullTime
		checksums               []byte
	)
	if err := row.Scan(&img.ID, &img.Name, &img.ImageType, &major, &minor, &patch, &prerelease, &state,
		&role, &chipset, &org, &ext, &category, &buildID, &buildDate, &checksums); err != nil {
		return nil, err
	}
	if major < 0 || minor < 0 || patch < 0 {
		return nil, fmt.Errorf("image %s has negative version component %d.%d.%d", img.ID, major, minor, patch)
	}
	img.Version = models.NewVersion(uint64(major), uint64(minor), uint64(patch), prerelease.String)
	img.State = models.DecodeImageStateOrDefault(state.String)
	img.ElementRole = role.String
	img.PlatformChipset = chipset.String
	img.Organization = org.String
	img.Extension = ext.String
	img.Category = category.String
	img.BuildID = buildID.String
	if buildDate.Valid {
		d := buildDate.Time
		img.BuildDate = &d
	}
	if len(checksums) > 0 {
		if err := json.Unmarshal(checksums, &img.Checksums); err != nil {
			return nil, fmt.Errorf("decode checksums of image %s: %w", img.ID, err)
		}
	}
	return &img, nil
}

func (s *PostgresStore) SaveImage(ctx context.Context, img *models.Image) error {
	var checksums []byte
	if len(img.Checksums) > 0 {
		var err error
		if checksums, err = json.Marshal(img.Checksums); err != nil {
			return err
		}
	}
	pre, _ := img.Version.PreRelease()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory_image (`+imageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (uuid) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type,
			major = EXCLUDED.major, minor = EXCLUDED.minor, patch = EXCLUDED.patch,
			prerelease = EXCLUDED.prerelease, state = EXCLUDED.state,
			element_role = EXCLUDED.element_role, chipset = EXCLUDED.chipset,
			organization = EXCLUDED.organization, extension = EXCLUDED.extension,
			category = EXCLUDED.category, build_id = EXCLUDED.build_id,
			build_date = EXCLUDED.build_date, checksums = EXCLUDED.checksums`,
		img.ID, img.Name, img.ImageType,
		int64(img.Version.Major()), int64(img.Version.Minor()), int64(img.Version.Patch()), nullString(pre),
		models.EncodeImageState(img.State),
		nullString(img.ElementRole), nullString(img.PlatformChipset), nullString(img.Organization),
		nullString(img.Extension), nullString(img.Category), nullString(img.BuildID),
		nullTime(img.BuildDate), checksums,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) GetImage(ctx context.Context, id string) (*models.Image, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM inventory_image WHERE uuid = $1`, id)
	img, err := scanImage(row)
	return img, handleNotFound(err)
}

func (s *PostgresStore) GetImageByName(ctx context.Context, name string) (*models.Image, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM inventory_image WHERE name = $1`, name)
	img, err := scanImage(row)
	return img, handleNotFound(err)
}

// imageFilter renders the WHERE clause of an image listing. The version
// filter is left to MatchImage.
func imageFilter(q models.ImageQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.ImageType != "" {
		add("type = $%d", q.ImageType)
	}
	switch {
	case q.ImageState == models.ImageStateRevoked:
		// unknown codes decode to REVOKED and must be listed with it
		codes := make([]string, 0, len(models.ImageStates))
		for _, st := range models.ImageStates {
			if st != models.ImageStateRevoked {
				codes = append(codes, "'"+models.EncodeImageState(st)+"'")
			}
		}
		where = append(where, "state NOT IN ("+strings.Join(codes, ", ")+")")
	case q.ImageState != "":
		add("state = $%d", models.EncodeImageState(q.ImageState))
	}
	if q.ElementRole != "" {
		add("(element_role IS NULL OR element_role = $%d)", q.ElementRole)
	}
	if q.PlatformChipset != "" {
		add("(chipset IS NULL OR chipset = $%d)", q.PlatformChipset)
	}
	if q.Filter != "" {
		add("name ILIKE $%d", "%"+q.Filter+"%")
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (s *PostgresStore) ListImages(ctx context.Context, q models.ImageQuery) ([]*models.Image, error) {
	where, args := imageFilter(q)
	query := `SELECT ` + imageColumns + ` FROM inventory_image` + where + ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	images := make([]*models.Image, 0)
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		// version is stored in components and compared in its textual form
		if MatchImage(img, models.ImageQuery{ImageVersion: q.ImageVersion}) {
			images = append(images, img)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return applyLimit(images, q.Limit), nil
}

func (s *PostgresStore) DeleteImage(ctx context.Context, id string) error {
	return s.deleteOne(ctx, `DELETE FROM inventory_image WHERE uuid = $1`, id)
}

func (s *PostgresStore) deleteOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type releaseImageRow struct {
	ImageID      string   `json:"image_id"`
	ElementRoles []string `json:"element_roles"`
}

func (s *PostgresStore) SaveRelease(ctx context.Context, rel *models.Release) error {
	refs := make([]releaseImageRow, 0, len(rel.Images))
	for _, ri := range rel.Images {
		refs = append(refs, releaseImageRow{ImageID: ri.ImageID, ElementRoles: ri.ElementRoles})
	}
	images, err := json.Marshal(refs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO inventory_release (uuid, name, state, description, images)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (uuid) DO UPDATE SET
			name = EXCLUDED.name, state = EXCLUDED.state,
			description = EXCLUDED.description, images = EXCLUDED.images`,
		rel.ID, rel.Name, models.EncodeImageState(rel.State), nullString(rel.Description), images,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

type releaseRow struct {
	id, name, state string
	description     sql.NullString
	images          []byte
}

func scanReleaseRow(row rowScanner) (releaseRow, error) {
	var r releaseRow
	err := row.Scan(&r.id, &r.name, &r.state, &r.description, &r.images)
	return r, err
}

// buildRelease resolves the image details of a release row. A dangling image
// reference keeps the image ID only.
func (s *PostgresStore) buildRelease(ctx context.Context, r releaseRow) (*models.Release, error) {
	rel := &models.Release{
		ID:          r.id,
		Name:        r.name,
		State:       models.DecodeImageStateOrDefault(r.state),
		Description: r.description.String,
	}

	var refs []releaseImageRow
	if err := json.Unmarshal(r.images, &refs); err != nil {
		return nil, fmt.Errorf("decode images of release %s: %w", r.id, err)
	}
	rel.Images = make([]models.ReleaseImage, 0, len(refs))
	for _, ref := range refs {
		ri := models.ReleaseImage{ImageID: ref.ImageID, ElementRoles: ref.ElementRoles}
		if img, err := s.GetImage(ctx, ref.ImageID); err == nil {
			ri.ImageName = img.Name
			ri.ImageType = img.ImageType
			ri.ImageVersion = img.Version
			ri.ImageState = img.State
			ri.PlatformChipset = img.PlatformChipset
		}
		rel.Images = append(rel.Images, ri)
	}
	return rel, nil
}

func (s *PostgresStore) getRelease(ctx context.Context, where string, arg any) (*models.Release, error) {
	r, err := scanReleaseRow(s.db.QueryRowContext(ctx,
		`SELECT uuid, name, state, description, images FROM inventory_release WHERE `+where, arg))
	if err != nil {
		return nil, handleNotFound(err)
	}
	return s.buildRelease(ctx, r)
}

func (s *PostgresStore) GetRelease(ctx context.Context, id string) (*models.Release, error) {
	return s.getRelease(ctx, "uuid = $1", id)
}

func (s *PostgresStore) GetReleaseByName(ctx context.Context, name string) (*models.Release, error) {
	return s.getRelease(ctx, "name = $1", name)
}

func (s *PostgresStore) ListReleases(ctx context.Context, filter string) ([]*models.Release, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid, name, state, description, images FROM inventory_release
		 WHERE $1 = '' OR name ILIKE '%' || $1 || '%'
		 ORDER BY name`, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// rows are drained before image details are resolved with further queries
	raws := make([]releaseRow, 0)
	for rows.Next() {
		r, err := scanReleaseRow(rows)
		if err != nil {
			return nil, err
		}
		raws = append(raws, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	releases := make([]*models.Release, 0, len(raws))
	for _, r := range raws {
		rel, err := s.buildRelease(ctx, r)
		if err != nil {
			return nil, err
		}
		releases = append(releases, rel)
	}
	return releases, nil
}

func (s *PostgresStore) DeleteRelease(ctx context.Context, id string) error {
	return s.deleteOne(ctx, `DELETE FROM inventory_release WHERE uuid = $1`, id)
}

func (s *PostgresStore) ReleasesReferencingImage(ctx context.Context, imageID string) ([]string, error) {
	ref, err := json.Marshal([]map[string]string{{"image_id": imageID}})
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid FROM inventory_release WHERE images @> $1::jsonb ORDER BY uuid`, string(ref))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) SaveElement(ctx context.Context, el *models.Element) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory_element (id, name, role, chipset, group_id, group_name)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, role = EXCLUDED.role, chipset = EXCLUDED.chipset,
			group_id = EXCLUDED.group_id, group_name = EXCLUDED.group_name`,
		el.ID, el.Name, el.Role, nullString(el.PlatformChipset), nullString(el.GroupID), nullString(el.GroupName),
	)
	return err
}

func scanElement(row rowScanner) (*models.Element, error) {
	var (
		el                          models.Element
		chipset, groupID, groupName sql.NullString
	)
	if err := row.Scan(&el.ID, &el.Name, &el.Role, &chipset, &groupID, &groupName); err != nil {
		return nil, err
	}
	el.PlatformChipset = chipset.String
	el.GroupID = groupID.String
	el.GroupName = groupName.String
	return &el, nil
}

func (s *PostgresStore) GetElement(ctx context.Context, id string) (*models.Element, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, role, chipset, group_id, group_name FROM inventory_element WHERE id = $1`, id)
	el, err := scanElement(row)
	return el, handleNotFound(err)
}

func (s *PostgresStore) ListElements(ctx context.Context) ([]*models.Element, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, role, chipset, group_id, group_name FROM inventory_element ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	elements := make([]*models.Element, 0)
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		elements = append(elements, el)
	}
	return elements, rows.Err()
}

func (s *PostgresStore) queryElementImages(ctx context.Context, where string, args ...any) ([]models.ElementInstalledImage, error) {
	query := `SELECT element_id, image_uuid, state, ztp, date_installed FROM inventory_element_image`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY element_id, image_uuid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.ElementInstalledImage, 0)
	for rows.Next() {
		var (
			row       models.ElementInstalledImage
			state     string
			installed sql.NullTime
		)
		if err := rows.Scan(&row.ElementID, &row.ImageID, &state, &row.Ztp, &installed); err != nil {
			return nil, err
		}
		row.State = models.ElementImageState(state)
		if installed.Valid {
			t := installed.Time
			row.DateInstalled = &t
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListElementImages(ctx context.Context, elementID string) ([]models.ElementInstalledImage, error) {
	return s.queryElementImages(ctx, "element_id = $1", elementID)
}

func (s *PostgresStore) ListInstalledImages(ctx context.Context, imageID string) ([]models.ElementInstalledImage, error) {
	if imageID == "" {
		return s.queryElementImages(ctx, "")
	}
	return s.queryElementImages(ctx, "image_uuid = $1", imageID)
}

func (s *PostgresStore) SaveElementImage(ctx context.Context, row models.ElementInstalledImage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory_element_image (element_id, image_uuid, state, ztp, date_installed)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (element_id, image_uuid) DO UPDATE SET
			state = EXCLUDED.state, ztp = EXCLUDED.ztp, date_installed = EXCLUDED.date_installed`,
		row.ElementID, row.ImageID, string(row.State), row.Ztp, nullTime(row.DateInstalled),
	)
	return err
}

func (s *PostgresStore) DeleteElementImage(ctx context.Context, elementID, imageID string) error {
	return s.deleteOne(ctx,
		`DELETE FROM inventory_element_image WHERE element_id = $1 AND image_uuid = $2`, elementID, imageID)
}

func (s *PostgresStore) Info(ctx context.Context) (*Info, error) {
	var images, releases, elements, rows int64
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT count(*) FROM inventory_image),
		        (SELECT count(*) FROM inventory_release),
		        (SELECT count(*) FROM inventory_element),
		        (SELECT count(*) FROM inventory_element_image)`).
		Scan(&images, &releases, &elements, &rows)
	if err != nil {
		return nil, err
	}
	return &Info{Backend: "postgres", Database: s.name, Documents: images + releases + elements + rows}, nil
}

func (s *PostgresStore) Close() error {
	return s.closer()
}
