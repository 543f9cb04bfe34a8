package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"evalgo.org/inventory/internal/storage"
	"evalgo.org/inventory/internal/validation"
	"evalgo.org/inventory/models"
)

// Service implements the image, release and element-image operations on
// top of a storage.Store. Errors are reported as ValidationError,
// NotFoundError, UniqueConstraintError or ConflictError; any other error is
// a storage failure.
type Service struct {
	store     storage.Store
	validator *validation.Validator
	logger    *zap.Logger
	events    EventSink
}

// Option configures a Service.
type Option func(*Service)

// WithEvents publishes image events to sink.
func WithEvents(sink EventSink) Option {
	return func(s *Service) {
		s.events = sink
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a service backed by store.
func NewService(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		validator: validation.New(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) publish(t EventType, img *models.Image, previous models.ImageState) {
	if s.events == nil {
		return
	}
	event := newImageEvent(t, img)
	event.PreviousState = previous
	s.events.Publish(event)
}

// loadCatalog reads all images and releases into a catalog.
func (s *Service) loadCatalog(ctx context.Context) (*Catalog, error) {
	images, err := s.store.ListImages(ctx, models.ImageQuery{})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	releases, err := s.store.ListReleases(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	return NewCatalog(images, releases), nil
}

func (s *Service) getImage(ctx context.Context, id string) (*models.Image, error) {
	img, err := s.store.GetImage(ctx, id)
	if err != nil {
		return nil, notFound(err, "image", id)
	}
	return img, nil
}

func (s *Service) getElement(ctx context.Context, id string) (*models.Element, error) {
	el, err := s.store.GetElement(ctx, id)
	if err != nil {
		return nil, notFound(err, "element", id)
	}
	return el, nil
}

// notFound maps storage.ErrNotFound to a NotFoundError and wraps other
// errors.
func notFound(err error, kind, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return fmt.Errorf("load %s %s: %w", kind, id, err)
}

func firstValidationError(errs []validation.ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Field: errs[0].Field, Message: errs[0].Message}
}

// groupLookup resolves element groups from a loaded element list.
func groupLookup(elements map[string]*models.Element) GroupLookup {
	return func(elementID string) (string, bool) {
		el, ok := elements[elementID]
		if !ok || el.GroupID == "" {
			return "", false
		}
		return el.GroupID, true
	}
}

func (s *Service) elementIndex(ctx context.Context) (map[string]*models.Element, error) {
	elements, err := s.store.ListElements(ctx)
	if err != nil {
		return nil, fmt.Errorf("list elements: %w", err)
	}
	index := make(map[string]*models.Element, len(elements))
	for _, el := range elements {
		index[el.ID] = el
	}
	return index, nil
}
