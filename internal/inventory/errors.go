package inventory

import "fmt"

// ValidationError reports invalid input, e.g. a malformed version or a
// forbidden state transition.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports a missing image, release or element.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// UniqueConstraintError reports that another record already owns a name.
type UniqueConstraintError struct {
	Kind string
	Name string
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("%s name %q is already in use", e.Kind, e.Name)
}

// ConflictError reports an operation that contradicts the current state,
// e.g. removing an image that is still in use.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func validationErrorf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func conflictErrorf(format string, args ...interface{}) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}
