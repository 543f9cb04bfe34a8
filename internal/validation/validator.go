// Package validation checks images, releases and element reports before
// they reach the inventory.
//
// It uses:
//   - go-playground/validator for struct-level validation
//   - json-gold for JSON-LD semantic validation of submitted documents
//
// # Validation Process
//
// 1. JSON parsing - Ensures valid JSON syntax
// 2. Struct validation - Checks required fields and constraints
// 3. Lifecycle rules - Version and state of the image
// 4. JSON-LD validation - Only for documents that declare an @context
//
// # Usage Example
//
//	v := validation.New()
//	result, err := v.ValidateImageDocument(jsonData)
//	if err != nil {
//	    // Handle error
//	}
//	if !result.Valid {
//	    for _, e := range result.Errors {
//	        fmt.Printf("%s: %s\n", e.Field, e.Message)
//	    }
//	}
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/piprate/json-gold/ld"

	"evalgo.org/inventory/models"
)

// Validator combines struct validation with JSON-LD validation.
type Validator struct {
	// structValidator validates Go struct constraints and tags
	structValidator *validator.Validate

	// jsonldProcessor validates JSON-LD semantic correctness
	jsonldProcessor *ld.JsonLdProcessor
}

// ValidationError represents a single validation error with field-level details.
type ValidationError struct {
	// Field is the JSON name of the field that failed validation
	Field string `json:"field"`

	// Message describes why the validation failed
	Message string `json:"message"`

	// Value is the invalid value that caused the error (optional)
	Value interface{} `json:"value,omitempty"`
}

// ValidationResult represents the complete result of a validation operation.
type ValidationResult struct {
	// Valid is true if validation passed, false otherwise
	Valid bool `json:"valid"`

	// Errors contains all validation errors found (empty if Valid is true)
	Errors []ValidationError `json:"errors,omitempty"`
}

// New creates a new Validator. Struct errors are reported with the JSON
// field names of the models.
func New() *Validator {
	sv := validator.New()
	sv.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return &Validator{
		structValidator: sv,
		jsonldProcessor: ld.NewJsonLdProcessor(),
	}
}

// ValidateImage checks the struct constraints and the lifecycle fields of img.
func (v *Validator) ValidateImage(img *models.Image) []ValidationError {
	errs := v.validateStruct(img)

	if !img.Version.IsValid() {
		errs = append(errs, ValidationError{
			Field:   "image_version",
			Message: "Image version is required",
		})
	}
	if img.State != "" && !img.State.IsValid() {
		errs = append(errs, ValidationError{
			Field:   "image_state",
			Message: fmt.Sprintf("Invalid state: must be one of: %s", joinStates()),
			Value:   string(img.State),
		})
	}
	for algorithm, value := range img.Checksums {
		if strings.TrimSpace(algorithm) == "" || strings.TrimSpace(value) == "" {
			errs = append(errs, ValidationError{
				Field:   "checksums",
				Message: "Checksum algorithm and value must not be empty",
			})
			break
		}
	}
	return errs
}

// ValidateRelease checks the struct constraints of rel.
func (v *Validator) ValidateRelease(rel *models.Release) []ValidationError {
	errs := v.validateStruct(rel)
	if rel.State != "" && !rel.State.IsValid() {
		errs = append(errs, ValidationError{
			Field:   "release_state",
			Message: fmt.Sprintf("Invalid state: must be one of: %s", joinStates()),
			Value:   string(rel.State),
		})
	}
	return errs
}

// ValidateElement checks the struct constraints of el.
func (v *Validator) ValidateElement(el *models.Element) []ValidationError {
	return v.validateStruct(el)
}

// ValidateElementImages checks the images reported by an element.
func (v *Validator) ValidateElementImages(refs []models.ElementImageReference) []ValidationError {
	var errs []ValidationError
	for i := range refs {
		for _, e := range v.validateStruct(&refs[i]) {
			e.Field = fmt.Sprintf("images[%d].%s", i, e.Field)
			errs = append(errs, e)
		}
	}
	return errs
}

// ValidateImageDocument validates a submitted image document. Documents
// declaring an @context are additionally checked as JSON-LD.
func (v *Validator) ValidateImageDocument(data []byte) (*ValidationResult, error) {
	var img models.Image

	if err := json.Unmarshal(data, &img); err != nil {
		field := "document"
		if errors.Is(err, models.ErrInvalidVersion) || errors.Is(err, models.ErrNonConformingVersion) {
			field = "image_version"
		} else if errors.Is(err, models.ErrInvalidImageState) {
			field = "image_state"
		}
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   field,
					Message: fmt.Sprintf("Invalid JSON: %v", err),
				},
			},
		}, nil
	}

	jsonldErrors := v.validateJSONLD(data)
	imageErrors := v.ValidateImage(&img)

	allErrors := append(jsonldErrors, imageErrors...)

	return &ValidationResult{
		Valid:  len(allErrors) == 0,
		Errors: allErrors,
	}, nil
}

// validateJSONLD validates JSON-LD structure using json-gold
func (v *Validator) validateJSONLD(data []byte) []ValidationError {
	var errs []ValidationError

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return append(errs, ValidationError{
			Field:   "document",
			Message: fmt.Sprintf("Invalid JSON: %v", err),
		})
	}

	docMap, ok := doc.(map[string]interface{})
	if !ok {
		return append(errs, ValidationError{
			Field:   "document",
			Message: "Document must be a JSON object",
		})
	}
	if _, hasContext := docMap["@context"]; !hasContext {
		return errs
	}

	if _, hasType := docMap["@type"]; !hasType {
		errs = append(errs, ValidationError{
			Field:   "@type",
			Message: "Missing @type field (required for JSON-LD)",
		})
	}

	options := ld.NewJsonLdOptions("")
	if _, err := v.jsonldProcessor.Expand(doc, options); err != nil {
		errs = append(errs, ValidationError{
			Field:   "document",
			Message: fmt.Sprintf("Invalid JSON-LD structure: %v", err),
		})
	}

	return errs
}

func (v *Validator) validateStruct(s interface{}) []ValidationError {
	err := v.structValidator.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Field: "document", Message: err.Error()}}
	}

	errs := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, ValidationError{
			Field:   fieldPath(fe),
			Message: describe(fe),
			Value:   valueOf(fe),
		})
	}
	return errs
}

// fieldPath strips the struct name from the namespace: "Image.image_name" -> "image_name".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Field is required"
	case "max":
		return fmt.Sprintf("Must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("Must contain at least %s entries", fe.Param())
	case "uuid":
		return "Must be a UUID"
	default:
		return fmt.Sprintf("Failed %q validation", fe.Tag())
	}
}

func valueOf(fe validator.FieldError) interface{} {
	if fe.Tag() == "required" {
		return nil
	}
	return fe.Value()
}

func joinStates() string {
	names := make([]string, 0, len(models.ImageStates))
	for _, s := range models.ImageStates {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}
