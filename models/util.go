package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID for images and releases.
func NewID() string {
	return uuid.New().String()
}

// IsUUID reports whether s is a well-formed UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// DocumentID builds a document key from a prefix and key parts.
// Example: DocumentID("element-image", "leaf-01", "1f0a...") -> "element-image:leaf-01:1f0a..."
func DocumentID(prefix string, parts ...string) string {
	return fmt.Sprintf("%s:%s", prefix, strings.Join(parts, ":"))
}
