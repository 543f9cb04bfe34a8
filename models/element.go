package models

import "time"

// Element is the read-only view of a network element the image inventory
// needs: its role, chipset and group.
type Element struct {
	ID              string `json:"element_id" validate:"required,max=64"`
	Name            string `json:"element_name" validate:"required,max=128"`
	Role            string `json:"element_role" validate:"required,max=64"`
	PlatformChipset string `json:"platform_chipset,omitempty" validate:"omitempty,max=64"`
	GroupID         string `json:"group_id,omitempty" validate:"omitempty,max=64"`
	GroupName       string `json:"group_name,omitempty" validate:"omitempty,max=128"`
}

// ElementImageState tells whether an image runs on an element, is cached on
// it, or is about to be pulled by zero-touch provisioning.
type ElementImageState string

const (
	ElementImageActive ElementImageState = "ACTIVE"
	ElementImageCached ElementImageState = "CACHED"
	ElementImagePull   ElementImageState = "PULL"
)

// IsValid reports whether s is a known element image state.
func (s ElementImageState) IsValid() bool {
	switch s {
	case ElementImageActive, ElementImageCached, ElementImagePull:
		return true
	}
	return false
}

// ElementInstalledImage is one image installed on an element.
type ElementInstalledImage struct {
	ElementID     string            `json:"element_id"`
	ImageID       string            `json:"image_id"`
	State         ElementImageState `json:"element_image_state"`
	Ztp           bool              `json:"zero_touch_provisioning,omitempty"`
	DateInstalled *time.Time        `json:"date_installed,omitempty"`
}

// IsActive reports whether the image runs on the element.
func (e *ElementInstalledImage) IsActive() bool {
	return e.State == ElementImageActive
}

// ElementImageReference is an image reported by an element.
type ElementImageReference struct {
	ImageID      string  `json:"image_id" validate:"required"`
	ImageType    string  `json:"image_type,omitempty"`
	ImageName    string  `json:"image_name,omitempty"`
	ImageVersion Version `json:"image_version"`
	Active       bool    `json:"active"`
}

// ElementImage is an installed image with its lifecycle data and the
// upgrades available for it.
type ElementImage struct {
	Image
	ElementImageState ElementImageState  `json:"element_image_state"`
	Ztp               bool               `json:"zero_touch_provisioning,omitempty"`
	DateInstalled     *time.Time         `json:"date_installed,omitempty"`
	AvailableUpgrades []AvailableUpgrade `json:"available_upgrades"`
}

// ElementImages lists all images installed on an element.
type ElementImages struct {
	ElementID   string         `json:"element_id"`
	ElementName string         `json:"element_name"`
	ElementRole string         `json:"element_role"`
	GroupID     string         `json:"group_id,omitempty"`
	GroupName   string         `json:"group_name,omitempty"`
	Images      []ElementImage `json:"images"`
}
