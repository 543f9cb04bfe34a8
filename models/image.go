package models

import "time"

// Image is a firmware image registered in the inventory.
//
// An image is identified by its UUID and has a unique name. It is built for
// an element role and a platform chipset. An image without role is
// applicable to every role, an image without chipset to every chipset.
//
// Example JSON representation:
//
//	{
//	  "image_id": "1f0a4b9e-7c55-4d1e-9a63-4d7c0e3f6a10",
//	  "image_name": "leaf-os-2.1.0",
//	  "image_type": "LXC",
//	  "image_version": "2.1.0",
//	  "image_state": "CANDIDATE",
//	  "element_role": "LEAF",
//	  "platform_chipset": "TH3",
//	  "organization": "net.leitstand",
//	  "checksums": {"SHA256": "9f86d08..."}
//	}
type Image struct {
	// ID is the immutable image UUID
	ID string `json:"image_id" validate:"omitempty,uuid"`

	// Name is the unique image name
	Name string `json:"image_name" validate:"required,max=256"`

	// ImageType groups images that replace each other, e.g. LXC or ONIE
	ImageType string `json:"image_type" validate:"required,max=64"`

	// Version is the image version
	Version Version `json:"image_version"`

	// State is the lifecycle state. Unset means NEW for new images.
	State ImageState `json:"image_state,omitempty"`

	// ElementRole restricts the image to a role (optional)
	ElementRole string `json:"element_role,omitempty" validate:"omitempty,max=64"`

	// PlatformChipset restricts the image to a chipset (optional)
	PlatformChipset string `json:"platform_chipset,omitempty" validate:"omitempty,max=64"`

	// Organization is the organization that built the image
	Organization string `json:"organization,omitempty" validate:"omitempty,max=128"`

	// Extension is the file extension of the image artifact
	Extension string `json:"image_extension,omitempty" validate:"omitempty,max=16"`

	// Category is a free-form image category
	Category string `json:"category,omitempty" validate:"omitempty,max=64"`

	// BuildID is the identifier of the build that created the image
	BuildID string `json:"build_id,omitempty" validate:"omitempty,max=64"`

	// BuildDate is the build timestamp
	BuildDate *time.Time `json:"build_date,omitempty"`

	// Checksums maps the checksum algorithm to the checksum value
	Checksums map[string]string `json:"checksums,omitempty"`
}

// AppliesTo reports whether the image can run on an element with the given
// role and chipset. Unset image role or chipset act as wildcards.
func (i *Image) AppliesTo(role, chipset string) bool {
	if i.ElementRole != "" && i.ElementRole != role {
		return false
	}
	if i.PlatformChipset != "" && i.PlatformChipset != chipset {
		return false
	}
	return true
}

// SameLineage reports whether o is built for the same image type, role and
// chipset as i. Images of one lineage supersede each other on release.
func (i *Image) SameLineage(o *Image) bool {
	return i.ImageType == o.ImageType &&
		i.ElementRole == o.ElementRole &&
		i.PlatformChipset == o.PlatformChipset
}

// ImageQuery holds the filters of an image listing. Empty fields match all
// images.
type ImageQuery struct {
	ElementRole     string
	PlatformChipset string
	ImageType       string
	ImageState      ImageState
	ImageVersion    string

	// Filter is a case-insensitive substring of the image name
	Filter string

	// Limit caps the number of results, 0 means unlimited
	Limit int
}

// ImageTypeVersions lists the known versions of one image type.
type ImageTypeVersions struct {
	ImageType string    `json:"image_type"`
	Versions  []Version `json:"versions"`
}
