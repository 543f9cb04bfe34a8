package models

// Release bundles the images that make up a network release.
//
// Every image of a release serves one or more element roles. A release must
// not contain two images for the same role and chipset.
type Release struct {
	// ID is the release UUID
	ID string `json:"release_id" validate:"omitempty,uuid"`

	// Name is the unique release name
	Name string `json:"release_name" validate:"required,max=128"`

	// State is the release lifecycle state
	State ImageState `json:"release_state,omitempty"`

	// Description is an optional release description
	Description string `json:"description,omitempty" validate:"omitempty,max=1024"`

	// Images are the images of the release in submission order
	Images []ReleaseImage `json:"images,omitempty" validate:"dive"`
}

// ReleaseImage is an image of a release together with the roles it serves
// in that release.
type ReleaseImage struct {
	ImageID         string     `json:"image_id" validate:"required"`
	ImageName       string     `json:"image_name,omitempty"`
	ImageType       string     `json:"image_type,omitempty"`
	ImageVersion    Version    `json:"image_version"`
	ImageState      ImageState `json:"image_state,omitempty"`
	PlatformChipset string     `json:"platform_chipset,omitempty"`
	ElementRoles    []string   `json:"element_roles" validate:"required,min=1,dive,required"`
}

// ServesRole reports whether the release image is deployed to role.
func (r *ReleaseImage) ServesRole(role string) bool {
	for _, candidate := range r.ElementRoles {
		if candidate == role {
			return true
		}
	}
	return false
}

// ReleaseRef is the short form of a release used in listings.
type ReleaseRef struct {
	ID    string     `json:"release_id"`
	Name  string     `json:"release_name"`
	State ImageState `json:"release_state,omitempty"`
}

// Ref returns the short form of r.
func (r *Release) Ref() ReleaseRef {
	return ReleaseRef{ID: r.ID, Name: r.Name, State: r.State}
}
