package models

import "time"

// UpgradeType classifies an available upgrade.
type UpgradeType string

const (
	// UpgradeMajor is an upgrade to a higher major version.
	UpgradeMajor UpgradeType = "MAJOR"

	// UpgradeMinor covers every other upgrade within the same major version,
	// including patch and pre-release updates.
	UpgradeMinor UpgradeType = "MINOR"
)

// AvailableUpgrade is an image an element can be upgraded to.
type AvailableUpgrade struct {
	ImageID      string      `json:"image_id"`
	ImageName    string      `json:"image_name"`
	ImageState   ImageState  `json:"image_state"`
	ImageVersion Version     `json:"image_version"`
	BuildDate    *time.Time  `json:"build_date,omitempty"`
	UpgradeType  UpgradeType `json:"upgrade_type"`
}

// ImageStatistics holds the deployment counts of one image.
type ImageStatistics struct {
	Image  Image                  `json:"image"`
	Groups []GroupImageStatistics `json:"groups"`
}

// GroupImageStatistics holds the deployment counts of an image in one
// element group.
type GroupImageStatistics struct {
	GroupID   string `json:"group_id"`
	GroupName string `json:"group_name,omitempty"`
	Active    int    `json:"active_count"`
	Cached    int    `json:"cached_count"`
}

// GroupImageElements lists the elements of a group that run or cache an
// image.
type GroupImageElements struct {
	Image     Image                    `json:"image"`
	GroupID   string                   `json:"group_id"`
	GroupName string                   `json:"group_name,omitempty"`
	Elements  []GroupElementImageState `json:"elements"`
}

// GroupElementImageState is the install state of an image on one element.
type GroupElementImageState struct {
	ElementID   string            `json:"element_id"`
	ElementName string            `json:"element_name"`
	ElementRole string            `json:"element_role"`
	State       ElementImageState `json:"element_image_state"`
}

// ImageDeploymentCount is the number of elements of a group running or
// caching an image.
type ImageDeploymentCount struct {
	ImageID string `json:"image_id"`
	GroupID string `json:"group_id"`
	Count   int    `json:"count"`
}
