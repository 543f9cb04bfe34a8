package api

import (
	"evalgo.org/inventory/models"
)

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// ImagesResponse represents a page of images.
type ImagesResponse struct {
	Count  int             `json:"count"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
	Images []*models.Image `json:"images"`
}

// ImageTypesResponse lists the known image types.
type ImageTypesResponse struct {
	Count      int      `json:"count"`
	ImageTypes []string `json:"image_types"`
}

// ReleasesResponse lists release references.
type ReleasesResponse struct {
	Count    int                 `json:"count"`
	Releases []models.ReleaseRef `json:"releases"`
}

// ZtpImageRequest selects the zero-touch provisioning image of an element.
type ZtpImageRequest struct {
	ImageID string `json:"image_id"`
}

// StatisticsResponse lists deployment counts per image and group.
type StatisticsResponse struct {
	Count       int                           `json:"count"`
	Deployments []models.ImageDeploymentCount `json:"deployments"`
}
