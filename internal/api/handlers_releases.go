package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/inventory/models"
)

// listReleases handles GET /api/v1/releases
// @Summary List releases
// @Tags releases
// @Produce json
// @Param filter query string false "Release name filter"
// @Success 200 {object} ReleasesResponse
// @Router /releases [get]
func (s *Server) listReleases(c echo.Context) error {
	refs, err := s.service.Releases(c.Request().Context(), c.QueryParam("filter"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ReleasesResponse{Count: len(refs), Releases: refs})
}

// getRelease handles GET /api/v1/releases/:release
func (s *Server) getRelease(c echo.Context) error {
	rel, err := s.service.Release(c.Request().Context(), c.Param("release"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rel)
}

// createRelease handles POST /api/v1/releases
// @Summary Store release
// @Description Adds a release. All images must exist and no role and chipset may be served by two images.
// @Tags releases
// @Accept json
// @Produce json
// @Param release body models.Release true "Release"
// @Success 201 {object} models.Release
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Failure 409 {object} APIError
// @Router /releases [post]
func (s *Server) createRelease(c echo.Context) error {
	var rel models.Release
	if err := bindJSON(c, &rel); err != nil {
		return err
	}

	created, err := s.service.StoreRelease(c.Request().Context(), &rel)
	if err != nil {
		return err
	}
	return c.JSON(createdStatus(created), rel)
}

// updateRelease handles PUT /api/v1/releases/:release
func (s *Server) updateRelease(c echo.Context) error {
	ctx := c.Request().Context()

	var rel models.Release
	if err := bindJSON(c, &rel); err != nil {
		return err
	}

	existing, err := s.service.Release(ctx, c.Param("release"))
	if err != nil {
		return err
	}
	if rel.ID == "" {
		rel.ID = existing.ID
	} else if rel.ID != existing.ID {
		return BadRequestError("Release ID mismatch",
			"release_id "+rel.ID+" in the request body does not match release "+existing.ID)
	}

	if _, err := s.service.StoreRelease(ctx, &rel); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rel)
}

// deleteRelease handles DELETE /api/v1/releases/:release
func (s *Server) deleteRelease(c echo.Context) error {
	rel, err := s.service.RemoveRelease(c.Request().Context(), c.Param("release"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{
		Message: "Release " + rel.Name + " removed",
		ID:      rel.ID,
	})
}

// releaseRoleImages handles GET /api/v1/releases/:release/roles/:role
func (s *Server) releaseRoleImages(c echo.Context) error {
	images, err := s.service.ReleaseRoleImages(c.Request().Context(), c.Param("release"), c.Param("role"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ImagesResponse{
		Count:  len(images),
		Total:  len(images),
		Images: images,
	})
}
