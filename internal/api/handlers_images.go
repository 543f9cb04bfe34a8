package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/inventory/models"
)

// listImages handles GET /api/v1/images
// @Summary List images
// @Description Lists images matching the given filters. Revoked images are included unless filtered by state.
// @Tags images
// @Produce json
// @Param element_role query string false "Element role"
// @Param platform_chipset query string false "Platform chipset"
// @Param image_type query string false "Image type"
// @Param image_state query string false "Image state"
// @Param image_version query string false "Image version"
// @Param filter query string false "Image name substring"
// @Param limit query int false "Page size" default(100)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {object} ImagesResponse
// @Router /images [get]
func (s *Server) listImages(c echo.Context) error {
	limit, offset := parsePagination(c)

	images, err := s.service.FindImages(c.Request().Context(), imageQuery(c))
	if err != nil {
		return err
	}

	total := len(images)
	images = paginate(images, limit, offset)

	return c.JSON(http.StatusOK, ImagesResponse{
		Count:  len(images),
		Total:  total,
		Limit:  limit,
		Offset: offset,
		Images: images,
	})
}

// applicableImages handles GET /api/v1/images/_applicable
// @Summary List applicable images
// @Description Lists the non-revoked images an element with the given role and chipset can run, highest version first.
// @Tags images
// @Produce json
// @Param element_role query string false "Element role"
// @Param platform_chipset query string false "Platform chipset"
// @Param image_type query string false "Image type"
// @Param installed_version query string false "Only versions newer than this one"
// @Success 200 {object} ImagesResponse
// @Router /images/_applicable [get]
func (s *Server) applicableImages(c echo.Context) error {
	q, err := applicabilityQuery(c)
	if err != nil {
		return err
	}

	images, err := s.service.ApplicableImages(c.Request().Context(), q)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ImagesResponse{
		Count:  len(images),
		Total:  len(images),
		Images: images,
	})
}

// roleImages handles GET /api/v1/images/roles/:role
func (s *Server) roleImages(c echo.Context) error {
	images, err := s.service.RoleImages(c.Request().Context(), c.Param("role"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ImagesResponse{
		Count:  len(images),
		Total:  len(images),
		Images: images,
	})
}

// imageTypes handles GET /api/v1/images/_types
func (s *Server) imageTypes(c echo.Context) error {
	types, err := s.service.ImageTypes(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ImageTypesResponse{Count: len(types), ImageTypes: types})
}

// imageVersions handles GET /api/v1/images/_versions
func (s *Server) imageVersions(c echo.Context) error {
	versions, err := s.service.ImageVersions(c.Request().Context(), c.QueryParam("image_type"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, versions)
}

// getImage handles GET /api/v1/images/:id
// @Summary Get image
// @Tags images
// @Produce json
// @Param id path string true "Image ID"
// @Success 200 {object} models.Image
// @Failure 404 {object} APIError
// @Router /images/{id} [get]
func (s *Server) getImage(c echo.Context) error {
	img, err := s.service.GetImage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, img)
}

// createImage handles POST /api/v1/images
// @Summary Store image
// @Description Adds a new image or updates the image with the given image_id.
// @Tags images
// @Accept json
// @Produce json
// @Param image body models.Image true "Image"
// @Success 201 {object} models.Image
// @Failure 400 {object} APIError
// @Failure 409 {object} APIError
// @Router /images [post]
func (s *Server) createImage(c echo.Context) error {
	var img models.Image
	if err := bindJSON(c, &img); err != nil {
		return err
	}
	return s.storeImage(c, &img)
}

// updateImage handles PUT /api/v1/images/:id
func (s *Server) updateImage(c echo.Context) error {
	id := c.Param("id")

	var img models.Image
	if err := bindJSON(c, &img); err != nil {
		return err
	}

	if img.ID == "" {
		img.ID = id
	} else if img.ID != id {
		return BadRequestError("Image ID mismatch",
			"image_id "+img.ID+" in the request body does not match the path ID "+id)
	}
	return s.storeImage(c, &img)
}

func (s *Server) storeImage(c echo.Context, img *models.Image) error {
	created, err := s.service.StoreImage(c.Request().Context(), img)
	if err != nil {
		return err
	}

	stored, err := s.service.GetImage(c.Request().Context(), img.ID)
	if err != nil {
		return err
	}
	return c.JSON(createdStatus(created), stored)
}

// deleteImage handles DELETE /api/v1/images/:id
// @Summary Remove image
// @Description Removes an image that is neither part of a release nor installed on an element.
// @Tags images
// @Param id path string true "Image ID"
// @Success 200 {object} MessageResponse
// @Failure 404 {object} APIError
// @Failure 409 {object} APIError
// @Router /images/{id} [delete]
func (s *Server) deleteImage(c echo.Context) error {
	img, err := s.service.RemoveImage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, MessageResponse{
		Message: "Image " + img.Name + " removed",
		ID:      img.ID,
	})
}

// updateImageState handles PUT /api/v1/images/:id/image_state
// @Summary Update image state
// @Description Sets the lifecycle state of an image. Releasing an image supersedes older images of its lineage.
// @Tags images
// @Accept plain
// @Param id path string true "Image ID"
// @Param state body string true "NEW, CANDIDATE, RELEASE or REVOKED"
// @Success 200 {object} models.Image
// @Failure 400 {object} APIError
// @Router /images/{id}/image_state [put]
func (s *Server) updateImageState(c echo.Context) error {
	state, err := readStateToken(c)
	if err != nil {
		return err
	}

	img, err := s.service.UpdateImageState(c.Request().Context(), c.Param("id"), state)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, img)
}
