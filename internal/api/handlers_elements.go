package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/inventory/models"
)

// registerElement handles PUT /api/v1/elements/:id
// @Summary Register element
// @Description Creates or updates the role, chipset and group of an element.
// @Tags elements
// @Accept json
// @Produce json
// @Param id path string true "Element ID"
// @Param element body models.Element true "Element"
// @Success 200 {object} models.Element
// @Router /elements/{id} [put]
func (s *Server) registerElement(c echo.Context) error {
	id := c.Param("id")

	var el models.Element
	if err := bindJSON(c, &el); err != nil {
		return err
	}
	if el.ID == "" {
		el.ID = id
	} else if el.ID != id {
		return BadRequestError("Element ID mismatch",
			"element_id "+el.ID+" in the request body does not match the path ID "+id)
	}
	if el.Name == "" {
		el.Name = id
	}

	if err := s.service.RegisterElement(c.Request().Context(), &el); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, el)
}

// getElementImages handles GET /api/v1/elements/:id/images
// @Summary List element images
// @Description Lists the images installed on an element with the upgrades available for each.
// @Tags elements
// @Produce json
// @Param id path string true "Element ID"
// @Success 200 {object} models.ElementImages
// @Failure 404 {object} APIError
// @Router /elements/{id}/images [get]
func (s *Server) getElementImages(c echo.Context) error {
	images, err := s.service.ElementImages(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, images)
}

// getElementImage handles GET /api/v1/elements/:id/images/:image
func (s *Server) getElementImage(c echo.Context) error {
	img, err := s.service.ElementImage(c.Request().Context(), c.Param("id"), c.Param("image"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, img)
}

// replaceElementImages handles PUT /api/v1/elements/:id/images
// @Summary Replace element images
// @Description Stores the images reported by an element. Installed images missing from the report are removed.
// @Tags elements
// @Accept json
// @Param id path string true "Element ID"
// @Param images body []models.ElementImageReference true "Reported images"
// @Success 200 {object} models.ElementImages
// @Router /elements/{id}/images [put]
func (s *Server) replaceElementImages(c echo.Context) error {
	return s.storeElementImages(c, true)
}

// mergeElementImages handles POST /api/v1/elements/:id/images
func (s *Server) mergeElementImages(c echo.Context) error {
	return s.storeElementImages(c, false)
}

func (s *Server) storeElementImages(c echo.Context, replace bool) error {
	id := c.Param("id")

	var refs []models.ElementImageReference
	if err := bindJSON(c, &refs); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if err := s.service.StoreElementImages(ctx, id, refs, replace); err != nil {
		return err
	}

	images, err := s.service.ElementImages(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, images)
}

// deleteElementImage handles DELETE /api/v1/elements/:id/images/:image
func (s *Server) deleteElementImage(c echo.Context) error {
	id, image := c.Param("id"), c.Param("image")
	if err := s.service.RemoveElementImage(c.Request().Context(), id, image); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{
		Message: "Image removed from element " + id,
		ID:      image,
	})
}

// getZtpImage handles GET /api/v1/elements/:id/ztp_image
func (s *Server) getZtpImage(c echo.Context) error {
	img, err := s.service.ZtpImage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, img)
}

// setZtpImage handles PUT /api/v1/elements/:id/ztp_image
// @Summary Set zero-touch provisioning image
// @Tags elements
// @Accept json
// @Param id path string true "Element ID"
// @Param image body ZtpImageRequest true "Image selection"
// @Success 200 {object} models.ElementImage
// @Failure 409 {object} APIError
// @Router /elements/{id}/ztp_image [put]
func (s *Server) setZtpImage(c echo.Context) error {
	var req ZtpImageRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.ImageID == "" {
		return ValidationError("Validation failed", map[string]string{"image_id": "image_id is required"})
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	if err := s.service.SetZtpImage(ctx, id, req.ImageID); err != nil {
		return err
	}

	img, err := s.service.ZtpImage(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, img)
}

// resetZtpImage handles DELETE /api/v1/elements/:id/ztp_image
func (s *Server) resetZtpImage(c echo.Context) error {
	id := c.Param("id")
	if err := s.service.ResetZtpImage(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{
		Message: "Zero-touch provisioning image reset",
		ID:      id,
	})
}
