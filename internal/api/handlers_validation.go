package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// validateImage validates an image document without storing it
// @Summary Validate image document
// @Description Checks an image document, including its JSON-LD structure when an @context is present.
// @Tags validation
// @Accept json
// @Produce json
// @Success 200 {object} validation.ValidationResult
// @Failure 400 {object} validation.ValidationResult
// @Router /validate/image [post]
func (s *Server) validateImage(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return BadRequestError("Failed to read request body", err.Error())
	}

	result, err := s.validator.ValidateImageDocument(body)
	if err != nil {
		return InternalError("Validation error", err.Error())
	}

	if result.Valid {
		return c.JSON(http.StatusOK, result)
	}

	return c.JSON(http.StatusBadRequest, result)
}
