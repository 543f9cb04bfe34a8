package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// getDeploymentStatistics handles GET /api/v1/images/statistics
// @Summary Deployment statistics
// @Description Counts, per image and element group, the elements running or caching the image.
// @Tags statistics
// @Produce json
// @Success 200 {object} StatisticsResponse
// @Router /images/statistics [get]
func (s *Server) getDeploymentStatistics(c echo.Context) error {
	counts, err := s.service.DeploymentStatistics(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StatisticsResponse{Count: len(counts), Deployments: counts})
}

// getImageStatistics handles GET /api/v1/images/:id/statistics
func (s *Server) getImageStatistics(c echo.Context) error {
	stats, err := s.service.ImageStatistics(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// getGroupImageElements handles GET /api/v1/images/:id/statistics/:group
func (s *Server) getGroupImageElements(c echo.Context) error {
	elements, err := s.service.GroupImageElements(c.Request().Context(), c.Param("id"), c.Param("group"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, elements)
}
