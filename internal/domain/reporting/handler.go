package reporting

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reportes")
	g.GET("/medidas", h.ListMeasures)
	g.GET("/medidas/:id", h.EvaluateMeasure)
	g.GET("/pacientes.xlsx", h.ExportRoster)
}

// ListMeasures evaluates every measure over the current roster.
func (h *Handler) ListMeasures(c echo.Context) error {
	reports, err := h.svc.EvaluateAll(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, reports)
}

func (h *Handler) EvaluateMeasure(c echo.Context) error {
	r, err := h.svc.Evaluate(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrMeasureNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ExportRoster(c echo.Context) error {
	var buf bytes.Buffer
	if _, err := h.svc.ExportRoster(c.Request().Context(), c.QueryParam("q"), &buf); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename=pacientes.xlsx")
	return c.Blob(http.StatusOK, XLSXContentType, buf.Bytes())
}
