package patient

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// WriteResponse is returned by successful mutations.
type WriteResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.DELETE("/patients/:id", h.DeletePatient)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	c.Set("resource_id", p.ID)
	return c.JSON(http.StatusOK, WriteResponse{
		Message: fmt.Sprintf("Patient with id: %s added successfully!", p.ID),
		ID:      p.ID,
	})
}

func (h *Handler) ListPatients(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id := c.Param("id")
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	c.Set("resource_id", id)
	return c.JSON(http.StatusOK, WriteResponse{
		Message: fmt.Sprintf("Patient with id: %s deleted successfully!", id),
		ID:      id,
	})
}
