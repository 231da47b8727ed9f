package doctor

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
	api.POST("/doctors", h.CreateDoctor)
	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id", h.GetDoctor)
	api.DELETE("/doctors/:id", h.DeleteDoctor)
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	c.Set("resource_id", d.ID)
	return c.JSON(http.StatusOK, WriteResponse{
		Message: fmt.Sprintf("Doctor with id: %s added successfully!", d.ID),
		ID:      d.ID,
	})
}

func (h *Handler) ListDoctors(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	d, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteDoctor(c echo.Context) error {
	id := c.Param("id")
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	c.Set("resource_id", id)
	return c.JSON(http.StatusOK, WriteResponse{
		Message: fmt.Sprintf("Doctor with id: %s deleted successfully!", id),
		ID:      id,
	})
}
