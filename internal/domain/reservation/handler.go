package reservation

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Booker is the subset of Engine the HTTP layer depends on.
type Booker interface {
	Reserve(ctx context.Context, req Request) (*Reservation, error)
	Remove(ctx context.Context, id string) (*Reservation, error)
	Get(ctx context.Context, id string) (*Reservation, error)
	Availability(ctx context.Context, doctorID string) (*Availability, error)
	ListByDoctor(ctx context.Context, doctorID string) ([]*Reservation, error)
	ListByPatient(ctx context.Context, patientID string) ([]*Reservation, error)
}

// WriteResponse is returned by successful mutations.
type WriteResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

type Handler struct {
	engine Booker
}

func NewHandler(engine Booker) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/reserve", h.Reserve)
	api.GET("/reserve/:id", h.GetReservation)
	api.DELETE("/reserve/:id", h.RemoveReservation)

	api.GET("/doctors/:id/reservations", h.ListDoctorReservations)
	api.GET("/doctors/:id/availability", h.DoctorAvailability)
	api.GET("/patients/:id/reservations", h.ListPatientReservations)
}

func (h *Handler) Reserve(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.engine.Reserve(c.Request().Context(), req)
	if err != nil {
		return err
	}
	c.Set("resource_id", res.ID)
	return c.JSON(http.StatusOK, WriteResponse{
		Message: fmt.Sprintf("Appointment successfully reserved for %s!", res.DateTime),
		ID:      res.ID,
	})
}

func (h *Handler) GetReservation(c echo.Context) error {
	res, err := h.engine.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RemoveReservation(c echo.Context) error {
	id := c.Param("id")
	res, err := h.engine.Remove(c.Request().Context(), id)
	if err != nil {
		return err
	}
	c.Set("resource_id", id)
	return c.JSON(http.StatusOK, WriteResponse{
		Message: fmt.Sprintf("Reservation for %s removed successfully!", res.DateTime),
		ID:      id,
	})
}

func (h *Handler) ListDoctorReservations(c echo.Context) error {
	items, err := h.engine.ListByDoctor(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DoctorAvailability(c echo.Context) error {
	av, err := h.engine.Availability(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, av)
}

func (h *Handler) ListPatientReservations(c echo.Context) error {
	items, err := h.engine.ListByPatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}
