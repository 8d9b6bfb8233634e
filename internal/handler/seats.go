package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-lock/internal/seatlock"
)

// SeatHandler serves the public seat map and availability of shows.
type SeatHandler struct {
	Seats *seatlock.Service
}

func NewSeatHandler(seats *seatlock.Service) *SeatHandler {
	return &SeatHandler{Seats: seats}
}

// GetSeats handles GET /v1/shows/:id/seats.  Held and booked seats are both
// reported with status 0; seats of lapsed holds are already available.
func (h *SeatHandler) GetSeats(c echo.Context) error {
	showID, ok := parseShowID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	seats, err := h.Seats.GetAvailableSeats(c.Request().Context(), showID)
	if err != nil {
		return errorResponse(c, err)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, seats)
}

// GetLayout handles GET /v1/shows/:id/layout: category grids with prices.
func (h *SeatHandler) GetLayout(c echo.Context) error {
	showID, ok := parseShowID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	layout, err := h.Seats.Layout(c.Request().Context(), showID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"showId":          layout.ShowID,
		"categories":      layout.Categories,
		"maxSeatsPerHold": h.Seats.MaxSeatsPerHold(),
	})
}
