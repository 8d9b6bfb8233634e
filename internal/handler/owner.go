package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-lock/internal/booking"
	"github.com/iliyamo/cinema-seat-lock/internal/model"
	"github.com/iliyamo/cinema-seat-lock/internal/seatlock"
)

// OwnerHandler serves the owner side: registering the seat map of a show
// and listing its bookings.
type OwnerHandler struct {
	Seats    *seatlock.Service
	Bookings *booking.Coordinator
	// PurgeCache drops a cached GET response; may be nil.
	PurgeCache func(ctx context.Context, path string)
}

func NewOwnerHandler(seats *seatlock.Service, coord *booking.Coordinator, purge func(ctx context.Context, path string)) *OwnerHandler {
	return &OwnerHandler{Seats: seats, Bookings: coord, PurgeCache: purge}
}

// PutInventory handles PUT /v1/owner/shows/:id/inventory.  The body is the
// layout produced by the screen builder.  It is refused with 409 while any
// seat of the show is held or booked.
func (h *OwnerHandler) PutInventory(c echo.Context) error {
	showID, ok := parseShowID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	var layout model.Layout
	if err := c.Bind(&layout); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	layout.ShowID = showID
	ctx := c.Request().Context()
	if err := h.Seats.RegisterLayout(ctx, layout); err != nil {
		return errorResponse(c, err)
	}
	if h.PurgeCache != nil {
		h.PurgeCache(ctx, fmt.Sprintf("/v1/shows/%d/layout", showID))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":    "inventory registered",
		"showId":     showID,
		"categories": len(layout.Categories),
		"seats":      len(layout.Seats()),
	})
}

// ListBookings handles GET /v1/owner/shows/:id/bookings.
func (h *OwnerHandler) ListBookings(c echo.Context) error {
	showID, ok := parseShowID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	list, err := h.Bookings.ListBookingsForShow(c.Request().Context(), showID)
	if err != nil {
		return errorResponse(c, err)
	}
	out := make([]bookingResp, 0, len(list))
	for i := range list {
		out = append(out, toBookingResp(&list[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"showId": showID, "bookings": out, "count": len(out)})
}
