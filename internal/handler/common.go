package handler

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-lock/internal/middleware"
	"github.com/iliyamo/cinema-seat-lock/internal/repository"
)

// RequestValidator adapts validator/v10 to echo.Validator.
type RequestValidator struct {
	v *validator.Validate
}

var seatIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,16}$`)

// seatID accepts layout seat identifiers such as "A1" or "P12".
var seatID validator.Func = func(fl validator.FieldLevel) bool {
	return seatIDPattern.MatchString(fl.Field().String())
}

// NewValidator returns the validator installed on the echo instance.
func NewValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("seatid", seatID)
	return &RequestValidator{v: v}
}

func (rv *RequestValidator) Validate(i interface{}) error {
	return rv.v.Struct(i)
}

// bind decodes and validates the request body into dst.  The returned
// error has already been written as a 400 response.
func bind(c echo.Context, dst interface{}) (bool, error) {
	if err := c.Bind(dst); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return false, c.JSON(http.StatusBadRequest, echo.Map{
				"error": "invalid " + fe.Field() + " (" + fe.Tag() + ")",
			})
		}
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return true, nil
}

func parseShowID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

// currentUser returns the JWT subject or writes 401.
func currentUser(c echo.Context) (string, bool) {
	uid := middleware.UserID(c)
	return uid, uid != ""
}

// errorResponse maps service errors to HTTP responses.  Unexpected errors
// are logged and reported as a generic 500.
func errorResponse(c echo.Context, err error) error {
	var conflict *repository.SeatConflictError
	var unknown *repository.UnknownSeatsError
	switch {
	case errors.As(err, &conflict):
		return c.JSON(http.StatusConflict, echo.Map{
			"success":     false,
			"error":       "seats unavailable",
			"message":     "some seats are no longer available",
			"unavailable": conflict.SeatIDs,
		})
	case errors.As(err, &unknown):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"success": false,
			"error":   "unknown seats",
			"unknown": unknown.SeatIDs,
		})
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrPaymentMismatch):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrHoldExpired):
		return c.JSON(http.StatusGone, echo.Map{"success": false, "error": "session expired"})
	case errors.Is(err, repository.ErrShowNotFound),
		errors.Is(err, repository.ErrHoldNotFound),
		errors.Is(err, repository.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrInvalidRequest),
		errors.Is(err, repository.ErrTooManySeats),
		errors.Is(err, repository.ErrCategoryNotFound):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrPaymentDeclined):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"success": false, "error": err.Error()})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// majorUnits converts minor currency units for the legacy totalPrice field.
func majorUnits(cents int64) float64 { return float64(cents) / 100 }
