package middleware

import "github.com/labstack/echo/v4"

// Context keys set by JWTAuth.
const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// UserID returns the authenticated subject stored by JWTAuth, or an empty
// string for anonymous requests.
func UserID(c echo.Context) string {
	s, _ := c.Get(ctxUserID).(string)
	return s
}

// Role returns the role claim stored by JWTAuth.
func Role(c echo.Context) string {
	s, _ := c.Get(ctxRole).(string)
	return s
}
