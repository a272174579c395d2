package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a 500 and logs it with the request id
// and stack.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = panicError(logger, c, r)
				}
			}()
			return next(c)
		}
	}
}

func panicError(logger zerolog.Logger, c echo.Context, r interface{}) error {
	rid, _ := c.Get("request_id").(string)
	logger.Error().
		Str("request_id", rid).
		Str("method", c.Request().Method).
		Str("path", c.Request().URL.Path).
		Str("panic", fmt.Sprint(r)).
		Bytes("stack", debug.Stack()).
		Msg("panic recovered")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
