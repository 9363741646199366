package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// corsHeaders are set on every response, including errors and preflights.
var corsHeaders = [][2]string{
	{echo.HeaderAccessControlAllowOrigin, "*"},
	{echo.HeaderAccessControlAllowMethods, "GET, POST, PUT, DELETE, OPTIONS"},
	{echo.HeaderAccessControlAllowHeaders, "Content-Type, Authorization, X-Requested-With, X-Proxy-Target"},
	{echo.HeaderAccessControlMaxAge, "86400"},
}

// CORS returns an Echo middleware that adds permissive CORS headers to every
// response and answers OPTIONS preflights with 204. Register it with e.Pre so
// it also covers requests that match no route.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range corsHeaders {
				h.Set(kv[0], kv[1])
			}
			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}
