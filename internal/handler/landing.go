package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const landingPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Rewrite Proxy</title>
</head>
<body>
<form method="get" action="/">
<input type="url" name="url" placeholder="https://example.com" required autofocus>
<button type="submit">Go</button>
</form>
</body>
</html>
`

// Landing serves the entry form.
func Landing(c echo.Context) error {
	return c.HTML(http.StatusOK, landingPage)
}

// Root dispatches "/" to the query-parameter proxy when a url parameter is
// present and to the landing page otherwise.
func (h *ProxyHandler) Root(c echo.Context) error {
	if c.QueryParams().Has("url") {
		return h.Query(c)
	}
	return Landing(c)
}

// Static is a placeholder for bundled assets; nothing is served.
func Static(c echo.Context) error {
	return c.String(http.StatusNotFound, "Not Found")
}
