package middleware

// identity.go holds the context keys set by JWTAuth and the helpers that
// read them back.  Shoppers are anonymous: they are identified by the
// session id they send, never by a token.

import (
    "strings"

    "github.com/labstack/echo/v4"
)

const (
    ctxUserID = "user_id"
    ctxRole   = "role"

    // SessionHeader carries the shopper session id on requests whose
    // body is not available to middleware.
    SessionHeader = "X-Session-ID"
)

// UserID returns the authenticated staff id, or false for anonymous
// requests.
func UserID(c echo.Context) (uint64, bool) {
    id, ok := c.Get(ctxUserID).(uint64)
    return id, ok && id != 0
}

// Role returns the authenticated role or "".
func Role(c echo.Context) string {
    r, _ := c.Get(ctxRole).(string)
    return r
}

// SessionID returns the shopper session id from the header or the
// sessionId query parameter.  Body-carried ids are read by handlers.
func SessionID(c echo.Context) string {
    if s := strings.TrimSpace(c.Request().Header.Get(SessionHeader)); s != "" {
        return s
    }
    return strings.TrimSpace(c.QueryParam("sessionId"))
}
