package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/seat-settlement/internal/handler"    // handlers that implement each endpoint
	"github.com/iliyamo/seat-settlement/internal/middleware" // JWT, role, rate limit and cache middleware
	"github.com/iliyamo/seat-settlement/internal/model"      // staff role names
)

// RegisterRoutes registers the unauthenticated probes.  /healthz answers
// as long as the process serves; /readyz also pings the dependencies.
func RegisterRoutes(e *echo.Echo, deps map[string]handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(deps))
}

// RegisterAuth registers staff authentication.  Login, refresh and logout
// are public because they exchange tokens; /v1/me requires a valid access
// token of a staff role.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	// Logout parses the bearer itself so a client holding only a refresh
	// token can still end its session.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleAdmin, model.RoleStaff))
	auth.GET("/me", a.Me)
}

// ShopMiddleware is applied to every anonymous shopper route.
type ShopMiddleware struct {
	RateLimit echo.MiddlewareFunc
	SeatCache echo.MiddlewareFunc
}

// RegisterShop registers the anonymous shopper API.  Shoppers identify
// themselves with a session id; every route is rate limited and the seat
// map is cached per event.
func RegisterShop(e *echo.Echo, events *handler.EventHandler, locks *handler.SeatLockHandler, orders *handler.OrderHandler, mw ShopMiddleware) {
	g := e.Group("/v1")
	if mw.RateLimit != nil {
		g.Use(mw.RateLimit)
	}

	g.GET("/events", events.List)
	g.GET("/events/:id", events.Get)

	g.POST("/sessions", locks.NewSession)
	g.POST("/lock", locks.Lock)
	g.DELETE("/lock", locks.Unlock)
	g.GET("/lock", locks.List)
	g.PUT("/lock/extend", locks.Extend)
	// sendBeacon posts on page unload; it never gets a useful response.
	g.POST("/unlock", locks.Beacon)

	if mw.SeatCache != nil {
		g.GET("/events/:id/seats", locks.SeatMap, mw.SeatCache)
	} else {
		g.GET("/events/:id/seats", locks.SeatMap)
	}

	g.POST("/orders", orders.Create)
	g.POST("/orders/:id/submit-payment", orders.SubmitPayment)
	g.GET("/tickets/:orderNumber", orders.Ticket)
}

// RegisterAdmin registers staff settlement and lock administration under
// /v1/admin.  Every route requires a staff JWT.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin, model.RoleStaff),
	)
	g.POST("/orders/:id/confirm", h.Confirm)
	g.POST("/orders/:id/reject", h.Reject)
	g.POST("/orders/:id/resend-ticket", h.ResendTicket)
	g.POST("/orders/:id/send-reminder", h.SendReminder)
	g.POST("/orders/:id/send-email", h.SendEmail)
	g.GET("/orders/:id/audit", h.Audit)
	g.GET("/orders/:id/emails", h.Emails)

	// Force release overrides shopper holds, so it is limited to admins.
	g.GET("/seat-locks", h.ListLocks)
	g.DELETE("/seat-locks", h.ForceRelease, middleware.RequireRole(model.RoleAdmin))
}
