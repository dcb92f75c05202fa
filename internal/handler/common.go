package handler // handler defines http handlers

import (
    "errors"   // errors.As unwraps service errors
    "net/http" // status codes
    "strings"  // trimming of request strings

    "github.com/go-playground/validator/v10" // struct tag validation for request bodies
    "github.com/labstack/echo/v4"            // echo defines request context types
    "github.com/rs/zerolog/log"              // structured logging of unexpected failures

    "github.com/iliyamo/seat-settlement/internal/middleware" // identity helpers
    "github.com/iliyamo/seat-settlement/internal/service"    // business errors and actors
)

// Validator adapts go-playground/validator to echo.Validator so handlers
// can call c.Validate after c.Bind.
type Validator struct {
    v *validator.Validate
}

// NewValidator returns a Validator with the default rule set.
func NewValidator() *Validator {
    return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks i against its `validate` tags.
func (cv *Validator) Validate(i interface{}) error {
    return cv.v.Struct(i)
}

// statusOf maps a business error kind to its HTTP status.
var statusOf = map[service.Kind]int{
    service.KindUnauthorized: http.StatusUnauthorized,
    service.KindForbidden:    http.StatusForbidden,
    service.KindNotFound:     http.StatusNotFound,
    service.KindConflict:     http.StatusConflict,
    service.KindValidation:   http.StatusBadRequest,
}

// respondError writes err as {"error","code","seatIds"}.  Unknown errors
// become a generic 500; their detail goes to the log only.
func respondError(c echo.Context, err error) error {
    var se *service.Error
    if errors.As(err, &se) {
        status, ok := statusOf[se.Kind]
        if !ok {
            status = http.StatusInternalServerError
        }
        body := echo.Map{"error": se.Message, "code": codeOf(se)}
        if len(se.SeatIDs) > 0 {
            body["seatIds"] = se.SeatIDs
        }
        if se.Kind == service.KindConflict {
            log.Debug().Str("code", se.Code).Strs("seat_ids", se.SeatIDs).Str("path", c.Path()).Msg(se.Message)
        }
        return c.JSON(status, body)
    }
    var ve validator.ValidationErrors
    if errors.As(err, &ve) {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": validationMessage(ve), "code": string(service.KindValidation)})
    }
    log.Error().Err(err).Str("method", c.Request().Method).Str("path", c.Path()).Msg("request failed")
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error", "code": "INTERNAL"})
}

func codeOf(e *service.Error) string {
    if e.Code != "" {
        return e.Code
    }
    return string(e.Kind)
}

// validationMessage names the first offending field.
func validationMessage(ve validator.ValidationErrors) string {
    if len(ve) == 0 {
        return "invalid body"
    }
    f := ve[0]
    return strings.ToLower(f.Field()[:1]) + f.Field()[1:] + " failed " + f.Tag() + " validation"
}

// bind decodes and validates the request body into req.
func bind(c echo.Context, req interface{}) error {
    if err := c.Bind(req); err != nil {
        return &service.Error{Kind: service.KindValidation, Message: "invalid body"}
    }
    return c.Validate(req)
}

// actor returns the authenticated staff member.
func actor(c echo.Context) service.Actor {
    id, _ := middleware.UserID(c)
    return service.Actor{UserID: id, Role: middleware.Role(c)}
}

// requestInfo collects the client metadata written to audit entries.
func requestInfo(c echo.Context) service.RequestInfo {
    return service.RequestInfo{IP: c.RealIP(), UserAgent: c.Request().UserAgent()}
}
