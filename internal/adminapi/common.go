package adminapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pdvbar/comandas/internal/app"
	"github.com/pdvbar/comandas/internal/pos"
	"github.com/pdvbar/comandas/internal/webserver"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, data)
}

func created(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, data)
}

func fail(c echo.Context, status int, code, message string, details interface{}) error {
	return c.JSON(status, ErrorResponse{Code: code, Message: message, Details: details})
}

func GetAppContext(c echo.Context) app.AppContext {
	return webserver.GetAppContext(c)
}

func parseIDParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func handleValidationError(c echo.Context, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			details[lowerFirst(fe.Field())] = fe.Tag()
		}
		return fail(c, http.StatusBadRequest, pos.KindValidation.String(), "Request validation failed", details)
	}
	return fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
}

// handlePosError maps engine errors to the HTTP envelope.
func handlePosError(c echo.Context, err error) error {
	var pe *pos.Error
	if !errors.As(err, &pe) {
		zap.L().Error("request failed",
			zap.String("uri", c.Request().RequestURI),
			zap.Error(err))
		return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
	}

	status := http.StatusInternalServerError
	switch pe.Kind {
	case pos.KindNotFound:
		status = http.StatusNotFound
	case pos.KindInvalidState, pos.KindAlreadyClosed, pos.KindInsufficientStock:
		status = http.StatusConflict
	case pos.KindValidation:
		status = http.StatusBadRequest
	}
	return fail(c, status, pe.Kind.String(), pe.Error(), posErrorDetails(pe))
}

func posErrorDetails(pe *pos.Error) map[string]interface{} {
	d := make(map[string]interface{})
	if pe.TabID != 0 {
		d["tabId"] = strconv.FormatInt(pe.TabID, 10)
	}
	if pe.ProductID != "" {
		d["productId"] = pe.ProductID
	}
	switch pe.Kind {
	case pos.KindInsufficientStock:
		d["requested"] = pe.Requested
		d["available"] = pe.Available
	case pos.KindInvalidState:
		d["status"] = pe.Status
	case pos.KindAlreadyClosed:
		d["existingMethod"] = pe.Existing
		d["requestedMethod"] = pe.Method
	case pos.KindValidation:
		d["field"] = pe.Field
	}
	if len(d) == 0 {
		return nil
	}
	return d
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
