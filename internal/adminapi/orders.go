package adminapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pdvbar/comandas/internal/domain"
	"github.com/pdvbar/comandas/internal/pos"
	"github.com/pdvbar/comandas/internal/report"
	"github.com/pdvbar/comandas/internal/webserver"
)

type createOrderPayload struct {
	Table string `json:"table" validate:"required,max=64"`
}

type addItemPayload struct {
	ProductID  string `json:"productId" validate:"required,max=64"`
	Quantity   int64  `json:"quantity" validate:"required,gt=0"`
	IsCourtesy bool   `json:"isCourtesy"`
}

type closeOrderPayload struct {
	PaymentMethod string `json:"paymentMethod" validate:"required"`
}

// registerOrderRoutes registers the tab lifecycle endpoints
func registerOrderRoutes() {
	webserver.ApiGET("/orders", listOrders)
	webserver.ApiPOST("/orders", createOrder)
	webserver.ApiGET("/orders/:id", getOrder)
	webserver.ApiPOST("/orders/:id/items", addOrderItem)
	webserver.ApiPUT("/orders/:id/close", closeOrder)
	webserver.ApiGET("/orders/:id/receipt", orderReceipt)
}

func listOrders(c echo.Context) error {
	status := domain.TabStatus(strings.ToUpper(strings.TrimSpace(c.QueryParam("status"))))
	if status == "" {
		status = domain.TabOpen
	}
	tabs, err := GetAppContext(c).Engine().ListTabs(c.Request().Context(), status)
	if err != nil {
		return handlePosError(c, err)
	}
	return ok(c, tabs)
}

func createOrder(c echo.Context) error {
	var payload createOrderPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse order parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}
	staff, _ := webserver.GetStaff(c)

	tab, err := GetAppContext(c).Engine().CreateTab(c.Request().Context(), payload.Table, staff.StaffID())
	if err != nil {
		return handlePosError(c, err)
	}
	return created(c, tab)
}

func getOrder(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid order ID", nil)
	}
	tab, err := GetAppContext(c).Engine().GetTab(c.Request().Context(), id)
	if err != nil {
		return handlePosError(c, err)
	}
	return ok(c, tab)
}

func addOrderItem(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid order ID", nil)
	}
	var payload addItemPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse item parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	tab, err := GetAppContext(c).Engine().AddItem(c.Request().Context(), id, pos.ItemRequest{
		ProductID: strings.TrimSpace(payload.ProductID),
		Quantity:  payload.Quantity,
		Courtesy:  payload.IsCourtesy,
	})
	if err != nil {
		return handlePosError(c, err)
	}
	return ok(c, tab)
}

func closeOrder(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid order ID", nil)
	}
	var payload closeOrderPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse payment parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	tab, err := GetAppContext(c).Engine().CloseTab(c.Request().Context(), id, domain.PaymentMethod(payload.PaymentMethod))
	if err != nil {
		return handlePosError(c, err)
	}
	return ok(c, tab)
}

func orderReceipt(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid order ID", nil)
	}
	appCtx := GetAppContext(c)
	tab, err := appCtx.Engine().GetTab(c.Request().Context(), id)
	if err != nil {
		return handlePosError(c, err)
	}
	return c.String(http.StatusOK, report.Receipt(*tab, appCtx.Location()))
}
