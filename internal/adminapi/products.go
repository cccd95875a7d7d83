package adminapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pdvbar/comandas/internal/domain"
	"github.com/pdvbar/comandas/internal/webserver"
)

// productView is a catalog entry with its current stock.
type productView struct {
	domain.Product
	Unit     string `json:"unit"`
	Stock    int64  `json:"stock"`
	LowStock bool   `json:"lowStock"`
}

type restockPayload struct {
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

// registerProductRoutes registers the read-only catalog and stock endpoints
func registerProductRoutes() {
	webserver.ApiGET("/products", listProducts)
	webserver.ApiGET("/products/:id", getProduct)
	webserver.ApiGET("/stock/low", listLowStock)
	webserver.ApiPOST("/stock/:id/restock", restockProduct, webserver.RequireRole(webserver.RoleManager))
}

func listProducts(c echo.Context) error {
	ctx := c.Request().Context()
	backend := GetAppContext(c).Backend()

	products, err := backend.Catalog().ListProducts(ctx)
	if err != nil {
		return handlePosError(c, err)
	}

	q := strings.ToLower(strings.TrimSpace(c.QueryParam("q")))
	category := strings.TrimSpace(c.QueryParam("category"))

	rows := make([]productView, 0, len(products))
	for _, p := range products {
		if q != "" && !strings.Contains(strings.ToLower(p.Name), q) {
			continue
		}
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		qty, err := backend.Stock().Quantity(ctx, p.ID)
		if err != nil {
			return handlePosError(c, err)
		}
		rows = append(rows, productView{
			Product:  p,
			Unit:     p.Unit(),
			Stock:    qty,
			LowStock: qty <= p.MinStockLevel,
		})
	}
	return ok(c, rows)
}

func getProduct(c echo.Context) error {
	ctx := c.Request().Context()
	backend := GetAppContext(c).Backend()
	p, err := backend.Catalog().GetProduct(ctx, c.Param("id"))
	if err != nil {
		return handlePosError(c, err)
	}
	qty, err := backend.Stock().Quantity(ctx, p.ID)
	if err != nil {
		return handlePosError(c, err)
	}
	return ok(c, productView{Product: *p, Unit: p.Unit(), Stock: qty, LowStock: qty <= p.MinStockLevel})
}

func listLowStock(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid limit", nil)
		}
		limit = n
	}
	items, err := GetAppContext(c).Reports().LowStockProducts(c.Request().Context(), limit)
	if err != nil {
		return handlePosError(c, err)
	}
	return ok(c, items)
}

func restockProduct(c echo.Context) error {
	var payload restockPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse restock parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	ctx := c.Request().Context()
	appCtx := GetAppContext(c)
	p, err := appCtx.Backend().Catalog().GetProduct(ctx, c.Param("id"))
	if err != nil {
		return handlePosError(c, err)
	}
	after, err := appCtx.Backend().Stock().Restock(ctx, p.ID, payload.Quantity)
	if err != nil {
		return handlePosError(c, err)
	}
	appCtx.Reports().Invalidate()
	return ok(c, map[string]interface{}{
		"productId": p.ID,
		"stock":     after,
		"unit":      p.Unit(),
	})
}
