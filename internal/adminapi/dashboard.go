package adminapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/labstack/echo/v4"
	"github.com/pdvbar/comandas/internal/report"
	"github.com/pdvbar/comandas/internal/webserver"
	"go.uber.org/zap"
)

func registerDashboardRoutes() {
	manager := webserver.RequireRole(webserver.RoleManager)
	webserver.ApiGET("/dashboard/stats", dashboardStats, manager)
	webserver.ApiGET("/dashboard/sales.csv", dashboardSalesCSV, manager)
}

func dashboardStats(c echo.Context) error {
	appCtx := GetAppContext(c)
	maxAge := appCtx.Config().DashboardRefreshInterval()
	if c.QueryParam("fresh") == "true" {
		maxAge = 0
	}
	stats, err := appCtx.Reports().Cached(c.Request().Context(), maxAge)
	if err != nil {
		zap.L().Error("dashboard stats failed", zap.Error(err))
		return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to compute dashboard stats", nil)
	}
	return ok(c, stats)
}

func dashboardSalesCSV(c echo.Context) error {
	appCtx := GetAppContext(c)
	loc := appCtx.Location()

	day := time.Now().In(loc)
	if v := strings.TrimSpace(c.QueryParam("date")); v != "" {
		t, err := dateparse.ParseIn(v, loc)
		if err != nil {
			return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid date", v)
		}
		day = t
	}

	tabs, err := appCtx.Reports().ClosedTabsOn(c.Request().Context(), day)
	if err != nil {
		return handlePosError(c, err)
	}
	var buf bytes.Buffer
	if err := report.WriteSalesCSV(&buf, tabs, loc); err != nil {
		zap.L().Error("sales export failed", zap.Error(err))
		return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to export sales", nil)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=vendas-%s.csv", day.In(loc).Format("2006-01-02")))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
