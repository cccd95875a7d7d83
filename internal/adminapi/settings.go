package adminapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pdvbar/comandas/internal/webserver"
)

const settingsCategory = "pos"

func registerSettingsRoutes() {
	manager := webserver.RequireRole(webserver.RoleManager)
	webserver.ApiGET("/settings", getSettings, manager)
	webserver.ApiPUT("/settings", updateSettings, manager)
}

func getSettings(c echo.Context) error {
	return ok(c, GetAppContext(c).ConfigMgr().Category(settingsCategory))
}

// updateSettings accepts {"ServiceChargeRate": 0.12, ...}. Keys may also be
// given fully qualified ("pos.ServiceChargeRate").
func updateSettings(c echo.Context) error {
	var payload map[string]interface{}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse settings", nil)
	}
	if len(payload) == 0 {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "No settings given", nil)
	}
	values := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if !strings.Contains(k, ".") {
			k = settingsCategory + "." + k
		}
		values[k] = v
	}

	appCtx := GetAppContext(c)
	if err := appCtx.SaveSettings(values); err != nil {
		return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	}
	return ok(c, appCtx.ConfigMgr().Category(settingsCategory))
}
