package adminapi

import "sync"

var initOnce sync.Once

// Init registers every admin API route with the web server registry. It must
// run before webserver.NewWebServer.
func Init() {
	initOnce.Do(func() {
		registerHealthRoutes()
		registerOrderRoutes()
		registerProductRoutes()
		registerDashboardRoutes()
		registerSettingsRoutes()
	})
}
