package adminapi

import (
	"os"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pdvbar/comandas/internal/app"
	"github.com/pdvbar/comandas/internal/webserver"
	"github.com/shirou/gopsutil/process"
)

var startedAt = time.Now()

type healthResponse struct {
	Status     string            `json:"status"`
	Time       time.Time         `json:"time"`
	Uptime     string            `json:"uptime"`
	Goroutines int               `json:"goroutines"`
	RSSMB      uint64            `json:"rssMb"`
	Threads    int32             `json:"threads"`
	Monitor    *app.ProcessStats `json:"monitor,omitempty"`
}

func registerHealthRoutes() {
	webserver.PublicGET("/health", health)
}

func health(c echo.Context) error {
	resp := healthResponse{
		Status:     "ok",
		Time:       time.Now(),
		Uptime:     time.Since(startedAt).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Monitor:    app.LastProcessStats(),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil { //nolint:gosec // G115: PID is always within int32 range
		if mem, err := p.MemoryInfo(); err == nil {
			resp.RSSMB = mem.RSS / 1024 / 1024
		}
		if n, err := p.NumThreads(); err == nil {
			resp.Threads = n
		}
	}
	return ok(c, resp)
}
