package app

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ProcessStats is the last resource sample taken by the monitor job.
type ProcessStats struct {
	SystemCPU   float64   `json:"systemCpu"`
	SystemMemMB uint64    `json:"systemMemMb"`
	ProcessCPU  float64   `json:"processCpu"`
	ProcessRSS  uint64    `json:"processRssMb"`
	SampledAt   time.Time `json:"sampledAt"`
}

var lastProcessStats atomic.Pointer[ProcessStats]

// LastProcessStats returns the latest sample, or nil before the first run.
func LastProcessStats() *ProcessStats {
	return lastProcessStats.Load()
}

// pruner is implemented by ledgers that keep movement rows in a database.
type pruner interface {
	PruneMovements(ctx context.Context, before time.Time) (int64, error)
}

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc("@every "+a.appConfig.DashboardRefreshInterval().String(), a.SchedDashboardRefreshTask)
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@every 30s", func() {
		go a.SchedProcessMonitorTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@daily", func() {
		a.SchedClearExpireData()
		a.SchedDailySummaryTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// SchedDashboardRefreshTask keeps the dashboard cache warm.
func (a *Application) SchedDashboardRefreshTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if _, err := a.reports.Refresh(ctx); err != nil {
		zap.L().Warn("dashboard refresh failed", zap.Error(err))
	}
}

// SchedProcessMonitorTask app process monitor
func (a *Application) SchedProcessMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	s := &ProcessStats{SampledAt: time.Now()}
	if cpuuse, err := cpu.Percent(0, false); err == nil && len(cpuuse) > 0 {
		s.SystemCPU = cpuuse[0]
	}
	if meminfo, err := mem.VirtualMemory(); err == nil {
		s.SystemMemMB = meminfo.Used / 1024 / 1024
	}

	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // G115: PID is always within int32 range
	if err == nil {
		if cpuuse, err := p.CPUPercent(); err == nil {
			s.ProcessCPU = cpuuse
		}
		if meminfo, err := p.MemoryInfo(); err == nil {
			s.ProcessRSS = meminfo.RSS / 1024 / 1024
		}
	}
	lastProcessStats.Store(s)
}

// SchedClearExpireData drops stock movements past the retention window.
func (a *Application) SchedClearExpireData() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	p, ok := a.backend.Stock().(pruner)
	if !ok {
		return
	}
	idays := a.ConfigMgr().GetInt("pos", "MovementRetentionDays")
	if idays <= 0 {
		idays = a.appConfig.Pos.MovementRetentionDays
	}
	if idays <= 0 {
		idays = 365
	}
	n, err := p.PruneMovements(context.Background(), time.Now().Add(-time.Hour*24*time.Duration(idays)))
	if err != nil {
		zap.L().Error("prune stock movements failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("pruned stock movements", zap.Int64("rows", n), zap.Int("retention_days", idays))
	}
}

// SchedDailySummaryTask logs the totals of the previous day.
func (a *Application) SchedDailySummaryTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	if !a.ConfigMgr().GetBool("pos", "DailySummaryEnabled") {
		return
	}
	yesterday := time.Now().In(a.Location()).AddDate(0, 0, -1)
	tabs, err := a.reports.ClosedTabsOn(context.Background(), yesterday)
	if err != nil {
		zap.L().Error("daily summary failed", zap.Error(err))
		return
	}
	total := decimal.Zero
	for _, t := range tabs {
		total = total.Add(t.Total)
	}
	zap.L().Info("daily sales summary",
		zap.String("date", yesterday.Format("2006-01-02")),
		zap.Int("tabs", len(tabs)),
		zap.String("total", total.StringFixed(2)))
}
