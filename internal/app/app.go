package app

import (
	"os"
	"runtime/debug"
	"time"
	_ "time/tzdata"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/pdvbar/comandas/config"
	"github.com/pdvbar/comandas/internal/domain"
	"github.com/pdvbar/comandas/internal/notify"
	"github.com/pdvbar/comandas/internal/pos"
	"github.com/pdvbar/comandas/internal/report"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

type Application struct {
	appConfig     *config.AppConfig
	gormDB        *gorm.DB
	sched         *cron.Cron
	configManager *ConfigManager
	loc           *time.Location

	backend  pos.Backend
	engine   *pos.Engine
	reports  *report.Aggregator
	bus      EventBus.Bus
	notifier *notify.Notifier
}

// Ensure Application implements all interfaces
var (
	_ DBProvider            = (*Application)(nil)
	_ ConfigProvider        = (*Application)(nil)
	_ SettingsProvider      = (*Application)(nil)
	_ SchedulerProvider     = (*Application)(nil)
	_ ConfigManagerProvider = (*Application)(nil)
	_ PosProvider           = (*Application)(nil)
	_ AppContext            = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Init(cfg *config.AppConfig) {
	a.appConfig = cfg
	a.initLocation(cfg)

	// Initialize zap logger
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	// Configure output paths
	zapConfig.OutputPaths = []string{"stdout"}
	if cfg.Logger.FileEnable {
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, cfg.Logger.Filename)
	}

	// Build logger with file rotation if enabled
	var logger *zap.Logger
	var err error
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}

		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	} else {
		logger, err = zapConfig.Build(zap.AddCaller(), zap.AddCallerSkip(1))
		if err != nil {
			panic(err)
		}
	}

	zap.ReplaceGlobals(logger)

	// Initialize database connection
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	a.gormDB = getDatabase(cfg.Database, cfg.System.Workdir)
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	// Ensure database schema is migrated before loading configs
	if err := a.MigrateDB(false); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}
	a.checkSettings()

	// Initialize the configuration manager
	a.configManager = NewConfigManager(a.gormDB)

	backend := pos.NewGormBackend(a.gormDB, pos.WithServiceChargeRate(a.ServiceChargeRate()))
	a.setupPos(backend)
	if cfg.Pos.SeedDemoCatalog {
		a.checkDemoCatalog()
	}

	a.initJob()
}

// InitWithBackend wires the POS engine over an existing backend without a
// database, logger setup or background jobs. Used by tests and by the
// in-memory database type.
func (a *Application) InitWithBackend(cfg *config.AppConfig, backend pos.Backend) {
	a.appConfig = cfg
	a.initLocation(cfg)
	if a.configManager == nil {
		a.configManager = NewConfigManager(a.gormDB)
	}
	a.setupPos(backend)
}

func (a *Application) initLocation(cfg *config.AppConfig) {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
		a.loc = time.Local
		return
	}
	time.Local = loc
	a.loc = loc
}

func (a *Application) setupPos(backend pos.Backend) {
	a.backend = backend
	a.bus = EventBus.New()
	a.engine = pos.NewEngine(backend, pos.WithEventBus(a.bus))
	a.reports = report.NewAggregator(backend.Tabs(), backend.Stock(), a.loc)

	var opts []notify.Option
	smtp := a.appConfig.Smtp
	recipients := a.alertRecipients()
	if smtp.Enabled && smtp.Host != "" && len(recipients) > 0 {
		mailer := notify.NewSMTPMailer(smtp.Host, smtp.Port, smtp.User, smtp.Passwd)
		opts = append(opts, notify.WithMailer(mailer, smtp.From, recipients))
	}
	notifier, err := notify.NewNotifier(a.appConfig.Pos.NotifyWorkers, opts...)
	if err != nil {
		zap.L().Error("notifier init failed", zap.Error(err))
		return
	}
	if err := notifier.Subscribe(a.bus); err != nil {
		zap.L().Error("notifier subscribe failed", zap.Error(err))
	}
	a.notifier = notifier

	// the dashboard cache must not outlive a sale
	_ = a.bus.Subscribe(pos.TopicTabClosed, func(pos.TabClosedEvent) {
		a.reports.Invalidate()
	})
}

// ServiceChargeRate is the sys_config value when a database is attached,
// else the file config. Changes take effect on restart.
func (a *Application) ServiceChargeRate() decimal.Decimal {
	rate := a.appConfig.Pos.ServiceChargeRate
	if a.configManager != nil && a.gormDB != nil {
		if s, err := a.configManager.PosSettings(); err == nil {
			rate = s.ServiceChargeRate
		}
	}
	if rate < 0 {
		rate = 0
	}
	return decimal.NewFromFloat(rate)
}

func (a *Application) alertRecipients() []string {
	if a.configManager != nil {
		if s, err := a.configManager.PosSettings(); err == nil {
			if list := s.Recipients(); len(list) > 0 {
				return list
			}
		}
	}
	return a.appConfig.Smtp.Recipients
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEGUB_TRACE") != "" {
				debug.PrintStack()
			}
			err2, ok := err1.(error)
			if ok {
				err = err2
				zap.S().Error(err2.Error())
			}
		}
	}()
	if track {
		if err := a.gormDB.Debug().Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	} else {
		if err := a.gormDB.Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	}
	return nil
}

func (a *Application) DropAll() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
}

func (a *Application) InitDb() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
	err := a.gormDB.Migrator().AutoMigrate(domain.Tables...)
	if err != nil {
		zap.S().Error(err)
	}
}

// ConfigMgr returns the configuration manager
func (a *Application) ConfigMgr() *ConfigManager {
	return a.configManager
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

func (a *Application) Location() *time.Location {
	if a.loc == nil {
		return time.Local
	}
	return a.loc
}

func (a *Application) Engine() *pos.Engine {
	return a.engine
}

func (a *Application) Backend() pos.Backend {
	return a.backend
}

func (a *Application) Reports() *report.Aggregator {
	return a.reports
}

func (a *Application) EventBus() EventBus.Bus {
	return a.bus
}

// GetSettingsStringValue retrieves a string configuration value
func (a *Application) GetSettingsStringValue(category, key string) string {
	return a.configManager.GetString(category, key)
}

// GetSettingsInt64Value retrieves an int64 configuration value
func (a *Application) GetSettingsInt64Value(category, key string) int64 {
	return a.configManager.GetInt64(category, key)
}

// GetSettingsBoolValue retrieves a boolean configuration value
func (a *Application) GetSettingsBoolValue(category, key string) bool {
	return a.configManager.GetBool(category, key)
}

// SaveSettings stores "category.name" keyed values and reloads the cache.
func (a *Application) SaveSettings(settings map[string]interface{}) error {
	return a.configManager.Save(settings)
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.notifier != nil {
		a.notifier.Unsubscribe(a.bus)
		a.notifier.Release()
	}
	_ = zap.L().Sync()
}
