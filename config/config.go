package config

import (
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

type WebConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Secret string `yaml:"secret"`
}

type DBConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
	Debug    bool   `yaml:"debug"`
}

type LogConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// PosConfig holds the defaults of the point-of-sale engine. Values stored in
// sys_config take precedence at runtime.
type PosConfig struct {
	ServiceChargeRate     float64 `yaml:"service_charge_rate"`
	DashboardRefresh      string  `yaml:"dashboard_refresh"`
	MovementRetentionDays int     `yaml:"movement_retention_days"`
	SeedDemoCatalog       bool    `yaml:"seed_demo_catalog"`
	NotifyWorkers         int     `yaml:"notify_workers"`
}

type SmtpConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	User       string   `yaml:"user"`
	Passwd     string   `yaml:"passwd"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

type AppConfig struct {
	System   SysConfig  `yaml:"system"`
	Web      WebConfig  `yaml:"web"`
	Database DBConfig   `yaml:"database"`
	Logger   LogConfig  `yaml:"logger"`
	Pos      PosConfig  `yaml:"pos"`
	Smtp     SmtpConfig `yaml:"smtp"`
}

// GetLogDir returns the log directory under the working directory.
func (c *AppConfig) GetLogDir() string {
	return path.Join(c.System.Workdir, "logs")
}

// GetDataDir returns the data directory under the working directory.
func (c *AppConfig) GetDataDir() string {
	return path.Join(c.System.Workdir, "data")
}

// DashboardRefreshInterval parses Pos.DashboardRefresh, falling back to 30s.
func (c *AppConfig) DashboardRefreshInterval() time.Duration {
	d, err := time.ParseDuration(c.Pos.DashboardRefresh)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "comandas",
		Location: "America/Sao_Paulo",
		Workdir:  "/var/comandas",
		Debug:    true,
	},
	Web: WebConfig{
		Host:   "0.0.0.0",
		Port:   1816,
		Secret: "9b6de5cc-comandas-change-me",
	},
	Database: DBConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "comandas",
		User:     "postgres",
		Passwd:   "myroot",
		MaxConn:  100,
		IdleConn: 10,
		Debug:    false,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/comandas/comandas.log",
	},
	Pos: PosConfig{
		ServiceChargeRate:     0.10,
		DashboardRefresh:      "30s",
		MovementRetentionDays: 365,
		SeedDemoCatalog:       false,
		NotifyWorkers:         4,
	},
	Smtp: SmtpConfig{
		Port: 587,
	},
}

// LoadConfig reads cfile when it exists, starting from the defaults, then
// applies COMANDA_* environment overrides.
func LoadConfig(cfile string) *AppConfig {
	cfg := *DefaultAppConfig
	cfg.Smtp.Recipients = nil
	if cfile == "" {
		cfile = "comandas.yml"
	}
	if data, err := os.ReadFile(cfile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(err)
		}
	}
	applyEnv(&cfg)
	return &cfg
}

func applyEnv(cfg *AppConfig) {
	setEnvString("COMANDA_SYSTEM_WORKDIR", &cfg.System.Workdir)
	setEnvString("COMANDA_SYSTEM_LOCATION", &cfg.System.Location)
	setEnvBool("COMANDA_SYSTEM_DEBUG", &cfg.System.Debug)

	setEnvString("COMANDA_WEB_HOST", &cfg.Web.Host)
	setEnvInt("COMANDA_WEB_PORT", &cfg.Web.Port)
	setEnvString("COMANDA_WEB_SECRET", &cfg.Web.Secret)

	setEnvString("COMANDA_DB_TYPE", &cfg.Database.Type)
	setEnvString("COMANDA_DB_HOST", &cfg.Database.Host)
	setEnvInt("COMANDA_DB_PORT", &cfg.Database.Port)
	setEnvString("COMANDA_DB_NAME", &cfg.Database.Name)
	setEnvString("COMANDA_DB_USER", &cfg.Database.User)
	setEnvString("COMANDA_DB_PWD", &cfg.Database.Passwd)
	setEnvInt("COMANDA_DB_MAX_CONN", &cfg.Database.MaxConn)
	setEnvInt("COMANDA_DB_IDLE_CONN", &cfg.Database.IdleConn)
	setEnvBool("COMANDA_DB_DEBUG", &cfg.Database.Debug)

	setEnvString("COMANDA_LOGGER_MODE", &cfg.Logger.Mode)
	setEnvBool("COMANDA_LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)
	setEnvString("COMANDA_LOGGER_FILENAME", &cfg.Logger.Filename)

	if v := os.Getenv("COMANDA_POS_SERVICE_CHARGE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pos.ServiceChargeRate = f
		}
	}
	setEnvString("COMANDA_POS_DASHBOARD_REFRESH", &cfg.Pos.DashboardRefresh)
	setEnvInt("COMANDA_POS_MOVEMENT_RETENTION_DAYS", &cfg.Pos.MovementRetentionDays)
	setEnvBool("COMANDA_POS_SEED_DEMO_CATALOG", &cfg.Pos.SeedDemoCatalog)

	setEnvBool("COMANDA_SMTP_ENABLED", &cfg.Smtp.Enabled)
	setEnvString("COMANDA_SMTP_HOST", &cfg.Smtp.Host)
	setEnvInt("COMANDA_SMTP_PORT", &cfg.Smtp.Port)
	setEnvString("COMANDA_SMTP_USER", &cfg.Smtp.User)
	setEnvString("COMANDA_SMTP_PWD", &cfg.Smtp.Passwd)
	setEnvString("COMANDA_SMTP_FROM", &cfg.Smtp.From)
	if v := os.Getenv("COMANDA_SMTP_RECIPIENTS"); v != "" {
		cfg.Smtp.Recipients = splitList(v)
	}
}

func setEnvString(name string, val *string) {
	if v := os.Getenv(name); v != "" {
		*val = v
	}
}

func setEnvInt(name string, val *int) {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*val = i
		}
	}
}

func setEnvBool(name string, val *bool) {
	if v := os.Getenv(name); v != "" {
		*val = v == "true" || v == "1"
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
