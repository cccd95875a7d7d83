package app

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	"github.com/pdvbar/comandas/internal/domain"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed config_schemas.json
var configSchemasData []byte

// ConfigSchema describes one sys_config entry and its default.
type ConfigSchema struct {
	Key         string `json:"key"`
	Type        string `json:"type"`
	Default     string `json:"default"`
	Description string `json:"description"`
}

type ConfigSchemasJSON struct {
	Schemas []ConfigSchema `json:"schemas"`
}

func loadConfigSchemas() (ConfigSchemasJSON, error) {
	var data ConfigSchemasJSON
	err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(configSchemasData, &data)
	return data, err
}

// PosSettings is the typed view of the "pos" sys_config category.
type PosSettings struct {
	ServiceChargeRate       float64 `mapstructure:"ServiceChargeRate"`
	LowStockAlertRecipients string  `mapstructure:"LowStockAlertRecipients"`
	MovementRetentionDays   int     `mapstructure:"MovementRetentionDays"`
	DailySummaryEnabled     bool    `mapstructure:"DailySummaryEnabled"`
}

// Recipients splits the comma separated alert recipient list.
func (s PosSettings) Recipients() []string {
	var out []string
	for _, r := range strings.Split(s.LowStockAlertRecipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// ConfigManager caches sys_config rows keyed by "category.name".
type ConfigManager struct {
	db     *gorm.DB
	mu     sync.RWMutex
	values map[string]string
}

func NewConfigManager(db *gorm.DB) *ConfigManager {
	m := &ConfigManager{db: db, values: make(map[string]string)}
	if schemas, err := loadConfigSchemas(); err == nil {
		for _, s := range schemas.Schemas {
			m.values[s.Key] = s.Default
		}
	}
	m.Reload()
	return m
}

// Reload reads every sys_config row into the cache.
func (m *ConfigManager) Reload() {
	if m.db == nil {
		return
	}
	var rows []domain.SysConfig
	if err := m.db.Find(&rows).Error; err != nil {
		zap.L().Error("load sys_config failed", zap.Error(err))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.values[r.Type+"."+r.Name] = r.Value
	}
}

func (m *ConfigManager) get(category, name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[category+"."+name]
}

func (m *ConfigManager) GetString(category, name string) string {
	return m.get(category, name)
}

func (m *ConfigManager) GetInt64(category, name string) int64 {
	return cast.ToInt64(m.get(category, name))
}

func (m *ConfigManager) GetInt(category, name string) int {
	return cast.ToInt(m.get(category, name))
}

func (m *ConfigManager) GetFloat(category, name string) float64 {
	return cast.ToFloat64(m.get(category, name))
}

func (m *ConfigManager) GetBool(category, name string) bool {
	return cast.ToBool(m.get(category, name))
}

// Category returns the raw values of one category keyed by name.
func (m *ConfigManager) Category(category string) map[string]interface{} {
	prefix := category + "."
	out := make(map[string]interface{})
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, v := range m.values {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return out
}

// PosSettings decodes the "pos" category.
func (m *ConfigManager) PosSettings() (PosSettings, error) {
	var s PosSettings
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &s,
	})
	if err != nil {
		return s, err
	}
	if err := dec.Decode(m.Category("pos")); err != nil {
		return s, errors.Wrap(err, "decode pos settings")
	}
	return s, nil
}

// Save upserts "category.name" keyed values. Unknown keys are rejected.
func (m *ConfigManager) Save(settings map[string]interface{}) error {
	schemas, err := loadConfigSchemas()
	if err != nil {
		return errors.Wrap(err, "load config schemas")
	}
	known := make(map[string]ConfigSchema, len(schemas.Schemas))
	for _, s := range schemas.Schemas {
		known[s.Key] = s
	}

	values := make(map[string]string, len(settings))
	for key, raw := range settings {
		schema, ok := known[key]
		if !ok {
			return fmt.Errorf("unknown setting %s", key)
		}
		v, err := normalizeSetting(schema, raw)
		if err != nil {
			return errors.Wrapf(err, "setting %s", key)
		}
		values[key] = v
	}

	if m.db != nil {
		err = m.db.Transaction(func(tx *gorm.DB) error {
			for key, v := range values {
				parts := strings.SplitN(key, ".", 2)
				res := tx.Model(&domain.SysConfig{}).
					Where("type = ? and name = ?", parts[0], parts[1]).
					Updates(map[string]interface{}{"value": v, "updated_at": time.Now()})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					if err := tx.Create(&domain.SysConfig{
						Type:   parts[0],
						Name:   parts[1],
						Value:  v,
						Remark: known[key].Description,
					}).Error; err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return errors.Wrap(err, "save settings")
		}
	}

	m.mu.Lock()
	for k, v := range values {
		m.values[k] = v
	}
	m.mu.Unlock()
	return nil
}

func normalizeSetting(schema ConfigSchema, raw interface{}) (string, error) {
	switch schema.Type {
	case "int":
		v, err := cast.ToInt64E(raw)
		if err != nil {
			return "", err
		}
		return cast.ToString(v), nil
	case "float":
		v, err := cast.ToFloat64E(raw)
		if err != nil {
			return "", err
		}
		if v < 0 {
			return "", fmt.Errorf("must not be negative")
		}
		return cast.ToString(v), nil
	case "bool":
		v, err := cast.ToBoolE(raw)
		if err != nil {
			return "", err
		}
		return cast.ToString(v), nil
	default:
		return cast.ToStringE(raw)
	}
}
