// Package conf loads and owns the application settings.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/floraid/floraid-go/internal/errors"
)

// Provider identifiers used across configuration, quota accounting and
// circuit breaker registries.
const (
	ProviderPlantNet = "plantnet"
	ProviderPlantID  = "plantid"
)

// Settings holds the complete application configuration.
type Settings struct {
	Debug bool `mapstructure:"debug"`

	Main struct {
		Name     string `mapstructure:"name"`     // instance name, used in logs and MQTT client id
		LogLevel string `mapstructure:"loglevel"` // trace, debug, info, warn, error
	} `mapstructure:"main"`

	Providers ProvidersSettings `mapstructure:"providers"`
	Circuit   CircuitSettings   `mapstructure:"circuit"`
	Cache     CacheSettings     `mapstructure:"cache"`
	Knowledge KnowledgeSettings `mapstructure:"knowledge"`
	Progress  ProgressSettings  `mapstructure:"progress"`
	Metrics   MetricsSettings   `mapstructure:"metrics"`
}

// QuotaLimits configures per-window call limits for a provider.
// A zero limit means the window is not enforced for that provider.
type QuotaLimits struct {
	Hourly  int `mapstructure:"hourly"`
	Daily   int `mapstructure:"daily"`
	Monthly int `mapstructure:"monthly"`
}

// ProviderSettings configures a single external recognition provider.
type ProviderSettings struct {
	Enabled     bool          `mapstructure:"enabled"`
	APIKey      string        `mapstructure:"apikey"`
	BaseURL     string        `mapstructure:"baseurl"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Project     string        `mapstructure:"project"`     // plantnet project, e.g. "all"
	RateLimitMS int           `mapstructure:"ratelimitms"` // client-side pacing between requests
	Quota       QuotaLimits   `mapstructure:"quota"`
}

// ProvidersSettings configures the set of active providers. The active list is
// fixed at startup from this block; there is no runtime capability probing.
type ProvidersSettings struct {
	// Primary names the provider whose suggestions form the base rank order
	// when results are merged.
	Primary  string           `mapstructure:"primary"`
	PlantNet ProviderSettings `mapstructure:"plantnet"`
	PlantID  ProviderSettings `mapstructure:"plantid"`
}

// CircuitSettings configures the per-provider circuit breakers.
type CircuitSettings struct {
	FailureThreshold int           `mapstructure:"failurethreshold"`
	ResetTimeout     time.Duration `mapstructure:"resettimeout"`
	SuccessThreshold int           `mapstructure:"successthreshold"`
}

// CacheSettings configures the content-addressed result cache.
type CacheSettings struct {
	TTL         time.Duration `mapstructure:"ttl"`
	NegativeTTL time.Duration `mapstructure:"negativettl"` // local-store miss memoization
}

// KnowledgeSettings configures the local knowledge store.
type KnowledgeSettings struct {
	TrustThreshold     int     `mapstructure:"trustthreshold"`     // identifications before an entry is trusted
	AutoStoreThreshold float64 `mapstructure:"autostorethreshold"` // minimum confidence for auto-storage

	SQLite struct {
		Enabled bool   `mapstructure:"enabled"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"sqlite"`

	MySQL struct {
		Enabled  bool   `mapstructure:"enabled"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mysql"`
}

// ProgressSettings configures the progress event sinks.
type ProgressSettings struct {
	MQTT MQTTSettings `mapstructure:"mqtt"`
}

// MQTTSettings configures the MQTT progress sink.
type MQTTSettings struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"clientid"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topicprefix"`
	Retain      bool   `mapstructure:"retain"`
}

// MetricsSettings configures the Prometheus metrics endpoint.
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// GetSettings returns the current settings instance, or nil before Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// setSettings stores the loaded settings as the process-wide instance.
func setSettings(s *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	settingsInstance = s
}

// Load reads the configuration from the given file (or the default search
// paths when configPath is empty), applies defaults and environment overrides,
// validates the result and stores it as the global settings instance.
func Load(configPath string) (*Settings, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		for _, path := range configPaths() {
			viper.AddConfigPath(path)
		}
	}

	viper.SetEnvPrefix("FLORAID")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Newf("failed to read config: %w", err).
				Category(errors.CategoryConfiguration).
				Component("conf").
				Build()
		}
		// No config file is fine, defaults plus env cover the minimal setup.
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.Newf("failed to unmarshal config: %w", err).
			Category(errors.CategoryConfiguration).
			Component("conf").
			Build()
	}

	if err := Validate(settings); err != nil {
		return nil, err
	}

	setSettings(settings)
	return settings, nil
}

// configPaths returns the default config search paths.
func configPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "floraid"))
	}
	paths = append(paths, "/etc/floraid")
	return paths
}

// ActiveProviders lists the enabled provider identifiers, primary first.
func (s *Settings) ActiveProviders() []string {
	var ids []string
	if s.Providers.PlantNet.Enabled {
		ids = append(ids, ProviderPlantNet)
	}
	if s.Providers.PlantID.Enabled {
		ids = append(ids, ProviderPlantID)
	}
	// Keep the primary provider at the head of the list.
	for i, id := range ids {
		if id == s.Providers.Primary && i != 0 {
			ids[0], ids[i] = ids[i], ids[0]
		}
	}
	return ids
}

// ProviderByID returns the settings block for a provider identifier.
func (s *Settings) ProviderByID(id string) (*ProviderSettings, error) {
	switch id {
	case ProviderPlantNet:
		return &s.Providers.PlantNet, nil
	case ProviderPlantID:
		return &s.Providers.PlantID, nil
	default:
		return nil, errors.Newf("unknown provider id: %s", id).
			Category(errors.CategoryConfiguration).
			Component("conf").
			Build()
	}
}

// RedactedCopy returns a copy of the settings with secrets blanked, suitable
// for support dumps and debug logging.
func (s *Settings) RedactedCopy() Settings {
	cp := *s
	if cp.Providers.PlantNet.APIKey != "" {
		cp.Providers.PlantNet.APIKey = redacted(cp.Providers.PlantNet.APIKey)
	}
	if cp.Providers.PlantID.APIKey != "" {
		cp.Providers.PlantID.APIKey = redacted(cp.Providers.PlantID.APIKey)
	}
	if cp.Knowledge.MySQL.Password != "" {
		cp.Knowledge.MySQL.Password = "***"
	}
	if cp.Progress.MQTT.Password != "" {
		cp.Progress.MQTT.Password = "***"
	}
	return cp
}

func redacted(key string) string {
	if len(key) <= 4 {
		return "***"
	}
	return fmt.Sprintf("***%s", key[len(key)-4:])
}
