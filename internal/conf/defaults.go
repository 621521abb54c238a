package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default timeouts reflect the observed latency profiles of the providers:
// Pl@ntNet answers fast, Plant.id is noticeably slower. Each bound includes a
// small buffer over the typical p95.
const (
	DefaultPlantNetTimeout = 8 * time.Second
	DefaultPlantIDTimeout  = 20 * time.Second

	DefaultCacheTTL         = 24 * time.Hour
	DefaultNegativeCacheTTL = 10 * time.Minute

	DefaultFailureThreshold = 3
	DefaultResetTimeout     = 60 * time.Second
	DefaultSuccessThreshold = 2

	DefaultTrustThreshold     = 5
	DefaultAutoStoreThreshold = 0.5
)

// setDefaults registers the default configuration values with viper.
func setDefaults() {
	viper.SetDefault("debug", false)
	viper.SetDefault("main.name", "floraid")
	viper.SetDefault("main.loglevel", "info")

	viper.SetDefault("providers.primary", ProviderPlantNet)

	viper.SetDefault("providers.plantnet.enabled", true)
	viper.SetDefault("providers.plantnet.baseurl", "https://my-api.plantnet.org")
	viper.SetDefault("providers.plantnet.project", "all")
	viper.SetDefault("providers.plantnet.timeout", DefaultPlantNetTimeout)
	viper.SetDefault("providers.plantnet.ratelimitms", 200)
	// Pl@ntNet contract: hourly and daily windows.
	viper.SetDefault("providers.plantnet.quota.hourly", 50)
	viper.SetDefault("providers.plantnet.quota.daily", 500)
	viper.SetDefault("providers.plantnet.quota.monthly", 0)

	viper.SetDefault("providers.plantid.enabled", true)
	viper.SetDefault("providers.plantid.baseurl", "https://api.plant.id")
	viper.SetDefault("providers.plantid.timeout", DefaultPlantIDTimeout)
	viper.SetDefault("providers.plantid.ratelimitms", 500)
	// Plant.id contract: daily and monthly windows.
	viper.SetDefault("providers.plantid.quota.hourly", 0)
	viper.SetDefault("providers.plantid.quota.daily", 100)
	viper.SetDefault("providers.plantid.quota.monthly", 3000)

	viper.SetDefault("circuit.failurethreshold", DefaultFailureThreshold)
	viper.SetDefault("circuit.resettimeout", DefaultResetTimeout)
	viper.SetDefault("circuit.successthreshold", DefaultSuccessThreshold)

	viper.SetDefault("cache.ttl", DefaultCacheTTL)
	viper.SetDefault("cache.negativettl", DefaultNegativeCacheTTL)

	viper.SetDefault("knowledge.trustthreshold", DefaultTrustThreshold)
	viper.SetDefault("knowledge.autostorethreshold", DefaultAutoStoreThreshold)
	viper.SetDefault("knowledge.sqlite.enabled", true)
	viper.SetDefault("knowledge.sqlite.path", "floraid.db")
	viper.SetDefault("knowledge.mysql.enabled", false)
	viper.SetDefault("knowledge.mysql.host", "localhost")
	viper.SetDefault("knowledge.mysql.port", "3306")
	viper.SetDefault("knowledge.mysql.database", "floraid")

	viper.SetDefault("progress.mqtt.enabled", false)
	viper.SetDefault("progress.mqtt.topicprefix", "floraid/identify")
	viper.SetDefault("progress.mqtt.retain", false)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "localhost:8090")
}
