package conf

import (
	"github.com/floraid/floraid-go/internal/errors"
)

// Validate checks a Settings instance for configuration mistakes that would
// otherwise surface as confusing runtime failures.
func Validate(s *Settings) error {
	if !s.Providers.PlantNet.Enabled && !s.Providers.PlantID.Enabled {
		return confErr("at least one provider must be enabled")
	}

	if s.Providers.PlantNet.Enabled && s.Providers.PlantNet.APIKey == "" {
		return confErr("plantnet is enabled but providers.plantnet.apikey is empty")
	}
	if s.Providers.PlantID.Enabled && s.Providers.PlantID.APIKey == "" {
		return confErr("plantid is enabled but providers.plantid.apikey is empty")
	}

	switch s.Providers.Primary {
	case ProviderPlantNet, ProviderPlantID:
	default:
		return confErr("providers.primary must be one of: plantnet, plantid")
	}
	if primary, err := s.ProviderByID(s.Providers.Primary); err != nil || !primary.Enabled {
		return confErr("providers.primary names a disabled provider")
	}

	if s.Circuit.FailureThreshold < 1 {
		return confErr("circuit.failurethreshold must be at least 1")
	}
	if s.Circuit.SuccessThreshold < 1 {
		return confErr("circuit.successthreshold must be at least 1")
	}
	if s.Circuit.ResetTimeout <= 0 {
		return confErr("circuit.resettimeout must be positive")
	}

	if s.Cache.TTL <= 0 {
		return confErr("cache.ttl must be positive")
	}

	if s.Knowledge.AutoStoreThreshold < 0 || s.Knowledge.AutoStoreThreshold > 1 {
		return confErr("knowledge.autostorethreshold must be within [0, 1]")
	}
	if s.Knowledge.TrustThreshold < 1 {
		return confErr("knowledge.trustthreshold must be at least 1")
	}
	if s.Knowledge.SQLite.Enabled && s.Knowledge.MySQL.Enabled {
		return confErr("only one of knowledge.sqlite and knowledge.mysql may be enabled")
	}
	if !s.Knowledge.SQLite.Enabled && !s.Knowledge.MySQL.Enabled {
		return confErr("a knowledge store backend must be enabled")
	}
	if s.Knowledge.SQLite.Enabled && s.Knowledge.SQLite.Path == "" {
		return confErr("knowledge.sqlite.path is empty")
	}

	if s.Progress.MQTT.Enabled && s.Progress.MQTT.Broker == "" {
		return confErr("progress.mqtt is enabled but no broker is configured")
	}

	if s.Metrics.Enabled && s.Metrics.Listen == "" {
		return confErr("metrics.listen is empty")
	}

	return nil
}

func confErr(msg string) error {
	return errors.Newf("%s", msg).
		Category(errors.CategoryConfiguration).
		Component("conf").
		Build()
}
