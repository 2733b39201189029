package sfm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfig returns the built-in configuration: by-id matching, the
// standard camera-identity metadata keys, both transfer kinds enabled.
func DefaultConfig() *Config {
	return &Config{
		Method:               MatchFromViewID.String(),
		MetadataMatchingList: append([]string(nil), DefaultMetadataKeys...),
		Overview: OverviewConfig{
			GridSpacing: 1.0,
		},
		MQTT: MQTTConfig{
			ClientID:      "sfmtransfer",
			PublishPrefix: "sfmtransfer",
			QoS:           1,
		},
	}
}

// LoadConfig loads a configuration preset from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Fields absent from the file keep their built-in defaults.
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Validate fields with closed domains
	if _, err := ParseMatchingMethod(config.Method); err != nil {
		return nil, err
	}
	if _, err := CompileFilePattern(config.FileMatchingPattern); err != nil {
		return nil, err
	}
	if config.MQTT.QoS > 2 {
		return nil, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", config.MQTT.QoS)
	}
	if config.Overview.GridSpacing < 0 {
		return nil, fmt.Errorf("overview.gridSpacing must not be negative, got %g", config.Overview.GridSpacing)
	}

	return config, nil
}

// ApplyEnvOverrides overlays MQTT connection settings from the environment.
// Unset variables leave the config values as they are.
func ApplyEnvOverrides(config *Config) {
	config.MQTT.Broker = getEnv("SFMTRANSFER_MQTT_BROKER", config.MQTT.Broker)
	config.MQTT.Username = getEnv("SFMTRANSFER_MQTT_USERNAME", config.MQTT.Username)
	config.MQTT.Password = getEnv("SFMTRANSFER_MQTT_PASSWORD", config.MQTT.Password)
	config.MQTT.PublishPrefix = getEnv("SFMTRANSFER_MQTT_PREFIX", config.MQTT.PublishPrefix)
}

// getEnv returns the environment variable value, or defaultVal when unset
func getEnv(key string, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
