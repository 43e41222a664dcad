package bridge

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gwm-community/vehicle-cloud/pkg/cli"
)

// MinPollInterval is the floor for the status poll interval. The vendor cloud throttles
// aggressive pollers, so shorter configured intervals are raised to this value.
const MinPollInterval = 30 * time.Second

// Config holds all daemon configuration.
type Config struct {
	Vehicle VehicleConfig `yaml:"vehicle"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Poll    PollConfig    `yaml:"poll"`
	Log     LogConfig     `yaml:"log"`
}

// VehicleConfig holds cloud account and vehicle parameters.
type VehicleConfig struct {
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	VIN        string `yaml:"vin"`
	PIN        string `yaml:"pin"`
	CertDir    string `yaml:"cert_dir"`
	StorageDir string `yaml:"storage_dir"`
}

// MQTTConfig holds MQTT broker configuration.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	DeviceName  string `yaml:"device_name"`

	// Defaults applied when Home Assistant turns the climate switch on.
	ClimateTemperature int `yaml:"climate_temperature"`
	ClimateMinutes     int `yaml:"climate_minutes"`
}

// PollConfig holds status polling configuration.
type PollConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Interval returns the effective poll interval, never below MinPollInterval.
func (p PollConfig) Interval() time.Duration {
	interval := time.Duration(p.IntervalSeconds) * time.Second
	if interval < MinPollInterval {
		return MinPollInterval
	}
	return interval
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		MQTT: MQTTConfig{
			TopicPrefix:        "gwm",
			DeviceName:         "GWM Vehicle",
			ClimateTemperature: 22,
			ClimateMinutes:     15,
		},
		Poll: PollConfig{
			IntervalSeconds: 60,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file at path, then overlays environment variables.
// If path is empty, only defaults + env vars are used.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
			// file not found is ok, use defaults
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	cfg.MQTT.ClimateTemperature = cli.ClampTemperature(cfg.MQTT.ClimateTemperature)
	return cfg, nil
}

// applyEnv overlays environment variables on top of the config.
// Env vars take precedence over YAML values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("GWM_USERNAME"); v != "" {
		cfg.Vehicle.Username = v
	}
	if v := os.Getenv("GWM_PASSWORD"); v != "" {
		cfg.Vehicle.Password = v
	}
	if v := os.Getenv("GWM_VIN"); v != "" {
		cfg.Vehicle.VIN = v
	}
	if v := os.Getenv("GWM_PIN"); v != "" {
		cfg.Vehicle.PIN = v
	}
	if v := os.Getenv("GWM_CERT_DIR"); v != "" {
		cfg.Vehicle.CertDir = v
	}
	if v := os.Getenv("GWM_STORAGE_DIR"); v != "" {
		cfg.Vehicle.StorageDir = v
	}
	if v := os.Getenv("GWM_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = parseBool(v)
	}
	if v := os.Getenv("GWM_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("GWM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("GWM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("GWM_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("GWM_MQTT_DEVICE_NAME"); v != "" {
		cfg.MQTT.DeviceName = v
	}
	if v := os.Getenv("GWM_POLL_INTERVAL"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			cfg.Poll.IntervalSeconds = seconds
		}
	}
	if v := os.Getenv("GWM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	b, _ := strconv.ParseBool(s)
	return b
}
