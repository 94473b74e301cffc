// Package config assembles the evolution driver's configuration: pflag
// registration, viper-backed file loading with live reload for the driver's
// own tunables, and validation, following the teacher's
// Options/Config/Complete/Validate pipeline.
package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/kiosk404/npcmaker/pkg/jsonutil"
	"github.com/kiosk404/npcmaker/pkg/logger"
)

// Config is the running configuration of the evolution driver.
type Config struct {
	*Options
}

// CreateConfigFromOptions wraps a completed, validated Options as the
// running Config.
func CreateConfigFromOptions(o *Options) (*Config, error) {
	return &Config{Options: o}, nil
}

// String renders the config as JSON, for startup logging.
func (o *Options) String() string {
	data, err := jsonutil.Marshal(o)
	if err != nil {
		return fmt.Sprintf("<unmarshalable options: %v>", err)
	}
	return string(data)
}

// HeartbeatTimeout parses Driver.HeartbeatTimeout.
func (c *Config) HeartbeatTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Driver.HeartbeatTimeout)
}

// PollInterval parses Driver.PollInterval.
func (c *Config) PollInterval() (time.Duration, error) {
	return time.ParseDuration(c.Driver.PollInterval)
}

// LoadFile merges a YAML/JSON/TOML config file (whichever extension path
// carries) into v via viper, then watches it for changes, invoking onChange
// with the reloaded Options whenever the file is rewritten on disk and the
// reloaded Options pass Validate (a reload that fails to decode or validate
// is logged and onChange is not called). onChange may be nil, in which case
// the file is not watched.
func LoadFile(v *viper.Viper, path string, onChange func(*Options)) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	if onChange != nil {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			reloaded := NewOptions()
			if err := v.Unmarshal(reloaded); err != nil {
				logger.Error("config: reload of %s failed: %v", e.Name, err)
				return
			}
			if errs := reloaded.Validate(); len(errs) > 0 {
				logger.Error("config: reloaded %s failed validation: %v", e.Name, errs)
				return
			}
			logger.Info("config: reloaded %s", e.Name)
			onChange(reloaded)
		})
	}

	return nil
}
