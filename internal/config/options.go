package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/kiosk404/npcmaker/internal/envspec"
	"github.com/kiosk404/npcmaker/internal/population"
	"github.com/kiosk404/npcmaker/pkg/cliflag"
)

// DriverOptions controls the evolution driver's main loop: how long an
// environment may go without a heartbeat before it is considered stalled,
// and how often the driver sends a heartbeat and checks for a stall.
type DriverOptions struct {
	HeartbeatTimeout string   `json:"heartbeat-timeout" mapstructure:"heartbeat-timeout"`
	PollInterval     string   `json:"poll-interval" mapstructure:"poll-interval"`
	ControllerPath   string   `json:"controller" mapstructure:"controller"`
	SpecPath         string   `json:"spec" mapstructure:"spec"`
	Settings         []string `json:"setting" mapstructure:"setting"`
}

// NewDriverOptions returns DriverOptions populated with their defaults.
func NewDriverOptions() *DriverOptions {
	return &DriverOptions{
		HeartbeatTimeout: "30s",
		PollInterval:     "100ms",
	}
}

func (o *DriverOptions) Validate() []error {
	var errs []error
	if o.SpecPath == "" {
		errs = append(errs, fmt.Errorf("driver.spec is required"))
	}
	if o.ControllerPath == "" {
		errs = append(errs, fmt.Errorf("driver.controller is required"))
	}
	return errs
}

func (o *DriverOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.HeartbeatTimeout, "driver.heartbeat-timeout", o.HeartbeatTimeout, "Maximum time an environment may go without a heartbeat before it is considered stalled.")
	fs.StringVar(&o.PollInterval, "driver.poll-interval", o.PollInterval, "How often the driver sends the environment a heartbeat and checks it for a stall.")
	fs.StringVar(&o.ControllerPath, "driver.controller", o.ControllerPath, "Path to the controller executable.")
	fs.StringVar(&o.SpecPath, "driver.spec", o.SpecPath, "Path to the environment spec file.")
	fs.StringSliceVar(&o.Settings, "driver.setting", o.Settings, "Environment setting override as name=value. Repeatable; settings the spec declares but this flag omits use the spec's own default.")
}

// PopulationOptions controls where individuals are stored and how the
// population manager makes room for new ones.
type PopulationOptions struct {
	Dir             string `json:"dir" mapstructure:"dir"`
	Size            int    `json:"size" mapstructure:"size"`
	LeaderboardSize int    `json:"leaderboard-size" mapstructure:"leaderboard-size"`
	HallOfFameSize  int    `json:"hall-of-fame-size" mapstructure:"hall-of-fame-size"`
	Replacement     string `json:"replacement" mapstructure:"replacement"`
	IndexPath       string `json:"index" mapstructure:"index"`
}

// NewPopulationOptions returns PopulationOptions populated with their
// defaults.
func NewPopulationOptions() *PopulationOptions {
	return &PopulationOptions{
		Dir:             "population",
		Size:            100,
		LeaderboardSize: 10,
		HallOfFameSize:  10,
		Replacement:     "Oldest",
	}
}

func (o *PopulationOptions) Validate() []error {
	var errs []error
	if o.Dir == "" {
		errs = append(errs, fmt.Errorf("population.dir is required"))
	}
	if o.Size <= 0 {
		errs = append(errs, fmt.Errorf("population.size must be positive, got %d", o.Size))
	}
	if _, err := ParseReplacement(o.Replacement); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (o *PopulationOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Dir, "population.dir", o.Dir, "Directory holding the population's members, waiting, leaderboard, and hall_of_fame subdirectories.")
	fs.IntVar(&o.Size, "population.size", o.Size, "Target population size.")
	fs.IntVar(&o.LeaderboardSize, "population.leaderboard-size", o.LeaderboardSize, "Number of individuals kept on the leaderboard.")
	fs.IntVar(&o.HallOfFameSize, "population.hall-of-fame-size", o.HallOfFameSize, "Number of individuals inducted into the hall of fame per rollover.")
	fs.StringVar(&o.Replacement, "population.replacement", o.Replacement, "Replacement policy: Unbounded, Random, Oldest, Worst, or Generation.")
	fs.StringVar(&o.IndexPath, "population.index", o.IndexPath, "Optional path to a BoltDB-backed lookup index; empty disables it and falls back to a linear directory scan.")
}

// ParseSettings converts --driver.setting's repeated "name=value" flags
// into the SettingValue overrides environment.Spawn passes to envspec.Args.
func ParseSettings(raw []string) ([]envspec.SettingValue, error) {
	out := make([]envspec.SettingValue, 0, len(raw))
	for _, s := range raw {
		name, value, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("driver.setting %q must be of the form name=value", s)
		}
		out = append(out, envspec.SettingValue{Name: name, Value: value})
	}
	return out, nil
}

// ParseReplacement parses a replacement policy name as accepted by
// PopulationOptions.Replacement, case-insensitively.
func ParseReplacement(name string) (population.Replacement, error) {
	switch strings.ToLower(name) {
	case "unbounded":
		return population.Unbounded, nil
	case "random":
		return population.Random, nil
	case "oldest":
		return population.Oldest, nil
	case "worst":
		return population.Worst, nil
	case "generation":
		return population.Generation, nil
	default:
		return 0, fmt.Errorf("unknown replacement policy %q", name)
	}
}

// DashboardOptions controls the optional read-only HTTP status dashboard.
type DashboardOptions struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// NewDashboardOptions returns DashboardOptions populated with their
// defaults.
func NewDashboardOptions() *DashboardOptions {
	return &DashboardOptions{
		Enabled: false,
		Address: "127.0.0.1:9401",
	}
}

func (o *DashboardOptions) Validate() []error {
	var errs []error
	if o.Enabled && o.Address == "" {
		errs = append(errs, fmt.Errorf("dashboard.address is required when the dashboard is enabled"))
	}
	return errs
}

func (o *DashboardOptions) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Enabled, "dashboard.enabled", o.Enabled, "Serve a read-only HTTP status dashboard.")
	fs.StringVar(&o.Address, "dashboard.address", o.Address, "Address the status dashboard listens on.")
}

// LogOptions controls the logger's output.
type LogOptions struct {
	Level string `json:"level" mapstructure:"level"`
	Path  string `json:"path" mapstructure:"path"`
}

// NewLogOptions returns LogOptions populated with their defaults.
func NewLogOptions() *LogOptions {
	return &LogOptions{Level: "info"}
}

func (o *LogOptions) Validate() []error {
	var errs []error
	switch strings.ToLower(o.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", o.Level))
	}
	return errs
}

func (o *LogOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Level, "log.level", o.Level, "Log level: debug, info, warn, error, fatal, or panic.")
	fs.StringVar(&o.Path, "log.path", o.Path, "Optional file path to also write logs to.")
}

// Options is the full command-line/config-file surface for npcctl's run
// subcommand, composed of one sub-options struct per concern.
type Options struct {
	Driver     *DriverOptions     `json:"driver" mapstructure:"driver"`
	Population *PopulationOptions `json:"population" mapstructure:"population"`
	Dashboard  *DashboardOptions  `json:"dashboard" mapstructure:"dashboard"`
	Log        *LogOptions        `json:"log" mapstructure:"log"`
}

// NewOptions returns Options populated with every sub-option's defaults.
func NewOptions() *Options {
	return &Options{
		Driver:     NewDriverOptions(),
		Population: NewPopulationOptions(),
		Dashboard:  NewDashboardOptions(),
		Log:        NewLogOptions(),
	}
}

// Flags registers every sub-option's flags under its own named group.
func (o *Options) Flags() (fss cliflag.NamedFlagSets) {
	o.Driver.AddFlags(fss.FlagSet("driver"))
	o.Population.AddFlags(fss.FlagSet("population"))
	o.Dashboard.AddFlags(fss.FlagSet("dashboard"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

// Complete fills in any defaults Options still needs after flags and config
// file have both been applied. Currently a no-op: every field already has a
// usable zero-cost default from NewOptions.
func (o *Options) Complete() error {
	return nil
}

// Validate collects every sub-option's validation errors.
func (o *Options) Validate() []error {
	var errs []error
	errs = append(errs, o.Driver.Validate()...)
	errs = append(errs, o.Population.Validate()...)
	errs = append(errs, o.Dashboard.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return errs
}
