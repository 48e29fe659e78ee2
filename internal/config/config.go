package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/socmon/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultInterval   = 1
	DefaultAvgWindow  = 30
	DefaultColor      = 2
	DefaultMaxRetries = 5
	DefaultLogLevel   = "info"
	DefaultEnvPrefix  = "SOCMON"

	MaxColor = 8

	configName = "socmon"
	configType = "toml"
)

// ErrHelp is returned by Load when -h or --help was requested.
var ErrHelp = pflag.ErrHelp

type Config struct {
	Interval     int    `mapstructure:"interval"`
	AvgWindow    int    `mapstructure:"avg"`
	Color        int    `mapstructure:"color"`
	ShowCores    bool   `mapstructure:"show_cores"`
	MaxCount     int    `mapstructure:"max_count"`
	MaxRetries   int    `mapstructure:"max_retries"`
	LogLevel     string `mapstructure:"log_level"`
	LogFile      string `mapstructure:"log_file"`
	Powermetrics string `mapstructure:"powermetrics"`
	NoSudo       bool   `mapstructure:"no_sudo"`
	Headless     bool   `mapstructure:"headless"`

	// Version is set when --version was passed; nothing else is loaded.
	Version bool `mapstructure:"-"`
	// ConfigFile is the file that was read, if any.
	ConfigFile string `mapstructure:"-"`
}

// flag name -> viper key
var flagKeys = map[string]string{
	"interval":     "interval",
	"avg":          "avg",
	"color":        "color",
	"show-cores":   "show_cores",
	"max-count":    "max_count",
	"max-retries":  "max_retries",
	"log-level":    "log_level",
	"log-file":     "log_file",
	"powermetrics": "powermetrics",
	"no-sudo":      "no_sudo",
	"headless":     "headless",
}

// FlagSet returns the command line flags.
func FlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("socmon", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	fs.Int("interval", DefaultInterval, "Sampling interval in seconds")
	fs.Int("avg", DefaultAvgWindow, "Rolling average window in seconds")
	fs.Int("color", DefaultColor, "Display color (0-8)")
	fs.Bool("show-cores", false, "Show per-core utilization")
	fs.Int("max-count", 0, "Restart powermetrics after this many samples (0 = never)")
	fs.Int("max-retries", DefaultMaxRetries, "Consecutive powermetrics failures tolerated")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("log-file", defaultLogFile(), "Log file used while the dashboard is shown")
	fs.String("powermetrics", "", "Path to the powermetrics binary")
	fs.Bool("no-sudo", false, "Run powermetrics without sudo")
	fs.Bool("headless", false, "Log snapshots instead of drawing the dashboard")
	fs.String("config", "", "Configuration file")
	fs.Bool("version", false, "Print version and exit")

	return fs
}

// Usage writes the flag help to w.
func Usage(w io.Writer) {
	fs := FlagSet()
	fmt.Fprintf(w, "Usage: socmon [flags]\n\n%s", fs.FlagUsages())
}

// Load parses args, then merges the config file and SOCMON_* environment
// beneath them, and validates the result. Precedence is flags, then
// environment, then file, then defaults.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	fs := FlagSet()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, ErrHelp
		}
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if version, _ := fs.GetBool("version"); version {
		return &Config{Version: true}, nil
	}

	v := viper.New()
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	configFile, err := readConfigFile(v, fs, o)
	if err != nil {
		return nil, err
	}

	cfg := &Config{ConfigFile: configFile}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// readConfigFile loads the first configuration file found. An explicit
// path (flag, option or <prefix>_CONFIG) must exist; the search path is
// optional.
func readConfigFile(v *viper.Viper, fs *pflag.FlagSet, o options) (string, error) {
	errFactory := errors.New()

	path, _ := fs.GetString("config")
	if path == "" {
		path = o.configPath
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		dirs := o.searchDirs
		if dirs == nil {
			dirs = searchDirs()
		}
		for _, dir := range dirs {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return "", nil
		}
		return "", errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return v.ConfigFileUsed(), nil
}

func searchDirs() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, configName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", configName))
	}
	return append(dirs, "/etc")
}

func defaultLogFile() string {
	return filepath.Join(os.TempDir(), "socmon.log")
}

// Validate checks the command line contract.
func (c *Config) Validate() error {
	errFactory := errors.New()

	switch {
	case c.Interval <= 0:
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	case c.AvgWindow < c.Interval:
		return errFactory.WithData(errors.ErrInvalidWindow,
			fmt.Sprintf("avg %ds is shorter than interval %ds", c.AvgWindow, c.Interval))
	case c.Color < 0 || c.Color > MaxColor:
		return errFactory.WithData(errors.ErrInvalidColor, c.Color)
	case c.MaxCount < 0:
		return errFactory.WithData(errors.ErrInvalidMaxCount, c.MaxCount)
	case c.MaxRetries < 0:
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("max-retries %d", c.MaxRetries))
	case !LogLevel(strings.ToLower(c.LogLevel)).IsValid():
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

// IntervalDuration is the sampling interval.
func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// AvgDuration is the rolling average window.
func (c *Config) AvgDuration() time.Duration {
	return time.Duration(c.AvgWindow) * time.Second
}
