package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultWatchMode              = "notify"
	DefaultPollInterval           = 250 * time.Millisecond
	DefaultCoalesceInterval       = 200 * time.Millisecond
	DefaultInactivityTimeout      = 60 * time.Second
	DefaultRememberedFiles        = 1024
	DefaultRulesPath              = "rules.json"
	DefaultEmbyServer             = "http://127.0.0.1:8096"
	DefaultEmbyTimeout            = 15 * time.Second
	DefaultRefreshMode            = "FullRefresh"
	DefaultImageRefreshMode       = "Default"
	DefaultDispatcherWorkers      = 4
	DefaultDispatcherQueueSize    = 256
	DefaultDispatcherMaxAttempts  = 3
	DefaultDispatcherBackoff      = time.Second
	DefaultDispatcherMaxBackoff   = 30 * time.Second
	DefaultDispatcherGrace        = 10 * time.Second
	DefaultRateLimitMaxEntries    = 10000
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "json"
	DefaultConfigName             = "config"
	DefaultEnvPrefix              = "EMBY_WATCHDOG"
	DefaultWatchExcludedSubstring = "graph.txt"
)

var DefaultExtensions = []string{".log", ".txt"}

type WatchConfig struct {
	Dir               string
	Extensions        []string
	Excludes          []string
	Mode              string
	PollInterval      time.Duration
	Coalesce          time.Duration
	InactivityTimeout time.Duration
	FromBeginning     bool
	RememberedFiles   int
}

type RulesConfig struct {
	Path  string
	Watch bool
}

type EmbyConfig struct {
	Server             string
	APIKey             string
	Timeout            time.Duration
	RefreshMode        string
	ImageRefreshMode   string
	ReplaceAllMetadata bool
	ReplaceAllImages   bool
}

type DispatcherConfig struct {
	Workers              int
	QueueSize            int
	MaxAttempts          int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	MaxRequestsPerSecond float64
	ShutdownGrace        time.Duration
}

type RateLimitConfig struct {
	MaxEntries int
}

type MetricsConfig struct {
	Address string
}

type LogConfig struct {
	Level  string
	Format string
}

type Config struct {
	Watch      WatchConfig
	Rules      RulesConfig
	Emby       EmbyConfig
	Dispatcher DispatcherConfig
	RateLimit  RateLimitConfig
	Metrics    MetricsConfig
	Log        LogConfig
}

func setDefaults() {

	viper.SetDefault("watch.extensions", DefaultExtensions)
	viper.SetDefault("watch.excludes", []string{DefaultWatchExcludedSubstring})
	viper.SetDefault("watch.mode", DefaultWatchMode)
	viper.SetDefault("watch.poll_interval", DefaultPollInterval)
	viper.SetDefault("watch.coalesce", DefaultCoalesceInterval)
	viper.SetDefault("watch.inactivity_timeout", DefaultInactivityTimeout)
	viper.SetDefault("watch.from_beginning", false)
	viper.SetDefault("watch.remembered_files", DefaultRememberedFiles)

	viper.SetDefault("rules.path", DefaultRulesPath)
	viper.SetDefault("rules.watch", true)

	viper.SetDefault("emby.server", DefaultEmbyServer)
	viper.SetDefault("emby.api_key", "")
	viper.SetDefault("emby.timeout", DefaultEmbyTimeout)
	viper.SetDefault("emby.refresh_mode", DefaultRefreshMode)
	viper.SetDefault("emby.image_refresh_mode", DefaultImageRefreshMode)
	viper.SetDefault("emby.replace_all_metadata", true)
	viper.SetDefault("emby.replace_all_images", false)

	viper.SetDefault("dispatcher.workers", DefaultDispatcherWorkers)
	viper.SetDefault("dispatcher.queue_size", DefaultDispatcherQueueSize)
	viper.SetDefault("dispatcher.max_attempts", DefaultDispatcherMaxAttempts)
	viper.SetDefault("dispatcher.initial_backoff", DefaultDispatcherBackoff)
	viper.SetDefault("dispatcher.max_backoff", DefaultDispatcherMaxBackoff)
	viper.SetDefault("dispatcher.max_requests_per_second", 0)
	viper.SetDefault("dispatcher.shutdown_grace", DefaultDispatcherGrace)

	viper.SetDefault("ratelimit.max_entries", DefaultRateLimitMaxEntries)

	viper.SetDefault("metrics.address", "")

	viper.SetDefault("log.level", DefaultLogLevel)
	viper.SetDefault("log.format", DefaultLogFormat)
}

// GetConfig reads the environment and the optional config file. An explicit
// file path takes precedence over the search paths.
func GetConfig(configFile string) (*Config, error) {

	// From the environment
	viper.SetEnvPrefix(DefaultEnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// From config file
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(DefaultConfigName)
		viper.AddConfigPath("./")
		viper.AddConfigPath("./configs")
	}

	if err := viper.ReadInConfig(); err != nil {
		if configFile != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}

		fmt.Println("No configuration file was loaded")
	}

	return Load(), nil
}

// Load builds a Config from the current viper state.
func Load() *Config {

	setDefaults()

	return &Config{
		Watch: WatchConfig{
			Dir:               viper.GetString("watch.dir"),
			Extensions:        viper.GetStringSlice("watch.extensions"),
			Excludes:          viper.GetStringSlice("watch.excludes"),
			Mode:              viper.GetString("watch.mode"),
			PollInterval:      viper.GetDuration("watch.poll_interval"),
			Coalesce:          viper.GetDuration("watch.coalesce"),
			InactivityTimeout: viper.GetDuration("watch.inactivity_timeout"),
			FromBeginning:     viper.GetBool("watch.from_beginning"),
			RememberedFiles:   viper.GetInt("watch.remembered_files"),
		},
		Rules: RulesConfig{
			Path:  viper.GetString("rules.path"),
			Watch: viper.GetBool("rules.watch"),
		},
		Emby: EmbyConfig{
			Server:             viper.GetString("emby.server"),
			APIKey:             viper.GetString("emby.api_key"),
			Timeout:            viper.GetDuration("emby.timeout"),
			RefreshMode:        viper.GetString("emby.refresh_mode"),
			ImageRefreshMode:   viper.GetString("emby.image_refresh_mode"),
			ReplaceAllMetadata: viper.GetBool("emby.replace_all_metadata"),
			ReplaceAllImages:   viper.GetBool("emby.replace_all_images"),
		},
		Dispatcher: DispatcherConfig{
			Workers:              viper.GetInt("dispatcher.workers"),
			QueueSize:            viper.GetInt("dispatcher.queue_size"),
			MaxAttempts:          viper.GetInt("dispatcher.max_attempts"),
			InitialBackoff:       viper.GetDuration("dispatcher.initial_backoff"),
			MaxBackoff:           viper.GetDuration("dispatcher.max_backoff"),
			MaxRequestsPerSecond: viper.GetFloat64("dispatcher.max_requests_per_second"),
			ShutdownGrace:        viper.GetDuration("dispatcher.shutdown_grace"),
		},
		RateLimit: RateLimitConfig{
			MaxEntries: viper.GetInt("ratelimit.max_entries"),
		},
		Metrics: MetricsConfig{
			Address: viper.GetString("metrics.address"),
		},
		Log: LogConfig{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
		},
	}
}

// SetConfigs applies values that were not configured elsewhere, such as
// command line flags with their zero value skipped by the caller.
func (config *Config) SetConfigs(configs map[string]interface{}) {

	for k, v := range configs {
		viper.Set(k, v)
	}

	*config = *Load()
}

func (config *Config) Validate() error {

	if config.Watch.Dir == "" {
		return fmt.Errorf("watch.dir is required")
	}

	if len(config.Watch.Extensions) == 0 {
		return fmt.Errorf("watch.extensions must not be empty")
	}

	switch config.Watch.Mode {
	case "notify", "poll":
	default:
		return fmt.Errorf("unknown watch.mode %q", config.Watch.Mode)
	}

	if config.Emby.Server == "" {
		return fmt.Errorf("emby.server is required")
	}

	if config.Dispatcher.MaxAttempts < 1 {
		return fmt.Errorf("dispatcher.max_attempts must be at least 1")
	}

	return nil
}
