// Package config loads server configuration from an optional YAML file and
// GLITCHCUBE_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Agent  AgentConfig  `mapstructure:"agent"`
	Goal   GoalConfig   `mapstructure:"goal"`
	Reaper ReaperConfig `mapstructure:"reaper"`
	Jobs   JobsConfig   `mapstructure:"jobs"`
	Store  StoreConfig  `mapstructure:"store"`
}

// ServerConfig covers the HTTP listener and the dispatch worker pool.
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	WorkerPool  int    `mapstructure:"worker_pool"`
	EnableCORS  bool   `mapstructure:"enable_cors"`
	DebugRoutes bool   `mapstructure:"debug_routes"`
}

// AgentConfig covers the external automation agent connection.
type AgentConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	AgentID string        `mapstructure:"agent_id"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// GoalConfig covers goal lifecycle timing and completion detection.
type GoalConfig struct {
	NormalDuration   time.Duration `mapstructure:"normal_duration"`
	QuestDuration    time.Duration `mapstructure:"quest_duration"`
	DetectorWindow   time.Duration `mapstructure:"detector_window"`
	DetectorEntryCap int           `mapstructure:"detector_entry_cap"`
	Dir              string        `mapstructure:"dir"`
}

// ReaperConfig covers idle conversation cleanup.
type ReaperConfig struct {
	IdleThreshold time.Duration `mapstructure:"idle_threshold"`
}

// JobsConfig holds cron expressions for the background jobs.
type JobsConfig struct {
	GoalCheckSchedule string `mapstructure:"goal_check_schedule"`
	DetectorSchedule  string `mapstructure:"detector_schedule"`
	ReaperSchedule    string `mapstructure:"reaper_schedule"`
}

// StoreConfig covers conversation persistence. An empty Dir selects the
// in-memory store.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4567)
	v.SetDefault("server.worker_pool", 8)
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("server.debug_routes", false)

	v.SetDefault("agent.base_url", "http://homeassistant.local:8123")
	v.SetDefault("agent.agent_id", "conversation.home_assistant")
	v.SetDefault("agent.timeout", 30*time.Second)

	v.SetDefault("goal.normal_duration", 30*time.Minute)
	v.SetDefault("goal.quest_duration", 2*time.Hour)
	v.SetDefault("goal.detector_window", 10*time.Minute)
	v.SetDefault("goal.detector_entry_cap", 10)
	v.SetDefault("goal.dir", "")

	v.SetDefault("reaper.idle_threshold", 5*time.Minute)

	v.SetDefault("jobs.goal_check_schedule", "@every 1m")
	v.SetDefault("jobs.detector_schedule", "@every 30s")
	v.SetDefault("jobs.reaper_schedule", "@every 1m")

	v.SetDefault("store.dir", "")
}

// Load reads configuration from path (optional, YAML) with environment
// overrides like GLITCHCUBE_AGENT_BASE_URL taking precedence over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GLITCHCUBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.WorkerPool <= 0 {
		return fmt.Errorf("worker pool must be positive, got %d", c.Server.WorkerPool)
	}
	if c.Agent.BaseURL == "" {
		return fmt.Errorf("agent base_url is required")
	}
	if c.Goal.NormalDuration <= 0 || c.Goal.QuestDuration <= 0 {
		return fmt.Errorf("goal durations must be positive")
	}
	if c.Goal.DetectorEntryCap <= 0 {
		return fmt.Errorf("detector entry cap must be positive")
	}
	if c.Reaper.IdleThreshold <= 0 {
		return fmt.Errorf("reaper idle threshold must be positive")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
