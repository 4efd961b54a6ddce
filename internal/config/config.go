package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
	Quiz struct {
		TTL               string `yaml:"ttl"`
		QuestionSet       string `yaml:"question_set"`
		QuestionTimeLimit int    `yaml:"question_time_limit"`
		HeartbeatInterval string `yaml:"heartbeat_interval"`
		StaleAfter        string `yaml:"stale_after"`
		RankBonuses       []int  `yaml:"rank_bonuses"`
		LeaderboardSize   int    `yaml:"leaderboard_size"`
		// Admins are granted control rights at startup.
		Admins []string `yaml:"admins"`
	} `yaml:"quiz"`
}

// Load reads .env, then the YAML config at path, then environment overrides.
// A missing file is not an error so deployments can configure through env only.
func Load(path string) (Config, error) {
	cfg := Config{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	strs := map[string]*string{
		"PORT":         &c.Server.Port,
		"POSTGRES_URL": &c.Postgres.URL,
		"REDIS_ADDR":   &c.Redis.Addr,
		"NATS_URL":     &c.NATS.URL,
		"LOG_LEVEL":    &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("LOG_PRETTY"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Log.Pretty = b
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "quiz:events"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "quiz.events"
	}
	if c.Quiz.QuestionSet == "" {
		c.Quiz.QuestionSet = "default"
	}
	if c.Quiz.QuestionTimeLimit <= 0 {
		c.Quiz.QuestionTimeLimit = 15
	}
	if c.Quiz.LeaderboardSize <= 0 {
		c.Quiz.LeaderboardSize = 10
	}
}

// HeartbeatInterval is how often clients are expected to ping presence.
func (c Config) HeartbeatInterval() time.Duration {
	return TTLDuration(c.Quiz.HeartbeatInterval, 30*time.Second)
}

// StaleAfter defaults to two missed heartbeats.
func (c Config) StaleAfter() time.Duration {
	return TTLDuration(c.Quiz.StaleAfter, 2*c.HeartbeatInterval())
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
